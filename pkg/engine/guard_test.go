package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGuard_PreAction_HealthySession(t *testing.T) {
	backend := newMockBackend()
	guard := NewGuard(backend, zerolog.Nop(), nil)

	if err := guard.PreAction(context.Background()); err != nil {
		t.Fatalf("PreAction: %v", err)
	}
	if backend.callCount("refresh") != 0 {
		t.Error("Expected no refresh on a healthy session")
	}
}

func TestGuard_PreAction_ExpiredSession(t *testing.T) {
	backend := newMockBackend()
	backend.authIssue = &AuthIssue{Code: "TOKEN_EXPIRED", Message: "session token expired"}
	guard := NewGuard(backend, zerolog.Nop(), nil)

	err := guard.PreAction(context.Background())
	if !IsAuthExpired(err) {
		t.Fatalf("Expected auth_expired, got %v", err)
	}
	if backend.callCount("refresh") != 1 {
		t.Errorf("Expected exactly 1 refresh attempt, got %d", backend.callCount("refresh"))
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if engineErr.Details["issue_code"] != "TOKEN_EXPIRED" {
		t.Errorf("Expected issue code detail, got %v", engineErr.Details)
	}
}

func TestGuard_PreAction_RefreshRecovers(t *testing.T) {
	backend := newMockBackend()
	backend.authIssue = &AuthIssue{Code: "TOKEN_EXPIRED", Message: "session token expired"}
	backend.refreshOK = true
	backend.clearIssue = true
	guard := NewGuard(backend, zerolog.Nop(), nil)

	if err := guard.PreAction(context.Background()); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
}

func TestGuard_PreAction_RefreshErrorStillExpires(t *testing.T) {
	backend := newMockBackend()
	backend.authIssue = &AuthIssue{Code: "TOKEN_EXPIRED", Message: "session token expired"}
	backend.refreshErr = errors.New("credentials file unreadable")
	guard := NewGuard(backend, zerolog.Nop(), nil)

	err := guard.PreAction(context.Background())
	if !IsAuthExpired(err) {
		t.Fatalf("Expected auth_expired, got %v", err)
	}
}

func TestGuard_PreAction_ProactiveRefresh(t *testing.T) {
	backend := newMockBackend()
	backend.refreshOK = true
	guard := NewGuard(backend, zerolog.Nop(), nil)

	guard.NotifyCredentialChange()

	if err := guard.PreAction(context.Background()); err != nil {
		t.Fatalf("PreAction: %v", err)
	}
	if backend.callCount("refresh") != 1 {
		t.Errorf("Expected proactive refresh, got %d calls", backend.callCount("refresh"))
	}

	// The change notification is consumed; the next pre-action is quiet
	if err := guard.PreAction(context.Background()); err != nil {
		t.Fatalf("PreAction: %v", err)
	}
	if backend.callCount("refresh") != 1 {
		t.Errorf("Expected notification consumed after one refresh, got %d calls", backend.callCount("refresh"))
	}
}

func TestGuard_StopFlag(t *testing.T) {
	guard := NewGuard(newMockBackend(), zerolog.Nop(), nil)

	if guard.StopRequested() {
		t.Error("Expected clean stop flag initially")
	}
	guard.RequestStop()
	if !guard.StopRequested() {
		t.Error("Expected stop flag set")
	}
	guard.resetStop()
	if guard.StopRequested() {
		t.Error("Expected stop flag cleared")
	}
}

func TestCredentialWatcher_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(credsPath, []byte(`{"token":"old"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	guard := NewGuard(newMockBackend(), zerolog.Nop(), nil)
	watcher, err := NewCredentialWatcher(credsPath, guard, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCredentialWatcher: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(credsPath, []byte(`{"token":"new"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// The notification is asynchronous; poll for it
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if guard.credsChanged.Load() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Expected credential change notification")
}

func TestCredentialWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(credsPath, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	guard := NewGuard(newMockBackend(), zerolog.Nop(), nil)
	watcher, err := NewCredentialWatcher(credsPath, guard, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCredentialWatcher: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if guard.credsChanged.Load() {
		t.Error("Expected no notification for sibling file changes")
	}
}

func TestCredentialWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(credsPath, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	guard := NewGuard(newMockBackend(), zerolog.Nop(), nil)
	watcher, err := NewCredentialWatcher(credsPath, guard, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCredentialWatcher: %v", err)
	}

	if err := watcher.Close(); err != nil {
		t.Errorf("First close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Errorf("Second close: %v", err)
	}
}
