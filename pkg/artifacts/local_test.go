package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/engine"
)

func newTestLocalSink(t *testing.T) *LocalSink {
	t.Helper()

	sink, err := NewLocalSink(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create local sink: %v", err)
	}
	return sink
}

func TestNewLocalSinkRequiresBaseDir(t *testing.T) {
	_, err := NewLocalSink("", zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for empty base directory, got nil")
	}

	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Errorf("expected *SinkError, got %T", err)
	}
}

func TestLocalSinkStoreBytes(t *testing.T) {
	sink := newTestLocalSink(t)
	data := []byte(`{"run_id":"run-1","overall_success":true}`)

	art, err := sink.StoreBytes(context.Background(), "run-1/result.json", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if art.Name != "run-1/result.json" {
		t.Errorf("expected name 'run-1/result.json', got '%s'", art.Name)
	}

	wantDest := filepath.Join(sink.BaseDir(), "run-1", "result.json")
	if art.Location != wantDest {
		t.Errorf("expected location '%s', got '%s'", wantDest, art.Location)
	}

	if art.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), art.Size)
	}

	sum := sha256.Sum256(data)
	if want := hex.EncodeToString(sum[:]); art.Checksum != want {
		t.Errorf("expected checksum %s, got %s", want, art.Checksum)
	}

	if art.StoredAt.IsZero() {
		t.Error("expected stored timestamp to be set")
	}

	stored, err := os.ReadFile(wantDest)
	if err != nil {
		t.Fatalf("failed to read stored artifact: %v", err)
	}
	if string(stored) != string(data) {
		t.Errorf("stored content mismatch: got %q", stored)
	}
}

func TestLocalSinkStoreFile(t *testing.T) {
	sink := newTestLocalSink(t)

	srcPath := filepath.Join(t.TempDir(), "shot.png")
	content := []byte("fake png bytes")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	art, err := sink.StoreFile(context.Background(), srcPath, "run-2/failure-001.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if art.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), art.Size)
	}

	stored, err := os.ReadFile(filepath.Join(sink.BaseDir(), "run-2", "failure-001.png"))
	if err != nil {
		t.Fatalf("failed to read stored artifact: %v", err)
	}
	if string(stored) != string(content) {
		t.Errorf("stored content mismatch: got %q", stored)
	}
}

func TestLocalSinkStoreFileMissingSource(t *testing.T) {
	sink := newTestLocalSink(t)

	_, err := sink.StoreFile(context.Background(), "/nonexistent/shot.png", "run-2/shot.png")
	if err == nil {
		t.Fatal("expected error for missing source file, got nil")
	}
}

func TestLocalSinkStoreFileInPlace(t *testing.T) {
	sink := newTestLocalSink(t)

	// Stage the file inside the sink directory, as the engine does when the
	// staging directory and the local sink share a path.
	staged := filepath.Join(sink.BaseDir(), "run-3", "shot.png")
	content := []byte("staged screenshot")
	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		t.Fatalf("failed to create staging directory: %v", err)
	}
	if err := os.WriteFile(staged, content, 0644); err != nil {
		t.Fatalf("failed to write staged file: %v", err)
	}

	art, err := sink.StoreFile(context.Background(), staged, "run-3/shot.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if art.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), art.Size)
	}

	after, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("failed to read staged file: %v", err)
	}
	if string(after) != string(content) {
		t.Errorf("staged file was modified: got %q", after)
	}

	sum := sha256.Sum256(content)
	if want := hex.EncodeToString(sum[:]); art.Checksum != want {
		t.Errorf("expected checksum %s, got %s", want, art.Checksum)
	}
}

func TestLocalSinkRejectsEscapingNames(t *testing.T) {
	sink := newTestLocalSink(t)

	names := []string{
		"",
		".",
		"..",
		"../evil.png",
		"/etc/passwd",
		"run/../../evil.png",
	}

	for _, name := range names {
		_, err := sink.StoreBytes(context.Background(), name, []byte("x"))
		if err == nil {
			t.Errorf("expected error for name %q, got nil", name)
			continue
		}

		var sinkErr *SinkError
		if !errors.As(err, &sinkErr) {
			t.Errorf("expected *SinkError for name %q, got %T", name, err)
		}
	}
}

func TestLocalSinkContextCanceled(t *testing.T) {
	sink := newTestLocalSink(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.StoreBytes(ctx, "run-4/result.json", []byte("data"))
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}

	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected *SinkError, got %T", err)
	}
	if !sinkErr.Temporary() {
		t.Error("expected cancellation error to be temporary")
	}

	// The partial file must not survive the failed store.
	if _, err := os.Stat(filepath.Join(sink.BaseDir(), "run-4", "result.json")); !os.IsNotExist(err) {
		t.Errorf("expected partial artifact to be removed, stat err: %v", err)
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"shot.png", "shot.png"},
		{"run-1/shot.png", "run-1/shot.png"},
		{"run-1/./shot.png", "run-1/shot.png"},
		{"run-1//shot.png", "run-1/shot.png"},
		{"run-1/sub/../shot.png", "run-1/shot.png"},
	}

	for _, tt := range tests {
		got, err := cleanName(tt.name)
		if err != nil {
			t.Errorf("cleanName(%q): unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStoreResult(t *testing.T) {
	sink := newTestLocalSink(t)

	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	result := &engine.ExecutionResult{
		RunID:          "run-9",
		WorkflowName:   "checkout-smoke",
		OverallSuccess: true,
		FinalState:     engine.RunStateFinalized,
		StartTime:      start,
		EndTime:        start.Add(12 * time.Second),
		Duration:       12 * time.Second,
	}

	art, err := StoreResult(context.Background(), sink, result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if art.Name != "run-9/result.json" {
		t.Errorf("expected name 'run-9/result.json', got '%s'", art.Name)
	}

	data, err := os.ReadFile(filepath.Join(sink.BaseDir(), "run-9", "result.json"))
	if err != nil {
		t.Fatalf("failed to read stored result: %v", err)
	}

	var decoded struct {
		RunID          string `json:"run_id"`
		WorkflowName   string `json:"workflow_name"`
		OverallSuccess bool   `json:"overall_success"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode stored result: %v", err)
	}

	if decoded.RunID != "run-9" {
		t.Errorf("expected run_id 'run-9', got '%s'", decoded.RunID)
	}
	if decoded.WorkflowName != "checkout-smoke" {
		t.Errorf("expected workflow_name 'checkout-smoke', got '%s'", decoded.WorkflowName)
	}
	if !decoded.OverallSuccess {
		t.Error("expected overall_success true")
	}
}

func TestStoreResultValidation(t *testing.T) {
	sink := newTestLocalSink(t)

	if _, err := StoreResult(context.Background(), nil, &engine.ExecutionResult{RunID: "run-1"}); err == nil {
		t.Error("expected error for nil sink, got nil")
	}

	if _, err := StoreResult(context.Background(), sink, nil); err == nil {
		t.Error("expected error for nil result, got nil")
	}
}

func TestStoreDir(t *testing.T) {
	sink := newTestLocalSink(t)

	staging := t.TempDir()
	if err := os.WriteFile(filepath.Join(staging, "a.png"), []byte("aaa"), 0644); err != nil {
		t.Fatalf("failed to write staged file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(staging, "sub"), 0755); err != nil {
		t.Fatalf("failed to create staging subdirectory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "sub", "b.txt"), []byte("bbb"), 0644); err != nil {
		t.Fatalf("failed to write staged file: %v", err)
	}

	arts, err := StoreDir(context.Background(), sink, staging, "run-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(arts))
	}

	for _, want := range []string{
		filepath.Join(sink.BaseDir(), "run-7", "a.png"),
		filepath.Join(sink.BaseDir(), "run-7", "sub", "b.txt"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("expected stored artifact at %s: %v", want, err)
		}
	}
}

func TestStoreDirMissingDir(t *testing.T) {
	sink := newTestLocalSink(t)

	arts, err := StoreDir(context.Background(), sink, filepath.Join(t.TempDir(), "missing"), "run-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arts != nil {
		t.Errorf("expected no artifacts for missing directory, got %d", len(arts))
	}
}
