package remote

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/driver/sim"
)

// newSession wires a client and a server over an in-memory pipe, serving
// the demo site. The handshake has completed when it returns.
func newSession(t *testing.T) (*Client, *sim.Backend) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	backend := sim.NewDemo(zerolog.Nop(), sim.Options{})

	srv := NewServer("sim", "test", zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeConn(context.Background(), serverConn, backend)
	}()

	client, err := NewClient(clientConn, Config{
		StartupTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client, backend
}

func TestClientServerSession(t *testing.T) {
	client, backend := newSession(t)
	ctx := context.Background()

	ready := client.Ready()
	if ready == nil || ready.Driver != "sim" {
		t.Fatalf("Ready() = %+v, want driver sim", ready)
	}

	done, err := client.Navigate(ctx, sim.DemoLoginURL, 2*time.Second)
	if err != nil || !done {
		t.Fatalf("Navigate() = %v, %v, want true, nil", done, err)
	}

	url, err := client.CurrentURL(ctx)
	if err != nil {
		t.Fatalf("CurrentURL() error = %v", err)
	}
	if url != sim.DemoLoginURL {
		t.Errorf("CurrentURL() = %s, want %s", url, sim.DemoLoginURL)
	}

	done, err = client.Fill(ctx, "#username", "admin", 2*time.Second)
	if err != nil || !done {
		t.Fatalf("Fill() = %v, %v, want true, nil", done, err)
	}
	if got, ok := backend.FilledValue("#username"); !ok || got != "admin" {
		t.Errorf("FilledValue(#username) = %q, %v, want admin, true", got, ok)
	}

	done, err = client.Click(ctx, `button[type="submit"]`, 2*time.Second)
	if err != nil || !done {
		t.Fatalf("Click() = %v, %v, want true, nil", done, err)
	}

	url, err = client.CurrentURL(ctx)
	if err != nil {
		t.Fatalf("CurrentURL() error = %v", err)
	}
	if url != sim.DemoDashboardURL {
		t.Errorf("CurrentURL() after submit = %s, want %s", url, sim.DemoDashboardURL)
	}

	// The welcome banner appears only after the demo's render delay.
	done, err = client.WaitForSelector(ctx, "#welcome", "", 2*time.Second)
	if err != nil || !done {
		t.Errorf("WaitForSelector(#welcome) = %v, %v, want true, nil", done, err)
	}
}

func TestClientNavigateUnknownPage(t *testing.T) {
	client, _ := newSession(t)

	done, err := client.Navigate(context.Background(), "https://nowhere.invalid/", time.Second)
	if err != nil {
		t.Fatalf("Navigate() error = %v, want nil", err)
	}
	if done {
		t.Error("Navigate() to an undeclared page = true, want false")
	}
}

func TestClientAuthLifecycle(t *testing.T) {
	client, backend := newSession(t)
	ctx := context.Background()

	if issue := client.AuthIssue(); issue != nil {
		t.Fatalf("AuthIssue() before expiry = %+v, want nil", issue)
	}

	backend.ExpireSession("session_expired", "cookie expired")

	// The next round trip carries the session event that updates the
	// cached state.
	if _, err := client.CurrentURL(ctx); err != nil {
		t.Fatalf("CurrentURL() error = %v", err)
	}
	issue := client.AuthIssue()
	if issue == nil || issue.Code != "session_expired" {
		t.Fatalf("AuthIssue() after expiry = %+v, want code session_expired", issue)
	}

	changed, err := client.RefreshAuthIfChanged(ctx)
	if err != nil {
		t.Fatalf("RefreshAuthIfChanged() error = %v", err)
	}
	if changed {
		t.Error("RefreshAuthIfChanged() without fresh credentials = true, want false")
	}

	backend.StageFreshCredentials()
	changed, err = client.RefreshAuthIfChanged(ctx)
	if err != nil {
		t.Fatalf("RefreshAuthIfChanged() error = %v", err)
	}
	if !changed {
		t.Fatal("RefreshAuthIfChanged() with fresh credentials = false, want true")
	}
	if issue := client.AuthIssue(); issue != nil {
		t.Errorf("AuthIssue() after refresh = %+v, want nil", issue)
	}
}

func TestClientScreenshotWritesFile(t *testing.T) {
	client, _ := newSession(t)
	ctx := context.Background()

	if _, err := client.Navigate(ctx, sim.DemoLoginURL, time.Second); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "shots", "login.png")
	done, err := client.Screenshot(ctx, path, true, 2*time.Second)
	if err != nil || !done {
		t.Fatalf("Screenshot() = %v, %v, want true, nil", done, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("screenshot file not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("screenshot file is empty")
	}
}
