package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/telemetry"
)

// Guard runs before every atomic action. It converts a session already known
// to be broken into an immediate auth_expired failure instead of letting the
// action burn its full timeout, and it carries the advisory stop flag checked
// between steps.
type Guard struct {
	backend Backend
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	stop         atomic.Bool
	credsChanged atomic.Bool
}

// NewGuard creates a guard over the given backend session.
func NewGuard(backend Backend, logger zerolog.Logger, metrics *telemetry.Metrics) *Guard {
	return &Guard{
		backend: backend,
		logger:  logger,
		metrics: metrics,
	}
}

// RequestStop asks the run in flight to stop at the next between-step
// checkpoint. An action already executing runs to its own deadline.
func (g *Guard) RequestStop() {
	g.stop.Store(true)
}

// StopRequested reports whether a stop has been requested.
func (g *Guard) StopRequested() bool {
	return g.stop.Load()
}

// resetStop clears the stop flag. A stop request targets the run in flight;
// the next run starts clean.
func (g *Guard) resetStop() {
	g.stop.Store(false)
}

// NotifyCredentialChange marks fresh credentials available for the next
// pre-action check.
func (g *Guard) NotifyCredentialChange() {
	g.credsChanged.Store(true)
}

// PreAction checks the session before an atomic action executes. A broken
// session gets exactly one credential hot-reload attempt; if it stays broken
// the action fails immediately with auth_expired.
func (g *Guard) PreAction(ctx context.Context) error {
	// Fresh credentials on disk are picked up proactively, even while the
	// session still looks healthy.
	if g.credsChanged.CompareAndSwap(true, false) {
		refreshed, err := g.backend.RefreshAuthIfChanged(ctx)
		switch {
		case err != nil:
			g.logger.Warn().Err(err).Msg("credential refresh failed")
			g.metrics.RecordAuthRefresh("error")
		case refreshed:
			g.logger.Info().Msg("credentials refreshed")
			g.metrics.RecordAuthRefresh("refreshed")
		default:
			g.metrics.RecordAuthRefresh("noop")
		}
	}

	issue := g.backend.AuthIssue()
	if issue == nil {
		return nil
	}

	refreshed, err := g.backend.RefreshAuthIfChanged(ctx)
	if err == nil && refreshed && g.backend.AuthIssue() == nil {
		g.logger.Info().
			Str("issue", issue.Code).
			Msg("session recovered after credential refresh")
		g.metrics.RecordAuthRefresh("refreshed")
		return nil
	}

	g.metrics.RecordAuthRefresh("expired")
	return NewAuthExpiredError(issue.Message, err).WithDetail("issue_code", issue.Code)
}

// CredentialWatcher watches a credentials file and notifies the guard when it
// changes, so the hot-reload path has something to pick up between steps.
type CredentialWatcher struct {
	guard   *Guard
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	path    string

	done      chan struct{}
	closeOnce sync.Once
}

// NewCredentialWatcher starts watching the credentials file at path. The
// parent directory is watched so editors that replace the file are still
// observed.
func NewCredentialWatcher(path string, guard *Guard, logger zerolog.Logger) (*CredentialWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, NewSystemError("failed to create credential watcher", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, NewSystemError("failed to watch credential directory", err).
			WithDetail("dir", dir)
	}

	cw := &CredentialWatcher{
		guard:   guard,
		watcher: watcher,
		logger:  logger,
		path:    filepath.Clean(path),
		done:    make(chan struct{}),
	}
	go cw.loop()

	cw.logger.Debug().Str("file", cw.path).Msg("watching credentials file")
	return cw, nil
}

func (cw *CredentialWatcher) loop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.logger.Debug().Str("file", event.Name).Msg("credential file changed")
			cw.guard.NotifyCredentialChange()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn().Err(err).Msg("credential watcher error")

		case <-cw.done:
			return
		}
	}
}

// Close stops the watcher.
func (cw *CredentialWatcher) Close() error {
	cw.closeOnce.Do(func() {
		close(cw.done)
	})
	return cw.watcher.Close()
}
