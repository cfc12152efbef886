package engine

import (
	"context"
	"time"
)

// Backend is the capability interface implemented by the UI-automation
// adapter. The engine owns exactly one backend session per run; pooling, if
// any, is the adapter's concern. Boolean returns report whether the operation
// observably succeeded; errors report transport or protocol failures.
type Backend interface {
	// Navigate loads the given URL.
	Navigate(ctx context.Context, url string, timeout time.Duration) (bool, error)

	// WaitForSelector waits until the selector reaches the given state
	// ("visible", "attached", "hidden") within the timeout.
	WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) (bool, error)

	// Click clicks the element matched by the selector.
	Click(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// Fill replaces the content of the input matched by the selector.
	Fill(ctx context.Context, selector, text string, timeout time.Duration) (bool, error)

	// Screenshot captures the page to the given path.
	Screenshot(ctx context.Context, path string, fullPage bool, timeout time.Duration) (bool, error)

	// CurrentURL returns the page URL the session is on.
	CurrentURL(ctx context.Context) (string, error)

	// AuthIssue reports a session problem detected out-of-band, or nil.
	AuthIssue() *AuthIssue

	// RefreshAuthIfChanged reloads credentials if fresh ones are available
	// and reports whether anything changed.
	RefreshAuthIfChanged(ctx context.Context) (bool, error)
}

// ScriptEvaluator executes user scripts for the eval_script action. The
// engine hands in the run state as plain Go values and merges the returned
// mapping back into run state.
type ScriptEvaluator interface {
	// Evaluate runs source with the given globals and returns the values the
	// script exported.
	Evaluate(ctx context.Context, source string, globals map[string]interface{}) (map[string]interface{}, error)
}

// RunStore persists finished execution results for the history surface.
type RunStore interface {
	// SaveResult persists a frozen execution result.
	SaveResult(ctx context.Context, result *ExecutionResult) error

	// GetResult retrieves a stored result by run ID.
	GetResult(ctx context.Context, runID string) (*ExecutionResult, error)

	// ListRuns lists stored run summaries, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// Close releases the underlying storage.
	Close() error
}

// RunSummary is the listing row returned by RunStore.ListRuns.
type RunSummary struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// WorkflowName is the name of the executed workflow.
	WorkflowName string `json:"workflow_name"`

	// OverallSuccess is the recorded outcome.
	OverallSuccess bool `json:"overall_success"`

	// Phases is the number of attempted phases.
	Phases int `json:"phases"`

	// Steps is the number of attempted steps.
	Steps int `json:"steps"`

	// StartTime is when the run started.
	StartTime time.Time `json:"start_time"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}
