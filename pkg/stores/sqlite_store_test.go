package stores

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// sampleResult builds a representative two-phase result: the first phase
// passes, the second fails on an exhausted selector.
func sampleResult(runID string, start time.Time) *engine.ExecutionResult {
	finish := start.Add(33 * time.Second)

	return &engine.ExecutionResult{
		RunID:          runID,
		WorkflowName:   "checkout-smoke",
		OverallSuccess: false,
		FinalState:     engine.RunStateFinalized,
		ExecutionHistory: []engine.StepRecord{
			{
				ID:     runID + "-step-0",
				Phase:  "open-shop",
				Action: "open",
				Status: engine.StepStatusSuccess,
				Params: engine.MapValue(map[string]engine.Value{
					"url": engine.StringValue("https://shop.example.com"),
				}),
				StartedAt:   start,
				CompletedAt: start.Add(2 * time.Second),
				Duration:    2 * time.Second,
			},
			{
				ID:       runID + "-step-1",
				Phase:    "open-shop",
				Action:   "screenshot",
				Status:   engine.StepStatusSkipped,
				Optional: true,
				Params: engine.MapValue(map[string]engine.Value{
					"path":      engine.StringValue("landing.png"),
					"full_page": engine.BoolValue(true),
				}),
				Error:       "screenshot target not writable",
				StartedAt:   start.Add(2 * time.Second),
				CompletedAt: start.Add(3 * time.Second),
				Duration:    time.Second,
			},
			{
				ID:     runID + "-step-2",
				Phase:  "checkout",
				Action: "click",
				Status: engine.StepStatusFailed,
				Params: engine.MapValue(map[string]engine.Value{
					"selector": engine.StringValue("#buy-now"),
					"retries":  engine.IntValue(3),
				}),
				Error:       "selector #buy-now not clickable",
				StartedAt:   start.Add(3 * time.Second),
				CompletedAt: finish,
				Duration:    30 * time.Second,
			},
		},
		ErrorHistory: []engine.ErrorRecord{
			{
				Phase:      "checkout",
				Action:     "click",
				Class:      engine.ErrorClassSelectorExhausted,
				Code:       engine.ErrCodeSelectorExhausted,
				Message:    "selector #buy-now not clickable",
				OccurredAt: finish,
			},
		},
		PhaseResults: []engine.PhaseResult{
			{
				Name:          "open-shop",
				Success:       true,
				Status:        engine.PhaseStatusSuccess,
				ExecutedSteps: []string{"open", "screenshot"},
				StartedAt:     start,
				CompletedAt:   start.Add(3 * time.Second),
				Duration:      3 * time.Second,
			},
			{
				Name:          "checkout",
				Success:       false,
				Status:        engine.PhaseStatusFailed,
				ExecutedSteps: []string{"click"},
				StartedAt:     start.Add(3 * time.Second),
				CompletedAt:   finish,
				Duration:      30 * time.Second,
			},
		},
		SuccessCriteria: []string{"order confirmation visible"},
		FinalContext: engine.ContextSnapshot{
			WorkflowName: "checkout-smoke",
			Phase:        "checkout",
			Step:         "click",
			URL:          "https://shop.example.com/cart",
			LastError:    "selector #buy-now not clickable",
			State: map[string]engine.Value{
				"cart_total": engine.FloatValue(59.99),
			},
			TakenAt: finish,
		},
		StartTime: start,
		EndTime:   finish,
		Duration:  finish.Sub(start),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreRequiresPath tests that an empty database path is rejected
func TestStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	if err == nil {
		t.Fatal("expected error for empty database path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "phase_results", "step_records", "error_records"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestSaveAndGetResult tests the full round trip of an execution result
func TestSaveAndGetResult(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	want := sampleResult("run-001", time.Now().Add(-time.Hour))

	if err := store.SaveResult(ctx, want); err != nil {
		t.Fatalf("failed to save result: %v", err)
	}

	got, err := store.GetResult(ctx, want.RunID)
	if err != nil {
		t.Fatalf("failed to get result: %v", err)
	}

	if got.RunID != want.RunID {
		t.Errorf("expected RunID %s, got %s", want.RunID, got.RunID)
	}
	if got.WorkflowName != want.WorkflowName {
		t.Errorf("expected WorkflowName %s, got %s", want.WorkflowName, got.WorkflowName)
	}
	if got.OverallSuccess != want.OverallSuccess {
		t.Errorf("expected OverallSuccess %t, got %t", want.OverallSuccess, got.OverallSuccess)
	}
	if got.FinalState != engine.RunStateFinalized {
		t.Errorf("expected FinalState %s, got %s", engine.RunStateFinalized, got.FinalState)
	}
	if got.Duration != want.Duration {
		t.Errorf("expected Duration %s, got %s", want.Duration, got.Duration)
	}
	if !got.StartTime.Equal(want.StartTime) {
		t.Errorf("expected StartTime %s, got %s", want.StartTime, got.StartTime)
	}
	if !got.EndTime.Equal(want.EndTime) {
		t.Errorf("expected EndTime %s, got %s", want.EndTime, got.EndTime)
	}

	if len(got.SuccessCriteria) != 1 || got.SuccessCriteria[0] != want.SuccessCriteria[0] {
		t.Errorf("expected SuccessCriteria %v, got %v", want.SuccessCriteria, got.SuccessCriteria)
	}

	if len(got.PhaseResults) != 2 {
		t.Fatalf("expected 2 phase results, got %d", len(got.PhaseResults))
	}
	first := got.PhaseResults[0]
	if first.Name != "open-shop" || !first.Success || first.Status != engine.PhaseStatusSuccess {
		t.Errorf("unexpected first phase result: %+v", first)
	}
	if len(first.ExecutedSteps) != 2 || first.ExecutedSteps[0] != "open" || first.ExecutedSteps[1] != "screenshot" {
		t.Errorf("expected executed steps [open screenshot], got %v", first.ExecutedSteps)
	}
	second := got.PhaseResults[1]
	if second.Name != "checkout" || second.Success || second.Status != engine.PhaseStatusFailed {
		t.Errorf("unexpected second phase result: %+v", second)
	}
	if second.Duration != 30*time.Second {
		t.Errorf("expected second phase duration 30s, got %s", second.Duration)
	}

	if len(got.ExecutionHistory) != 3 {
		t.Fatalf("expected 3 step records, got %d", len(got.ExecutionHistory))
	}
	open := got.ExecutionHistory[0]
	if open.ID != want.ExecutionHistory[0].ID {
		t.Errorf("expected step ID %s, got %s", want.ExecutionHistory[0].ID, open.ID)
	}
	if open.Action != "open" || open.Status != engine.StepStatusSuccess || open.Optional {
		t.Errorf("unexpected first step record: %+v", open)
	}
	if !open.Params.Get("url").Equal(engine.StringValue("https://shop.example.com")) {
		t.Errorf("expected url param to round trip, got %v", open.Params.Get("url"))
	}
	shot := got.ExecutionHistory[1]
	if shot.Status != engine.StepStatusSkipped || !shot.Optional {
		t.Errorf("unexpected skipped step record: %+v", shot)
	}
	if shot.Error != "screenshot target not writable" {
		t.Errorf("expected skipped step error to round trip, got %q", shot.Error)
	}
	if !shot.Params.Get("full_page").Equal(engine.BoolValue(true)) {
		t.Errorf("expected full_page param to round trip, got %v", shot.Params.Get("full_page"))
	}
	click := got.ExecutionHistory[2]
	if click.Status != engine.StepStatusFailed || click.Duration != 30*time.Second {
		t.Errorf("unexpected failed step record: %+v", click)
	}
	if !click.Params.Get("retries").Equal(engine.IntValue(3)) {
		t.Errorf("expected integer retries param to round trip, got %v", click.Params.Get("retries"))
	}
	if !click.StartedAt.Equal(want.ExecutionHistory[2].StartedAt) {
		t.Errorf("expected step StartedAt %s, got %s", want.ExecutionHistory[2].StartedAt, click.StartedAt)
	}

	if len(got.ErrorHistory) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(got.ErrorHistory))
	}
	failure := got.ErrorHistory[0]
	if failure.Class != engine.ErrorClassSelectorExhausted {
		t.Errorf("expected error class %s, got %s", engine.ErrorClassSelectorExhausted, failure.Class)
	}
	if failure.Code != engine.ErrCodeSelectorExhausted {
		t.Errorf("expected error code %s, got %s", engine.ErrCodeSelectorExhausted, failure.Code)
	}
	if failure.Message != "selector #buy-now not clickable" {
		t.Errorf("expected error message to round trip, got %q", failure.Message)
	}
	if !failure.OccurredAt.Equal(want.ErrorHistory[0].OccurredAt) {
		t.Errorf("expected OccurredAt %s, got %s", want.ErrorHistory[0].OccurredAt, failure.OccurredAt)
	}

	if got.FinalContext.WorkflowName != "checkout-smoke" {
		t.Errorf("expected final context workflow checkout-smoke, got %s", got.FinalContext.WorkflowName)
	}
	if got.FinalContext.URL != "https://shop.example.com/cart" {
		t.Errorf("expected final context URL to round trip, got %s", got.FinalContext.URL)
	}
	if got.FinalContext.LastError != "selector #buy-now not clickable" {
		t.Errorf("expected final context last error to round trip, got %q", got.FinalContext.LastError)
	}
	if !got.FinalContext.State["cart_total"].Equal(engine.FloatValue(59.99)) {
		t.Errorf("expected cart_total state to round trip, got %v", got.FinalContext.State["cart_total"])
	}
	if !got.FinalContext.TakenAt.Equal(want.FinalContext.TakenAt) {
		t.Errorf("expected TakenAt %s, got %s", want.FinalContext.TakenAt, got.FinalContext.TakenAt)
	}
}

// TestSaveResultValidation tests the SaveResult input checks
func TestSaveResultValidation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.SaveResult(ctx, nil); err == nil {
		t.Error("expected error for nil result")
	}

	if err := store.SaveResult(ctx, &engine.ExecutionResult{}); err == nil {
		t.Error("expected error for result without run ID")
	}
}

// TestSaveResultDuplicate tests that a run ID can only be saved once
func TestSaveResultDuplicate(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	result := sampleResult("run-dup", time.Now())

	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("failed to save result: %v", err)
	}

	if err := store.SaveResult(ctx, result); err == nil {
		t.Error("expected error when saving the same run ID twice")
	}

	// The failed save must not leave partial child rows behind
	got, err := store.GetResult(ctx, result.RunID)
	if err != nil {
		t.Fatalf("failed to get result after duplicate save: %v", err)
	}
	if len(got.ExecutionHistory) != 3 {
		t.Errorf("expected 3 step records after duplicate save, got %d", len(got.ExecutionHistory))
	}
}

// TestGetResultNotFound tests fetching a missing run
func TestGetResultNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.GetResult(ctx, "run-missing")
	if err == nil {
		t.Error("expected error when getting missing run")
	}
}

// TestListRuns tests run summary listing
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Hour, 0} {
		result := sampleResult(fmt.Sprintf("run-list-%d", i), now.Add(offset))
		if err := store.SaveResult(ctx, result); err != nil {
			t.Fatalf("failed to save result %d: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}

	// Newest first
	if runs[0].RunID != "run-list-2" || runs[1].RunID != "run-list-1" || runs[2].RunID != "run-list-0" {
		t.Errorf("expected newest-first ordering, got %s %s %s", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}

	newest := runs[0]
	if newest.WorkflowName != "checkout-smoke" {
		t.Errorf("expected workflow checkout-smoke, got %s", newest.WorkflowName)
	}
	if newest.OverallSuccess {
		t.Error("expected OverallSuccess false in summary")
	}
	if newest.Phases != 2 {
		t.Errorf("expected 2 phases in summary, got %d", newest.Phases)
	}
	if newest.Steps != 3 {
		t.Errorf("expected 3 steps in summary, got %d", newest.Steps)
	}
	if newest.Duration != 33*time.Second {
		t.Errorf("expected summary duration 33s, got %s", newest.Duration)
	}

	limited, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list limited runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit 2, got %d", len(limited))
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list all runs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 runs with limit 0, got %d", len(all))
	}
}

// TestDeleteRun tests run deletion
func TestDeleteRun(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	result := sampleResult("run-del", time.Now())

	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("failed to save result: %v", err)
	}

	if err := store.DeleteRun(ctx, result.RunID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	_, err := store.GetResult(ctx, result.RunID)
	if err == nil {
		t.Error("expected error when getting deleted run")
	}

	if err := store.DeleteRun(ctx, result.RunID); err == nil {
		t.Error("expected error when deleting missing run")
	}
}

// TestCascadeDelete tests foreign key cascading to child records
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	result := sampleResult("run-cascade", time.Now())

	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("failed to save result: %v", err)
	}

	if err := store.DeleteRun(ctx, result.RunID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	for _, table := range []string{"phase_results", "step_records", "error_records"} {
		var count int
		query := "SELECT COUNT(*) FROM " + table + " WHERE run_id = ?"
		if err := store.db.QueryRowContext(ctx, query, result.RunID).Scan(&count); err != nil {
			t.Fatalf("failed to count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("expected 0 rows in %s after cascade delete, got %d", table, count)
		}
	}
}

// TestPruneRuns tests history pruning
func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		result := sampleResult(fmt.Sprintf("run-prune-%d", i), now.Add(time.Duration(i)*time.Minute))
		if err := store.SaveResult(ctx, result); err != nil {
			t.Fatalf("failed to save result %d: %v", i, err)
		}
	}

	deleted, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 pruned runs, got %d", deleted)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs after prune: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 remaining runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-prune-4" || runs[1].RunID != "run-prune-3" {
		t.Errorf("expected newest runs to survive, got %s %s", runs[0].RunID, runs[1].RunID)
	}

	// Pruning with more slots than rows removes nothing
	deleted, err = store.PruneRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to prune with large keep: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 pruned runs, got %d", deleted)
	}

	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

// TestEmptyResultRoundTrip tests a result with no child records
func TestEmptyResultRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	want := &engine.ExecutionResult{
		RunID:          "run-empty",
		WorkflowName:   "empty-workflow",
		OverallSuccess: true,
		FinalState:     engine.RunStateFinalized,
		FinalContext: engine.ContextSnapshot{
			WorkflowName: "empty-workflow",
			TakenAt:      now,
		},
		StartTime: now,
		EndTime:   now,
	}

	if err := store.SaveResult(ctx, want); err != nil {
		t.Fatalf("failed to save empty result: %v", err)
	}

	got, err := store.GetResult(ctx, want.RunID)
	if err != nil {
		t.Fatalf("failed to get empty result: %v", err)
	}

	if !got.OverallSuccess {
		t.Error("expected OverallSuccess true")
	}
	if len(got.PhaseResults) != 0 {
		t.Errorf("expected 0 phase results, got %d", len(got.PhaseResults))
	}
	if len(got.ExecutionHistory) != 0 {
		t.Errorf("expected 0 step records, got %d", len(got.ExecutionHistory))
	}
	if len(got.ErrorHistory) != 0 {
		t.Errorf("expected 0 error records, got %d", len(got.ErrorHistory))
	}
	if got.SuccessCriteria != nil {
		t.Errorf("expected nil success criteria, got %v", got.SuccessCriteria)
	}
}

// TestMain sets up and tears down test environment
func TestMain(m *testing.M) {
	// Run tests
	code := m.Run()

	// Exit
	os.Exit(code)
}
