package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
	"github.com/webpilot/webpilot/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveResult demonstrates persisting a finished run.
func ExampleSQLiteStore_SaveResult() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	result := &engine.ExecutionResult{
		RunID:          "run-001",
		WorkflowName:   "login-smoke",
		OverallSuccess: true,
		FinalState:     engine.RunStateFinalized,
		ExecutionHistory: []engine.StepRecord{
			{
				ID:     "run-001-step-0",
				Phase:  "login",
				Action: "open",
				Status: engine.StepStatusSuccess,
				Params: engine.MapValue(map[string]engine.Value{
					"url": engine.StringValue("https://portal.example.com"),
				}),
				StartedAt:   start,
				CompletedAt: start.Add(2 * time.Second),
				Duration:    2 * time.Second,
			},
		},
		PhaseResults: []engine.PhaseResult{
			{
				Name:          "login",
				Success:       true,
				Status:        engine.PhaseStatusSuccess,
				ExecutedSteps: []string{"open"},
				StartedAt:     start,
				CompletedAt:   start.Add(2 * time.Second),
				Duration:      2 * time.Second,
			},
		},
		FinalContext: engine.ContextSnapshot{
			WorkflowName: "login-smoke",
			TakenAt:      start.Add(2 * time.Second),
		},
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Duration:  2 * time.Second,
	}

	if err := store.SaveResult(ctx, result); err != nil {
		log.Fatal(err)
	}

	// Retrieve the stored result
	retrieved, err := store.GetResult(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Run %s: success=%t, steps=%d\n",
		retrieved.RunID, retrieved.OverallSuccess, len(retrieved.ExecutionHistory))
	// Output: Run run-001: success=true, steps=1
}

// ExampleSQLiteStore_ListRuns demonstrates listing stored run summaries.
func ExampleSQLiteStore_ListRuns() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"checkout-smoke", "login-smoke"} {
		result := &engine.ExecutionResult{
			RunID:          fmt.Sprintf("run-%03d", i+1),
			WorkflowName:   name,
			OverallSuccess: true,
			FinalState:     engine.RunStateFinalized,
			FinalContext:   engine.ContextSnapshot{WorkflowName: name, TakenAt: base},
			StartTime:      base.Add(time.Duration(i) * time.Hour),
			EndTime:        base.Add(time.Duration(i)*time.Hour + time.Minute),
			Duration:       time.Minute,
		}
		if err := store.SaveResult(ctx, result); err != nil {
			log.Fatal(err)
		}
	}

	// Newest first
	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	for _, run := range runs {
		fmt.Printf("%s %s success=%t\n", run.RunID, run.WorkflowName, run.OverallSuccess)
	}
	// Output:
	// run-002 login-smoke success=true
	// run-001 checkout-smoke success=true
}

// ExampleSQLiteStore_PruneRuns demonstrates trimming the history to a budget.
func ExampleSQLiteStore_PruneRuns() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		result := &engine.ExecutionResult{
			RunID:          fmt.Sprintf("run-%03d", i+1),
			WorkflowName:   "nightly-regression",
			OverallSuccess: true,
			FinalState:     engine.RunStateFinalized,
			FinalContext:   engine.ContextSnapshot{WorkflowName: "nightly-regression", TakenAt: base},
			StartTime:      base.Add(time.Duration(i) * time.Hour),
			EndTime:        base.Add(time.Duration(i)*time.Hour + time.Minute),
			Duration:       time.Minute,
		}
		if err := store.SaveResult(ctx, result); err != nil {
			log.Fatal(err)
		}
	}

	deleted, err := store.PruneRuns(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}

	remaining, err := store.ListRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Pruned %d runs, %d remaining: %s\n", deleted, len(remaining), remaining[0].RunID)
	// Output: Pruned 2 runs, 1 remaining: run-003
}
