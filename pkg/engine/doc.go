// Package engine provides the core types and the interpreter for webpilot
// workflow execution.
//
// # Overview
//
// A workflow is a declarative description of a browser interaction session:
// an ordered list of phases, each an ordered list of steps, plus optional
// suite_setup and error_recovery step lists. The engine interprets a
// workflow against a Backend, which performs the actual UI automation, and
// produces a structured ExecutionResult. A run moves through a fixed
// lifecycle:
//
//  1. init - Validate the workflow and allocate the run
//  2. suite_setup - Run the setup steps; failure skips all phases
//  3. phases - Execute each phase's steps in order
//  4. error_recovery - Run recovery steps once if anything failed
//  5. finalized - Seal the result and compute overall success
//
// # Core Domain Types
//
// The package defines the types that represent the execution model:
//
//   - Workflow: The complete declarative description (phases, setup, recovery)
//   - Phase: A named group of steps with an independent outcome
//   - Step: One action with parameters, an optional flag and a timeout
//   - Value: A tagged scalar/sequence/mapping variant used for parameters
//   - Context: Mutable run state shared across steps
//   - StepRecord, PhaseResult, ExecutionResult: The structured outcome
//
// # Backend Interface
//
// Backends implement UI automation through the Backend interface:
//
//	type Backend interface {
//	    Navigate(ctx context.Context, url string, timeout time.Duration) (bool, error)
//	    WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) (bool, error)
//	    Click(ctx context.Context, selector string, timeout time.Duration) (bool, error)
//	    Fill(ctx context.Context, selector, text string, timeout time.Duration) (bool, error)
//	    Screenshot(ctx context.Context, path string, fullPage bool, timeout time.Duration) (bool, error)
//	    CurrentURL(ctx context.Context) (string, error)
//	    AuthIssue() *AuthIssue
//	    RefreshAuthIfChanged(ctx context.Context) (bool, error)
//	}
//
// The repository ships a remote driver backend speaking a line-delimited
// JSON protocol and an in-memory simulator for tests.
//
// # Step Semantics
//
// Every step runs under its own deadline: the step's explicit timeout when
// declared, otherwise Options.MaxStepDuration. Steps whose selector carries
// comma-separated candidates are polled fairly; see SelectorPoller for the
// budget-splitting rules. Before every action the auth guard consults
// Backend.AuthIssue and attempts one credential refresh before giving up
// with an auth_expired error.
//
// Optional steps that fail are recorded as skipped and never affect the
// phase outcome. Required-step failures determine the phase outcome under
// the configured PhaseSuccessMode: strict fails the phase on any required
// failure, recover takes the outcome of the last attempted required step.
//
// # Error Classification
//
// Errors are classified by how the run should react:
//
//   - configuration: Invalid input; aborts the run and is the only class
//     ExecuteWorkflow returns as an error
//   - action_timeout: A step exceeded its deadline
//   - selector_exhausted: No locator candidate matched within the budget
//   - auth_expired: An unresolvable authentication issue
//   - system: Backend or internal failure
//
// Use the predicate helpers to inspect errors:
//
//	if engine.IsSelectorExhausted(err) {
//	    // every candidate was polled and none matched
//	}
//
// # Example Usage
//
// Basic workflow execution:
//
//	eng, err := engine.New(engine.Config{
//	    Backend: backend,
//	    Options: engine.DefaultOptions(),
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := eng.ExecuteWorkflow(ctx, workflow)
//	if err != nil {
//	    return err // configuration problem, nothing ran to completion
//	}
//	if !result.OverallSuccess {
//	    // inspect result.PhaseResults and result.ErrorHistory
//	}
//
// # Concurrency
//
// An Engine owns exactly one backend session, and runs on the same engine
// must not overlap. Context is safe for concurrent reads, which supports
// observers inspecting a live run. RequestStop may be called from any
// goroutine; the run honors it at the next step boundary.
package engine
