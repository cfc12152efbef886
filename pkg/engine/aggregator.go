package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Aggregator assembles the ExecutionResult as the state machine transitions.
// It is a passive observer: it appends records and freezes the result at
// finalize, and never alters control flow.
type Aggregator struct {
	result      *ExecutionResult
	setupFailed bool
}

// NewAggregator creates the aggregator and the result shell for one run.
func NewAggregator(runID string, wf *Workflow) *Aggregator {
	return &Aggregator{
		result: &ExecutionResult{
			RunID:            runID,
			WorkflowName:     wf.Name,
			FinalState:       RunStateInit,
			ExecutionHistory: make([]StepRecord, 0, wf.TotalSteps()),
			PhaseResults:     make([]PhaseResult, 0, len(wf.Phases)),
			SuccessCriteria:  append([]string(nil), wf.SuccessCriteria...),
			StartTime:        time.Now().UTC(),
		},
	}
}

// TransitionTo records the run state the machine just entered.
func (a *Aggregator) TransitionTo(state RunState) {
	a.result.FinalState = state
}

// State returns the currently recorded run state.
func (a *Aggregator) State() RunState {
	return a.result.FinalState
}

// RecordStep appends one attempted-step record. Records are append-only and
// never reordered.
func (a *Aggregator) RecordStep(rec StepRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	a.result.ExecutionHistory = append(a.result.ExecutionHistory, rec)
}

// RecordError appends a required-step failure to the error history.
// Optional-step failures and recovery-step failures must not be passed here.
func (a *Aggregator) RecordError(phase, action string, err error) {
	record := ErrorRecord{
		Phase:      phase,
		Action:     action,
		Class:      Class(err),
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		record.Code = ee.Code
		record.Message = ee.Message
	}
	a.result.ErrorHistory = append(a.result.ErrorHistory, record)
}

// RecordPhase appends a finished phase result.
func (a *Aggregator) RecordPhase(pr PhaseResult) {
	a.result.PhaseResults = append(a.result.PhaseResults, pr)
}

// MarkSetupFailed forces the finalized result to be unsuccessful regardless
// of phase results (there will be none).
func (a *Aggregator) MarkSetupFailed() {
	a.setupFailed = true
}

// AnyPhaseFailed reports whether any recorded phase failed.
func (a *Aggregator) AnyPhaseFailed() bool {
	for i := range a.result.PhaseResults {
		if !a.result.PhaseResults[i].Success {
			return true
		}
	}
	return false
}

// Steps returns the number of recorded step attempts so far.
func (a *Aggregator) Steps() int {
	return len(a.result.ExecutionHistory)
}

// Result returns the result under assembly. The single run goroutine owns it
// until Finalize.
func (a *Aggregator) Result() *ExecutionResult {
	return a.result
}

// Finalize computes overall success, snapshots the final context, stamps the
// end time, and freezes the result. Overall success is the conjunction over
// recorded phase results; a suite setup failure forces false; a workflow that
// recorded no phases after a successful setup is vacuously successful.
func (a *Aggregator) Finalize(runCtx *Context) *ExecutionResult {
	a.result.FinalState = RunStateFinalized

	success := !a.setupFailed
	for i := range a.result.PhaseResults {
		success = success && a.result.PhaseResults[i].Success
	}
	a.result.OverallSuccess = success

	if runCtx != nil {
		a.result.FinalContext = runCtx.Snapshot()
	}
	a.result.EndTime = time.Now().UTC()
	a.result.Duration = a.result.EndTime.Sub(a.result.StartTime)
	return a.result
}
