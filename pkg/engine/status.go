package engine

import (
	"encoding/json"
	"fmt"
)

// RunState represents the position of a workflow run in its lifecycle.
type RunState string

const (
	// RunStateInit indicates the run has been created but not yet started.
	RunStateInit RunState = "init"

	// RunStateSuiteSetup indicates the suite_setup step list is executing.
	RunStateSuiteSetup RunState = "suite_setup"

	// RunStatePhases indicates the phase loop is executing.
	RunStatePhases RunState = "phases"

	// RunStateErrorRecovery indicates the error_recovery step list is executing.
	RunStateErrorRecovery RunState = "error_recovery"

	// RunStateFinalized indicates the run has finished and the result is frozen.
	RunStateFinalized RunState = "finalized"
)

// IsTerminal returns true if the run state represents a final state.
func (s RunState) IsTerminal() bool {
	return s == RunStateFinalized
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateInit, RunStateSuiteSetup, RunStatePhases,
		RunStateErrorRecovery, RunStateFinalized:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// PhaseStatus represents the status of a phase during execution.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase is waiting to execute.
	PhaseStatusPending PhaseStatus = "pending"

	// PhaseStatusRunning indicates the phase is currently executing.
	PhaseStatusRunning PhaseStatus = "running"

	// PhaseStatusSuccess indicates the phase completed successfully.
	PhaseStatusSuccess PhaseStatus = "success"

	// PhaseStatusFailed indicates the phase failed.
	PhaseStatusFailed PhaseStatus = "failed"
)

// IsTerminal returns true if the phase status represents a final state.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseStatusSuccess || s == PhaseStatusFailed
}

// Validate checks if the phase status is valid.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhaseStatusPending, PhaseStatusRunning, PhaseStatusSuccess, PhaseStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// StepStatus represents the recorded outcome of one attempted step.
type StepStatus string

const (
	// StepStatusSuccess indicates the step completed successfully.
	StepStatusSuccess StepStatus = "success"

	// StepStatusFailed indicates a required step failed.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped indicates an optional step failed and was skipped.
	StepStatusSkipped StepStatus = "skipped"
)

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// PhaseSuccessMode governs how required-step failures determine phase outcome.
type PhaseSuccessMode string

const (
	// PhaseSuccessStrict fails the phase if any required step failed,
	// regardless of later successes.
	PhaseSuccessStrict PhaseSuccessMode = "strict"

	// PhaseSuccessRecover takes the outcome of the last attempted required
	// step, so a later success can override an earlier failure.
	PhaseSuccessRecover PhaseSuccessMode = "recover"
)

// Validate checks if the phase success mode is valid.
func (m PhaseSuccessMode) Validate() error {
	switch m {
	case PhaseSuccessStrict, PhaseSuccessRecover:
		return nil
	default:
		return fmt.Errorf("invalid phase success mode: %s", m)
	}
}

// SelectorKind identifies which backend operation the candidate poller drives.
type SelectorKind string

const (
	// SelectorKindWait polls element visibility via WaitForSelector.
	SelectorKindWait SelectorKind = "wait"

	// SelectorKindClick polls clickability via Click.
	SelectorKindClick SelectorKind = "click"

	// SelectorKindFill polls input readiness via Fill.
	SelectorKindFill SelectorKind = "fill"
)

// Validate checks if the selector kind is valid.
func (k SelectorKind) Validate() error {
	switch k {
	case SelectorKindWait, SelectorKindClick, SelectorKindFill:
		return nil
	default:
		return fmt.Errorf("invalid selector kind: %s", k)
	}
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventTypeWorkflowStarted indicates a workflow run has started.
	EventTypeWorkflowStarted EventType = "workflow_started"

	// EventTypeWorkflowCompleted indicates a workflow run has completed.
	EventTypeWorkflowCompleted EventType = "workflow_completed"

	// EventTypeWorkflowFailed indicates a workflow run finished unsuccessfully.
	EventTypeWorkflowFailed EventType = "workflow_failed"

	// EventTypePhaseStarted indicates a phase has started execution.
	EventTypePhaseStarted EventType = "phase_started"

	// EventTypePhaseCompleted indicates a phase has completed successfully.
	EventTypePhaseCompleted EventType = "phase_completed"

	// EventTypePhaseFailed indicates a phase has failed.
	EventTypePhaseFailed EventType = "phase_failed"

	// EventTypeStepStarted indicates a step has started execution.
	EventTypeStepStarted EventType = "step_started"

	// EventTypeStepCompleted indicates a step has completed successfully.
	EventTypeStepCompleted EventType = "step_completed"

	// EventTypeStepFailed indicates a required step has failed.
	EventTypeStepFailed EventType = "step_failed"

	// EventTypeStepSkipped indicates an optional step failed and was skipped.
	EventTypeStepSkipped EventType = "step_skipped"

	// EventTypeRecoveryStarted indicates an error_recovery pass has started.
	EventTypeRecoveryStarted EventType = "recovery_started"

	// EventTypeRecoveryCompleted indicates an error_recovery pass has finished.
	EventTypeRecoveryCompleted EventType = "recovery_completed"

	// EventTypeAuthRefreshed indicates the guard hot-reloaded credentials.
	EventTypeAuthRefreshed EventType = "auth_refreshed"

	// EventTypeError indicates an error occurred.
	EventTypeError EventType = "error"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"

	// EventTypeInfo indicates informational event.
	EventTypeInfo EventType = "info"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeWorkflowFailed, EventTypePhaseFailed, EventTypeStepFailed, EventTypeError:
		return "error"
	case EventTypeStepSkipped, EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunState(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}
