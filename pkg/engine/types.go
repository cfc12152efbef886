package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// contextHistoryCap bounds the Context snapshot history; the oldest snapshot
// is evicted once the cap is reached.
const contextHistoryCap = 100

// Workflow is the top-level unit of execution: an ordered sequence of phases
// plus optional setup and recovery step lists. A workflow is owned exclusively
// by its caller and must not be mutated once parsed.
type Workflow struct {
	// Name is the human-readable workflow name.
	Name string `json:"name"`

	// Phases are the ordered phases executed by the phase loop.
	Phases []Phase `json:"phases"`

	// SuiteSetup is a flat step list executed before any phase. A setup
	// failure triggers one error_recovery pass and finalizes the run with
	// zero phases executed.
	SuiteSetup []Step `json:"suite_setup,omitempty"`

	// ErrorRecovery is a flat step list executed best-effort after a setup
	// failure or after the phase loop when any phase failed.
	ErrorRecovery []Step `json:"error_recovery,omitempty"`

	// SuccessCriteria are opaque descriptions carried into the result for
	// reporting. They are never evaluated by the engine.
	SuccessCriteria []string `json:"success_criteria,omitempty"`

	// Selectors maps locator alias names to selector expressions. Aliases are
	// exposed to templates under the "selectors." prefix.
	Selectors map[string]string `json:"selectors,omitempty"`
}

// Validate checks the structural invariants required before execution.
func (w *Workflow) Validate() error {
	if w == nil {
		return NewConfigurationError("workflow is nil", nil).WithCode(ErrCodeValidation)
	}
	if w.Name == "" {
		return NewConfigurationError("workflow name is required", nil).WithCode(ErrCodeValidation)
	}
	for i := range w.Phases {
		if err := w.Phases[i].Validate(); err != nil {
			return err
		}
	}
	for i := range w.SuiteSetup {
		if err := w.SuiteSetup[i].Validate(); err != nil {
			return err
		}
	}
	for i := range w.ErrorRecovery {
		if err := w.ErrorRecovery[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TotalSteps returns the number of steps across all phases, excluding setup
// and recovery lists.
func (w *Workflow) TotalSteps() int {
	total := 0
	for i := range w.Phases {
		total += len(w.Phases[i].Steps)
	}
	return total
}

// Phase is one named stage of a workflow. Step order within a phase is a
// total order; no reordering or parallelism is permitted.
type Phase struct {
	// Name is the phase name, unique within the workflow by convention.
	Name string `json:"name"`

	// Description is an optional human-readable summary.
	Description string `json:"description,omitempty"`

	// Steps are the ordered steps of this phase.
	Steps []Step `json:"steps"`
}

// Validate checks the structural invariants of the phase.
func (p *Phase) Validate() error {
	if p.Name == "" {
		return NewConfigurationError("phase name is required", nil).WithCode(ErrCodeValidation)
	}
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return NewConfigurationError(
				fmt.Sprintf("phase %q step %d invalid", p.Name, i), err,
			).WithCode(ErrCodeValidation).WithPhase(p.Name)
		}
	}
	return nil
}

// Step is a single typed operation. The action identifier selects a handler
// from the registry; params may nest template placeholders and are resolved
// immediately before execution.
type Step struct {
	// Action is the action type identifier (e.g. "open", "click", "wait_for").
	Action string `json:"action"`

	// Params are the action parameters, possibly containing placeholders.
	// Control keys (optional, timeout) are lifted out during parsing.
	Params Value `json:"params"`

	// Optional marks the step non-blocking: a failure records a skipped step
	// and never affects phase or workflow success.
	Optional bool `json:"optional,omitempty"`

	// Timeout overrides the per-step execution budget when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the structural invariants of the step.
func (s *Step) Validate() error {
	if s.Action == "" {
		return NewConfigurationError("step action is required", nil).WithCode(ErrCodeValidation)
	}
	if s.Timeout < 0 {
		return NewConfigurationError(
			fmt.Sprintf("step %q timeout must not be negative", s.Action), nil,
		).WithCode(ErrCodeValidation).WithStep(s.Action)
	}
	return nil
}

// Context is the mutable run-time state of one workflow execution. It has a
// single writer (the owning run) but snapshots cross component boundaries, so
// every access is mutex-guarded.
type Context struct {
	mu sync.RWMutex

	workflowName string
	currentPhase string
	currentStep  string
	currentURL   string
	lastError    string
	state        map[string]Value
	history      []ContextSnapshot
}

// NewContext creates the run context for a workflow.
func NewContext(workflowName string) *Context {
	return &Context{
		workflowName: workflowName,
		state:        make(map[string]Value),
	}
}

// SetCurrent records the phase and step about to execute.
func (c *Context) SetCurrent(phase, step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPhase = phase
	c.currentStep = step
}

// SetURL records the last known page URL.
func (c *Context) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentURL = url
}

// SetLastError records the most recent step error message.
func (c *Context) SetLastError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = message
}

// Set stores a state value under key.
func (c *Context) Set(key string, value Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// Get returns the state value for key.
func (c *Context) Get(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// LookupState resolves a dotted path whose first segment is a state key. The
// returned value is a deep copy.
func (c *Context) LookupState(path string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	segments := strings.SplitN(path, ".", 2)
	v, ok := c.state[segments[0]]
	if !ok {
		return Value{}, false
	}
	if len(segments) == 1 {
		return v.Clone(), true
	}
	nested, ok := v.Lookup(segments[1])
	if !ok {
		return Value{}, false
	}
	return nested.Clone(), true
}

// StateValue returns the whole state map as a mapping Value, deep-copied.
func (c *Context) StateValue() Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]Value, len(c.state))
	for k, v := range c.state {
		m[k] = v.Clone()
	}
	return MapValue(m)
}

// Snapshot returns an atomic deep copy of the context.
func (c *Context) Snapshot() ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() ContextSnapshot {
	state := make(map[string]Value, len(c.state))
	for k, v := range c.state {
		state[k] = v.Clone()
	}
	return ContextSnapshot{
		WorkflowName: c.workflowName,
		Phase:        c.currentPhase,
		Step:         c.currentStep,
		URL:          c.currentURL,
		LastError:    c.lastError,
		State:        state,
		TakenAt:      time.Now().UTC(),
	}
}

// Checkpoint appends a snapshot to the bounded history, evicting the oldest
// entry past the cap.
func (c *Context) Checkpoint() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, c.snapshotLocked())
	if len(c.history) > contextHistoryCap {
		c.history = c.history[len(c.history)-contextHistoryCap:]
	}
}

// History returns a copy of the snapshot history, oldest first.
func (c *Context) History() []ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ContextSnapshot is an immutable copy of the run context at one instant.
type ContextSnapshot struct {
	// WorkflowName is the name of the owning workflow.
	WorkflowName string `json:"workflow_name"`

	// Phase is the phase that was current when the snapshot was taken.
	Phase string `json:"phase,omitempty"`

	// Step is the step that was current when the snapshot was taken.
	Step string `json:"step,omitempty"`

	// URL is the last known page URL.
	URL string `json:"url,omitempty"`

	// LastError is the most recent step error message, if any.
	LastError string `json:"last_error,omitempty"`

	// State is a deep copy of the generic key/value run state.
	State map[string]Value `json:"state,omitempty"`

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`
}

// StepRecord is one entry of the execution history: a single attempted step.
type StepRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`

	// Phase is the phase the step ran in. Setup and recovery steps use the
	// synthetic phase names "suite_setup" and "error_recovery".
	Phase string `json:"phase"`

	// Action is the action type identifier of the step.
	Action string `json:"action"`

	// Status is the recorded outcome.
	Status StepStatus `json:"status"`

	// Optional indicates the step was marked non-blocking.
	Optional bool `json:"optional,omitempty"`

	// Params are the fully resolved parameters the step ran with.
	Params Value `json:"params"`

	// Error is the failure message for failed and skipped records.
	Error string `json:"error,omitempty"`

	// StartedAt is when the step started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the step execution time.
	Duration time.Duration `json:"duration"`
}

// ErrorRecord is one entry of the error history. Only required-step failures
// are recorded here; optional-step failures never appear.
type ErrorRecord struct {
	// Phase is the phase the failing step ran in.
	Phase string `json:"phase"`

	// Action is the action type identifier of the failing step.
	Action string `json:"action"`

	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is the stable error code, if any.
	Code string `json:"code,omitempty"`

	// Message is the failure message.
	Message string `json:"message"`

	// OccurredAt is when the failure was recorded.
	OccurredAt time.Time `json:"occurred_at"`
}

// PhaseResult is the recorded outcome of one executed phase.
type PhaseResult struct {
	// Name is the phase name.
	Name string `json:"name"`

	// Success is the phase outcome under the configured success mode.
	Success bool `json:"success"`

	// Status is the terminal phase status.
	Status PhaseStatus `json:"status"`

	// ExecutedSteps lists the action identifiers of every attempted step in
	// order.
	ExecutedSteps []string `json:"executed_steps"`

	// StartedAt is when the phase started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the phase finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the phase execution time.
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the frozen outcome of one workflow run. It is created at
// workflow start, mutated only by the execution state machine, and returned
// frozen at finalize. Business failures never surface as errors; callers
// inspect OverallSuccess.
type ExecutionResult struct {
	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// WorkflowName is the name of the executed workflow.
	WorkflowName string `json:"workflow_name"`

	// OverallSuccess is the logical AND over all recorded phase results,
	// forced false when suite setup failed.
	OverallSuccess bool `json:"overall_success"`

	// FinalState is the terminal run state, always finalized.
	FinalState RunState `json:"final_state"`

	// ExecutionHistory holds one record per attempted step, in start order,
	// never reordered after append.
	ExecutionHistory []StepRecord `json:"execution_history"`

	// ErrorHistory holds required-step failures only.
	ErrorHistory []ErrorRecord `json:"error_history,omitempty"`

	// PhaseResults holds one entry per attempted phase, in order.
	PhaseResults []PhaseResult `json:"phase_results"`

	// SuccessCriteria are carried from the workflow for reporting.
	SuccessCriteria []string `json:"success_criteria,omitempty"`

	// FinalContext is the context snapshot taken at finalize.
	FinalContext ContextSnapshot `json:"final_context"`

	// StartTime is when the run started.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the run finalized.
	EndTime time.Time `json:"end_time"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// ActionOutcome is the result of executing a single action in isolation via
// ExecuteSingleAction.
type ActionOutcome struct {
	// Success indicates whether the action completed without error.
	Success bool `json:"success"`

	// Context is the context snapshot taken after the action.
	Context ContextSnapshot `json:"context"`

	// Err is the failure, if any.
	Err error `json:"-"`
}

// AuthIssue describes a session problem detected out-of-band by the backend,
// surfaced to the guard before it commits to a long wait.
type AuthIssue struct {
	// Code is a stable identifier for the issue (e.g. "session_expired").
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// DetectedAt is when the backend observed the issue.
	DetectedAt time.Time `json:"detected_at"`
}
