package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/webpilot/webpilot/pkg/telemetry"
)

// Synthetic phase names used for steps that run outside declared phases.
const (
	phaseSuiteSetup    = "suite_setup"
	phaseErrorRecovery = "error_recovery"
)

// Recovery trigger labels, recorded on the recovery metric.
const (
	recoveryTriggerSetup  = "suite_setup"
	recoveryTriggerPhases = "phases"
)

// failureScreenshotTimeout bounds the best-effort capture taken after a step
// fails. It runs on a fresh context so a capture still succeeds when the
// step's own deadline already expired.
const failureScreenshotTimeout = 5 * time.Second

// Config assembles an Engine's collaborators. Backend is required; every
// other field has a working zero value.
type Config struct {
	// Backend executes UI actions for this engine's session.
	Backend Backend

	// Options tunes run behavior. Zero fields are filled with defaults.
	Options Options

	// Registry maps action types to handlers. Nil selects DefaultRegistry.
	Registry *Registry

	// ScriptEvaluator runs eval_script steps. Nil makes those steps fail
	// with a configuration error.
	ScriptEvaluator ScriptEvaluator

	// TemplateValues is exposed to step templates under config.*.
	TemplateValues map[string]Value

	// Logger is the base logger. The engine derives component and run
	// scoped children from it.
	Logger zerolog.Logger

	// Metrics, Events and Tracer are optional instrumentation. Each may be
	// nil to disable it independently.
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
	Tracer  *telemetry.Tracer
}

// Engine interprets workflows against a single backend session. Runs on the
// same engine must not overlap; create one engine per concurrent session.
type Engine struct {
	backend  Backend
	opts     Options
	registry *Registry
	script   ScriptEvaluator
	values   map[string]Value
	guard    *Guard
	poller   *SelectorPoller
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	tracer   *telemetry.Tracer
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, NewConfigurationError("backend is required", nil)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	opts := cfg.Options.normalized()
	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	return &Engine{
		backend:  cfg.Backend,
		opts:     opts,
		registry: registry,
		script:   cfg.ScriptEvaluator,
		values:   cfg.TemplateValues,
		guard:    NewGuard(cfg.Backend, cfg.Logger, cfg.Metrics),
		poller:   NewSelectorPoller(cfg.Backend, opts, cfg.Logger, cfg.Metrics),
		logger:   cfg.Logger.With().Str("component", "engine").Logger(),
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		tracer:   cfg.Tracer,
	}, nil
}

// Guard returns the auth guard, for wiring credential watchers or stop
// requests from outside the run loop.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Registry returns the action registry backing this engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Options returns the engine's normalized options.
func (e *Engine) Options() Options {
	return e.opts
}

// RequestStop asks the active run to stop at the next step boundary. Steps
// already executing run to completion.
func (e *Engine) RequestStop() {
	e.guard.RequestStop()
}

// ExecuteWorkflow runs wf through the full lifecycle and returns its result.
// The error is non-nil only for configuration failures (invalid workflow,
// unresolved template variable, unknown action); every runtime failure is
// captured inside the result instead.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf *Workflow) (*ExecutionResult, error) {
	if wf == nil {
		return nil, NewConfigurationError("workflow is required", nil)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	exec := e.newExecution(runID, wf)

	// A stop requested against a previous run must not leak into this one.
	e.guard.resetStop()

	e.metrics.RecordRunStarted(wf.Name)
	exec.logger.Info().
		Int("phases", len(wf.Phases)).
		Int("steps", wf.TotalSteps()).
		Msg("workflow started")
	exec.publish(EventTypeWorkflowStarted, "", "",
		fmt.Sprintf("Started workflow %s", wf.Name), nil)

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartWorkflowSpan(ctx, runID, wf.Name)
		defer span.End()
	}

	result, err := exec.run(ctx)
	if err != nil {
		e.metrics.RecordRunCompleted("error", time.Since(exec.agg.Result().StartTime))
		exec.publish(EventTypeWorkflowFailed, "", "", err.Error(), nil)
		exec.logger.Error().Err(err).Msg("workflow aborted")
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}

	status := "success"
	if !result.OverallSuccess {
		status = "failure"
	}
	e.metrics.RecordRunCompleted(status, result.Duration)
	exec.publish(EventTypeWorkflowCompleted, "", "",
		fmt.Sprintf("Workflow %s finished: %s", wf.Name, status),
		map[string]interface{}{"success": result.OverallSuccess})
	exec.logger.Info().
		Bool("success", result.OverallSuccess).
		Dur("duration", result.Duration).
		Int("steps", len(result.ExecutionHistory)).
		Int("errors", len(result.ErrorHistory)).
		Msg("workflow finalized")
	if span != nil {
		telemetry.RecordSuccess(span)
	}

	return result, nil
}

// ExecuteSingleAction runs one action outside any workflow, with the same
// guard, template and timeout treatment a workflow step gets. The outcome
// carries the error instead of returning it so callers can inspect the
// context snapshot either way.
func (e *Engine) ExecuteSingleAction(ctx context.Context, actionType string, params Value) *ActionOutcome {
	runID := uuid.New().String()
	wf := &Workflow{Name: "single_action"}
	exec := e.newExecution(runID, wf)
	e.guard.resetStop()

	outcome := &ActionOutcome{}

	handler, ok := e.registry.Lookup(actionType)
	if !ok {
		outcome.Err = NewConfigurationError(fmt.Sprintf("unknown action type %q", actionType), nil).
			WithCode(ErrCodeUnknownAction).
			WithStep(actionType)
		outcome.Context = exec.runCtx.Snapshot()
		return outcome
	}

	resolved, err := ResolveTemplates(params, exec.lookup)
	if err != nil {
		outcome.Err = exec.classify(err, "", actionType, e.opts.MaxStepDuration)
		outcome.Context = exec.runCtx.Snapshot()
		return outcome
	}

	exec.runCtx.SetCurrent("", actionType)
	stepCtx, cancel := context.WithTimeout(ctx, e.opts.MaxStepDuration)
	err = exec.execAction(stepCtx, actionType, handler, resolved)
	cancel()

	if err != nil {
		outcome.Err = exec.classify(err, "", actionType, e.opts.MaxStepDuration)
		exec.runCtx.SetLastError(outcome.Err.Error())
	}
	outcome.Success = err == nil
	outcome.Context = exec.runCtx.Snapshot()
	return outcome
}

// newExecution assembles the per-run interpreter state.
func (e *Engine) newExecution(runID string, wf *Workflow) *Execution {
	exec := &Execution{
		engine: e,
		wf:     wf,
		runID:  runID,
		runCtx: NewContext(wf.Name),
		agg:    NewAggregator(runID, wf),
		logger: e.logger.With().Str("run_id", runID).Str("workflow", wf.Name).Logger(),
	}
	exec.lookup = exec.buildLookup()
	return exec
}

// Execution is the per-run interpreter state handed to action handlers.
// Handlers run on the single goroutine driving the run.
type Execution struct {
	engine *Engine
	wf     *Workflow
	runID  string
	runCtx *Context
	agg    *Aggregator
	logger zerolog.Logger
	lookup LookupFunc

	phase       string        // phase currently executing
	stepTimeout time.Duration // explicit timeout of the in-flight step
	screenshots int           // sequence for generated artifact names
}

// RunID returns the run's identifier.
func (exec *Execution) RunID() string {
	return exec.runID
}

// Backend returns the session backend.
func (exec *Execution) Backend() Backend {
	return exec.engine.backend
}

// Context returns the run's mutable context.
func (exec *Execution) Context() *Context {
	return exec.runCtx
}

// Options returns the engine options governing this run.
func (exec *Execution) Options() Options {
	return exec.engine.opts
}

// Evaluator returns the configured script evaluator, or nil.
func (exec *Execution) Evaluator() ScriptEvaluator {
	return exec.engine.script
}

// Logger returns the run-scoped logger.
func (exec *Execution) Logger() zerolog.Logger {
	return exec.logger
}

// Locate polls the request's candidate selectors and performs the requested
// interaction on the first match.
func (exec *Execution) Locate(ctx context.Context, req LocateRequest) (string, error) {
	if req.Timeout <= 0 {
		req.Timeout = exec.locateBudget(ctx)
	}
	return exec.engine.poller.Locate(ctx, req)
}

// RunAction resolves and executes a single action inside the current step's
// deadline. Composite handlers use it to expand into atomic actions; the
// auth guard runs before each one, and no separate step record is produced.
func (exec *Execution) RunAction(ctx context.Context, actionType string, params Value) error {
	handler, ok := exec.engine.registry.Lookup(actionType)
	if !ok {
		return NewConfigurationError(fmt.Sprintf("unknown action type %q", actionType), nil).
			WithCode(ErrCodeUnknownAction)
	}
	resolved, err := ResolveTemplates(params, exec.lookup)
	if err != nil {
		return err
	}
	return exec.execAction(ctx, actionType, handler, resolved)
}

// run drives the state machine: suite_setup, phases, conditional
// error_recovery, finalization. Only configuration errors escape as error.
func (exec *Execution) run(ctx context.Context) (*ExecutionResult, error) {
	wf := exec.wf

	// Suite setup runs first as a flat step list. A failure here skips all
	// phases: recovery gets one chance, then the run finalizes unsuccessful.
	exec.agg.TransitionTo(RunStateSuiteSetup)
	if len(wf.SuiteSetup) > 0 {
		ok, err := exec.runSteps(ctx, phaseSuiteSetup, wf.SuiteSetup, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			exec.logger.Warn().Msg("suite setup failed, skipping phases")
			exec.agg.MarkSetupFailed()
			exec.runRecovery(ctx, recoveryTriggerSetup)
			return exec.finalize(), nil
		}
	}

	// Execute the declared phases in order.
	exec.agg.TransitionTo(RunStatePhases)
	for i := range wf.Phases {
		if exec.engine.guard.StopRequested() {
			exec.handleStop("before phase " + wf.Phases[i].Name)
			break
		}
		if ctx.Err() != nil {
			exec.logger.Warn().Msg("run cancelled, finalizing with completed phases")
			break
		}

		result, err := exec.runPhase(ctx, &wf.Phases[i])
		exec.agg.RecordPhase(result)
		if err != nil {
			return nil, err
		}

		if !result.Success && exec.engine.opts.StopOnPhaseFailure {
			exec.logger.Warn().
				Str("phase", result.Name).
				Msg("stopping after failed phase")
			break
		}
	}

	// Recovery runs once after the phase loop if anything failed.
	if exec.agg.AnyPhaseFailed() {
		exec.runRecovery(ctx, recoveryTriggerPhases)
	}

	return exec.finalize(), nil
}

// runPhase executes one phase's steps and derives its outcome.
func (exec *Execution) runPhase(ctx context.Context, phase *Phase) (PhaseResult, error) {
	started := time.Now().UTC()
	result := PhaseResult{
		Name:      phase.Name,
		Status:    PhaseStatusRunning,
		StartedAt: started,
	}

	logger := exec.logger.With().Str("phase", phase.Name).Logger()
	logger.Info().Int("steps", len(phase.Steps)).Msg("phase started")
	exec.publish(EventTypePhaseStarted, phase.Name, "",
		fmt.Sprintf("Started phase %s", phase.Name), nil)

	var span trace.Span
	if exec.engine.tracer != nil {
		ctx, span = exec.engine.tracer.StartPhaseSpan(ctx, phase.Name)
		defer span.End()
	}

	before := exec.agg.Steps()
	ok, err := exec.runSteps(ctx, phase.Name, phase.Steps, false)

	completed := time.Now().UTC()
	result.CompletedAt = completed
	result.Duration = completed.Sub(started)
	result.ExecutedSteps = exec.executedActions(before)

	if err != nil {
		result.Success = false
		result.Status = PhaseStatusFailed
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return result, err
	}

	result.Success = ok
	if ok {
		result.Status = PhaseStatusSuccess
		logger.Info().Dur("duration", result.Duration).Msg("phase completed")
		exec.publish(EventTypePhaseCompleted, phase.Name, "",
			fmt.Sprintf("Completed phase %s", phase.Name), nil)
		if span != nil {
			telemetry.RecordSuccess(span)
		}
	} else {
		result.Status = PhaseStatusFailed
		logger.Warn().Dur("duration", result.Duration).Msg("phase failed")
		exec.publish(EventTypePhaseFailed, phase.Name, "",
			fmt.Sprintf("Phase %s failed", phase.Name), nil)
		if span != nil {
			telemetry.RecordError(span, errors.New("phase failed"))
		}
	}
	exec.engine.metrics.RecordPhase(string(result.Status), result.Duration)

	return result, nil
}

// runSteps executes a flat step list and reports whether it succeeded under
// the configured success mode. In recovery mode every failure is swallowed
// and the return value carries no meaning. The error return is non-nil only
// for configuration failures.
func (exec *Execution) runSteps(ctx context.Context, phaseName string, steps []Step, recovery bool) (bool, error) {
	exec.phase = phaseName
	defer func() { exec.phase = "" }()

	// Success tracking: strict mode fails on any required failure, recover
	// mode takes the outcome of the last attempted required step.
	strictFailed := false
	lastRequired := true

	for i := range steps {
		step := &steps[i]

		if exec.engine.guard.StopRequested() {
			exec.handleStop(fmt.Sprintf("before step %s in %s", step.Action, phaseName))
			break
		}
		if ctx.Err() != nil {
			break
		}

		record, err := exec.runStep(ctx, phaseName, step)
		exec.agg.RecordStep(record)

		if err == nil {
			if !step.Optional {
				lastRequired = true
			}
			continue
		}

		if IsFatal(err) && !recovery {
			// Configuration errors abort the run. The failed record stays
			// in the history for diagnosis.
			return false, err
		}

		if recovery {
			exec.logger.Warn().Err(err).
				Str("step", step.Action).
				Msg("recovery step failed, continuing")
			continue
		}

		if step.Optional {
			// Already recorded as skipped; no history entry, no outcome
			// contribution.
			continue
		}

		exec.agg.RecordError(phaseName, step.Action, err)
		exec.runCtx.SetLastError(err.Error())
		strictFailed = true
		lastRequired = false

		if exec.engine.opts.FailFast {
			exec.logger.Warn().
				Str("phase", phaseName).
				Str("step", step.Action).
				Msg("fail fast, abandoning remaining steps")
			break
		}
	}

	if exec.engine.opts.PhaseSuccessMode == PhaseSuccessStrict {
		return !strictFailed, nil
	}
	return lastRequired, nil
}

// runStep executes one step under its deadline and returns the populated
// record. The returned error is nil exactly when the record status is
// success.
func (exec *Execution) runStep(ctx context.Context, phaseName string, step *Step) (StepRecord, error) {
	started := time.Now().UTC()
	record := StepRecord{
		Phase:     phaseName,
		Action:    step.Action,
		Status:    StepStatusSuccess,
		Optional:  step.Optional,
		Params:    step.Params,
		StartedAt: started,
	}

	exec.runCtx.SetCurrent(phaseName, step.Action)
	logger := exec.logger.With().
		Str("phase", phaseName).
		Str("step", step.Action).
		Logger()
	logger.Debug().Msg("step started")
	exec.publish(EventTypeStepStarted, phaseName, step.Action,
		fmt.Sprintf("Started step %s", step.Action), nil)

	// The explicit step timeout doubles as the selector poll budget for any
	// locate this step performs.
	budget := exec.engine.opts.MaxStepDuration
	if step.Timeout > 0 {
		budget = step.Timeout
	}

	finish := func(err error) (StepRecord, error) {
		completed := time.Now().UTC()
		record.CompletedAt = completed
		record.Duration = completed.Sub(started)
		exec.runCtx.Checkpoint()

		if err == nil {
			record.Status = StepStatusSuccess
			logger.Debug().Dur("duration", record.Duration).Msg("step completed")
			exec.publish(EventTypeStepCompleted, phaseName, step.Action,
				fmt.Sprintf("Completed step %s", step.Action), nil)
			exec.engine.metrics.RecordStep(step.Action, string(record.Status), record.Duration)
			return record, nil
		}

		record.Error = err.Error()
		if step.Optional {
			record.Status = StepStatusSkipped
			logger.Info().Err(err).Msg("optional step failed, skipping")
			exec.publish(EventTypeStepSkipped, phaseName, step.Action,
				fmt.Sprintf("Skipped optional step %s: %v", step.Action, err), nil)
		} else {
			record.Status = StepStatusFailed
			logger.Warn().Err(err).Dur("duration", record.Duration).Msg("step failed")
			exec.publish(EventTypeStepFailed, phaseName, step.Action,
				fmt.Sprintf("Step %s failed: %v", step.Action, err), nil)
		}
		exec.engine.metrics.RecordStep(step.Action, string(record.Status), record.Duration)
		exec.engine.metrics.RecordError(string(Class(err)), errorCode(err))
		exec.failureScreenshot(phaseName, step.Action)
		return record, err
	}

	// Resolve templates against the layered lookup before the deadline
	// starts; resolution never touches the backend.
	resolved, err := ResolveTemplates(step.Params, exec.lookup)
	if err != nil {
		return finish(exec.classify(err, phaseName, step.Action, budget))
	}
	record.Params = resolved

	handler, ok := exec.engine.registry.Lookup(step.Action)
	if !ok {
		return finish(NewConfigurationError(fmt.Sprintf("unknown action type %q", step.Action), nil).
			WithCode(ErrCodeUnknownAction).
			WithPhase(phaseName).
			WithStep(step.Action))
	}

	stepCtx, cancel := context.WithTimeout(ctx, budget)
	exec.stepTimeout = step.Timeout
	err = exec.execAction(stepCtx, step.Action, handler, resolved)
	exec.stepTimeout = 0
	cancel()

	if err != nil {
		return finish(exec.classify(err, phaseName, step.Action, budget))
	}
	return finish(nil)
}

// execAction runs the guard and then the handler. Both workflow steps and
// composite sub-actions funnel through here, so auth is checked before every
// backend interaction.
func (exec *Execution) execAction(ctx context.Context, actionType string, handler ActionHandler, params Value) error {
	if err := exec.engine.guard.PreAction(ctx); err != nil {
		return err
	}

	var span trace.Span
	if exec.engine.tracer != nil {
		ctx, span = exec.engine.tracer.StartStepSpan(ctx, exec.phase, actionType)
		defer span.End()
	}

	err := handler(ctx, exec, params)
	if span != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}
	return err
}

// runRecovery executes the error_recovery steps best-effort. Failures are
// logged and recorded in the execution history but never influence the run
// outcome or the error history.
func (exec *Execution) runRecovery(ctx context.Context, trigger string) {
	if len(exec.wf.ErrorRecovery) == 0 {
		return
	}

	exec.agg.TransitionTo(RunStateErrorRecovery)
	exec.engine.metrics.RecordRecovery(trigger)
	exec.logger.Info().
		Str("trigger", trigger).
		Int("steps", len(exec.wf.ErrorRecovery)).
		Msg("error recovery started")
	exec.publish(EventTypeRecoveryStarted, phaseErrorRecovery, "",
		"Started error recovery", map[string]interface{}{"trigger": trigger})

	// Recovery must run even when the caller's context is already done, or
	// cleanup steps would silently vanish on cancellation.
	recoveryCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recoveryCtx, cancel = context.WithTimeout(context.Background(), exec.engine.opts.MaxStepDuration)
		defer cancel()
	}

	_, _ = exec.runSteps(recoveryCtx, phaseErrorRecovery, exec.wf.ErrorRecovery, true)

	exec.logger.Info().Msg("error recovery completed")
	exec.publish(EventTypeRecoveryCompleted, phaseErrorRecovery, "",
		"Completed error recovery", nil)
}

// handleStop logs and announces an honored stop request.
func (exec *Execution) handleStop(where string) {
	exec.logger.Warn().Str("at", where).Msg("stop requested, finalizing run")
	exec.publish(EventTypeWarning, "", "", "Stop requested: "+where, nil)
}

// finalize seals the aggregate and returns the completed result.
func (exec *Execution) finalize() *ExecutionResult {
	return exec.agg.Finalize(exec.runCtx)
}

// classify normalizes an action failure into an EngineError tagged with the
// failing phase and step. Deadline expiry maps to the action_timeout class.
func (exec *Execution) classify(err error, phaseName, action string, budget time.Duration) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		if engineErr.Phase == "" {
			engineErr.Phase = phaseName
		}
		if engineErr.Step == "" {
			engineErr.Step = action
		}
		return engineErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewActionTimeoutError(fmt.Sprintf("step exceeded its %s budget", budget), err).
			WithPhase(phaseName).
			WithStep(action)
	}
	if errors.Is(err, context.Canceled) {
		return NewSystemError("step cancelled", err).
			WithCode(ErrCodeStopRequested).
			WithPhase(phaseName).
			WithStep(action)
	}

	return NewSystemError("action failed", err).
		WithCode(ErrCodeBackendFailed).
		WithPhase(phaseName).
		WithStep(action)
}

// locateBudget returns the selector poll budget for the in-flight step: the
// explicit step timeout when one was declared, otherwise the engine-wide
// maximum, in both cases capped by the remaining context deadline.
func (exec *Execution) locateBudget(ctx context.Context) time.Duration {
	budget := exec.engine.opts.MaxWaitForTimeout
	if exec.stepTimeout > 0 {
		budget = exec.stepTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	return budget
}

// actionTimeout returns the budget a backend call should advertise for the
// in-flight step: the remaining context deadline when one is set.
func (exec *Execution) actionTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return exec.engine.opts.MaxStepDuration
}

// recordURL refreshes the context's URL from the backend, best-effort.
func (exec *Execution) recordURL(ctx context.Context) {
	url, err := exec.engine.backend.CurrentURL(ctx)
	if err != nil {
		exec.logger.Debug().Err(err).Msg("could not read current url")
		return
	}
	exec.runCtx.SetURL(url)
}

// screenshotPath generates an artifact path for a capture without an
// explicit path parameter.
func (exec *Execution) screenshotPath(hint string) (string, error) {
	dir := exec.engine.opts.ArtifactDir
	if dir == "" {
		return "", NewConfigurationError(
			"screenshot requires a path parameter or a configured artifact directory", nil).
			WithCode(ErrCodeValidation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", NewSystemError("failed to create artifact directory", err)
	}

	exec.screenshots++
	short := exec.runID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s-%03d-%s.png", short, exec.screenshots, sanitizeArtifactName(hint))
	return filepath.Join(dir, name), nil
}

// failureScreenshot captures the page after a failed step when enabled. It
// uses a fresh context so the capture survives the step's expired deadline.
func (exec *Execution) failureScreenshot(phaseName, action string) {
	if !exec.engine.opts.ScreenshotOnError || exec.engine.opts.ArtifactDir == "" {
		return
	}

	path, err := exec.screenshotPath(fmt.Sprintf("failure-%s-%s", phaseName, action))
	if err != nil {
		exec.logger.Debug().Err(err).Msg("failure screenshot path unavailable")
		return
	}

	shotCtx, cancel := context.WithTimeout(context.Background(), failureScreenshotTimeout)
	defer cancel()

	done, err := exec.engine.backend.Screenshot(shotCtx, path, true, failureScreenshotTimeout)
	if err != nil || !done {
		exec.logger.Debug().Err(err).Str("path", path).Msg("failure screenshot not captured")
		return
	}
	exec.runCtx.Set("last_failure_screenshot", StringValue(path))
	exec.logger.Debug().Str("path", path).Msg("failure screenshot captured")
}

// buildLookup layers the template namespaces: live run state first, then
// workflow selectors, runner config values, and run metadata.
func (exec *Execution) buildLookup() LookupFunc {
	selectors := make(map[string]Value, len(exec.wf.Selectors))
	for name, sel := range exec.wf.Selectors {
		selectors[name] = StringValue(sel)
	}
	selectorLayer := MapValue(map[string]Value{
		"selectors": MapValue(selectors),
	})

	configLayer := MapValue(map[string]Value{
		"config": MapValue(exec.engine.values),
	})

	runLayer := MapValue(map[string]Value{
		"run": MapValue(map[string]Value{
			"id":        StringValue(exec.runID),
			"workflow":  StringValue(exec.wf.Name),
			"timestamp": StringValue(exec.agg.Result().StartTime.Format(time.RFC3339)),
		}),
	})

	return func(path string) (Value, bool) {
		if v, ok := exec.runCtx.LookupState(path); ok {
			return v, true
		}
		if v, ok := selectorLayer.Lookup(path); ok {
			return v, true
		}
		if v, ok := configLayer.Lookup(path); ok {
			return v, true
		}
		return runLayer.Lookup(path)
	}
}

// executedActions returns the actions of the step records appended since the
// given aggregate size.
func (exec *Execution) executedActions(since int) []string {
	history := exec.agg.Result().ExecutionHistory
	actions := make([]string, 0, len(history)-since)
	for _, rec := range history[since:] {
		actions = append(actions, rec.Action)
	}
	return actions
}

// publish emits a run event when an event publisher is configured.
func (exec *Execution) publish(eventType EventType, phaseName, step, message string, data map[string]interface{}) {
	if exec.engine.events == nil {
		return
	}
	_ = exec.engine.events.Publish(telemetry.Event{
		Type:     string(eventType),
		Source:   "engine",
		RunID:    exec.runID,
		Workflow: exec.wf.Name,
		Phase:    phaseName,
		Step:     step,
		Message:  message,
		Level:    eventType.Severity(),
		Data:     data,
	})
}

// errorCode extracts the machine code from an EngineError, or falls back to
// the internal code.
func errorCode(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ErrCodeInternal
}

// sanitizeArtifactName makes a hint safe for use in a file name.
func sanitizeArtifactName(hint string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(hint) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
