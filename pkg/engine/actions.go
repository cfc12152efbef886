package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Action type identifiers recognized by the default registry. "open" and
// "navigate" are aliases, as are "input" and "fill".
const (
	ActionOpen       = "open"
	ActionNavigate   = "navigate"
	ActionClick      = "click"
	ActionInput      = "input"
	ActionFill       = "fill"
	ActionWaitFor    = "wait_for"
	ActionScreenshot = "screenshot"
	ActionAssertURL  = "assert_url"
	ActionSleep      = "sleep"
	ActionStore      = "store"
	ActionEvalScript = "eval_script"
	ActionLogin      = "login"
	ActionSearch     = "search"
)

// ActionHandler executes one step whose parameters have already been resolved.
type ActionHandler func(ctx context.Context, exec *Execution, params Value) error

// Registry maps action type identifiers to handlers. The set of actions is
// fixed at construction; there is no runtime plugin loading.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ActionHandler),
	}
}

// Register adds a handler for the given action type. Registering the same
// type twice is an error.
func (r *Registry) Register(actionType string, handler ActionHandler) error {
	if actionType == "" {
		return NewConfigurationError("action type must not be empty", nil).
			WithCode(ErrCodeValidation)
	}
	if handler == nil {
		return NewConfigurationError(
			fmt.Sprintf("action %q handler must not be nil", actionType), nil,
		).WithCode(ErrCodeValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[actionType]; exists {
		return NewConfigurationError(
			fmt.Sprintf("action %q already registered", actionType), nil,
		).WithCode(ErrCodeValidation)
	}
	r.handlers[actionType] = handler
	return nil
}

func (r *Registry) mustRegister(actionType string, handler ActionHandler) {
	if err := r.Register(actionType, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for the given action type.
func (r *Registry) Lookup(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Has reports whether the action type is registered.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with every built-in action. This is the
// single place the built-in action set is defined.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Atomic actions
	r.mustRegister(ActionOpen, runNavigate)
	r.mustRegister(ActionNavigate, runNavigate)
	r.mustRegister(ActionClick, runClick)
	r.mustRegister(ActionInput, runFill)
	r.mustRegister(ActionFill, runFill)
	r.mustRegister(ActionWaitFor, runWaitFor)
	r.mustRegister(ActionScreenshot, runScreenshot)
	r.mustRegister(ActionAssertURL, runAssertURL)
	r.mustRegister(ActionSleep, runSleep)
	r.mustRegister(ActionStore, runStore)
	r.mustRegister(ActionEvalScript, runEvalScript)

	// Semantic actions expanding into atomic sub-sequences
	r.mustRegister(ActionLogin, runLogin)
	r.mustRegister(ActionSearch, runSearch)

	return r
}

// Parameter access helpers. Params are mapping Values with resolution already
// applied.

// paramString returns the first present scalar under keys, rendered as text.
func paramString(params Value, keys ...string) (string, bool) {
	for _, k := range keys {
		if v := params.Get(k); !v.IsNull() {
			return v.Text(), true
		}
	}
	return "", false
}

// paramBool returns the boolean under key, or fallback.
func paramBool(params Value, key string, fallback bool) bool {
	if v := params.Get(key); !v.IsNull() {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	return fallback
}

// paramMillis returns the first present numeric under keys as a duration in
// milliseconds.
func paramMillis(params Value, keys ...string) (time.Duration, bool) {
	for _, k := range keys {
		if v := params.Get(k); !v.IsNull() {
			if ms, ok := v.AsInt(); ok && ms >= 0 {
				return time.Duration(ms) * time.Millisecond, true
			}
		}
	}
	return 0, false
}

// Atomic action handlers.

func runNavigate(ctx context.Context, exec *Execution, params Value) error {
	url, ok := paramString(params, "url")
	if !ok || url == "" {
		return NewConfigurationError("navigate requires a url parameter", nil).
			WithCode(ErrCodeValidation)
	}

	done, err := exec.Backend().Navigate(ctx, url, exec.actionTimeout(ctx))
	if err != nil {
		return NewSystemError(fmt.Sprintf("navigation to %s failed", url), err).
			WithCode(ErrCodeBackendFailed)
	}
	if !done {
		return NewSystemError(fmt.Sprintf("navigation to %s did not complete", url), nil).
			WithCode(ErrCodeBackendFailed)
	}

	exec.recordURL(ctx)
	return nil
}

func runClick(ctx context.Context, exec *Execution, params Value) error {
	selector, ok := paramString(params, "selector")
	if !ok || selector == "" {
		return NewConfigurationError("click requires a selector parameter", nil).
			WithCode(ErrCodeValidation)
	}

	_, err := exec.Locate(ctx, LocateRequest{
		Selector: selector,
		Kind:     SelectorKindClick,
		Timeout:  exec.locateBudget(ctx),
	})
	return err
}

func runFill(ctx context.Context, exec *Execution, params Value) error {
	selector, ok := paramString(params, "selector")
	if !ok || selector == "" {
		return NewConfigurationError("fill requires a selector parameter", nil).
			WithCode(ErrCodeValidation)
	}
	text, ok := paramString(params, "text", "value")
	if !ok {
		return NewConfigurationError("fill requires a text parameter", nil).
			WithCode(ErrCodeValidation)
	}

	_, err := exec.Locate(ctx, LocateRequest{
		Selector: selector,
		Kind:     SelectorKindFill,
		Timeout:  exec.locateBudget(ctx),
		Text:     text,
	})
	return err
}

func runWaitFor(ctx context.Context, exec *Execution, params Value) error {
	selector, ok := paramString(params, "selector")
	if !ok || selector == "" {
		return NewConfigurationError("wait_for requires a selector parameter", nil).
			WithCode(ErrCodeValidation)
	}
	state, _ := paramString(params, "state")
	attrName, _ := paramString(params, "attr")
	attrValue, _ := paramString(params, "attr_value")

	matched, err := exec.Locate(ctx, LocateRequest{
		Selector:  selector,
		Kind:      SelectorKindWait,
		Timeout:   exec.locateBudget(ctx),
		State:     state,
		AttrName:  attrName,
		AttrValue: attrValue,
	})
	if err != nil {
		return err
	}

	exec.Context().Set("last_matched_selector", StringValue(matched))
	return nil
}

func runScreenshot(ctx context.Context, exec *Execution, params Value) error {
	path, _ := paramString(params, "path")
	if path == "" {
		generated, err := exec.screenshotPath("step")
		if err != nil {
			return err
		}
		path = generated
	}
	fullPage := paramBool(params, "full_page", true)

	done, err := exec.Backend().Screenshot(ctx, path, fullPage, exec.actionTimeout(ctx))
	if err != nil {
		return NewSystemError("screenshot failed", err).WithCode(ErrCodeBackendFailed)
	}
	if !done {
		return NewSystemError("screenshot was not captured", nil).WithCode(ErrCodeBackendFailed)
	}

	exec.Context().Set("last_screenshot", StringValue(path))
	return nil
}

func runAssertURL(ctx context.Context, exec *Execution, params Value) error {
	contains, hasContains := paramString(params, "contains")
	equals, hasEquals := paramString(params, "equals")
	pattern, hasPattern := paramString(params, "matches")
	if !hasContains && !hasEquals && !hasPattern {
		return NewConfigurationError(
			"assert_url requires a contains, equals, or matches parameter", nil,
		).WithCode(ErrCodeValidation)
	}

	current, err := exec.Backend().CurrentURL(ctx)
	if err != nil {
		return NewSystemError("failed to read current URL", err).
			WithCode(ErrCodeBackendFailed)
	}
	exec.Context().SetURL(current)

	switch {
	case hasEquals && current != equals:
		return NewSystemError(
			fmt.Sprintf("current URL %q does not equal %q", current, equals), nil,
		).WithCode(ErrCodeAssertionFailed)
	case hasContains && !strings.Contains(current, contains):
		return NewSystemError(
			fmt.Sprintf("current URL %q does not contain %q", current, contains), nil,
		).WithCode(ErrCodeAssertionFailed)
	case hasPattern:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return NewConfigurationError(
				fmt.Sprintf("assert_url pattern %q is invalid", pattern), err,
			).WithCode(ErrCodeValidation)
		}
		if !re.MatchString(current) {
			return NewSystemError(
				fmt.Sprintf("current URL %q does not match %q", current, pattern), nil,
			).WithCode(ErrCodeAssertionFailed)
		}
	}
	return nil
}

func runSleep(ctx context.Context, exec *Execution, params Value) error {
	d, ok := paramMillis(params, "ms", "duration_ms")
	if !ok {
		if raw, present := paramString(params, "duration"); present {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed < 0 {
				return NewConfigurationError(
					fmt.Sprintf("sleep duration %q is invalid", raw), err,
				).WithCode(ErrCodeValidation)
			}
			d, ok = parsed, true
		}
	}
	if !ok {
		return NewConfigurationError("sleep requires an ms or duration parameter", nil).
			WithCode(ErrCodeValidation)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runStore(ctx context.Context, exec *Execution, params Value) error {
	key, ok := paramString(params, "key")
	if !ok || key == "" {
		return NewConfigurationError("store requires a key parameter", nil).
			WithCode(ErrCodeValidation)
	}
	exec.Context().Set(key, params.Get("value").Clone())
	return nil
}

func runEvalScript(ctx context.Context, exec *Execution, params Value) error {
	source, ok := paramString(params, "script", "source")
	if !ok || source == "" {
		return NewConfigurationError("eval_script requires a script parameter", nil).
			WithCode(ErrCodeValidation)
	}
	evaluator := exec.Evaluator()
	if evaluator == nil {
		return NewConfigurationError("eval_script requires a script evaluator", nil).
			WithCode(ErrCodeValidation)
	}

	snapshot := exec.Context().Snapshot()
	state := make(map[string]interface{}, len(snapshot.State))
	for k, v := range snapshot.State {
		state[k] = v.ToGo()
	}
	globals := map[string]interface{}{
		"state": state,
		"url":   snapshot.URL,
		"phase": snapshot.Phase,
	}

	exported, err := evaluator.Evaluate(ctx, source, globals)
	if err != nil {
		// Deadline and cancellation surface as such, not as script failures
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return NewSystemError("script evaluation failed", err).
			WithCode(ErrCodeScriptFailed)
	}

	for k, raw := range exported {
		v, err := ValueFromGo(raw)
		if err != nil {
			return NewSystemError(
				fmt.Sprintf("script exported an unsupported value for %q", k), err,
			).WithCode(ErrCodeScriptFailed)
		}
		exec.Context().Set(k, v)
	}
	return nil
}
