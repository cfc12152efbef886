// Package script evaluates user scripts for the eval_script action using
// Starlark. Run state comes in as predeclared globals; every module-level
// binding the script leaves behind (except underscore-prefixed ones) is
// exported back into run state.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultTimeout bounds one evaluation when no explicit timeout is given.
const DefaultTimeout = 30 * time.Second

// Evaluator executes Starlark scripts safely. It implements
// engine.ScriptEvaluator.
type Evaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a Starlark evaluator. A zero timeout selects DefaultTimeout.
func New(timeout time.Duration, logger zerolog.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{
		timeout: timeout,
		logger:  logger.With().Str("component", "script").Logger(),
	}
}

// Evaluate executes source with the given globals and returns the exported
// bindings. Evaluation is bounded by the evaluator timeout and the caller's
// context; a script that runs over budget is cancelled mid-flight.
func (e *Evaluator) Evaluate(ctx context.Context, source string, globals map[string]interface{}) (map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "webpilot",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug().Msg(msg)
		},
	}

	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		exported, err := e.run(thread, source, globals)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- exported
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("evaluation budget exceeded")
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("script evaluation timed out after %s: %w", e.timeout, evalCtx.Err())
		}
		return nil, evalCtx.Err()
	case err := <-errCh:
		return nil, err
	case exported := <-resultCh:
		return exported, nil
	}
}

// run performs the actual evaluation synchronously on the calling goroutine.
func (e *Evaluator) run(thread *starlark.Thread, source string, globals map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}
	for key, val := range globals {
		converted, err := toStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = converted
	}

	module, err := starlark.ExecFile(thread, "script.star", source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	exported := make(map[string]interface{})
	for name, val := range module {
		// Underscore-prefixed bindings are script-internal
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		goVal, err := fromStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		exported[name] = goVal
	}
	return exported, nil
}

// toStarlark converts a Go value to a Starlark value.
func toStarlark(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlark converts a Starlark value to a Go value.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
