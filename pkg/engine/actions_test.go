package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func singleAction(t *testing.T, backend Backend, actionType string, params map[string]Value) *ActionOutcome {
	t.Helper()
	eng := newTestEngine(t, backend, fastOptions())
	return eng.ExecuteSingleAction(context.Background(), actionType, MapValue(params))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, exec *Execution, params Value) error { return nil }

	if err := r.Register("custom", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Has("custom") {
		t.Error("Expected custom action registered")
	}

	if err := r.Register("custom", handler); !IsConfigurationError(err) {
		t.Errorf("Expected configuration error for duplicate, got %v", err)
	}
	if err := r.Register("", handler); !IsConfigurationError(err) {
		t.Errorf("Expected configuration error for empty type, got %v", err)
	}
	if err := r.Register("nil_handler", nil); !IsConfigurationError(err) {
		t.Errorf("Expected configuration error for nil handler, got %v", err)
	}
}

func TestRegistry_TypesSorted(t *testing.T) {
	types := DefaultRegistry().Types()
	if len(types) == 0 {
		t.Fatal("Expected built-in actions")
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("Expected sorted types, got %v", types)
		}
	}
	for _, required := range []string{
		ActionNavigate, ActionClick, ActionFill, ActionWaitFor,
		ActionAssertURL, ActionSleep, ActionStore, ActionLogin, ActionSearch,
	} {
		if !DefaultRegistry().Has(required) {
			t.Errorf("Expected built-in action %q", required)
		}
	}
}

func TestAction_Navigate(t *testing.T) {
	backend := newMockBackend()
	outcome := singleAction(t, backend, ActionNavigate, map[string]Value{
		"url": StringValue("https://portal.example.com"),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	if backend.callCount("navigate:https://portal.example.com") != 1 {
		t.Error("Expected one navigation call")
	}
	if outcome.Context.URL != "https://portal.example.com" {
		t.Errorf("Expected URL recorded in context, got %q", outcome.Context.URL)
	}
}

func TestAction_Navigate_MissingURL(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionNavigate, nil)
	if outcome.Success {
		t.Fatal("Expected failure for missing url")
	}
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error, got %v", outcome.Err)
	}
}

func TestAction_Navigate_BackendError(t *testing.T) {
	backend := newMockBackend()
	backend.navErr = errors.New("connection refused")

	outcome := singleAction(t, backend, ActionNavigate, map[string]Value{
		"url": StringValue("https://portal.example.com"),
	})
	if outcome.Success {
		t.Fatal("Expected failure")
	}
	var engineErr *EngineError
	if !errors.As(outcome.Err, &engineErr) {
		t.Fatalf("Expected EngineError, got %T", outcome.Err)
	}
	if engineErr.Class != ErrorClassSystem {
		t.Errorf("Expected system class, got %s", engineErr.Class)
	}
}

func TestAction_WaitFor_RecordsMatchedSelector(t *testing.T) {
	backend := newMockBackend()
	backend.missing["#spinner"] = true

	outcome := singleAction(t, backend, ActionWaitFor, map[string]Value{
		"selector": StringValue("#spinner, #content"),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	matched, ok := outcome.Context.State["last_matched_selector"]
	if !ok {
		t.Fatal("Expected last_matched_selector in state")
	}
	if got := matched.Text(); got != "#content" {
		t.Errorf("Expected #content, got %q", got)
	}
}

func TestAction_Fill_RequiresText(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionFill, map[string]Value{
		"selector": StringValue("#field"),
	})
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error, got %v", outcome.Err)
	}
}

func TestAction_Fill_AcceptsValueAlias(t *testing.T) {
	backend := newMockBackend()
	outcome := singleAction(t, backend, ActionInput, map[string]Value{
		"selector": StringValue("#field"),
		"value":    IntValue(42),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	backend.mu.Lock()
	filled := backend.filled["#field"]
	backend.mu.Unlock()
	if filled != "42" {
		t.Errorf("Expected scalar rendered as text, got %q", filled)
	}
}

func TestAction_AssertURL(t *testing.T) {
	tests := []struct {
		name    string
		current string
		params  map[string]Value
		wantOK  bool
	}{
		{"contains match", "https://x.test/dashboard", map[string]Value{"contains": StringValue("/dashboard")}, true},
		{"contains miss", "https://x.test/login", map[string]Value{"contains": StringValue("/dashboard")}, false},
		{"equals match", "https://x.test/a", map[string]Value{"equals": StringValue("https://x.test/a")}, true},
		{"equals miss", "https://x.test/a", map[string]Value{"equals": StringValue("https://x.test/b")}, false},
		{"pattern match", "https://x.test/orders/991", map[string]Value{"matches": StringValue(`/orders/\d+$`)}, true},
		{"pattern miss", "https://x.test/orders/abc", map[string]Value{"matches": StringValue(`/orders/\d+$`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend()
			backend.url = tt.current

			outcome := singleAction(t, backend, ActionAssertURL, tt.params)
			if outcome.Success != tt.wantOK {
				t.Errorf("Expected success=%v, got %v (err=%v)", tt.wantOK, outcome.Success, outcome.Err)
			}
			if outcome.Context.URL != tt.current {
				t.Errorf("Expected current URL snapshotted, got %q", outcome.Context.URL)
			}
		})
	}
}

func TestAction_AssertURL_InvalidPattern(t *testing.T) {
	backend := newMockBackend()
	backend.url = "https://x.test"

	outcome := singleAction(t, backend, ActionAssertURL, map[string]Value{
		"matches": StringValue("[unclosed"),
	})
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error for invalid pattern, got %v", outcome.Err)
	}
}

func TestAction_AssertURL_RequiresCondition(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionAssertURL, nil)
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error, got %v", outcome.Err)
	}
}

func TestAction_Sleep(t *testing.T) {
	start := time.Now()
	outcome := singleAction(t, newMockBackend(), ActionSleep, map[string]Value{
		"ms": IntValue(120),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected sleep of at least 100ms, got %s", elapsed)
	}
}

func TestAction_Sleep_DurationString(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionSleep, map[string]Value{
		"duration": StringValue("50ms"),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
}

func TestAction_Sleep_Invalid(t *testing.T) {
	for _, params := range []map[string]Value{
		nil,
		{"duration": StringValue("not-a-duration")},
		{"duration": StringValue("-2s")},
	} {
		outcome := singleAction(t, newMockBackend(), ActionSleep, params)
		if !IsConfigurationError(outcome.Err) {
			t.Errorf("Expected configuration error for %v, got %v", params, outcome.Err)
		}
	}
}

func TestAction_Store(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionStore, map[string]Value{
		"key": StringValue("order_id"),
		"value": MapValue(map[string]Value{
			"id": IntValue(991),
		}),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	stored, ok := outcome.Context.State["order_id"]
	if !ok {
		t.Fatal("Expected order_id in state")
	}
	id, _ := stored.Lookup("id")
	if n, _ := id.AsInt(); n != 991 {
		t.Errorf("Expected stored mapping to survive, got %v", stored)
	}
}

func TestAction_Store_RequiresKey(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionStore, map[string]Value{
		"value": StringValue("x"),
	})
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error, got %v", outcome.Err)
	}
}

func TestAction_Screenshot_ExplicitPath(t *testing.T) {
	backend := newMockBackend()
	outcome := singleAction(t, backend, ActionScreenshot, map[string]Value{
		"path": StringValue("/tmp/shot.png"),
	})
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	if got := outcome.Context.State["last_screenshot"].Text(); got != "/tmp/shot.png" {
		t.Errorf("Expected last_screenshot recorded, got %q", got)
	}
}

func TestAction_Screenshot_GeneratedPathNeedsArtifactDir(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionScreenshot, nil)
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error without artifact dir, got %v", outcome.Err)
	}
}

func TestAction_Screenshot_GeneratedPath(t *testing.T) {
	backend := newMockBackend()
	opts := fastOptions()
	opts.ArtifactDir = t.TempDir()
	eng := newTestEngine(t, backend, opts)

	outcome := eng.ExecuteSingleAction(context.Background(), ActionScreenshot, NullValue())
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}
	backend.mu.Lock()
	shots := len(backend.screenshots)
	backend.mu.Unlock()
	if shots != 1 {
		t.Errorf("Expected 1 screenshot, got %d", shots)
	}
}

func TestAction_EvalScript_RequiresEvaluator(t *testing.T) {
	outcome := singleAction(t, newMockBackend(), ActionEvalScript, map[string]Value{
		"script": StringValue("x = 1"),
	})
	if !IsConfigurationError(outcome.Err) {
		t.Errorf("Expected configuration error, got %v", outcome.Err)
	}
}

type stubEvaluator struct {
	mu      sync.Mutex
	globals map[string]interface{}
	exports map[string]interface{}
	err     error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, source string, globals map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = globals
	if s.err != nil {
		return nil, s.err
	}
	return s.exports, nil
}

func TestAction_EvalScript_MergesExports(t *testing.T) {
	evaluator := &stubEvaluator{exports: map[string]interface{}{
		"order_total": 42,
		"verified":    true,
	}}
	eng, err := New(Config{
		Backend:         newMockBackend(),
		Options:         fastOptions(),
		ScriptEvaluator: evaluator,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome := eng.ExecuteSingleAction(context.Background(), ActionEvalScript, MapValue(map[string]Value{
		"script": StringValue("order_total = 42"),
	}))
	if !outcome.Success {
		t.Fatalf("Expected success, got %v", outcome.Err)
	}

	total, ok := outcome.Context.State["order_total"]
	if !ok {
		t.Fatal("Expected order_total exported into state")
	}
	if n, _ := total.AsInt(); n != 42 {
		t.Errorf("Expected 42, got %v", total)
	}

	evaluator.mu.Lock()
	defer evaluator.mu.Unlock()
	if _, ok := evaluator.globals["state"]; !ok {
		t.Error("Expected run state passed to the evaluator")
	}
}

func TestAction_EvalScript_FailureIsSystemError(t *testing.T) {
	evaluator := &stubEvaluator{err: errors.New("syntax error at line 3")}
	eng, err := New(Config{
		Backend:         newMockBackend(),
		Options:         fastOptions(),
		ScriptEvaluator: evaluator,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome := eng.ExecuteSingleAction(context.Background(), ActionEvalScript, MapValue(map[string]Value{
		"script": StringValue("bad"),
	}))
	if outcome.Success {
		t.Fatal("Expected failure")
	}
	if !IsSystemError(outcome.Err) {
		t.Errorf("Expected system error, got %v", outcome.Err)
	}
	var engineErr *EngineError
	if errors.As(outcome.Err, &engineErr) && engineErr.Code != ErrCodeScriptFailed {
		t.Errorf("Expected script failed code, got %q", engineErr.Code)
	}
}

func TestParamHelpers(t *testing.T) {
	params := MapValue(map[string]Value{
		"name":    StringValue("demo"),
		"count":   IntValue(3),
		"enabled": BoolValue(false),
		"wait_ms": IntValue(250),
	})

	if s, ok := paramString(params, "missing", "name"); !ok || s != "demo" {
		t.Errorf("Expected fallback key lookup, got %q ok=%v", s, ok)
	}
	if s, ok := paramString(params, "count"); !ok || s != "3" {
		t.Errorf("Expected numeric rendered as text, got %q ok=%v", s, ok)
	}
	if _, ok := paramString(params, "absent"); ok {
		t.Error("Expected miss for absent key")
	}

	if got := paramBool(params, "enabled", true); got {
		t.Error("Expected explicit false to win over fallback")
	}
	if got := paramBool(params, "absent", true); !got {
		t.Error("Expected fallback for absent key")
	}

	if d, ok := paramMillis(params, "wait_ms"); !ok || d != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s ok=%v", d, ok)
	}
	if _, ok := paramMillis(params, "name"); ok {
		t.Error("Expected miss for non-numeric value")
	}
}
