package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEvaluator_Evaluate(t *testing.T) {
	evaluator := New(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		globals   map[string]interface{}
		checkFunc func(*testing.T, map[string]interface{})
		wantErr   bool
	}{
		{
			name: "simple arithmetic",
			script: `
result = 2 + 2
`,
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				if out["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", out["result"])
				}
			},
		},
		{
			name: "use input globals",
			script: `
doubled = count * 2
`,
			globals: map[string]interface{}{
				"count": 5,
			},
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				if out["doubled"] != int64(10) {
					t.Errorf("expected doubled=10, got %v", out["doubled"])
				}
			},
		},
		{
			name: "read nested state",
			script: `
user = state["profile"]["name"]
`,
			globals: map[string]interface{}{
				"state": map[string]interface{}{
					"profile": map[string]interface{}{"name": "demo"},
				},
			},
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				if out["user"] != "demo" {
					t.Errorf("expected user=demo, got %v", out["user"])
				}
			},
		},
		{
			name: "generate list with function",
			script: `
def make_list(n):
    result = []
    for i in range(n):
        result.append(i * 2)
    return result

output = make_list(5)
`,
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				output, ok := out["output"].([]interface{})
				if !ok {
					t.Fatalf("expected output to be a list, got %T", out["output"])
				}
				if len(output) != 5 || output[4] != int64(8) {
					t.Errorf("unexpected list values: %v", output)
				}
			},
		},
		{
			name: "dict comprehension",
			script: `
items = ["a", "b", "c"]
result = {val: i for i, val in enumerate(items)}
`,
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				result, ok := out["result"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected result to be a dict, got %T", out["result"])
				}
				if len(result) != 3 || result["b"] != int64(1) {
					t.Errorf("unexpected dict values: %v", result)
				}
			},
		},
		{
			name: "underscore bindings stay internal",
			script: `
_scratch = [1, 2, 3]
total = len(_scratch)
`,
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				if _, ok := out["_scratch"]; ok {
					t.Error("expected _scratch to be skipped")
				}
				if out["total"] != int64(3) {
					t.Errorf("expected total=3, got %v", out["total"])
				}
			},
		},
		{
			name: "zip builtin",
			script: `
pairs = zip(["a", "b"], [1, 2])
`,
			checkFunc: func(t *testing.T, out map[string]interface{}) {
				pairs, ok := out["pairs"].([]interface{})
				if !ok || len(pairs) != 2 {
					t.Fatalf("expected 2 pairs, got %v", out["pairs"])
				}
				first, ok := pairs[0].([]interface{})
				if !ok || first[0] != "a" || first[1] != int64(1) {
					t.Errorf("unexpected pair: %v", pairs[0])
				}
			},
		},
		{
			name: "syntax error",
			script: `
invalid syntax here
`,
			wantErr: true,
		},
		{
			name: "runtime error",
			script: `
result = undefined_variable
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := evaluator.Evaluate(ctx, tt.script, tt.globals)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, out)
			}
		})
	}
}

func TestEvaluator_Timeout(t *testing.T) {
	evaluator := New(100*time.Millisecond, zerolog.Nop())

	script := `
def slow_function():
    result = 0
    for i in range(10000):
        for j in range(10000):
            result = result + 1
    return result

output = slow_function()
`

	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("expected prompt timeout, took %s", elapsed)
	}
}

func TestEvaluator_Cancellation(t *testing.T) {
	evaluator := New(10*time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	script := `
def spin():
    total = 0
    for i in range(10000):
        for j in range(10000):
            total = total + 1
    return total

output = spin()
`
	_, err := evaluator.Evaluate(ctx, script, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
}

func TestEvaluator_TypeConversion(t *testing.T) {
	evaluator := New(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	globals := map[string]interface{}{
		"enabled": true,
		"count":   42,
		"price":   19.99,
		"name":    "test",
		"items":   []interface{}{"a", "b", "c"},
		"config": map[string]interface{}{
			"host": "localhost",
			"port": 8080,
		},
	}
	script := `
flag = enabled and True
total = count + 8
doubled_price = price * 2
label = name + "-suffix"
item_count = len(items)
addr = config["host"] + ":" + str(config["port"])
`

	out, err := evaluator.Evaluate(ctx, script, globals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out["flag"] != true {
		t.Errorf("expected flag=true, got %v", out["flag"])
	}
	if out["total"] != int64(50) {
		t.Errorf("expected total=50, got %v", out["total"])
	}
	if out["doubled_price"] != 19.99*2 {
		t.Errorf("expected doubled_price=%v, got %v", 19.99*2, out["doubled_price"])
	}
	if out["label"] != "test-suffix" {
		t.Errorf("expected label='test-suffix', got %v", out["label"])
	}
	if out["item_count"] != int64(3) {
		t.Errorf("expected item_count=3, got %v", out["item_count"])
	}
	if out["addr"] != "localhost:8080" {
		t.Errorf("expected addr='localhost:8080', got %v", out["addr"])
	}
}

func TestEvaluator_UnsupportedInput(t *testing.T) {
	evaluator := New(5*time.Second, zerolog.Nop())

	_, err := evaluator.Evaluate(context.Background(), `result = 1`, map[string]interface{}{
		"bad": struct{}{},
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("expected unsupported type error, got %v", err)
	}
}

func TestEvaluator_PrintIsRouted(t *testing.T) {
	evaluator := New(5*time.Second, zerolog.Nop())

	out, err := evaluator.Evaluate(context.Background(), `
print("diagnostic output")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != "done" {
		t.Errorf("expected result='done', got %v", out["result"])
	}
}
