package dsl

import (
	"strings"
	"testing"
	"time"

	"github.com/webpilot/webpilot/pkg/engine"
)

const explicitDoc = `
workflow:
  name: portal-smoke
  selectors:
    dashboard: "#dashboard, [data-testid='dashboard']"
  suite_setup:
    - action: navigate
      url: https://portal.example.com
  phases:
    - name: login
      description: Sign in and land on the dashboard
      steps:
        - action: fill
          selector: "#username"
          text: demo
        - action: click
          selector: "#submit"
          timeout: 5000
        - action: wait_for
          selector: ${selectors.dashboard}
          optional: true
  error_recovery:
    - action: screenshot
  success_criteria:
    - dashboard visible
`

const compactDoc = `
workflow:
  name: legacy-shape
  phases:
    - name: search
      steps:
        - navigate:
            url: https://portal.example.com
        - fill:
            selector: "#q"
            text: widgets
            optional: true
        - click:
            selector: "#go"
          timeout: 2500
        - screenshot:
`

func TestParse_ExplicitShape(t *testing.T) {
	wf, err := Parse([]byte(explicitDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if wf.Name != "portal-smoke" {
		t.Errorf("Expected name portal-smoke, got %q", wf.Name)
	}
	if len(wf.SuiteSetup) != 1 || wf.SuiteSetup[0].Action != engine.ActionNavigate {
		t.Fatalf("Expected one navigate setup step, got %+v", wf.SuiteSetup)
	}
	if got := wf.SuiteSetup[0].Params.Get("url").Text(); got != "https://portal.example.com" {
		t.Errorf("Expected url parameter, got %q", got)
	}

	if len(wf.Phases) != 1 {
		t.Fatalf("Expected 1 phase, got %d", len(wf.Phases))
	}
	phase := wf.Phases[0]
	if phase.Name != "login" || phase.Description == "" {
		t.Errorf("Expected named, described phase, got %+v", phase)
	}
	if len(phase.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(phase.Steps))
	}

	click := phase.Steps[1]
	if click.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout from milliseconds, got %s", click.Timeout)
	}
	if !click.Params.Get("timeout").IsNull() {
		t.Error("Expected timeout lifted out of parameters")
	}

	wait := phase.Steps[2]
	if !wait.Optional {
		t.Error("Expected optional lifted into the step")
	}
	if got := wait.Params.Get("selector").Text(); got != "${selectors.dashboard}" {
		t.Errorf("Expected placeholder preserved verbatim, got %q", got)
	}

	if len(wf.ErrorRecovery) != 1 || len(wf.SuccessCriteria) != 1 {
		t.Errorf("Expected recovery and criteria parsed, got %+v / %+v",
			wf.ErrorRecovery, wf.SuccessCriteria)
	}
}

func TestParse_CompactShape(t *testing.T) {
	wf, err := Parse([]byte(compactDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	steps := wf.Phases[0].Steps
	if len(steps) != 4 {
		t.Fatalf("Expected 4 steps, got %d", len(steps))
	}

	if steps[0].Action != engine.ActionNavigate {
		t.Errorf("Expected navigate, got %q", steps[0].Action)
	}

	fill := steps[1]
	if !fill.Optional {
		t.Error("Expected optional lifted out of the parameter mapping")
	}
	if !fill.Params.Get("optional").IsNull() {
		t.Error("Expected optional removed from parameters")
	}
	if got := fill.Params.Get("text").Text(); got != "widgets" {
		t.Errorf("Expected text parameter kept, got %q", got)
	}

	click := steps[2]
	if click.Timeout != 2500*time.Millisecond {
		t.Errorf("Expected sibling timeout lifted, got %s", click.Timeout)
	}

	if steps[3].Action != engine.ActionScreenshot {
		t.Errorf("Expected bare screenshot step, got %q", steps[3].Action)
	}
	if steps[3].Params.Len() != 0 {
		t.Errorf("Expected empty parameters, got %v", steps[3].Params)
	}
}

func TestParse_MixedShapesInOnePhase(t *testing.T) {
	doc := `
workflow:
  name: mixed
  phases:
    - name: p
      steps:
        - action: navigate
          url: https://x.test
        - click:
            selector: "#a"
`
	wf, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	steps := wf.Phases[0].Steps
	if steps[0].Action != "navigate" || steps[1].Action != "click" {
		t.Errorf("Expected both shapes accepted, got %q and %q", steps[0].Action, steps[1].Action)
	}
}

func TestParse_DurationStringTimeout(t *testing.T) {
	doc := `
workflow:
  name: w
  phases:
    - name: p
      steps:
        - action: click
          selector: "#a"
          timeout: 1m30s
`
	wf, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := wf.Phases[0].Steps[0].Timeout; got != 90*time.Second {
		t.Errorf("Expected 1m30s, got %s", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			"no workflow key",
			`name: orphan`,
			"no workflow key",
		},
		{
			"missing name",
			"workflow:\n  phases: []\n",
			"name",
		},
		{
			"ambiguous compact step",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - click:
            selector: "#a"
          fill:
            selector: "#b"
`,
			"ambiguous",
		},
		{
			"step with no action",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - optional: true
`,
			"no action",
		},
		{
			"scalar params",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - click: "#a"
`,
			"must be a mapping",
		},
		{
			"negative timeout",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - action: click
          selector: "#a"
          timeout: -200
`,
			"negative",
		},
		{
			"bad timeout string",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - action: click
          selector: "#a"
          timeout: soon
`,
			"not a valid duration",
		},
		{
			"step is not a mapping",
			`
workflow:
  name: w
  phases:
    - name: p
      steps:
        - just a string
`,
			"must be a mapping",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !engine.IsConfigurationError(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected %q in error, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestParse_TypedParameters(t *testing.T) {
	doc := `
workflow:
  name: typed
  phases:
    - name: p
      steps:
        - action: store
          key: settings
          value:
            retries: 3
            ratio: 0.5
            enabled: true
            tags: [a, b]
`
	wf, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	value := wf.Phases[0].Steps[0].Params.Get("value")
	if n, _ := value.Get("retries").AsInt(); n != 3 {
		t.Errorf("Expected integer kind preserved, got %v", value.Get("retries"))
	}
	if f, _ := value.Get("ratio").AsFloat(); f != 0.5 {
		t.Errorf("Expected float kind preserved, got %v", value.Get("ratio"))
	}
	if b, _ := value.Get("enabled").AsBool(); !b {
		t.Errorf("Expected bool kind preserved, got %v", value.Get("enabled"))
	}
	tags, _ := value.Get("tags").AsSeq()
	if len(tags) != 2 || tags[0].Text() != "a" {
		t.Errorf("Expected sequence preserved, got %v", tags)
	}
}

func TestParseFile_MissingFile(t *testing.T) {
	_, err := ParseFile("/nonexistent/workflow.yaml")
	if !engine.IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}
