package dsl

import (
	"strings"
	"testing"

	"github.com/webpilot/webpilot/pkg/engine"
)

func findProblem(problems []Problem, fragment string) *Problem {
	for i := range problems {
		if strings.Contains(problems[i].Message, fragment) {
			return &problems[i]
		}
	}
	return nil
}

func TestLint_CleanWorkflow(t *testing.T) {
	wf, err := Parse([]byte(explicitDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	problems := Lint(wf, engine.DefaultRegistry())
	if len(problems) != 0 {
		t.Errorf("Expected no problems, got %v", problems)
	}
}

func TestLint_UnknownAction(t *testing.T) {
	wf := &engine.Workflow{
		Name: "w",
		Phases: []engine.Phase{{
			Name:  "p",
			Steps: []engine.Step{{Action: "clck", Params: engine.MapValue(nil)}},
		}},
	}

	problems := Lint(wf, engine.DefaultRegistry())
	p := findProblem(problems, `unknown action type "clck"`)
	if p == nil {
		t.Fatalf("Expected unknown action finding, got %v", problems)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", p.Severity)
	}
	if !HasErrors(problems) {
		t.Error("Expected HasErrors true")
	}
}

func TestLint_NilRegistrySkipsActionCheck(t *testing.T) {
	wf := &engine.Workflow{
		Name: "w",
		Phases: []engine.Phase{{
			Name:  "p",
			Steps: []engine.Step{{Action: "anything", Params: engine.MapValue(nil)}},
		}},
	}

	if problems := Lint(wf, nil); len(problems) != 0 {
		t.Errorf("Expected no problems without a registry, got %v", problems)
	}
}

func TestLint_EmptyStructures(t *testing.T) {
	problems := Lint(&engine.Workflow{Name: "w"}, nil)
	if findProblem(problems, "will do nothing") == nil {
		t.Errorf("Expected empty workflow warning, got %v", problems)
	}

	problems = Lint(&engine.Workflow{
		Name:   "w",
		Phases: []engine.Phase{{Name: "p"}},
	}, nil)
	p := findProblem(problems, "phase has no steps")
	if p == nil {
		t.Fatalf("Expected empty phase warning, got %v", problems)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", p.Severity)
	}
}

func TestLint_DuplicatePhaseNames(t *testing.T) {
	wf := &engine.Workflow{
		Name: "w",
		Phases: []engine.Phase{
			{Name: "p", Steps: []engine.Step{{Action: engine.ActionSleep}}},
			{Name: "p", Steps: []engine.Step{{Action: engine.ActionSleep}}},
		},
	}

	if findProblem(Lint(wf, nil), "duplicate phase name") == nil {
		t.Error("Expected duplicate phase warning")
	}
}

func TestLint_UndefinedSelectorReference(t *testing.T) {
	wf := &engine.Workflow{
		Name:      "w",
		Selectors: map[string]string{"known": "#k"},
		Phases: []engine.Phase{{
			Name: "p",
			Steps: []engine.Step{
				{
					Action: engine.ActionClick,
					Params: engine.MapValue(map[string]engine.Value{
						"selector": engine.StringValue("${selectors.known}"),
					}),
				},
				{
					Action: engine.ActionClick,
					Params: engine.MapValue(map[string]engine.Value{
						"selector": engine.StringValue("${selectors.missing}"),
					}),
				},
			},
		}},
	}

	problems := Lint(wf, nil)
	if findProblem(problems, `selector "missing" is referenced but not defined`) == nil {
		t.Fatalf("Expected undefined selector warning, got %v", problems)
	}
	if findProblem(problems, `"known"`) != nil {
		t.Errorf("Expected defined selector to pass, got %v", problems)
	}
}

func TestLint_UnclosedPlaceholder(t *testing.T) {
	wf := &engine.Workflow{
		Name: "w",
		Phases: []engine.Phase{{
			Name: "p",
			Steps: []engine.Step{{
				Action: engine.ActionFill,
				Params: engine.MapValue(map[string]engine.Value{
					"selector": engine.StringValue("#f"),
					"text":     engine.StringValue("${config.user"),
				}),
			}},
		}},
	}

	if findProblem(Lint(wf, nil), "unclosed placeholder") == nil {
		t.Error("Expected unclosed placeholder warning")
	}
}

func TestLint_LocationsNamePhases(t *testing.T) {
	wf := &engine.Workflow{
		Name: "w",
		Phases: []engine.Phase{{
			Name:  "checkout",
			Steps: []engine.Step{{Action: "bogus", Params: engine.MapValue(nil)}},
		}},
	}

	problems := Lint(wf, engine.DefaultRegistry())
	if len(problems) == 0 || !strings.Contains(problems[0].Location, "checkout") {
		t.Errorf("Expected phase name in location, got %v", problems)
	}
}
