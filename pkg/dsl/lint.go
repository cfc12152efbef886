package dsl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Severity grades a lint finding.
type Severity string

const (
	// SeverityError marks findings that will abort execution.
	SeverityError Severity = "error"

	// SeverityWarning marks findings that execute but look unintended.
	SeverityWarning Severity = "warning"
)

// Problem is one lint finding with the document location it was found at.
type Problem struct {
	Severity Severity `json:"severity"`
	Location string   `json:"location"`
	Message  string   `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: %s", p.Severity, p.Location, p.Message)
}

// HasErrors reports whether any finding is error severity.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Lint checks a workflow beyond structural validity: unknown actions, empty
// phases, duplicate phase names, and selector references with no definition.
// A nil registry skips the action checks.
func Lint(wf *engine.Workflow, registry *engine.Registry) []Problem {
	var problems []Problem
	add := func(severity Severity, location, format string, args ...interface{}) {
		problems = append(problems, Problem{
			Severity: severity,
			Location: location,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if wf == nil {
		return []Problem{{Severity: SeverityError, Location: "workflow", Message: "workflow is nil"}}
	}
	if wf.Name == "" {
		add(SeverityError, "workflow", "name is required")
	}
	if len(wf.Phases) == 0 && len(wf.SuiteSetup) == 0 {
		add(SeverityWarning, "workflow", "workflow has no phases and no suite setup; it will do nothing")
	}

	lintSteps := func(location string, steps []engine.Step) {
		for i, step := range steps {
			loc := fmt.Sprintf("%s.steps[%d]", location, i)
			if step.Action == "" {
				add(SeverityError, loc, "step has no action")
				continue
			}
			if registry != nil && !registry.Has(step.Action) {
				add(SeverityError, loc, "unknown action type %q", step.Action)
			}
			if step.Timeout < 0 {
				add(SeverityError, loc, "timeout must not be negative")
			}
			lintPlaceholders(loc, step.Params, wf, add)
		}
	}

	lintSteps("suite_setup", wf.SuiteSetup)
	seen := make(map[string]bool, len(wf.Phases))
	for i, phase := range wf.Phases {
		loc := fmt.Sprintf("phases[%d]", i)
		if phase.Name == "" {
			add(SeverityError, loc, "phase name is required")
		} else {
			loc = fmt.Sprintf("phases[%d] (%s)", i, phase.Name)
			if seen[phase.Name] {
				add(SeverityWarning, loc, "duplicate phase name %q", phase.Name)
			}
			seen[phase.Name] = true
		}
		if len(phase.Steps) == 0 {
			add(SeverityWarning, loc, "phase has no steps")
		}
		lintSteps(loc, phase.Steps)
	}
	lintSteps("error_recovery", wf.ErrorRecovery)

	return problems
}

// lintPlaceholders flags selector references without a definition and strings
// that look like half-written template syntax.
func lintPlaceholders(location string, v engine.Value, wf *engine.Workflow,
	add func(Severity, string, string, ...interface{})) {

	switch v.Kind() {
	case engine.KindString:
		s, _ := v.AsString()
		for _, match := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			path := match[1]
			if !strings.HasPrefix(path, "selectors.") {
				continue
			}
			name := strings.TrimPrefix(path, "selectors.")
			if _, ok := wf.Selectors[name]; !ok {
				add(SeverityWarning, location, "selector %q is referenced but not defined", name)
			}
		}
		if strings.Contains(s, "${") && !placeholderPattern.MatchString(s) {
			add(SeverityWarning, location, "unclosed placeholder in %q", s)
		}
	case engine.KindSequence:
		items, _ := v.AsSeq()
		for _, item := range items {
			lintPlaceholders(location, item, wf, add)
		}
	case engine.KindMapping:
		m, _ := v.AsMap()
		for _, item := range m {
			lintPlaceholders(location, item, wf, add)
		}
	}
}
