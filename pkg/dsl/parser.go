package dsl

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Control keys lifted out of step mappings into Step fields. Everything else
// in a step mapping is an action parameter.
const (
	keyAction   = "action"
	keyOptional = "optional"
	keyTimeout  = "timeout"
)

type document struct {
	Workflow *workflowDoc `yaml:"workflow"`
}

type workflowDoc struct {
	Name            string            `yaml:"name"`
	Phases          []phaseDoc        `yaml:"phases"`
	SuiteSetup      []stepDoc         `yaml:"suite_setup,omitempty"`
	ErrorRecovery   []stepDoc         `yaml:"error_recovery,omitempty"`
	SuccessCriteria []string          `yaml:"success_criteria,omitempty"`
	Selectors       map[string]string `yaml:"selectors,omitempty"`
}

type phaseDoc struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Steps       []stepDoc `yaml:"steps"`
}

// stepDoc is one step in either accepted shape.
type stepDoc struct {
	action   string
	params   map[string]interface{}
	optional bool
	timeout  time.Duration
	line     int
}

// UnmarshalYAML accepts both step shapes. The explicit shape carries an
// action key with parameters as siblings; the compact shape uses the single
// non-control key as the action name and its value as the parameter mapping.
func (s *stepDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", node.Line)
	}
	s.line = node.Line
	s.params = make(map[string]interface{})

	type pair struct {
		key   string
		value *yaml.Node
	}
	pairs := make([]pair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("line %d: step keys must be strings", node.Content[i].Line)
		}
		pairs = append(pairs, pair{key: key, value: node.Content[i+1]})
	}

	explicit := false
	for _, p := range pairs {
		if p.key == keyAction {
			explicit = true
			if err := p.value.Decode(&s.action); err != nil || s.action == "" {
				return fmt.Errorf("line %d: action must be a non-empty string", p.value.Line)
			}
		}
	}

	if explicit {
		for _, p := range pairs {
			switch p.key {
			case keyAction:
			case keyOptional:
				if err := s.decodeOptional(p.value); err != nil {
					return err
				}
			case keyTimeout:
				if err := s.decodeTimeout(p.value); err != nil {
					return err
				}
			default:
				var raw interface{}
				if err := p.value.Decode(&raw); err != nil {
					return fmt.Errorf("line %d: parameter %q: %w", p.value.Line, p.key, err)
				}
				s.params[p.key] = raw
			}
		}
		return nil
	}

	// Compact shape: exactly one non-control key names the action.
	var actionPair *pair
	for i := range pairs {
		switch pairs[i].key {
		case keyOptional:
			if err := s.decodeOptional(pairs[i].value); err != nil {
				return err
			}
		case keyTimeout:
			if err := s.decodeTimeout(pairs[i].value); err != nil {
				return err
			}
		default:
			if actionPair != nil {
				return fmt.Errorf("line %d: ambiguous step: both %q and %q could be the action",
					node.Line, actionPair.key, pairs[i].key)
			}
			actionPair = &pairs[i]
		}
	}
	if actionPair == nil {
		return fmt.Errorf("line %d: step has no action", node.Line)
	}
	s.action = actionPair.key

	switch actionPair.value.Kind {
	case yaml.MappingNode:
		if err := actionPair.value.Decode(&s.params); err != nil {
			return fmt.Errorf("line %d: parameters of %q: %w", actionPair.value.Line, s.action, err)
		}
	case yaml.ScalarNode:
		var raw interface{}
		if err := actionPair.value.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: parameters of %q: %w", actionPair.value.Line, s.action, err)
		}
		if raw != nil {
			return fmt.Errorf("line %d: parameters of %q must be a mapping", actionPair.value.Line, s.action)
		}
	default:
		return fmt.Errorf("line %d: parameters of %q must be a mapping", actionPair.value.Line, s.action)
	}

	// Control keys may also sit inside a compact parameter mapping.
	if raw, ok := s.params[keyOptional]; ok {
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("line %d: optional must be a boolean", node.Line)
		}
		s.optional = b
		delete(s.params, keyOptional)
	}
	if raw, ok := s.params[keyTimeout]; ok {
		d, err := coerceTimeout(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		s.timeout = d
		delete(s.params, keyTimeout)
	}
	return nil
}

func (s *stepDoc) decodeOptional(node *yaml.Node) error {
	if err := node.Decode(&s.optional); err != nil {
		return fmt.Errorf("line %d: optional must be a boolean", node.Line)
	}
	return nil
}

func (s *stepDoc) decodeTimeout(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d, err := coerceTimeout(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	s.timeout = d
	return nil
}

// coerceTimeout accepts a millisecond count or a duration string.
func coerceTimeout(raw interface{}) (time.Duration, error) {
	switch t := raw.(type) {
	case int:
		if t < 0 {
			return 0, fmt.Errorf("timeout must not be negative")
		}
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("timeout must not be negative")
		}
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("timeout must not be negative")
		}
		return time.Duration(t * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("timeout %q is not a valid duration", t)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("timeout must be milliseconds or a duration string, got %T", raw)
	}
}

// Parse decodes a workflow document and validates the result.
func Parse(data []byte) (*engine.Workflow, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewConfigurationError("failed to parse workflow document", err).
			WithCode(engine.ErrCodeValidation)
	}
	if doc.Workflow == nil {
		return nil, engine.NewConfigurationError("document has no workflow key", nil).
			WithCode(engine.ErrCodeValidation)
	}

	wf, err := doc.Workflow.toWorkflow()
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// ParseFile decodes the workflow document at path.
func ParseFile(path string) (*engine.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("failed to read workflow file %s", path), err,
		).WithCode(engine.ErrCodeValidation)
	}
	return Parse(data)
}

func (w *workflowDoc) toWorkflow() (*engine.Workflow, error) {
	wf := &engine.Workflow{
		Name:            w.Name,
		SuccessCriteria: w.SuccessCriteria,
		Selectors:       w.Selectors,
	}

	var err error
	if wf.SuiteSetup, err = toSteps(w.SuiteSetup); err != nil {
		return nil, err
	}
	if wf.ErrorRecovery, err = toSteps(w.ErrorRecovery); err != nil {
		return nil, err
	}
	for _, p := range w.Phases {
		steps, err := toSteps(p.Steps)
		if err != nil {
			return nil, err
		}
		wf.Phases = append(wf.Phases, engine.Phase{
			Name:        p.Name,
			Description: p.Description,
			Steps:       steps,
		})
	}
	return wf, nil
}

func toSteps(docs []stepDoc) ([]engine.Step, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	steps := make([]engine.Step, 0, len(docs))
	for _, d := range docs {
		params, err := engine.ValueFromGo(d.params)
		if err != nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("line %d: parameters of %q hold an unsupported value", d.line, d.action), err,
			).WithCode(engine.ErrCodeValidation)
		}
		steps = append(steps, engine.Step{
			Action:   d.action,
			Params:   params,
			Optional: d.optional,
			Timeout:  d.timeout,
		})
	}
	return steps, nil
}
