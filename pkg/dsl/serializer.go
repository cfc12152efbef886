package dsl

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webpilot/webpilot/pkg/engine"
)

// Marshal serializes a workflow to YAML in the explicit step shape.
func Marshal(wf *engine.Workflow) ([]byte, error) {
	if wf == nil {
		return nil, engine.NewConfigurationError("workflow must not be nil", nil).
			WithCode(engine.ErrCodeValidation)
	}

	doc := document{Workflow: &workflowDoc{
		Name:            wf.Name,
		SuccessCriteria: wf.SuccessCriteria,
		Selectors:       wf.Selectors,
		SuiteSetup:      fromSteps(wf.SuiteSetup),
		ErrorRecovery:   fromSteps(wf.ErrorRecovery),
	}}
	for _, p := range wf.Phases {
		doc.Workflow.Phases = append(doc.Workflow.Phases, phaseDoc{
			Name:        p.Name,
			Description: p.Description,
			Steps:       fromSteps(p.Steps),
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, engine.NewConfigurationError("failed to serialize workflow", err)
	}
	if err := enc.Close(); err != nil {
		return nil, engine.NewConfigurationError("failed to serialize workflow", err)
	}
	return buf.Bytes(), nil
}

// WriteFile serializes the workflow to path.
func WriteFile(path string, wf *engine.Workflow) error {
	data, err := Marshal(wf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return engine.NewConfigurationError(
			fmt.Sprintf("failed to write workflow file %s", path), err,
		)
	}
	return nil
}

func fromSteps(steps []engine.Step) []stepDoc {
	if len(steps) == 0 {
		return nil
	}
	docs := make([]stepDoc, 0, len(steps))
	for _, s := range steps {
		params, _ := s.Params.ToGo().(map[string]interface{})
		docs = append(docs, stepDoc{
			action:   s.Action,
			params:   params,
			optional: s.Optional,
			timeout:  s.Timeout,
		})
	}
	return docs
}

// MarshalYAML emits the explicit shape: the action key first, parameters in
// sorted order, then the lifted control keys.
func (s stepDoc) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	appendPair := func(key string, value interface{}) error {
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(key); err != nil {
			return err
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(value); err != nil {
			return err
		}
		node.Content = append(node.Content, keyNode, valueNode)
		return nil
	}

	if err := appendPair(keyAction, s.action); err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(s.params) {
		if err := appendPair(key, s.params[key]); err != nil {
			return nil, err
		}
	}
	if s.optional {
		if err := appendPair(keyOptional, true); err != nil {
			return nil, err
		}
	}
	if s.timeout > 0 {
		if err := appendPair(keyTimeout, int64(s.timeout/time.Millisecond)); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
