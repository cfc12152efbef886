package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/pkg/engine"
)

func newExecCommand(version string) *cobra.Command {
	var (
		params     []string
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "exec <action>",
		Short: "Execute a single action outside a workflow",
		Long: `Run one registered action against the configured driver without a
surrounding workflow. Useful for probing a page interactively or
smoke-testing a driver daemon.

Parameters are passed as repeated --param key=value flags. Values that
parse as JSON (numbers, booleans, arrays, objects) keep their type;
everything else is a string.`,
		Example: `  # Open a page
  webpilot exec open --param url=https://demo.webpilot.dev/login

  # Fill a field on the current page
  webpilot exec fill --param selector=#username --param value=admin

  # Wait with a typed timeout parameter
  webpilot exec wait_for --param selector=.result-item --param timeout=5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			action := args[0]

			a, err := newTelemetryApp(ctx, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			paramValue, err := parseParams(params)
			if err != nil {
				return err
			}

			if !skipPolicy {
				if err := admitStep(ctx, a, &engine.Step{Action: action, Params: paramValue}); err != nil {
					return err
				}
			}

			if err := a.withBackend(ctx); err != nil {
				return err
			}
			if err := a.withEngine(); err != nil {
				return err
			}

			outcome := a.eng.ExecuteSingleAction(ctx, action, paramValue)
			if err := printOutcome(action, outcome); err != nil {
				return err
			}
			if !outcome.Success {
				return fmt.Errorf("action %s failed", action)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "action parameter as key=value, repeatable")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy admission for this action")

	return cmd
}

// parseParams turns repeated key=value flags into an action parameter map.
// Values are decoded as JSON when possible so numbers and booleans keep
// their type.
func parseParams(pairs []string) (engine.Value, error) {
	m := make(map[string]engine.Value, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return engine.Value{}, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			m[key] = engine.StringValue(raw)
			continue
		}
		v, err := engine.ValueFromGo(decoded)
		if err != nil {
			return engine.Value{}, fmt.Errorf("parameter %q: %w", key, err)
		}
		m[key] = v
	}
	return engine.MapValue(m), nil
}

// admitStep evaluates policy admission for a standalone action.
func admitStep(ctx context.Context, a *app, step *engine.Step) error {
	if err := a.withAdmission(ctx); err != nil {
		return err
	}
	if a.admission == nil {
		return nil
	}

	result, err := a.admission.EvaluateStep(ctx, step, a.policyContext("exec", false))
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		a.logger.WithField("policy", w.Policy).Warn(w.Message)
	}
	if result.Allowed {
		return nil
	}

	for _, v := range result.Violations {
		a.logger.WithField("policy", v.Policy).Error(v.Message)
	}
	if a.cfg.Policy.OnViolation == "warn" {
		return nil
	}
	return fmt.Errorf("action %s denied by policy: %d violation(s)", step.Action, len(result.Violations))
}

// printOutcome writes the single-action result to stdout.
func printOutcome(action string, outcome *engine.ActionOutcome) error {
	if jsonOutput {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if outcome.Success {
		fmt.Printf("Action %s succeeded\n", action)
	} else {
		fmt.Printf("Action %s failed: %v\n", action, outcome.Err)
	}
	if outcome.Context.URL != "" {
		fmt.Printf("URL: %s\n", outcome.Context.URL)
	}
	return nil
}
