package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/pkg/artifacts"
	"github.com/webpilot/webpilot/pkg/dsl"
	"github.com/webpilot/webpilot/pkg/engine"
)

func newRunCommand(version string) *cobra.Command {
	var (
		publish    bool
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow file",
		Long: `Parse a YAML workflow document and execute it against the configured
driver, phase by phase, step by step.

The run always produces a complete result: business failures (missing
elements, timeouts, failed assertions) are recorded per step and reflected
in the overall outcome, never raised. Only configuration errors (bad DSL,
unresolved placeholders, unknown actions) abort the run.`,
		Example: `  # Run against the in-process simulator
  webpilot run login.yaml

  # Run against a driver daemon
  webpilot run login.yaml --driver tcp://localhost:7070

  # Run, then push screenshots and result JSON through the artifact sink
  webpilot run login.yaml --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newTelemetryApp(ctx, version)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			wf, err := dsl.ParseFile(args[0])
			if err != nil {
				return err
			}

			if err := lintWorkflow(a, wf); err != nil {
				return err
			}
			if !skipPolicy {
				if err := admitWorkflow(ctx, a, wf, "run"); err != nil {
					return err
				}
			}

			if err := a.withStore(ctx); err != nil {
				return err
			}
			if err := a.withBackend(ctx); err != nil {
				return err
			}
			if err := a.withEngine(); err != nil {
				return err
			}

			result, err := a.eng.ExecuteWorkflow(ctx, wf)
			if err != nil {
				return err
			}

			if a.store != nil {
				if err := a.store.SaveResult(context.WithoutCancel(ctx), result); err != nil {
					a.logger.WithError(err).Warn("Run history not saved")
				}
			}
			if publish {
				publishArtifacts(context.WithoutCancel(ctx), a, result)
			}

			if err := printResult(result); err != nil {
				return err
			}
			if !result.OverallSuccess {
				return fmt.Errorf("workflow %s failed (%d error(s))",
					result.WorkflowName, len(result.ErrorHistory))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "push artifacts and result JSON through the configured sink")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy admission for this run")

	return cmd
}

// lintWorkflow runs the structural lint pass. Warnings are logged; errors
// abort before anything touches the backend.
func lintWorkflow(a *app, wf *engine.Workflow) error {
	problems := dsl.Lint(wf, engine.DefaultRegistry())
	for _, p := range problems {
		if p.Severity == dsl.SeverityError {
			a.logger.WithField("location", p.Location).Error(p.Message)
		} else {
			a.logger.WithField("location", p.Location).Warn(p.Message)
		}
	}
	if dsl.HasErrors(problems) {
		return fmt.Errorf("workflow %s has %d lint error(s)", wf.Name, countErrors(problems))
	}
	return nil
}

// admitWorkflow evaluates policy admission when it is enabled. Violations
// block in fail mode and are logged in warn mode.
func admitWorkflow(ctx context.Context, a *app, wf *engine.Workflow, operation string) error {
	if err := a.withAdmission(ctx); err != nil {
		return err
	}
	if a.admission == nil {
		return nil
	}

	result, err := a.admission.EvaluateWorkflow(ctx, wf, a.policyContext(operation, operation != "run"))
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		a.logger.WithField("policy", w.Policy).WithField("location", w.Location).Warn(w.Message)
	}
	if result.Allowed {
		return nil
	}

	for _, v := range result.Violations {
		a.logger.WithField("policy", v.Policy).WithField("location", v.Location).Error(v.Message)
	}
	if a.cfg.Policy.OnViolation == "warn" {
		a.logger.Warnf("Policy admission reported %d violation(s); continuing (on_violation: warn)",
			len(result.Violations))
		return nil
	}
	return fmt.Errorf("workflow %s denied by policy: %d violation(s)", wf.Name, len(result.Violations))
}

// publishArtifacts pushes the result JSON and the staged artifact directory
// through the configured sink, best-effort.
func publishArtifacts(ctx context.Context, a *app, result *engine.ExecutionResult) {
	sink, err := a.artifactSink()
	if err != nil {
		a.logger.WithError(err).Warn("Artifact sink unavailable")
		return
	}
	defer sink.Close()

	if _, err := artifacts.StoreResult(ctx, sink, result); err != nil {
		a.logger.WithError(err).Warn("Result artifact not published")
	}
	if dir := a.cfg.Artifacts.Dir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			if _, err := artifacts.StoreDir(ctx, sink, dir, result.RunID); err != nil {
				a.logger.WithError(err).Warn("Staged artifacts not published")
			}
		}
	}
}

// printResult writes the run outcome to stdout, as JSON or a summary.
func printResult(result *engine.ExecutionResult) error {
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	status := "PASSED"
	if !result.OverallSuccess {
		status = "FAILED"
	}
	fmt.Printf("\nWorkflow: %s\n", result.WorkflowName)
	fmt.Printf("Run:      %s\n", result.RunID)
	fmt.Printf("Result:   %s in %s\n", status, result.Duration.Round(10*time.Millisecond))
	fmt.Printf("Steps:    %d attempted, %d error(s)\n\n",
		len(result.ExecutionHistory), len(result.ErrorHistory))

	for _, phase := range result.PhaseResults {
		mark := "ok"
		if !phase.Success {
			mark = "FAIL"
		}
		fmt.Printf("  [%-4s] %-28s %8s  %d step(s)\n",
			mark, phase.Name, phase.Duration.Round(10*time.Millisecond), len(phase.ExecutedSteps))
	}
	for _, e := range result.ErrorHistory {
		fmt.Printf("  error: %s/%s: %s\n", e.Phase, e.Action, e.Message)
	}
	if len(result.SuccessCriteria) > 0 {
		fmt.Println("\nSuccess criteria (reported, not evaluated):")
		for _, c := range result.SuccessCriteria {
			fmt.Printf("  - %s\n", c)
		}
	}
	return nil
}

func countErrors(problems []dsl.Problem) int {
	n := 0
	for _, p := range problems {
		if p.Severity == dsl.SeverityError {
			n++
		}
	}
	return n
}
