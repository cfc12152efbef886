package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webpilot/webpilot/pkg/dsl"
	"github.com/webpilot/webpilot/pkg/engine"
	"github.com/webpilot/webpilot/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>...",
		Short: "Check workflow files without executing them",
		Long: `Parse each workflow file, run the structural lint pass, and evaluate
policy admission in dry-run mode. Nothing is executed and no driver is
started.

The exit status is non-zero when any file fails to parse, has lint
errors, or is denied by policy.`,
		Example: `  # Validate a single workflow
  webpilot validate login.yaml

  # Validate everything in a directory
  webpilot validate workflows/*.yaml

  # Structural checks only
  webpilot validate login.yaml --skip-policy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if !skipPolicy {
				if err := a.withAdmission(ctx); err != nil {
					return err
				}
			}

			var (
				failed  int
				results []*policy.PolicyResult
			)
			for _, path := range args {
				wf, err := dsl.ParseFile(path)
				if err != nil {
					a.logger.WithError(err).WithField("file", path).Error("Parse failed")
					failed++
					continue
				}

				problems := dsl.Lint(wf, engine.DefaultRegistry())
				for _, p := range problems {
					if p.Severity == dsl.SeverityError {
						a.logger.WithField("file", path).WithField("location", p.Location).Error(p.Message)
					} else {
						a.logger.WithField("file", path).WithField("location", p.Location).Warn(p.Message)
					}
				}
				if dsl.HasErrors(problems) {
					failed++
					continue
				}

				if a.admission != nil {
					res, err := a.admission.EvaluateWorkflow(ctx, wf, a.policyContext("validate", true))
					if err != nil {
						return err
					}
					results = append(results, res)
					if !res.Allowed {
						for _, v := range res.Violations {
							a.logger.WithField("file", path).WithField("policy", v.Policy).Error(v.Message)
						}
						failed++
						continue
					}
				}

				a.logger.WithField("file", path).Info("Workflow is valid")
			}

			if len(results) > 0 {
				if err := printPolicyReport(policy.NewReport(results...)); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed validation", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "lint only, skip policy admission")

	return cmd
}

// printPolicyReport summarizes the admission results for a validate pass.
func printPolicyReport(report *policy.PolicyReport) error {
	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	s := report.Summary
	fmt.Printf("\nPolicy admission: %d policie(s), %d allowed, %d blocked\n",
		s.TotalPolicies, s.AllowedRuns, s.BlockedRuns)
	if s.TotalViolations > 0 || s.TotalWarnings > 0 {
		fmt.Printf("Findings:         %d violation(s), %d warning(s)\n",
			s.TotalViolations, s.TotalWarnings)
	}
	return nil
}
