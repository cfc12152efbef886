package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored run results",
		Long: `Work with the run history store. Every completed run is persisted with
its full result document; history lists, shows, deletes, and prunes
those records.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.withStore(ctx); err != nil {
				return err
			}
			if a.store == nil {
				return fmt.Errorf("run history store is not configured")
			}

			runs, err := a.store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			fmt.Printf("%-36s  %-24s  %-6s  %-7s  %-19s  %s\n",
				"RUN", "WORKFLOW", "RESULT", "STEPS", "STARTED", "DURATION")
			for _, run := range runs {
				status := "pass"
				if !run.OverallSuccess {
					status = "FAIL"
				}
				fmt.Printf("%-36s  %-24s  %-6s  %-7d  %-19s  %s\n",
					run.RunID, run.WorkflowName, status, run.Steps,
					run.StartTime.Local().Format("2006-01-02 15:04:05"),
					run.Duration.Round(10*time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the full result of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.withStore(ctx); err != nil {
				return err
			}
			if a.store == nil {
				return fmt.Errorf("run history store is not configured")
			}

			result, err := a.store.GetResult(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.withStore(ctx); err != nil {
				return err
			}
			if a.store == nil {
				return fmt.Errorf("run history store is not configured")
			}

			if err := a.store.DeleteRun(ctx, args[0]); err != nil {
				return err
			}
			a.logger.WithField("run_id", args[0]).Info("Run deleted")
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.withStore(ctx); err != nil {
				return err
			}
			if a.store == nil {
				return fmt.Errorf("run history store is not configured")
			}

			deleted, err := a.store.PruneRuns(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d run(s), kept the %d most recent\n", deleted, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of most recent runs to keep")

	return cmd
}
