package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/journal"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded deployment runs",
		Long: `List past orchestration runs from the local run journal, newest first.

Each row shows the run's mode, outcome, the phase it finished (or failed)
in, the provisioned host and the run duration. With a run ID argument,
show that single run instead.`,
		Example: `  # Show the last 20 runs
  groundwork history

  # Show more, as JSON
  groundwork history --limit 100 --json

  # Show one run
  groundwork history 2f1c9a60-6c1e-4b7a-9f35-1d2c8a3f04e1`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogFlags()
			ctx := cmd.Context()

			j, err := journal.New(journal.Config{Path: journalPath})
			if err == nil {
				err = j.Init(ctx)
			}
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()
			if err := j.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate journal: %w", err)
			}

			if len(args) == 1 {
				run, err := j.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(cmd, run)
			}

			runs, err := j.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tMODE\tOUTCOME\tPHASE\tHOST\tDURATION")
			for _, run := range runs {
				outcome := "ok"
				if !run.Success {
					outcome = "failed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					run.StartedAt.Local().Format(time.DateTime),
					run.Mode,
					outcome,
					run.Phase,
					run.HostAddr,
					(time.Duration(run.DurationMS) * time.Millisecond).Round(time.Second),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

// printRun renders a single run record, as JSON or a field-per-line block.
func printRun(cmd *cobra.Command, run *journal.Run) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	outcome := "ok"
	if !run.Success {
		outcome = "failed"
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	fmt.Fprintf(w, "Mode:\t%s\n", run.Mode)
	fmt.Fprintf(w, "Outcome:\t%s\n", outcome)
	fmt.Fprintf(w, "Phase:\t%s\n", run.Phase)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	if run.HostAddr != "" {
		fmt.Fprintf(w, "Host:\t%s\n", run.HostAddr)
	}
	fmt.Fprintf(w, "SSL:\t%t\n", run.SSLEnabled)
	fmt.Fprintf(w, "Started:\t%s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:\t%s\n", (time.Duration(run.DurationMS)*time.Millisecond).Round(time.Second))
	return w.Flush()
}
