package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fimworks/srcadjust/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect calibration run history",
	Long:  "Commands for listing calibration runs and viewing per-unit outcomes.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calibration runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		h, err := store.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer h.Close() //nolint:errcheck
		if err := h.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := h.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its unit outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := store.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer h.Close() //nolint:errcheck
		if err := h.Migrate(ctx); err != nil {
			return err
		}

		run, err := h.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		outs, err := h.ListUnitOutcomes(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		formatRun(os.Stdout, run, outs)

		if logs, _ := cmd.Flags().GetBool("logs"); logs {
			for _, o := range outs {
				if o.LogText == "" {
					continue
				}
				fmt.Fprintf(os.Stdout, "\n--- %s branch %s ---\n%s", o.HUC, o.BranchID, o.LogText)
			}
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsShowCmd.Flags().Bool("logs", false, "print the full per-unit calibration logs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tUNITS\tADJUSTED\tSKIPPED\tFAILED\tSTARTED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.SourceTag, r.Status, r.Units, r.UnitsAdjusted, r.UnitsSkipped, r.UnitsFailed,
			r.StartedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}

// formatRun writes one run header plus its unit outcome table.
func formatRun(out io.Writer, run *store.Run, outs []store.UnitOutcome) {
	fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(out, "  source tag: %s\n", run.SourceTag)
	fmt.Fprintf(out, "  started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "  finished:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "  units: %d adjusted, %d skipped, %d failed of %d\n\n",
		run.UnitsAdjusted, run.UnitsSkipped, run.UnitsFailed, run.Units)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "HUC\tBRANCH\tSTATUS\tSEGMENTS\tOBS\tDETAIL")
	for _, o := range outs {
		status, detail := "adjusted", ""
		switch {
		case o.Error != "":
			status, detail = "failed", o.Error
		case o.Skipped:
			status, detail = "skipped", o.SkipReason
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			o.HUC, o.BranchID, status, o.SegmentsAdjusted, o.ObservationsUsed, detail)
	}
	_ = w.Flush()
}
