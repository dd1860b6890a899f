package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fimworks/srcadjust/internal/runner"
	"github.com/fimworks/srcadjust/internal/store"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate SRC roughness from point observations",
	Long:  "Scans a FIM output directory for HUC branch hydroTables, matches point observations onto rating curve stages, resolves adjusted Manning's n per segment, and rewrites the tables with recomputed discharge.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := runner.Options{
			FimDir:       cfg.Calibrate.FimDir,
			ObsCSV:       cfg.Calibrate.ObsCSV,
			Jobs:         cfg.Calibrate.Jobs,
			SourceTag:    cfg.Calibrate.SourceTag,
			MergePrev:    cfg.Calibrate.MergePrev,
			DownDistKm:   cfg.Calibrate.DownDistKm,
			RoughnessMin: cfg.Calibrate.RoughnessMin,
			RoughnessMax: cfg.Calibrate.RoughnessMax,
			DebugOutputs: cfg.Calibrate.DebugOutputs,
			DebugDir:     cfg.Calibrate.DebugDir,
		}

		if v, _ := cmd.Flags().GetString("fim-dir"); v != "" {
			opts.FimDir = v
		}
		if v, _ := cmd.Flags().GetString("obs-csv"); v != "" {
			opts.ObsCSV = v
		}
		if cmd.Flags().Changed("jobs") {
			opts.Jobs, _ = cmd.Flags().GetInt("jobs")
		}
		if cmd.Flags().Changed("down-dist") {
			opts.DownDistKm, _ = cmd.Flags().GetFloat64("down-dist")
		}
		if v, _ := cmd.Flags().GetString("source-tag"); v != "" {
			opts.SourceTag = v
		}
		if cmd.Flags().Changed("merge-prev") {
			opts.MergePrev, _ = cmd.Flags().GetBool("merge-prev")
		}
		if cmd.Flags().Changed("debug-outputs") {
			opts.DebugOutputs, _ = cmd.Flags().GetBool("debug-outputs")
		}

		if opts.FimDir == "" {
			return fmt.Errorf("calibrate: --fim-dir (or calibrate.fim_dir) is required")
		}
		if opts.ObsCSV == "" {
			return fmt.Errorf("calibrate: --obs-csv (or calibrate.obs_csv) is required")
		}

		h, err := store.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer h.Close() //nolint:errcheck
		if err := h.Migrate(ctx); err != nil {
			return err
		}
		opts.History = h

		sum, err := runner.Run(ctx, opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "run %s: %d units, %d adjusted, %d skipped, %d failed\n",
			sum.RunID, sum.Units, sum.Adjusted, sum.Skipped, sum.Failed)
		if sum.Failed > 0 {
			return fmt.Errorf("calibrate: %d units failed", sum.Failed)
		}
		return nil
	},
}

func init() {
	calibrateCmd.Flags().String("fim-dir", "", "FIM output directory containing HUC subdirectories")
	calibrateCmd.Flags().String("obs-csv", "", "point observations CSV (hydroid, flow, hand, ...)")
	calibrateCmd.Flags().Int("jobs", 1, "number of units to process concurrently")
	calibrateCmd.Flags().Float64("down-dist", 10.0, "max downstream distance (km) for group roughness propagation")
	calibrateCmd.Flags().String("source-tag", "", "observation source tag written to obs_source")
	calibrateCmd.Flags().Bool("merge-prev", false, "retain durable adjustments from a previous calibration")
	calibrateCmd.Flags().Bool("debug-outputs", false, "write per-branch calc/stats/merge debug CSVs")
	rootCmd.AddCommand(calibrateCmd)
}
