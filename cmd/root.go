package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fimworks/srcadjust/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "srcadjust",
	Short: "Synthetic rating curve calibration for FIM hydrofabric outputs",
	Long:  "Calibrates channel roughness in HAND-derived synthetic rating curves from point observations, recomputes discharge, and flags calibrated catchments.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
