package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fimworks/srcadjust/internal/bankfull"
	"github.com/fimworks/srcadjust/internal/hydrotable"
)

var bankfullCmd = &cobra.Command{
	Use:   "bankfull",
	Short: "Identify bankfull stage on full crosswalked SRCs",
	Long:  "Joins recurrence-interval bankfull flows onto each branch's full crosswalked SRC, finds the nearest-discharge stage per segment, and writes bankfull geometry and channel ratios back to the CSV.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fimDir, _ := cmd.Flags().GetString("fim-dir")
		if fimDir == "" {
			fimDir = cfg.Calibrate.FimDir
		}
		flowsCSV, _ := cmd.Flags().GetString("flows")
		if flowsCSV == "" {
			flowsCSV = cfg.Bankfull.FlowsCSV
		}
		jobs := cfg.Bankfull.Jobs
		if cmd.Flags().Changed("jobs") {
			jobs, _ = cmd.Flags().GetInt("jobs")
		}
		if jobs <= 0 {
			jobs = 1
		}
		if fimDir == "" {
			return fmt.Errorf("bankfull: --fim-dir (or calibrate.fim_dir) is required")
		}
		if flowsCSV == "" {
			return fmt.Errorf("bankfull: --flows (or bankfull.flows_csv) is required")
		}

		flows, err := bankfull.ReadFlows(flowsCSV)
		if err != nil {
			return err
		}

		srcs, err := discoverSRCs(fimDir)
		if err != nil {
			return err
		}
		if len(srcs) == 0 {
			zap.L().Info("no crosswalked SRCs found", zap.String("fim_dir", fimDir))
			return nil
		}

		zap.L().Info("identifying bankfull stages",
			zap.Int("branches", len(srcs)),
			zap.Int("jobs", jobs),
		)

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(jobs)

		var succeeded, failed atomic.Int64
		for _, src := range srcs {
			src := src
			g.Go(func() error {
				log := zap.L().With(
					zap.String("huc", src.huc),
					zap.String("branch", src.branch),
				)

				tbl, err := hydrotable.Read(src.path)
				if err != nil {
					failed.Add(1)
					log.Error("read SRC failed", zap.Error(err))
					return nil
				}
				res, err := bankfull.Identify(tbl, flows, src.huc, src.branch)
				if err != nil {
					failed.Add(1)
					log.Error("bankfull identification failed", zap.Error(err))
					return nil
				}
				if err := tbl.Write(src.path); err != nil {
					failed.Add(1)
					log.Error("write SRC failed", zap.Error(err))
					return nil
				}

				succeeded.Add(1)
				log.Info("bankfull identified", zap.Int("missing_features", res.MissingFeatures))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "bankfull: wait")
		}

		fmt.Fprintf(os.Stdout, "bankfull: %d branches updated, %d failed\n", succeeded.Load(), failed.Load())
		if failed.Load() > 0 {
			return fmt.Errorf("bankfull: %d branches failed", failed.Load())
		}
		return nil
	},
}

// srcFile is one branch's full crosswalked SRC CSV.
type srcFile struct {
	huc    string
	branch string
	path   string
}

var bankfullHucRe = regexp.MustCompile(`^\d{8}$`)

// discoverSRCs finds src_full_crosswalked_<branch>.csv files under the
// FIM directory layout <fimDir>/<huc>/branches/<branch>/.
func discoverSRCs(fimDir string) ([]srcFile, error) {
	entries, err := os.ReadDir(fimDir)
	if err != nil {
		return nil, eris.Wrapf(err, "bankfull: read fim dir %s", fimDir)
	}

	var srcs []srcFile
	for _, e := range entries {
		if !e.IsDir() || !bankfullHucRe.MatchString(e.Name()) {
			continue
		}
		huc := e.Name()
		branches, err := os.ReadDir(filepath.Join(fimDir, huc, "branches"))
		if err != nil {
			continue
		}
		for _, b := range branches {
			if !b.IsDir() {
				continue
			}
			path := filepath.Join(fimDir, huc, "branches", b.Name(), "src_full_crosswalked_"+b.Name()+".csv")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			srcs = append(srcs, srcFile{huc: huc, branch: b.Name(), path: path})
		}
	}

	sort.Slice(srcs, func(i, j int) bool {
		if srcs[i].huc != srcs[j].huc {
			return srcs[i].huc < srcs[j].huc
		}
		return srcs[i].branch < srcs[j].branch
	})
	return srcs, nil
}

func init() {
	bankfullCmd.Flags().String("fim-dir", "", "FIM output directory containing HUC subdirectories")
	bankfullCmd.Flags().String("flows", "", "bankfull flows CSV (feature_id, discharge)")
	bankfullCmd.Flags().Int("jobs", 1, "number of branches to process concurrently")
	rootCmd.AddCommand(bankfullCmd)
}
