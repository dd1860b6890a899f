// Package runner discovers HUC processing units in a FIM output directory
// and drives the calibration pipeline across them with a bounded worker
// pool.
package runner

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fimworks/srcadjust/internal/calibrate"
	"github.com/fimworks/srcadjust/internal/catchments"
	"github.com/fimworks/srcadjust/internal/hydrotable"
	"github.com/fimworks/srcadjust/internal/model"
	"github.com/fimworks/srcadjust/internal/points"
	"github.com/fimworks/srcadjust/internal/store"
)

// Unit is one branch of one HUC: a hydroTable CSV plus an optional
// catchments shapefile next to it.
type Unit struct {
	HUC            string
	BranchID       string
	HydroTablePath string
	CatchmentsPath string
}

// Options configures a calibration run across a FIM directory.
type Options struct {
	FimDir       string
	ObsCSV       string
	Jobs         int
	SourceTag    string
	MergePrev    bool
	DownDistKm   float64
	RoughnessMin float64
	RoughnessMax float64
	DebugOutputs bool
	DebugDir     string

	// History, when non-nil, records the run and its unit outcomes.
	History *store.History
}

// UnitOutcome pairs a unit with its calibration result or failure.
type UnitOutcome struct {
	Unit   Unit
	Result *calibrate.Result
	Err    error
}

// Summary aggregates a whole run.
type Summary struct {
	RunID    string
	Units    int
	Adjusted int
	Skipped  int
	Failed   int
	Outcomes []UnitOutcome
}

var hucDirRe = regexp.MustCompile(`^\d{8}$`)

// DiscoverUnits walks fimDir for HUC directories (eight-digit names) and
// collects every branch beneath them that carries a hydroTable CSV.
func DiscoverUnits(fimDir string) ([]Unit, error) {
	entries, err := os.ReadDir(fimDir)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: read fim dir %s", fimDir)
	}

	var units []Unit
	for _, e := range entries {
		if !e.IsDir() || !hucDirRe.MatchString(e.Name()) {
			continue
		}
		huc := e.Name()
		branchRoot := filepath.Join(fimDir, huc, "branches")
		branches, err := os.ReadDir(branchRoot)
		if err != nil {
			// HUC dir without a branches subdir is not a unit.
			continue
		}
		for _, b := range branches {
			if !b.IsDir() {
				continue
			}
			branchDir := filepath.Join(branchRoot, b.Name())
			tablePath := filepath.Join(branchDir, "hydroTable_"+b.Name()+".csv")
			if _, err := os.Stat(tablePath); err != nil {
				continue
			}
			unit := Unit{
				HUC:            huc,
				BranchID:       b.Name(),
				HydroTablePath: tablePath,
			}
			matches, _ := filepath.Glob(filepath.Join(branchDir, "gw_catchments*_"+b.Name()+".shp"))
			if len(matches) > 0 {
				sort.Strings(matches)
				unit.CatchmentsPath = matches[0]
			}
			units = append(units, unit)
		}
	}

	sort.Slice(units, func(i, j int) bool {
		if units[i].HUC != units[j].HUC {
			return units[i].HUC < units[j].HUC
		}
		return units[i].BranchID < units[j].BranchID
	})
	return units, nil
}

// Run calibrates every discovered unit concurrently. Individual unit
// failures are captured in the summary rather than aborting the run.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	units, err := DiscoverUnits(opts.FimDir)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		zap.L().Info("no calibration units found", zap.String("fim_dir", opts.FimDir))
		return &Summary{}, nil
	}

	obs, err := points.ReadCSV(opts.ObsCSV)
	if err != nil {
		return nil, err
	}
	obsByUnit := points.GroupByUnit(obs)

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = 1
	}

	summary := &Summary{Units: len(units)}
	var run *store.Run
	if opts.History != nil {
		run, err = opts.History.StartRun(ctx, opts.SourceTag, len(units))
		if err != nil {
			return nil, err
		}
		summary.RunID = run.ID
	}

	zap.L().Info("processing calibration units",
		zap.Int("units", len(units)),
		zap.Int("jobs", jobs),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	var adjusted, skipped, failed atomic.Int64
	var mu sync.Mutex
	outcomes := make([]UnitOutcome, len(units))

	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			log := zap.L().With(
				zap.String("huc", unit.HUC),
				zap.String("branch", unit.BranchID),
			)

			res, err := processUnit(unit, unitObservations(obsByUnit, unit.HUC), opts)
			outcomes[i] = UnitOutcome{Unit: unit, Result: res, Err: err}

			switch {
			case err != nil:
				failed.Add(1)
				log.Error("unit calibration failed", zap.Error(err))
			case res.Skipped:
				skipped.Add(1)
				log.Info("unit skipped", zap.String("reason", res.SkipReason))
			default:
				adjusted.Add(1)
				log.Info("unit calibrated",
					zap.Int("segments_adjusted", res.SegmentsAdjusted),
					zap.Int("observations_used", res.ObservationsUsed),
				)
			}

			if opts.History != nil {
				out := store.UnitOutcome{HUC: unit.HUC, BranchID: unit.BranchID}
				if err != nil {
					out.Error = err.Error()
				} else {
					out.Skipped = res.Skipped
					out.SkipReason = res.SkipReason
					out.SegmentsAdjusted = res.SegmentsAdjusted
					out.ObservationsUsed = res.ObservationsUsed
					out.LogText = res.LogText
				}
				mu.Lock()
				_, rErr := opts.History.RecordUnit(gctx, run.ID, out)
				mu.Unlock()
				if rErr != nil {
					log.Warn("failed to record unit outcome", zap.Error(rErr))
				}
			}
			return nil // individual failures never abort the run
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "runner: wait")
	}

	summary.Adjusted = int(adjusted.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failed.Load())
	summary.Outcomes = outcomes

	if opts.History != nil {
		status := store.RunStatusComplete
		if summary.Failed > 0 {
			status = store.RunStatusFailed
		}
		if err := opts.History.FinishRun(ctx, run.ID, status, summary.Adjusted, summary.Skipped, summary.Failed); err != nil {
			zap.L().Warn("failed to finish run record", zap.Error(err))
		}
	}

	zap.L().Info("calibration run complete",
		zap.Int("adjusted", summary.Adjusted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// processUnit runs the full pipeline for one unit: read the rating table,
// calibrate it, and on any adjustment write the table back and flag the
// catchments layer.
func processUnit(unit Unit, obs []model.Observation, opts Options) (*calibrate.Result, error) {
	tbl, err := hydrotable.ReadRating(unit.HydroTablePath)
	if err != nil {
		return nil, err
	}

	params := calibrate.Params{
		HUC:          unit.HUC,
		BranchID:     unit.BranchID,
		SourceTag:    opts.SourceTag,
		MergePrev:    opts.MergePrev,
		DownDistKm:   opts.DownDistKm,
		RoughnessMin: opts.RoughnessMin,
		RoughnessMax: opts.RoughnessMax,
	}
	if opts.DebugOutputs {
		params.DebugDir = opts.DebugDir
		if params.DebugDir == "" {
			params.DebugDir = filepath.Dir(unit.HydroTablePath)
		}
	}

	res, err := calibrate.UpdateRatingCurve(tbl, obs, params)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return res, nil
	}

	if err := tbl.Write(unit.HydroTablePath); err != nil {
		return nil, err
	}
	if unit.CatchmentsPath != "" {
		if err := catchments.FlagCalibrated(unit.CatchmentsPath, res.Calibrated); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// unitObservations combines the unit's own observations with untagged ones,
// which apply everywhere.
func unitObservations(byUnit map[string][]model.Observation, huc string) []model.Observation {
	tagged := byUnit[huc]
	global := byUnit[""]
	if len(global) == 0 {
		return tagged
	}
	out := make([]model.Observation, 0, len(tagged)+len(global))
	out = append(out, tagged...)
	return append(out, global...)
}
