package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimworks/srcadjust/internal/hydrotable"
	"github.com/fimworks/srcadjust/internal/model"
	"github.com/fimworks/srcadjust/internal/store"
)

// Fixture geometry reduces Manning's equation to n = 2/Q: WetArea 10,
// HydraulicRadius 1, slope 0.04.
const fixtureHeader = "HydroID,feature_id,NextDownID,order_,LENGTHKM,LakeID,stage,discharge_cms,ManningN,SLOPE,HydraulicRadius (m),WetArea (m2)"

func segRows(id, feat, next int64) []string {
	zero := fmt.Sprintf("%d,%d,%d,1,1.0,%d,0.0,0.0,0.06,0.04,0.0,0.0", id, feat, next, model.NonLakeID)
	one := fmt.Sprintf("%d,%d,%d,1,1.0,%d,1.0,33.33,0.06,0.04,1.0,10.0", id, feat, next, model.NonLakeID)
	return []string{zero, one}
}

// writeUnit lays out fimDir/<huc>/branches/<branch>/hydroTable_<branch>.csv.
func writeUnit(t *testing.T, fimDir, huc, branch string, rows []string) string {
	t.Helper()
	dir := filepath.Join(fimDir, huc, "branches", branch)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "hydroTable_"+branch+".csv")
	content := fixtureHeader + "\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeObs(t *testing.T, dir string, rows []string) string {
	t.Helper()
	path := filepath.Join(dir, "obs.csv")
	content := "hydroid,flow,hand,submitter,coll_time,layer,huc\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testOptions(fimDir, obsCSV string) Options {
	return Options{
		FimDir:       fimDir,
		ObsCSV:       obsCSV,
		Jobs:         2,
		SourceTag:    "nws_lid",
		DownDistKm:   10.0,
		RoughnessMin: 0.001,
		RoughnessMax: 0.6,
	}
}

func TestDiscoverUnits(t *testing.T) {
	fimDir := t.TempDir()
	writeUnit(t, fimDir, "12040101", "2903", segRows(101, 5001, -1))
	writeUnit(t, fimDir, "12040101", "0", segRows(201, 6001, -1))
	writeUnit(t, fimDir, "12090301", "0", segRows(301, 7001, -1))

	// Noise that must be ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(fimDir, "logs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(fimDir, "12999999"), 0o755)) // no branches dir
	require.NoError(t, os.MkdirAll(filepath.Join(fimDir, "12040101", "branches", "empty"), 0o755))

	units, err := DiscoverUnits(fimDir)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "12040101", units[0].HUC)
	assert.Equal(t, "0", units[0].BranchID)
	assert.Equal(t, "12040101", units[1].HUC)
	assert.Equal(t, "2903", units[1].BranchID)
	assert.Equal(t, "12090301", units[2].HUC)
}

func TestRun_CalibratesUnit(t *testing.T) {
	fimDir := t.TempDir()
	path := writeUnit(t, fimDir, "12040101", "0", segRows(101, 5001, -1))
	obsCSV := writeObs(t, t.TempDir(), []string{
		"101,40.0,1.0,nws,2021-03-17 12:00:00,usgs_bmnf3_flood_huc_x_action_20210317,12040101",
	})

	sum, err := Run(context.Background(), testOptions(fimDir, obsCSV))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Units)
	assert.Equal(t, 1, sum.Adjusted)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)

	// Table was rewritten with the adjusted roughness (n = 2/40 = 0.05).
	rt, err := hydrotable.ReadRating(path)
	require.NoError(t, err)
	found := false
	for row := 0; row < rt.Len(); row++ {
		if n, ok := rt.Float(row, hydrotable.ColAdjustManningN); ok {
			assert.InDelta(t, 0.05, n, 1e-9)
			found = true
		}
	}
	assert.True(t, found, "adjusted roughness written back")
}

func TestRun_ObservationsScopedByHUC(t *testing.T) {
	fimDir := t.TempDir()
	writeUnit(t, fimDir, "12040101", "0", segRows(101, 5001, -1))
	writeUnit(t, fimDir, "12090301", "0", segRows(201, 6001, -1))
	obsCSV := writeObs(t, t.TempDir(), []string{
		"101,40.0,1.0,nws,2021-03-17 12:00:00,usgs_bmnf3_flood_huc_x_action_20210317,12040101",
	})

	sum, err := Run(context.Background(), testOptions(fimDir, obsCSV))
	require.NoError(t, err)

	// 12090301 has no observations in scope and skips.
	assert.Equal(t, 1, sum.Adjusted)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
}

func TestRun_SkippedUnitLeavesTableUntouched(t *testing.T) {
	fimDir := t.TempDir()
	path := writeUnit(t, fimDir, "12040101", "0", segRows(101, 5001, -1))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	obsCSV := writeObs(t, t.TempDir(), []string{
		"999,40.0,1.0,nws,2021-03-17 12:00:00,usgs_bmnf3_flood_huc_x_action_20210317,12090301",
	})

	sum, err := Run(context.Background(), testOptions(fimDir, obsCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_RecordsHistory(t *testing.T) {
	fimDir := t.TempDir()
	writeUnit(t, fimDir, "12040101", "0", segRows(101, 5001, -1))
	obsCSV := writeObs(t, t.TempDir(), []string{
		"101,40.0,1.0,nws,2021-03-17 12:00:00,usgs_bmnf3_flood_huc_x_action_20210317,12040101",
	})

	h, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() }) //nolint:errcheck
	require.NoError(t, h.Migrate(context.Background()))

	opts := testOptions(fimDir, obsCSV)
	opts.History = h

	sum, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)

	run, err := h.GetRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, 1, run.Units)
	assert.Equal(t, 1, run.UnitsAdjusted)

	outs, err := h.ListUnitOutcomes(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "12040101", outs[0].HUC)
	assert.NotEmpty(t, outs[0].LogText)
}

func TestRun_NoUnits(t *testing.T) {
	sum, err := Run(context.Background(), testOptions(t.TempDir(), "unused.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Units)
}
