package hydrotable

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fimworks/srcadjust/internal/model"
)

// Rating table column names, matching the upstream hydroTable layout.
const (
	ColHydroID         = "HydroID"
	ColFeatureID       = "feature_id"
	ColNextDownID      = "NextDownID"
	ColOrder           = "order_"
	ColLengthKm        = "LENGTHKM"
	ColLakeID          = "LakeID"
	ColStage           = "stage"
	ColDischarge       = "discharge_cms"
	ColManningN        = "ManningN"
	ColSlope           = "SLOPE"
	ColHydraulicRadius = "HydraulicRadius (m)"
	ColWetArea         = "WetArea (m2)"

	// Calibration provenance columns, added on first calibration.
	ColDefaultDischarge = "default_discharge_cms"
	ColDefaultManningN  = "default_ManningN"
	ColAdjustManningN   = "adjust_ManningN"
	ColObsSource        = "obs_source"
	ColLastUpdated      = "last_updated"
	ColSubmitter        = "submitter"
	ColAdjustSrcOn      = "adjust_src_on"
)

// DurableSourceTag marks an obs_source whose adjustments survive into later
// runs when retain-previous mode is on. Spatial point observations are not
// retained; rating-curve-derived adjustments are.
const DurableSourceTag = "usgs_rating"

var requiredColumns = []string{
	ColHydroID, ColFeatureID, ColNextDownID, ColOrder, ColLengthKm, ColLakeID,
	ColStage, ColDischarge, ColManningN, ColSlope, ColHydraulicRadius, ColWetArea,
}

var calibrationColumns = []string{
	ColAdjustSrcOn, ColLastUpdated, ColSubmitter, ColAdjustManningN,
	ColObsSource, ColDefaultDischarge, ColDefaultManningN,
}

// RatingTable is the typed view over a per-branch rating table: one row per
// segment per stage increment.
type RatingTable struct {
	*Table
}

// ReadRating loads a rating table and validates the required columns.
func ReadRating(path string) (*RatingTable, error) {
	t, err := Read(path)
	if err != nil {
		return nil, err
	}
	for _, col := range requiredColumns {
		if !t.HasColumn(col) {
			return nil, eris.Errorf("hydrotable: %s missing required column %q", path, col)
		}
	}
	return &RatingTable{Table: t}, nil
}

// PrevAdjustment is a previously persisted calibration value with its
// original provenance, retained across runs in retain-previous mode.
type PrevAdjustment struct {
	ManningN    float64
	Submitter   string
	LastUpdated string
	ObsSource   string
}

// SnapshotDefaults makes the table idempotent under repeated calibration: on
// the first run it adds the provenance columns and copies the pristine
// discharge and roughness into default_*. Later runs find the defaults
// populated and leave them alone. Returns true when the snapshot was taken.
func (rt *RatingTable) SnapshotDefaults() bool {
	rt.EnsureColumns(calibrationColumns...)

	needSnapshot := false
	for row := 0; row < rt.Len(); row++ {
		if _, ok := rt.Float(row, ColDefaultDischarge); !ok {
			needSnapshot = true
			break
		}
	}
	if !needSnapshot {
		return false
	}
	for row := 0; row < rt.Len(); row++ {
		rt.SetString(row, ColDefaultDischarge, rt.String(row, ColDischarge))
		rt.SetString(row, ColDefaultManningN, rt.String(row, ColManningN))
	}
	return true
}

// PreviousAdjustments collects the durable previously-persisted adjustments,
// one per HydroID (first row wins). Only values whose obs_source marks a
// rating-curve-derived source are retained.
func (rt *RatingTable) PreviousAdjustments() map[int64]PrevAdjustment {
	prev := make(map[int64]PrevAdjustment)
	for row := 0; row < rt.Len(); row++ {
		id, ok := rt.Int(row, ColHydroID)
		if !ok {
			continue
		}
		if _, seen := prev[id]; seen {
			continue
		}
		n, ok := rt.Float(row, ColAdjustManningN)
		if !ok {
			continue
		}
		src := rt.String(row, ColObsSource)
		if !strings.Contains(src, DurableSourceTag) {
			continue
		}
		prev[id] = PrevAdjustment{
			ManningN:    n,
			Submitter:   rt.String(row, ColSubmitter),
			LastUpdated: rt.String(row, ColLastUpdated),
			ObsSource:   src,
		}
	}
	return prev
}

// ResetToDefaults restores the working discharge and roughness columns from
// the default_* snapshot and clears all adjustment provenance, so the merge
// always starts from the pristine curve.
func (rt *RatingTable) ResetToDefaults() {
	for row := 0; row < rt.Len(); row++ {
		rt.SetString(row, ColDischarge, rt.String(row, ColDefaultDischarge))
		rt.SetString(row, ColManningN, rt.String(row, ColDefaultManningN))
	}
	rt.ClearColumn(ColAdjustManningN)
	rt.ClearColumn(ColObsSource)
	rt.ClearColumn(ColSubmitter)
	rt.ClearColumn(ColLastUpdated)
	rt.ClearColumn(ColAdjustSrcOn)
}

// Segments returns one Segment per unique HydroID, in first-appearance
// order. Rows without a parseable HydroID are skipped.
func (rt *RatingTable) Segments() []model.Segment {
	var segs []model.Segment
	seen := make(map[int64]bool)
	for row := 0; row < rt.Len(); row++ {
		id, ok := rt.Int(row, ColHydroID)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		featID, _ := rt.Int(row, ColFeatureID)
		nextID, _ := rt.Int(row, ColNextDownID)
		lakeID, ok := rt.Int(row, ColLakeID)
		if !ok {
			lakeID = model.NonLakeID
		}
		lengthKm, _ := rt.Float(row, ColLengthKm)
		order, _ := rt.Int(row, ColOrder)

		segs = append(segs, model.Segment{
			HydroID:    id,
			FeatureID:  featID,
			NextDownID: nextID,
			LakeID:     lakeID,
			LengthKm:   lengthKm,
			Order:      int(order),
		})
	}
	return segs
}

// RowsByHydroID indexes data rows per segment.
func (rt *RatingTable) RowsByHydroID() map[int64][]int {
	rows := make(map[int64][]int)
	for row := 0; row < rt.Len(); row++ {
		id, ok := rt.Int(row, ColHydroID)
		if !ok {
			continue
		}
		rows[id] = append(rows[id], row)
	}
	return rows
}
