// Package bankfull stamps each synthetic rating curve with its bankfull
// stage: the stage whose discharge sits closest to the recurrence-interval
// bankfull flow of the segment's feature. Channel-geometry ratios derived
// from that stage feed the variable-roughness postprocessing.
package bankfull

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fimworks/srcadjust/internal/hydrotable"
)

// Column names of the full crosswalked SRC table.
const (
	ColStage           = "Stage"
	ColHydroID         = "HydroID"
	ColFeatureID       = "feature_id"
	ColDischarge       = "Discharge (m3s-1)"
	ColVolume          = "Volume (m3)"
	ColHydraulicRadius = "HydraulicRadius (m)"
	ColSurfaceArea     = "SurfaceArea (m2)"

	ColBankfullFlow     = "bankfull_flow"
	ColStageBankfull    = "Stage_bankfull"
	ColVolumeBankfull   = "Volume_bankfull"
	ColHRadiusBankfull  = "HRadius_bankfull"
	ColSurfAreaBankfull = "SurfArea_bankfull"
	ColVolumeRatio      = "chann_volume_ratio"
	ColHRadiusRatio     = "chann_hradius_ratio"
	ColSurfAreaRatio    = "chann_surfarea_ratio"
	ColChannelFplain    = "channel_fplain_1_5"
)

// missingFlow marks features absent from the bankfull flows file.
const missingFlow = -999.0

// ReadFlows parses the recurrence-flow CSV (feature_id, discharge).
func ReadFlows(path string) (map[int64]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bankfull: open flows %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "bankfull: read flows %s", path)
	}
	if len(records) < 2 {
		return nil, eris.Errorf("bankfull: flows file %s has no data rows", path)
	}

	featIdx, flowIdx := -1, -1
	for i, col := range records[0] {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "feature_id":
			featIdx = i
		case "discharge":
			flowIdx = i
		}
	}
	if featIdx < 0 || flowIdx < 0 {
		return nil, eris.Errorf("bankfull: flows file %s needs feature_id and discharge columns", path)
	}

	flows := make(map[int64]float64, len(records)-1)
	for _, row := range records[1:] {
		if featIdx >= len(row) || flowIdx >= len(row) {
			continue
		}
		feat, err := strconv.ParseInt(strings.TrimSpace(row[featIdx]), 10, 64)
		if err != nil {
			continue
		}
		flow, err := strconv.ParseFloat(strings.TrimSpace(row[flowIdx]), 64)
		if err != nil {
			continue
		}
		flows[feat] = flow
	}
	return flows, nil
}

// Result reports one branch's bankfull identification.
type Result struct {
	LogText         string
	MissingFeatures int
}

// bankfullPick is the geometry of the stage chosen as bankfull for one
// segment.
type bankfullPick struct {
	stage    float64
	volume   float64
	hradius  float64
	surfarea float64
}

// Identify joins the bankfull flows into the SRC table by feature, locates
// the nearest-discharge stage per segment, and writes the bankfull stage,
// geometry, channel ratios, and channel/floodplain label onto every row. The
// table is mutated in place.
func Identify(tbl *hydrotable.Table, flows map[int64]float64, huc, branchID string) (*Result, error) {
	for _, col := range []string{ColStage, ColHydroID, ColFeatureID, ColDischarge, ColVolume, ColHydraulicRadius, ColSurfaceArea} {
		if !tbl.HasColumn(col) {
			return nil, eris.Errorf("bankfull: table missing required column %q", col)
		}
	}
	tbl.EnsureColumns(
		ColBankfullFlow, ColStageBankfull, ColVolumeBankfull, ColHRadiusBankfull,
		ColSurfAreaBankfull, ColVolumeRatio, ColHRadiusRatio, ColSurfAreaRatio,
		ColChannelFplain,
	)

	res := &Result{}
	var log strings.Builder
	fmt.Fprintf(&log, "Calculating bankfull: huc %s branch %s\n", huc, branchID)

	// Join flows and index rows per segment.
	bfFlow := make(map[int64]float64)
	rowsByID := make(map[int64][]int)
	for row := 0; row < tbl.Len(); row++ {
		id, ok := tbl.Int(row, ColHydroID)
		if !ok {
			continue
		}
		rowsByID[id] = append(rowsByID[id], row)
		if _, seen := bfFlow[id]; !seen {
			feat, _ := tbl.Int(row, ColFeatureID)
			flow, ok := flows[feat]
			if !ok {
				flow = missingFlow
				res.MissingFeatures++
			}
			bfFlow[id] = flow
		}
		tbl.SetFloat(row, ColBankfullFlow, bfFlow[id])
	}
	if res.MissingFeatures > 0 {
		fmt.Fprintf(&log, "missing bankfull flow for %d segments (features absent from crosswalk), filled with %g\n",
			res.MissingFeatures, missingFlow)
	}

	// Locate the bankfull stage per segment: the Stage>0 row whose
	// discharge is nearest the bankfull flow.
	picks := make(map[int64]bankfullPick, len(rowsByID))
	for id, rows := range rowsByID {
		best, bestDiff := -1, math.Inf(1)
		for _, row := range rows {
			stage, ok := tbl.Float(row, ColStage)
			if !ok || stage <= 0 {
				continue
			}
			q, ok := tbl.Float(row, ColDischarge)
			if !ok {
				continue
			}
			if best < 0 {
				best = row // fallback when every diff is unusable
			}
			if diff := math.Abs(bfFlow[id] - q); diff < bestDiff {
				bestDiff = diff
				best = row
			}
		}
		if best < 0 {
			continue
		}
		var p bankfullPick
		p.stage, _ = tbl.Float(best, ColStage)
		p.volume, _ = tbl.Float(best, ColVolume)
		p.hradius, _ = tbl.Float(best, ColHydraulicRadius)
		p.surfarea, _ = tbl.Float(best, ColSurfaceArea)
		picks[id] = p
	}

	for row := 0; row < tbl.Len(); row++ {
		id, ok := tbl.Int(row, ColHydroID)
		if !ok {
			continue
		}
		p, havePick := picks[id]
		if !havePick {
			continue
		}
		flow := bfFlow[id]

		tbl.SetFloat(row, ColVolumeBankfull, p.volume)
		tbl.SetFloat(row, ColHRadiusBankfull, p.hradius)
		tbl.SetFloat(row, ColSurfAreaBankfull, p.surfarea)

		stage, _ := tbl.Float(row, ColStage)
		vol, _ := tbl.Float(row, ColVolume)
		hr, _ := tbl.Float(row, ColHydraulicRadius)
		sa, _ := tbl.Float(row, ColSurfaceArea)
		tbl.SetFloat(row, ColVolumeRatio, channelRatio(stage, p.volume, vol, flow))
		tbl.SetFloat(row, ColHRadiusRatio, channelRatio(stage, p.hradius, hr, flow))
		tbl.SetFloat(row, ColSurfAreaRatio, channelRatio(stage, p.surfarea, sa, flow))

		// Bankfull stage is meaningless where the joined flow is absent or
		// non-positive.
		if flow > 0 {
			tbl.SetFloat(row, ColStageBankfull, p.stage)
			if stage <= p.stage {
				tbl.SetString(row, ColChannelFplain, "channel")
			} else {
				tbl.SetString(row, ColChannelFplain, "floodplain")
			}
		} else {
			tbl.SetString(row, ColStageBankfull, "")
			tbl.SetString(row, ColChannelFplain, "channel")
		}
	}

	fmt.Fprintf(&log, "Completed huc %s branch %s\n", huc, branchID)
	res.LogText = log.String()
	return res, nil
}

// channelRatio is the channel fraction of a bankfull quantity at one stage:
// 1 at the curve zero point, bankfull/value elsewhere clipped at 1, and
// forced to 0 when no positive bankfull flow exists (the whole column then
// falls back to overbank roughness).
func channelRatio(stage, bankfullVal, rowVal, flow float64) float64 {
	if flow <= 0 {
		return 0
	}
	if stage == 0 {
		return 1
	}
	// A zero geometry value above the zero point sends the raw ratio to
	// infinity; the upper clip pins it at 1 like any other overshoot.
	ratio := bankfullVal / rowVal
	if math.IsNaN(ratio) || ratio >= 1 {
		return 1
	}
	return ratio
}
