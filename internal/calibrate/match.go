package calibrate

import (
	"math"

	"go.uber.org/zap"

	"github.com/fimworks/srcadjust/internal/hydrotable"
	"github.com/fimworks/srcadjust/internal/model"
)

// zeroStageCutoff marks the bottom of the rating curve. Matches at or below
// it sit on the SRC zero point where Manning's equation degenerates, so the
// hydraulic attributes are invalidated.
const zeroStageCutoff = 0.1

// matchedObs is one observation joined to its nearest rating-curve row.
type matchedObs struct {
	model.Observation
	FeatureID       int64
	SrcStage        float64
	DefaultManningN float64
	Slope           float64
	HydraulicRadius *float64 // nil once masked at the curve zero point
	WetArea         *float64
	Discharge       float64
	ManningN        float64 // roughness solved from the observed flow
	Pass            bool
}

// matchObservations joins each observation to the rating-curve row of its
// segment whose stage is closest to the observed HAND elevation, copies the
// hydraulic attributes across, and solves for roughness. Observations
// referencing a segment absent from the table are logged and dropped.
func matchObservations(rt *hydrotable.RatingTable, rowsByID map[int64][]int, obs []model.Observation, p Params, log *runLog) []matchedObs {
	matched := make([]matchedObs, 0, len(obs))
	for _, o := range obs {
		rows, ok := rowsByID[o.HydroID]
		if !ok || len(rows) == 0 {
			log.printf("ERROR: observation references unknown HydroID %d (huc %s branch %s)\n", o.HydroID, p.HUC, p.BranchID)
			zap.L().Error("calibrate: observation references unknown segment",
				zap.Int64("hydroid", o.HydroID),
				zap.String("huc", p.HUC),
				zap.String("branch", p.BranchID),
			)
			continue
		}

		best := -1
		bestDiff := math.Inf(1)
		for _, row := range rows {
			stage, ok := rt.Float(row, hydrotable.ColStage)
			if !ok {
				continue
			}
			if diff := math.Abs(stage - o.HandStage); diff < bestDiff {
				bestDiff = diff
				best = row
			}
		}
		if best < 0 {
			log.printf("ERROR: no stage values for HydroID %d (huc %s branch %s)\n", o.HydroID, p.HUC, p.BranchID)
			continue
		}

		m := matchedObs{Observation: o}
		m.FeatureID, _ = rt.Int(best, hydrotable.ColFeatureID)
		m.SrcStage, _ = rt.Float(best, hydrotable.ColStage)
		m.DefaultManningN, _ = rt.Float(best, hydrotable.ColManningN)
		m.Slope, _ = rt.Float(best, hydrotable.ColSlope)
		m.Discharge, _ = rt.Float(best, hydrotable.ColDischarge)

		// Invalidate the hydraulic attributes at the curve zero point,
		// where the equation is undefined or unstable.
		if m.SrcStage > zeroStageCutoff && m.Discharge > 0 {
			if hr, ok := rt.Float(best, hydrotable.ColHydraulicRadius); ok {
				m.HydraulicRadius = &hr
			}
			if wa, ok := rt.Float(best, hydrotable.ColWetArea); ok {
				m.WetArea = &wa
			}
		}

		if m.HydraulicRadius != nil && m.WetArea != nil {
			m.ManningN = roughnessFromFlow(*m.WetArea, *m.HydraulicRadius, m.Slope, o.Flow)
		} else {
			m.ManningN = math.NaN()
		}
		m.Pass = !math.IsNaN(m.ManningN) &&
			m.ManningN > p.RoughnessMin && m.ManningN < p.RoughnessMax

		matched = append(matched, m)
	}
	return matched
}
