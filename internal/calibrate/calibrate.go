// Package calibrate reconciles observed stage/flow points with the synthetic
// rating curves of one branch: it solves Manning's equation per observation,
// aggregates to segment and feature level, propagates a group value down the
// flow network, and rewrites the rating table with recomputed discharge.
package calibrate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fimworks/srcadjust/internal/hydrotable"
	"github.com/fimworks/srcadjust/internal/model"
	"github.com/fimworks/srcadjust/internal/network"
)

// Params configures one rating-curve update.
type Params struct {
	HUC      string
	BranchID string
	// SourceTag identifies the observation source recorded in obs_source
	// for newly adjusted segments (e.g. "point_obs" or "usgs_rating").
	SourceTag string
	// MergePrev retains durable previously-persisted adjustments for
	// segments the current observations leave untouched.
	MergePrev    bool
	DownDistKm   float64
	RoughnessMin float64
	RoughnessMax float64
	// DebugDir, when set, receives the intermediate calc/stats/merge CSVs.
	DebugDir string
}

// Result reports what one update did. When Skipped is set the table was not
// modified and must not be rewritten.
type Result struct {
	Skipped    bool
	SkipReason string
	LogText    string
	// Calibrated holds every segment that ended up with a non-null adjusted
	// roughness, for flagging the companion catchments layer.
	Calibrated         map[int64]bool
	ObservationsUsed   int
	ObservationsFailed int
	SegmentsAdjusted   int
}

// adjustment is the resolved roughness for one segment with its provenance.
type adjustment struct {
	n           float64
	tier        model.Tier
	obsSource   string
	submitter   string
	lastUpdated string
}

// attribution tracks the submitter metadata that wins for a segment: the
// observation with the most recent collection time.
type attribution struct {
	submitter string
	collTime  time.Time
	gageID    string
}

type runLog struct {
	b strings.Builder
}

func (l *runLog) printf(format string, args ...any) {
	fmt.Fprintf(&l.b, format, args...)
}

func (l *runLog) String() string { return l.b.String() }

const timeLayout = "2006-01-02 15:04:05"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// UpdateRatingCurve runs the full calibration merge for one branch table.
// The table is mutated in place; the caller persists it unless the result is
// marked skipped. Non-fatal conditions (unknown segments, implausible
// roughness, degenerate branches) are logged and survived.
func UpdateRatingCurve(rt *hydrotable.RatingTable, obs []model.Observation, p Params) (*Result, error) {
	log := &runLog{}
	log.printf("Processing huc %s branch %s\n", p.HUC, p.BranchID)
	log.printf("downstream distance threshold: %gkm\n", p.DownDistKm)
	log.printf("merge previous adjustments: %t\n", p.MergePrev)

	rt.SnapshotDefaults()

	var prev map[int64]hydrotable.PrevAdjustment
	if p.MergePrev {
		prev = rt.PreviousAdjustments()
		if len(prev) > 0 {
			log.printf("found %d durable previous calibration values, retaining for blending\n", len(prev))
		}
	}
	rt.ResetToDefaults()

	rowsByID := rt.RowsByHydroID()
	matched := matchObservations(rt, rowsByID, obs, p, log)

	var pass []matchedObs
	for _, m := range matched {
		if m.Pass {
			pass = append(pass, m)
			continue
		}
		log.printf("flagged implausible roughness %.4f at HydroID %d (allowed %g..%g)\n",
			m.ManningN, m.HydroID, p.RoughnessMin, p.RoughnessMax)
	}

	if p.DebugDir != "" {
		if err := writeCalcDebug(p.DebugDir, p.BranchID, p.HUC, matched); err != nil {
			zap.L().Warn("calibrate: write calc debug csv", zap.Error(err))
		}
	}

	res := &Result{
		Calibrated:         make(map[int64]bool),
		ObservationsUsed:   len(pass),
		ObservationsFailed: len(matched) - len(pass),
	}

	if len(pass) == 0 {
		res.Skipped = true
		res.SkipReason = "no valid roughness calculations from the provided observations"
		log.printf("ALERT: huc %s branch %s: %s\n", p.HUC, p.BranchID, res.SkipReason)
		res.LogText = log.String()
		return res, nil
	}

	samples := make(map[int64][]float64)
	attr := make(map[int64]attribution)
	magSamples := make(map[int64]map[string][]float64)
	for _, m := range pass {
		samples[m.HydroID] = append(samples[m.HydroID], m.ManningN)
		// Most recent collection time wins the attribution; later rows win
		// ties.
		if a, ok := attr[m.HydroID]; !ok || !m.CollTime.Before(a.collTime) {
			attr[m.HydroID] = attribution{
				submitter: m.Submitter,
				collTime:  m.CollTime,
				gageID:    m.GageID(),
			}
		}
		if mag := m.Magnitude(); mag != "" {
			if magSamples[m.HydroID] == nil {
				magSamples[m.HydroID] = make(map[string][]float64)
			}
			magSamples[m.HydroID][mag] = append(magSamples[m.HydroID][mag], m.ManningN)
		}
	}

	segMedian := make(map[int64]float64, len(samples))
	statsByID := make(map[int64]segmentStats, len(samples))
	for id, xs := range samples {
		segMedian[id] = median(xs)
		statsByID[id] = summarize(xs)
	}
	logStats(log, statsByID)

	segments := rt.Segments()
	nodes := network.BuildBranches(segments)
	if len(nodes) == 0 {
		res.Skipped = true
		res.SkipReason = "rating table is empty after removing lake segments"
		log.printf("WARNING: huc %s branch %s: %s\n", p.HUC, p.BranchID, res.SkipReason)
		res.LogText = log.String()
		return res, nil
	}

	groupN := network.PropagateGroupN(nodes, segMedian, p.DownDistKm)

	// Per-feature mean of the per-segment medians, plus the first
	// attributed segment per feature for provenance fill-in.
	featSamples := make(map[int64][]float64)
	featAttr := make(map[int64]attribution)
	direct := 0
	for _, node := range nodes {
		n, ok := segMedian[node.HydroID]
		if !ok {
			continue
		}
		direct++
		featSamples[node.FeatureID] = append(featSamples[node.FeatureID], n)
		if _, seen := featAttr[node.FeatureID]; !seen {
			if a, ok := attr[node.HydroID]; ok && a.submitter != "" {
				featAttr[node.FeatureID] = a
			}
		}
	}
	if direct == 0 {
		res.Skipped = true
		res.SkipReason = "no valid segment roughness values after removing lake segments"
		log.printf("ALERT: huc %s branch %s: %s\n", p.HUC, p.BranchID, res.SkipReason)
		res.LogText = log.String()
		return res, nil
	}
	featMean := make(map[int64]float64, len(featSamples))
	for feat, xs := range featSamples {
		featMean[feat] = meanOf(xs)
	}

	adjustments := resolveAdjustments(nodes, segMedian, featMean, groupN, prev, attr, featAttr, p.SourceTag)
	applyAdjustments(rt, adjustments)

	for id := range adjustments {
		res.Calibrated[id] = true
	}
	res.SegmentsAdjusted = len(adjustments)

	if p.DebugDir != "" {
		if err := writeStatsDebug(p.DebugDir, p.BranchID, p.HUC, statsByID, magSamples, attr); err != nil {
			zap.L().Warn("calibrate: write stats debug csv", zap.Error(err))
		}
		if err := writeMergeDebug(p.DebugDir, p.BranchID, nodes, segMedian, featMean, groupN, adjustments); err != nil {
			zap.L().Warn("calibrate: write merge debug csv", zap.Error(err))
		}
	}

	log.printf("Completed huc %s branch %s: adjusted %d of %d segments\n",
		p.HUC, p.BranchID, len(adjustments), len(nodes))
	res.LogText = log.String()
	return res, nil
}

// resolveAdjustments applies the fixed tier priority per segment: direct
// value, feature mean, propagated group value, then (in retain-previous
// mode) the durable previous adjustment. Previous adjustments for segments
// outside the traversal, such as previously calibrated lake segments, are
// retained as well.
func resolveAdjustments(
	nodes []network.Node,
	segMedian, featMean, groupN map[int64]float64,
	prev map[int64]hydrotable.PrevAdjustment,
	attr map[int64]attribution,
	featAttr map[int64]attribution,
	sourceTag string,
) map[int64]adjustment {
	adjustments := make(map[int64]adjustment)
	for _, node := range nodes {
		var cand model.Candidates
		if v, ok := segMedian[node.HydroID]; ok {
			cand.Segment = &v
		}
		if v, ok := featMean[node.FeatureID]; ok {
			cand.Feature = &v
		}
		if v, ok := groupN[node.HydroID]; ok {
			cand.Group = &v
		}
		if pv, ok := prev[node.HydroID]; ok {
			cand.Previous = &pv.ManningN
		}

		n, tier, ok := cand.Resolve()
		if !ok {
			continue
		}
		adj := adjustment{n: n, tier: tier, obsSource: sourceTag}
		switch tier {
		case model.TierSegment:
			a := attr[node.HydroID]
			adj.submitter = a.submitter
			adj.lastUpdated = fmtTime(a.collTime)
		case model.TierFeature, model.TierGroup:
			if fa, ok := featAttr[node.FeatureID]; ok {
				adj.submitter = fa.submitter
				adj.lastUpdated = fmtTime(fa.collTime)
			}
		case model.TierPrevious:
			pv := prev[node.HydroID]
			adj.obsSource = pv.ObsSource
			adj.submitter = pv.Submitter
			adj.lastUpdated = pv.LastUpdated
		}
		adjustments[node.HydroID] = adj
	}

	for id, pv := range prev {
		if _, ok := adjustments[id]; ok {
			continue
		}
		adjustments[id] = adjustment{
			n:           pv.ManningN,
			tier:        model.TierPrevious,
			obsSource:   pv.ObsSource,
			submitter:   pv.Submitter,
			lastUpdated: pv.LastUpdated,
		}
	}
	return adjustments
}

// applyAdjustments writes the resolved roughness and provenance onto every
// stage row and recomputes discharge. Rows whose default discharge carries a
// sentinel (exactly 0, or the no-data marker from the thalweg notch
// workaround) keep that sentinel verbatim.
func applyAdjustments(rt *hydrotable.RatingTable, adjustments map[int64]adjustment) {
	for row := 0; row < rt.Len(); row++ {
		id, okID := rt.Int(row, hydrotable.ColHydroID)
		adj, adjusted := adjustment{}, false
		if okID {
			adj, adjusted = adjustments[id]
		}

		if adjusted {
			rt.SetFloat(row, hydrotable.ColAdjustManningN, adj.n)
			rt.SetString(row, hydrotable.ColObsSource, adj.obsSource)
			rt.SetString(row, hydrotable.ColSubmitter, adj.submitter)
			rt.SetString(row, hydrotable.ColLastUpdated, adj.lastUpdated)
			rt.SetString(row, hydrotable.ColAdjustSrcOn, "True")
			rt.SetFloat(row, hydrotable.ColManningN, adj.n)
		} else {
			rt.SetString(row, hydrotable.ColAdjustSrcOn, "False")
		}

		if defQ, ok := rt.Float(row, hydrotable.ColDefaultDischarge); ok &&
			(defQ == 0 || defQ == model.NoDataDischarge) {
			rt.SetFloat(row, hydrotable.ColDischarge, defQ)
			continue
		}

		n, okN := rt.Float(row, hydrotable.ColManningN)
		wa, okWA := rt.Float(row, hydrotable.ColWetArea)
		hr, okHR := rt.Float(row, hydrotable.ColHydraulicRadius)
		slope, okS := rt.Float(row, hydrotable.ColSlope)
		if okN && okWA && okHR && okS && n > 0 {
			if q := dischargeFromRoughness(wa, hr, slope, n); !math.IsNaN(q) {
				rt.SetFloat(row, hydrotable.ColDischarge, q)
				continue
			}
		}
		rt.SetString(row, hydrotable.ColDischarge, "")
	}
}

func logStats(log *runLog, statsByID map[int64]segmentStats) {
	if len(statsByID) == 0 {
		return
	}
	ids := make([]int64, 0, len(statsByID))
	for id := range statsByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	log.printf("roughness statistics per segment:\n")
	for _, id := range ids {
		st := statsByID[id]
		log.printf("  HydroID %d: median=%.4f min=%.4f max=%.4f stddev=%.4f count=%d range=%.4f\n",
			id, st.Median, st.Min, st.Max, st.StdDev, st.Count, st.Range())
	}
}
