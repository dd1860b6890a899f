package calibrate

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/fimworks/srcadjust/internal/network"
)

// Debug CSV writers. These emit the intermediate calculation tables used to
// evaluate a calibration run: raw per-observation roughness, per-segment
// aggregate statistics, and the post-merge segment values.

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func optF(v *float64) string {
	if v == nil {
		return ""
	}
	return ff(*v)
}

func writeRows(dir, name string, header []string, rows [][]string) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return eris.Wrapf(err, "calibrate: create debug csv %s", name)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "calibrate: write debug csv %s", name)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "calibrate: write debug csv %s", name)
		}
	}
	w.Flush()
	return eris.Wrapf(w.Error(), "calibrate: flush debug csv %s", name)
}

func writeCalcDebug(dir, branchID, huc string, matched []matchedObs) error {
	header := []string{
		"HydroID", "feature_id", "huc", "flow", "hand", "src_stage",
		"default_ManningN", "SLOPE", "HydraulicRadius_m", "WetArea_m2",
		"discharge_cms", "hydroid_ManningN", "Mann_flag",
		"submitter", "coll_time", "magnitude", "ahps_lid",
	}
	rows := make([][]string, 0, len(matched))
	for _, m := range matched {
		flag := "Fail"
		if m.Pass {
			flag = "Pass"
		}
		rows = append(rows, []string{
			strconv.FormatInt(m.HydroID, 10),
			strconv.FormatInt(m.FeatureID, 10),
			huc,
			ff(m.Flow),
			ff(m.HandStage),
			ff(m.SrcStage),
			ff(m.DefaultManningN),
			ff(m.Slope),
			optF(m.HydraulicRadius),
			optF(m.WetArea),
			ff(m.Discharge),
			ff(m.ManningN),
			flag,
			m.Submitter,
			fmtTime(m.CollTime),
			m.Magnitude(),
			m.GageID(),
		})
	}
	return writeRows(dir, "calc_src_n_vals_"+branchID+".csv", header, rows)
}

func writeStatsDebug(dir, branchID, huc string, statsByID map[int64]segmentStats, magSamples map[int64]map[string][]float64, attr map[int64]attribution) error {
	// Magnitude columns are dynamic: one mean column per flood magnitude
	// present in the observations.
	magSet := make(map[string]bool)
	for _, byMag := range magSamples {
		for mag := range byMag {
			magSet[mag] = true
		}
	}
	mags := make([]string, 0, len(magSet))
	for mag := range magSet {
		mags = append(mags, mag)
	}
	sort.Strings(mags)

	header := []string{"HydroID", "huc", "ahps_lid", "median", "min", "max", "stddev", "count", "range"}
	for _, mag := range mags {
		header = append(header, "ManningN_"+mag)
	}

	ids := make([]int64, 0, len(statsByID))
	for id := range statsByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		st := statsByID[id]
		row := []string{
			strconv.FormatInt(id, 10),
			huc,
			attr[id].gageID,
			ff(st.Median), ff(st.Min), ff(st.Max), ff(st.StdDev),
			strconv.Itoa(st.Count), ff(st.Range()),
		}
		for _, mag := range mags {
			if xs, ok := magSamples[id][mag]; ok {
				row = append(row, ff(meanOf(xs)))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return writeRows(dir, "stats_src_n_vals_"+branchID+".csv", header, rows)
}

func writeMergeDebug(dir, branchID string, nodes []network.Node, segMedian, featMean, groupN map[int64]float64, adjustments map[int64]adjustment) error {
	header := []string{
		"HydroID", "feature_id", "branch_id", "route_count", "order_", "LENGTHKM",
		"hydroid_ManningN", "featid_ManningN", "group_ManningN",
		"adjust_ManningN", "tier", "obs_source", "submitter", "last_updated",
	}
	rows := make([][]string, 0, len(nodes))
	for _, node := range nodes {
		row := []string{
			strconv.FormatInt(node.HydroID, 10),
			strconv.FormatInt(node.FeatureID, 10),
			strconv.Itoa(node.BranchID),
			strconv.Itoa(node.RouteCount),
			strconv.Itoa(node.Order),
			ff(node.LengthKm),
		}
		row = append(row, optLookup(segMedian, node.HydroID))
		row = append(row, optLookup(featMean, node.FeatureID))
		row = append(row, optLookup(groupN, node.HydroID))
		if adj, ok := adjustments[node.HydroID]; ok {
			row = append(row, ff(adj.n), adj.tier.String(), adj.obsSource, adj.submitter, adj.lastUpdated)
		} else {
			row = append(row, "", "", "", "", "")
		}
		rows = append(rows, row)
	}
	return writeRows(dir, "merge_src_n_vals_"+branchID+".csv", header, rows)
}

func optLookup(m map[int64]float64, key int64) string {
	if v, ok := m[key]; ok {
		return ff(v)
	}
	return ""
}
