// Package points parses observed water-edge point exports: one row per
// stage/flow observation tied to a reach segment.
package points

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fimworks/srcadjust/internal/model"
)

var collTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ReadCSV parses an observation export. Required columns: hydroid, flow,
// HAND; recognized optional columns: submitter, coll_time, flow_unit, layer,
// huc. Rows without a positive hydroid are dropped, matching the upstream
// filter on null entries.
func ReadCSV(path string) ([]model.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "points: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "points: read %s", path)
	}
	if len(records) < 2 {
		return nil, eris.Errorf("points: %s has no data rows", path)
	}

	colIdx := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"hydroid", "flow", "hand"} {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("points: %s missing required column %q", path, col)
		}
	}

	var obs []model.Observation
	var dropped int
	for _, row := range records[1:] {
		hydroID, err := strconv.ParseInt(getCol(row, colIdx, "hydroid"), 10, 64)
		if err != nil || hydroID <= 0 {
			dropped++
			continue
		}
		flow, err := strconv.ParseFloat(getCol(row, colIdx, "flow"), 64)
		if err != nil {
			dropped++
			continue
		}
		hand, err := strconv.ParseFloat(getCol(row, colIdx, "hand"), 64)
		if err != nil {
			dropped++
			continue
		}

		obs = append(obs, model.Observation{
			HydroID:   hydroID,
			Flow:      flow,
			HandStage: hand,
			Submitter: getCol(row, colIdx, "submitter"),
			CollTime:  parseCollTime(getCol(row, colIdx, "coll_time")),
			FlowUnit:  getCol(row, colIdx, "flow_unit"),
			Layer:     getCol(row, colIdx, "layer"),
			HUC:       getCol(row, colIdx, "huc"),
		})
	}

	if dropped > 0 {
		zap.L().Warn("points: dropped rows without valid hydroid/flow/HAND",
			zap.String("path", path),
			zap.Int("dropped", dropped),
		)
	}
	if len(obs) == 0 {
		return nil, eris.Errorf("points: %s has no usable observations", path)
	}
	return obs, nil
}

// GroupByUnit buckets observations by their hydrologic unit code.
// Observations without a HUC land under the empty key and apply to every
// unit.
func GroupByUnit(obs []model.Observation) map[string][]model.Observation {
	byUnit := make(map[string][]model.Observation)
	for _, o := range obs {
		byUnit[o.HUC] = append(byUnit[o.HUC], o)
	}
	return byUnit
}

func getCol(row []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseCollTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range collTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
