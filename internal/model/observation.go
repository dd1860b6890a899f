package model

import (
	"strings"
	"time"
)

// Observation is one observed stage/flow pair tied to a segment. Observations
// are ephemeral: they exist only for the duration of one calibration run and
// are never persisted as-is.
type Observation struct {
	HydroID   int64
	Flow      float64 // observed flow, cms
	HandStage float64 // observed water edge as HAND-relative elevation, m
	Submitter string
	CollTime  time.Time
	FlowUnit  string
	// Layer is the composite source tag, e.g.
	// "usgs_gages_bmnf3_huc_12090301_action_20210317". Underscore-delimited;
	// position 1 carries the gage identifier and position 5 the flood
	// magnitude category.
	Layer string
	HUC   string
}

// GageID extracts the gage identifier from the composite layer tag. Empty
// when the tag does not carry one.
func (o Observation) GageID() string {
	return layerPart(o.Layer, 1)
}

// Magnitude extracts the flood magnitude category (e.g. "action", "minor")
// from the composite layer tag. Empty when the tag does not carry one.
func (o Observation) Magnitude() string {
	return layerPart(o.Layer, 5)
}

func layerPart(layer string, i int) string {
	parts := strings.Split(layer, "_")
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}
