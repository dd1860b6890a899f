// Package model defines the hydrologic data types shared across the
// calibration pipeline: reach segments, rating-curve rows, observation
// points, and the calibration tier hierarchy.
package model

// NonLakeID is the LakeID sentinel marking a segment that is not part of a
// lake or waterbody. Lake segments carry a positive waterbody id and are
// excluded from network traversal.
const NonLakeID = -999

// NoDataDischarge is the discharge sentinel carried over from upstream SRC
// post-processing. Rows holding it (or exactly zero) must never be
// recomputed.
const NoDataDischarge = -999.0

// Segment is one reach unit (HydroID) of the hydrologic network with the
// topology attributes needed for traversal. There is exactly one Segment per
// HydroID regardless of how many stage increments its rating curve has.
type Segment struct {
	HydroID    int64
	FeatureID  int64
	NextDownID int64
	LakeID     int64
	LengthKm   float64
	// Order is the stream order. Zero means unknown; an unknown order never
	// triggers a confluence split during traversal.
	Order int
}

// IsLake reports whether the segment belongs to a lake or waterbody.
func (s Segment) IsLake() bool {
	return s.LakeID != NonLakeID
}
