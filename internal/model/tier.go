package model

// Tier identifies which level of the calibration hierarchy supplied a
// segment's adjusted roughness.
type Tier int

const (
	// TierNone means no tier produced a value; the default roughness stands.
	TierNone Tier = iota
	// TierSegment is a direct per-segment roughness from observations.
	TierSegment
	// TierFeature is the mean of segment values sharing a feature id.
	TierFeature
	// TierGroup is the branch running-mean value propagated downstream.
	TierGroup
	// TierPrevious is a retained value from an earlier calibration run.
	TierPrevious
)

func (t Tier) String() string {
	switch t {
	case TierSegment:
		return "segment"
	case TierFeature:
		return "feature"
	case TierGroup:
		return "group"
	case TierPrevious:
		return "previous"
	default:
		return "none"
	}
}

// Candidates holds the optional roughness value offered by each calibration
// tier for one segment. Resolution walks the fixed priority order; exactly
// one tier supplies the final value.
type Candidates struct {
	Segment  *float64
	Feature  *float64
	Group    *float64
	Previous *float64
}

// Resolve returns the winning roughness and its tier. ok is false when no
// tier offered a value, in which case the caller falls back to the default
// roughness.
func (c Candidates) Resolve() (n float64, tier Tier, ok bool) {
	switch {
	case c.Segment != nil:
		return *c.Segment, TierSegment, true
	case c.Feature != nil:
		return *c.Feature, TierFeature, true
	case c.Group != nil:
		return *c.Group, TierGroup, true
	case c.Previous != nil:
		return *c.Previous, TierPrevious, true
	}
	return 0, TierNone, false
}
