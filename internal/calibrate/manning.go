package calibrate

import "math"

// Manning's equation rearrangements. Both are closed-form lookups on the
// tabulated channel geometry, not hydraulic solvers.

// roughnessFromFlow solves Manning's equation for the roughness coefficient
// given an observed flow: n = A * R^(2/3) * S^(1/2) / Q. Returns NaN when
// the inputs cannot produce a finite value.
func roughnessFromFlow(wetArea, hydraulicRadius, slope, flow float64) float64 {
	if flow == 0 {
		return math.NaN()
	}
	return wetArea * math.Pow(hydraulicRadius, 2.0/3.0) * math.Sqrt(slope) / flow
}

// dischargeFromRoughness solves Manning's equation for discharge:
// Q = A * R^(2/3) * S^(1/2) / n.
func dischargeFromRoughness(wetArea, hydraulicRadius, slope, manningN float64) float64 {
	if manningN == 0 {
		return math.NaN()
	}
	return wetArea * math.Pow(hydraulicRadius, 2.0/3.0) * math.Sqrt(slope) / manningN
}
