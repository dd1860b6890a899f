package network

// groupState is the accumulator threaded through one branch of the
// downstream walk. It resets whenever the branch id changes.
type groupState struct {
	distAccum float64 // km walked since the last calibrated segment
	runCount  int     // consecutive calibrated segments in the current run
	contrib   int     // calibrated segments feeding the running mean
	runSum    float64 // sum of contributing roughness values
	mean      float64 // current running mean
}

func (g *groupState) reset() {
	*g = groupState{}
}

// PropagateGroupN walks the branch-ordered nodes and computes the group
// roughness value: a running mean of calibrated segment values, carried
// downstream across uncalibrated segments until either the accumulated
// distance reaches threshKm or the branch ends. segmentN maps HydroID to the
// direct per-segment calibrated roughness.
//
// The returned map holds a group value for calibrated segments too, so the
// branch-internal smoothing is visible at calibrated nodes. An uncalibrated
// segment only receives a value while the accumulated distance stays under
// the threshold and at least two calibrated segments have contributed; a
// single observation is not trusted to project downstream on its own.
func PropagateGroupN(ordered []Node, segmentN map[int64]float64, threshKm float64) map[int64]float64 {
	out := make(map[int64]float64)
	var st groupState
	curBranch := -1

	for _, node := range ordered {
		if node.BranchID != curBranch {
			st.reset()
			curBranch = node.BranchID
		}

		n, calibrated := segmentN[node.HydroID]
		if !calibrated {
			// Distance includes the uncalibrated segment itself.
			st.distAccum += node.LengthKm
			st.runCount = 0
			if st.distAccum < threshKm && st.contrib > 1 {
				out[node.HydroID] = st.mean
			}
			continue
		}

		st.distAccum = 0
		st.runCount++
		if st.runCount == 1 {
			// First calibrated segment after a gap restarts the mean.
			st.runSum = 0
			st.contrib = 0
		}
		st.mean = (n + st.runSum) / float64(st.runCount)
		out[node.HydroID] = st.mean
		st.runSum += n
		st.contrib++
	}
	return out
}
