package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimworks/srcadjust/internal/model"
)

func seg(id, next int64, order int, lengthKm float64) model.Segment {
	return model.Segment{
		HydroID:    id,
		NextDownID: next,
		LakeID:     model.NonLakeID,
		Order:      order,
		LengthKm:   lengthKm,
	}
}

func TestBuildBranches_SingleChain(t *testing.T) {
	segs := []model.Segment{
		seg(3, 0, 1, 1.0), // terminus: NextDownID not in table
		seg(1, 2, 1, 1.0),
		seg(2, 3, 1, 1.0),
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 3)

	// Upstream-to-downstream order within one branch.
	assert.Equal(t, int64(1), nodes[0].HydroID)
	assert.Equal(t, int64(2), nodes[1].HydroID)
	assert.Equal(t, int64(3), nodes[2].HydroID)
	for i, n := range nodes {
		assert.Equal(t, 1, n.BranchID)
		assert.Equal(t, i, n.RouteCount)
	}
}

func TestBuildBranches_ExcludesLakeSegments(t *testing.T) {
	segs := []model.Segment{
		seg(1, 2, 1, 1.0),
		{HydroID: 2, NextDownID: 3, LakeID: 4600021, Order: 1, LengthKm: 1.0},
		seg(3, 0, 1, 1.0),
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.NotEqual(t, int64(2), n.HydroID)
	}
}

func TestBuildBranches_ConfluenceOrderIncreaseSplits(t *testing.T) {
	// Two order-1 tributaries meet at an order-2 confluence. Each tributary
	// is its own branch; the confluence starts a third branch in the
	// deferred pass.
	segs := []model.Segment{
		seg(10, 30, 1, 1.0),
		seg(20, 30, 1, 1.0),
		seg(30, 40, 2, 1.0),
		seg(40, 0, 2, 1.0),
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 4)

	byID := make(map[int64]Node)
	for _, n := range nodes {
		byID[n.HydroID] = n
	}

	assert.NotEqual(t, byID[10].BranchID, byID[20].BranchID)
	assert.NotEqual(t, byID[10].BranchID, byID[30].BranchID)
	assert.NotEqual(t, byID[20].BranchID, byID[30].BranchID)
	// The confluence branch continues downstream through 40.
	assert.Equal(t, byID[30].BranchID, byID[40].BranchID)
	assert.Equal(t, 0, byID[30].RouteCount)
	assert.Equal(t, 1, byID[40].RouteCount)
}

func TestBuildBranches_OrderIncreaseWithoutConfluenceContinues(t *testing.T) {
	// Order increases 1 -> 2 but only one upstream segment feeds the
	// downstream one, so the walk continues within the same branch.
	segs := []model.Segment{
		seg(1, 2, 1, 1.0),
		seg(2, 0, 2, 1.0),
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 2)
	assert.Equal(t, nodes[0].BranchID, nodes[1].BranchID)
}

func TestBuildBranches_ConfluenceSameOrderContinues(t *testing.T) {
	// Confluence with no order increase: the first branch to arrive walks
	// through it; the other branch stops at the already-visited segment.
	segs := []model.Segment{
		seg(10, 30, 2, 1.0),
		seg(20, 30, 1, 1.0),
		seg(30, 0, 2, 1.0),
	}

	nodes := BuildBranches(segs)
	byID := make(map[int64]Node)
	for _, n := range nodes {
		byID[n.HydroID] = n
	}

	// 30 belongs to exactly one branch (whichever head reached it first).
	assert.Contains(t, []int{byID[10].BranchID, byID[20].BranchID}, byID[30].BranchID)
}

func TestBuildBranches_UnknownOrderNeverSplits(t *testing.T) {
	segs := []model.Segment{
		seg(10, 30, 0, 1.0), // unknown order
		seg(20, 30, 1, 1.0),
		seg(30, 0, 2, 1.0),
	}

	nodes := BuildBranches(segs)
	byID := make(map[int64]Node)
	for _, n := range nodes {
		byID[n.HydroID] = n
	}
	// One of the tributaries walks into 30: either 20 split (order 1 -> 2
	// confluence) and 10 continued, or 10 was processed first and continued
	// regardless. In both cases 30 must be assigned to some branch.
	assert.Greater(t, byID[30].BranchID, 0)
}

func TestBuildBranches_CycleTerminates(t *testing.T) {
	// Malformed graph: 1 -> 2 -> 3 -> 1. No head exists, so the cycle
	// component stays unassigned rather than hanging the walk.
	segs := []model.Segment{
		seg(1, 2, 1, 1.0),
		seg(2, 3, 1, 1.0),
		seg(3, 1, 1, 1.0),
		seg(9, 0, 1, 1.0), // healthy isolated segment
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 4)

	byID := make(map[int64]Node)
	for _, n := range nodes {
		byID[n.HydroID] = n
	}
	assert.Equal(t, 1, byID[9].BranchID)
	assert.Equal(t, 0, byID[1].BranchID)
	assert.Equal(t, 0, byID[2].BranchID)
	assert.Equal(t, 0, byID[3].BranchID)
	// Unassigned nodes sort to the end.
	assert.Equal(t, int64(9), nodes[0].HydroID)
}

func TestBuildBranches_PartitionProperty(t *testing.T) {
	// Larger network: every non-lake segment lands in exactly one branch
	// with strictly increasing route counts.
	segs := []model.Segment{
		seg(1, 3, 1, 1.0),
		seg(2, 3, 1, 1.0),
		seg(3, 5, 2, 1.0),
		seg(4, 5, 2, 1.0),
		seg(5, 6, 3, 1.0),
		seg(6, 7, 3, 1.0),
		seg(7, 0, 3, 1.0),
	}

	nodes := BuildBranches(segs)
	require.Len(t, nodes, 7)

	seen := make(map[int64]bool)
	lastRank := make(map[int]int)
	for _, n := range nodes {
		assert.False(t, seen[n.HydroID], "HydroID %d assigned twice", n.HydroID)
		seen[n.HydroID] = true
		assert.Greater(t, n.BranchID, 0)
		if prev, ok := lastRank[n.BranchID]; ok {
			assert.Equal(t, prev+1, n.RouteCount)
		} else {
			assert.Equal(t, 0, n.RouteCount)
		}
		lastRank[n.BranchID] = n.RouteCount
	}
}
