// Package network builds directed flow branches from segment topology and
// propagates calibrated roughness values downstream along them.
package network

import (
	"sort"

	"github.com/fimworks/srcadjust/internal/model"
)

// Node is one non-lake segment annotated with its traversal position.
// BranchID partitions the network into maximal head-to-terminus runs;
// RouteCount is the zero-based position within the branch, increasing
// downstream.
type Node struct {
	model.Segment
	BranchID   int
	RouteCount int
}

// BuildBranches assigns branch ids and route ranks to every non-lake
// segment. Lake segments are dropped entirely. The result is sorted by
// (BranchID, RouteCount) so each branch reads upstream to downstream, which
// is the ordering PropagateGroupN depends on.
//
// Branch heads are segments never referenced as another segment's
// NextDownID. A branch ends at a true sink, at an already-visited segment,
// or just above a confluence whose stream order exceeds the current
// segment's order; the confluence is then enqueued as a deferred branch head
// of its own. The visited set guarantees termination even when the input
// graph carries cycles or dangling NextDownID references.
func BuildBranches(segments []model.Segment) []Node {
	// Arena of non-lake segments addressed by index, with a side table
	// mapping HydroID to index. Avoids pointer cycles in malformed graphs.
	arena := make([]Node, 0, len(segments))
	byID := make(map[int64]int, len(segments))
	for _, s := range segments {
		if s.IsLake() {
			continue
		}
		byID[s.HydroID] = len(arena)
		arena = append(arena, Node{Segment: s, BranchID: 0, RouteCount: -1})
	}

	// Count upstream references per segment. A segment referenced by more
	// than one is a confluence; a segment referenced by none is a branch
	// head.
	upstream := make(map[int64]int, len(arena))
	for _, n := range arena {
		if _, ok := byID[n.NextDownID]; ok {
			upstream[n.NextDownID]++
		}
	}

	heads := make([]int, 0, len(arena))
	for i, n := range arena {
		if upstream[n.HydroID] == 0 {
			heads = append(heads, i)
		}
	}

	visited := make(map[int64]bool, len(arena))
	branch := 0
	for len(heads) > 0 {
		cur := heads[0]
		heads = heads[1:]
		if visited[arena[cur].HydroID] {
			continue
		}
		branch++
		rank := 0
		for {
			node := &arena[cur]
			node.BranchID = branch
			node.RouteCount = rank
			rank++
			visited[node.HydroID] = true

			next, ok := byID[node.NextDownID]
			if !ok || visited[arena[next].HydroID] {
				break // sink, dangling reference, or cycle guard
			}
			// Split the branch where flow order increases at a confluence.
			// The downstream side restarts as its own branch head in a
			// deferred second pass. Unknown orders never split.
			nextOrder := arena[next].Order
			if node.Order > 0 && nextOrder > node.Order && upstream[arena[next].HydroID] > 1 {
				heads = append(heads, next)
				break
			}
			cur = next
		}
	}

	// Segments unreachable from any head (a pure cycle component) keep
	// BranchID 0 and sort to the end, out of the way of ordered consumers.
	sort.Slice(arena, func(i, j int) bool {
		bi, bj := arena[i].BranchID, arena[j].BranchID
		if bi == 0 {
			bi = int(^uint(0) >> 1)
		}
		if bj == 0 {
			bj = int(^uint(0) >> 1)
		}
		if bi != bj {
			return bi < bj
		}
		return arena[i].RouteCount < arena[j].RouteCount
	})
	return arena
}
