package connectivity

import (
	"github.com/gogpu/matgraph/graph"
)

// Analyze computes the reachability list of every given output, or of every
// designated output of g when none are given. Outputs share one arena, so
// outputs fed by common blocks land on the same island.
//
// Failures are isolated: an output whose sub-graph has a cycle or a dangling
// socket appears in errs only, the others still succeed.
func Analyze(g *graph.Graph, outputs ...graph.BlockID) (map[graph.BlockID]*Reachability, map[graph.BlockID]error) {
	a := New(g)
	if len(outputs) == 0 {
		outputs = a.g.Outputs()
	}

	// Discover everything first so island ids account for every output.
	for _, out := range outputs {
		_, _ = a.discover(out)
	}

	lists := make(map[graph.BlockID]*Reachability, len(outputs))
	errs := make(map[graph.BlockID]error)
	for _, out := range outputs {
		r, err := a.Reach(out)
		if err != nil {
			errs[out] = err
			continue
		}
		lists[out] = r
	}
	return lists, errs
}

// Unreachable returns the blocks of g that feed no designated output, in
// insertion order. They are the islands pruned before code generation.
func Unreachable(g *graph.Graph) []graph.BlockID {
	a := New(g)
	for _, out := range a.g.Outputs() {
		_, _ = a.discover(out)
	}

	var ids []graph.BlockID
	for _, b := range a.g.Blocks() {
		if _, ok := a.index[b.ID()]; !ok {
			ids = append(ids, b.ID())
		}
	}
	return ids
}
