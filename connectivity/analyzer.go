// Package connectivity extracts the ordered sub-graph feeding an output
// block.
//
// An Analyzer shadows the blocks it discovers with an arena of nodes indexed
// by dense ids. Discovery starts at the requested outputs and follows
// connections backward, so blocks that feed nothing are never instantiated.
// Each node carries a depth (longest path from a root, -1 until resolved)
// and an island id (connected component over the discovered edges). The
// arena lives for one analysis pass and is dropped with the Analyzer.
package connectivity

import (
	"cmp"
	"slices"
	"strings"

	"github.com/gogpu/matgraph/graph"
)

const unresolved = -1

type mark uint8

const (
	markNone mark = iota
	markActive
	markDone
)

// edge is an input connection of a node: the producer node and the sockets
// on either end.
type edge struct {
	from       int
	fromSocket string
	toSocket   string
}

type node struct {
	block graph.Block
	depth int
	mark  mark

	in []edge

	// dangling lists required input sockets without a producer, in
	// declaration order.
	dangling []string
}

// Analyzer runs connectivity analysis over one graph snapshot.
// It is not safe for concurrent use.
type Analyzer struct {
	g *graph.Graph

	nodes []node
	index map[graph.BlockID]int

	// parent is the union-find forest over node ids.
	parent []int
}

// New creates an analyzer over a snapshot of g.
func New(g *graph.Graph) *Analyzer {
	return &Analyzer{
		g:     g.Snapshot(),
		index: make(map[graph.BlockID]int),
	}
}

// Entry is one block of a reachability list.
type Entry struct {
	Block graph.Block
	Depth int
}

// Reachability is the ordered, island-pruned list of blocks driving one
// output. Every block appears after all blocks it depends on; blocks of
// equal depth keep discovery order.
type Reachability struct {
	Output  graph.BlockID
	Island  int
	Entries []Entry

	// Connections are the followed edges, grouped by consumer in list order.
	Connections []graph.Connection
}

// Blocks returns the ordered blocks.
func (r *Reachability) Blocks() []graph.Block {
	out := make([]graph.Block, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Block
	}
	return out
}

// IDs returns the ordered block ids.
func (r *Reachability) IDs() []graph.BlockID {
	out := make([]graph.BlockID, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Block.ID()
	}
	return out
}

// Contains reports whether id is part of the list.
func (r *Reachability) Contains(id graph.BlockID) bool {
	return slices.ContainsFunc(r.Entries, func(e Entry) bool { return e.Block.ID() == id })
}

// Reach returns the reachability list for output. When sockets are given,
// only those input sockets of output are followed; this is how the engine
// extracts the vertex and fragment sub-graphs separately.
//
// A cycle reachable from output fails with graph.ErrCycle, a required input
// with no producer with graph.ErrDanglingSocket. Both are
// *graph.StructuralError values naming the offending block.
func (a *Analyzer) Reach(output graph.BlockID, sockets ...string) (*Reachability, error) {
	root, err := a.discover(output)
	if err != nil {
		return nil, err
	}

	var filter func(string) bool
	if len(sockets) > 0 {
		filter = func(s string) bool { return slices.Contains(sockets, s) }
	}

	w := walker{a: a, filter: filter, root: root, seen: make(map[int]bool)}
	depth, err := w.visit(root)
	if err != nil {
		return nil, err
	}

	// The root's depth depends on the socket filter, so it is not memoized.
	slices.SortFunc(w.order, func(x, y int) int {
		if c := cmp.Compare(a.depthOf(x, root, depth), a.depthOf(y, root, depth)); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})

	r := &Reachability{
		Output:  output,
		Island:  a.island(root),
		Entries: make([]Entry, len(w.order)),
	}
	for i, id := range w.order {
		n := &a.nodes[id]
		r.Entries[i] = Entry{Block: n.block, Depth: a.depthOf(id, root, depth)}
		for _, e := range n.in {
			if id == root && filter != nil && !filter(e.toSocket) {
				continue
			}
			r.Connections = append(r.Connections, graph.Connection{
				From: graph.SocketRef{Block: a.nodes[e.from].block.ID(), Socket: e.fromSocket},
				To:   graph.SocketRef{Block: n.block.ID(), Socket: e.toSocket},
			})
		}
	}
	return r, nil
}

func (a *Analyzer) depthOf(id, root, rootDepth int) int {
	if id == root {
		return rootDepth
	}
	return a.nodes[id].depth
}

// discover instantiates the node for id and, transitively, every producer
// feeding it.
func (a *Analyzer) discover(id graph.BlockID) (int, error) {
	if i, ok := a.index[id]; ok {
		return i, nil
	}
	if _, ok := a.g.Block(id); !ok {
		return 0, &graph.StructuralError{Kind: graph.ErrUnknownBlock, Block: id}
	}
	root := a.add(id)
	for queue := []int{root}; len(queue) > 0; {
		i := queue[0]
		queue = queue[1:]
		queue = append(queue, a.expand(i)...)
	}
	return root, nil
}

func (a *Analyzer) add(id graph.BlockID) int {
	b, _ := a.g.Block(id)
	i := len(a.nodes)
	a.nodes = append(a.nodes, node{block: b, depth: unresolved})
	a.parent = append(a.parent, i)
	a.index[id] = i
	return i
}

// expand resolves the input connections of node i into edges and returns
// the producers seen for the first time.
func (a *Analyzer) expand(i int) []int {
	var fresh []int
	b := a.nodes[i].block
	for _, s := range b.Inputs() {
		from, ok := a.g.Producer(graph.SocketRef{Block: b.ID(), Socket: s.Name})
		if !ok {
			if !s.Optional {
				a.nodes[i].dangling = append(a.nodes[i].dangling, s.Name)
			}
			continue
		}
		j, known := a.index[from.Block]
		if !known {
			j = a.add(from.Block)
			fresh = append(fresh, j)
		}
		a.nodes[i].in = append(a.nodes[i].in, edge{from: j, fromSocket: from.Socket, toSocket: s.Name})
		a.union(i, j)
	}
	return fresh
}

func (a *Analyzer) find(i int) int {
	for a.parent[i] != i {
		a.parent[i] = a.parent[a.parent[i]]
		i = a.parent[i]
	}
	return i
}

func (a *Analyzer) union(i, j int) {
	ri, rj := a.find(i), a.find(j)
	if ri == rj {
		return
	}
	// Lower id wins so island ids follow discovery order.
	if rj < ri {
		ri, rj = rj, ri
	}
	a.parent[rj] = ri
}

// island returns a dense island number for node i: islands are numbered in
// the discovery order of their first node.
func (a *Analyzer) island(i int) int {
	root := a.find(i)
	n := 0
	for j := range root {
		if a.find(j) == j {
			n++
		}
	}
	return n
}

// walker is one depth-first traversal from a root.
type walker struct {
	a      *Analyzer
	filter func(string) bool
	root   int

	stack []int
	seen  map[int]bool
	order []int
}

func (w *walker) visit(i int) (int, error) {
	n := &w.a.nodes[i]
	if i != w.root && n.mark == markDone {
		w.collect(i)
		return n.depth, nil
	}
	if n.mark == markActive {
		return 0, w.cycle(i)
	}

	for _, s := range n.dangling {
		if i == w.root && w.filter != nil && !w.filter(s) {
			continue
		}
		return 0, graph.Errorf(graph.ErrDanglingSocket, n.block.ID(), s, "required input has no producer")
	}

	prev := n.mark
	n.mark = markActive
	w.stack = append(w.stack, i)
	depth := 0
	for _, e := range n.in {
		if i == w.root && w.filter != nil && !w.filter(e.toSocket) {
			continue
		}
		d, err := w.visit(e.from)
		if err != nil {
			w.unwind()
			return 0, err
		}
		depth = max(depth, d+1)
	}
	w.stack = w.stack[:len(w.stack)-1]

	n = &w.a.nodes[i]
	if i == w.root {
		n.mark = prev
	} else {
		n.mark = markDone
		n.depth = depth
	}
	w.collect(i)
	return depth, nil
}

// collect records i and, for memoized nodes, its whole upstream.
func (w *walker) collect(i int) {
	if w.seen[i] {
		return
	}
	w.seen[i] = true
	w.order = append(w.order, i)
	if i == w.root {
		return
	}
	for _, e := range w.a.nodes[i].in {
		w.collect(e.from)
	}
}

// unwind clears the active markers left by an aborted traversal so later
// traversals from other outputs start clean.
func (w *walker) unwind() {
	for _, i := range w.stack {
		if w.a.nodes[i].mark == markActive {
			w.a.nodes[i].mark = markNone
		}
	}
	w.stack = w.stack[:0]
}

func (w *walker) cycle(i int) error {
	start := slices.Index(w.stack, i)
	path := make([]string, 0, len(w.stack)-start+1)
	for _, j := range w.stack[start:] {
		path = append(path, string(w.a.nodes[j].block.ID()))
	}
	path = append(path, string(w.a.nodes[i].block.ID()))
	return graph.Errorf(graph.ErrCycle, w.a.nodes[i].block.ID(), "", "%s", strings.Join(path, " <- "))
}
