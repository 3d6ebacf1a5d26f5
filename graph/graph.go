// Package graph holds the material graph data model: blocks, sockets,
// connections, the code chunk type blocks exchange while compiling, and the
// built-in block families.
//
// A Graph is mutated by an editor or importer and read by the compiler.
// The compiler never works on a live graph: it takes a Snapshot, which is
// an immutable copy safe to hand to background goroutines.
package graph

import (
	"maps"
	"slices"
	"sync"
)

// GraphID is the stable identity a depot assigns to a graph.
type GraphID string

// Graph owns blocks, connections and the designated output block per pass.
//
// Graph is safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	id       GraphID
	revision uint64

	// blocks keeps insertion order; index maps ids into it.
	blocks []Block
	index  map[BlockID]int

	// conns keeps insertion order; incoming maps input sockets to producers.
	conns    []Connection
	incoming map[SocketRef]SocketRef

	outputs map[PassType]BlockID
}

// New creates an empty graph.
func New(id GraphID) *Graph {
	return &Graph{
		id:       id,
		index:    make(map[BlockID]int),
		incoming: make(map[SocketRef]SocketRef),
		outputs:  make(map[PassType]BlockID),
	}
}

// ID returns the graph identity.
func (g *Graph) ID() GraphID { return g.id }

// Revision increases on every successful mutation.
func (g *Graph) Revision() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// AddBlock adds b to the graph.
func (g *Graph) AddBlock(b Block) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[b.ID()]; ok {
		return &StructuralError{Kind: ErrDuplicateBlock, Block: b.ID()}
	}
	g.index[b.ID()] = len(g.blocks)
	g.blocks = append(g.blocks, b)
	g.revision++
	return nil
}

// Replace swaps the block with b's id for b, keeping its position and every
// connection whose sockets still exist on b. A designated output stays
// designated under b's pass if b is an output block.
func (g *Graph) Replace(b Block) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[b.ID()]
	if !ok {
		return &StructuralError{Kind: ErrUnknownBlock, Block: b.ID()}
	}
	g.blocks[i] = b
	g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool {
		stale := false
		if c.From.Block == b.ID() {
			_, found := FindSocket(b.Outputs(), c.From.Socket)
			stale = !found
		}
		if c.To.Block == b.ID() {
			_, found := FindSocket(b.Inputs(), c.To.Socket)
			stale = stale || !found
		}
		if stale {
			delete(g.incoming, c.To)
		}
		return stale
	})
	designated := false
	for pass, id := range g.outputs {
		if id == b.ID() {
			delete(g.outputs, pass)
			designated = true
		}
	}
	if out, isOut := b.(OutputBlock); isOut && designated {
		g.outputs[out.Pass()] = b.ID()
	}
	g.revision++
	return nil
}

// RemoveBlock removes a block and every connection touching it.
func (g *Graph) RemoveBlock(id BlockID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[id]
	if !ok {
		return &StructuralError{Kind: ErrUnknownBlock, Block: id}
	}
	g.blocks = slices.Delete(g.blocks, i, i+1)
	delete(g.index, id)
	for j := i; j < len(g.blocks); j++ {
		g.index[g.blocks[j].ID()] = j
	}
	g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool {
		if c.From.Block == id || c.To.Block == id {
			delete(g.incoming, c.To)
			return true
		}
		return false
	})
	for pass, out := range g.outputs {
		if out == id {
			delete(g.outputs, pass)
		}
	}
	g.revision++
	return nil
}

// Connect wires an output socket to an input socket. Types are not checked
// here; they are checked when the graph is compiled.
func (g *Graph) Connect(from BlockID, fromSocket string, to BlockID, toSocket string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.blockLocked(from)
	if !ok {
		return &StructuralError{Kind: ErrUnknownBlock, Block: from}
	}
	if _, ok := FindSocket(src.Outputs(), fromSocket); !ok {
		return &StructuralError{Kind: ErrUnknownSocket, Block: from, Socket: fromSocket}
	}
	dst, ok := g.blockLocked(to)
	if !ok {
		return &StructuralError{Kind: ErrUnknownBlock, Block: to}
	}
	if _, ok := FindSocket(dst.Inputs(), toSocket); !ok {
		return &StructuralError{Kind: ErrUnknownSocket, Block: to, Socket: toSocket}
	}

	target := SocketRef{Block: to, Socket: toSocket}
	if prev, taken := g.incoming[target]; taken {
		return Errorf(ErrSocketOccupied, to, toSocket, "fed by %s", prev)
	}
	source := SocketRef{Block: from, Socket: fromSocket}
	g.incoming[target] = source
	g.conns = append(g.conns, Connection{From: source, To: target})
	g.revision++
	return nil
}

// Disconnect removes the connection feeding an input socket.
// It reports whether a connection was removed.
func (g *Graph) Disconnect(to BlockID, toSocket string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := SocketRef{Block: to, Socket: toSocket}
	if _, ok := g.incoming[target]; !ok {
		return false
	}
	delete(g.incoming, target)
	g.conns = slices.DeleteFunc(g.conns, func(c Connection) bool { return c.To == target })
	g.revision++
	return true
}

// SetOutput designates an output block for its pass, replacing any previous
// designation.
func (g *Graph) SetOutput(id BlockID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.blockLocked(id)
	if !ok {
		return &StructuralError{Kind: ErrUnknownBlock, Block: id}
	}
	out, ok := b.(OutputBlock)
	if !ok {
		return &StructuralError{Kind: ErrNotOutput, Block: id}
	}
	g.outputs[out.Pass()] = id
	g.revision++
	return nil
}

// Output returns the output block designated for pass.
func (g *Graph) Output(pass PassType) (BlockID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.outputs[pass]
	return id, ok
}

// Outputs returns the designated output blocks in pass order.
func (g *Graph) Outputs() []BlockID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]BlockID, 0, len(g.outputs))
	for _, pass := range Passes() {
		if id, ok := g.outputs[pass]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Block returns the block with the given id.
func (g *Graph) Block(id BlockID) (Block, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockLocked(id)
}

func (g *Graph) blockLocked(id BlockID) (Block, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.blocks[i], true
}

// Blocks returns all blocks in insertion order.
func (g *Graph) Blocks() []Block {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.blocks)
}

// Connections returns all connections in insertion order.
func (g *Graph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.conns)
}

// Producer returns the output socket feeding an input socket.
func (g *Graph) Producer(to SocketRef) (SocketRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	from, ok := g.incoming[to]
	return from, ok
}

// Snapshot returns an independent copy of the graph. Blocks are shared:
// they are treated as immutable values and edited through Replace.
func (g *Graph) Snapshot() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := &Graph{
		id:       g.id,
		revision: g.revision,
		blocks:   slices.Clone(g.blocks),
		index:    maps.Clone(g.index),
		conns:    slices.Clone(g.conns),
		incoming: maps.Clone(g.incoming),
		outputs:  maps.Clone(g.outputs),
	}
	return s
}
