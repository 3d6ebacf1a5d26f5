package codegen

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
)

// stageCompiler implements graph.Compiler for one stage of one output.
// Chunks are cached per (block, socket), so a block feeding several
// consumers compiles once and every consumer references the same local.
type stageCompiler struct {
	g      *graph.Graph
	stage  graph.Stage
	setup  setup.Setup
	layout *Layout
	debug  bool

	cur   graph.Block
	isOut bool

	chunks  map[graph.SocketRef]graph.Chunk
	attrs   map[graph.Attribute]graph.Chunk
	helpers map[string]bool
	targets map[graph.Target]graph.Chunk

	// frontFacing is set once the fragment stage reads the
	// @builtin(front_facing) input.
	frontFacing bool

	body []string
	next int
}

func newStageCompiler(g *graph.Graph, stage graph.Stage, s setup.Setup, l *Layout, debug bool) *stageCompiler {
	return &stageCompiler{
		g:       g,
		stage:   stage,
		setup:   s,
		layout:  l,
		debug:   debug,
		chunks:  make(map[graph.SocketRef]graph.Chunk),
		attrs:   make(map[graph.Attribute]graph.Chunk),
		helpers: make(map[string]bool),
		targets: make(map[graph.Target]graph.Chunk),
	}
}

// run compiles blocks in order. Errors that are not already structural
// are attributed to the failing block.
func (c *stageCompiler) run(blocks []graph.Block) error {
	for _, b := range blocks {
		c.cur = b
		_, c.isOut = b.(graph.OutputBlock)
		if c.debug {
			c.body = append(c.body, fmt.Sprintf("// %s %s", b.Kind(), b.ID()))
		}
		if err := b.Compile(c); err != nil {
			if graph.AsStructural(err) != nil {
				return err
			}
			return &graph.StructuralError{Kind: graph.ErrInvalidBlock, Block: b.ID(), Detail: err.Error()}
		}
	}
	c.cur = nil
	return nil
}

// usedAttributes returns the attributes read in this stage, in location
// order.
func (c *stageCompiler) usedAttributes() []graph.Attribute {
	out := make([]graph.Attribute, 0, len(c.attrs))
	for a := range c.attrs {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// usedHelpers returns the pulled helpers sorted by name.
func (c *stageCompiler) usedHelpers() []string {
	out := make([]string, 0, len(c.helpers))
	for h := range c.helpers {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func (c *stageCompiler) Stage() graph.Stage { return c.stage }

func (c *stageCompiler) input(socket string) (graph.Socket, bool) {
	s, ok := graph.FindSocket(c.cur.Inputs(), socket)
	if !ok {
		return s, false
	}
	// Output block inputs belong to one stage only.
	if c.isOut && s.Stage != c.stage {
		return s, false
	}
	return s, true
}

func (c *stageCompiler) Connected(socket string) bool {
	if _, ok := c.input(socket); !ok {
		return false
	}
	_, ok := c.g.Producer(graph.SocketRef{Block: c.cur.ID(), Socket: socket})
	return ok
}

func (c *stageCompiler) Input(socket string) (graph.Chunk, error) {
	id := c.cur.ID()
	decl, ok := c.input(socket)
	if !ok {
		return graph.Chunk{}, &graph.StructuralError{Kind: graph.ErrUnknownSocket, Block: id, Socket: socket}
	}
	from, ok := c.g.Producer(graph.SocketRef{Block: id, Socket: socket})
	if !ok {
		return graph.Chunk{}, graph.Errorf(graph.ErrDanglingSocket, id, socket, "required input has no producer")
	}
	ch, ok := c.chunks[from]
	if !ok {
		return graph.Chunk{}, graph.Errorf(graph.ErrInvalidBlock, from.Block, from.Socket, "no value produced for %s", graph.SocketRef{Block: id, Socket: socket})
	}
	if !graph.Convertible(ch.Type, decl.Type) {
		return graph.Chunk{}, graph.Errorf(graph.ErrTypeMismatch, id, socket, "%s from %s cannot feed %s", ch.Type, from, decl.Type)
	}
	if decl.Type == graph.TypeDynamic {
		return ch, nil
	}
	return graph.Chunk{
		Type:        decl.Type,
		Expr:        graph.Convert(ch.Expr, ch.Type, decl.Type),
		Stage:       c.stage,
		SideEffects: ch.SideEffects,
	}, nil
}

func (c *stageCompiler) SetOutput(socket string, ch graph.Chunk) error {
	id := c.cur.ID()
	decl, ok := graph.FindSocket(c.cur.Outputs(), socket)
	if !ok {
		return &graph.StructuralError{Kind: graph.ErrUnknownSocket, Block: id, Socket: socket}
	}
	if !graph.Convertible(ch.Type, decl.Type) {
		return graph.Errorf(graph.ErrTypeMismatch, id, socket, "produced %s for a %s output", ch.Type, decl.Type)
	}
	if decl.Type != graph.TypeDynamic && decl.Type != ch.Type {
		ch = graph.Chunk{Type: decl.Type, Expr: graph.Convert(ch.Expr, ch.Type, decl.Type), SideEffects: ch.SideEffects}
	}
	ch.Stage = c.stage
	c.chunks[graph.SocketRef{Block: id, Socket: socket}] = ch
	return nil
}

func (c *stageCompiler) Local(t graph.ValueType, expr string) graph.Chunk {
	name := "c" + strconv.Itoa(c.next)
	c.next++
	c.body = append(c.body, fmt.Sprintf("let %s: %s = %s;", name, t.WGSL(), expr))
	return graph.Chunk{Type: t, Expr: name, Stage: c.stage}
}

func (c *stageCompiler) Constant(t graph.ValueType, v ...float32) graph.Chunk {
	return graph.Chunk{Type: t, Expr: literal(t, v), Stage: c.stage}
}

// literal formats values with the shortest float32 representation, so the
// text is a pure function of the values.
func literal(t graph.ValueType, v []float32) string {
	n := t.Components()
	parts := make([]string, 0, n)
	for i := range n {
		var f float32
		switch {
		case i < len(v):
			f = v[i]
		case len(v) > 0:
			f = v[len(v)-1]
		}
		parts = append(parts, formatFloat(f))
	}
	if n == 1 {
		return parts[0]
	}
	return t.WGSL() + "(" + strings.Join(parts, ", ") + ")"
}

func formatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func (c *stageCompiler) Parameter(name string) (graph.Chunk, error) {
	k, ok := c.layout.Constant(name)
	if !ok {
		return graph.Chunk{}, graph.Errorf(graph.ErrInvalidBlock, c.cur.ID(), "", "parameter %q is not declared", name)
	}
	return graph.Chunk{Type: k.Type, Expr: "material." + k.Ident, Stage: c.stage}, nil
}

func (c *stageCompiler) Sample(texture string, uv graph.Chunk) (graph.Chunk, error) {
	tex, ok := c.layout.Texture(texture)
	if !ok {
		return graph.Chunk{}, graph.Errorf(graph.ErrInvalidBlock, c.cur.ID(), "", "texture %q is not declared", texture)
	}
	if !graph.Convertible(uv.Type, graph.TypeFloat2) {
		return graph.Chunk{}, graph.Errorf(graph.ErrTypeMismatch, c.cur.ID(), "UV", "%s cannot address a 2D texture", uv.Type)
	}
	coord := graph.Convert(uv.Expr, uv.Type, graph.TypeFloat2)
	var expr string
	if c.stage == graph.StageVertex {
		// No derivatives in the vertex stage: sample the base level.
		expr = fmt.Sprintf("textureSampleLevel(t_%s, s_%s, %s, 0.0)", tex.Ident, tex.Ident, coord)
	} else {
		expr = fmt.Sprintf("textureSample(t_%s, s_%s, %s)", tex.Ident, tex.Ident, coord)
	}
	return c.Local(graph.TypeFloat4, expr), nil
}

func (c *stageCompiler) HasAttribute(a graph.Attribute) bool { return c.setup.Layout.Has(a) }

func (c *stageCompiler) Attribute(a graph.Attribute) (graph.Chunk, error) {
	if !c.HasAttribute(a) {
		return graph.Chunk{}, graph.Errorf(graph.ErrInvalidBlock, c.cur.ID(), "", "vertex layout %s has no %s attribute", c.setup.Layout, a)
	}
	if ch, ok := c.attrs[a]; ok {
		return ch, nil
	}

	ch := graph.Chunk{Type: a.Type(), Expr: "in." + a.String(), Stage: c.stage}
	if c.stage == graph.StageFragment && a == graph.AttrNormal {
		ch = c.Local(graph.TypeFloat3, "normalize("+ch.Expr+")")
		if c.setup.TwoSided {
			c.frontFacing = true
			ch = c.Local(graph.TypeFloat3, fmt.Sprintf("select(-%s, %s, front_facing)", ch.Expr, ch.Expr))
		}
	}
	c.attrs[a] = ch
	return ch, nil
}

func (c *stageCompiler) Helper(name string) error {
	if _, ok := helpers[name]; !ok {
		return graph.Errorf(graph.ErrInvalidBlock, c.cur.ID(), "", "unknown helper %q", name)
	}
	c.helpers[name] = true
	return nil
}

var targetInfo = map[graph.Target]struct {
	name  string
	typ   graph.ValueType
	stage graph.Stage
}{
	graph.TargetColor:          {"color", graph.TypeFloat4, graph.StageFragment},
	graph.TargetDepthOffset:    {"depth offset", graph.TypeFloat, graph.StageFragment},
	graph.TargetPositionOffset: {"position offset", graph.TypeFloat3, graph.StageVertex},
}

func (c *stageCompiler) SetTarget(t graph.Target, ch graph.Chunk) error {
	id := c.cur.ID()
	if !c.isOut {
		return graph.Errorf(graph.ErrInvalidBlock, id, "", "only output blocks bind stage targets")
	}
	info, ok := targetInfo[t]
	if !ok {
		return graph.Errorf(graph.ErrInvalidBlock, id, "", "unknown target %d", t)
	}
	if info.stage != c.stage {
		return graph.Errorf(graph.ErrInvalidBlock, id, "", "%s is a %s target", info.name, info.stage)
	}
	if !graph.Convertible(ch.Type, info.typ) {
		return graph.Errorf(graph.ErrTypeMismatch, id, "", "%s cannot be written to the %s target", ch.Type, info.name)
	}
	c.targets[t] = graph.Chunk{Type: info.typ, Expr: graph.Convert(ch.Expr, ch.Type, info.typ), Stage: c.stage}
	return nil
}
