// Package codegen turns the reachability lists of a material graph into a
// complete WGSL module with a vertex and a fragment entry point.
//
// Generation is a pure function of the graph snapshot and the setup: the
// same inputs always produce byte-identical source, so the source hash can
// key binary caches.
package codegen

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/matgraph/connectivity"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
)

// Entry point names of every generated module.
const (
	VertexEntry   = "vs_main"
	FragmentEntry = "fs_main"
)

// DefaultMaterialGroup is the bind group of material resources.
const DefaultMaterialGroup = 1

// Option configures an Engine.
type Option func(*options)

type options struct {
	group uint32
	debug bool
}

// WithMaterialGroup places material resources in bind group n. The frame
// group cannot be reused; such values fall back to DefaultMaterialGroup.
func WithMaterialGroup(n uint32) Option {
	return func(o *options) {
		if n != FrameGroup {
			o.group = n
		}
	}
}

// WithDebugComments annotates the generated body with the block each
// statement came from.
func WithDebugComments(on bool) Option {
	return func(o *options) { o.debug = on }
}

// Engine generates WGSL for material graphs. It holds no per-compilation
// state and is safe for concurrent use.
type Engine struct {
	opts options
}

// New creates an engine.
func New(opts ...Option) *Engine {
	o := options{group: DefaultMaterialGroup}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o}
}

// Result is one generated module with everything needed to build its
// pipeline.
type Result struct {
	Graph    graph.GraphID
	Revision uint64
	Setup    setup.Setup
	Output   graph.BlockID

	// Source is the complete WGSL module.
	Source string

	// Stages holds the generated statement bodies per stage.
	Stages map[graph.Stage]string

	Layout Layout

	// Override is the setup override merged with the output block's own.
	Override    graph.RenderStateOverride
	RenderState setup.RenderState

	// Blocks lists the compiled blocks, vertex stage first.
	Blocks []graph.BlockID

	Helpers []string

	// Hash is the FNV-1a hash of Source.
	Hash uint64
}

// Compile generates the module for the output designated for s.Pass.
// Failures are *graph.StructuralError values naming the offending block,
// or setup validation errors.
func (e *Engine) Compile(g *graph.Graph, s setup.Setup) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	snap := g.Snapshot()
	return e.compile(snap, connectivity.New(snap), s.Normalized())
}

// CompileAll generates one module per designated output, using s for
// everything but the pass. Outputs fail independently: a cycle behind one
// output leaves the others intact.
func (e *Engine) CompileAll(g *graph.Graph, s setup.Setup) (map[graph.PassType]*Result, map[graph.PassType]error) {
	results := make(map[graph.PassType]*Result)
	errs := make(map[graph.PassType]error)
	if err := s.Validate(); err != nil {
		errs[s.Pass] = err
		return results, errs
	}

	snap := g.Snapshot()
	var passes []graph.PassType
	for _, id := range snap.Outputs() {
		b, _ := snap.Block(id)
		passes = append(passes, b.(graph.OutputBlock).Pass())
	}

	out := make([]*Result, len(passes))
	fail := make([]error, len(passes))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, pass := range passes {
		ps := s.Normalized()
		ps.Pass = pass
		eg.Go(func() error {
			// Analyzers are not shared between goroutines.
			out[i], fail[i] = e.compile(snap, connectivity.New(snap), ps)
			return nil
		})
	}
	_ = eg.Wait()

	for i, pass := range passes {
		if fail[i] != nil {
			errs[pass] = fail[i]
			continue
		}
		results[pass] = out[i]
	}
	return results, errs
}

func (e *Engine) compile(g *graph.Graph, a *connectivity.Analyzer, s setup.Setup) (*Result, error) {
	id, ok := g.Output(s.Pass)
	if !ok {
		return nil, &graph.StructuralError{Kind: graph.ErrNoOutput, Detail: s.Pass.String()}
	}
	b, _ := g.Block(id)
	out := b.(graph.OutputBlock)

	var lists [2][]graph.Block
	for _, st := range graph.Stages {
		sockets := stageSockets(out, st)
		if len(sockets) == 0 {
			lists[st] = []graph.Block{out}
			continue
		}
		r, err := a.Reach(id, sockets...)
		if err != nil {
			return nil, err
		}
		lists[st] = r.Blocks()
	}

	var all []graph.Block
	seen := make(map[graph.BlockID]bool)
	for _, st := range graph.Stages {
		for _, blk := range lists[st] {
			if !seen[blk.ID()] {
				seen[blk.ID()] = true
				all = append(all, blk)
			}
		}
	}
	layout, err := buildLayout(e.opts.group, all)
	if err != nil {
		return nil, err
	}

	// The fragment stage goes first: the attributes it reads become the
	// varyings the vertex stage has to write.
	frag := newStageCompiler(g, graph.StageFragment, s, &layout, e.opts.debug)
	if err := frag.run(lists[graph.StageFragment]); err != nil {
		return nil, err
	}
	if _, ok := frag.targets[graph.TargetColor]; !ok {
		return nil, graph.Errorf(graph.ErrInvalidBlock, id, "", "output wrote no color")
	}
	vert := newStageCompiler(g, graph.StageVertex, s, &layout, e.opts.debug)
	if err := vert.run(lists[graph.StageVertex]); err != nil {
		return nil, err
	}

	override := s.Override()
	if c, ok := b.(graph.RenderStateContributor); ok {
		override.Merge(c.RenderState())
	}

	r := &Result{
		Graph:       g.ID(),
		Revision:    g.Revision(),
		Setup:       s,
		Output:      id,
		Layout:      layout,
		Override:    override,
		RenderState: s.RenderState().Apply(override),
		Stages: map[graph.Stage]string{
			graph.StageVertex:   strings.Join(vert.body, "\n"),
			graph.StageFragment: strings.Join(frag.body, "\n"),
		},
	}
	for _, st := range graph.Stages {
		for _, blk := range lists[st] {
			if !slices.Contains(r.Blocks, blk.ID()) {
				r.Blocks = append(r.Blocks, blk.ID())
			}
		}
	}
	r.Helpers = mergeSorted(vert.usedHelpers(), frag.usedHelpers())
	r.Source = e.emit(s, &layout, vert, frag, r.Helpers)

	h := fnv.New64a()
	_, _ = h.Write([]byte(r.Source))
	r.Hash = h.Sum64()
	return r, nil
}

// stageSockets returns the output block inputs consumed by stage st.
func stageSockets(out graph.OutputBlock, st graph.Stage) []string {
	var names []string
	for _, s := range out.Inputs() {
		if s.Stage == st {
			names = append(names, s.Name)
		}
	}
	return names
}

func mergeSorted(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// emit assembles the module. Declarations appear in a fixed order so the
// text depends only on the compiled stages.
func (e *Engine) emit(s setup.Setup, l *Layout, vert, frag *stageCompiler, helperNames []string) string {
	var w strings.Builder
	varyings := frag.usedAttributes()

	fmt.Fprintf(&w, "struct Frame {\n    view_proj: mat4x4<f32>,\n    model: mat4x4<f32>,\n};\n\n")
	fmt.Fprintf(&w, "@group(%d) @binding(0) var<uniform> frame: Frame;\n\n", FrameGroup)

	if len(l.Constants) > 0 {
		w.WriteString("struct Material {\n")
		for _, c := range l.Constants {
			fmt.Fprintf(&w, "    %s: %s,\n", c.Ident, c.Type.WGSL())
		}
		w.WriteString("};\n\n")
		fmt.Fprintf(&w, "@group(%d) @binding(0) var<uniform> material: Material;\n", l.Group)
	}
	for _, t := range l.Textures {
		fmt.Fprintf(&w, "@group(%d) @binding(%d) var t_%s: texture_2d<f32>;\n", l.Group, t.Binding, t.Ident)
		fmt.Fprintf(&w, "@group(%d) @binding(%d) var s_%s: sampler;\n", l.Group, t.SamplerBinding, t.Ident)
	}
	if !l.IsEmpty() {
		w.WriteString("\n")
	}

	w.WriteString("struct VertexInput {\n")
	for _, a := range s.Layout.Attributes() {
		fmt.Fprintf(&w, "    @location(%d) %s: %s,\n", setup.Location(a), a, a.Type().WGSL())
	}
	w.WriteString("};\n\n")

	w.WriteString("struct VertexOutput {\n    @builtin(position) clip_position: vec4<f32>,\n")
	for i, a := range varyings {
		fmt.Fprintf(&w, "    @location(%d) %s: %s,\n", i, a, a.Type().WGSL())
	}
	w.WriteString("};\n\n")

	_, depth := frag.targets[graph.TargetDepthOffset]
	w.WriteString("struct FragmentOutput {\n    @location(0) color: vec4<f32>,\n")
	if depth {
		w.WriteString("    @builtin(frag_depth) depth: f32,\n")
	}
	w.WriteString("};\n\n")

	for _, name := range helperNames {
		w.WriteString(helpers[name])
		w.WriteString("\n\n")
	}

	fmt.Fprintf(&w, "@vertex\nfn %s(in: VertexInput) -> VertexOutput {\n", VertexEntry)
	writeBody(&w, vert.body)
	w.WriteString("    var out: VertexOutput;\n")
	if off, ok := vert.targets[graph.TargetPositionOffset]; ok {
		fmt.Fprintf(&w, "    let object_position = in.position + %s;\n", off.Expr)
	} else {
		w.WriteString("    let object_position = in.position;\n")
	}
	w.WriteString("    out.clip_position = frame.view_proj * frame.model * vec4<f32>(object_position, 1.0);\n")
	for _, a := range varyings {
		fmt.Fprintf(&w, "    out.%s = %s;\n", a, varyingExpr(a))
	}
	w.WriteString("    return out;\n}\n\n")

	params := "in: VertexOutput"
	if frag.frontFacing {
		params += ", @builtin(front_facing) front_facing: bool"
	}
	fmt.Fprintf(&w, "@fragment\nfn %s(%s) -> FragmentOutput {\n", FragmentEntry, params)
	writeBody(&w, frag.body)
	w.WriteString("    var out: FragmentOutput;\n")
	fmt.Fprintf(&w, "    out.color = %s;\n", frag.targets[graph.TargetColor].Expr)
	if depth {
		fmt.Fprintf(&w, "    out.depth = saturate(in.clip_position.z + %s);\n", frag.targets[graph.TargetDepthOffset].Expr)
	}
	w.WriteString("    return out;\n}\n")
	return w.String()
}

func writeBody(w *strings.Builder, body []string) {
	for _, line := range body {
		w.WriteString("    ")
		w.WriteString(line)
		w.WriteString("\n")
	}
}

// varyingExpr is the vertex stage value written for an interpolated
// attribute. Directions are moved into world space.
func varyingExpr(a graph.Attribute) string {
	switch a {
	case graph.AttrPosition:
		return "(frame.model * vec4<f32>(in.position, 1.0)).xyz"
	case graph.AttrNormal:
		return "(frame.model * vec4<f32>(in.normal, 0.0)).xyz"
	case graph.AttrTangent:
		return "vec4<f32>((frame.model * vec4<f32>(in.tangent.xyz, 0.0)).xyz, in.tangent.w)"
	default:
		return "in." + a.String()
	}
}
