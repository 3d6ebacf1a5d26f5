package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
)

type conn struct {
	from, fromSocket, to, toSocket string
}

func build(t *testing.T, blocks []graph.Block, conns []conn, outputs ...graph.BlockID) *graph.Graph {
	t.Helper()
	g := graph.New("test")
	for _, b := range blocks {
		if err := g.AddBlock(b); err != nil {
			t.Fatalf("AddBlock(%s): %v", b.ID(), err)
		}
	}
	for _, c := range conns {
		if err := g.Connect(graph.BlockID(c.from), c.fromSocket, graph.BlockID(c.to), c.toSocket); err != nil {
			t.Fatalf("Connect(%v): %v", c, err)
		}
	}
	for _, id := range outputs {
		if err := g.SetOutput(id); err != nil {
			t.Fatalf("SetOutput(%s): %v", id, err)
		}
	}
	return g
}

// roughness is a single parameter feeding the opaque output.
func roughness(t *testing.T) *graph.Graph {
	return build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.ScalarParameter{BlockID: "rough", Name: "Roughness", Default: 0.5},
		},
		[]conn{{"rough", "Value", "out", "Roughness"}},
		"out",
	)
}

func mustCompile(t *testing.T, e *Engine, g *graph.Graph, s setup.Setup) *Result {
	t.Helper()
	r, err := e.Compile(g, s)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return r
}

// =============================================================================
// End to end
// =============================================================================

func TestEngine_Roughness(t *testing.T) {
	r := mustCompile(t, New(), roughness(t), setup.Default())

	if len(r.Layout.Constants) != 1 {
		t.Fatalf("len(Constants) = %d, want 1", len(r.Layout.Constants))
	}
	c := r.Layout.Constants[0]
	if c.Name != "Roughness" || c.Type != graph.TypeFloat || c.Offset != 0 {
		t.Errorf("constant = %+v", c)
	}
	if r.Layout.UniformSize != 16 {
		t.Errorf("UniformSize = %d, want 16", r.Layout.UniformSize)
	}
	if len(r.Layout.Textures) != 0 {
		t.Errorf("Textures = %v, want none", r.Layout.Textures)
	}

	for _, want := range []string{
		"struct Material {\n    Roughness: f32,\n};",
		"@group(1) @binding(0) var<uniform> material: Material;",
		"fn " + VertexEntry + "(in: VertexInput) -> VertexOutput",
		"fn " + FragmentEntry + "(in: VertexOutput) -> FragmentOutput",
		"mg_shade_standard(vec3<f32>(0.8, 0.8, 0.8), ",
		"material.Roughness",
		"    @location(0) normal: vec3<f32>,\n",
	} {
		if !strings.Contains(r.Source, want) {
			t.Errorf("Source missing %q\n%s", want, r.Source)
		}
	}
	if strings.Contains(r.Source, "front_facing") {
		t.Error("single-sided module reads front_facing")
	}

	if r.Output != "out" || r.Graph != "test" {
		t.Errorf("Output/Graph = %s/%s", r.Output, r.Graph)
	}
	if len(r.Blocks) != 2 {
		t.Errorf("Blocks = %v, want 2 entries", r.Blocks)
	}
	if len(r.Helpers) != 1 || r.Helpers[0] != graph.HelperShadeStandard {
		t.Errorf("Helpers = %v", r.Helpers)
	}
	if r.RenderState.CullMode != gputypes.CullModeBack {
		t.Errorf("CullMode = %v, want Back", r.RenderState.CullMode)
	}
}

func TestEngine_TwoSided(t *testing.T) {
	g := roughness(t)
	e := New()

	single := mustCompile(t, e, g, setup.Default())
	s := setup.Default()
	s.TwoSided = true
	double := mustCompile(t, e, g, s)

	if double.Override.CullMode == nil || *double.Override.CullMode != gputypes.CullModeNone {
		t.Errorf("two-sided Override.CullMode = %v, want None", double.Override.CullMode)
	}
	if double.RenderState.CullMode != gputypes.CullModeNone {
		t.Errorf("two-sided RenderState.CullMode = %v", double.RenderState.CullMode)
	}
	if !strings.Contains(double.Source, "@builtin(front_facing) front_facing: bool") {
		t.Error("two-sided module does not read front_facing")
	}
	if single.Hash == double.Hash {
		t.Error("single and two-sided modules share a hash")
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e := New()
	a := mustCompile(t, e, roughness(t), setup.Default())
	b := mustCompile(t, e, roughness(t), setup.Default())
	if a.Source != b.Source {
		t.Errorf("Source differs between identical compilations:\n%s\n---\n%s", a.Source, b.Source)
	}
	if a.Hash != b.Hash {
		t.Errorf("Hash = %x and %x", a.Hash, b.Hash)
	}
}

func TestEngine_SharedProducerCompiledOnce(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.VectorParameter{BlockID: "tint", Name: "Tint", Type: graph.TypeFloat3, Default: [4]float32{1, 0, 0}},
			&graph.Math{BlockID: "sq", Op: graph.OpMultiply},
		},
		[]conn{
			{"tint", "Value", "sq", "A"},
			{"tint", "Value", "sq", "B"},
			{"sq", "Result", "out", "BaseColor"},
			{"sq", "Result", "out", "Emissive"},
		},
		"out",
	)
	r := mustCompile(t, New(), g, setup.Default())
	if n := strings.Count(r.Source, "(material.Tint * material.Tint)"); n != 1 {
		t.Errorf("shared product emitted %d times, want 1", n)
	}
}

func TestEngine_DebugComments(t *testing.T) {
	r := mustCompile(t, New(WithDebugComments(true)), roughness(t), setup.Default())
	if !strings.Contains(r.Stages[graph.StageFragment], "// "+graph.KindOpaqueOutput+" out") {
		t.Errorf("fragment body missing block comment:\n%s", r.Stages[graph.StageFragment])
	}
}

func TestEngine_MaterialGroup(t *testing.T) {
	r := mustCompile(t, New(WithMaterialGroup(3)), roughness(t), setup.Default())
	if r.Layout.Group != 3 || !strings.Contains(r.Source, "@group(3) @binding(0) var<uniform> material") {
		t.Errorf("Group = %d", r.Layout.Group)
	}
	r = mustCompile(t, New(WithMaterialGroup(FrameGroup)), roughness(t), setup.Default())
	if r.Layout.Group != DefaultMaterialGroup {
		t.Errorf("frame group accepted as material group: %d", r.Layout.Group)
	}
}

// =============================================================================
// Stages
// =============================================================================

func TestEngine_PositionOffset(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.UnlitOutput{BlockID: "out"},
			&graph.VectorParameter{BlockID: "wind", Name: "Wind", Type: graph.TypeFloat3},
			&graph.VectorParameter{BlockID: "tint", Name: "Tint", Type: graph.TypeFloat3, Default: [4]float32{1, 1, 1}},
		},
		[]conn{
			{"wind", "Value", "out", "PositionOffset"},
			{"tint", "Value", "out", "Color"},
		},
		"out",
	)
	s := setup.Default()
	s.Pass = graph.PassUnlit
	r := mustCompile(t, New(), g, s)

	if !strings.Contains(r.Source, "let object_position = in.position + material.Wind;") {
		t.Errorf("vertex stage does not apply the offset:\n%s", r.Source)
	}
	if len(r.Layout.Constants) != 2 {
		t.Errorf("Constants = %+v, want Tint and Wind", r.Layout.Constants)
	}
	if r.Blocks[0] != "wind" {
		t.Errorf("Blocks = %v, want vertex stage first", r.Blocks)
	}
}

func TestEngine_Textures(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.TextureParameter{BlockID: "albedo", Name: "Albedo"},
			&graph.TextureParameter{BlockID: "height", Name: "Height"},
			&graph.Swizzle{BlockID: "up", Mask: "rrr"},
		},
		[]conn{
			{"albedo", "RGB", "out", "BaseColor"},
			{"height", "R", "up", "In"},
			{"up", "Out", "out", "PositionOffset"},
		},
		"out",
	)
	r := mustCompile(t, New(), g, setup.Default())

	if len(r.Layout.Textures) != 2 {
		t.Fatalf("Textures = %+v", r.Layout.Textures)
	}
	if tex := r.Layout.Textures[0]; tex.Name != "Albedo" || tex.Binding != 1 || tex.SamplerBinding != 2 {
		t.Errorf("Albedo = %+v", tex)
	}
	if tex := r.Layout.Textures[1]; tex.Binding != 3 || tex.SamplerBinding != 4 {
		t.Errorf("Height = %+v", tex)
	}
	for _, want := range []string{
		"textureSample(t_Albedo, s_Albedo, in.uv0)",
		"textureSampleLevel(t_Height, s_Height, in.uv0, 0.0)",
		"@group(1) @binding(1) var t_Albedo: texture_2d<f32>;",
		"@group(1) @binding(2) var s_Albedo: sampler;",
		"out.uv0 = in.uv0;",
	} {
		if !strings.Contains(r.Source, want) {
			t.Errorf("Source missing %q", want)
		}
	}
	if strings.Contains(r.Source, "struct Material") {
		t.Error("texture-only material declares a uniform block")
	}
	if entries := r.Layout.BindGroupLayoutEntries(); len(entries) != 4 {
		t.Errorf("len(BindGroupLayoutEntries()) = %d, want 4", len(entries))
	}
}

func TestEngine_DepthOffset(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.Constant{BlockID: "bias", Type: graph.TypeFloat, Value: [4]float32{0.01}},
		},
		[]conn{{"bias", "Value", "out", "DepthOffset"}},
		"out",
	)
	r := mustCompile(t, New(), g, setup.Default())
	if !strings.Contains(r.Source, "@builtin(frag_depth) depth: f32") ||
		!strings.Contains(r.Source, "out.depth = saturate(in.clip_position.z + 0.01);") {
		t.Errorf("depth offset not emitted:\n%s", r.Source)
	}
}

func TestEngine_Transparent(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.TransparentOutput{BlockID: "glass"},
			&graph.ScalarParameter{BlockID: "alpha", Name: "Opacity", Default: 0.3},
		},
		[]conn{{"alpha", "Value", "glass", "Opacity"}},
		"glass",
	)
	s := setup.Default()
	s.Pass = graph.PassTransparent
	r := mustCompile(t, New(), g, s)

	if r.RenderState.Blend == nil || r.RenderState.Blend.Color.SrcFactor != gputypes.BlendFactorOne {
		t.Errorf("Blend = %+v, want premultiplied", r.RenderState.Blend)
	}
	if r.RenderState.DepthWrite {
		t.Error("transparent output writes depth")
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestEngine_TypeMismatch(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.VectorParameter{BlockID: "tint", Name: "Tint", Type: graph.TypeFloat3},
			&graph.Math{BlockID: "sum", Op: graph.OpAdd},
		},
		[]conn{
			{"tint", "Value", "sum", "A"},
			{"tint", "Value", "sum", "B"},
			{"sum", "Result", "out", "Roughness"},
		},
		"out",
	)
	_, err := New().Compile(g, setup.Default())
	if !errors.Is(err, graph.ErrTypeMismatch) {
		t.Fatalf("Compile() error = %v, want ErrTypeMismatch", err)
	}
	se := graph.AsStructural(err)
	if se == nil || se.Block != "out" || se.Socket != "Roughness" {
		t.Errorf("error location = %+v, want out.Roughness", se)
	}
}

func TestEngine_Dangling(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "out"},
			&graph.ScalarParameter{BlockID: "rough", Name: "Roughness"},
			&graph.Math{BlockID: "mul", Op: graph.OpMultiply},
		},
		[]conn{
			{"rough", "Value", "mul", "A"},
			{"mul", "Result", "out", "Roughness"},
		},
		"out",
	)
	_, err := New().Compile(g, setup.Default())
	if !errors.Is(err, graph.ErrDanglingSocket) {
		t.Fatalf("Compile() error = %v, want ErrDanglingSocket", err)
	}
	if se := graph.AsStructural(err); se.Block != "mul" || se.Socket != "B" {
		t.Errorf("error location = %s.%s, want mul.B", se.Block, se.Socket)
	}
}

func TestEngine_NoOutput(t *testing.T) {
	s := setup.Default()
	s.Pass = graph.PassUnlit
	if _, err := New().Compile(roughness(t), s); !errors.Is(err, graph.ErrNoOutput) {
		t.Errorf("Compile() error = %v, want ErrNoOutput", err)
	}
}

func TestEngine_InvalidSetup(t *testing.T) {
	s := setup.Default()
	s.SampleCount = 3
	if _, err := New().Compile(roughness(t), s); !errors.Is(err, setup.ErrSampleCount) {
		t.Errorf("Compile() error = %v, want ErrSampleCount", err)
	}
}

func TestEngine_MissingAttribute(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.UnlitOutput{BlockID: "out"},
			&graph.VertexAttribute{BlockID: "vc", Attr: graph.AttrColor},
			&graph.Swizzle{BlockID: "rgb", Mask: "rgb"},
		},
		[]conn{
			{"vc", "Value", "rgb", "In"},
			{"rgb", "Out", "out", "Color"},
		},
		"out",
	)
	s := setup.Default()
	s.Pass = graph.PassUnlit
	if _, err := New().Compile(g, s); !errors.Is(err, graph.ErrInvalidBlock) {
		t.Errorf("Compile() error = %v, want ErrInvalidBlock", err)
	}

	s.Layout = setup.LayoutFull
	r := mustCompile(t, New(), g, s)
	if !strings.Contains(r.Source, "out.color = in.color;") {
		t.Errorf("vertex color not passed through:\n%s", r.Source)
	}
}

func TestEngine_CompileAllIsolatesCycles(t *testing.T) {
	g := build(t,
		[]graph.Block{
			&graph.OpaqueOutput{BlockID: "lit"},
			&graph.UnlitOutput{BlockID: "flat"},
			&graph.Constant{BlockID: "one", Type: graph.TypeFloat, Value: [4]float32{1}},
			&graph.Constant{BlockID: "red", Type: graph.TypeFloat3, Value: [4]float32{1, 0, 0}},
			&graph.Math{BlockID: "m1", Op: graph.OpAdd},
			&graph.Math{BlockID: "m2", Op: graph.OpAdd},
		},
		[]conn{
			{"m2", "Result", "m1", "A"},
			{"one", "Value", "m1", "B"},
			{"m1", "Result", "m2", "A"},
			{"one", "Value", "m2", "B"},
			{"m1", "Result", "lit", "Roughness"},
			{"red", "Value", "flat", "Color"},
		},
		"lit", "flat",
	)

	results, errs := New().CompileAll(g, setup.Default())
	if !errors.Is(errs[graph.PassOpaque], graph.ErrCycle) {
		t.Errorf("opaque error = %v, want ErrCycle", errs[graph.PassOpaque])
	}
	if _, ok := results[graph.PassOpaque]; ok {
		t.Error("cyclic output produced a result")
	}
	flat, ok := results[graph.PassUnlit]
	if !ok {
		t.Fatalf("unlit output failed: %v", errs[graph.PassUnlit])
	}
	if flat.Setup.Pass != graph.PassUnlit || flat.Output != "flat" {
		t.Errorf("unlit result = %s/%s", flat.Setup.Pass, flat.Output)
	}
}

// =============================================================================
// Literals
// =============================================================================

func TestLiteral(t *testing.T) {
	tests := []struct {
		t    graph.ValueType
		v    []float32
		want string
	}{
		{graph.TypeFloat, []float32{1}, "1.0"},
		{graph.TypeFloat, []float32{0.25}, "0.25"},
		{graph.TypeFloat, nil, "0.0"},
		{graph.TypeFloat3, []float32{1}, "vec3<f32>(1.0, 1.0, 1.0)"},
		{graph.TypeFloat2, []float32{-2, 0.5}, "vec2<f32>(-2.0, 0.5)"},
	}
	for _, tt := range tests {
		if got := literal(tt.t, tt.v); got != tt.want {
			t.Errorf("literal(%s, %v) = %q, want %q", tt.t, tt.v, got, tt.want)
		}
	}
}
