package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Block kinds of the built-in families.
const (
	KindScalarParameter  = "scalar_parameter"
	KindVectorParameter  = "vector_parameter"
	KindTextureParameter = "texture_parameter"
	KindConstant         = "constant"
	KindMath             = "math"
	KindSwizzle          = "swizzle"
	KindCombine          = "combine"
	KindVertexAttribute  = "vertex_attribute"
)

// ScalarParameter exposes an editable float as a material constant.
type ScalarParameter struct {
	BlockID BlockID
	Name    string
	Default float32
}

func (p *ScalarParameter) ID() BlockID      { return p.BlockID }
func (p *ScalarParameter) Kind() string     { return KindScalarParameter }
func (p *ScalarParameter) Inputs() []Socket { return nil }
func (p *ScalarParameter) Outputs() []Socket {
	return []Socket{Output("Value", TypeFloat)}
}

func (p *ScalarParameter) Resources() []Resource {
	return []Resource{{Name: p.Name, Type: TypeFloat, Default: []float32{p.Default}}}
}

func (p *ScalarParameter) Compile(c Compiler) error {
	v, err := c.Parameter(p.Name)
	if err != nil {
		return err
	}
	return c.SetOutput("Value", v)
}

// VectorParameter exposes an editable vector as a material constant.
type VectorParameter struct {
	BlockID BlockID
	Name    string
	Type    ValueType
	Default [4]float32
}

func (p *VectorParameter) ID() BlockID      { return p.BlockID }
func (p *VectorParameter) Kind() string     { return KindVectorParameter }
func (p *VectorParameter) Inputs() []Socket { return nil }
func (p *VectorParameter) Outputs() []Socket {
	return []Socket{Output("Value", p.Type)}
}

func (p *VectorParameter) Resources() []Resource {
	n := p.Type.Components()
	return []Resource{{Name: p.Name, Type: p.Type, Default: append([]float32(nil), p.Default[:n]...)}}
}

func (p *VectorParameter) Compile(c Compiler) error {
	if p.Type.Components() < 2 {
		return Errorf(ErrInvalidBlock, p.BlockID, "", "vector parameter of type %s", p.Type)
	}
	v, err := c.Parameter(p.Name)
	if err != nil {
		return err
	}
	return c.SetOutput("Value", v)
}

// TextureParameter exposes a 2D texture and samples it. An unconnected UV
// input samples at the first texture coordinate set.
type TextureParameter struct {
	BlockID BlockID
	Name    string
}

func (p *TextureParameter) ID() BlockID  { return p.BlockID }
func (p *TextureParameter) Kind() string { return KindTextureParameter }
func (p *TextureParameter) Inputs() []Socket {
	return []Socket{OptionalInput("UV", TypeFloat2)}
}

func (p *TextureParameter) Outputs() []Socket {
	return []Socket{
		Output("RGBA", TypeFloat4),
		Output("RGB", TypeFloat3),
		Output("R", TypeFloat),
		Output("G", TypeFloat),
		Output("B", TypeFloat),
		Output("A", TypeFloat),
	}
}

func (p *TextureParameter) Resources() []Resource {
	return []Resource{{Name: p.Name, Type: TypeTexture2D}}
}

func (p *TextureParameter) Compile(c Compiler) error {
	var (
		uv  Chunk
		err error
	)
	if c.Connected("UV") {
		uv, err = c.Input("UV")
	} else {
		uv, err = c.Attribute(AttrUV0)
	}
	if err != nil {
		return err
	}
	texel, err := c.Sample(p.Name, uv)
	if err != nil {
		return err
	}
	outs := []struct {
		socket  string
		t       ValueType
		swizzle string
	}{
		{"RGBA", TypeFloat4, ""},
		{"RGB", TypeFloat3, ".rgb"},
		{"R", TypeFloat, ".r"},
		{"G", TypeFloat, ".g"},
		{"B", TypeFloat, ".b"},
		{"A", TypeFloat, ".a"},
	}
	for _, o := range outs {
		ch := Chunk{Type: o.t, Expr: texel.Expr + o.swizzle, Stage: texel.Stage}
		if err := c.SetOutput(o.socket, ch); err != nil {
			return err
		}
	}
	return nil
}

// Constant is a literal value.
type Constant struct {
	BlockID BlockID
	Type    ValueType
	Value   [4]float32
}

func (k *Constant) ID() BlockID      { return k.BlockID }
func (k *Constant) Kind() string     { return KindConstant }
func (k *Constant) Inputs() []Socket { return nil }
func (k *Constant) Outputs() []Socket {
	return []Socket{Output("Value", k.Type)}
}

func (k *Constant) Compile(c Compiler) error {
	n := k.Type.Components()
	if n == 0 {
		return Errorf(ErrInvalidBlock, k.BlockID, "", "constant of type %s", k.Type)
	}
	return c.SetOutput("Value", c.Constant(k.Type, k.Value[:n]...))
}

// MathOp is an arithmetic operator or intrinsic function.
type MathOp string

// Math operators.
const (
	OpAdd       MathOp = "add"
	OpSubtract  MathOp = "subtract"
	OpMultiply  MathOp = "multiply"
	OpDivide    MathOp = "divide"
	OpMin       MathOp = "min"
	OpMax       MathOp = "max"
	OpPower     MathOp = "power"
	OpLerp      MathOp = "lerp"
	OpSaturate  MathOp = "saturate"
	OpOneMinus  MathOp = "one_minus"
	OpAbs       MathOp = "abs"
	OpSin       MathOp = "sin"
	OpCos       MathOp = "cos"
	OpSqrt      MathOp = "sqrt"
	OpFract     MathOp = "fract"
	OpFloor     MathOp = "floor"
	OpNormalize MathOp = "normalize"
	OpDot       MathOp = "dot"
	OpLength    MathOp = "length"
	OpCross     MathOp = "cross"
)

type opInfo struct {
	inputs []string
	// format receives the unified operand expressions.
	format string
	// scalarResult forces an f32 result regardless of operand width.
	scalarResult bool
	vectorOnly   bool
	float3Only   bool
}

var mathOps = map[MathOp]opInfo{
	OpAdd:       {inputs: []string{"A", "B"}, format: "(%s + %s)"},
	OpSubtract:  {inputs: []string{"A", "B"}, format: "(%s - %s)"},
	OpMultiply:  {inputs: []string{"A", "B"}, format: "(%s * %s)"},
	OpDivide:    {inputs: []string{"A", "B"}, format: "(%s / %s)"},
	OpMin:       {inputs: []string{"A", "B"}, format: "min(%s, %s)"},
	OpMax:       {inputs: []string{"A", "B"}, format: "max(%s, %s)"},
	OpPower:     {inputs: []string{"A", "B"}, format: "pow(%s, %s)"},
	OpLerp:      {inputs: []string{"A", "B", "Alpha"}, format: "mix(%s, %s, %s)"},
	OpSaturate:  {inputs: []string{"A"}, format: "saturate(%s)"},
	OpOneMinus:  {inputs: []string{"A"}, format: "(1.0 - %s)"},
	OpAbs:       {inputs: []string{"A"}, format: "abs(%s)"},
	OpSin:       {inputs: []string{"A"}, format: "sin(%s)"},
	OpCos:       {inputs: []string{"A"}, format: "cos(%s)"},
	OpSqrt:      {inputs: []string{"A"}, format: "sqrt(%s)"},
	OpFract:     {inputs: []string{"A"}, format: "fract(%s)"},
	OpFloor:     {inputs: []string{"A"}, format: "floor(%s)"},
	OpNormalize: {inputs: []string{"A"}, format: "normalize(%s)", vectorOnly: true},
	OpDot:       {inputs: []string{"A", "B"}, format: "dot(%s, %s)", scalarResult: true, vectorOnly: true},
	OpLength:    {inputs: []string{"A"}, format: "length(%s)", scalarResult: true, vectorOnly: true},
	OpCross:     {inputs: []string{"A", "B"}, format: "cross(%s, %s)", float3Only: true},
}

// MathOps returns every supported operator, sorted.
func MathOps() []MathOp {
	ops := make([]MathOp, 0, len(mathOps))
	for op := range mathOps {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Math applies an operator component-wise. Inputs are dynamic: scalars
// broadcast against the widest connected vector.
type Math struct {
	BlockID BlockID
	Op      MathOp
}

func (m *Math) ID() BlockID  { return m.BlockID }
func (m *Math) Kind() string { return KindMath }

func (m *Math) Inputs() []Socket {
	info, ok := mathOps[m.Op]
	if !ok {
		return nil
	}
	sockets := make([]Socket, len(info.inputs))
	for i, name := range info.inputs {
		sockets[i] = Input(name, TypeDynamic)
	}
	return sockets
}

func (m *Math) Outputs() []Socket {
	return []Socket{Output("Result", TypeDynamic)}
}

func (m *Math) Compile(c Compiler) error {
	info, ok := mathOps[m.Op]
	if !ok {
		return Errorf(ErrInvalidBlock, m.BlockID, "", "unknown math op %q", m.Op)
	}

	operands := make([]Chunk, len(info.inputs))
	types := make([]ValueType, len(info.inputs))
	for i, name := range info.inputs {
		ch, err := c.Input(name)
		if err != nil {
			return err
		}
		operands[i] = ch
		types[i] = ch.Type
	}

	unified, ok := Unify(types...)
	if !ok {
		return Errorf(ErrTypeMismatch, m.BlockID, info.inputs[len(info.inputs)-1],
			"cannot combine %s for %s", joinTypes(types), m.Op)
	}
	switch {
	case info.float3Only && unified != TypeFloat3:
		return Errorf(ErrTypeMismatch, m.BlockID, "A", "%s requires float3, got %s", m.Op, unified)
	case info.vectorOnly && unified == TypeFloat:
		return Errorf(ErrTypeMismatch, m.BlockID, "A", "%s requires a vector, got float", m.Op)
	}

	args := make([]any, len(operands))
	for i, ch := range operands {
		args[i] = Convert(ch.Expr, ch.Type, unified)
	}
	result := unified
	if info.scalarResult {
		result = TypeFloat
	}
	return c.SetOutput("Result", c.Local(result, fmt.Sprintf(info.format, args...)))
}

func joinTypes(types []ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

// Swizzle reorders or selects vector components with a mask such as "xy"
// or "bgr".
type Swizzle struct {
	BlockID BlockID
	Mask    string
}

func (s *Swizzle) ID() BlockID  { return s.BlockID }
func (s *Swizzle) Kind() string { return KindSwizzle }
func (s *Swizzle) Inputs() []Socket {
	return []Socket{Input("In", TypeDynamic)}
}

func (s *Swizzle) Outputs() []Socket {
	return []Socket{Output("Out", TypeDynamic)}
}

func (s *Swizzle) Compile(c Compiler) error {
	if len(s.Mask) == 0 || len(s.Mask) > 4 {
		return Errorf(ErrInvalidBlock, s.BlockID, "", "swizzle mask %q", s.Mask)
	}
	in, err := c.Input("In")
	if err != nil {
		return err
	}
	n := in.Type.Components()
	set := "xyzw"
	if strings.ContainsRune("rgba", rune(s.Mask[0])) {
		set = "rgba"
	}
	for _, r := range s.Mask {
		idx := strings.IndexRune(set, r)
		if idx < 0 || idx >= n {
			return Errorf(ErrInvalidBlock, s.BlockID, "In", "swizzle %q out of range for %s", s.Mask, in.Type)
		}
	}
	expr := in.Expr + "." + s.Mask
	if in.Type == TypeFloat {
		// Scalars have no components to select; splat instead.
		expr = fmt.Sprintf("%s(%s)", VectorOf(len(s.Mask)).WGSL(), in.Expr)
		if len(s.Mask) == 1 {
			expr = in.Expr
		}
	}
	return c.SetOutput("Out", c.Local(VectorOf(len(s.Mask)), expr))
}

// Combine packs two to four scalars into a vector. Z and W are optional;
// the output width follows the highest connected component.
type Combine struct {
	BlockID BlockID
}

func (b *Combine) ID() BlockID  { return b.BlockID }
func (b *Combine) Kind() string { return KindCombine }
func (b *Combine) Inputs() []Socket {
	return []Socket{
		Input("X", TypeFloat),
		Input("Y", TypeFloat),
		OptionalInput("Z", TypeFloat),
		OptionalInput("W", TypeFloat),
	}
}

func (b *Combine) Outputs() []Socket {
	return []Socket{Output("Out", TypeDynamic)}
}

func (b *Combine) Compile(c Compiler) error {
	names := []string{"X", "Y", "Z", "W"}
	width := 2
	if c.Connected("Z") {
		width = 3
	}
	if c.Connected("W") {
		width = 4
	}
	parts := make([]string, width)
	for i := range width {
		if !c.Connected(names[i]) {
			parts[i] = "0.0"
			continue
		}
		ch, err := c.Input(names[i])
		if err != nil {
			return err
		}
		parts[i] = ch.Expr
	}
	t := VectorOf(width)
	return c.SetOutput("Out", c.Local(t, fmt.Sprintf("%s(%s)", t.WGSL(), strings.Join(parts, ", "))))
}

// VertexAttribute reads a per-vertex attribute.
type VertexAttribute struct {
	BlockID BlockID
	Attr    Attribute
}

func (v *VertexAttribute) ID() BlockID      { return v.BlockID }
func (v *VertexAttribute) Kind() string     { return KindVertexAttribute }
func (v *VertexAttribute) Inputs() []Socket { return nil }
func (v *VertexAttribute) Outputs() []Socket {
	return []Socket{Output("Value", v.Attr.Type())}
}

func (v *VertexAttribute) Compile(c Compiler) error {
	if !c.HasAttribute(v.Attr) {
		return Errorf(ErrInvalidBlock, v.BlockID, "Value", "vertex layout has no %s attribute", v.Attr)
	}
	ch, err := c.Attribute(v.Attr)
	if err != nil {
		return err
	}
	return c.SetOutput("Value", ch)
}
