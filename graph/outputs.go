package graph

import "github.com/gogpu/gputypes"

// Output block kinds.
const (
	KindOpaqueOutput      = "opaque_output"
	KindUnlitOutput       = "unlit_output"
	KindTransparentOutput = "transparent_output"
)

// Helper functions output blocks pull into the generated module.
const (
	HelperShadeStandard = "mg_shade_standard"
)

// vertexInput declares an optional output block input consumed by the
// vertex stage.
func vertexInput(name string, t ValueType) Socket {
	s := OptionalInput(name, t)
	s.Stage = StageVertex
	return s
}

// inputOr returns the chunk feeding socket, or fallback when unconnected.
func inputOr(c Compiler, socket string, fallback Chunk) (Chunk, error) {
	if !c.Connected(socket) {
		return fallback, nil
	}
	return c.Input(socket)
}

// bindPositionOffset is the vertex stage shared by every output block.
func bindPositionOffset(c Compiler) error {
	if !c.Connected("PositionOffset") {
		return nil
	}
	off, err := c.Input("PositionOffset")
	if err != nil {
		return err
	}
	return c.SetTarget(TargetPositionOffset, off)
}

// OpaqueOutput terminates the lit opaque pass. Its color target is the
// shaded base color plus emissive; DepthOffset maps onto a custom depth.
type OpaqueOutput struct {
	BlockID BlockID
}

func (o *OpaqueOutput) ID() BlockID    { return o.BlockID }
func (o *OpaqueOutput) Kind() string   { return KindOpaqueOutput }
func (o *OpaqueOutput) Pass() PassType { return PassOpaque }

func (o *OpaqueOutput) Inputs() []Socket {
	return []Socket{
		OptionalInput("BaseColor", TypeFloat3),
		OptionalInput("Metallic", TypeFloat),
		OptionalInput("Roughness", TypeFloat),
		OptionalInput("Normal", TypeFloat3),
		OptionalInput("Emissive", TypeFloat3),
		OptionalInput("DepthOffset", TypeFloat),
		vertexInput("PositionOffset", TypeFloat3),
	}
}

func (o *OpaqueOutput) Outputs() []Socket { return nil }

func (o *OpaqueOutput) Compile(c Compiler) error {
	if c.Stage() == StageVertex {
		return bindPositionOffset(c)
	}

	base, err := inputOr(c, "BaseColor", c.Constant(TypeFloat3, 0.8, 0.8, 0.8))
	if err != nil {
		return err
	}
	metallic, err := inputOr(c, "Metallic", c.Constant(TypeFloat, 0))
	if err != nil {
		return err
	}
	roughness, err := inputOr(c, "Roughness", c.Constant(TypeFloat, 0.5))
	if err != nil {
		return err
	}
	emissive, err := inputOr(c, "Emissive", c.Constant(TypeFloat3, 0, 0, 0))
	if err != nil {
		return err
	}

	var normal Chunk
	switch {
	case c.Connected("Normal"):
		n, err := c.Input("Normal")
		if err != nil {
			return err
		}
		normal = c.Local(TypeFloat3, "normalize("+n.Expr+")")
	case c.HasAttribute(AttrNormal):
		if normal, err = c.Attribute(AttrNormal); err != nil {
			return err
		}
	default:
		normal = c.Constant(TypeFloat3, 0, 0, 1)
	}

	if err := c.Helper(HelperShadeStandard); err != nil {
		return err
	}
	lit := c.Local(TypeFloat3, HelperShadeStandard+"("+base.Expr+", "+normal.Expr+", "+
		roughness.Expr+", "+metallic.Expr+") + "+emissive.Expr)
	if err := c.SetTarget(TargetColor, c.Local(TypeFloat4, "vec4<f32>("+lit.Expr+", 1.0)")); err != nil {
		return err
	}

	if c.Connected("DepthOffset") {
		d, err := c.Input("DepthOffset")
		if err != nil {
			return err
		}
		return c.SetTarget(TargetDepthOffset, d)
	}
	return nil
}

// UnlitOutput writes its color straight to the target.
type UnlitOutput struct {
	BlockID BlockID
}

func (o *UnlitOutput) ID() BlockID       { return o.BlockID }
func (o *UnlitOutput) Kind() string      { return KindUnlitOutput }
func (o *UnlitOutput) Pass() PassType    { return PassUnlit }
func (o *UnlitOutput) Outputs() []Socket { return nil }

func (o *UnlitOutput) Inputs() []Socket {
	return []Socket{
		OptionalInput("Color", TypeFloat3),
		vertexInput("PositionOffset", TypeFloat3),
	}
}

func (o *UnlitOutput) Compile(c Compiler) error {
	if c.Stage() == StageVertex {
		return bindPositionOffset(c)
	}
	color, err := inputOr(c, "Color", c.Constant(TypeFloat3, 1, 1, 1))
	if err != nil {
		return err
	}
	return c.SetTarget(TargetColor, c.Local(TypeFloat4, "vec4<f32>("+color.Expr+", 1.0)"))
}

// TransparentOutput blends over the target with premultiplied alpha and
// never writes depth.
type TransparentOutput struct {
	BlockID BlockID
}

func (o *TransparentOutput) ID() BlockID       { return o.BlockID }
func (o *TransparentOutput) Kind() string      { return KindTransparentOutput }
func (o *TransparentOutput) Pass() PassType    { return PassTransparent }
func (o *TransparentOutput) Outputs() []Socket { return nil }

func (o *TransparentOutput) Inputs() []Socket {
	return []Socket{
		OptionalInput("Color", TypeFloat3),
		OptionalInput("Opacity", TypeFloat),
		vertexInput("PositionOffset", TypeFloat3),
	}
}

func (o *TransparentOutput) RenderState() RenderStateOverride {
	blend := gputypes.BlendStatePremultiplied()
	depthWrite := false
	return RenderStateOverride{Blend: &blend, DepthWrite: &depthWrite}
}

func (o *TransparentOutput) Compile(c Compiler) error {
	if c.Stage() == StageVertex {
		return bindPositionOffset(c)
	}
	color, err := inputOr(c, "Color", c.Constant(TypeFloat3, 1, 1, 1))
	if err != nil {
		return err
	}
	opacity, err := inputOr(c, "Opacity", c.Constant(TypeFloat, 1))
	if err != nil {
		return err
	}
	a := c.Local(TypeFloat, "saturate("+opacity.Expr+")")
	return c.SetTarget(TargetColor, c.Local(TypeFloat4, "vec4<f32>("+color.Expr+" * "+a.Expr+", "+a.Expr+")"))
}
