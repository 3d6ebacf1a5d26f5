package graph

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// BlockID identifies a block within a graph. It is stable across edits,
// so it may take part in cache keys and diagnostics.
type BlockID string

// Direction tells input sockets from output sockets.
type Direction uint8

const (
	// In marks a consumed socket.
	In Direction = iota
	// Out marks a produced socket.
	Out
)

// Stage is a shader pipeline stage.
type Stage uint8

const (
	// StageFragment is the default stage for everything not explicitly vertex.
	StageFragment Stage = iota
	// StageVertex is the vertex stage.
	StageVertex
)

// String returns "vertex" or "fragment".
func (s Stage) String() string {
	if s == StageVertex {
		return "vertex"
	}
	return "fragment"
}

// Stages lists the stages in emission order.
var Stages = [...]Stage{StageVertex, StageFragment}

// PassType names the render pass an output block terminates.
type PassType uint8

// Pass types.
const (
	PassOpaque PassType = iota
	PassUnlit
	PassTransparent

	passCount
)

var passNames = [...]string{
	PassOpaque:      "opaque",
	PassUnlit:       "unlit",
	PassTransparent: "transparent",
}

// String returns the canonical pass name.
func (p PassType) String() string {
	if p < passCount {
		return passNames[p]
	}
	return fmt.Sprintf("PassType(%d)", uint8(p))
}

// ParsePass is the inverse of PassType.String.
func ParsePass(s string) (PassType, error) {
	for i, name := range passNames {
		if name == s {
			return PassType(i), nil
		}
	}
	return 0, fmt.Errorf("graph: unknown pass %q", s)
}

// Passes lists every pass type in declaration order.
func Passes() []PassType {
	out := make([]PassType, passCount)
	for i := range out {
		out[i] = PassType(i)
	}
	return out
}

// Socket is a typed, named attachment point on a block.
type Socket struct {
	Name      string
	Type      ValueType
	Direction Direction

	// Optional inputs may stay unconnected; the block supplies a default.
	Optional bool

	// Stage is only meaningful on output block inputs: it selects which
	// stage body consumes the value.
	Stage Stage
}

// Input declares a required input socket.
func Input(name string, t ValueType) Socket {
	return Socket{Name: name, Type: t, Direction: In}
}

// OptionalInput declares an input socket that may be left unconnected.
func OptionalInput(name string, t ValueType) Socket {
	return Socket{Name: name, Type: t, Direction: In, Optional: true}
}

// Output declares an output socket.
func Output(name string, t ValueType) Socket {
	return Socket{Name: name, Type: t, Direction: Out}
}

// FindSocket returns the socket named name.
func FindSocket(sockets []Socket, name string) (Socket, bool) {
	for _, s := range sockets {
		if s.Name == name {
			return s, true
		}
	}
	return Socket{}, false
}

// SocketRef addresses one socket of one block.
type SocketRef struct {
	Block  BlockID
	Socket string
}

func (r SocketRef) String() string { return string(r.Block) + "." + r.Socket }

// Connection is a directed edge from an output socket to an input socket.
type Connection struct {
	From SocketRef
	To   SocketRef
}

// Chunk is an immutable typed fragment of generated WGSL. Chunks produced by
// one block are referenced by name from every consumer, never duplicated.
type Chunk struct {
	Type ValueType
	Expr string

	// Stage is the stage the chunk was produced in.
	Stage Stage

	// SideEffects marks chunks whose producing statements must be emitted
	// even if no target consumes them.
	SideEffects bool
}

// IsZero reports whether c is the zero chunk.
func (c Chunk) IsZero() bool { return c.Type == TypeInvalid && c.Expr == "" }

// Attribute is a per-vertex input attribute.
type Attribute uint8

// Vertex attributes, in vertex buffer order.
const (
	AttrPosition Attribute = iota
	AttrNormal
	AttrTangent
	AttrUV0
	AttrUV1
	AttrColor

	AttributeCount
)

var attributeInfo = [...]struct {
	name string
	typ  ValueType
}{
	AttrPosition: {"position", TypeFloat3},
	AttrNormal:   {"normal", TypeFloat3},
	AttrTangent:  {"tangent", TypeFloat4},
	AttrUV0:      {"uv0", TypeFloat2},
	AttrUV1:      {"uv1", TypeFloat2},
	AttrColor:    {"color", TypeFloat4},
}

// String returns the attribute's WGSL field name.
func (a Attribute) String() string {
	if a < AttributeCount {
		return attributeInfo[a].name
	}
	return fmt.Sprintf("Attribute(%d)", uint8(a))
}

// Type returns the attribute's value type.
func (a Attribute) Type() ValueType {
	if a < AttributeCount {
		return attributeInfo[a].typ
	}
	return TypeInvalid
}

// ParseAttribute is the inverse of Attribute.String.
func ParseAttribute(s string) (Attribute, error) {
	for i, info := range attributeInfo {
		if info.name == s {
			return Attribute(i), nil
		}
	}
	return 0, fmt.Errorf("graph: unknown vertex attribute %q", s)
}

// Target is a final stage output an output block writes to.
type Target uint8

// Stage targets.
const (
	// TargetColor is the fragment color (vec4).
	TargetColor Target = iota
	// TargetDepthOffset is added to the fragment depth (f32).
	TargetDepthOffset
	// TargetPositionOffset displaces the object-space vertex position (vec3).
	TargetPositionOffset
)

// Resource is a named parameter a block reads at runtime.
type Resource struct {
	Name    string
	Type    ValueType
	Default []float32
}

// RenderStateOverride holds the pipeline state an output block or the
// compilation setup forces. Nil fields leave the base state untouched.
type RenderStateOverride struct {
	CullMode     *gputypes.CullMode
	Blend        *gputypes.BlendState
	DepthWrite   *bool
	DepthCompare *gputypes.CompareFunction
}

// Merge copies every non-nil field of o onto r.
func (r *RenderStateOverride) Merge(o RenderStateOverride) {
	if o.CullMode != nil {
		r.CullMode = o.CullMode
	}
	if o.Blend != nil {
		r.Blend = o.Blend
	}
	if o.DepthWrite != nil {
		r.DepthWrite = o.DepthWrite
	}
	if o.DepthCompare != nil {
		r.DepthCompare = o.DepthCompare
	}
}

// IsEmpty reports whether no field is overridden.
func (r *RenderStateOverride) IsEmpty() bool {
	return r.CullMode == nil && r.Blend == nil && r.DepthWrite == nil && r.DepthCompare == nil
}

// Compiler is the contract the code generation engine offers a block while
// it compiles. Every chunk returned is already type checked.
type Compiler interface {
	// Stage is the stage currently being generated.
	Stage() Stage

	// Connected reports whether an input socket has a producer.
	Connected(socket string) bool

	// Input returns the chunk feeding an input socket, converted to the
	// socket's declared type.
	Input(socket string) (Chunk, error)

	// SetOutput publishes the chunk for one of the block's output sockets.
	SetOutput(socket string, c Chunk) error

	// Local binds expr to a fresh local and returns a chunk naming it.
	Local(t ValueType, expr string) Chunk

	// Constant returns a literal chunk.
	Constant(t ValueType, v ...float32) Chunk

	// Parameter returns the chunk reading a declared numeric resource.
	Parameter(name string) (Chunk, error)

	// Sample samples a declared texture resource at uv.
	Sample(texture string, uv Chunk) (Chunk, error)

	// HasAttribute reports whether the vertex layout provides a.
	HasAttribute(a Attribute) bool

	// Attribute reads a vertex attribute, interpolated in the fragment stage.
	// Normals read in the fragment stage of a two-sided compilation are
	// flipped for back faces.
	Attribute(a Attribute) (Chunk, error)

	// Helper pulls a shared helper function into the module.
	Helper(name string) error

	// SetTarget binds a final stage output. Output blocks only.
	SetTarget(t Target, c Chunk) error
}

// Block is a node of a material graph.
type Block interface {
	ID() BlockID
	Kind() string
	Inputs() []Socket
	Outputs() []Socket
	Compile(c Compiler) error
}

// OutputBlock is a terminal per-pass sink.
type OutputBlock interface {
	Block
	Pass() PassType
}

// ResourceDeclarer is implemented by blocks that read runtime parameters.
type ResourceDeclarer interface {
	Resources() []Resource
}

// RenderStateContributor is implemented by blocks that force pipeline state.
type RenderStateContributor interface {
	RenderState() RenderStateOverride
}
