package setup

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/graph"
)

// VertexLayout is the set of vertex attributes a mesh provides, one bit per
// graph.Attribute.
type VertexLayout uint32

// Common layouts.
const (
	LayoutPosition VertexLayout = 1 << graph.AttrPosition

	// LayoutStatic is position, normal and one texture coordinate set.
	LayoutStatic = LayoutPosition | 1<<graph.AttrNormal | 1<<graph.AttrUV0

	// LayoutFull carries every attribute.
	LayoutFull VertexLayout = 1<<graph.AttributeCount - 1
)

// LayoutOf returns the layout holding exactly the given attributes.
func LayoutOf(attrs ...graph.Attribute) VertexLayout {
	var l VertexLayout
	for _, a := range attrs {
		l |= 1 << a
	}
	return l
}

// Has reports whether the layout provides a.
func (l VertexLayout) Has(a graph.Attribute) bool {
	return a < graph.AttributeCount && l&(1<<a) != 0
}

// Attributes returns the provided attributes in location order.
func (l VertexLayout) Attributes() []graph.Attribute {
	var out []graph.Attribute
	for a := range graph.AttributeCount {
		if l.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// String joins attribute names with '+', e.g. "position+normal+uv0".
func (l VertexLayout) String() string {
	attrs := l.Attributes()
	if len(attrs) == 0 {
		return "none"
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.String()
	}
	return strings.Join(names, "+")
}

// ParseVertexLayout parses the String form. Commas are accepted as
// separators as well.
func ParseVertexLayout(s string) (VertexLayout, error) {
	if s == "none" || s == "" {
		return 0, nil
	}
	var l VertexLayout
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		a, err := graph.ParseAttribute(strings.TrimSpace(name))
		if err != nil {
			return 0, fmt.Errorf("setup: %w", err)
		}
		l |= 1 << a
	}
	return l, nil
}

func vertexFormat(t graph.ValueType) gputypes.VertexFormat {
	switch t {
	case graph.TypeFloat:
		return gputypes.VertexFormatFloat32
	case graph.TypeFloat2:
		return gputypes.VertexFormatFloat32x2
	case graph.TypeFloat3:
		return gputypes.VertexFormatFloat32x3
	case graph.TypeFloat4:
		return gputypes.VertexFormatFloat32x4
	default:
		return gputypes.VertexFormatUndefined
	}
}

// Location returns the shader location of a. Locations are fixed per
// attribute so the same graph reads the same slots under every layout.
func Location(a graph.Attribute) uint32 { return uint32(a) }

// Buffers returns a single interleaved vertex buffer layout holding the
// provided attributes in location order.
func (l VertexLayout) Buffers() []gputypes.VertexBufferLayout {
	attrs := l.Attributes()
	if len(attrs) == 0 {
		return nil
	}
	layout := gputypes.VertexBufferLayout{
		StepMode:   gputypes.VertexStepModeVertex,
		Attributes: make([]gputypes.VertexAttribute, len(attrs)),
	}
	for i, a := range attrs {
		f := vertexFormat(a.Type())
		layout.Attributes[i] = gputypes.VertexAttribute{
			Format:         f,
			Offset:         layout.ArrayStride,
			ShaderLocation: Location(a),
		}
		layout.ArrayStride += f.Size()
	}
	return []gputypes.VertexBufferLayout{layout}
}
