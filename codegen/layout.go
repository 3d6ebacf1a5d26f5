package codegen

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/graph"
)

// FrameGroup is the bind group holding per-draw transforms. Material
// resources live in the group after it.
const FrameGroup = 0

// FrameUniformSize is the byte size of the frame uniform block
// (view-projection and model matrices).
const FrameUniformSize = 128

// Constant is one numeric parameter of the material uniform block.
type Constant struct {
	// Name is the parameter name as declared by the block.
	Name string
	// Ident is the WGSL field name.
	Ident string
	Type  graph.ValueType

	// Offset and Size follow WGSL uniform address space layout.
	Offset uint32
	Size   uint32

	Default []float32
}

// Texture is a sampled texture parameter with its sampler.
type Texture struct {
	Name  string
	Ident string

	Binding        uint32
	SamplerBinding uint32
}

// Layout is the de-duplicated resource layout of one compiled output.
// Constants and textures are ordered by name.
type Layout struct {
	Group     uint32
	Constants []Constant
	Textures  []Texture

	// UniformSize is the size of the material uniform block, rounded up to
	// 16 bytes. Zero when there are no constants.
	UniformSize uint32
}

// Constant returns the constant named name.
func (l *Layout) Constant(name string) (Constant, bool) {
	i := slices.IndexFunc(l.Constants, func(c Constant) bool { return c.Name == name })
	if i < 0 {
		return Constant{}, false
	}
	return l.Constants[i], true
}

// Texture returns the texture named name.
func (l *Layout) Texture(name string) (Texture, bool) {
	i := slices.IndexFunc(l.Textures, func(t Texture) bool { return t.Name == name })
	if i < 0 {
		return Texture{}, false
	}
	return l.Textures[i], true
}

// IsEmpty reports whether the material reads no resources.
func (l *Layout) IsEmpty() bool { return len(l.Constants) == 0 && len(l.Textures) == 0 }

const visibility = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment

// BindGroupLayoutEntries describes the material bind group.
func (l *Layout) BindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	var entries []gputypes.BindGroupLayoutEntry
	if len(l.Constants) > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: visibility,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           gputypes.BufferBindingTypeUniform,
				MinBindingSize: uint64(l.UniformSize),
			},
		})
	}
	for _, t := range l.Textures {
		entries = append(entries,
			gputypes.BindGroupLayoutEntry{
				Binding:    t.Binding,
				Visibility: visibility,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			gputypes.BindGroupLayoutEntry{
				Binding:    t.SamplerBinding,
				Visibility: visibility,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		)
	}
	return entries
}

// FrameBindGroupLayoutEntries describes the frame bind group shared by
// every technique.
func FrameBindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	return []gputypes.BindGroupLayoutEntry{{
		Binding:    0,
		Visibility: gputypes.ShaderStageVertex,
		Buffer: &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: FrameUniformSize,
		},
	}}
}

// DefaultData returns the material uniform block filled with the declared
// defaults, ready for upload.
func (l *Layout) DefaultData() []byte {
	buf := make([]byte, l.UniformSize)
	for _, c := range l.Constants {
		for i, v := range c.Default {
			if uint32(i) >= c.Size/4 {
				break
			}
			binary.LittleEndian.PutUint32(buf[c.Offset+uint32(i)*4:], math.Float32bits(v))
		}
	}
	return buf
}

// alignment and size of a value type in the uniform address space.
func uniformLayout(t graph.ValueType) (align, size uint32) {
	switch t {
	case graph.TypeFloat:
		return 4, 4
	case graph.TypeFloat2:
		return 8, 8
	case graph.TypeFloat3:
		return 16, 12
	case graph.TypeFloat4:
		return 16, 16
	default:
		return 0, 0
	}
}

func alignUp(v, a uint32) uint32 { return (v + a - 1) &^ (a - 1) }

// buildLayout de-duplicates the resources declared by blocks. A name
// declared twice with different types, or two names mapping onto one WGSL
// identifier, is a conflict reported against the second declaring block.
func buildLayout(group uint32, blocks []graph.Block) (Layout, error) {
	type decl struct {
		res   graph.Resource
		block graph.BlockID
	}
	byName := make(map[string]decl)
	byIdent := make(map[string]string)
	var names []string

	for _, b := range blocks {
		rd, ok := b.(graph.ResourceDeclarer)
		if !ok {
			continue
		}
		for _, r := range rd.Resources() {
			if prev, seen := byName[r.Name]; seen {
				if prev.res.Type != r.Type {
					return Layout{}, graph.Errorf(graph.ErrResourceConflict, b.ID(), "",
						"%q is %s here and %s at %s", r.Name, r.Type, prev.res.Type, prev.block)
				}
				continue
			}
			if !r.Type.IsNumeric() && r.Type != graph.TypeTexture2D {
				return Layout{}, graph.Errorf(graph.ErrInvalidBlock, b.ID(), "", "resource %q of type %s", r.Name, r.Type)
			}
			id := ident(r.Name)
			if other, clash := byIdent[id]; clash {
				return Layout{}, graph.Errorf(graph.ErrResourceConflict, b.ID(), "",
					"%q and %q both map to %s", other, r.Name, id)
			}
			byIdent[id] = r.Name
			byName[r.Name] = decl{res: r, block: b.ID()}
			names = append(names, r.Name)
		}
	}
	slices.Sort(names)

	l := Layout{Group: group}
	var offset uint32
	for _, name := range names {
		r := byName[name].res
		if r.Type != graph.TypeTexture2D {
			align, size := uniformLayout(r.Type)
			offset = alignUp(offset, align)
			l.Constants = append(l.Constants, Constant{
				Name:    r.Name,
				Ident:   ident(r.Name),
				Type:    r.Type,
				Offset:  offset,
				Size:    size,
				Default: slices.Clone(r.Default),
			})
			offset += size
		}
	}
	if len(l.Constants) > 0 {
		l.UniformSize = alignUp(offset, 16)
	}

	// Binding 0 is reserved for the uniform block even when it is absent,
	// so texture bindings do not shift when a constant is added.
	binding := uint32(1)
	for _, name := range names {
		r := byName[name].res
		if r.Type == graph.TypeTexture2D {
			l.Textures = append(l.Textures, Texture{
				Name:           r.Name,
				Ident:          ident(r.Name),
				Binding:        binding,
				SamplerBinding: binding + 1,
			})
			binding += 2
		}
	}
	return l, nil
}

// ident maps a parameter name onto a WGSL identifier.
func ident(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" || s == "_" || strings.HasPrefix(s, "__") {
		s = "p" + s
	}
	if reserved[s] {
		s = "p_" + s
	}
	return s
}

var reserved = map[string]bool{
	"alias": true, "break": true, "case": true, "const": true, "continue": true,
	"default": true, "discard": true, "else": true, "enable": true, "false": true,
	"fn": true, "for": true, "if": true, "let": true, "loop": true, "override": true,
	"return": true, "struct": true, "switch": true, "true": true, "var": true, "while": true,
}
