// Package setup defines the compilation setup: the canonical, hashable
// description of everything besides the graph itself that changes the
// generated code or pipeline state.
//
// Setup is a comparable value. Two setups compare equal exactly when they
// produce identical output, so Setup (wrapped in Key together with the graph
// id) is used directly as a map key. Hash is a pure function of the fields
// and serves labels, logs and sharding; it never stands in for equality.
package setup

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/graph"
)

// Errors returned by Validate.
var (
	ErrNoPosition      = errors.New("setup: vertex layout has no position attribute")
	ErrInvalidPass     = errors.New("setup: invalid pass")
	ErrSampleCount     = errors.New("setup: sample count must be 1, 2, 4, 8 or 16")
	ErrDepthFormat     = errors.New("setup: depth state requires a depth format")
	ErrColorFormat     = errors.New("setup: color format is a depth format")
	ErrUnknownFormat   = errors.New("setup: unknown texture format")
	ErrUnknownFeature  = errors.New("setup: unknown feature flag")
	ErrLayoutAttribute = errors.New("setup: vertex layout has unknown attributes")
)

// Setup describes one compilation permutation.
type Setup struct {
	Pass   graph.PassType
	Layout VertexLayout

	// TwoSided disables back-face culling and flips normals on back faces.
	TwoSided bool

	// AlphaBlend forces alpha blending for passes that do not blend by
	// themselves.
	AlphaBlend bool

	DepthTest  bool
	DepthWrite bool

	// Wireframe draws edges as lines instead of filled triangles.
	Wireframe bool

	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat

	// SampleCount is the MSAA sample count; 0 means 1.
	SampleCount uint32
}

// Default returns the setup of an opaque, depth tested, single sampled
// static mesh.
func Default() Setup {
	return Setup{
		Pass:        graph.PassOpaque,
		Layout:      LayoutStatic,
		DepthTest:   true,
		DepthWrite:  true,
		ColorFormat: gputypes.TextureFormatBGRA8Unorm,
		DepthFormat: gputypes.TextureFormatDepth24PlusStencil8,
		SampleCount: 1,
	}
}

// Normalized maps equivalent spellings onto one canonical setup.
// Caches normalize before keying.
func (s Setup) Normalized() Setup {
	if s.SampleCount == 0 {
		s.SampleCount = 1
	}
	if !s.DepthTest && !s.DepthWrite {
		s.DepthFormat = gputypes.TextureFormatUndefined
	}
	return s
}

// Validate reports the first inconsistency in s.
func (s Setup) Validate() error {
	s = s.Normalized()
	if s.Pass >= graph.PassType(len(graph.Passes())) {
		return fmt.Errorf("%w: %d", ErrInvalidPass, s.Pass)
	}
	if s.Layout&^LayoutFull != 0 {
		return fmt.Errorf("%w: %#x", ErrLayoutAttribute, uint32(s.Layout))
	}
	if !s.Layout.Has(graph.AttrPosition) {
		return ErrNoPosition
	}
	switch s.SampleCount {
	case 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("%w: got %d", ErrSampleCount, s.SampleCount)
	}
	if (s.DepthTest || s.DepthWrite) && !s.DepthFormat.HasDepth() {
		return fmt.Errorf("%w: got %s", ErrDepthFormat, s.DepthFormat)
	}
	if s.ColorFormat.IsDepthStencil() {
		return fmt.Errorf("%w: %s", ErrColorFormat, s.ColorFormat)
	}
	return nil
}

// Hash returns the FNV-1a hash of s in canonical form.
func (s Setup) Hash() uint64 {
	s = s.Normalized()
	h := fnv.New64a()
	hashWriteUint32(h, uint32(s.Pass))
	hashWriteUint32(h, uint32(s.Layout))
	hashWriteBool(h, s.TwoSided)
	hashWriteBool(h, s.AlphaBlend)
	hashWriteBool(h, s.DepthTest)
	hashWriteBool(h, s.DepthWrite)
	hashWriteBool(h, s.Wireframe)
	hashWriteUint32(h, uint32(s.ColorFormat))
	hashWriteUint32(h, uint32(s.DepthFormat))
	hashWriteUint32(h, s.SampleCount)
	return h.Sum64()
}

// Flags returns the enabled feature flags in fixed order.
func (s Setup) Flags() []string {
	var flags []string
	for _, f := range features {
		if *f.field(&s) {
			flags = append(flags, f.name)
		}
	}
	return flags
}

// SetFlag enables the named feature flag.
func (s *Setup) SetFlag(name string) error {
	for _, f := range features {
		if f.name == name {
			*f.field(s) = true
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

var features = []struct {
	name  string
	field func(*Setup) *bool
}{
	{"two-sided", func(s *Setup) *bool { return &s.TwoSided }},
	{"alpha-blend", func(s *Setup) *bool { return &s.AlphaBlend }},
	{"depth-test", func(s *Setup) *bool { return &s.DepthTest }},
	{"depth-write", func(s *Setup) *bool { return &s.DepthWrite }},
	{"wireframe", func(s *Setup) *bool { return &s.Wireframe }},
}

// String returns the canonical description of s, e.g.
//
//	opaque layout=position+normal+uv0 flags=depth-test|depth-write color=BGRA8Unorm depth=Depth24PlusStencil8 samples=1
func (s Setup) String() string {
	s = s.Normalized()
	flags := strings.Join(s.Flags(), "|")
	if flags == "" {
		flags = "none"
	}
	return fmt.Sprintf("%s layout=%s flags=%s color=%s depth=%s samples=%d",
		s.Pass, s.Layout, flags, s.ColorFormat, s.DepthFormat, s.SampleCount)
}

// Key addresses one technique: a graph compiled under one setup.
// Keys are compared field-wise; build them with NewKey so equivalent setups
// land on the same key.
type Key struct {
	Graph graph.GraphID
	Setup Setup
}

// NewKey returns the key for id and the normalized s.
func NewKey(id graph.GraphID, s Setup) Key {
	return Key{Graph: id, Setup: s.Normalized()}
}

// Hash combines the graph id with the setup hash.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	hashWriteString(h, string(k.Graph))
	hashWriteUint64(h, k.Setup.Hash())
	return h.Sum64()
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%016x", k.Graph, k.Setup.Hash())
}

var knownFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatUndefined,
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatRGBA16Float,
	gputypes.TextureFormatRGBA32Float,
	gputypes.TextureFormatDepth16Unorm,
	gputypes.TextureFormatDepth24Plus,
	gputypes.TextureFormatDepth24PlusStencil8,
	gputypes.TextureFormatDepth32Float,
	gputypes.TextureFormatDepth32FloatStencil8,
}

// ParseTextureFormat accepts the gputypes names of the common color and
// depth target formats, case-insensitively.
func ParseTextureFormat(s string) (gputypes.TextureFormat, error) {
	for _, f := range knownFormats {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ParsePass parses a pass name.
func ParsePass(s string) (graph.PassType, error) {
	return graph.ParsePass(s)
}
