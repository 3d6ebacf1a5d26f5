package depot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/matgraph/graph"
)

var (
	// ErrNotFound is returned for an unknown graph id.
	ErrNotFound = errors.New("depot: graph not found")

	// ErrUnknownKind is returned for a block kind with no decoder.
	ErrUnknownKind = errors.New("depot: unknown block kind")

	// ErrInvalidDocument is returned for a malformed graph document.
	ErrInvalidDocument = errors.New("depot: invalid graph document")
)

// Document is the YAML form of a material graph.
//
//	id: rock
//	blocks:
//	  - {id: out, kind: opaque_output}
//	  - {id: rough, kind: scalar_parameter, name: Roughness, value: [0.5]}
//	connections:
//	  - {from: rough.Value, to: out.Roughness}
//	outputs: [out]
type Document struct {
	ID          string          `yaml:"id"`
	Blocks      []BlockDoc      `yaml:"blocks"`
	Connections []ConnectionDoc `yaml:"connections,omitempty"`
	Outputs     []string        `yaml:"outputs,omitempty"`
}

// BlockDoc holds the fields of every built-in block kind. Each kind reads
// the fields it needs.
type BlockDoc struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`

	Name      string    `yaml:"name,omitempty"`
	Type      string    `yaml:"type,omitempty"`
	Value     []float32 `yaml:"value,omitempty,flow"`
	Op        string    `yaml:"op,omitempty"`
	Mask      string    `yaml:"mask,omitempty"`
	Attribute string    `yaml:"attribute,omitempty"`
}

// ConnectionDoc is one connection written as "block.socket" pairs.
type ConnectionDoc struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// BlockDecoder builds a block from its document form.
type BlockDecoder func(d BlockDoc) (graph.Block, error)

var decodersMu sync.RWMutex

var decoders = map[string]BlockDecoder{
	graph.KindScalarParameter:   decodeScalarParameter,
	graph.KindVectorParameter:   decodeVectorParameter,
	graph.KindTextureParameter:  decodeTextureParameter,
	graph.KindConstant:          decodeConstant,
	graph.KindMath:              decodeMath,
	graph.KindSwizzle:           decodeSwizzle,
	graph.KindCombine:           decodeCombine,
	graph.KindVertexAttribute:   decodeVertexAttribute,
	graph.KindOpaqueOutput:      decodeOpaqueOutput,
	graph.KindUnlitOutput:       decodeUnlitOutput,
	graph.KindTransparentOutput: decodeTransparentOutput,
}

// RegisterKind adds or replaces the decoder for a block kind.
func RegisterKind(kind string, dec BlockDecoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[kind] = dec
}

// Kinds returns the registered block kinds, sorted.
func Kinds() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	kinds := make([]string, 0, len(decoders))
	for k := range decoders {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Decode reads one document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}

// Parse decodes data and builds the graph.
func Parse(data []byte) (*graph.Graph, error) {
	doc, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// Build creates the graph the document describes.
func (d *Document) Build() (*graph.Graph, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	g := graph.New(graph.GraphID(d.ID))

	decodersMu.RLock()
	defer decodersMu.RUnlock()
	for i, bd := range d.Blocks {
		if bd.ID == "" {
			return nil, fmt.Errorf("%w: block %d has no id", ErrInvalidDocument, i)
		}
		dec, ok := decoders[bd.Kind]
		if !ok {
			return nil, fmt.Errorf("%w %q (block %s)", ErrUnknownKind, bd.Kind, bd.ID)
		}
		b, err := dec(bd)
		if err != nil {
			return nil, fmt.Errorf("depot: block %s: %w", bd.ID, err)
		}
		if err := g.AddBlock(b); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Connections {
		from, err := parseRef(c.From)
		if err != nil {
			return nil, err
		}
		to, err := parseRef(c.To)
		if err != nil {
			return nil, err
		}
		if err := g.Connect(from.Block, from.Socket, to.Block, to.Socket); err != nil {
			return nil, err
		}
	}
	for _, id := range d.Outputs {
		if err := g.SetOutput(graph.BlockID(id)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func parseRef(s string) (graph.SocketRef, error) {
	block, socket, ok := strings.Cut(s, ".")
	if !ok || block == "" || socket == "" {
		return graph.SocketRef{}, fmt.Errorf("%w: socket reference %q is not block.socket", ErrInvalidDocument, s)
	}
	return graph.SocketRef{Block: graph.BlockID(block), Socket: socket}, nil
}

// Encode writes g as a document. Only built-in block kinds are supported.
func Encode(w io.Writer, g *graph.Graph) error {
	doc, err := FromGraph(g)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("depot: encode %s: %w", g.ID(), err)
	}
	return enc.Close()
}

// FromGraph converts g into its document form.
func FromGraph(g *graph.Graph) (*Document, error) {
	doc := &Document{ID: string(g.ID())}
	for _, b := range g.Blocks() {
		bd, err := encodeBlock(b)
		if err != nil {
			return nil, err
		}
		doc.Blocks = append(doc.Blocks, bd)
	}
	for _, c := range g.Connections() {
		doc.Connections = append(doc.Connections, ConnectionDoc{From: c.From.String(), To: c.To.String()})
	}
	for _, id := range g.Outputs() {
		doc.Outputs = append(doc.Outputs, string(id))
	}
	return doc, nil
}

func encodeBlock(b graph.Block) (BlockDoc, error) {
	bd := BlockDoc{ID: string(b.ID()), Kind: b.Kind()}
	switch b := b.(type) {
	case *graph.ScalarParameter:
		bd.Name = b.Name
		bd.Value = []float32{b.Default}
	case *graph.VectorParameter:
		bd.Name = b.Name
		bd.Type = b.Type.String()
		bd.Value = slices.Clone(b.Default[:b.Type.Components()])
	case *graph.TextureParameter:
		bd.Name = b.Name
	case *graph.Constant:
		bd.Type = b.Type.String()
		bd.Value = slices.Clone(b.Value[:b.Type.Components()])
	case *graph.Math:
		bd.Op = string(b.Op)
	case *graph.Swizzle:
		bd.Mask = b.Mask
	case *graph.VertexAttribute:
		bd.Attribute = b.Attr.String()
	case *graph.Combine, *graph.OpaqueOutput, *graph.UnlitOutput, *graph.TransparentOutput:
	default:
		return bd, fmt.Errorf("%w %q (block %s)", ErrUnknownKind, bd.Kind, bd.ID)
	}
	return bd, nil
}

func valueType(d BlockDoc, def graph.ValueType) (graph.ValueType, error) {
	if d.Type == "" {
		return def, nil
	}
	t, err := graph.ParseValueType(d.Type)
	if err != nil {
		return graph.TypeInvalid, err
	}
	if !t.IsNumeric() {
		return graph.TypeInvalid, fmt.Errorf("%w: type %s is not numeric", ErrInvalidDocument, t)
	}
	return t, nil
}

func vector(v []float32) (out [4]float32) {
	copy(out[:], v)
	return out
}

func decodeScalarParameter(d BlockDoc) (graph.Block, error) {
	p := &graph.ScalarParameter{BlockID: graph.BlockID(d.ID), Name: d.Name}
	if len(d.Value) > 0 {
		p.Default = d.Value[0]
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: parameter without a name", ErrInvalidDocument)
	}
	return p, nil
}

func decodeVectorParameter(d BlockDoc) (graph.Block, error) {
	t, err := valueType(d, graph.TypeFloat4)
	if err != nil {
		return nil, err
	}
	if d.Name == "" {
		return nil, fmt.Errorf("%w: parameter without a name", ErrInvalidDocument)
	}
	return &graph.VectorParameter{BlockID: graph.BlockID(d.ID), Name: d.Name, Type: t, Default: vector(d.Value)}, nil
}

func decodeTextureParameter(d BlockDoc) (graph.Block, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: texture without a name", ErrInvalidDocument)
	}
	return &graph.TextureParameter{BlockID: graph.BlockID(d.ID), Name: d.Name}, nil
}

func decodeConstant(d BlockDoc) (graph.Block, error) {
	t, err := valueType(d, graph.VectorOf(max(1, len(d.Value))))
	if err != nil {
		return nil, err
	}
	return &graph.Constant{BlockID: graph.BlockID(d.ID), Type: t, Value: vector(d.Value)}, nil
}

func decodeMath(d BlockDoc) (graph.Block, error) {
	op := graph.MathOp(d.Op)
	if !slices.Contains(graph.MathOps(), op) {
		return nil, fmt.Errorf("%w: math op %q", ErrInvalidDocument, d.Op)
	}
	return &graph.Math{BlockID: graph.BlockID(d.ID), Op: op}, nil
}

func decodeSwizzle(d BlockDoc) (graph.Block, error) {
	return &graph.Swizzle{BlockID: graph.BlockID(d.ID), Mask: d.Mask}, nil
}

func decodeCombine(d BlockDoc) (graph.Block, error) {
	return &graph.Combine{BlockID: graph.BlockID(d.ID)}, nil
}

func decodeVertexAttribute(d BlockDoc) (graph.Block, error) {
	a, err := graph.ParseAttribute(d.Attribute)
	if err != nil {
		return nil, err
	}
	return &graph.VertexAttribute{BlockID: graph.BlockID(d.ID), Attr: a}, nil
}

func decodeOpaqueOutput(d BlockDoc) (graph.Block, error) {
	return &graph.OpaqueOutput{BlockID: graph.BlockID(d.ID)}, nil
}

func decodeUnlitOutput(d BlockDoc) (graph.Block, error) {
	return &graph.UnlitOutput{BlockID: graph.BlockID(d.ID)}, nil
}

func decodeTransparentOutput(d BlockDoc) (graph.Block, error) {
	return &graph.TransparentOutput{BlockID: graph.BlockID(d.ID)}, nil
}
