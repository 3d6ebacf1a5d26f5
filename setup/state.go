package setup

import (
	"encoding/binary"
	"hash"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/graph"
)

// RenderState is the fixed-function pipeline state of a technique.
type RenderState struct {
	Topology  gputypes.PrimitiveTopology
	FrontFace gputypes.FrontFace
	CullMode  gputypes.CullMode

	// Blend is nil for opaque output.
	Blend *gputypes.BlendState

	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	ColorFormat gputypes.TextureFormat

	// DepthFormat is TextureFormatUndefined when the pipeline has no
	// depth-stencil state.
	DepthFormat gputypes.TextureFormat

	SampleCount uint32
}

// Override returns the render state fields s forces on every technique.
func (s Setup) Override() graph.RenderStateOverride {
	cull := gputypes.CullModeBack
	if s.TwoSided {
		cull = gputypes.CullModeNone
	}
	var o graph.RenderStateOverride
	o.CullMode = &cull
	if s.AlphaBlend {
		blend := gputypes.BlendStateAlpha()
		o.Blend = &blend
	}
	return o
}

// RenderState returns the pipeline state derived from s alone.
func (s Setup) RenderState() RenderState {
	s = s.Normalized()
	rs := RenderState{
		Topology:     gputypes.PrimitiveTopologyTriangleList,
		FrontFace:    gputypes.FrontFaceCCW,
		CullMode:     gputypes.CullModeBack,
		DepthWrite:   s.DepthWrite,
		DepthCompare: gputypes.CompareFunctionAlways,
		ColorFormat:  s.ColorFormat,
		DepthFormat:  s.DepthFormat,
		SampleCount:  s.SampleCount,
	}
	if s.DepthTest {
		rs.DepthCompare = gputypes.CompareFunctionLessEqual
	}
	if s.Wireframe {
		rs.Topology = gputypes.PrimitiveTopologyLineList
	}
	return rs.Apply(s.Override())
}

// Apply returns rs with every non-nil field of o applied.
func (rs RenderState) Apply(o graph.RenderStateOverride) RenderState {
	if o.CullMode != nil {
		rs.CullMode = *o.CullMode
	}
	if o.Blend != nil {
		b := *o.Blend
		rs.Blend = &b
	}
	if o.DepthWrite != nil {
		rs.DepthWrite = *o.DepthWrite && rs.DepthFormat.HasDepth()
	}
	if o.DepthCompare != nil {
		rs.DepthCompare = *o.DepthCompare
	}
	return rs
}

// HasDepth reports whether the pipeline carries a depth-stencil state.
func (rs RenderState) HasDepth() bool {
	return rs.DepthFormat != gputypes.TextureFormatUndefined
}

// WriteHash feeds every field of the state into h.
func (rs RenderState) WriteHash(h hash.Hash64) {
	hashWriteUint32(h, uint32(rs.Topology))
	hashWriteUint32(h, uint32(rs.FrontFace))
	hashWriteUint32(h, uint32(rs.CullMode))
	if rs.Blend != nil {
		hashWriteBool(h, true)
		hashWriteUint32(h, uint32(rs.Blend.Color.SrcFactor))
		hashWriteUint32(h, uint32(rs.Blend.Color.DstFactor))
		hashWriteUint32(h, uint32(rs.Blend.Color.Operation))
		hashWriteUint32(h, uint32(rs.Blend.Alpha.SrcFactor))
		hashWriteUint32(h, uint32(rs.Blend.Alpha.DstFactor))
		hashWriteUint32(h, uint32(rs.Blend.Alpha.Operation))
	} else {
		hashWriteBool(h, false)
	}
	hashWriteBool(h, rs.DepthWrite)
	hashWriteUint32(h, uint32(rs.DepthCompare))
	hashWriteUint32(h, uint32(rs.ColorFormat))
	hashWriteUint32(h, uint32(rs.DepthFormat))
	hashWriteUint32(h, rs.SampleCount)
}

// hashWriteUint32 writes a uint32 to the hash.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteUint64 writes a uint64 to the hash.
func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteString writes a length-prefixed string to the hash.
//
//nolint:gosec // G115: graph ids are short
func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

// hashWriteBool writes a bool to the hash.
func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
