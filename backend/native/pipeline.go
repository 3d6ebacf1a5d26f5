package native

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/technique"
)

// RenderPipeline is the native pipeline of one compiled technique. It owns
// its shader module, pipeline layout and render pipeline. Bind group
// layouts are shared and owned by the factory.
type RenderPipeline struct {
	device hal.Device
	label  string

	module hal.ShaderModule
	layout hal.PipelineLayout
	raw    hal.RenderPipeline

	// BindGroupLayouts is indexed by bind group.
	bindGroupLayouts []hal.BindGroupLayout

	destroyed atomic.Bool
}

// Raw returns the HAL render pipeline.
func (p *RenderPipeline) Raw() hal.RenderPipeline { return p.raw }

// Label returns the debug label.
func (p *RenderPipeline) Label() string { return p.label }

// BindGroupLayout returns the layout of bind group i, or nil.
func (p *RenderPipeline) BindGroupLayout(i uint32) hal.BindGroupLayout {
	if int(i) >= len(p.bindGroupLayouts) {
		return nil
	}
	return p.bindGroupLayouts[i]
}

// IsDestroyed reports whether Destroy was called.
func (p *RenderPipeline) IsDestroyed() bool { return p.destroyed.Load() }

// Destroy releases the pipeline's HAL objects. Calling it again is a no-op.
func (p *RenderPipeline) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	if p.raw != nil {
		p.device.DestroyRenderPipeline(p.raw)
	}
	if p.layout != nil {
		p.device.DestroyPipelineLayout(p.layout)
	}
	if p.module != nil {
		p.device.DestroyShaderModule(p.module)
	}
	slogger().Debug("native: pipeline destroyed", "label", p.label)
}

// PipelineFactory implements technique.PipelineFactory on a HAL device.
//
// PipelineFactory is safe for concurrent use.
type PipelineFactory struct {
	device  hal.Device
	layouts *layoutCache

	mu     sync.RWMutex
	closed bool

	created atomic.Uint64
}

var _ technique.PipelineFactory = (*PipelineFactory)(nil)

// NewPipelineFactory creates a factory building pipelines on device.
func NewPipelineFactory(device hal.Device) (*PipelineFactory, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	return &PipelineFactory{device: device, layouts: newLayoutCache()}, nil
}

// NewPipelineFactoryFromProvider creates a factory on the device of a host
// application. The provider must expose a hal.Device either through
// HalDevice() or directly from Device().
func NewPipelineFactoryFromProvider(p gpucontext.DeviceProvider) (*PipelineFactory, error) {
	if p == nil {
		return nil, ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
	}
	if hp, ok := p.(halProvider); ok {
		if d, ok := hp.HalDevice().(hal.Device); ok && d != nil {
			return NewPipelineFactory(d)
		}
	}
	if d, ok := p.Device().(hal.Device); ok && d != nil {
		return NewPipelineFactory(d)
	}
	return nil, ErrNoHALDevice
}

// CreatePipeline builds the pipeline for one compiled technique.
func (f *PipelineFactory) CreatePipeline(ctx context.Context, req *technique.PipelineRequest) (technique.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Shader == nil || req.Result == nil {
		return nil, fmt.Errorf("%w: incomplete pipeline request", ErrInvalidBinary)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrFactoryClosed
	}

	src, err := shaderSource(req.Shader)
	if err != nil {
		return nil, err
	}
	res := req.Result

	groups, err := f.bindGroupLayouts(req.Label, &res.Layout)
	if err != nil {
		return nil, fmt.Errorf("native: %s: bind group layout: %w", req.Label, err)
	}

	p := &RenderPipeline{device: f.device, label: req.Label, bindGroupLayouts: groups}
	fail := func(what string, err error) (technique.Pipeline, error) {
		p.Destroy()
		return nil, fmt.Errorf("native: %s: %s: %w", req.Label, what, err)
	}

	p.module, err = f.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: req.Label, Source: src})
	if err != nil {
		return fail("shader module", err)
	}
	p.layout, err = f.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            req.Label,
		BindGroupLayouts: groups,
	})
	if err != nil {
		return fail("pipeline layout", err)
	}
	p.raw, err = f.device.CreateRenderPipeline(renderPipelineDescriptor(req.Label, p.layout, p.module, res))
	if err != nil {
		return fail("render pipeline", err)
	}

	f.created.Add(1)
	slogger().Debug("native: pipeline created",
		"label", req.Label, "groups", len(groups), "profile", req.Shader.Profile)
	return p, nil
}

// bindGroupLayouts returns one layout per bind group up to the material
// group. Group 0 is the frame group; unused groups get an empty layout.
func (f *PipelineFactory) bindGroupLayouts(label string, l *codegen.Layout) ([]hal.BindGroupLayout, error) {
	group := max(l.Group, 1)
	out := make([]hal.BindGroupLayout, group+1)
	var err error
	for i := range out {
		var entries []gputypes.BindGroupLayoutEntry
		switch uint32(i) {
		case codegen.FrameGroup:
			entries = codegen.FrameBindGroupLayoutEntries()
		case group:
			entries = l.BindGroupLayoutEntries()
		}
		out[i], err = f.layouts.getOrCreate(f.device, fmt.Sprintf("%s/group%d", label, i), entries)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func shaderSource(bin *technique.ShaderBinary) (hal.ShaderSource, error) {
	if bin.Profile == ProfileWGSL {
		return hal.ShaderSource{WGSL: bin.Source}, nil
	}
	words, err := spirvWords(bin.Code)
	if err != nil {
		return hal.ShaderSource{}, err
	}
	return hal.ShaderSource{SPIRV: words}, nil
}

func renderPipelineDescriptor(label string, layout hal.PipelineLayout, module hal.ShaderModule, res *codegen.Result) *hal.RenderPipelineDescriptor {
	rs := res.RenderState
	desc := &hal.RenderPipelineDescriptor{
		Label:  label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: codegen.VertexEntry,
			Buffers:    res.Setup.Layout.Buffers(),
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  rs.Topology,
			FrontFace: rs.FrontFace,
			CullMode:  rs.CullMode,
		},
		Multisample: gputypes.MultisampleState{
			Count: max(rs.SampleCount, 1),
			Mask:  0xFFFFFFFF,
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: codegen.FragmentEntry,
			Targets: []gputypes.ColorTargetState{{
				Format:    rs.ColorFormat,
				Blend:     rs.Blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	}
	if rs.HasDepth() {
		stencil := hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways}
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            rs.DepthFormat,
			DepthWriteEnabled: rs.DepthWrite,
			DepthCompare:      rs.DepthCompare,
			StencilFront:      stencil,
			StencilBack:       stencil,
			StencilReadMask:   0xFFFFFFFF,
			StencilWriteMask:  0xFFFFFFFF,
		}
	}
	return desc
}

// Stats returns the number of pipelines created and the bind group layout
// cache hits and misses.
func (f *PipelineFactory) Stats() (pipelines, layoutHits, layoutMisses uint64) {
	return f.created.Load(), f.layouts.hits.Load(), f.layouts.misses.Load()
}

// Close destroys the shared bind group layouts. Pipelines created by the
// factory must be destroyed first.
func (f *PipelineFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.layouts.destroyAll(f.device)
}
