package matgraph

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/matgraph/backend/native"
	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/technique"
)

// Option configures a Library during creation.
//
// Example:
//
//	lib, err := matgraph.New(
//	    matgraph.WithDir("materials"),
//	    matgraph.WithDevice(device),
//	    matgraph.WithMetrics(prometheus.DefaultRegisterer),
//	)
type Option func(*options)

type options struct {
	root   string
	graphs []*graph.Graph
	source technique.GraphSource

	compiler     technique.ShaderCompiler
	compilerOpts []native.CompilerOption

	device   hal.Device
	provider gpucontext.DeviceProvider

	codegen   []codegen.Option
	config    technique.Config
	epochs    technique.EpochSource
	metrics   prometheus.Registerer
	manual    bool
	broadcast bool
}

// WithDir loads graphs from YAML documents in root, one <id>.yaml file per
// graph. Only a directory depot can be watched.
func WithDir(root string) Option {
	return func(o *options) { o.root = root }
}

// WithGraphs serves the given graphs from memory. It is the default depot
// when neither WithDir nor WithSource is given.
func WithGraphs(graphs ...*graph.Graph) Option {
	return func(o *options) { o.graphs = append(o.graphs, graphs...) }
}

// WithSource serves graphs from a custom source.
func WithSource(src technique.GraphSource) Option {
	return func(o *options) { o.source = src }
}

// WithShaderCompiler sets the shader compiler. By default the compiler
// registered in package backend for the configured profile is used.
func WithShaderCompiler(sc technique.ShaderCompiler) Option {
	return func(o *options) { o.compiler = sc }
}

// WithCompilerOptions uses a naga compiler configured with opts.
func WithCompilerOptions(opts ...native.CompilerOption) Option {
	return func(o *options) { o.compilerOpts = append(o.compilerOpts, opts...) }
}

// WithDevice builds render pipelines on device. Without a device,
// techniques carry shaders only.
func WithDevice(device hal.Device) Option {
	return func(o *options) { o.device = device }
}

// WithDeviceProvider builds render pipelines on the HAL device of p.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithCodegen configures the code generation engine.
func WithCodegen(opts ...codegen.Option) Option {
	return func(o *options) { o.codegen = append(o.codegen, opts...) }
}

// WithConfig sets the technique cache tunables.
func WithConfig(cfg technique.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithEpochSource sets the renderer epoch used to retire replaced results.
func WithEpochSource(e technique.EpochSource) Option {
	return func(o *options) { o.epochs = e }
}

// WithMetrics registers Prometheus collectors for the cache with r.
func WithMetrics(r prometheus.Registerer) Option {
	return func(o *options) { o.metrics = r }
}

// WithManualReload makes reload notifications only mark techniques
// invalidated. They recompile on their next Acquire.
func WithManualReload() Option {
	return func(o *options) { o.manual = true }
}

// WithBroadcastReload makes Watch invalidate every technique on any file
// change instead of only those built from the changed documents.
func WithBroadcastReload() Option {
	return func(o *options) { o.broadcast = true }
}
