package technique

import (
	"context"
	"time"

	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
)

// GraphSource supplies material graphs by id. The cache only reads graphs.
type GraphSource interface {
	Graph(ctx context.Context, id graph.GraphID) (*graph.Graph, error)
}

// Generator produces the shader module for one setup. *codegen.Engine
// implements it.
type Generator interface {
	Compile(g *graph.Graph, s setup.Setup) (*codegen.Result, error)
}

// ShaderBinary is the output of a shader compiler for one generated module.
type ShaderBinary struct {
	// Hash is the hash of the source the binary was compiled from.
	Hash    uint64
	Source  string
	Profile string

	// Code is the compiled binary, SPIR-V for the native backend.
	Code []byte

	// Diagnostics holds non-fatal compiler output.
	Diagnostics string
}

// ShaderCompiler turns generated shader text into a binary for a target
// profile. Implementations may block; they are only called from worker
// goroutines.
type ShaderCompiler interface {
	Compile(ctx context.Context, source, profile string) (*ShaderBinary, error)
}

// PipelineRequest is everything a pipeline factory needs for one technique.
type PipelineRequest struct {
	Key    setup.Key
	Label  string
	Shader *ShaderBinary
	Result *codegen.Result
}

// Pipeline is a native pipeline object owned by a compiled technique.
type Pipeline interface {
	// Destroy releases the native object. It is called once the renderer
	// has retired every frame that could reference it.
	Destroy()
}

// PipelineFactory creates native pipeline objects.
type PipelineFactory interface {
	CreatePipeline(ctx context.Context, req *PipelineRequest) (Pipeline, error)
}

// EpochSource reports the renderer's submission epoch. Results replaced
// while the epoch is e are released once the renderer reports e complete
// through Reclaim.
type EpochSource interface {
	Epoch() uint64
}

// Observer receives cache events. The metrics package provides a
// Prometheus implementation.
type Observer interface {
	ObserveAcquire(hit bool)
	ObserveCompile(d time.Duration, err error)
	ObservePublish(stale bool)
	ObserveBinary(hit bool)
	ObserveReclaim(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveAcquire(bool)                 {}
func (nopObserver) ObserveCompile(time.Duration, error) {}
func (nopObserver) ObservePublish(bool)                 {}
func (nopObserver) ObserveBinary(bool)                  {}
func (nopObserver) ObserveReclaim(int)                  {}
