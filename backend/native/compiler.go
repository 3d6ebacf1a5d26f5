// Package native builds shader binaries and render pipelines for compiled
// material techniques on top of gogpu/naga and the gogpu/wgpu HAL.
package native

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/matgraph/backend"
	"github.com/gogpu/matgraph/technique"
)

func init() {
	factory := func() technique.ShaderCompiler { return NewSPIRVCompiler() }
	backend.Register(ProfileSPIRV, factory)
	backend.Register(ProfileWGSL, factory)
}

// Shader profiles.
const (
	// ProfileSPIRV compiles WGSL to SPIR-V with naga.
	ProfileSPIRV = "spirv"

	// ProfileWGSL passes the WGSL text through for backends that consume
	// it directly.
	ProfileWGSL = "wgsl"
)

// CompilerOption configures a SPIRVCompiler.
type CompilerOption func(*naga.CompileOptions)

// WithValidation enables IR validation before SPIR-V generation. It is on
// by default.
func WithValidation(on bool) CompilerOption {
	return func(o *naga.CompileOptions) { o.Validate = on }
}

// WithDebugInfo emits debug names into the binary.
func WithDebugInfo(on bool) CompilerOption {
	return func(o *naga.CompileOptions) { o.Debug = on }
}

// WithSPIRVVersion sets the target SPIR-V version.
func WithSPIRVVersion(v spirv.Version) CompilerOption {
	return func(o *naga.CompileOptions) { o.SPIRVVersion = v }
}

// SPIRVCompiler implements technique.ShaderCompiler with naga.
//
// SPIRVCompiler is stateless and safe for concurrent use.
type SPIRVCompiler struct {
	opts naga.CompileOptions
}

var _ technique.ShaderCompiler = (*SPIRVCompiler)(nil)

// NewSPIRVCompiler creates a compiler with naga's default options.
func NewSPIRVCompiler(opts ...CompilerOption) *SPIRVCompiler {
	o := naga.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SPIRVCompiler{opts: o}
}

// Compile translates source for profile. naga does not support
// cancellation, so ctx is only checked before starting.
func (c *SPIRVCompiler) Compile(ctx context.Context, source, profile string) (*technique.ShaderBinary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch profile {
	case ProfileWGSL:
		return &technique.ShaderBinary{Source: source, Profile: profile, Code: []byte(source)}, nil
	case ProfileSPIRV, "":
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProfile, profile)
	}

	start := time.Now()
	code, err := naga.CompileWithOptions(source, c.opts)
	if err != nil {
		return nil, fmt.Errorf("native: naga: %w", err)
	}
	slogger().Debug("native: compiled shader",
		"bytes", len(code), "elapsed", time.Since(start))
	return &technique.ShaderBinary{Source: source, Profile: ProfileSPIRV, Code: code}, nil
}

// spirvWords reinterprets a little-endian SPIR-V byte stream as words.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: SPIR-V length %d is not a positive multiple of 4", ErrInvalidBinary, len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		b := code[i*4:]
		words[i] = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: bad SPIR-V magic 0x%08x", ErrInvalidBinary, words[0])
	}
	return words, nil
}

const spirvMagic = 0x07230203
