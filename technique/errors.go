package technique

import (
	"errors"
	"fmt"

	"github.com/gogpu/matgraph/setup"
)

var (
	// ErrNoShaderCompiler is returned by NewCache without a shader compiler.
	// No technique could ever be produced, so this is the one fatal condition.
	ErrNoShaderCompiler = errors.New("technique: no shader compiler")

	// ErrNoGraphSource is returned by NewCache without a graph source.
	ErrNoGraphSource = errors.New("technique: no graph source")

	// ErrClosed is returned when acquiring from a closed cache.
	ErrClosed = errors.New("technique: cache closed")

	// ErrPanic wraps a panic raised while building a technique.
	ErrPanic = errors.New("technique: compilation panicked")
)

// CompileStage names the step of a compilation that failed.
type CompileStage string

// Compilation steps, in execution order.
const (
	StageSource   CompileStage = "source"
	StageGenerate CompileStage = "generate"
	StageShader   CompileStage = "shader"
	StagePipeline CompileStage = "pipeline"
)

// CompileError is a failed compilation of one technique. It is recorded on
// the technique and never replaces a published result.
type CompileError struct {
	Key   setup.Key
	Stage CompileStage
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("technique: %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// AsCompileError returns the *CompileError in err's chain, or nil.
func AsCompileError(err error) *CompileError {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
