package graph

import (
	"errors"
	"fmt"
)

// Structural errors. A *StructuralError matches its sentinel via errors.Is.
var (
	// ErrCycle is returned when a cycle is reachable from a requested output.
	ErrCycle = errors.New("graph: cycle detected")

	// ErrDanglingSocket is returned when a consumed input socket has no producer.
	ErrDanglingSocket = errors.New("graph: dangling input socket")

	// ErrTypeMismatch is returned when a producer's type cannot feed an input.
	ErrTypeMismatch = errors.New("graph: type mismatch")

	// ErrUnknownBlock is returned when a block id is not part of the graph.
	ErrUnknownBlock = errors.New("graph: unknown block")

	// ErrUnknownSocket is returned when a block has no socket with the given name.
	ErrUnknownSocket = errors.New("graph: unknown socket")

	// ErrSocketOccupied is returned when connecting to an input that already
	// has a producer.
	ErrSocketOccupied = errors.New("graph: input socket already connected")

	// ErrDuplicateBlock is returned when adding a block whose id is taken.
	ErrDuplicateBlock = errors.New("graph: duplicate block id")

	// ErrNoOutput is returned when no output block is designated for a pass.
	ErrNoOutput = errors.New("graph: no output block for pass")

	// ErrNotOutput is returned when designating a non-output block as output.
	ErrNotOutput = errors.New("graph: block is not an output block")

	// ErrResourceConflict is returned when two parameters share a name but
	// disagree on type.
	ErrResourceConflict = errors.New("graph: conflicting resource declaration")

	// ErrInvalidBlock is returned for a block whose own configuration is
	// unusable (unknown op, bad swizzle mask, missing vertex attribute).
	ErrInvalidBlock = errors.New("graph: invalid block")
)

// StructuralError reports a graph problem localized to one block and,
// where relevant, one socket.
type StructuralError struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Block is the offending block.
	Block BlockID

	// Socket is the offending socket name, empty if not socket-specific.
	Socket string

	// Detail is additional human readable context.
	Detail string
}

func (e *StructuralError) Error() string {
	msg := e.Kind.Error()
	if e.Socket != "" {
		msg = fmt.Sprintf("%s at %s.%s", msg, e.Block, e.Socket)
	} else if e.Block != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Block)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StructuralError) Unwrap() error { return e.Kind }

// Errorf builds a StructuralError with a formatted detail message.
func Errorf(kind error, block BlockID, socket, format string, a ...any) *StructuralError {
	return &StructuralError{Kind: kind, Block: block, Socket: socket, Detail: fmt.Sprintf(format, a...)}
}

// AsStructural returns the *StructuralError in err's chain, or nil.
func AsStructural(err error) *StructuralError {
	var se *StructuralError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
