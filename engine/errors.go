package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("engine: not initialized")
	ErrAlreadyInitialized = errors.New("engine: already initialized")
	ErrClosed             = errors.New("engine: closed")
	ErrUnknownShred       = errors.New("engine: unknown shred")
	ErrInvalidParams      = errors.New("engine: invalid parameters")
	ErrAudioRunning       = errors.New("engine: audio thread already running")
)

// CompileError describes malformed shred source. Compile errors are an
// expected outcome of live coding, not an engine fault.
type CompileError struct {
	Name    string
	Line    int
	Column  int
	Message string
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("[%s]: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("[%s]:line(%d).char(%d): %s", e.Name, e.Line, e.Column, e.Message)
}
