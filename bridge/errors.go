package bridge

import (
	"errors"
	"fmt"

	"github.com/chazu/shredctl/engine"
)

// Error taxonomy. Every error returned by the bridge wraps exactly one of
// these; match with errors.Is. Compile failures are not errors.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotReady        = errors.New("not ready")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrInit            = errors.New("init error")
	ErrShutdown        = errors.New("shutdown error")
)

var faultCodes = map[string]error{
	"InvalidArgument": ErrInvalidArgument,
	"NotReady":        ErrNotReady,
	"NotFound":        ErrNotFound,
	"Timeout":         ErrTimeout,
	"InitError":       ErrInit,
	"ShutdownError":   ErrShutdown,
}

// Code returns the taxonomy name of err, or "Internal" if err does not
// wrap a taxonomy sentinel.
func Code(err error) string {
	for code, sentinel := range faultCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "Internal"
}

// Fault is the explicit failure shape of a command. It survives
// serialization: a decoded Fault still matches its sentinel with
// errors.Is.
type Fault struct {
	Op      Op     `cbor:"op" json:"op"`
	Code    string `cbor:"code" json:"code"`
	Message string `cbor:"message" json:"message"`

	err error
}

func newFault(op Op, err error) *Fault {
	return &Fault{Op: op, Code: Code(err), Message: err.Error(), err: err}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Op, f.Message)
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.err
}

// Is matches the taxonomy sentinel named by Code.
func (f *Fault) Is(target error) bool {
	if f == nil {
		return false
	}
	sentinel, ok := faultCodes[f.Code]
	return ok && sentinel == target
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// vmError maps an engine error onto the taxonomy.
func vmError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrUnknownShred):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, engine.ErrNotInitialized), errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case errors.Is(err, engine.ErrInvalidParams):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return err
}
