package server

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/shredctl/bridge"
)

// connectError wraps a bridge error with the matching Connect code.
func connectError(err error) *connect.Error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, bridge.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, bridge.ErrNotReady):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, bridge.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, bridge.ErrTimeout):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, bridge.ErrInit):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}

// bridgeError maps a Connect error received by a client back onto the
// bridge taxonomy so callers can keep using errors.Is. Codes with no
// taxonomy equivalent are returned unchanged.
func bridgeError(err error) error {
	var sentinel error
	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument:
		sentinel = bridge.ErrInvalidArgument
	case connect.CodeFailedPrecondition:
		sentinel = bridge.ErrNotReady
	case connect.CodeNotFound:
		sentinel = bridge.ErrNotFound
	case connect.CodeDeadlineExceeded:
		sentinel = bridge.ErrTimeout
	default:
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
