package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState is returned when a lifecycle call is not allowed
	// from the connection's current state. The state is left unchanged.
	ErrIllegalState = errors.New("illegal state")

	// ErrResourceUnavailable is returned when a pool is exhausted.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrModeNotSupported is returned for unknown modes and for modes whose
	// activation was rejected by format negotiation.
	ErrModeNotSupported = errors.New("mode not supported")

	// ErrCodecsNotNegotiated is returned when no audio or video format
	// offered by the peer can be used.
	ErrCodecsNotNegotiated = errors.New("codecs not negotiated")

	// ErrUnknownCheckPoint is returned for checkpoint ids outside 1-10.
	ErrUnknownCheckPoint = errors.New("unknown checkpoint")
)

// ModeError reports a rejected mode. It matches ErrModeNotSupported
// with errors.Is and unwraps to the underlying cause.
type ModeError struct {
	Mode Mode
	Err  error
}

func (e *ModeError) Error() string {
	if e.Mode < 0 {
		return fmt.Sprintf("%s: %v", ErrModeNotSupported, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrModeNotSupported, e.Mode, e.Err)
}

func (e *ModeError) Is(target error) bool {
	return target == ErrModeNotSupported
}

func (e *ModeError) Unwrap() error {
	return e.Err
}

func illegalState(op string, s State) error {
	return fmt.Errorf("%w: %s from %s", ErrIllegalState, op, s)
}
