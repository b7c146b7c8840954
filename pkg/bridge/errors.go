package bridge

import (
	"errors"
	"fmt"
	"time"
)

// ErrRequestNotFound means an approve/reject referenced a request id that was
// never recorded or has already been consumed. Callers should treat it as
// "already handled elsewhere", not as a bridge failure.
var ErrRequestNotFound = errors.New("pending request not found")

// RemoteError means the script side explicitly reported failure for a call.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("script error: %v", e.Message)
}

// TimeoutError means no response arrived within the call's configured window.
// The script side may still be processing; its late response is discarded.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call '%v' timed out after %v", e.Method, e.Timeout)
}

// EncodingError means call params could not be serialized. Local only, never
// crosses the boundary.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode call params: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
