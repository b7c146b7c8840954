package engine

import (
	"context"
	"errors"
	"fmt"
)

// Engine executes the WalletKit script bundle and exchanges JSON strings with it.
// Implementations are not required to be thread-safe internally but must serialize
// script interaction themselves; all methods are safe to call from any goroutine.
type Engine interface {
	// Initialize loads the script bundle and prepares the runtime. Idempotent.
	Initialize(ctx context.Context) error
	// Invoke submits a call to the script-side dispatch function. The response
	// arrives later on the Messages channel keyed by id. Invoke never waits for
	// the call to complete, only for its submission.
	Invoke(ctx context.Context, id, method string, params []byte) error
	// Messages returns the stream of script-to-native JSON strings: call
	// responses, unsolicited events, the ready handshake and diagnostics.
	// Delivery order matches the order the script side emitted them.
	Messages() <-chan string
	// Close releases the runtime. Invokes issued after Close fail with ErrClosed.
	Close() error
}

// ErrClosed is returned by an engine after Close.
var ErrClosed = errors.New("script engine is closed")

// InitError means the script bundle could not be loaded or evaluated.
// Fatal to the engine instance.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("engine init failed: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
