package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v2"
)

type callOutcome struct {
	result json.RawMessage
	err    error
}

// pendingCall is a native-issued request awaiting a script-side response.
// Exactly one outcome is ever delivered to done; the registry's atomic
// remove-and-check guarantees a single winner between resolve, fail and expire.
type pendingCall struct {
	id        string
	method    string
	createdAt time.Time
	done      chan callOutcome // capacity 1
}

func newPendingCall(id, method string) *pendingCall {
	return &pendingCall{
		id:        id,
		method:    method,
		createdAt: time.Now(),
		done:      make(chan callOutcome, 1),
	}
}

// callRegistry is a thread-safe id -> continuation map shared between the
// calling goroutines and the engine's delivery goroutine.
type callRegistry struct {
	calls *xsync.MapOf[string, *pendingCall]
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: xsync.NewMapOf[*pendingCall]()}
}

func (r *callRegistry) register(c *pendingCall) error {
	if _, loaded := r.calls.LoadOrStore(c.id, c); loaded {
		return fmt.Errorf("duplicate call id '%v'", c.id)
	}
	return nil
}

// take removes the entry. A miss is not an error: a response may legitimately
// arrive after a timeout or cancellation already dropped the entry.
func (r *callRegistry) take(id string) (*pendingCall, bool) {
	return r.calls.LoadAndDelete(id)
}

func (r *callRegistry) resolve(id string, result json.RawMessage) bool {
	c, ok := r.take(id)
	if !ok {
		return false
	}
	c.done <- callOutcome{result: result}
	return true
}

func (r *callRegistry) fail(id string, err error) bool {
	c, ok := r.take(id)
	if !ok {
		return false
	}
	c.done <- callOutcome{err: err}
	return true
}

// expire rejects the entry with the given error only if it is still present.
// Losing the race to resolve/fail leaves the winner's outcome in place.
func (r *callRegistry) expire(id string, err error) {
	r.fail(id, err)
}

// drop detaches the continuation without delivering an outcome. Used on
// native-side cancellation; no cancel is sent to the script side.
func (r *callRegistry) drop(id string) {
	r.take(id)
}

// failAll rejects every pending call. Used when the engine is disposed.
func (r *callRegistry) failAll(err error) {
	r.calls.Range(func(id string, _ *pendingCall) bool {
		r.fail(id, err)
		return true
	})
}

func (r *callRegistry) size() int {
	return r.calls.Size()
}
