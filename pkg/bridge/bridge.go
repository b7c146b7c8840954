package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/engine"
)

// Bridge is the native side of the WalletKit script channel. It owns exactly one
// script engine, correlates native-issued calls with asynchronous script
// responses and fans out unsolicited events to subscribers.
//
// Call sites may run on arbitrary goroutines; the engine itself is the
// serialization boundary for actual script interaction.
type Bridge struct {
	logger     *zap.Logger
	eng        engine.Engine
	registry   *callRegistry
	dispatcher *EventDispatcher
	state      *engineState
	requests   *requestState
	diag       DiagnosticSink

	startOnce sync.Once
	startErr  error
	closed    atomic.Bool
	cancel    context.CancelFunc
}

type Option func(*Bridge)

// WithDiagnosticSink overrides the default log-based sink.
func WithDiagnosticSink(sink DiagnosticSink) Option {
	return func(b *Bridge) {
		b.diag = sink
	}
}

func New(logger *zap.Logger, eng engine.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		logger:     logger,
		eng:        eng,
		registry:   newCallRegistry(),
		dispatcher: NewEventDispatcher(logger),
		state:      newEngineState(),
		requests:   newRequestState(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.diag == nil {
		b.diag = NewLogSink(logger)
	}
	return b
}

// Start initializes the engine and launches the routing loop. Idempotent:
// a second call returns the first call's result without re-running bootstrap.
func (b *Bridge) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		b.state.markInitializing()
		if err := b.eng.Initialize(ctx); err != nil {
			b.startErr = err
			return
		}
		loopCtx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.routeLoop(loopCtx)
	})
	return b.startErr
}

// Close disposes the engine and rejects every pending call. Safe to call twice.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	err := b.eng.Close()
	b.registry.failAll(engine.ErrClosed)
	return err
}

type callOptions struct {
	timeout time.Duration
}

type CallOption func(*callOptions)

// WithTimeout bounds the whole call: submission to the engine plus the wait for
// the script-side response. There is no global
// default on purpose: interactive calls need far larger budgets than state
// queries, so every call site picks its own.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Call issues a native-to-script request and waits for the matching response.
// Cancelling ctx detaches the native continuation only; no cancellation is
// delivered to the script side and a late response is silently dropped.
func (b *Bridge) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, engine.ErrClosed
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			callsMetric.WithLabelValues(method, "encode_error").Inc()
			return nil, &EncodingError{Err: err}
		}
	}

	id := uuid.NewString()
	call := newPendingCall(id, method)
	if err := b.registry.register(call); err != nil {
		return nil, err
	}
	b.diag.Record(Diagnostic{ID: id, Method: method, Stage: StageStart, Timestamp: time.Now().UnixMilli()})

	// the timeout window opens before submission: an engine whose host has not
	// connected yet may block inside Invoke itself
	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if err := b.eng.Invoke(callCtx, id, method, raw); err != nil {
		b.registry.drop(id)
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return b.finish(call, callOutcome{err: &TimeoutError{Method: method, Timeout: o.timeout}})
		}
		callsMetric.WithLabelValues(method, "invoke_error").Inc()
		return nil, errors.Wrap(err, "invoke")
	}

	select {
	case out := <-call.done:
		return b.finish(call, out)
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			b.registry.expire(id, &TimeoutError{Method: method, Timeout: o.timeout})
			// the winner's outcome is already in flight if expire lost the race
			out := <-call.done
			return b.finish(call, out)
		}
		b.registry.drop(id)
		callsMetric.WithLabelValues(method, "canceled").Inc()
		return nil, ctx.Err()
	}
}

func (b *Bridge) finish(call *pendingCall, out callOutcome) (json.RawMessage, error) {
	stage := StageSuccess
	var message string
	switch out.err.(type) {
	case nil:
		callsMetric.WithLabelValues(call.method, "ok").Inc()
	case *RemoteError:
		callsMetric.WithLabelValues(call.method, "remote_error").Inc()
		stage, message = StageError, out.err.Error()
	case *TimeoutError:
		callsMetric.WithLabelValues(call.method, "timeout").Inc()
		stage, message = StageError, out.err.Error()
	default:
		callsMetric.WithLabelValues(call.method, "error").Inc()
		stage, message = StageError, out.err.Error()
	}
	b.diag.Record(Diagnostic{ID: call.id, Method: call.method, Stage: stage, Timestamp: time.Now().UnixMilli(), Message: message})
	return out.result, out.err
}

// AwaitReady blocks until the script environment finishes bootstrapping and
// returns the ready handshake payload.
func (b *Bridge) AwaitReady(ctx context.Context) (Ready, error) {
	return b.state.await(ctx)
}

// Ready reports the handshake payload if the script environment is ready.
func (b *Bridge) Ready() (Ready, bool) {
	return b.state.ready()
}

// Subscribe registers a native listener for broadcast events.
func (b *Bridge) Subscribe(types ...EventType) (<-chan Event, CancelFn) {
	return b.dispatcher.Subscribe(types...)
}

// SubscribeSession registers a listener for jsBridgeEvent messages scoped to an
// internal-browser session.
func (b *Bridge) SubscribeSession(sessionID string) (<-chan Event, CancelFn) {
	return b.dispatcher.SubscribeSession(sessionID)
}

// TakePendingRequest consumes a recorded connect/transaction/signData request.
// The second take for the same id fails with ErrRequestNotFound.
func (b *Bridge) TakePendingRequest(id string) (PendingRequest, error) {
	return b.requests.take(id)
}

// RestorePendingRequest puts back a request that was taken for an approve or
// reject whose script call failed, so the resolution can be retried.
func (b *Bridge) RestorePendingRequest(req PendingRequest) {
	b.requests.record(req)
}

// RecordSessionHint caches display metadata for a session. Best-effort only.
func (b *Bridge) RecordSessionHint(key string, hint SessionHint) {
	b.requests.recordHint(key, hint)
}

// SessionHint returns cached display metadata, if any survived eviction.
func (b *Bridge) SessionHint(key string) (SessionHint, bool) {
	return b.requests.hint(key)
}

// PendingCalls reports the number of in-flight native-issued calls.
func (b *Bridge) PendingCalls() int {
	return b.registry.size()
}
