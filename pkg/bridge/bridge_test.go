package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/engine"
)

// fakeEngine is an in-memory engine scripted by tests.
type fakeEngine struct {
	mu       sync.Mutex
	messages chan string
	invoked  []invocation
	closed   bool
	initErr  error
	onInvoke func(id, method string, params []byte)
}

type invocation struct {
	id     string
	method string
	params []byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{messages: make(chan string, 64)}
}

func (f *fakeEngine) Initialize(ctx context.Context) error {
	return f.initErr
}

func (f *fakeEngine) Invoke(ctx context.Context, id, method string, params []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return engine.ErrClosed
	}
	f.invoked = append(f.invoked, invocation{id: id, method: method, params: params})
	onInvoke := f.onInvoke
	f.mu.Unlock()
	if onInvoke != nil {
		onInvoke(id, method, params)
	}
	return nil
}

func (f *fakeEngine) Messages() <-chan string {
	return f.messages
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) deliver(msg string) {
	f.messages <- msg
}

func (f *fakeEngine) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation{}, f.invoked...)
}

func startBridge(t *testing.T, eng engine.Engine) *Bridge {
	t.Helper()
	b := New(zap.NewNop(), eng)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridge_CallRoundTrip(t *testing.T) {
	eng := newFakeEngine()
	eng.onInvoke = func(id, method string, params []byte) {
		require.Equal(t, "getWallets", method)
		require.Nil(t, params)
		eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","result":[{"address":"EQabc","version":"v5r1","index":0,"network":"testnet"}]}`, id))
	}
	b := startBridge(t, eng)

	raw, err := b.Call(context.Background(), "getWallets", nil, WithTimeout(time.Second))
	require.NoError(t, err)
	var wallets []map[string]any
	require.NoError(t, json.Unmarshal(raw, &wallets))
	require.Len(t, wallets, 1)
	require.Equal(t, "EQabc", wallets[0]["address"])
	require.Equal(t, 0, b.PendingCalls())
}

func TestBridge_RemoteError(t *testing.T) {
	eng := newFakeEngine()
	eng.onInvoke = func(id, method string, params []byte) {
		eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","error":{"message":"unknown method: %v"}}`, id, method))
	}
	b := startBridge(t, eng)

	_, err := b.Call(context.Background(), "bogus", nil, WithTimeout(time.Second))
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, "unknown method: bogus", remoteErr.Message)
}

func TestBridge_EncodingError(t *testing.T) {
	b := startBridge(t, newFakeEngine())
	_, err := b.Call(context.Background(), "init", map[string]any{"bad": func() {}})
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestBridge_TimeoutThenLateResponseIgnored(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	_, err := b.Call(context.Background(), "slow", nil, WithTimeout(50*time.Millisecond))
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "slow", timeoutErr.Method)
	require.Equal(t, 0, b.PendingCalls())

	// the late response hits a registry miss and is silently discarded
	id := eng.invocations()[0].id
	eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","result":1}`, id))

	// the bridge keeps working afterwards
	eng.onInvoke = func(id, method string, params []byte) {
		eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","result":2}`, id))
	}
	raw, err := b.Call(context.Background(), "fast", nil, WithTimeout(time.Second))
	require.NoError(t, err)
	require.Equal(t, "2", string(raw))
}

// stalledEngine blocks every invoke until its context gives up, like a hosted
// engine whose script host never connected.
type stalledEngine struct {
	*fakeEngine
}

func (e *stalledEngine) Invoke(ctx context.Context, id, method string, params []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBridge_TimeoutCoversSubmission(t *testing.T) {
	b := startBridge(t, &stalledEngine{newFakeEngine()})

	start := time.Now()
	_, err := b.Call(context.Background(), "getWallets", nil, WithTimeout(50*time.Millisecond))
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "getWallets", timeoutErr.Method)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, b.PendingCalls())
}

func TestBridge_CancellationDetachesCallDuringSubmission(t *testing.T) {
	b := startBridge(t, &stalledEngine{newFakeEngine()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, "getWallets", nil, WithTimeout(time.Minute))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 0, b.PendingCalls())
}

func TestBridge_CancellationDetachesCall(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, "slow", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return b.PendingCalls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 0, b.PendingCalls())
	// no cancel is ever sent to the script side
	require.Len(t, eng.invocations(), 1)
}

func TestBridge_UniqueCallIDs(t *testing.T) {
	eng := newFakeEngine()
	eng.onInvoke = func(id, method string, params []byte) {
		eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","result":true}`, id))
	}
	b := startBridge(t, eng)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Call(context.Background(), "ping", nil, WithTimeout(time.Second))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, inv := range eng.invocations() {
		require.False(t, seen[inv.id], "duplicate id %v", inv.id)
		seen[inv.id] = true
	}
	require.Len(t, seen, n)
}

func TestBridge_EventNeverResolvesCall(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe(EventDisconnect)
	defer cancelSub()

	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "slow", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(eng.invocations()) == 1 }, time.Second, 5*time.Millisecond)
	id := eng.invocations()[0].id

	// an event whose payload happens to carry the call id must not resolve it
	eng.deliver(fmt.Sprintf(`{"kind":"event","event":{"type":"disconnect","data":{"id":"%v"}}}`, id))
	ev := <-events
	require.Equal(t, EventDisconnect, ev.Type)
	require.Equal(t, 1, b.PendingCalls())

	eng.deliver(fmt.Sprintf(`{"kind":"response","id":"%v","result":null}`, id))
	require.NoError(t, <-done)
}

func TestBridge_ResponseNeverTriggersListener(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe()
	defer cancelSub()

	eng.deliver(`{"kind":"response","id":"X","result":{"type":"connectRequest"}}`)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridge_MalformedMessageDropped(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe()
	defer cancelSub()

	eng.deliver("not json")

	// the router is still alive and no listener was invoked
	eng.deliver(`{"kind":"event","event":{"type":"browserError","data":{"message":"x"}}}`)
	ev := <-events
	require.Equal(t, EventBrowserError, ev.Type)
}

func TestBridge_ReadyHandshake(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe(EventReady)
	defer cancelSub()

	_, ok := b.Ready()
	require.False(t, ok)

	eng.deliver(`{"kind":"ready","network":"testnet","tonApiUrl":"https://testnet.tonapi.io","tonClientEndpoint":"https://testnet.toncenter.com"}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ready, err := b.AwaitReady(ctx)
	require.NoError(t, err)
	require.Equal(t, NetworkTestnet, ready.Network)

	ev := <-events
	require.Equal(t, EventReady, ev.Type)

	// a repeated handshake never resets the state
	eng.deliver(`{"kind":"ready","network":"mainnet","tonApiUrl":"https://tonapi.io","tonClientEndpoint":"https://toncenter.com"}`)
	require.Eventually(t, func() bool {
		info, ok := b.Ready()
		return ok && info.Network == NetworkTestnet
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_ConnectRequestRecorded(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe(EventConnectRequest)
	defer cancelSub()

	eng.deliver(`{"kind":"event","event":{"type":"connectRequest","data":{"id":"req-1","dAppName":"ExampleDapp"}}}`)
	ev := <-events
	require.Equal(t, EventConnectRequest, ev.Type)

	req, err := b.TakePendingRequest("req-1")
	require.NoError(t, err)
	require.Equal(t, EventConnectRequest, req.Type)
	require.JSONEq(t, `{"id":"req-1","dAppName":"ExampleDapp"}`, string(req.Payload))

	_, err = b.TakePendingRequest("req-1")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestBridge_JSBridgeEventScopedToSession(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	broadcast, cancelAll := b.Subscribe()
	defer cancelAll()
	scoped, cancelScoped := b.SubscribeSession("sess-1")
	defer cancelScoped()

	eng.deliver(`{"kind":"event","event":{"type":"jsBridgeEvent","data":{"sessionId":"sess-1","payload":"x"}}}`)

	ev := <-scoped
	require.Equal(t, EventJSBridge, ev.Type)
	select {
	case ev := <-broadcast:
		t.Fatalf("jsBridgeEvent broadcast globally: %v", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridge_DiagnosticNeverAffectsControlFlow(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	events, cancelSub := b.Subscribe()
	defer cancelSub()

	eng.deliver(`{"kind":"diagnostic-call","id":"d1","method":"getWallets","stage":"checkpoint","timestamp":1700000000000}`)
	select {
	case ev := <-events:
		t.Fatalf("diagnostic dispatched as event: %v", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, 0, b.PendingCalls())
}

func TestBridge_StartIdempotent(t *testing.T) {
	eng := newFakeEngine()
	b := New(zap.NewNop(), eng)
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
}

func TestBridge_StartInitError(t *testing.T) {
	eng := newFakeEngine()
	eng.initErr = &engine.InitError{Err: fmt.Errorf("bundle missing")}
	b := New(zap.NewNop(), eng)
	var initErr *engine.InitError
	require.ErrorAs(t, b.Start(context.Background()), &initErr)
}

func TestBridge_CloseRejectsPendingCalls(t *testing.T) {
	eng := newFakeEngine()
	b := startBridge(t, eng)

	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "slow", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return b.PendingCalls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())
	require.ErrorIs(t, <-done, engine.ErrClosed)

	_, err := b.Call(context.Background(), "afterClose", nil)
	require.ErrorIs(t, err, engine.ErrClosed)
}
