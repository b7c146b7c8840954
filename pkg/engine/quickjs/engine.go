// Package quickjs runs the WalletKit bundle in an embedded JavaScript
// interpreter (goja). The interpreter is not thread-safe, so a single
// goroutine owns the runtime and every interaction is serialized onto it.
package quickjs

import (
	"context"
	"os"
	"sync"

	"github.com/dop251/goja"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/engine"
	"github.com/tonkeeper/walletbridge/pkg/storage"
)

const (
	// dispatchFunction is the bundle's exported entry point: (id, method, paramsJson).
	dispatchFunction = "walletkitDispatch"
	// postMessageFunction is the native callback the bundle uses to post
	// responses, events, the ready handshake and diagnostics.
	postMessageFunction = "__walletbridgePostMessage"
	// storageObject exposes the native key-value collaborator to the bundle.
	storageObject = "nativeStorage"
)

type Config struct {
	BundlePath string
	Store      storage.Store
	// QueueSize bounds the inbound message buffer. Defaults to 256.
	QueueSize int
}

type Engine struct {
	logger   *zap.Logger
	cfg      Config
	jobs     chan func(rt *goja.Runtime)
	messages chan string
	closedCh chan struct{}

	// initMu serializes Initialize so concurrent callers never run the
	// bundle's bootstrap twice
	initMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	closed      bool
	dispatch    goja.Callable
}

var _ engine.Engine = (*Engine)(nil)

func New(logger *zap.Logger, cfg Config) *Engine {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		jobs:     make(chan func(rt *goja.Runtime), 64),
		messages: make(chan string, cfg.QueueSize),
		closedCh: make(chan struct{}),
	}
	go e.loop()
	return e
}

// loop owns the interpreter runtime for the engine's whole lifetime.
func (e *Engine) loop() {
	rt := goja.New()
	for {
		select {
		case <-e.closedCh:
			return
		case job := <-e.jobs:
			job(rt)
		}
	}
}

// run submits fn to the interpreter goroutine and waits for its result.
func (e *Engine) run(ctx context.Context, fn func(rt *goja.Runtime) error) error {
	errCh := make(chan error, 1)
	job := func(rt *goja.Runtime) {
		errCh <- fn(rt)
	}
	select {
	case e.jobs <- job:
	case <-e.closedCh:
		return engine.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-e.closedCh:
		return engine.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return engine.ErrClosed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	src, err := os.ReadFile(e.cfg.BundlePath)
	if err != nil {
		return &engine.InitError{Err: errors.Wrap(err, "read bundle")}
	}
	program, err := goja.Compile(e.cfg.BundlePath, string(src), false)
	if err != nil {
		return &engine.InitError{Err: errors.Wrap(err, "compile bundle")}
	}

	err = e.run(ctx, func(rt *goja.Runtime) error {
		if err := e.bindGlobals(rt); err != nil {
			return &engine.InitError{Err: err}
		}
		if _, err := rt.RunProgram(program); err != nil {
			return &engine.InitError{Err: err}
		}
		dispatch, ok := goja.AssertFunction(rt.Get(dispatchFunction))
		if !ok {
			return &engine.InitError{Err: errors.Errorf("bundle does not export %v", dispatchFunction)}
		}
		e.dispatch = dispatch
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	e.logger.Info("quickjs engine initialized", zap.String("bundle", e.cfg.BundlePath))
	return nil
}

func (e *Engine) bindGlobals(rt *goja.Runtime) error {
	post := func(msg string) {
		select {
		case e.messages <- msg:
		default:
			e.logger.Warn("message queue is full, dropping script message")
		}
	}
	if err := rt.Set(postMessageFunction, post); err != nil {
		return err
	}
	if e.cfg.Store == nil {
		return nil
	}
	ns := rt.NewObject()
	if err := ns.Set("get", func(key string) goja.Value {
		value, ok := e.cfg.Store.Get(key)
		if !ok {
			return goja.Null()
		}
		return rt.ToValue(value)
	}); err != nil {
		return err
	}
	if err := ns.Set("set", func(key, value string) {
		if err := e.cfg.Store.Set(key, value); err != nil {
			e.logger.Error("storage set failed", zap.String("key", key), zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := ns.Set("remove", func(key string) {
		if err := e.cfg.Store.Remove(key); err != nil {
			e.logger.Error("storage remove failed", zap.String("key", key), zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := ns.Set("clear", func() {
		if err := e.cfg.Store.Clear(); err != nil {
			e.logger.Error("storage clear failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	return rt.Set(storageObject, ns)
}

func (e *Engine) Invoke(ctx context.Context, id, method string, params []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return engine.ErrClosed
	}
	if !e.initialized {
		e.mu.Unlock()
		return errors.New("quickjs engine is not initialized")
	}
	dispatch := e.dispatch
	e.mu.Unlock()

	return e.run(ctx, func(rt *goja.Runtime) error {
		paramsVal := goja.Null()
		if len(params) > 0 {
			paramsVal = rt.ToValue(string(params))
		}
		if _, err := dispatch(goja.Undefined(), rt.ToValue(id), rt.ToValue(method), paramsVal); err != nil {
			return errors.Wrap(err, "dispatch")
		}
		return nil
	})
}

func (e *Engine) Messages() <-chan string {
	return e.messages
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.closedCh)
	return nil
}
