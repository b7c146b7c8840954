// Package webengine hosts the WalletKit bundle in an external browser-grade
// script host. The host loads the bundle from this process and connects back
// over a websocket; native calls are delivered as evaluate frames that the host
// executes in its page, and script-to-native messages arrive as text frames
// the page posts on the same connection.
package webengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/engine"
	"github.com/tonkeeper/walletbridge/pkg/storage"
)

// dispatchFunction is the page-global entry point: (id, method, paramsJson).
const dispatchFunction = "walletkitDispatch"

type Config struct {
	BundlePath string
	Store      storage.Store
	// QueueSize bounds the inbound message buffer. Defaults to 256.
	QueueSize    int
	PingInterval time.Duration
}

// evaluateFrame asks the host to evaluate a script expression in its page.
type evaluateFrame struct {
	Kind   string `json:"kind"`
	Script string `json:"script"`
}

type evalRequest struct {
	frame evaluateFrame
	sent  chan error
}

type Engine struct {
	logger   *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader
	messages chan string
	evalCh   chan evalRequest
	closedCh chan struct{}

	mu          sync.Mutex
	initialized bool
	closed      bool
	bundle      []byte
}

var _ engine.Engine = (*Engine)(nil)

func New(logger *zap.Logger, cfg Config) *Engine {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 5 * time.Second
	}
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		messages: make(chan string, cfg.QueueSize),
		evalCh:   make(chan evalRequest),
		closedCh: make(chan struct{}),
	}
}

// Initialize loads the bundle so it can be served to the host. The host itself
// connects later; calls issued before that wait on their own timeouts.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}
	if e.initialized {
		return nil
	}
	bundle, err := os.ReadFile(e.cfg.BundlePath)
	if err != nil {
		return &engine.InitError{Err: errors.Wrap(err, "read bundle")}
	}
	e.bundle = bundle
	e.initialized = true
	e.logger.Info("web engine initialized", zap.String("bundle", e.cfg.BundlePath))
	return nil
}

// Invoke delivers a call by asking the host to evaluate an expression that
// looks up the page-global dispatch function. Waits only for the frame to be
// written, never for the call to complete.
func (e *Engine) Invoke(ctx context.Context, id, method string, params []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return engine.ErrClosed
	}
	e.mu.Unlock()

	req := evalRequest{
		frame: evaluateFrame{Kind: "evaluate", Script: dispatchExpression(id, method, params)},
		sent:  make(chan error, 1),
	}
	select {
	case e.evalCh <- req:
	case <-e.closedCh:
		return engine.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.sent:
		if err != nil {
			return errors.Wrap(err, "write evaluate frame")
		}
		return nil
	case <-e.closedCh:
		return engine.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchExpression builds the evaluated JS expression. All three arguments
// are passed as string literals; params is the raw JSON text or null.
func dispatchExpression(id, method string, params []byte) string {
	idLit, _ := json.Marshal(id)
	methodLit, _ := json.Marshal(method)
	paramsLit := []byte("null")
	if len(params) > 0 {
		paramsLit, _ = json.Marshal(string(params))
	}
	return fmt.Sprintf("window.%v(%s, %s, %s)", dispatchFunction, idLit, methodLit, paramsLit)
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

// Handler upgrades an HTTP connection from the script host and runs its
// delivery loops until the host disconnects.
func (e *Engine) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := e.upgrader.Upgrade(w, r, nil)
		if err != nil {
			e.logger.Error("failed to upgrade HTTP connection to websocket protocol", zap.Error(err))
			return
		}
		e.logger.Info("script host connected", zap.String("remoteAddr", conn.RemoteAddr().String()))
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		s := newSession(e.logger, conn, e.cfg.Store, e.messages, e.evalCh, e.closedCh, e.cfg.PingInterval)
		s.Run(ctx)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					return
				}
				e.logger.Warn("script host read failed", zap.Error(err))
				return
			}
			s.handleFrame(msg)
		}
	}
}

// BundleHandler serves the script bundle to the host page.
func (e *Engine) BundleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		bundle := e.bundle
		e.mu.Unlock()
		if bundle == nil {
			http.Error(w, "bundle is not loaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Write(bundle)
	}
}
