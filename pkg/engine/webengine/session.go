package webengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/storage"
)

// session is the delivery loop for one host connection. All writes go through
// the single writer goroutine since the websocket connection does not allow
// concurrent writers.
type session struct {
	logger       *zap.Logger
	conn         *websocket.Conn
	store        storage.Store
	messages     chan<- string
	evalCh       <-chan evalRequest
	closedCh     <-chan struct{}
	outCh        chan any
	pingInterval time.Duration
}

// storageFrame is a synchronous-looking key-value request from the host page.
type storageFrame struct {
	Op     string `json:"op"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	CallID string `json:"callId"`
}

type storageResultFrame struct {
	Kind   string `json:"kind"`
	CallID string `json:"callId"`
	Value  string `json:"value,omitempty"`
	Found  bool   `json:"found,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newSession(logger *zap.Logger, conn *websocket.Conn, store storage.Store,
	messages chan<- string, evalCh <-chan evalRequest, closedCh <-chan struct{},
	pingInterval time.Duration) *session {
	return &session{
		logger:       logger,
		conn:         conn,
		store:        store,
		messages:     messages,
		evalCh:       evalCh,
		closedCh:     closedCh,
		outCh:        make(chan any, 16),
		pingInterval: pingInterval,
	}
}

// Run starts the writer loop in a dedicated goroutine.
func (s *session) Run(ctx context.Context) {
	go func() {
		for {
			var err error
			select {
			case <-ctx.Done():
				return
			case <-s.closedCh:
				s.conn.Close()
				return
			case req := <-s.evalCh:
				err = s.conn.WriteJSON(req.frame)
				req.sent <- err
			case frame := <-s.outCh:
				err = s.conn.WriteJSON(frame)
			case <-time.After(s.pingInterval):
				err = s.conn.WriteMessage(websocket.PingMessage, []byte{})
			}
			if err != nil {
				s.logger.Error("script host session failed", zap.Error(err))
				return
			}
		}
	}()
}

// handleFrame classifies one inbound frame. Storage requests are served
// locally; everything else is a bridge message forwarded to the router as-is.
func (s *session) handleFrame(msg []byte) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(msg, &head); err == nil && head.Kind == "storage" {
		s.handleStorage(msg)
		return
	}
	select {
	case s.messages <- string(msg):
	default:
		s.logger.Warn("message queue is full, dropping script message")
	}
}

func (s *session) handleStorage(msg []byte) {
	var frame storageFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Warn("malformed storage frame", zap.Error(err))
		return
	}
	result := storageResultFrame{Kind: "storage-result", CallID: frame.CallID}
	if s.store == nil {
		result.Error = "storage is not available"
		s.reply(result)
		return
	}
	var err error
	switch frame.Op {
	case "get":
		result.Value, result.Found = s.store.Get(frame.Key)
	case "set":
		err = s.store.Set(frame.Key, frame.Value)
	case "remove":
		err = s.store.Remove(frame.Key)
	case "clear":
		err = s.store.Clear()
	default:
		result.Error = "unknown storage op: " + frame.Op
	}
	if err != nil {
		result.Error = err.Error()
	}
	s.reply(result)
}

func (s *session) reply(result storageResultFrame) {
	select {
	case s.outCh <- result:
	default:
		s.logger.Warn("session write queue is full, dropping storage result",
			zap.String("callId", result.CallID))
	}
}
