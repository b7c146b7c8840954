package bridge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// routeLoop consumes the engine's message stream until the engine closes it or
// the bridge shuts down. Messages are processed in delivery order; nothing is
// reordered.
func (b *Bridge) routeLoop(ctx context.Context) {
	messages := b.eng.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, open := <-messages:
			if !open {
				return
			}
			b.route(raw)
		}
	}
}

// route classifies one inbound message. Malformed input is logged and dropped;
// the router never propagates a panic or error to the engine.
func (b *Bridge) route(raw string) {
	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		droppedMessagesMetric.WithLabelValues("malformed").Inc()
		b.logger.Warn("dropping malformed bridge message", zap.Error(err))
		return
	}
	switch env.Kind {
	case KindResponse:
		b.routeResponse(env.Response)
	case KindEvent:
		b.routeEvent(*env.Event)
	case KindReady:
		b.state.markReady(*env.Ready)
		data, _ := json.Marshal(env.Ready)
		b.dispatcher.Dispatch(Event{Type: EventReady, Data: data})
	case KindDiagnostic:
		b.diag.Record(*env.Diagnostic)
	}
}

func (b *Bridge) routeResponse(r *Response) {
	var delivered bool
	if r.Error != nil {
		delivered = b.registry.fail(r.ID, &RemoteError{Message: r.Error.Message})
	} else {
		delivered = b.registry.resolve(r.ID, r.Result)
	}
	if !delivered {
		// a response arriving after a timeout or cancellation is expected
		droppedMessagesMetric.WithLabelValues("unknown_call_id").Inc()
		b.logger.Debug("dropping response for unknown call", zap.String("id", r.ID))
	}
}

func (b *Bridge) routeEvent(ev Event) {
	switch ev.Type {
	case EventConnectRequest, EventTransactionRequest, EventSignDataRequest:
		if req, ok := pendingRequestFromEvent(ev); ok {
			b.requests.record(req)
		} else {
			b.logger.Warn("request event without id", zap.String("type", string(ev.Type)))
		}
		b.dispatcher.Dispatch(ev)
	case EventJSBridge:
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.SessionID == "" {
			droppedMessagesMetric.WithLabelValues("untagged_js_bridge_event").Inc()
			b.logger.Warn("jsBridgeEvent without session id")
			return
		}
		if !b.dispatcher.DispatchSession(payload.SessionID, ev) {
			b.logger.Debug("no subscriber for browser session",
				zap.String("sessionId", payload.SessionID))
		}
	default:
		b.dispatcher.Dispatch(ev)
	}
}
