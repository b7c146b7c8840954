package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
)

// Kind discriminates the script-to-native wire envelope.
type Kind string

const (
	KindResponse   Kind = "response"
	KindEvent      Kind = "event"
	KindReady      Kind = "ready"
	KindDiagnostic Kind = "diagnostic-call"
)

// EventType names an unsolicited notification emitted by the script side.
type EventType string

const (
	EventConnectRequest      EventType = "connectRequest"
	EventTransactionRequest  EventType = "transactionRequest"
	EventSignDataRequest     EventType = "signDataRequest"
	EventDisconnect          EventType = "disconnect"
	EventReady               EventType = "ready"
	EventSignerSignRequest   EventType = "signerSignRequest"
	EventBrowserPageStarted  EventType = "browserPageStarted"
	EventBrowserPageFinished EventType = "browserPageFinished"
	EventBrowserError        EventType = "browserError"
	EventJSBridge            EventType = "jsBridgeEvent"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Response is the terminal answer to a native-issued call.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
}

// Event is an unsolicited notification. Events never correlate to a pending call
// even when their payload happens to carry an id.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Ready is the one-time handshake emitted after the script environment bootstraps.
type Ready struct {
	Network           Network `json:"network"`
	TonAPIURL         string  `json:"tonApiUrl"`
	TonClientEndpoint string  `json:"tonClientEndpoint"`
}

type DiagnosticStage string

const (
	StageStart      DiagnosticStage = "start"
	StageCheckpoint DiagnosticStage = "checkpoint"
	StageSuccess    DiagnosticStage = "success"
	StageError      DiagnosticStage = "error"
)

// Diagnostic is an advisory tracing message. It never affects control flow.
type Diagnostic struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Stage     DiagnosticStage `json:"stage"`
	Timestamp int64           `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
}

// Envelope is the parsed form of one wire message. Exactly one variant is set,
// matching Kind.
type Envelope struct {
	Kind       Kind
	Response   *Response
	Event      *Event
	Ready      *Ready
	Diagnostic *Diagnostic
}

// ParseEnvelope decodes a script-to-native wire message. Unknown fields are
// ignored so the script side may emit forward-incompatible extras.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	env := Envelope{Kind: head.Kind}
	switch head.Kind {
	case KindResponse:
		var r Response
		if err := json.Unmarshal(raw, &r); err != nil {
			return Envelope{}, errors.Wrap(err, "decode response")
		}
		if r.ID == "" {
			return Envelope{}, fmt.Errorf("response without id")
		}
		env.Response = &r
	case KindEvent:
		var body struct {
			Event *Event `json:"event"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return Envelope{}, errors.Wrap(err, "decode event")
		}
		if body.Event == nil || body.Event.Type == "" {
			return Envelope{}, fmt.Errorf("event without type")
		}
		env.Event = body.Event
	case KindReady:
		var r Ready
		if err := json.Unmarshal(raw, &r); err != nil {
			return Envelope{}, errors.Wrap(err, "decode ready")
		}
		env.Ready = &r
	case KindDiagnostic:
		var d Diagnostic
		if err := json.Unmarshal(raw, &d); err != nil {
			return Envelope{}, errors.Wrap(err, "decode diagnostic")
		}
		env.Diagnostic = &d
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind '%v'", head.Kind)
	}
	return env, nil
}
