package bridge

import (
	"encoding/json"
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/tonkeeper/walletbridge/pkg/cache"
)

const sessionHintCacheSize = 256

// PendingRequest is an unsolicited connect/transaction/signData event awaiting a
// native approve or reject. Exactly one resolution is valid: the entry is removed
// on first take.
type PendingRequest struct {
	ID            string
	Type          EventType
	Payload       json.RawMessage
	WalletAddress string
	ReceivedAt    time.Time
}

// SessionHint is best-effort display metadata cached for a TonConnect session.
// Never authoritative and safe to evict at any time.
type SessionHint struct {
	DAppURL     string `json:"dAppUrl,omitempty"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
}

// requestState holds the minimum state needed to resolve approve/reject calls
// against the original request events.
type requestState struct {
	pending *xsync.MapOf[string, PendingRequest]
	hints   cache.Cache[string, SessionHint]
}

func newRequestState() *requestState {
	return &requestState{
		pending: xsync.NewMapOf[PendingRequest](),
		hints:   cache.NewLRUCache[string, SessionHint](sessionHintCacheSize, "session_hints"),
	}
}

// record stores a pending request. A duplicate delivery of the same id is
// treated as a refresh, not an error.
func (s *requestState) record(req PendingRequest) {
	s.pending.Store(req.ID, req)
}

// take removes and returns the request. ErrRequestNotFound distinguishes
// "already handled" and "never arrived" from a live entry.
func (s *requestState) take(id string) (PendingRequest, error) {
	req, ok := s.pending.LoadAndDelete(id)
	if !ok {
		return PendingRequest{}, ErrRequestNotFound
	}
	return req, nil
}

func (s *requestState) recordHint(key string, hint SessionHint) {
	s.hints.Set(key, hint)
}

func (s *requestState) hint(key string) (SessionHint, bool) {
	return s.hints.Get(key)
}

// pendingRequestFromEvent extracts the correlation id (and an optional wallet
// address hint) from a connect/transaction/signData event payload.
func pendingRequestFromEvent(ev Event) (PendingRequest, bool) {
	var payload struct {
		ID            string `json:"id"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.ID == "" {
		return PendingRequest{}, false
	}
	return PendingRequest{
		ID:            payload.ID,
		Type:          ev.Type,
		Payload:       ev.Data,
		WalletAddress: payload.WalletAddress,
		ReceivedAt:    time.Now(),
	}, true
}
