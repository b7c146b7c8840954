package walletkit

import (
	"encoding/json"

	"github.com/tonkeeper/walletbridge/pkg/bridge"
)

type Wallet struct {
	Address string         `json:"address"`
	Version string         `json:"version"`
	Index   int            `json:"index"`
	Network bridge.Network `json:"network"`
}

type WalletState struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	Status       string `json:"status"`
	LastActivity int64  `json:"lastActivity,omitempty"`
}

type InitParams struct {
	Network           bridge.Network `json:"network"`
	TonAPIURL         string         `json:"tonApiUrl,omitempty"`
	TonClientEndpoint string         `json:"tonClientEndpoint,omitempty"`
}

type InitResult struct {
	OK bool `json:"ok"`
}

type AddWalletParams struct {
	Mnemonic []string `json:"mnemonic"`
	Version  string   `json:"version,omitempty"`
	Index    *int     `json:"index,omitempty"`
}

// ConnectRequestData is the payload of a connectRequest event. Transport is the
// explicit transport-kind tag ("js" for the internal browser bridge, "http" for
// deep links); events without it are still accepted but cannot be routed to a
// browser session.
type ConnectRequestData struct {
	ID          string `json:"id"`
	DAppName    string `json:"dAppName,omitempty"`
	DAppURL     string `json:"dAppUrl,omitempty"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
	Transport   string `json:"transport,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

type TransactionMessage struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Payload string `json:"payload,omitempty"`
}

type TransactionRequestData struct {
	ID            string               `json:"id"`
	WalletAddress string               `json:"walletAddress,omitempty"`
	ValidUntil    int64                `json:"validUntil,omitempty"`
	Messages      []TransactionMessage `json:"messages,omitempty"`
}

type SignDataRequestData struct {
	ID            string          `json:"id"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type approveConnectParams struct {
	RequestID     string `json:"requestId"`
	WalletAddress string `json:"walletAddress"`
}

type approveParams struct {
	RequestID string `json:"requestId"`
}

type rejectParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

type ApproveResult struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
}

type SignResult struct {
	OK  bool   `json:"ok"`
	Boc string `json:"boc,omitempty"`
}

type Session struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	DAppName      string `json:"dAppName,omitempty"`
	DAppURL       string `json:"dAppUrl,omitempty"`
	ManifestURL   string `json:"manifestUrl,omitempty"`
	IconURL       string `json:"iconUrl,omitempty"`
	ConnectedAt   int64  `json:"connectedAt,omitempty"`
}

type handleTonConnectURLParams struct {
	URL string `json:"url"`
}

type walletAddressParams struct {
	Address string `json:"address"`
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}
