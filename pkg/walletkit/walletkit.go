// Package walletkit is the typed native API over the script-side WalletKit
// library. Every method is an opaque remote procedure: params are serialized to
// JSON, shipped through the bridge and the response is decoded into the
// method's result type.
package walletkit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo"

	"github.com/tonkeeper/walletbridge/pkg/bridge"
)

const (
	methodInit                      = "init"
	methodAddWalletFromMnemonic     = "addWalletFromMnemonic"
	methodGetWallets                = "getWallets"
	methodGetWalletState            = "getWalletState"
	methodHandleTonConnectURL       = "handleTonConnectUrl"
	methodApproveConnectRequest     = "approveConnectRequest"
	methodRejectConnectRequest      = "rejectConnectRequest"
	methodApproveTransactionRequest = "approveTransactionRequest"
	methodRejectTransactionRequest  = "rejectTransactionRequest"
	methodApproveSignDataRequest    = "approveSignDataRequest"
	methodRejectSignDataRequest     = "rejectSignDataRequest"
	methodListSessions              = "listSessions"
	methodDisconnectSession         = "disconnectSession"
)

type Client struct {
	bridge   *bridge.Bridge
	timeouts Timeouts
}

func New(b *bridge.Bridge, timeouts Timeouts) *Client {
	return &Client{bridge: b, timeouts: timeouts}
}

func call[R any](ctx context.Context, c *Client, method string, params any, timeout time.Duration) (R, error) {
	var result R
	raw, err := c.bridge.Call(ctx, method, params, bridge.WithTimeout(timeout))
	if err != nil {
		return result, err
	}
	if len(raw) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, errors.Wrapf(err, "decode %v result", method)
	}
	return result, nil
}

// Init waits for the engine's ready handshake and initializes the wallet
// library. Idempotent on the script side: a repeated init reports ok without
// re-running bootstrap.
func (c *Client) Init(ctx context.Context, params InitParams) (InitResult, error) {
	if _, err := c.bridge.AwaitReady(ctx); err != nil {
		return InitResult{}, err
	}
	return call[InitResult](ctx, c, methodInit, params, c.timeouts.Init)
}

func (c *Client) AddWalletFromMnemonic(ctx context.Context, params AddWalletParams) (Wallet, error) {
	return call[Wallet](ctx, c, methodAddWalletFromMnemonic, params, c.timeouts.Network)
}

func (c *Client) GetWallets(ctx context.Context) ([]Wallet, error) {
	return call[[]Wallet](ctx, c, methodGetWallets, nil, c.timeouts.Query)
}

func (c *Client) GetWalletState(ctx context.Context, address string) (WalletState, error) {
	if _, err := tongo.ParseAccountID(address); err != nil {
		return WalletState{}, errors.Wrap(err, "invalid wallet address")
	}
	params := walletAddressParams{Address: address}
	return call[WalletState](ctx, c, methodGetWalletState, params, c.timeouts.Query)
}

// HandleTonConnectURL hands a deep-linked TonConnect URL to the wallet library.
// The resulting connectRequest arrives later as an unsolicited event.
func (c *Client) HandleTonConnectURL(ctx context.Context, url string) error {
	params := handleTonConnectURLParams{URL: url}
	_, err := call[json.RawMessage](ctx, c, methodHandleTonConnectURL, params, c.timeouts.Network)
	return err
}

// resolveRequest claims the pending request for the duration of the script
// call. A failed call puts the request back so the resolution can be retried;
// only a successful call consumes it for good.
func resolveRequest[R any](ctx context.Context, c *Client, requestID, method string, params any) (R, bridge.PendingRequest, error) {
	var zero R
	req, err := c.bridge.TakePendingRequest(requestID)
	if err != nil {
		return zero, bridge.PendingRequest{}, err
	}
	result, err := call[R](ctx, c, method, params, c.timeouts.Interactive)
	if err != nil {
		c.bridge.RestorePendingRequest(req)
		return zero, bridge.PendingRequest{}, err
	}
	return result, req, nil
}

// ApproveConnectRequest resolves the pending connect request with the given
// wallet. The request is consumed only once the script call succeeds; after
// that a second resolution attempt fails with bridge.ErrRequestNotFound.
func (c *Client) ApproveConnectRequest(ctx context.Context, requestID, walletAddress string) (ApproveResult, error) {
	if _, err := tongo.ParseAccountID(walletAddress); err != nil {
		return ApproveResult{}, errors.Wrap(err, "invalid wallet address")
	}
	params := approveConnectParams{RequestID: requestID, WalletAddress: walletAddress}
	result, req, err := resolveRequest[ApproveResult](ctx, c, requestID, methodApproveConnectRequest, params)
	if err != nil {
		return ApproveResult{}, err
	}
	c.cacheConnectHint(req, walletAddress, result.SessionID)
	return result, nil
}

func (c *Client) RejectConnectRequest(ctx context.Context, requestID, reason string) error {
	params := rejectParams{RequestID: requestID, Reason: reason}
	_, _, err := resolveRequest[json.RawMessage](ctx, c, requestID, methodRejectConnectRequest, params)
	return err
}

func (c *Client) ApproveTransactionRequest(ctx context.Context, requestID string) (SignResult, error) {
	result, _, err := resolveRequest[SignResult](ctx, c, requestID, methodApproveTransactionRequest, approveParams{RequestID: requestID})
	return result, err
}

func (c *Client) RejectTransactionRequest(ctx context.Context, requestID, reason string) error {
	_, _, err := resolveRequest[json.RawMessage](ctx, c, requestID, methodRejectTransactionRequest, rejectParams{RequestID: requestID, Reason: reason})
	return err
}

func (c *Client) ApproveSignDataRequest(ctx context.Context, requestID string) (SignResult, error) {
	result, _, err := resolveRequest[SignResult](ctx, c, requestID, methodApproveSignDataRequest, approveParams{RequestID: requestID})
	return result, err
}

func (c *Client) RejectSignDataRequest(ctx context.Context, requestID, reason string) error {
	_, _, err := resolveRequest[json.RawMessage](ctx, c, requestID, methodRejectSignDataRequest, rejectParams{RequestID: requestID, Reason: reason})
	return err
}

// ListSessions returns the wallet library's session records enriched with any
// cached display hints for sessions that lack their own metadata.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := call[[]Session](ctx, c, methodListSessions, nil, c.timeouts.Query)
	if err != nil {
		return nil, err
	}
	for i, s := range sessions {
		if s.ManifestURL != "" && s.DAppURL != "" {
			continue
		}
		hint, ok := c.bridge.SessionHint(s.ID)
		if !ok {
			hint, ok = c.bridge.SessionHint(hintKey(s.WalletAddress, s.DAppName))
		}
		if !ok {
			continue
		}
		if s.DAppURL == "" {
			sessions[i].DAppURL = hint.DAppURL
		}
		if s.ManifestURL == "" {
			sessions[i].ManifestURL = hint.ManifestURL
		}
		if s.IconURL == "" {
			sessions[i].IconURL = hint.IconURL
		}
	}
	return sessions, nil
}

func (c *Client) DisconnectSession(ctx context.Context, sessionID string) error {
	_, err := call[json.RawMessage](ctx, c, methodDisconnectSession, sessionIDParams{SessionID: sessionID}, c.timeouts.Network)
	return err
}

// cacheConnectHint opportunistically stores display metadata from the original
// connect event so session listings can be enriched later.
func (c *Client) cacheConnectHint(req bridge.PendingRequest, walletAddress, sessionID string) {
	var data ConnectRequestData
	if err := json.Unmarshal(req.Payload, &data); err != nil {
		return
	}
	hint := bridge.SessionHint{
		DAppURL:     data.DAppURL,
		ManifestURL: data.ManifestURL,
		IconURL:     data.IconURL,
	}
	if hint == (bridge.SessionHint{}) {
		return
	}
	if sessionID != "" {
		c.bridge.RecordSessionHint(sessionID, hint)
		return
	}
	c.bridge.RecordSessionHint(hintKey(walletAddress, data.DAppName), hint)
}

func hintKey(walletAddress, dAppName string) string {
	return walletAddress + "/" + dAppName
}
