package walletkit

import "time"

// Timeouts is the per-call-kind budget table. Interactive calls wait for a
// human on the script side and need far larger budgets than state queries, so
// there is deliberately no single default.
type Timeouts struct {
	// Init covers the init call after the engine reported ready.
	Init time.Duration
	// Query covers local state reads: getWallets, listSessions, getWalletState.
	Query time.Duration
	// Network covers calls that hit the TON network: addWalletFromMnemonic,
	// handleTonConnectUrl, disconnectSession.
	Network time.Duration
	// Interactive covers approve/reject round trips awaiting signatures.
	Interactive time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:        10 * time.Second,
		Query:       5 * time.Second,
		Network:     15 * time.Second,
		Interactive: 60 * time.Second,
	}
}
