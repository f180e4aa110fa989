package domain

import "time"

// ============================================================
// Wallet Operational Status
// ============================================================

// WalletStatus is the operational state of a custodial wallet.
type WalletStatus string

const (
	WalletActive   WalletStatus = "active"
	WalletPaused   WalletStatus = "paused"
	WalletFrozen   WalletStatus = "frozen"
	WalletInactive WalletStatus = "inactive"
)

// walletTransitions is the full set of allowed edges. inactive is terminal;
// paused and frozen can only return to active.
var walletTransitions = map[WalletStatus][]WalletStatus{
	WalletActive: {WalletPaused, WalletFrozen, WalletInactive},
	WalletPaused: {WalletActive},
	WalletFrozen: {WalletActive},
}

// CanTransitionWallet reports whether from → to is an allowed edge.
func CanTransitionWallet(from, to WalletStatus) bool {
	for _, next := range walletTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusRequiresReason reports whether entering s demands a non-empty reason.
func StatusRequiresReason(s WalletStatus) bool {
	return s == WalletFrozen || s == WalletInactive
}

// WalletStatusRecord is the current-state row for a wallet. Historical
// transitions live in WalletStatusAudit entries and are never overwritten.
type WalletStatusRecord struct {
	WalletID       string       `json:"wallet_id"`
	Status         WalletStatus `json:"status"`
	PreviousStatus WalletStatus `json:"previous_status,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	// FrozenUntil is advisory only: automatic unfreeze is an external
	// scheduler's job, this service just stores and returns the value.
	FrozenUntil *time.Time `json:"frozen_until,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
}

// WalletStatusAudit is one immutable entry in a wallet's transition history.
type WalletStatusAudit struct {
	ID          string       `json:"id"`
	WalletID    string       `json:"wallet_id"`
	FromStatus  WalletStatus `json:"from_status"`
	ToStatus    WalletStatus `json:"to_status"`
	Reason      string       `json:"reason,omitempty"`
	FrozenUntil *time.Time   `json:"frozen_until,omitempty"`
	UpdatedBy   string       `json:"updated_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
