// Package domain defines the core business entities for the agent payment
// guardrail service. These models are independent of transport and storage
// and are the canonical data structures used throughout the service.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Payment Receipts
// ============================================================

// ReceiptStatus is the settlement lifecycle state of a payment receipt.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptRefunded  ReceiptStatus = "refunded"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ReceiptStatus) Terminal() bool {
	return s == ReceiptFailed || s == ReceiptRefunded
}

// PaymentReceipt is the record of one payment attempt between two agents,
// independent of on-chain settlement status. The Spend Guard creates it in
// pending status; settlement events drive all later transitions.
type PaymentReceipt struct {
	ReceiptID         string            `json:"receipt_id"`
	ExternalRequestID string            `json:"external_request_id"`
	FromAgentID       string            `json:"from_agent_id"`
	ToAgentID         string            `json:"to_agent_id"`
	WalletID          string            `json:"wallet_id"`
	Amount            decimal.Decimal   `json:"amount"`
	Purpose           string            `json:"purpose,omitempty"`
	Status            ReceiptStatus     `json:"status"`
	TransactionHash   string            `json:"transaction_hash,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	RefundReason      string            `json:"refund_reason,omitempty"`
	// Window keys captured at spend time. A refund only credits back the
	// counters whose stored key still matches these values.
	DailyWindowKey   string            `json:"daily_window_key"`
	MonthlyWindowKey string            `json:"monthly_window_key"`
	CreatedAt        time.Time         `json:"created_at"`
	ConfirmedAt      *time.Time        `json:"confirmed_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// AuthorizeRequest is the already-validated input to the Spend Guard.
// Amount is expected to be a positive fixed-point decimal; the guard
// re-checks this as its first step.
type AuthorizeRequest struct {
	AgentID           string            `json:"agent_id"`
	WalletID          string            `json:"wallet_id"`
	ToAgentID         string            `json:"to_agent_id,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	ExternalRequestID string            `json:"external_request_id"`
	Purpose           string            `json:"purpose,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}
