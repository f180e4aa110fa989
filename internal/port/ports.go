// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/agentpay/guard-go/internal/domain"
)

// Store defines all persistence operations for the guardrail core.
// Implemented by the Postgres adapter and by the in-memory store used in
// tests and storeless dev runs.
//
// Every method must be bounded by a timeout and must leave no partial state
// on failure; the combined operations (CommitAuthorization, CommitRefund)
// apply all of their effects atomically or none of them.
type Store interface {
	// Spend limits
	// GetLimits returns nil (no error) when the agent has no configured row;
	// the caller applies system defaults.
	GetLimits(ctx context.Context, agentID string) (*domain.SpendLimit, error)
	PutLimits(ctx context.Context, limit *domain.SpendLimit) error

	// Spend counters
	// GetCounter treats a stored row with a stale window key as a fresh zero
	// counter for the requested key. The physical reset happens on the next
	// write, not here.
	GetCounter(ctx context.Context, agentID string, g domain.Granularity, windowKey string) (*domain.SpendCounter, error)

	// CommitAuthorization inserts the pending receipt and increments both
	// window counters as a single atomic unit. When a receipt with the same
	// external request ID already exists it is returned unchanged with
	// replayed=true and no counter is touched.
	CommitAuthorization(ctx context.Context, receipt *domain.PaymentReceipt) (r *domain.PaymentReceipt, replayed bool, err error)

	// CommitRefund transitions the receipt row to its new (refunded) state
	// and credits back the counters whose stored window key still matches
	// the receipt's captured keys, atomically. Counters in rolled-over
	// windows are left untouched.
	CommitRefund(ctx context.Context, receipt *domain.PaymentReceipt) error

	// Receipts
	GetReceipt(ctx context.Context, receiptID string) (*domain.PaymentReceipt, error)
	GetReceiptByExternalID(ctx context.Context, externalRequestID string) (*domain.PaymentReceipt, error)
	ListReceiptsByAgent(ctx context.Context, agentID string, page, pageSize int) ([]domain.PaymentReceipt, error)
	// UpdateReceipt persists a confirm/fail transition. Callers serialize
	// per receipt before mutating.
	UpdateReceipt(ctx context.Context, receipt *domain.PaymentReceipt) error

	// Wallet status
	// GetWalletStatus returns nil (no error) for wallets never seen locally.
	GetWalletStatus(ctx context.Context, walletID string) (*domain.WalletStatusRecord, error)
	// PutWalletStatus upserts the current-state row and appends the audit
	// entry atomically.
	PutWalletStatus(ctx context.Context, record *domain.WalletStatusRecord, audit *domain.WalletStatusAudit) error
	ListWalletAudit(ctx context.Context, walletID string) ([]domain.WalletStatusAudit, error)

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}

// WalletProvider is the custodial wallet provider (external collaborator).
// Only the operational status read is consumed here; key custody and the
// encryption routine live entirely on the provider's side.
type WalletProvider interface {
	// GetWalletStatus returns the provider-side status for a wallet, or
	// ("", nil) when the provider has no record of it.
	GetWalletStatus(ctx context.Context, walletID string) (domain.WalletStatus, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
