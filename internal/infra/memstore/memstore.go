// Package memstore provides an in-memory implementation of port.Store.
// Used by tests and by dev runs without a DATABASE_URL. All operations are
// guarded by a single RWMutex, which trivially satisfies the atomicity
// contract of the combined commit operations.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentpay/guard-go/internal/domain"
)

// Store is an in-memory port.Store.
type Store struct {
	mu sync.RWMutex

	limits     map[string]*domain.SpendLimit
	counters   map[string]*domain.SpendCounter // agentID + "|" + granularity
	receipts   map[string]*domain.PaymentReceipt
	byExternal map[string]string // external_request_id -> receipt_id
	byAgent    map[string][]string
	wallets    map[string]*domain.WalletStatusRecord
	audits     map[string][]domain.WalletStatusAudit
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		limits:     make(map[string]*domain.SpendLimit),
		counters:   make(map[string]*domain.SpendCounter),
		receipts:   make(map[string]*domain.PaymentReceipt),
		byExternal: make(map[string]string),
		byAgent:    make(map[string][]string),
		wallets:    make(map[string]*domain.WalletStatusRecord),
		audits:     make(map[string][]domain.WalletStatusAudit),
	}
}

func counterKey(agentID string, g domain.Granularity) string {
	return agentID + "|" + string(g)
}

// ============================================================
// Limits
// ============================================================

func (s *Store) GetLimits(_ context.Context, agentID string) (*domain.SpendLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit, ok := s.limits[agentID]
	if !ok {
		return nil, nil
	}
	cp := *limit
	return &cp, nil
}

func (s *Store) PutLimits(_ context.Context, limit *domain.SpendLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *limit
	s.limits[limit.AgentID] = &cp
	return nil
}

// ============================================================
// Counters
// ============================================================

func (s *Store) GetCounter(_ context.Context, agentID string, g domain.Granularity, windowKey string) (*domain.SpendCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[counterKey(agentID, g)]
	if !ok || c.WindowKey != windowKey {
		// Missing or rolled-over window reads as a fresh zero counter.
		return &domain.SpendCounter{
			AgentID:     agentID,
			Granularity: g,
			WindowKey:   windowKey,
			Spent:       decimal.Zero,
		}, nil
	}
	cp := *c
	return &cp, nil
}

// increment adds amount to the agent's counter for granularity g, resetting
// the row first when its stored window key differs from windowKey.
// Caller holds the write lock.
func (s *Store) increment(agentID string, g domain.Granularity, windowKey string, amount decimal.Decimal, now time.Time) {
	key := counterKey(agentID, g)
	c, ok := s.counters[key]
	if !ok || c.WindowKey != windowKey {
		c = &domain.SpendCounter{
			AgentID:     agentID,
			Granularity: g,
			WindowKey:   windowKey,
			Spent:       decimal.Zero,
		}
		s.counters[key] = c
	}
	c.Spent = c.Spent.Add(amount)
	c.UpdatedAt = now
}

// decrement subtracts amount from the counter only when its stored window
// key still equals windowKey. Caller holds the write lock.
func (s *Store) decrement(agentID string, g domain.Granularity, windowKey string, amount decimal.Decimal, now time.Time) {
	c, ok := s.counters[counterKey(agentID, g)]
	if !ok || c.WindowKey != windowKey {
		return
	}
	c.Spent = c.Spent.Sub(amount)
	if c.Spent.IsNegative() {
		c.Spent = decimal.Zero
	}
	c.UpdatedAt = now
}

// ============================================================
// Receipts
// ============================================================

func (s *Store) CommitAuthorization(_ context.Context, receipt *domain.PaymentReceipt) (*domain.PaymentReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byExternal[receipt.ExternalRequestID]; ok {
		cp := *s.receipts[existingID]
		return &cp, true, nil
	}

	cp := *receipt
	s.receipts[receipt.ReceiptID] = &cp
	s.byExternal[receipt.ExternalRequestID] = receipt.ReceiptID
	s.byAgent[receipt.FromAgentID] = append(s.byAgent[receipt.FromAgentID], receipt.ReceiptID)

	s.increment(receipt.FromAgentID, domain.GranularityDaily, receipt.DailyWindowKey, receipt.Amount, receipt.CreatedAt)
	s.increment(receipt.FromAgentID, domain.GranularityMonthly, receipt.MonthlyWindowKey, receipt.Amount, receipt.CreatedAt)

	out := cp
	return &out, false, nil
}

func (s *Store) CommitRefund(_ context.Context, receipt *domain.PaymentReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.receipts[receipt.ReceiptID]
	if !ok {
		return &domain.ErrNotFound{Resource: "receipt", ID: receipt.ReceiptID}
	}

	cp := *receipt
	*stored = cp

	now := time.Now().UTC()
	s.decrement(receipt.FromAgentID, domain.GranularityDaily, receipt.DailyWindowKey, receipt.Amount, now)
	s.decrement(receipt.FromAgentID, domain.GranularityMonthly, receipt.MonthlyWindowKey, receipt.Amount, now)
	return nil
}

func (s *Store) GetReceipt(_ context.Context, receiptID string) (*domain.PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[receiptID]
	if !ok {
		return nil, nil
	}
	cp := *receipt
	return &cp, nil
}

func (s *Store) GetReceiptByExternalID(_ context.Context, externalRequestID string) (*domain.PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalRequestID]
	if !ok {
		return nil, nil
	}
	cp := *s.receipts[id]
	return &cp, nil
}

func (s *Store) ListReceiptsByAgent(_ context.Context, agentID string, page, pageSize int) ([]domain.PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAgent[agentID]
	out := make([]domain.PaymentReceipt, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.receipts[id])
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	start := (page - 1) * pageSize
	if start >= len(out) {
		return []domain.PaymentReceipt{}, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *Store) UpdateReceipt(_ context.Context, receipt *domain.PaymentReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.receipts[receipt.ReceiptID]
	if !ok {
		return &domain.ErrNotFound{Resource: "receipt", ID: receipt.ReceiptID}
	}
	cp := *receipt
	*stored = cp
	return nil
}

// ============================================================
// Wallets
// ============================================================

func (s *Store) GetWalletStatus(_ context.Context, walletID string) (*domain.WalletStatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.wallets[walletID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *Store) PutWalletStatus(_ context.Context, record *domain.WalletStatusRecord, audit *domain.WalletStatusAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.wallets[record.WalletID] = &cp
	s.audits[record.WalletID] = append(s.audits[record.WalletID], *audit)
	return nil
}

func (s *Store) ListWalletAudit(_ context.Context, walletID string) ([]domain.WalletStatusAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audits[walletID]
	out := make([]domain.WalletStatusAudit, len(entries))
	copy(out, entries)
	return out, nil
}

// Ping always succeeds; memory is never unavailable.
func (s *Store) Ping(_ context.Context) error { return nil }
