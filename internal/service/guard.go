// Package service provides the business logic layer (use cases).
// GuardService enforces spending limits, records payment receipts,
// and tracks wallet operational status for autonomous agents.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/infra/observability"
	"github.com/agentpay/guard-go/internal/port"
)

var guardTracer = otel.Tracer("service/guard")

// LimitDefaults are the system-wide limits applied to agents without a
// configured row.
type LimitDefaults struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// GuardService orchestrates authorization, settlement, limit administration
// and wallet status tracking on top of the persistence port.
type GuardService struct {
	store      port.Store
	provider   port.WalletProvider
	limitCache port.Cache[*domain.SpendLimit]
	defaults   LimitDefaults
	metrics    *observability.Metrics
	logger     *zap.Logger

	now func() time.Time

	agentLocks   *keyedMutex
	receiptLocks *keyedMutex
	walletLocks  *keyedMutex
}

// NewGuardService creates a new guard service. provider and limitCache may
// be nil; the service then skips provider sync and limit caching.
func NewGuardService(
	store port.Store,
	provider port.WalletProvider,
	limitCache port.Cache[*domain.SpendLimit],
	defaults LimitDefaults,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *GuardService {
	return &GuardService{
		store:        store,
		provider:     provider,
		limitCache:   limitCache,
		defaults:     defaults,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		agentLocks:   newKeyedMutex(),
		receiptLocks: newKeyedMutex(),
		walletLocks:  newKeyedMutex(),
	}
}

// SetClock overrides the time source. Test hook; production code always
// runs on time.Now.
func (s *GuardService) SetClock(now func() time.Time) {
	s.now = now
}

// Ping reports whether the backing store is reachable.
func (s *GuardService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ============================================================
// Spend Guard
// ============================================================

// Authorize runs the full guardrail pipeline for one payment attempt:
// amount validation, wallet status gate, limit check against both windows,
// then atomic receipt creation plus counter increments. The returned bool
// is true when the request replayed an already-recorded external_request_id.
//
// Authorizations for the same agent are fully serialized, so two requests
// can never both pass the limit check on the same stale counter.
func (s *GuardService) Authorize(ctx context.Context, req *domain.AuthorizeRequest) (*domain.PaymentReceipt, bool, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("wallet.id", req.WalletID),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("authorize", time.Since(start)) }()

	if req.AgentID == "" {
		return nil, false, &domain.ErrValidation{Field: "agent_id", Message: "required"}
	}
	if req.WalletID == "" {
		return nil, false, &domain.ErrValidation{Field: "wallet_id", Message: "required"}
	}
	if req.ExternalRequestID == "" {
		return nil, false, &domain.ErrValidation{Field: "external_request_id", Message: "required"}
	}
	if !req.Amount.IsPositive() {
		s.metrics.RecordAuthorization(domain.CodeInvalidAmount)
		return nil, false, &domain.ErrInvalidAmount{Amount: req.Amount}
	}

	unlock := s.agentLocks.Lock(req.AgentID)
	defer unlock()

	// Replay fast path. A duplicate external_request_id returns the original
	// receipt untouched, no matter its current settlement status and without
	// re-running the wallet or limit checks.
	if existing, err := s.store.GetReceiptByExternalID(ctx, req.ExternalRequestID); err != nil {
		return nil, false, err
	} else if existing != nil {
		s.metrics.RecordAuthorization("replayed")
		s.logger.Info("authorization replayed",
			zap.String("agent_id", req.AgentID),
			zap.String("external_request_id", req.ExternalRequestID),
			zap.String("receipt_id", existing.ReceiptID),
		)
		return existing, true, nil
	}

	// Wallet status gate.
	record, err := s.resolveWalletStatus(ctx, req.WalletID)
	if err != nil {
		return nil, false, err
	}
	if record.Status != domain.WalletActive {
		s.metrics.RecordAuthorization(domain.CodeWalletNotActive)
		s.logger.Warn("authorization blocked by wallet status",
			zap.String("agent_id", req.AgentID),
			zap.String("wallet_id", req.WalletID),
			zap.String("status", string(record.Status)),
		)
		return nil, false, &domain.ErrWalletNotActive{
			WalletID: req.WalletID,
			Status:   record.Status,
			Reason:   record.Reason,
		}
	}

	keys := domain.WindowKeysAt(s.now())

	limit, err := s.effectiveLimits(ctx, req.AgentID)
	if err != nil {
		return nil, false, err
	}

	daily, monthly, err := s.fetchCounters(ctx, req.AgentID, keys)
	if err != nil {
		return nil, false, err
	}

	// Check both scopes and report every violated one.
	var violations []domain.LimitViolation
	if daily.Spent.Add(req.Amount).GreaterThan(limit.DailyLimit) {
		violations = append(violations, domain.LimitViolation{
			Scope:     domain.GranularityDaily,
			Limit:     limit.DailyLimit,
			Spent:     daily.Spent,
			Requested: req.Amount,
		})
	}
	if monthly.Spent.Add(req.Amount).GreaterThan(limit.MonthlyLimit) {
		violations = append(violations, domain.LimitViolation{
			Scope:     domain.GranularityMonthly,
			Limit:     limit.MonthlyLimit,
			Spent:     monthly.Spent,
			Requested: req.Amount,
		})
	}
	if len(violations) > 0 {
		s.metrics.RecordAuthorization(domain.CodeSpendingLimitExceeded)
		for _, v := range violations {
			s.metrics.RecordLimitRejection(string(v.Scope))
		}
		s.logger.Info("authorization rejected by limits",
			zap.String("agent_id", req.AgentID),
			zap.String("amount", req.Amount.String()),
			zap.Int("violations", len(violations)),
		)
		return nil, false, &domain.ErrSpendingLimitExceeded{AgentID: req.AgentID, Violations: violations}
	}

	receipt := &domain.PaymentReceipt{
		ReceiptID:         uuid.New().String(),
		ExternalRequestID: req.ExternalRequestID,
		FromAgentID:       req.AgentID,
		ToAgentID:         req.ToAgentID,
		WalletID:          req.WalletID,
		Amount:            req.Amount,
		Purpose:           req.Purpose,
		Status:            domain.ReceiptPending,
		DailyWindowKey:    keys.Daily,
		MonthlyWindowKey:  keys.Monthly,
		CreatedAt:         s.now().UTC(),
		Metadata:          req.Metadata,
	}

	created, replayed, err := s.store.CommitAuthorization(ctx, receipt)
	if err != nil {
		s.logger.Error("failed to commit authorization",
			zap.String("agent_id", req.AgentID),
			zap.String("external_request_id", req.ExternalRequestID),
			zap.Error(err),
		)
		return nil, false, err
	}
	if replayed {
		// Lost a race with a duplicate outside our lock scope (e.g. another
		// instance). The store kept the original; surface it as a replay.
		s.metrics.RecordAuthorization("replayed")
		return created, true, nil
	}

	s.metrics.RecordAuthorization("approved")
	s.logger.Info("payment authorized",
		zap.String("agent_id", req.AgentID),
		zap.String("receipt_id", created.ReceiptID),
		zap.String("wallet_id", req.WalletID),
		zap.String("amount", req.Amount.String()),
		zap.String("daily_window", keys.Daily),
	)
	return created, false, nil
}

// fetchCounters reads both window counters concurrently. Missing or
// stale-window rows come back as zero counters for the requested keys.
func (s *GuardService) fetchCounters(ctx context.Context, agentID string, keys domain.WindowKeys) (daily, monthly *domain.SpendCounter, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := s.store.GetCounter(gctx, agentID, domain.GranularityDaily, keys.Daily)
		if err != nil {
			return err
		}
		daily = c
		return nil
	})
	g.Go(func() error {
		c, err := s.store.GetCounter(gctx, agentID, domain.GranularityMonthly, keys.Monthly)
		if err != nil {
			return err
		}
		monthly = c
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if daily == nil {
		daily = &domain.SpendCounter{AgentID: agentID, Granularity: domain.GranularityDaily, WindowKey: keys.Daily, Spent: decimal.Zero}
	}
	if monthly == nil {
		monthly = &domain.SpendCounter{AgentID: agentID, Granularity: domain.GranularityMonthly, WindowKey: keys.Monthly, Spent: decimal.Zero}
	}
	return daily, monthly, nil
}
