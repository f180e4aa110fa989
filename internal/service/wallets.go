package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
)

// ============================================================
// Wallet Status Manager
// ============================================================

// UpdateWalletStatusRequest carries one admin-initiated status change.
type UpdateWalletStatusRequest struct {
	WalletID    string              `json:"-"`
	Status      domain.WalletStatus `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	FrozenUntil *time.Time          `json:"frozen_until,omitempty"`
	UpdatedBy   string              `json:"-"`
}

// resolveWalletStatus returns the local status record for a wallet,
// provisioning one from the custodial provider on first sight. A wallet the
// provider has never heard of defaults to active.
func (s *GuardService) resolveWalletStatus(ctx context.Context, walletID string) (*domain.WalletStatusRecord, error) {
	record, err := s.store.GetWalletStatus(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	return s.EnsureWallet(ctx, walletID)
}

// EnsureWallet provisions a local status record for a wallet not yet seen,
// syncing the initial status from the custodial provider. Without a provider
// (or when the provider has no record) the wallet starts active.
func (s *GuardService) EnsureWallet(ctx context.Context, walletID string) (*domain.WalletStatusRecord, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.EnsureWallet")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.id", walletID))

	unlock := s.walletLocks.Lock(walletID)
	defer unlock()

	// Re-check under the lock; another request may have provisioned it.
	record, err := s.store.GetWalletStatus(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	status := domain.WalletActive
	if s.provider != nil {
		providerStatus, err := s.provider.GetWalletStatus(ctx, walletID)
		if err != nil {
			s.metrics.IncrExternalError("walletd")
			s.logger.Error("wallet provider sync failed",
				zap.String("wallet_id", walletID),
				zap.Error(err),
			)
			return nil, &domain.ErrExternalService{Service: "walletd", Err: err}
		}
		if providerStatus != "" {
			status = providerStatus
		}
	}

	now := s.now().UTC()
	record = &domain.WalletStatusRecord{
		WalletID:  walletID,
		Status:    status,
		Reason:    "provisioned from provider sync",
		UpdatedAt: now,
		UpdatedBy: "system",
	}
	audit := &domain.WalletStatusAudit{
		ID:         uuid.New().String(),
		WalletID:   walletID,
		FromStatus: "",
		ToStatus:   status,
		Reason:     record.Reason,
		UpdatedBy:  "system",
		CreatedAt:  now,
	}
	if err := s.store.PutWalletStatus(ctx, record, audit); err != nil {
		return nil, err
	}

	s.logger.Info("wallet provisioned",
		zap.String("wallet_id", walletID),
		zap.String("status", string(status)),
	)
	return record, nil
}

// UpdateWalletStatus applies an admin status change, enforcing the
// transition table and appending an audit entry on success.
func (s *GuardService) UpdateWalletStatus(ctx context.Context, req *UpdateWalletStatusRequest) (*domain.WalletStatusRecord, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.UpdateWalletStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("wallet.id", req.WalletID),
		attribute.String("wallet.status", string(req.Status)),
	)

	if req.WalletID == "" {
		return nil, &domain.ErrValidation{Field: "wallet_id", Message: "required"}
	}
	switch req.Status {
	case domain.WalletActive, domain.WalletPaused, domain.WalletFrozen, domain.WalletInactive:
	default:
		return nil, &domain.ErrValidation{Field: "status", Message: "must be active, paused, frozen or inactive"}
	}
	if domain.StatusRequiresReason(req.Status) && req.Reason == "" {
		return nil, &domain.ErrValidation{Field: "reason", Message: "required for frozen and inactive"}
	}

	unlock := s.walletLocks.Lock(req.WalletID)
	defer unlock()

	current, err := s.store.GetWalletStatus(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &domain.ErrNotFound{Resource: "wallet", ID: req.WalletID}
	}

	if !domain.CanTransitionWallet(current.Status, req.Status) {
		return nil, &domain.ErrInvalidStatusTransition{
			WalletID: req.WalletID,
			From:     current.Status,
			To:       req.Status,
		}
	}

	now := s.now().UTC()
	record := &domain.WalletStatusRecord{
		WalletID:       req.WalletID,
		Status:         req.Status,
		PreviousStatus: current.Status,
		Reason:         req.Reason,
		FrozenUntil:    req.FrozenUntil,
		UpdatedAt:      now,
		UpdatedBy:      req.UpdatedBy,
	}
	audit := &domain.WalletStatusAudit{
		ID:          uuid.New().String(),
		WalletID:    req.WalletID,
		FromStatus:  current.Status,
		ToStatus:    req.Status,
		Reason:      req.Reason,
		FrozenUntil: req.FrozenUntil,
		UpdatedBy:   req.UpdatedBy,
		CreatedAt:   now,
	}

	if err := s.store.PutWalletStatus(ctx, record, audit); err != nil {
		s.logger.Error("failed to update wallet status",
			zap.String("wallet_id", req.WalletID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordWalletTransition(string(req.Status))
	s.logger.Info("wallet status updated",
		zap.String("wallet_id", req.WalletID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(req.Status)),
		zap.String("updated_by", req.UpdatedBy),
	)
	return record, nil
}

// GetWalletStatus returns the current status record for a wallet.
func (s *GuardService) GetWalletStatus(ctx context.Context, walletID string) (*domain.WalletStatusRecord, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetWalletStatus")
	defer span.End()

	record, err := s.store.GetWalletStatus(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.ErrNotFound{Resource: "wallet", ID: walletID}
	}
	return record, nil
}

// GetWalletHistory returns a wallet's status transitions, oldest first.
func (s *GuardService) GetWalletHistory(ctx context.Context, walletID string) ([]domain.WalletStatusAudit, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetWalletHistory")
	defer span.End()

	record, err := s.store.GetWalletStatus(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &domain.ErrNotFound{Resource: "wallet", ID: walletID}
	}
	return s.store.ListWalletAudit(ctx, walletID)
}
