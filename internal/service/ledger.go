package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
)

// ============================================================
// Receipt Ledger
// ============================================================

// GetReceipt returns one receipt by its internal ID.
func (s *GuardService) GetReceipt(ctx context.Context, receiptID string) (*domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetReceipt")
	defer span.End()

	receipt, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &domain.ErrNotFound{Resource: "receipt", ID: receiptID}
	}
	return receipt, nil
}

// GetReceiptByExternalRequestID returns the receipt recorded for an
// integrator idempotency key.
func (s *GuardService) GetReceiptByExternalRequestID(ctx context.Context, externalRequestID string) (*domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetReceiptByExternalRequestID")
	defer span.End()

	receipt, err := s.store.GetReceiptByExternalID(ctx, externalRequestID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &domain.ErrNotFound{Resource: "receipt", ID: externalRequestID}
	}
	return receipt, nil
}

// ListAgentReceipts returns an agent's receipts, newest first.
func (s *GuardService) ListAgentReceipts(ctx context.Context, agentID string, page, pageSize int) ([]domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.ListAgentReceipts")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return s.store.ListReceiptsByAgent(ctx, agentID, page, pageSize)
}

// MarkConfirmed transitions a pending receipt to confirmed, recording the
// settlement transaction hash. A repeated confirm with the same hash is an
// idempotent no-op; any other transition is rejected.
func (s *GuardService) MarkConfirmed(ctx context.Context, receiptID, transactionHash string) (*domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.MarkConfirmed")
	defer span.End()
	span.SetAttributes(attribute.String("receipt.id", receiptID))

	if transactionHash == "" {
		return nil, &domain.ErrValidation{Field: "transaction_hash", Message: "required"}
	}

	unlock := s.receiptLocks.Lock(receiptID)
	defer unlock()

	receipt, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	switch receipt.Status {
	case domain.ReceiptConfirmed:
		if receipt.TransactionHash == transactionHash {
			return receipt, nil
		}
		// Same receipt, conflicting settlement evidence. Not a replay.
		return nil, &domain.ErrInvalidTransition{
			ReceiptID: receiptID,
			From:      receipt.Status,
			To:        domain.ReceiptConfirmed,
		}
	case domain.ReceiptPending:
		// fall through to the transition
	default:
		return nil, &domain.ErrInvalidTransition{
			ReceiptID: receiptID,
			From:      receipt.Status,
			To:        domain.ReceiptConfirmed,
		}
	}

	now := s.now().UTC()
	receipt.Status = domain.ReceiptConfirmed
	receipt.TransactionHash = transactionHash
	receipt.ConfirmedAt = &now

	if err := s.store.UpdateReceipt(ctx, receipt); err != nil {
		s.logger.Error("failed to confirm receipt",
			zap.String("receipt_id", receiptID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordSettlementEvent("confirmed")
	s.logger.Info("receipt confirmed",
		zap.String("receipt_id", receiptID),
		zap.String("transaction_hash", transactionHash),
	)
	return receipt, nil
}

// MarkFailed transitions a pending receipt to failed. The counters are left
// as committed at authorize time; failed spend still counts against the
// window until an explicit refund of a confirmed payment.
func (s *GuardService) MarkFailed(ctx context.Context, receiptID, reason string) (*domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.MarkFailed")
	defer span.End()
	span.SetAttributes(attribute.String("receipt.id", receiptID))

	unlock := s.receiptLocks.Lock(receiptID)
	defer unlock()

	receipt, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.Status != domain.ReceiptPending {
		return nil, &domain.ErrInvalidTransition{
			ReceiptID: receiptID,
			From:      receipt.Status,
			To:        domain.ReceiptFailed,
		}
	}

	receipt.Status = domain.ReceiptFailed
	receipt.FailureReason = reason

	if err := s.store.UpdateReceipt(ctx, receipt); err != nil {
		s.logger.Error("failed to mark receipt failed",
			zap.String("receipt_id", receiptID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordSettlementEvent("failed")
	s.logger.Info("receipt marked failed",
		zap.String("receipt_id", receiptID),
		zap.String("reason", reason),
	)
	return receipt, nil
}

// MarkRefunded transitions a confirmed receipt to refunded and credits the
// amount back to the counters whose window has not rolled over since the
// original spend. The transition and the counter credits commit atomically.
func (s *GuardService) MarkRefunded(ctx context.Context, receiptID, reason string) (*domain.PaymentReceipt, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.MarkRefunded")
	defer span.End()
	span.SetAttributes(attribute.String("receipt.id", receiptID))

	unlock := s.receiptLocks.Lock(receiptID)
	defer unlock()

	receipt, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.Status != domain.ReceiptConfirmed {
		return nil, &domain.ErrInvalidTransition{
			ReceiptID: receiptID,
			From:      receipt.Status,
			To:        domain.ReceiptRefunded,
		}
	}

	// Serialize with authorizations for the same agent so the decrement
	// cannot interleave with a limit check.
	unlockAgent := s.agentLocks.Lock(receipt.FromAgentID)
	defer unlockAgent()

	receipt.Status = domain.ReceiptRefunded
	receipt.RefundReason = reason

	if err := s.store.CommitRefund(ctx, receipt); err != nil {
		s.logger.Error("failed to refund receipt",
			zap.String("receipt_id", receiptID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordSettlementEvent("refunded")
	s.logger.Info("receipt refunded",
		zap.String("receipt_id", receiptID),
		zap.String("agent_id", receipt.FromAgentID),
		zap.String("amount", receipt.Amount.String()),
		zap.String("daily_window", receipt.DailyWindowKey),
	)
	return receipt, nil
}
