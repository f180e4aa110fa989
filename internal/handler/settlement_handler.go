package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/service"
)

// ============================================================
// Settlement events (confirm / fail / refund)
// ============================================================

type settlementRequest struct {
	ReceiptID       string `json:"receipt_id"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func decodeSettlement(w http.ResponseWriter, r *http.Request) (*settlementRequest, bool) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.ReceiptID == "" {
		writeError(w, http.StatusBadRequest, "receipt_id is required")
		return nil, false
	}
	return &req, true
}

// POST /v1/settlement/confirm
func confirmHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.ConfirmSettlement")
		defer span.End()

		req, ok := decodeSettlement(w, r)
		if !ok {
			return
		}

		receipt, err := svc.MarkConfirmed(ctx, req.ReceiptID, req.TransactionHash)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// POST /v1/settlement/fail
func failHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.FailSettlement")
		defer span.End()

		req, ok := decodeSettlement(w, r)
		if !ok {
			return
		}

		receipt, err := svc.MarkFailed(ctx, req.ReceiptID, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// POST /v1/settlement/refund
func refundHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.RefundSettlement")
		defer span.End()

		req, ok := decodeSettlement(w, r)
		if !ok {
			return
		}

		receipt, err := svc.MarkRefunded(ctx, req.ReceiptID, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}
