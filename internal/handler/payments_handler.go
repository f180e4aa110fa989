package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/service"
)

// ============================================================
// Payment authorization & receipts
// ============================================================

// POST /v1/payments/authorize
// 201 on a fresh authorization, 200 on an idempotent replay.
func authorizeHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.Authorize")
		defer span.End()

		var req domain.AuthorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		receipt, replayed, err := svc.Authorize(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, receipt)
	}
}

// GET /v1/payments/receipts/{receiptId}
func getReceiptHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetReceipt")
		defer span.End()

		receiptID := chi.URLParam(r, "receiptId")
		receipt, err := svc.GetReceipt(ctx, receiptID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// GET /v1/payments/receipts?external_request_id=...
func getReceiptByExternalHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetReceiptByExternal")
		defer span.End()

		externalID := r.URL.Query().Get("external_request_id")
		if externalID == "" {
			writeError(w, http.StatusBadRequest, "external_request_id query parameter is required")
			return
		}

		receipt, err := svc.GetReceiptByExternalRequestID(ctx, externalID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// GET /v1/agents/{agentId}/receipts
func listAgentReceiptsHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.ListAgentReceipts")
		defer span.End()

		agentID := chi.URLParam(r, "agentId")
		page, pageSize := parsePagination(r)

		receipts, err := svc.ListAgentReceipts(ctx, agentID, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"receipts":  receipts,
			"page":      page,
			"page_size": pageSize,
		})
	}
}
