package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/service"
)

// ============================================================
// Wallet status
// ============================================================

// POST /v1/wallets/{walletId}/status (admin)
func updateWalletStatusHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.UpdateWalletStatus")
		defer span.End()

		var req service.UpdateWalletStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		req.WalletID = chi.URLParam(r, "walletId")
		req.UpdatedBy = CallerFromContext(ctx)

		record, err := svc.UpdateWalletStatus(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// GET /v1/wallets/{walletId}/status
func getWalletStatusHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetWalletStatus")
		defer span.End()

		record, err := svc.GetWalletStatus(ctx, chi.URLParam(r, "walletId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// GET /v1/wallets/{walletId}/status/history
func getWalletHistoryHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetWalletHistory")
		defer span.End()

		history, err := svc.GetWalletHistory(ctx, chi.URLParam(r, "walletId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	}
}
