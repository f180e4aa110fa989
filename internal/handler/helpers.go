package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

// errorResponse is the uniform rejection payload. Code carries the stable
// machine-readable rejection code; Violations is populated only for limit
// rejections and always lists every violated scope.
type errorResponse struct {
	Error      string                  `json:"error"`
	Code       string                  `json:"code,omitempty"`
	Violations []domain.LimitViolation `json:"violations,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string, violations []domain.LimitViolation) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, Violations: violations})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 50
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 200 {
			pageSize = ps
		}
	}
	return
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var invalidAmount *domain.ErrInvalidAmount
	var walletNotActive *domain.ErrWalletNotActive
	var limitExceeded *domain.ErrSpendingLimitExceeded
	var invalidTransition *domain.ErrInvalidTransition
	var invalidStatusTransition *domain.ErrInvalidStatusTransition
	var storageUnavailable *domain.ErrStorageUnavailable
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &invalidAmount):
		logger.Debug("invalid amount", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, invalidAmount.Code(), err.Error(), nil)
	case errors.As(err, &walletNotActive):
		logger.Warn("wallet not active",
			zap.String("wallet_id", walletNotActive.WalletID),
			zap.String("status", string(walletNotActive.Status)),
		)
		writeCodedError(w, http.StatusForbidden, walletNotActive.Code(), err.Error(), nil)
	case errors.As(err, &limitExceeded):
		logger.Info("spending limit exceeded",
			zap.String("agent_id", limitExceeded.AgentID),
			zap.Int("violations", len(limitExceeded.Violations)),
		)
		writeCodedError(w, http.StatusUnprocessableEntity, limitExceeded.Code(), err.Error(), limitExceeded.Violations)
	case errors.As(err, &invalidTransition):
		logger.Warn("invalid receipt transition", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusConflict, invalidTransition.Code(), err.Error(), nil)
	case errors.As(err, &invalidStatusTransition):
		logger.Warn("invalid wallet status transition", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusConflict, invalidStatusTransition.Code(), err.Error(), nil)
	case errors.As(err, &storageUnavailable):
		logger.Error("storage unavailable", zap.Error(err))
		writeCodedError(w, http.StatusServiceUnavailable, storageUnavailable.Code(), err.Error(), nil)
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
