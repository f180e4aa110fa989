package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/service"
)

// ============================================================
// Limit administration
// ============================================================

// GET /v1/agents/{agentId}/limits
func getAgentLimitsHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetAgentLimits")
		defer span.End()

		agentID := chi.URLParam(r, "agentId")
		view, err := svc.GetAgentLimits(ctx, agentID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type setLimitsRequest struct {
	DailyLimit   decimal.Decimal `json:"daily_limit"`
	MonthlyLimit decimal.Decimal `json:"monthly_limit"`
}

// PUT /v1/agents/{agentId}/limits (admin)
func setAgentLimitsHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.SetAgentLimits")
		defer span.End()

		agentID := chi.URLParam(r, "agentId")

		var req setLimitsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		limit, err := svc.SetAgentLimits(ctx, &domain.SpendLimit{
			AgentID:      agentID,
			DailyLimit:   req.DailyLimit,
			MonthlyLimit: req.MonthlyLimit,
			UpdatedBy:    CallerFromContext(ctx),
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, limit)
	}
}

// GET /v1/agents/{agentId}/counters
func getAgentCountersHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handler.GetAgentCounters")
		defer span.End()

		agentID := chi.URLParam(r, "agentId")
		counters, err := svc.GetAgentCounters(ctx, agentID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counters": counters})
	}
}
