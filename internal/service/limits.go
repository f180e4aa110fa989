package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
)

// ============================================================
// Limit Store administration
// ============================================================

// AgentLimits is the admin view of an agent's configuration: the effective
// limits plus the live counters for the current windows.
type AgentLimits struct {
	Limits     *domain.SpendLimit    `json:"limits"`
	Configured bool                  `json:"configured"`
	Windows    domain.WindowKeys     `json:"windows"`
	Counters   []domain.SpendCounter `json:"counters"`
}

// effectiveLimits resolves the limits that apply to an agent: the configured
// row when present, otherwise the system defaults. Reads go through the TTL
// cache; PutLimits invalidates the entry.
func (s *GuardService) effectiveLimits(ctx context.Context, agentID string) (*domain.SpendLimit, error) {
	if s.limitCache != nil {
		if cached, ok := s.limitCache.Get(agentID); ok {
			s.metrics.IncrCacheHit("limits")
			return cached, nil
		}
		s.metrics.IncrCacheMiss("limits")
	}

	limit, err := s.store.GetLimits(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		limit = &domain.SpendLimit{
			AgentID:      agentID,
			DailyLimit:   s.defaults.Daily,
			MonthlyLimit: s.defaults.Monthly,
		}
		// Defaults are not cached: a PutLimits on another instance must be
		// picked up on the next read.
		return limit, nil
	}

	if s.limitCache != nil {
		s.limitCache.Set(agentID, limit)
	}
	return limit, nil
}

// GetAgentLimits returns the effective limits together with the current
// window counters, fetched concurrently.
func (s *GuardService) GetAgentLimits(ctx context.Context, agentID string) (*AgentLimits, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetAgentLimits")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	if agentID == "" {
		return nil, &domain.ErrValidation{Field: "agent_id", Message: "required"}
	}

	configured, err := s.store.GetLimits(ctx, agentID)
	if err != nil {
		return nil, err
	}
	limit := configured
	if limit == nil {
		limit = &domain.SpendLimit{
			AgentID:      agentID,
			DailyLimit:   s.defaults.Daily,
			MonthlyLimit: s.defaults.Monthly,
		}
	}

	keys := domain.WindowKeysAt(s.now())
	daily, monthly, err := s.fetchCounters(ctx, agentID, keys)
	if err != nil {
		return nil, err
	}

	return &AgentLimits{
		Limits:     limit,
		Configured: configured != nil,
		Windows:    keys,
		Counters:   []domain.SpendCounter{*daily, *monthly},
	}, nil
}

// SetAgentLimits replaces an agent's configured limits. Both values must be
// positive and the daily limit cannot exceed the monthly one.
func (s *GuardService) SetAgentLimits(ctx context.Context, limit *domain.SpendLimit) (*domain.SpendLimit, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.SetAgentLimits")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", limit.AgentID))

	if limit.AgentID == "" {
		return nil, &domain.ErrValidation{Field: "agent_id", Message: "required"}
	}
	if !limit.DailyLimit.IsPositive() {
		return nil, &domain.ErrValidation{Field: "daily_limit", Message: "must be positive"}
	}
	if !limit.MonthlyLimit.IsPositive() {
		return nil, &domain.ErrValidation{Field: "monthly_limit", Message: "must be positive"}
	}
	if limit.DailyLimit.GreaterThan(limit.MonthlyLimit) {
		return nil, &domain.ErrValidation{Field: "daily_limit", Message: "cannot exceed monthly_limit"}
	}

	limit.UpdatedAt = s.now().UTC()
	if err := s.store.PutLimits(ctx, limit); err != nil {
		s.logger.Error("failed to update limits",
			zap.String("agent_id", limit.AgentID),
			zap.Error(err),
		)
		return nil, err
	}
	if s.limitCache != nil {
		s.limitCache.Delete(limit.AgentID)
	}

	s.logger.Info("limits updated",
		zap.String("agent_id", limit.AgentID),
		zap.String("daily_limit", limit.DailyLimit.String()),
		zap.String("monthly_limit", limit.MonthlyLimit.String()),
		zap.String("updated_by", limit.UpdatedBy),
	)
	return limit, nil
}

// GetAgentCounters returns the live counters for the current windows.
func (s *GuardService) GetAgentCounters(ctx context.Context, agentID string) ([]domain.SpendCounter, error) {
	ctx, span := guardTracer.Start(ctx, "GuardService.GetAgentCounters")
	defer span.End()

	if agentID == "" {
		return nil, &domain.ErrValidation{Field: "agent_id", Message: "required"}
	}

	keys := domain.WindowKeysAt(s.now())
	daily, monthly, err := s.fetchCounters(ctx, agentID, keys)
	if err != nil {
		return nil, err
	}
	return []domain.SpendCounter{*daily, *monthly}, nil
}
