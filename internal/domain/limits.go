package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Spending Limits & Counters
// ============================================================

// Granularity identifies the time window a counter accumulates over.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// SpendLimit holds the configured per-agent limits. Absence of a row means
// the system defaults apply. Immutable except by explicit admin update.
type SpendLimit struct {
	AgentID      string          `json:"agent_id"`
	DailyLimit   decimal.Decimal `json:"daily_limit"`
	MonthlyLimit decimal.Decimal `json:"monthly_limit"`
	UpdatedAt    time.Time       `json:"updated_at"`
	UpdatedBy    string          `json:"updated_by,omitempty"`
}

// SpendCounter accumulates committed spend for one agent in one window.
// Spent only grows within a window; a stale WindowKey reads as zero and is
// physically reset on the next write (lazy reset, no background sweep).
type SpendCounter struct {
	AgentID     string          `json:"agent_id"`
	Granularity Granularity     `json:"granularity"`
	WindowKey   string          `json:"window_key"`
	Spent       decimal.Decimal `json:"spent"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LimitViolation describes one violated scope in a rejected authorization.
// The rejection payload always lists every violated scope, never just the
// first one found.
type LimitViolation struct {
	Scope     Granularity     `json:"scope"`
	Limit     decimal.Decimal `json:"limit"`
	Spent     decimal.Decimal `json:"spent"`
	Requested decimal.Decimal `json:"requested"`
}
