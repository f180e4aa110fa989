package domain

// GuardMetricsSnapshot summarizes guardrail activity for the admin metrics
// endpoint. Values are cumulative since process start.
type GuardMetricsSnapshot struct {
	AuthorizationsApproved float64 `json:"authorizations_approved"`
	AuthorizationsRejected float64 `json:"authorizations_rejected"`
	AuthorizationsReplayed float64 `json:"authorizations_replayed"`
	LimitRejectionsDaily   float64 `json:"limit_rejections_daily"`
	LimitRejectionsMonthly float64 `json:"limit_rejections_monthly"`
	SettlementsConfirmed   float64 `json:"settlements_confirmed"`
	SettlementsFailed      float64 `json:"settlements_failed"`
	SettlementsRefunded    float64 `json:"settlements_refunded"`
	ApprovalRate           float64 `json:"approval_rate"`
	CacheHitRate           float64 `json:"cache_hit_rate"`
}
