package domain_test

import (
	"testing"
	"time"

	"github.com/agentpay/guard-go/internal/domain"
)

func TestWindowKeysAt_UTC(t *testing.T) {
	instant := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	keys := domain.WindowKeysAt(instant)

	if keys.Daily != "2026-03-15" {
		t.Errorf("expected daily key '2026-03-15', got '%s'", keys.Daily)
	}
	if keys.Monthly != "2026-03" {
		t.Errorf("expected monthly key '2026-03', got '%s'", keys.Monthly)
	}
}

func TestWindowKeysAt_ConvertsToUTC(t *testing.T) {
	// 23:30 March 15 in UTC-5 is 04:30 March 16 UTC.
	// The key must follow UTC, not the local zone.
	loc := time.FixedZone("UTC-5", -5*3600)
	instant := time.Date(2026, 3, 15, 23, 30, 0, 0, loc)

	keys := domain.WindowKeysAt(instant)
	if keys.Daily != "2026-03-16" {
		t.Errorf("expected daily key '2026-03-16', got '%s'", keys.Daily)
	}
}

func TestWindowKeysAt_DayRolloverKeepsMonth(t *testing.T) {
	day1 := domain.WindowKeysAt(time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC))
	day2 := domain.WindowKeysAt(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC))

	if day1.Daily == day2.Daily {
		t.Error("expected daily key to change across midnight")
	}
	if day1.Monthly != day2.Monthly {
		t.Error("expected monthly key to be stable within the month")
	}
}

func TestWindowKeysAt_MonthRollover(t *testing.T) {
	before := domain.WindowKeysAt(time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC))
	after := domain.WindowKeysAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	if before.Monthly == after.Monthly {
		t.Error("expected monthly key to change across month boundary")
	}
}

func TestWindowKeys_KeyFor(t *testing.T) {
	keys := domain.WindowKeys{Daily: "2026-03-15", Monthly: "2026-03"}

	if got := keys.KeyFor(domain.GranularityDaily); got != "2026-03-15" {
		t.Errorf("expected daily key, got '%s'", got)
	}
	if got := keys.KeyFor(domain.GranularityMonthly); got != "2026-03" {
		t.Errorf("expected monthly key, got '%s'", got)
	}
}

func TestCanTransitionWallet(t *testing.T) {
	cases := []struct {
		from, to domain.WalletStatus
		want     bool
	}{
		{domain.WalletActive, domain.WalletPaused, true},
		{domain.WalletActive, domain.WalletFrozen, true},
		{domain.WalletActive, domain.WalletInactive, true},
		{domain.WalletPaused, domain.WalletActive, true},
		{domain.WalletFrozen, domain.WalletActive, true},
		{domain.WalletPaused, domain.WalletFrozen, false},
		{domain.WalletInactive, domain.WalletActive, false},
		{domain.WalletInactive, domain.WalletPaused, false},
		{domain.WalletFrozen, domain.WalletInactive, false},
		{domain.WalletActive, domain.WalletActive, false},
	}

	for _, c := range cases {
		if got := domain.CanTransitionWallet(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionWallet(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusRequiresReason(t *testing.T) {
	if !domain.StatusRequiresReason(domain.WalletFrozen) {
		t.Error("frozen must require a reason")
	}
	if !domain.StatusRequiresReason(domain.WalletInactive) {
		t.Error("inactive must require a reason")
	}
	if domain.StatusRequiresReason(domain.WalletPaused) {
		t.Error("paused must not require a reason")
	}
}
