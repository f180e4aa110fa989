package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/infra/memstore"
)

func receiptFixture(id, external, agent string, amount string, keys domain.WindowKeys) *domain.PaymentReceipt {
	return &domain.PaymentReceipt{
		ReceiptID:         id,
		ExternalRequestID: external,
		FromAgentID:       agent,
		WalletID:          "wallet-1",
		Amount:            decimal.RequireFromString(amount),
		Status:            domain.ReceiptPending,
		DailyWindowKey:    keys.Daily,
		MonthlyWindowKey:  keys.Monthly,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestCommitAuthorization_IncrementsBothCounters(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := domain.WindowKeys{Daily: "2026-08-30", Monthly: "2026-08"}

	_, replayed, err := store.CommitAuthorization(ctx, receiptFixture("r1", "ext-1", "agent-1", "25.50", keys))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Fatal("first commit must not be a replay")
	}
	_, _, err = store.CommitAuthorization(ctx, receiptFixture("r2", "ext-2", "agent-1", "10", keys))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	daily, _ := store.GetCounter(ctx, "agent-1", domain.GranularityDaily, keys.Daily)
	monthly, _ := store.GetCounter(ctx, "agent-1", domain.GranularityMonthly, keys.Monthly)

	if !daily.Spent.Equal(decimal.RequireFromString("35.50")) {
		t.Errorf("daily spent = %s, want 35.50", daily.Spent)
	}
	if !monthly.Spent.Equal(decimal.RequireFromString("35.50")) {
		t.Errorf("monthly spent = %s, want 35.50", monthly.Spent)
	}
}

func TestCommitAuthorization_ReplayLeavesCountersUntouched(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := domain.WindowKeys{Daily: "2026-08-30", Monthly: "2026-08"}

	original, _, err := store.CommitAuthorization(ctx, receiptFixture("r1", "ext-1", "agent-1", "25", keys))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same external ID, different amount and receipt ID.
	got, replayed, err := store.CommitAuthorization(ctx, receiptFixture("r2", "ext-1", "agent-1", "99", keys))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replayed {
		t.Fatal("expected replay")
	}
	if got.ReceiptID != original.ReceiptID {
		t.Errorf("replay returned %s, want original %s", got.ReceiptID, original.ReceiptID)
	}
	if !got.Amount.Equal(decimal.RequireFromString("25")) {
		t.Errorf("replay amount = %s, want original 25", got.Amount)
	}

	daily, _ := store.GetCounter(ctx, "agent-1", domain.GranularityDaily, keys.Daily)
	if !daily.Spent.Equal(decimal.RequireFromString("25")) {
		t.Errorf("daily spent = %s, want 25 (no double count)", daily.Spent)
	}
}

func TestGetCounter_StaleWindowReadsAsZero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := domain.WindowKeys{Daily: "2026-08-30", Monthly: "2026-08"}

	if _, _, err := store.CommitAuthorization(ctx, receiptFixture("r1", "ext-1", "agent-1", "40", keys)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Next day: daily counter reads zero, monthly still accumulates.
	daily, _ := store.GetCounter(ctx, "agent-1", domain.GranularityDaily, "2026-08-31")
	monthly, _ := store.GetCounter(ctx, "agent-1", domain.GranularityMonthly, "2026-08")

	if !daily.Spent.IsZero() {
		t.Errorf("rolled-over daily spent = %s, want 0", daily.Spent)
	}
	if !monthly.Spent.Equal(decimal.RequireFromString("40")) {
		t.Errorf("monthly spent = %s, want 40", monthly.Spent)
	}
}

func TestCommitRefund_OnlyDecrementsMatchingWindows(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := domain.WindowKeys{Daily: "2026-08-30", Monthly: "2026-08"}

	receipt, _, err := store.CommitAuthorization(ctx, receiptFixture("r1", "ext-1", "agent-1", "40", keys))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later spend in the next daily window carries the counter forward.
	next := domain.WindowKeys{Daily: "2026-08-31", Monthly: "2026-08"}
	if _, _, err := store.CommitAuthorization(ctx, receiptFixture("r2", "ext-2", "agent-1", "10", next)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	receipt.Status = domain.ReceiptRefunded
	if err := store.CommitRefund(ctx, receipt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Daily window rolled over before the refund: no daily effect.
	daily, _ := store.GetCounter(ctx, "agent-1", domain.GranularityDaily, "2026-08-31")
	if !daily.Spent.Equal(decimal.RequireFromString("10")) {
		t.Errorf("daily spent = %s, want 10", daily.Spent)
	}

	// Monthly window still matches: 40 + 10 - 40 = 10.
	monthly, _ := store.GetCounter(ctx, "agent-1", domain.GranularityMonthly, "2026-08")
	if !monthly.Spent.Equal(decimal.RequireFromString("10")) {
		t.Errorf("monthly spent = %s, want 10", monthly.Spent)
	}

	stored, _ := store.GetReceipt(ctx, "r1")
	if stored.Status != domain.ReceiptRefunded {
		t.Errorf("receipt status = %s, want refunded", stored.Status)
	}
}

func TestListReceiptsByAgent_Pagination(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	keys := domain.WindowKeys{Daily: "2026-08-30", Monthly: "2026-08"}

	for i := 0; i < 5; i++ {
		r := receiptFixture("r"+string(rune('0'+i)), "ext-"+string(rune('0'+i)), "agent-1", "1", keys)
		r.CreatedAt = time.Date(2026, 8, 30, 10, i, 0, 0, time.UTC)
		if _, _, err := store.CommitAuthorization(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	page1, err := store.ListReceiptsByAgent(ctx, "agent-1", 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 size = %d, want 2", len(page1))
	}
	if page1[0].ReceiptID != "r4" {
		t.Errorf("newest first: got %s, want r4", page1[0].ReceiptID)
	}

	page3, err := store.ListReceiptsByAgent(ctx, "agent-1", 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("page 3 size = %d, want 1", len(page3))
	}
}
