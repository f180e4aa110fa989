package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/service"
)

func ensureActiveWallet(t *testing.T, svc *service.GuardService, walletID string) {
	t.Helper()
	if _, err := svc.EnsureWallet(context.Background(), walletID); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
}

func TestEnsureWallet_DefaultsToActive(t *testing.T) {
	svc, _ := newGuard(t)

	record, err := svc.EnsureWallet(context.Background(), "wallet-new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != domain.WalletActive {
		t.Errorf("status = %s, want active", record.Status)
	}

	history, err := svc.GetWalletHistory(context.Background(), "wallet-new")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("audit entries = %d, want 1 provisioning entry", len(history))
	}
	if history[0].ToStatus != domain.WalletActive {
		t.Errorf("audit to_status = %s, want active", history[0].ToStatus)
	}
}

func TestUpdateWalletStatus_AllowedTransitions(t *testing.T) {
	svc, _ := newGuard(t)
	ctx := context.Background()
	ensureActiveWallet(t, svc, "wallet-1")

	record, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID:  "wallet-1",
		Status:    domain.WalletPaused,
		UpdatedBy: "ops@example.com",
	})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if record.Status != domain.WalletPaused || record.PreviousStatus != domain.WalletActive {
		t.Errorf("record = %+v", record)
	}

	if _, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID:  "wallet-1",
		Status:    domain.WalletActive,
		UpdatedBy: "ops@example.com",
	}); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestUpdateWalletStatus_FrozenRequiresReason(t *testing.T) {
	svc, _ := newGuard(t)
	ensureActiveWallet(t, svc, "wallet-1")

	_, err := svc.UpdateWalletStatus(context.Background(), &service.UpdateWalletStatusRequest{
		WalletID: "wallet-1",
		Status:   domain.WalletFrozen,
	})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestUpdateWalletStatus_InactiveIsTerminal(t *testing.T) {
	svc, _ := newGuard(t)
	ctx := context.Background()
	ensureActiveWallet(t, svc, "wallet-1")

	if _, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID: "wallet-1",
		Status:   domain.WalletInactive,
		Reason:   "agent decommissioned",
	}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID: "wallet-1",
		Status:   domain.WalletActive,
	})
	var invalid *domain.ErrInvalidStatusTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want ErrInvalidStatusTransition", err)
	}
}

func TestUpdateWalletStatus_PausedToFrozenRejected(t *testing.T) {
	svc, _ := newGuard(t)
	ctx := context.Background()
	ensureActiveWallet(t, svc, "wallet-1")

	if _, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID: "wallet-1",
		Status:   domain.WalletPaused,
	}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID: "wallet-1",
		Status:   domain.WalletFrozen,
		Reason:   "suspicious activity",
	})
	var invalid *domain.ErrInvalidStatusTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want ErrInvalidStatusTransition", err)
	}
}

func TestUpdateWalletStatus_FrozenUntilStoredAndReturned(t *testing.T) {
	svc, _ := newGuard(t)
	ctx := context.Background()
	ensureActiveWallet(t, svc, "wallet-1")

	until := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	record, err := svc.UpdateWalletStatus(ctx, &service.UpdateWalletStatusRequest{
		WalletID:    "wallet-1",
		Status:      domain.WalletFrozen,
		Reason:      "chargeback investigation",
		FrozenUntil: &until,
	})
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if record.FrozenUntil == nil || !record.FrozenUntil.Equal(until) {
		t.Errorf("frozen_until = %v, want %v", record.FrozenUntil, until)
	}

	// Advisory only: the wallet stays frozen past the timestamp until an
	// explicit reactivation.
	svc.SetClock(func() time.Time { return until.Add(48 * time.Hour) })
	got, err := svc.GetWalletStatus(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != domain.WalletFrozen {
		t.Errorf("status = %s, want still frozen", got.Status)
	}
}

func TestGetWalletHistory_AppendsPerTransition(t *testing.T) {
	svc, _ := newGuard(t)
	ctx := context.Background()
	ensureActiveWallet(t, svc, "wallet-1")

	steps := []service.UpdateWalletStatusRequest{
		{WalletID: "wallet-1", Status: domain.WalletPaused, UpdatedBy: "ops"},
		{WalletID: "wallet-1", Status: domain.WalletActive, UpdatedBy: "ops"},
		{WalletID: "wallet-1", Status: domain.WalletFrozen, Reason: "key leak", UpdatedBy: "security"},
	}
	for i := range steps {
		if _, err := svc.UpdateWalletStatus(ctx, &steps[i]); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	history, err := svc.GetWalletHistory(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// Provisioning + three transitions.
	if len(history) != 4 {
		t.Fatalf("audit entries = %d, want 4", len(history))
	}
	last := history[len(history)-1]
	if last.FromStatus != domain.WalletActive || last.ToStatus != domain.WalletFrozen {
		t.Errorf("last transition = %s -> %s", last.FromStatus, last.ToStatus)
	}
	if last.Reason != "key leak" || last.UpdatedBy != "security" {
		t.Errorf("last audit detail = %+v", last)
	}
}

func TestUpdateWalletStatus_UnknownWallet(t *testing.T) {
	svc, _ := newGuard(t)

	_, err := svc.UpdateWalletStatus(context.Background(), &service.UpdateWalletStatusRequest{
		WalletID: "wallet-ghost",
		Status:   domain.WalletPaused,
	})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
