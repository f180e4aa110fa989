package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/handler"
	"github.com/agentpay/guard-go/internal/infra/memstore"
	"github.com/agentpay/guard-go/internal/infra/observability"
	"github.com/agentpay/guard-go/internal/infra/resilience"
	"github.com/agentpay/guard-go/internal/service"
)

const testSecret = "test-secret"

// downStore simulates a storage outage on the commit path.
type downStore struct {
	*memstore.Store
}

func (d *downStore) CommitAuthorization(context.Context, *domain.PaymentReceipt) (*domain.PaymentReceipt, bool, error) {
	return nil, false, &domain.ErrStorageUnavailable{Op: "commit authorization", Err: errors.New("connection refused")}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := service.NewGuardService(
		memstore.New(),
		nil,
		nil,
		service.LimitDefaults{
			Daily:   decimal.RequireFromString("100"),
			Monthly: decimal.RequireFromString("1000"),
		},
		observability.NewMetrics(),
		zap.NewNop(),
	)
	return handler.NewRouter(svc, observability.NewMetrics(), testSecret, resilience.NewBulkhead(10), zap.NewNop())
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthorize_Created(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "25.50",
		"external_request_id": "ext-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt domain.PaymentReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Status != domain.ReceiptPending {
		t.Errorf("status = %s, want pending", receipt.Status)
	}
	if !receipt.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Errorf("amount = %s, want 25.50", receipt.Amount)
	}
}

func TestAuthorize_ReplayReturns200(t *testing.T) {
	router := newTestRouter(t)

	body := map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "25",
		"external_request_id": "ext-1",
	}
	if rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", body); rec.Code != http.StatusCreated {
		t.Fatalf("first call: expected 201, got %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", body)
	if rec.Code != http.StatusOK {
		t.Errorf("replay: expected 200, got %d", rec.Code)
	}
}

func TestAuthorize_LimitRejectionPayload(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "150",
		"external_request_id": "ext-1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Code       string `json:"code"`
		Violations []struct {
			Scope string `json:"scope"`
		} `json:"violations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != "SPENDING_LIMIT_EXCEEDED" {
		t.Errorf("code = %s", payload.Code)
	}
	if len(payload.Violations) != 1 || payload.Violations[0].Scope != "daily" {
		t.Errorf("violations = %+v, want single daily scope", payload.Violations)
	}
}

func TestAuthorize_InvalidAmountCode(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "-1",
		"external_request_id": "ext-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Code != "INVALID_AMOUNT" {
		t.Errorf("code = %s, want INVALID_AMOUNT", payload.Code)
	}
}

func TestAuthorize_StorageOutageReturns503(t *testing.T) {
	svc := service.NewGuardService(
		&downStore{Store: memstore.New()},
		nil,
		nil,
		service.LimitDefaults{
			Daily:   decimal.RequireFromString("100"),
			Monthly: decimal.RequireFromString("1000"),
		},
		observability.NewMetrics(),
		zap.NewNop(),
	)
	router := handler.NewRouter(svc, observability.NewMetrics(), testSecret, resilience.NewBulkhead(10), zap.NewNop())

	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "10",
		"external_request_id": "ext-1",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Code != "STORAGE_UNAVAILABLE" {
		t.Errorf("code = %s, want STORAGE_UNAVAILABLE", payload.Code)
	}
}

func TestSettlement_RequiresJWT(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/settlement/confirm", "", map[string]any{
		"receipt_id":       "r1",
		"transaction_hash": "0xabc",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSettlement_ConfirmFlow(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "10",
		"external_request_id": "ext-1",
	})
	var receipt domain.PaymentReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/settlement/confirm", token, map[string]any{
		"receipt_id":       receipt.ReceiptID,
		"transaction_hash": "0xabc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Confirming a confirmed receipt with another hash conflicts.
	rec = doJSON(t, router, http.MethodPost, "/v1/settlement/confirm", token, map[string]any{
		"receipt_id":       receipt.ReceiptID,
		"transaction_hash": "0xother",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("conflicting confirm: expected 409, got %d", rec.Code)
	}
}

func TestSetLimits_AdminOnly(t *testing.T) {
	router := newTestRouter(t)

	body := map[string]any{"daily_limit": "50", "monthly_limit": "500"}
	if rec := doJSON(t, router, http.MethodPut, "/v1/agents/agent-1/limits", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPut, "/v1/agents/agent-1/limits", adminToken(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var limit domain.SpendLimit
	if err := json.Unmarshal(rec.Body.Bytes(), &limit); err != nil {
		t.Fatalf("decode limit: %v", err)
	}
	if limit.UpdatedBy != "ops@example.com" {
		t.Errorf("updated_by = %s, want token subject", limit.UpdatedBy)
	}
}

func TestWalletStatusFlow(t *testing.T) {
	router := newTestRouter(t)
	token := adminToken(t)

	// Authorize provisions the wallet as active.
	doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "10",
		"external_request_id": "ext-1",
	})

	rec := doJSON(t, router, http.MethodPost, "/v1/wallets/wallet-1/status", token, map[string]any{
		"status": "frozen",
		"reason": "compromised key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("freeze: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Authorizations from a frozen wallet are blocked with the stable code.
	rec = doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "10",
		"external_request_id": "ext-2",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var payload struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Code != "WALLET_NOT_ACTIVE" {
		t.Errorf("code = %s, want WALLET_NOT_ACTIVE", payload.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/wallets/wallet-1/status/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
}

func TestListReceipts_PaginationDefaultsAndCap(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/agents/agent-1/receipts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listing struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Page != 1 || listing.PageSize != 50 {
		t.Errorf("defaults = page %d size %d, want 1/50", listing.Page, listing.PageSize)
	}

	// Oversized page_size falls back to the default; the cap itself is accepted.
	rec = doJSON(t, router, http.MethodGet, "/v1/agents/agent-1/receipts?page_size=500", "", nil)
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if listing.PageSize != 50 {
		t.Errorf("page_size = %d, want 50 when request exceeds the cap", listing.PageSize)
	}
	rec = doJSON(t, router, http.MethodGet, "/v1/agents/agent-1/receipts?page_size=200", "", nil)
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if listing.PageSize != 200 {
		t.Errorf("page_size = %d, want 200", listing.PageSize)
	}
}

func TestGetAgentLimits_IncludesCounters(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/v1/payments/authorize", "", map[string]any{
		"agent_id":            "agent-1",
		"wallet_id":           "wallet-1",
		"amount":              "30",
		"external_request_id": "ext-1",
	})

	rec := doJSON(t, router, http.MethodGet, "/v1/agents/agent-1/limits", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view struct {
		Configured bool `json:"configured"`
		Counters   []struct {
			Granularity string `json:"granularity"`
			Spent       string `json:"spent"`
		} `json:"counters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Configured {
		t.Error("expected configured=false for default limits")
	}
	if len(view.Counters) != 2 {
		t.Errorf("counters = %d, want 2", len(view.Counters))
	}
}
