// Package walletd is the HTTP client for the custodial wallet provider.
// The guardrail only reads operational wallet status from it; key custody
// stays entirely on the provider's side.
package walletd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/infra/resilience"
)

var tracer = otel.Tracer("client/walletd")

// Client talks to the custodial wallet provider API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// New creates a walletd client.
func New(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

type walletStatusResponse struct {
	WalletID string `json:"wallet_id"`
	Status   string `json:"status"`
}

// GetWalletStatus fetches the provider-side status for a wallet with retry,
// circuit breaker, and tracing. A wallet unknown to the provider returns
// ("", nil); the caller decides the default.
func (c *Client) GetWalletStatus(ctx context.Context, walletID string) (domain.WalletStatus, error) {
	ctx, span := tracer.Start(ctx, "WalletdClient.GetWalletStatus")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.id", walletID))

	var payload walletStatusResponse
	found := true

	_, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			url := fmt.Sprintf("%s/v1/wallets/%s", c.baseURL, walletID)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				found = false
				return nil
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("walletd returned status %d", resp.StatusCode)
			}

			found = true
			return json.NewDecoder(resp.Body).Decode(&payload)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return nil, nil
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: "walletd", Err: err}
	}
	if !found {
		return "", nil
	}

	switch status := domain.WalletStatus(payload.Status); status {
	case domain.WalletActive, domain.WalletPaused, domain.WalletFrozen, domain.WalletInactive:
		return status, nil
	default:
		return "", fmt.Errorf("walletd returned unknown status %q", payload.Status)
	}
}
