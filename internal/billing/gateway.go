package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/httpretry"
)

// Tiers is the subscription plan catalog used for allowance grants.
var Tiers = map[string]domain.SubscriptionTier{
	"free":    {Name: "free", EmailAllowance: 500, SMSAllowance: 0, LeadAllowance: 10, PriceCents: 0},
	"starter": {Name: "starter", EmailAllowance: 10000, SMSAllowance: 500, LeadAllowance: 100, PriceCents: 2900},
	"pro":     {Name: "pro", EmailAllowance: 100000, SMSAllowance: 5000, LeadAllowance: 1000, PriceCents: 9900},
}

// HTTPGateway talks to a REST payment provider. Transient provider errors
// are retried with backoff before surfacing.
type HTTPGateway struct {
	name    string
	baseURL string
	secret  string
	client  *httpretry.RetryClient
}

func NewHTTPGateway(name, baseURL, secret string) *HTTPGateway {
	return &HTTPGateway{
		name:    name,
		baseURL: baseURL,
		secret:  secret,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 20 * time.Second}, 3),
	}
}

func (g *HTTPGateway) Name() string { return g.name }

func (g *HTTPGateway) InitializePayment(ctx context.Context, req *PaymentRequest) (*PaymentInit, error) {
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/checkout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	var init PaymentInit
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return nil, fmt.Errorf("payment gateway: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &PaymentInit{Success: false, Error: fmt.Sprintf("gateway status %d: %s", resp.StatusCode, init.Error)}, nil
	}
	return &init, nil
}

func (g *HTTPGateway) VerifyPayment(ctx context.Context, orderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/orders/"+orderID+"/verify", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment gateway: order %s not verified (status %d)", orderID, resp.StatusCode)
	}
	return nil
}

func (g *HTTPGateway) DowngradeSubscription(ctx context.Context, tenantID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/subscriptions/"+tenantID+"/downgrade", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
