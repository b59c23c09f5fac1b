// Package billing covers credit purchases and subscription tier changes.
// The payment provider itself is an external collaborator reached through
// the PaymentGateway interface; this package owns the credit top-up that
// follows a verified payment.
package billing

import (
	"context"

	"github.com/leadwave/leadwave/internal/domain"
)

// PaymentInit is the provider's response to starting a checkout.
type PaymentInit struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PaymentRequest describes the checkout to initialize.
type PaymentRequest struct {
	TenantID    string            `json:"tenant_id"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentGateway is the contract surface of the external payment provider.
type PaymentGateway interface {
	Name() string
	InitializePayment(ctx context.Context, req *PaymentRequest) (*PaymentInit, error)
	VerifyPayment(ctx context.Context, orderID string) error
	DowngradeSubscription(ctx context.Context, tenantID string) (bool, error)
}

// CreditPackage is a purchasable credit bundle.
type CreditPackage struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        domain.CreditKind `json:"kind"`
	Credits     int64             `json:"credits"`
	PriceCents  int64             `json:"price_cents"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
}

// Packages is the purchasable catalog. IDs are stable and referenced from
// payment metadata, so renaming a package must keep its ID.
var Packages = []CreditPackage{
	{ID: "email-1k", Name: "1,000 Email Credits", Kind: domain.CreditEmail, Credits: 1000, PriceCents: 900, Currency: "USD"},
	{ID: "email-10k", Name: "10,000 Email Credits", Kind: domain.CreditEmail, Credits: 10000, PriceCents: 7500, Currency: "USD"},
	{ID: "sms-500", Name: "500 SMS Credits", Kind: domain.CreditSMS, Credits: 500, PriceCents: 1500, Currency: "USD"},
	{ID: "leads-100", Name: "100 Lead Credits", Kind: domain.CreditLead, Credits: 100, PriceCents: 2500, Currency: "USD"},
}

// PackageByID looks up a catalog entry.
func PackageByID(id string) (CreditPackage, bool) {
	for _, p := range Packages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}
