package api

import (
	"errors"
	"net/http"

	"github.com/leadwave/leadwave/internal/billing"
	"github.com/leadwave/leadwave/internal/pkg/httputil"
)

// HandleCreditAvailability returns per-kind availability.
// GET /api/credits
func (h *Handlers) HandleCreditAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.credits.GetAvailable(r.Context(), tenantID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, avail)
}

// HandleCreditCheck is the read-only sufficiency probe the campaign editor
// calls before enabling the send button.
// POST /api/credits/check
func (h *Handlers) HandleCreditCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emails int64 `json:"emails"`
		SMS    int64 `json:"sms"`
		Leads  int64 `json:"leads"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Emails < 0 || req.SMS < 0 || req.Leads < 0 {
		httputil.BadRequest(w, "counts must be non-negative")
		return
	}

	sufficiency, err := h.credits.CheckSufficient(r.Context(), tenantID(r), req.Emails, req.SMS, req.Leads)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"sufficient": sufficiency})
}

// HandleCreditPackages lists the purchasable catalog.
// GET /api/credits/packages
func (h *Handlers) HandleCreditPackages(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"packages": billing.Packages})
}

// HandleStartPurchase initializes a checkout with the payment gateway.
// POST /api/credits/purchase
func (h *Handlers) HandleStartPurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID string `json:"package_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	init, err := h.purchases.Start(r.Context(), tenantID(r), req.PackageID)
	if errors.Is(err, billing.ErrUnknownPackage) {
		httputil.BadRequest(w, "unknown credit package")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, init)
}

// HandleCompletePurchase verifies a finished payment and credits the ledger.
// POST /api/credits/purchase/complete
func (h *Handlers) HandleCompletePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID string `json:"package_id"`
		OrderID   string `json:"order_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	txn, err := h.purchases.Complete(r.Context(), tenantID(r), req.PackageID, req.OrderID)
	if errors.Is(err, billing.ErrUnknownPackage) {
		httputil.BadRequest(w, "unknown credit package")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, txn)
}
