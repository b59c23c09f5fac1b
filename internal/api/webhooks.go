package api

import (
	"net/http"

	"github.com/leadwave/leadwave/internal/pkg/httputil"
	"github.com/leadwave/leadwave/internal/pkg/logger"
)

// espEvent is the normalized shape of a provider feedback notification.
// Provider-specific payloads are mapped to this at the webhook ingress.
type espEvent struct {
	Type     string `json:"type"` // bounce | complaint | delivery
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Reason   string `json:"reason,omitempty"`
}

// HandleESPWebhook ingests bounce and complaint feedback from the email
// service provider and applies the one-directional status transitions.
// Unknown event types are acknowledged and dropped so the provider does
// not retry them forever.
// POST /webhooks/esp
func (h *Handlers) HandleESPWebhook(w http.ResponseWriter, r *http.Request) {
	var events []espEvent
	if !httputil.Decode(w, r, &events) {
		return
	}

	processed := 0
	for _, e := range events {
		if e.TenantID == "" || e.Email == "" {
			continue
		}
		var err error
		switch e.Type {
		case "bounce":
			err = h.store.MarkBounced(r.Context(), e.TenantID, e.Email)
		case "complaint":
			err = h.store.MarkComplained(r.Context(), e.TenantID, e.Email)
		default:
			continue
		}
		if err != nil {
			logger.Error("esp feedback transition failed",
				"type", e.Type, "email", e.Email, "error", err.Error())
			continue
		}
		processed++
	}

	httputil.OK(w, map[string]int{"processed": processed})
}
