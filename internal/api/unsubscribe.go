package api

import (
	"fmt"
	"net/http"

	"github.com/leadwave/leadwave/internal/pkg/httputil"
	"github.com/leadwave/leadwave/internal/pkg/logger"
)

// HandleUnsubscribeLink serves the unsubscribe URL embedded in every sent
// email. The token carries the tenant and campaign, so the endpoint needs
// no auth; an invalid or expired token renders an error page instead of
// touching any subscriber.
// GET /unsubscribe?email=...&token=...
func (h *Handlers) HandleUnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	token := r.URL.Query().Get("token")
	if email == "" || token == "" {
		httputil.BadRequest(w, "missing email or token")
		return
	}

	payload, err := h.tokens.Parse(token)
	if err != nil || payload.Email != email {
		unsubscribePage(w, http.StatusBadRequest, "This unsubscribe link is invalid or has expired.")
		return
	}

	found, err := h.store.Unsubscribe(r.Context(), payload.TenantID, email, payload.CampaignID, "unsubscribe_link")
	if err != nil {
		logger.Error("unsubscribe link failed", "email", email, "error", err.Error())
		unsubscribePage(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}
	if !found {
		unsubscribePage(w, http.StatusOK, "You are not on this mailing list.")
		return
	}
	unsubscribePage(w, http.StatusOK, "You have been unsubscribed and will receive no further emails.")
}

func unsubscribePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unsubscribe</title></head>
<body style="font-family: Arial, sans-serif; max-width: 480px; margin: 80px auto; text-align: center;">
<h2>Unsubscribe</h2>
<p>%s</p>
</body>
</html>`, message)
}
