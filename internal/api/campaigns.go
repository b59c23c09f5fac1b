package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leadwave/leadwave/internal/dispatch"
	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/httputil"
)

type campaignRequest struct {
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	Preheader   string `json:"preheader,omitempty"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	IncludesSMS bool   `json:"includes_sms,omitempty"`
}

// HandleDispatchCampaign runs one send pass over the tenant's active
// subscribers. Returns 409 when another pass already holds the campaign
// lock and 402 when the tenant has no email credit at all.
// POST /api/campaigns/{campaignID}/dispatch
func (h *Handlers) HandleDispatchCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Subject == "" || req.FromEmail == "" {
		httputil.BadRequest(w, "subject and from_email are required")
		return
	}

	tenant := tenantID(r)
	recipients, err := h.store.ActiveSubscribers(r.Context(), tenant)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var smsCount int64
	if req.IncludesSMS {
		smsCount = 1
	}
	sufficiency, err := h.credits.CheckSufficient(r.Context(), tenant, 1, smsCount, 0)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !sufficiency.All {
		httputil.ErrorCode(w, http.StatusPaymentRequired, "insufficient_credit", "not enough credit to send this campaign")
		return
	}

	report, err := h.dispatcher.Dispatch(r.Context(), &domain.CampaignContent{
		ID:          chi.URLParam(r, "campaignID"),
		TenantID:    tenant,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		Preheader:   req.Preheader,
		FromName:    req.FromName,
		FromEmail:   req.FromEmail,
		IncludesSMS: req.IncludesSMS,
	}, recipients)
	if errors.Is(err, dispatch.ErrDispatchInProgress) {
		httputil.Error(w, http.StatusConflict, "campaign dispatch already in progress")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}

// HandleCampaignPreview renders content with placeholder personalization.
// POST /api/campaigns/preview
func (h *Handlers) HandleCampaignPreview(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	html, err := h.previewer.RenderPreview(req.Subject, req.HTMLContent, tenantID(r), "preview")
	if err != nil {
		var renderErr *domain.TemplateRenderError
		if errors.As(err, &renderErr) {
			httputil.BadRequest(w, renderErr.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
