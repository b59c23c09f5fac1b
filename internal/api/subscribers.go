package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/httputil"
	"github.com/leadwave/leadwave/internal/subscriber"
)

type subscribeRequest struct {
	Email        string                             `json:"email"`
	FirstName    string                             `json:"first_name,omitempty"`
	LastName     string                             `json:"last_name,omitempty"`
	Source       domain.SubscriberSource            `json:"source,omitempty"`
	CampaignID   string                             `json:"campaign_id,omitempty"`
	Tags         []string                           `json:"tags,omitempty"`
	CustomFields map[string]domain.CustomFieldValue `json:"custom_fields,omitempty"`
	Consent      *domain.Consent                    `json:"consent,omitempty"`
}

// HandleSubscribe creates or reactivates a subscriber.
// POST /api/subscribers
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		httputil.BadRequest(w, "invalid email address")
		return
	}

	sub, err := h.store.Subscribe(r.Context(), tenantID(r), req.Email, subscriber.SubscribeAttrs{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Source:       req.Source,
		Tags:         req.Tags,
		CustomFields: req.CustomFields,
		Consent:      req.Consent,
	}, req.CampaignID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sub)
}

// HandleUnsubscribe removes a subscriber from the active list by email.
// POST /api/subscribers/unsubscribe
func (h *Handlers) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		CampaignID string `json:"campaign_id,omitempty"`
		Reason     string `json:"reason,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	found, err := h.store.Unsubscribe(r.Context(), tenantID(r), req.Email, req.CampaignID, req.Reason)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "subscriber not found")
		return
	}
	httputil.OK(w, map[string]bool{"unsubscribed": true})
}

// HandleListSubscribers returns one page of subscribers.
// GET /api/subscribers?status=&search=&page=&page_size=&sort_by=&sort_desc=
func (h *Handlers) HandleListSubscribers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	subs, total, err := h.store.List(r.Context(), tenantID(r), subscriber.ListFilter{
		Status:   domain.SubscriberStatus(q.Get("status")),
		Search:   q.Get("search"),
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("sort_desc") == "true",
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"subscribers": subs,
		"total":       total,
	})
}

// HandleSubscriberStats returns the tenant's aggregate counters.
// GET /api/subscribers/stats
func (h *Handlers) HandleSubscriberStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), tenantID(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// HandleUpdateSubscriber applies a partial attribute update.
// PUT /api/subscribers/{subscriberID}
func (h *Handlers) HandleUpdateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName       *string                            `json:"first_name,omitempty"`
		LastName        *string                            `json:"last_name,omitempty"`
		Tags            []string                           `json:"tags,omitempty"`
		CustomFields    map[string]domain.CustomFieldValue `json:"custom_fields,omitempty"`
		EngagementScore *float64                           `json:"engagement_score,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	sub, err := h.store.Update(r.Context(), tenantID(r), chi.URLParam(r, "subscriberID"), subscriber.UpdateFields{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Tags:            req.Tags,
		CustomFields:    req.CustomFields,
		EngagementScore: req.EngagementScore,
	})
	if errors.Is(err, domain.ErrSubscriberNotFound) {
		httputil.NotFound(w, "subscriber not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sub)
}

// HandleDeleteSubscriber removes a subscriber row entirely.
// DELETE /api/subscribers/{subscriberID}
func (h *Handlers) HandleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), tenantID(r), chi.URLParam(r, "subscriberID"))
	if errors.Is(err, domain.ErrSubscriberNotFound) {
		httputil.NotFound(w, "subscriber not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleSubscriberEvents returns a subscriber's event history.
// GET /api/subscribers/{subscriberID}/events
func (h *Handlers) HandleSubscriberEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.store.Events(r.Context(), tenantID(r), chi.URLParam(r, "subscriberID"), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"events": events})
}
