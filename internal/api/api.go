// Package api exposes the HTTP surface: subscriber lifecycle, credit
// balances and purchases, campaign dispatch, one-click unsubscribe, and
// ESP feedback webhooks.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/leadwave/leadwave/internal/billing"
	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/httputil"
	"github.com/leadwave/leadwave/internal/subscriber"
	"github.com/leadwave/leadwave/internal/unsubscribe"
)

// SubscriberStore is the subscriber surface the handlers use.
type SubscriberStore interface {
	Subscribe(ctx context.Context, tenantID, email string, attrs subscriber.SubscribeAttrs, campaignID string) (*domain.Subscriber, error)
	Unsubscribe(ctx context.Context, tenantID, email, campaignID, reason string) (bool, error)
	MarkBounced(ctx context.Context, tenantID, email string) error
	MarkComplained(ctx context.Context, tenantID, email string) error
	GetStats(ctx context.Context, tenantID string) (*domain.UsageStats, error)
	List(ctx context.Context, tenantID string, filter subscriber.ListFilter) ([]*domain.Subscriber, int, error)
	ActiveSubscribers(ctx context.Context, tenantID string) ([]*domain.Subscriber, error)
	Update(ctx context.Context, tenantID, id string, fields subscriber.UpdateFields) (*domain.Subscriber, error)
	Delete(ctx context.Context, tenantID, id string) error
	Events(ctx context.Context, tenantID, subscriberID string, limit int) ([]*domain.SubscriberEvent, error)
}

// CreditReader is the read side of the ledger used by the handlers.
type CreditReader interface {
	GetAvailable(ctx context.Context, tenantID string) (*domain.Availability, error)
	CheckSufficient(ctx context.Context, tenantID string, emailCount, smsCount, leadCount int64) (*domain.Sufficiency, error)
}

// Dispatcher runs one campaign-send pass.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaign *domain.CampaignContent, recipients []*domain.Subscriber) (*domain.DispatchReport, error)
}

// Previewer renders campaign content with placeholder data.
type Previewer interface {
	RenderPreview(subject, contentHTML, tenantID, campaignID string) (string, error)
}

// Purchaser starts and completes credit purchases.
type Purchaser interface {
	Start(ctx context.Context, tenantID, packageID string) (*billing.PaymentInit, error)
	Complete(ctx context.Context, tenantID, packageID, orderID string) (*domain.CreditTransaction, error)
}

// Handlers bundles the HTTP handlers and their collaborators.
type Handlers struct {
	store      SubscriberStore
	credits    CreditReader
	dispatcher Dispatcher
	previewer  Previewer
	purchases  Purchaser
	tokens     *unsubscribe.TokenService
}

func NewHandlers(store SubscriberStore, credits CreditReader, dispatcher Dispatcher, previewer Previewer, purchases Purchaser, tokens *unsubscribe.TokenService) *Handlers {
	return &Handlers{
		store:      store,
		credits:    credits,
		dispatcher: dispatcher,
		previewer:  previewer,
		purchases:  purchases,
		tokens:     tokens,
	}
}

// SetupRoutes builds the full router.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Public endpoints reached from email clients and ESP callbacks.
	r.Get("/unsubscribe", h.HandleUnsubscribeLink)
	r.Post("/webhooks/esp", h.HandleESPWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireTenant)

		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", h.HandleListSubscribers)
			r.Post("/", h.HandleSubscribe)
			r.Get("/stats", h.HandleSubscriberStats)
			r.Post("/unsubscribe", h.HandleUnsubscribe)
			r.Route("/{subscriberID}", func(r chi.Router) {
				r.Put("/", h.HandleUpdateSubscriber)
				r.Delete("/", h.HandleDeleteSubscriber)
				r.Get("/events", h.HandleSubscriberEvents)
			})
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.HandleCreditAvailability)
			r.Post("/check", h.HandleCreditCheck)
			r.Get("/packages", h.HandleCreditPackages)
			r.Post("/purchase", h.HandleStartPurchase)
			r.Post("/purchase/complete", h.HandleCompletePurchase)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/preview", h.HandleCampaignPreview)
			r.Post("/{campaignID}/dispatch", h.HandleDispatchCampaign)
		})
	})

	return r
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// requireTenant rejects API calls without a tenant identity. Upstream auth
// terminates at the gateway and forwards the resolved tenant in a header.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantID(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}
