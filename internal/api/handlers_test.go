package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/leadwave/leadwave/internal/billing"
	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/subscriber"
	"github.com/leadwave/leadwave/internal/unsubscribe"
)

type fakeStore struct {
	subscribed     []string
	unsubscribed   []string
	bounced        []string
	complained     []string
	lastFilter     subscriber.ListFilter
	unsubscribeHit bool
}

func (f *fakeStore) Subscribe(ctx context.Context, tenantID, email string, attrs subscriber.SubscribeAttrs, campaignID string) (*domain.Subscriber, error) {
	f.subscribed = append(f.subscribed, email)
	return &domain.Subscriber{ID: "sub-1", TenantID: tenantID, Email: email, Status: domain.SubscriberActive}, nil
}

func (f *fakeStore) Unsubscribe(ctx context.Context, tenantID, email, campaignID, reason string) (bool, error) {
	f.unsubscribeHit = true
	f.unsubscribed = append(f.unsubscribed, email)
	return true, nil
}

func (f *fakeStore) MarkBounced(ctx context.Context, tenantID, email string) error {
	f.bounced = append(f.bounced, email)
	return nil
}

func (f *fakeStore) MarkComplained(ctx context.Context, tenantID, email string) error {
	f.complained = append(f.complained, email)
	return nil
}

func (f *fakeStore) GetStats(ctx context.Context, tenantID string) (*domain.UsageStats, error) {
	return &domain.UsageStats{TenantID: tenantID, TotalSubscribers: 5, ActiveSubscribers: 5}, nil
}

func (f *fakeStore) List(ctx context.Context, tenantID string, filter subscriber.ListFilter) ([]*domain.Subscriber, int, error) {
	f.lastFilter = filter
	return []*domain.Subscriber{{ID: "sub-1", Email: "ada@example.com"}}, 1, nil
}

func (f *fakeStore) ActiveSubscribers(ctx context.Context, tenantID string) ([]*domain.Subscriber, error) {
	return []*domain.Subscriber{{ID: "sub-1", Email: "ada@example.com", Status: domain.SubscriberActive}}, nil
}

func (f *fakeStore) Update(ctx context.Context, tenantID, id string, fields subscriber.UpdateFields) (*domain.Subscriber, error) {
	return &domain.Subscriber{ID: id}, nil
}

func (f *fakeStore) Delete(ctx context.Context, tenantID, id string) error { return nil }

func (f *fakeStore) Events(ctx context.Context, tenantID, subscriberID string, limit int) ([]*domain.SubscriberEvent, error) {
	return nil, nil
}

type fakeCredits struct {
	emails int64
}

func (f *fakeCredits) GetAvailable(ctx context.Context, tenantID string) (*domain.Availability, error) {
	return &domain.Availability{Emails: f.emails}, nil
}

func (f *fakeCredits) CheckSufficient(ctx context.Context, tenantID string, emailCount, smsCount, leadCount int64) (*domain.Sufficiency, error) {
	ok := f.emails >= emailCount
	return &domain.Sufficiency{Emails: ok, SMS: true, Leads: true, All: ok}, nil
}

type fakeDispatcher struct {
	dispatched bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, campaign *domain.CampaignContent, recipients []*domain.Subscriber) (*domain.DispatchReport, error) {
	f.dispatched = true
	return &domain.DispatchReport{CampaignID: campaign.ID, Sent: len(recipients)}, nil
}

type fakePreviewer struct{}

func (f *fakePreviewer) RenderPreview(subject, contentHTML, tenantID, campaignID string) (string, error) {
	return "<html>" + contentHTML + "</html>", nil
}

type fakePurchaser struct{}

func (f *fakePurchaser) Start(ctx context.Context, tenantID, packageID string) (*billing.PaymentInit, error) {
	if _, ok := billing.PackageByID(packageID); !ok {
		return nil, billing.ErrUnknownPackage
	}
	return &billing.PaymentInit{Success: true, OrderID: "ord-1", PaymentURL: "https://pay.example/ord-1"}, nil
}

func (f *fakePurchaser) Complete(ctx context.Context, tenantID, packageID, orderID string) (*domain.CreditTransaction, error) {
	return &domain.CreditTransaction{ID: "txn-1", TenantID: tenantID, ReferenceID: orderID}, nil
}

func testRouter(store *fakeStore, credits *fakeCredits, dispatcher *fakeDispatcher) (http.Handler, *unsubscribe.TokenService) {
	tokens := unsubscribe.NewTokenService("test-key", "https://app.example.com", 30*24*time.Hour)
	h := NewHandlers(store, credits, dispatcher, &fakePreviewer{}, &fakePurchaser{}, tokens)
	return SetupRoutes(h, nil), tokens
}

func apiRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	return req
}

func TestSubscribeEndpoint(t *testing.T) {
	store := &fakeStore{}
	router, _ := testRouter(store, &fakeCredits{emails: 10}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/subscribers", map[string]string{
		"email":      "ada@example.com",
		"first_name": "Ada",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.subscribed) != 1 || store.subscribed[0] != "ada@example.com" {
		t.Errorf("subscribed = %v", store.subscribed)
	}
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	router, _ := testRouter(&fakeStore{}, &fakeCredits{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/subscribers", map[string]string{"email": "not-an-email"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPIRequiresTenantHeader(t *testing.T) {
	router, _ := testRouter(&fakeStore{}, &fakeCredits{}, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/subscribers/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestListSubscribersPassesFilter(t *testing.T) {
	store := &fakeStore{}
	router, _ := testRouter(store, &fakeCredits{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodGet,
		"/api/subscribers/?status=active&search=ada&page=2&page_size=10&sort_by=email", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f := store.lastFilter
	if f.Status != domain.SubscriberActive || f.Search != "ada" || f.Page != 2 || f.PageSize != 10 || f.SortBy != "email" {
		t.Errorf("filter = %+v", f)
	}
}

func TestUnsubscribeLink(t *testing.T) {
	store := &fakeStore{}
	router, tokens := testRouter(store, &fakeCredits{}, &fakeDispatcher{})

	link := tokens.Generate("ada@example.com", "tenant-1", "camp-1")
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?"+u.RawQuery, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !store.unsubscribeHit {
		t.Error("store.Unsubscribe was not called")
	}
	if !strings.Contains(rec.Body.String(), "unsubscribed") {
		t.Errorf("confirmation page missing: %s", rec.Body.String())
	}
}

func TestUnsubscribeLinkRejectsForgedToken(t *testing.T) {
	store := &fakeStore{}
	router, _ := testRouter(store, &fakeCredits{}, &fakeDispatcher{})

	forged := unsubscribe.NewTokenService("other-key", "https://app.example.com", 30*24*time.Hour)
	link := forged.Generate("ada@example.com", "tenant-1", "camp-1")
	u, _ := url.Parse(link)

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?"+u.RawQuery, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if store.unsubscribeHit {
		t.Error("forged token must not unsubscribe anyone")
	}
}

func TestDispatchCampaign(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router, _ := testRouter(&fakeStore{}, &fakeCredits{emails: 10}, dispatcher)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/campaigns/camp-1/dispatch", map[string]any{
		"subject":      "Hello",
		"html_content": "<p>News</p>",
		"from_name":    "Acme",
		"from_email":   "news@acme.io",
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !dispatcher.dispatched {
		t.Error("dispatcher not invoked")
	}
}

func TestDispatchCampaignInsufficientCredit(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router, _ := testRouter(&fakeStore{}, &fakeCredits{emails: 0}, dispatcher)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/campaigns/camp-1/dispatch", map[string]any{
		"subject":    "Hello",
		"from_email": "news@acme.io",
	}))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "insufficient_credit" {
		t.Errorf("code = %q", resp.Code)
	}
	if dispatcher.dispatched {
		t.Error("dispatch must not run without credit")
	}
}

func TestESPWebhook(t *testing.T) {
	store := &fakeStore{}
	router, _ := testRouter(store, &fakeCredits{}, &fakeDispatcher{})

	events := []map[string]string{
		{"type": "bounce", "tenant_id": "tenant-1", "email": "b@example.com"},
		{"type": "complaint", "tenant_id": "tenant-1", "email": "c@example.com"},
		{"type": "delivery", "tenant_id": "tenant-1", "email": "d@example.com"},
	}
	body, _ := json.Marshal(events)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/esp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.bounced) != 1 || store.bounced[0] != "b@example.com" {
		t.Errorf("bounced = %v", store.bounced)
	}
	if len(store.complained) != 1 || store.complained[0] != "c@example.com" {
		t.Errorf("complained = %v", store.complained)
	}
}

func TestCreditAvailability(t *testing.T) {
	router, _ := testRouter(&fakeStore{}, &fakeCredits{emails: 42}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/credits/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var avail domain.Availability
	json.Unmarshal(rec.Body.Bytes(), &avail)
	if avail.Emails != 42 {
		t.Errorf("emails = %d, want 42", avail.Emails)
	}
}

func TestStartPurchaseUnknownPackage(t *testing.T) {
	router, _ := testRouter(&fakeStore{}, &fakeCredits{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/credits/purchase", map[string]string{"package_id": "nope"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
