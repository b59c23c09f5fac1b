package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leadwave/leadwave/internal/delivery"
	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/distlock"
)

// fakeLedger is an in-memory credit pool with atomic consume semantics.
type fakeLedger struct {
	mu    sync.Mutex
	avail map[domain.CreditKind]int64
	used  map[domain.CreditKind]int64
	err   error
}

func newFakeLedger(emails, sms int64) *fakeLedger {
	return &fakeLedger{
		avail: map[domain.CreditKind]int64{domain.CreditEmail: emails, domain.CreditSMS: sms},
		used:  map[domain.CreditKind]int64{},
	}
}

func (f *fakeLedger) CheckSufficient(ctx context.Context, tenantID string, emailCount, smsCount, leadCount int64) (*domain.Sufficiency, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &domain.Sufficiency{
		Emails: emailCount == 0 || f.avail[domain.CreditEmail] >= emailCount,
		SMS:    smsCount == 0 || f.avail[domain.CreditSMS] >= smsCount,
		Leads:  true,
	}
	s.All = s.Emails && s.SMS && s.Leads
	return s, nil
}

func (f *fakeLedger) Consume(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) (*domain.ConsumeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.avail[kind] < amount {
		return nil, domain.ErrInsufficientCredit
	}
	f.avail[kind] -= amount
	f.used[kind] += amount
	return &domain.ConsumeResult{Kind: kind, Consumed: amount, RemainingAvailable: f.avail[kind]}, nil
}

// fakeRenderer echoes content with the recipient's email appended.
type fakeRenderer struct {
	failFor string // email whose render should fail
}

func (f *fakeRenderer) Personalize(content string, sub *domain.Subscriber) (string, error) {
	return content + " for " + sub.Email, nil
}

func (f *fakeRenderer) Render(subject, contentHTML, preheader, campaignID, tenantID string, sub *domain.Subscriber) (string, error) {
	if f.failFor != "" && sub.Email == f.failFor {
		return "", &domain.TemplateRenderError{CampaignID: campaignID, Cause: errors.New("bad template")}
	}
	return "<html>" + contentHTML + "</html>", nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	rejectFor string
	errFor    string
}

func (f *fakeDeliverer) Name() string { return "fake" }

func (f *fakeDeliverer) Deliver(ctx context.Context, msg *delivery.Message) (*delivery.Result, error) {
	if msg.To == f.errFor {
		return nil, errors.New("connection reset")
	}
	if msg.To == f.rejectFor {
		return &delivery.Result{Accepted: false, Provider: "fake", Reason: "mailbox full"}, nil
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, msg.To)
	f.mu.Unlock()
	return &delivery.Result{Accepted: true, MessageID: "m-" + msg.SubscriberID, Provider: "fake"}, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*domain.SubscriberEvent
}

func (f *fakeEvents) AppendEvent(ctx context.Context, e *domain.SubscriberEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fakeLog struct {
	mu       sync.Mutex
	outcomes map[string]domain.SendOutcome
}

func newFakeLog() *fakeLog {
	return &fakeLog{outcomes: map[string]domain.SendOutcome{}}
}

func (f *fakeLog) Existing(ctx context.Context, campaignID string) (map[string]domain.SendOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.SendOutcome, len(f.outcomes))
	for k, v := range f.outcomes {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLog) Record(ctx context.Context, campaignID, tenantID string, o domain.RecipientOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[o.SubscriberID] = o.Outcome
	return nil
}

func recipients(n int) []*domain.Subscriber {
	subs := make([]*domain.Subscriber, n)
	for i := range subs {
		subs[i] = &domain.Subscriber{
			ID:     fmt.Sprintf("sub-%d", i+1),
			Email:  fmt.Sprintf("user%d@example.com", i+1),
			Status: domain.SubscriberActive,
		}
	}
	return subs
}

func testCampaign() *domain.CampaignContent {
	return &domain.CampaignContent{
		ID:          "camp-1",
		TenantID:    "tenant-1",
		Subject:     "Hello {{firstName}}",
		HTMLContent: "<p>News</p>",
		FromName:    "Acme",
		FromEmail:   "news@acme.io",
	}
}

func TestDispatchAllSent(t *testing.T) {
	ledger := newFakeLedger(10, 0)
	deliverer := &fakeDeliverer{}
	events := &fakeEvents{}
	log := newFakeLog()

	d := NewDispatcher(ledger, &fakeRenderer{}, deliverer, events, log, 1)
	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(3))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 3 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = sent %d failed %d skipped %d", report.Sent, report.Failed, report.Skipped)
	}
	if ledger.used[domain.CreditEmail] != 3 {
		t.Errorf("credits used = %d, want 3", ledger.used[domain.CreditEmail])
	}
	if len(events.events) != 3 {
		t.Errorf("email_sent events = %d, want 3", len(events.events))
	}
	for _, e := range events.events {
		if e.Type != domain.EventEmailSent || e.CampaignID != "camp-1" {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestDispatchCreditExhaustionMidRun(t *testing.T) {
	ledger := newFakeLedger(2, 0)
	d := NewDispatcher(ledger, &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(3))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 2 || report.Skipped != 1 {
		t.Errorf("sent %d skipped %d, want 2 sent 1 skipped", report.Sent, report.Skipped)
	}
	if ledger.used[domain.CreditEmail] != 2 {
		t.Errorf("credits used = %d, want exactly 2", ledger.used[domain.CreditEmail])
	}
}

func TestDispatchNoRefundOnDeliveryFailure(t *testing.T) {
	ledger := newFakeLedger(10, 0)
	deliverer := &fakeDeliverer{rejectFor: "user2@example.com"}
	d := NewDispatcher(ledger, &fakeRenderer{}, deliverer, &fakeEvents{}, newFakeLog(), 1)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(3))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 2 || report.Failed != 1 {
		t.Errorf("sent %d failed %d, want 2 sent 1 failed", report.Sent, report.Failed)
	}
	// Credit is consumed on attempt, including the failed one.
	if ledger.used[domain.CreditEmail] != 3 {
		t.Errorf("credits used = %d, want 3 (no refund)", ledger.used[domain.CreditEmail])
	}
	for _, o := range report.Outcomes {
		if o.SubscriberID == "sub-2" && o.Error != "mailbox full" {
			t.Errorf("failed outcome should carry reason, got %q", o.Error)
		}
	}
}

func TestDispatchTransportErrorIsRecipientFailure(t *testing.T) {
	deliverer := &fakeDeliverer{errFor: "user1@example.com"}
	d := NewDispatcher(newFakeLedger(10, 0), &fakeRenderer{}, deliverer, &fakeEvents{}, newFakeLog(), 1)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(2))
	if err != nil {
		t.Fatalf("individual transport errors must not abort the pass: %v", err)
	}
	if report.Failed != 1 || report.Sent != 1 {
		t.Errorf("failed %d sent %d", report.Failed, report.Sent)
	}
}

func TestDispatchRenderFailureConsumesCredit(t *testing.T) {
	ledger := newFakeLedger(10, 0)
	d := NewDispatcher(ledger, &fakeRenderer{failFor: "user1@example.com"}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(1))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	if ledger.used[domain.CreditEmail] != 1 {
		t.Errorf("credit should be consumed on attempt even when render fails")
	}
}

func TestDispatchResumeSkipsAlreadySent(t *testing.T) {
	log := newFakeLog()
	log.outcomes["sub-1"] = domain.OutcomeSent
	log.outcomes["sub-2"] = domain.OutcomeFailed

	ledger := newFakeLedger(10, 0)
	deliverer := &fakeDeliverer{}
	d := NewDispatcher(ledger, &fakeRenderer{}, deliverer, &fakeEvents{}, log, 1)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(3))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Resumed != 1 {
		t.Errorf("resumed = %d, want 1", report.Resumed)
	}
	// sub-2 failed last pass and is retried; sub-1 is never re-sent.
	if report.Sent != 2 {
		t.Errorf("sent = %d, want 2 (failed row retried, sent row skipped)", report.Sent)
	}
	for _, to := range deliverer.delivered {
		if to == "user1@example.com" {
			t.Error("already-sent recipient was delivered again")
		}
	}
}

func TestDispatchIgnoresNonActiveRecipients(t *testing.T) {
	subs := recipients(2)
	subs[1].Status = domain.SubscriberUnsubscribed

	d := NewDispatcher(newFakeLedger(10, 0), &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1)
	report, err := d.Dispatch(context.Background(), testCampaign(), subs)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Sent != 1 {
		t.Errorf("outcomes = %d sent = %d, want 1 and 1", len(report.Outcomes), report.Sent)
	}
}

func TestDispatchSMSCampaignConsumesBothKinds(t *testing.T) {
	ledger := newFakeLedger(10, 10)
	campaign := testCampaign()
	campaign.IncludesSMS = true

	d := NewDispatcher(ledger, &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1)
	if _, err := d.Dispatch(context.Background(), campaign, recipients(2)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ledger.used[domain.CreditEmail] != 2 || ledger.used[domain.CreditSMS] != 2 {
		t.Errorf("used = %v, want 2 of each kind", ledger.used)
	}
}

func TestDispatchSystemicLedgerFailureAborts(t *testing.T) {
	ledger := newFakeLedger(10, 0)
	ledger.err = domain.StorageErr("credits", errors.New("connection refused"))

	d := NewDispatcher(ledger, &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1)
	_, err := d.Dispatch(context.Background(), testCampaign(), recipients(3))
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("err = %v, want storage unavailable", err)
	}
}

type stubLock struct {
	acquired bool
}

func (s *stubLock) Acquire(ctx context.Context) (bool, error) { return s.acquired, nil }
func (s *stubLock) Release(ctx context.Context) error         { return nil }

func TestDispatchLockContention(t *testing.T) {
	d := NewDispatcher(newFakeLedger(10, 0), &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 1).
		WithLock(func(campaignID string) distlock.DistLock { return &stubLock{acquired: false} })

	_, err := d.Dispatch(context.Background(), testCampaign(), recipients(1))
	if !errors.Is(err, ErrDispatchInProgress) {
		t.Errorf("err = %v, want ErrDispatchInProgress", err)
	}
}

func TestDispatchConcurrentWorkersRespectCreditPool(t *testing.T) {
	ledger := newFakeLedger(10, 0)
	d := NewDispatcher(ledger, &fakeRenderer{}, &fakeDeliverer{}, &fakeEvents{}, newFakeLog(), 4)

	report, err := d.Dispatch(context.Background(), testCampaign(), recipients(20))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 10 {
		t.Errorf("sent = %d, want exactly the credit pool of 10", report.Sent)
	}
	if report.Sent+report.Skipped != 20 {
		t.Errorf("sent+skipped = %d, want 20", report.Sent+report.Skipped)
	}
	if ledger.used[domain.CreditEmail] != 10 {
		t.Errorf("used = %d, availability must never go negative", ledger.used[domain.CreditEmail])
	}
}
