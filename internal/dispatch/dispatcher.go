// Package dispatch orchestrates one campaign-send pass over a finite
// recipient set: credit gating, rendering, provider handoff, and
// per-recipient outcome accounting.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leadwave/leadwave/internal/delivery"
	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/distlock"
	"github.com/leadwave/leadwave/internal/pkg/logger"
)

// ErrDispatchInProgress is returned when another process already holds the
// campaign's dispatch lock.
var ErrDispatchInProgress = errors.New("campaign dispatch already in progress")

// CreditLedger is the credit-gating surface the dispatcher needs.
type CreditLedger interface {
	CheckSufficient(ctx context.Context, tenantID string, emailCount, smsCount, leadCount int64) (*domain.Sufficiency, error)
	Consume(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) (*domain.ConsumeResult, error)
}

// Renderer produces the personalized subject and full HTML document for one
// recipient.
type Renderer interface {
	Personalize(content string, sub *domain.Subscriber) (string, error)
	Render(subject, contentHTML, preheader, campaignID, tenantID string, sub *domain.Subscriber) (string, error)
}

// EventAppender records subscriber history events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *domain.SubscriberEvent) error
}

// OutcomeLog persists per-recipient outcomes so an interrupted pass can
// resume without re-sending.
type OutcomeLog interface {
	Existing(ctx context.Context, campaignID string) (map[string]domain.SendOutcome, error)
	Record(ctx context.Context, campaignID, tenantID string, outcome domain.RecipientOutcome) error
}

// Dispatcher runs campaign-send passes.
type Dispatcher struct {
	ledger    CreditLedger
	renderer  Renderer
	deliverer delivery.Deliverer
	events    EventAppender
	outcomes  OutcomeLog
	workers   int

	// lockFor, when set, serializes passes per campaign across processes.
	lockFor func(campaignID string) distlock.DistLock
}

// NewDispatcher wires a dispatcher. workers <= 0 falls back to 1.
func NewDispatcher(ledger CreditLedger, renderer Renderer, deliverer delivery.Deliverer, events EventAppender, outcomes OutcomeLog, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		ledger:    ledger,
		renderer:  renderer,
		deliverer: deliverer,
		events:    events,
		outcomes:  outcomes,
		workers:   workers,
	}
}

// WithLock installs a per-campaign lock factory, typically Redis-backed
// with a Postgres advisory fallback.
func (d *Dispatcher) WithLock(lockFor func(campaignID string) distlock.DistLock) *Dispatcher {
	d.lockFor = lockFor
	return d
}

// Dispatch runs one pass of campaign over recipients and reports every
// per-recipient outcome. Individual recipient failures never abort the
// pass; only a systemic storage failure does. Credits are consumed on
// attempt and are not refunded when delivery later fails.
//
// Recipients already recorded as sent in a previous pass are skipped, so a
// restarted pass is idempotent per (campaign, subscriber).
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *domain.CampaignContent, recipients []*domain.Subscriber) (*domain.DispatchReport, error) {
	report := &domain.DispatchReport{
		CampaignID: campaign.ID,
		TenantID:   campaign.TenantID,
		StartedAt:  time.Now(),
	}

	if d.lockFor != nil {
		lock := d.lockFor(campaign.ID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("dispatch: acquire lock: %w", err)
		}
		if !acquired {
			return nil, ErrDispatchInProgress
		}
		defer lock.Release(context.Background())
	}

	done, err := d.outcomes.Existing(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load prior outcomes: %w", err)
	}

	pending := make([]*domain.Subscriber, 0, len(recipients))
	for _, sub := range recipients {
		if sub.Status != domain.SubscriberActive {
			continue
		}
		if done[sub.ID] == domain.OutcomeSent {
			report.Resumed++
			continue
		}
		pending = append(pending, sub)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
	)
	systemic := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	jobs := make(chan *domain.Subscriber)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				outcome, err := d.sendOne(ctx, campaign, sub)
				if err != nil {
					systemic(err)
					return
				}
				if err := d.outcomes.Record(ctx, campaign.ID, campaign.TenantID, outcome); err != nil {
					systemic(fmt.Errorf("dispatch: record outcome: %w", err))
					return
				}
				mu.Lock()
				report.Outcomes = append(report.Outcomes, outcome)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, sub := range pending {
		select {
		case jobs <- sub:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	report.Tally()
	report.FinishedAt = time.Now()
	logger.Info("campaign dispatch finished",
		"campaign_id", campaign.ID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"resumed", report.Resumed)
	return report, nil
}

// sendOne walks a single recipient through the pending state machine. A
// returned error is systemic and aborts the pass; recipient-level problems
// come back inside the outcome.
func (d *Dispatcher) sendOne(ctx context.Context, campaign *domain.CampaignContent, sub *domain.Subscriber) (domain.RecipientOutcome, error) {
	outcome := domain.RecipientOutcome{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Outcome:      domain.OutcomePending,
	}
	finish := func(result domain.SendOutcome, reason string) (domain.RecipientOutcome, error) {
		outcome.Outcome = result
		outcome.Error = reason
		outcome.CompletedAt = time.Now()
		return outcome, nil
	}

	var smsCount int64
	if campaign.IncludesSMS {
		smsCount = 1
	}

	sufficiency, err := d.ledger.CheckSufficient(ctx, campaign.TenantID, 1, smsCount, 0)
	if err != nil {
		return outcome, fmt.Errorf("dispatch: credit check: %w", err)
	}
	if !sufficiency.All {
		return finish(domain.OutcomeSkippedInsufficientCredit, "")
	}

	if _, err := d.ledger.Consume(ctx, campaign.TenantID, domain.CreditEmail, 1); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredit) {
			// Raced away by a concurrent consumer between check and debit.
			return finish(domain.OutcomeSkippedInsufficientCredit, "")
		}
		return outcome, fmt.Errorf("dispatch: consume email credit: %w", err)
	}
	if campaign.IncludesSMS {
		if _, err := d.ledger.Consume(ctx, campaign.TenantID, domain.CreditSMS, 1); err != nil {
			if errors.Is(err, domain.ErrInsufficientCredit) {
				return finish(domain.OutcomeSkippedInsufficientCredit, "sms credit exhausted")
			}
			return outcome, fmt.Errorf("dispatch: consume sms credit: %w", err)
		}
	}

	subject, err := d.renderer.Personalize(campaign.Subject, sub)
	if err != nil {
		return finish(domain.OutcomeFailed, err.Error())
	}
	html, err := d.renderer.Render(campaign.Subject, campaign.HTMLContent, campaign.Preheader, campaign.ID, campaign.TenantID, sub)
	if err != nil {
		return finish(domain.OutcomeFailed, err.Error())
	}

	result, err := d.deliverer.Deliver(ctx, &delivery.Message{
		To:           sub.Email,
		FromEmail:    campaign.FromEmail,
		FromName:     campaign.FromName,
		Subject:      subject,
		HTMLContent:  html,
		CampaignID:   campaign.ID,
		SubscriberID: sub.ID,
		TenantID:     campaign.TenantID,
	})
	if err != nil {
		logger.Warn("delivery transport failure", "email", sub.Email, "error", err.Error())
		return finish(domain.OutcomeFailed, err.Error())
	}
	if !result.Accepted {
		logger.Warn("delivery rejected", "email", sub.Email, "reason", result.Reason)
		return finish(domain.OutcomeFailed, result.Reason)
	}

	outcome.MessageID = result.MessageID
	meta, _ := json.Marshal(map[string]string{"message_id": result.MessageID, "provider": result.Provider})
	if err := d.events.AppendEvent(ctx, &domain.SubscriberEvent{
		SubscriberID: sub.ID,
		TenantID:     campaign.TenantID,
		Type:         domain.EventEmailSent,
		CampaignID:   campaign.ID,
		Metadata:     meta,
	}); err != nil {
		logger.Warn("email_sent event append failed", "subscriber_id", sub.ID, "error", err.Error())
	}

	return finish(domain.OutcomeSent, "")
}
