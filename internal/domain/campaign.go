package domain

import "time"

// CampaignContent is the content/sender slice of a campaign that the send
// path needs. Campaign management (drafting, scheduling, approval) lives
// outside this core; only the id/content pair crosses the boundary.
type CampaignContent struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	Preheader   string `json:"preheader,omitempty"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	IncludesSMS bool   `json:"includes_sms"`
}

// SendOutcome enumerates the terminal states of one (campaign, subscriber) send.
type SendOutcome string

const (
	OutcomePending            SendOutcome = "pending"
	OutcomeSent               SendOutcome = "sent"
	OutcomeFailed             SendOutcome = "failed"
	OutcomeSkippedInsufficientCredit SendOutcome = "skipped_insufficient_credit"
)

// RecipientOutcome is one entry in the dispatch result list.
type RecipientOutcome struct {
	SubscriberID string      `json:"subscriber_id"`
	Email        string      `json:"email"`
	Outcome      SendOutcome `json:"outcome"`
	Error        string      `json:"error,omitempty"`
	MessageID    string      `json:"message_id,omitempty"`
	CompletedAt  time.Time   `json:"completed_at"`
}

// DispatchReport summarizes one campaign-send pass.
type DispatchReport struct {
	CampaignID string             `json:"campaign_id"`
	TenantID   string             `json:"tenant_id"`
	Outcomes   []RecipientOutcome `json:"outcomes"`
	Sent       int                `json:"sent"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Resumed    int                `json:"resumed"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Tally recomputes the outcome counters from the outcome list.
func (r *DispatchReport) Tally() {
	r.Sent, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Outcome {
		case OutcomeSent:
			r.Sent++
		case OutcomeFailed:
			r.Failed++
		case OutcomeSkippedInsufficientCredit:
			r.Skipped++
		}
	}
}
