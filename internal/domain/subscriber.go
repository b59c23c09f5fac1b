package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplained   SubscriberStatus = "complained"
)

// SubscriberSource indicates where a subscriber was acquired.
type SubscriberSource string

const (
	SourceCampaign    SubscriberSource = "campaign"
	SourceLandingPage SubscriberSource = "landing_page"
	SourceForm        SubscriberSource = "form"
	SourceManual      SubscriberSource = "manual"
	SourceImport      SubscriberSource = "import"
)

// CustomFieldValue is a typed custom-field value. Exactly one of the typed
// slots is populated; Kind tells which.
type CustomFieldValue struct {
	Kind   CustomFieldKind `json:"kind"`
	Str    string          `json:"str,omitempty"`
	Number float64         `json:"number,omitempty"`
	Bool   bool            `json:"bool,omitempty"`
	Time   time.Time       `json:"time,omitempty"`
}

// CustomFieldKind discriminates CustomFieldValue.
type CustomFieldKind string

const (
	FieldString CustomFieldKind = "string"
	FieldNumber CustomFieldKind = "number"
	FieldBool   CustomFieldKind = "bool"
	FieldTime   CustomFieldKind = "time"
)

// StringField builds a string-typed custom field value.
func StringField(s string) CustomFieldValue { return CustomFieldValue{Kind: FieldString, Str: s} }

// NumberField builds a number-typed custom field value.
func NumberField(n float64) CustomFieldValue { return CustomFieldValue{Kind: FieldNumber, Number: n} }

// BoolField builds a bool-typed custom field value.
func BoolField(b bool) CustomFieldValue { return CustomFieldValue{Kind: FieldBool, Bool: b} }

// TimeField builds a time-typed custom field value.
func TimeField(t time.Time) CustomFieldValue { return CustomFieldValue{Kind: FieldTime, Time: t} }

// Value returns the populated slot as an untyped value for template contexts.
func (v CustomFieldValue) Value() any {
	switch v.Kind {
	case FieldNumber:
		return v.Number
	case FieldBool:
		return v.Bool
	case FieldTime:
		return v.Time
	default:
		return v.Str
	}
}

// String renders the value the way it should appear in email content.
func (v CustomFieldValue) String() string {
	switch v.Kind {
	case FieldNumber:
		return trimFloat(v.Number)
	case FieldBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case FieldTime:
		return v.Time.Format("January 2, 2006")
	default:
		return v.Str
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// Consent records how and when a subscriber opted in.
type Consent struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	IP        string    `json:"ip,omitempty"`
}

// Subscriber represents a single email recipient owned by a tenant.
// Exactly one row exists per (tenant, email) pair; a resubscribe reactivates
// the existing row instead of creating a duplicate.
type Subscriber struct {
	ID           string                      `json:"id" db:"id"`
	TenantID     string                      `json:"tenant_id" db:"tenant_id"`
	Email        string                      `json:"email" db:"email"`
	EmailHash    string                      `json:"-" db:"email_hash"`
	FirstName    string                      `json:"first_name" db:"first_name"`
	LastName     string                      `json:"last_name" db:"last_name"`
	Status       SubscriberStatus            `json:"status" db:"status"`
	Source       SubscriberSource            `json:"source" db:"source"`
	CampaignIDs  []string                    `json:"campaign_ids" db:"campaign_ids"`
	Tags         []string                    `json:"tags,omitempty" db:"tags"`
	CustomFields map[string]CustomFieldValue `json:"custom_fields,omitempty" db:"custom_fields"`

	EngagementScore float64  `json:"engagement_score" db:"engagement_score"`
	Consent         *Consent `json:"consent,omitempty" db:"consent"`

	SubscribedAt   time.Time  `json:"subscribed_at" db:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// HasCampaign reports whether the subscriber is already attributed to campaignID.
func (s *Subscriber) HasCampaign(campaignID string) bool {
	for _, id := range s.CampaignIDs {
		if id == campaignID {
			return true
		}
	}
	return false
}

// UsageStats holds the per-tenant aggregate subscriber counters. The counters
// always equal the sum of actual subscriber row states for the tenant:
// Active + Unsubscribed + Bounced + Complained == Total.
type UsageStats struct {
	TenantID                string    `json:"tenant_id" db:"tenant_id"`
	TotalSubscribers        int64     `json:"total_subscribers" db:"total_subscribers"`
	ActiveSubscribers       int64     `json:"active_subscribers" db:"active_subscribers"`
	UnsubscribedSubscribers int64     `json:"unsubscribed_subscribers" db:"unsubscribed_subscribers"`
	BouncedSubscribers      int64     `json:"bounced_subscribers" db:"bounced_subscribers"`
	ComplainedSubscribers   int64     `json:"complained_subscribers" db:"complained_subscribers"`
	SubscriberGrowth        int64     `json:"subscriber_growth" db:"subscriber_growth"`
	TotalRevenue            float64   `json:"total_revenue" db:"total_revenue"`
	Conversions             int64     `json:"conversions" db:"conversions"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// Consistent reports whether the status counters sum to the total.
func (s UsageStats) Consistent() bool {
	return s.ActiveSubscribers+s.UnsubscribedSubscribers+s.BouncedSubscribers+s.ComplainedSubscribers == s.TotalSubscribers
}

// EventType enumerates subscriber lifecycle and engagement events.
type EventType string

const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventComplaint   EventType = "complaint"
	EventEmailSent   EventType = "email_sent"
)

// SubscriberEvent is one entry in the append-only subscriber event log.
// Events are write-once and never mutated or deleted.
type SubscriberEvent struct {
	ID           string          `json:"id" db:"id"`
	SubscriberID string          `json:"subscriber_id" db:"subscriber_id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Type         EventType       `json:"type" db:"type"`
	CampaignID   string          `json:"campaign_id,omitempty" db:"campaign_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}
