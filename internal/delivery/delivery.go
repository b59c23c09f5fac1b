// Package delivery contains the outbound email service provider adapters.
// The dispatcher talks to a Deliverer and never to a provider API directly,
// so providers are swappable per deployment.
package delivery

import (
	"context"
	"time"
)

// Message is one fully rendered email ready for handoff to a provider.
type Message struct {
	To           string
	FromEmail    string
	FromName     string
	ReplyTo      string
	Subject      string
	HTMLContent  string
	TextContent  string
	CampaignID   string
	SubscriberID string
	TenantID     string
}

// Result reports the provider's acceptance of a single message.
type Result struct {
	Accepted  bool
	MessageID string
	Provider  string
	Reason    string
	SentAt    time.Time
}

// Deliverer hands a rendered message to an email service provider.
// A non-nil error means the provider could not be reached at all;
// provider-level rejections come back as Accepted=false with a Reason.
type Deliverer interface {
	Deliver(ctx context.Context, msg *Message) (*Result, error)
	Name() string
}
