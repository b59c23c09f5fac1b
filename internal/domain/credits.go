package domain

import "time"

// CreditKind identifies a consumable usage pool. Each kind is metered
// independently; lead-provider (apollo) credits live in their own namespace
// and are not part of this ledger.
type CreditKind string

const (
	CreditEmail CreditKind = "email"
	CreditSMS   CreditKind = "sms"
	CreditLead  CreditKind = "lead"
)

// CreditKinds lists every metered kind in display order.
var CreditKinds = []CreditKind{CreditEmail, CreditSMS, CreditLead}

// CreditBalance is the per-tenant, per-kind ledger row.
type CreditBalance struct {
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	Kind           CreditKind `json:"kind" db:"kind"`
	Allowance      int64      `json:"allowance" db:"allowance"`
	PurchasedExtra int64      `json:"purchased_extra" db:"purchased_extra"`
	UsedThisPeriod int64      `json:"used_this_period" db:"used_this_period"`
	PeriodStart    time.Time  `json:"period_start" db:"period_start"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Available returns the spendable balance, floored at zero for display.
func (b CreditBalance) Available() int64 {
	avail := b.Allowance + b.PurchasedExtra - b.UsedThisPeriod
	if avail < 0 {
		return 0
	}
	return avail
}

// Availability is the per-kind availability snapshot for a tenant.
type Availability struct {
	Emails int64 `json:"emails"`
	SMS    int64 `json:"sms"`
	Leads  int64 `json:"leads"`
}

// Sufficiency reports whether requested amounts fit current availability.
// All is true only when every requested kind is individually sufficient;
// kinds with a zero request are trivially sufficient.
type Sufficiency struct {
	Emails bool `json:"emails"`
	SMS    bool `json:"sms"`
	Leads  bool `json:"leads"`
	All    bool `json:"all"`
}

// ConsumeResult is returned by a successful ledger debit.
type ConsumeResult struct {
	Kind               CreditKind `json:"kind"`
	Consumed           int64      `json:"consumed"`
	RemainingAvailable int64      `json:"remaining_available"`
}

// CreditTransaction records a purchased credit top-up for audit. Debits are
// not individually journaled; UsedThisPeriod carries consumption.
type CreditTransaction struct {
	ID          string     `json:"id" db:"id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	Kind        CreditKind `json:"kind" db:"kind"`
	Amount      int64      `json:"amount" db:"amount"`
	AmountCents int64      `json:"amount_cents" db:"amount_cents"`
	Gateway     string     `json:"gateway" db:"gateway"`
	ReferenceID string     `json:"reference_id" db:"reference_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// SubscriptionTier is a plan with per-kind monthly allowances.
type SubscriptionTier struct {
	Name           string `json:"name"`
	EmailAllowance int64  `json:"email_allowance"`
	SMSAllowance   int64  `json:"sms_allowance"`
	LeadAllowance  int64  `json:"lead_allowance"`
	PriceCents     int64  `json:"price_cents"`
}

// AllowanceFor returns the tier's allowance for the given kind.
func (t SubscriptionTier) AllowanceFor(kind CreditKind) int64 {
	switch kind {
	case CreditEmail:
		return t.EmailAllowance
	case CreditSMS:
		return t.SMSAllowance
	case CreditLead:
		return t.LeadAllowance
	}
	return 0
}
