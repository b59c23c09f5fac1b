package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers branch on these with
// errors.Is; wrapping preserves call-site context.
var (
	// ErrInsufficientCredit is recoverable and user-facing: the tenant should
	// be prompted to purchase credits, not retried automatically.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrDuplicateSubscriberRace is transient: two concurrent subscribe calls
	// hit the same (tenant, email) pair. Retrying the atomic subscribe once
	// resolves it.
	ErrDuplicateSubscriberRace = errors.New("concurrent subscribe on same subscriber")

	// ErrStorageUnavailable is a transient infrastructure failure, retryable
	// with backoff at the call site.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidUnsubscribeToken covers decode, expiry, and mismatch
	// failures. Surfaced to end users as "this link is invalid or expired".
	ErrInvalidUnsubscribeToken = errors.New("invalid or expired unsubscribe token")

	// ErrSubscriberNotFound indicates no row for the (tenant, email) or id.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// TemplateRenderError marks malformed campaign content. The dispatch loop
// treats the affected recipient as failed and continues.
type TemplateRenderError struct {
	CampaignID string
	Cause      error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("template render failed for campaign %s: %v", e.CampaignID, e.Cause)
}

func (e *TemplateRenderError) Unwrap() error { return e.Cause }

// StorageErr wraps a driver error as ErrStorageUnavailable while keeping the
// underlying cause in the chain.
func StorageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
