// Package credits meters consumable usage (email/SMS/lead credits) per
// tenant against subscription-tier allowances plus purchased add-ons.
//
// All mutations go through the ledger's atomic operations; callers never
// read-modify-write balances directly. Consumption can never drive a
// balance negative: the debit is a single guarded UPDATE that either
// applies in full or not at all.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leadwave/leadwave/internal/domain"
)

// Ledger gates and accounts for credit usage. Safe for concurrent use; the
// database serializes competing debits on the same (tenant, kind) row.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a credit ledger on the given database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// GetBalance returns the ledger row for one (tenant, kind). A missing row
// reads as an all-zero balance rather than an error.
func (l *Ledger) GetBalance(ctx context.Context, tenantID string, kind domain.CreditKind) (*domain.CreditBalance, error) {
	query := `SELECT allowance, purchased_extra, used_this_period, period_start, updated_at
		FROM credit_balances WHERE tenant_id = $1 AND kind = $2`

	b := &domain.CreditBalance{TenantID: tenantID, Kind: kind}
	err := l.db.QueryRowContext(ctx, query, tenantID, kind).Scan(
		&b.Allowance, &b.PurchasedExtra, &b.UsedThisPeriod, &b.PeriodStart, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return nil, domain.StorageErr("credits: get balance", err)
	}
	return b, nil
}

// GetAvailable returns current availability per kind, floored at zero.
func (l *Ledger) GetAvailable(ctx context.Context, tenantID string) (*domain.Availability, error) {
	query := `SELECT kind, allowance, purchased_extra, used_this_period
		FROM credit_balances WHERE tenant_id = $1`

	rows, err := l.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, domain.StorageErr("credits: get available", err)
	}
	defer rows.Close()

	avail := &domain.Availability{}
	for rows.Next() {
		var b domain.CreditBalance
		if err := rows.Scan(&b.Kind, &b.Allowance, &b.PurchasedExtra, &b.UsedThisPeriod); err != nil {
			return nil, domain.StorageErr("credits: scan balance", err)
		}
		switch b.Kind {
		case domain.CreditEmail:
			avail.Emails = b.Available()
		case domain.CreditSMS:
			avail.SMS = b.Available()
		case domain.CreditLead:
			avail.Leads = b.Available()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageErr("credits: iterate balances", err)
	}
	return avail, nil
}

// CheckSufficient is a pure read-only check against current availability.
// It never mutates state; kinds with a zero requested count are trivially
// sufficient. All is true only when every requested kind fits.
func (l *Ledger) CheckSufficient(ctx context.Context, tenantID string, emailCount, smsCount, leadCount int64) (*domain.Sufficiency, error) {
	avail, err := l.GetAvailable(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	s := &domain.Sufficiency{
		Emails: emailCount <= 0 || avail.Emails >= emailCount,
		SMS:    smsCount <= 0 || avail.SMS >= smsCount,
		Leads:  leadCount <= 0 || avail.Leads >= leadCount,
	}
	s.All = s.Emails && s.SMS && s.Leads
	return s, nil
}

// Consume atomically debits amount credits of the given kind. The guard
// used_this_period + amount <= allowance + purchased_extra is evaluated
// inside the UPDATE itself, so a losing racer fails cleanly with
// domain.ErrInsufficientCredit and no partial debit.
func (l *Ledger) Consume(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) (*domain.ConsumeResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credits: consume: %w", errInvalidAmount)
	}

	query := `UPDATE credit_balances
		SET used_this_period = used_this_period + $3, updated_at = NOW()
		WHERE tenant_id = $1 AND kind = $2
			AND used_this_period + $3 <= allowance + purchased_extra
		RETURNING allowance + purchased_extra - used_this_period`

	var remaining int64
	err := l.db.QueryRowContext(ctx, query, tenantID, kind, amount).Scan(&remaining)
	if err == sql.ErrNoRows {
		// Either no balance row or the guard rejected the debit; both mean
		// the tenant cannot spend this amount right now.
		return nil, domain.ErrInsufficientCredit
	}
	if err != nil {
		return nil, domain.StorageErr("credits: consume", err)
	}

	return &domain.ConsumeResult{Kind: kind, Consumed: amount, RemainingAvailable: remaining}, nil
}

// AddPurchasedCredit tops up purchased_extra after a completed credit
// purchase. Called by the payment-completion collaborator.
func (l *Ledger) AddPurchasedCredit(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credits: add purchased: %w", errInvalidAmount)
	}

	query := `INSERT INTO credit_balances (tenant_id, kind, allowance, purchased_extra, used_this_period, period_start, updated_at)
		VALUES ($1, $2, 0, $3, 0, NOW(), NOW())
		ON CONFLICT (tenant_id, kind)
		DO UPDATE SET purchased_extra = credit_balances.purchased_extra + $3, updated_at = NOW()`

	if _, err := l.db.ExecContext(ctx, query, tenantID, kind, amount); err != nil {
		return domain.StorageErr("credits: add purchased", err)
	}
	return nil
}

// Grant applies a subscription tier's allowances to a tenant, creating or
// updating the balance row for every credit kind.
func (l *Ledger) Grant(ctx context.Context, tenantID string, tier domain.SubscriptionTier) error {
	query := `INSERT INTO credit_balances (tenant_id, kind, allowance, purchased_extra, used_this_period, period_start, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
		ON CONFLICT (tenant_id, kind)
		DO UPDATE SET allowance = $3, updated_at = NOW()`

	for _, kind := range domain.CreditKinds {
		if _, err := l.db.ExecContext(ctx, query, tenantID, kind, tier.AllowanceFor(kind)); err != nil {
			return domain.StorageErr("credits: grant tier", err)
		}
	}
	return nil
}

// ResetPeriod rolls a (tenant, kind) balance into a new billing period:
// allowance replenished, usage zeroed, purchased extras expired.
func (l *Ledger) ResetPeriod(ctx context.Context, tenantID string, kind domain.CreditKind, allowance int64, periodStart time.Time) error {
	query := `UPDATE credit_balances
		SET allowance = $3, purchased_extra = 0, used_this_period = 0, period_start = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND kind = $2`

	if _, err := l.db.ExecContext(ctx, query, tenantID, kind, allowance, periodStart); err != nil {
		return domain.StorageErr("credits: reset period", err)
	}
	return nil
}

var errInvalidAmount = errors.New("amount must be positive")
