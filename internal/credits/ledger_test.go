package credits

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/leadwave/leadwave/internal/domain"
)

func setupLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLedger(db), mock
}

func TestGetAvailable(t *testing.T) {
	ledger, mock := setupLedger(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT kind, allowance, purchased_extra, used_this_period").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "allowance", "purchased_extra", "used_this_period"}).
			AddRow("email", 1000, 200, 300).
			AddRow("sms", 100, 0, 150). // overdrawn: displays as 0, never negative
			AddRow("lead", 50, 0, 0))

	avail, err := ledger.GetAvailable(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("GetAvailable() error: %v", err)
	}

	if avail.Emails != 900 {
		t.Errorf("Emails = %d, want 900", avail.Emails)
	}
	if avail.SMS != 0 {
		t.Errorf("SMS = %d, want 0 (floored)", avail.SMS)
	}
	if avail.Leads != 50 {
		t.Errorf("Leads = %d, want 50", avail.Leads)
	}
}

func TestGetAvailableNoRows(t *testing.T) {
	ledger, mock := setupLedger(t)

	mock.ExpectQuery("SELECT kind, allowance, purchased_extra, used_this_period").
		WithArgs("tenant-new").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "allowance", "purchased_extra", "used_this_period"}))

	avail, err := ledger.GetAvailable(context.Background(), "tenant-new")
	if err != nil {
		t.Fatalf("GetAvailable() error: %v", err)
	}
	if avail.Emails != 0 || avail.SMS != 0 || avail.Leads != 0 {
		t.Errorf("new tenant availability = %+v, want all zero", avail)
	}
}

func TestCheckSufficient(t *testing.T) {
	tests := []struct {
		name                   string
		emailAvail, smsAvail   int64
		emails, sms, leads     int64
		wantEmails, wantAll    bool
	}{
		{"all fit", 100, 10, 50, 5, 0, true, true},
		{"emails short", 10, 10, 50, 0, 0, false, false},
		{"zero requests trivially sufficient", 0, 0, 0, 0, 0, true, true},
		{"exact boundary", 50, 0, 50, 0, 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock := setupLedger(t)

			mock.ExpectQuery("SELECT kind, allowance, purchased_extra, used_this_period").
				WithArgs("t1").
				WillReturnRows(sqlmock.NewRows([]string{"kind", "allowance", "purchased_extra", "used_this_period"}).
					AddRow("email", tt.emailAvail, 0, 0).
					AddRow("sms", tt.smsAvail, 0, 0))

			s, err := ledger.CheckSufficient(context.Background(), "t1", tt.emails, tt.sms, tt.leads)
			if err != nil {
				t.Fatalf("CheckSufficient() error: %v", err)
			}
			if s.Emails != tt.wantEmails {
				t.Errorf("Emails = %v, want %v", s.Emails, tt.wantEmails)
			}
			if s.All != tt.wantAll {
				t.Errorf("All = %v, want %v", s.All, tt.wantAll)
			}
		})
	}
}

func TestConsumeSuccess(t *testing.T) {
	ledger, mock := setupLedger(t)

	mock.ExpectQuery("UPDATE credit_balances").
		WithArgs("t1", domain.CreditEmail, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(98))

	res, err := ledger.Consume(context.Background(), "t1", domain.CreditEmail, 2)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if res.Consumed != 2 {
		t.Errorf("Consumed = %d, want 2", res.Consumed)
	}
	if res.RemainingAvailable != 98 {
		t.Errorf("RemainingAvailable = %d, want 98", res.RemainingAvailable)
	}
}

func TestConsumeInsufficient(t *testing.T) {
	ledger, mock := setupLedger(t)

	// Guard rejects the debit: UPDATE matches no rows
	mock.ExpectQuery("UPDATE credit_balances").
		WithArgs("t1", domain.CreditEmail, int64(5)).
		WillReturnError(sql.ErrNoRows)

	_, err := ledger.Consume(context.Background(), "t1", domain.CreditEmail, 5)
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Errorf("Consume() error = %v, want ErrInsufficientCredit", err)
	}
}

func TestConsumeInvalidAmount(t *testing.T) {
	ledger, _ := setupLedger(t)

	if _, err := ledger.Consume(context.Background(), "t1", domain.CreditEmail, 0); err == nil {
		t.Error("Consume(0) error = nil, want error")
	}
	if _, err := ledger.Consume(context.Background(), "t1", domain.CreditEmail, -3); err == nil {
		t.Error("Consume(-3) error = nil, want error")
	}
}

func TestConsumeStorageError(t *testing.T) {
	ledger, mock := setupLedger(t)

	mock.ExpectQuery("UPDATE credit_balances").
		WithArgs("t1", domain.CreditEmail, int64(1)).
		WillReturnError(errors.New("connection refused"))

	_, err := ledger.Consume(context.Background(), "t1", domain.CreditEmail, 1)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("Consume() error = %v, want ErrStorageUnavailable", err)
	}
	if errors.Is(err, domain.ErrInsufficientCredit) {
		t.Error("transient storage failure must not read as insufficient credit")
	}
}

func TestAddPurchasedCredit(t *testing.T) {
	ledger, mock := setupLedger(t)

	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("t1", domain.CreditLead, int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.AddPurchasedCredit(context.Background(), "t1", domain.CreditLead, 500); err != nil {
		t.Fatalf("AddPurchasedCredit() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGrantUpsertsEveryKind(t *testing.T) {
	ledger, mock := setupLedger(t)

	tier := domain.SubscriptionTier{Name: "growth", EmailAllowance: 10000, SMSAllowance: 500, LeadAllowance: 200}

	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("t1", domain.CreditEmail, int64(10000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("t1", domain.CreditSMS, int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("t1", domain.CreditLead, int64(200)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.Grant(context.Background(), "t1", tier); err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResetPeriod(t *testing.T) {
	ledger, mock := setupLedger(t)
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE credit_balances").
		WithArgs("t1", domain.CreditEmail, int64(10000), start).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.ResetPeriod(context.Background(), "t1", domain.CreditEmail, 10000, start); err != nil {
		t.Fatalf("ResetPeriod() error: %v", err)
	}
}

func TestBalanceAvailableFloor(t *testing.T) {
	b := domain.CreditBalance{Allowance: 10, PurchasedExtra: 5, UsedThisPeriod: 20}
	if got := b.Available(); got != 0 {
		t.Errorf("Available() = %d, want 0 for overdrawn balance", got)
	}
}
