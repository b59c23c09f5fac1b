package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/leadwave/leadwave/internal/domain"
)

type stubGateway struct {
	verifyErr error
	initURL   string
}

func (s *stubGateway) Name() string { return "stub" }

func (s *stubGateway) InitializePayment(ctx context.Context, req *PaymentRequest) (*PaymentInit, error) {
	return &PaymentInit{Success: true, OrderID: "ord-1", PaymentURL: s.initURL}, nil
}

func (s *stubGateway) VerifyPayment(ctx context.Context, orderID string) error {
	return s.verifyErr
}

func (s *stubGateway) DowngradeSubscription(ctx context.Context, tenantID string) (bool, error) {
	return true, nil
}

type recordingLedger struct {
	tenantID string
	kind     domain.CreditKind
	amount   int64
}

func (r *recordingLedger) AddPurchasedCredit(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) error {
	r.tenantID, r.kind, r.amount = tenantID, kind, amount
	return nil
}

func TestPurchaseComplete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO credit_transactions").WillReturnResult(sqlmock.NewResult(0, 1))

	ledger := &recordingLedger{}
	svc := NewPurchaseService(db, ledger, &stubGateway{})

	txn, err := svc.Complete(context.Background(), "tenant-1", "email-1k", "ord-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ledger.tenantID != "tenant-1" || ledger.kind != domain.CreditEmail || ledger.amount != 1000 {
		t.Errorf("ledger credit = %+v", ledger)
	}
	if txn.ReferenceID != "ord-1" || txn.Gateway != "stub" {
		t.Errorf("transaction = %+v", txn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPurchaseCompleteUnverified(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ledger := &recordingLedger{}
	svc := NewPurchaseService(db, ledger, &stubGateway{verifyErr: errors.New("payment declined")})

	if _, err := svc.Complete(context.Background(), "tenant-1", "email-1k", "ord-1"); err == nil {
		t.Fatal("expected verification failure")
	}
	if ledger.amount != 0 {
		t.Error("no credit may land for an unverified payment")
	}
}

func TestPurchaseUnknownPackage(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	svc := NewPurchaseService(db, &recordingLedger{}, &stubGateway{})
	if _, err := svc.Complete(context.Background(), "tenant-1", "nope", "ord-1"); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("err = %v, want ErrUnknownPackage", err)
	}
}

func TestPackageCatalog(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range Packages {
		if seen[p.ID] {
			t.Errorf("duplicate package id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Credits <= 0 || p.PriceCents <= 0 {
			t.Errorf("package %q has non-positive credits or price", p.ID)
		}
	}
	if _, ok := PackageByID("email-1k"); !ok {
		t.Error("email-1k should exist")
	}
}
