package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadwave/leadwave/internal/domain"
	"github.com/leadwave/leadwave/internal/pkg/logger"
)

// ErrUnknownPackage is returned for a purchase against a package ID that is
// not in the catalog.
var ErrUnknownPackage = errors.New("unknown credit package")

// CreditGrantor is the ledger surface a completed purchase needs.
type CreditGrantor interface {
	AddPurchasedCredit(ctx context.Context, tenantID string, kind domain.CreditKind, amount int64) error
}

// PurchaseService turns verified payments into ledger credit and an audit
// transaction row.
type PurchaseService struct {
	db      *sql.DB
	ledger  CreditGrantor
	gateway PaymentGateway
}

func NewPurchaseService(db *sql.DB, ledger CreditGrantor, gateway PaymentGateway) *PurchaseService {
	return &PurchaseService{db: db, ledger: ledger, gateway: gateway}
}

// Start initializes a checkout for one credit package.
func (s *PurchaseService) Start(ctx context.Context, tenantID, packageID string) (*PaymentInit, error) {
	pkg, ok := PackageByID(packageID)
	if !ok {
		return nil, ErrUnknownPackage
	}
	init, err := s.gateway.InitializePayment(ctx, &PaymentRequest{
		TenantID:    tenantID,
		AmountCents: pkg.PriceCents,
		Currency:    pkg.Currency,
		Reference:   fmt.Sprintf("%s:%s:%s", tenantID, pkg.ID, uuid.New().String()),
		Metadata:    map[string]string{"package_id": pkg.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("billing: initialize payment: %w", err)
	}
	return init, nil
}

// Complete verifies the payment with the gateway, credits the ledger, and
// journals the purchase. Called from the payment provider's completion
// webhook or a return-URL handler.
func (s *PurchaseService) Complete(ctx context.Context, tenantID, packageID, orderID string) (*domain.CreditTransaction, error) {
	pkg, ok := PackageByID(packageID)
	if !ok {
		return nil, ErrUnknownPackage
	}
	if err := s.gateway.VerifyPayment(ctx, orderID); err != nil {
		return nil, fmt.Errorf("billing: verify payment %s: %w", orderID, err)
	}

	if err := s.ledger.AddPurchasedCredit(ctx, tenantID, pkg.Kind, pkg.Credits); err != nil {
		return nil, err
	}

	txn := &domain.CreditTransaction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Kind:        pkg.Kind,
		Amount:      pkg.Credits,
		AmountCents: pkg.PriceCents,
		Gateway:     s.gateway.Name(),
		ReferenceID: orderID,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO credit_transactions
		(id, tenant_id, kind, amount, amount_cents, gateway, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.TenantID, txn.Kind, txn.Amount, txn.AmountCents, txn.Gateway, txn.ReferenceID, txn.CreatedAt)
	if err != nil {
		// The ledger credit already landed; the journal row is audit only.
		logger.Error("credit transaction journal failed", "tenant_id", tenantID, "order_id", orderID, "error", err.Error())
		return txn, domain.StorageErr("billing: journal purchase", err)
	}

	logger.Info("credit purchase completed", "tenant_id", tenantID, "package_id", pkg.ID, "credits", pkg.Credits)
	return txn, nil
}

// Downgrade asks the gateway to drop the tenant's subscription at the next
// rollover.
func (s *PurchaseService) Downgrade(ctx context.Context, tenantID string) (bool, error) {
	return s.gateway.DowngradeSubscription(ctx, tenantID)
}
