// Package services – BillingService
//
// This file implements the BillingService, which owns credit balances and
// the purchase ledger. Purchases are idempotent per (doctor, key): a replay
// of an already-settled purchase returns the original ledger entry and the
// current balance without crediting again. The ledger row, the balance
// credit, and the SUCCESS settlement commit in one transaction, so a crash
// can never leave credits granted without a settled record.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/repo"
)

// BillingService provides bundle purchase, balance, and ledger history
// operations.
type BillingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewBillingService constructs a BillingService.
func NewBillingService(db *gorm.DB) *BillingService {
	return &BillingService{DB: db}
}

// PurchaseReceipt is the outcome of a purchase request.
type PurchaseReceipt struct {
	Txn     *domain.CreditTransaction
	Balance int
	// Replayed is true when the idempotency key matched an earlier settled
	// purchase and no new credits moved.
	Replayed bool
}

// Purchase credits doctorID with the named bundle. idemKey makes the call
// safe to retry: the same key either settles once or replays the settled
// entry. No real payment is taken; the provider is simulated.
func (s *BillingService) Purchase(ctx context.Context, doctorID, doctorName string, bundle domain.CreditBundle, idemKey string) (*PurchaseReceipt, error) {
	tr := otel.Tracer("services/BillingService")
	ctx, span := tr.Start(ctx, "Purchase",
		trace.WithAttributes(
			attribute.String("doctor.id", doctorID),
			attribute.String("bundle", string(bundle)),
		),
	)
	defer span.End()

	info, ok := domain.Bundles[bundle]
	if !ok {
		return nil, ErrInvalidBundle
	}

	if err := repo.EnsureDoctor(ctx, s.DB, doctorID, doctorName, "doctor"); err != nil {
		return nil, err
	}

	if receipt, err := s.replay(ctx, doctorID, idemKey); err != nil {
		return nil, err
	} else if receipt != nil {
		return receipt, nil
	}

	ref := uuid.NewString()
	txn := &domain.CreditTransaction{
		DoctorID:       doctorID,
		Bundle:         bundle,
		CreditsAdded:   info.Credits,
		AmountUSD:      info.AmountUSD,
		Provider:       "SIMULATED",
		ProviderRef:    &ref,
		IdempotencyKey: idemKey,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateTxn(ctx, tx, txn); err != nil {
			return err
		}
		if err := repo.AddCredits(ctx, tx, doctorID, info.Credits); err != nil {
			return err
		}
		return repo.SettleTxn(ctx, tx, txn.ID, domain.TxnSuccess)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the race against a concurrent request with the same key.
		if receipt, rerr := s.replay(ctx, doctorID, idemKey); rerr == nil && receipt != nil {
			return receipt, nil
		}
		return nil, ErrDuplicatePurchase
	}
	if err != nil {
		return nil, err
	}

	balance, err := s.Balance(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return &PurchaseReceipt{Txn: txn, Balance: balance}, nil
}

// replay returns the receipt for an already-settled purchase with the same
// key, or nil when the key is fresh.
func (s *BillingService) replay(ctx context.Context, doctorID, idemKey string) (*PurchaseReceipt, error) {
	existing, err := repo.FindSettledTxn(ctx, s.DB, doctorID, idemKey)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	balance, err := s.Balance(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return &PurchaseReceipt{Txn: existing, Balance: balance, Replayed: true}, nil
}

// Balance returns the doctor's current credit balance.
func (s *BillingService) Balance(ctx context.Context, doctorID string) (int, error) {
	profile, err := repo.GetProfile(ctx, s.DB, doctorID)
	if err != nil {
		return 0, err
	}
	return profile.Credits, nil
}

// Catalog returns the purchasable bundle catalog.
func (s *BillingService) Catalog() map[domain.CreditBundle]domain.BundleInfo {
	return domain.Bundles
}

// ListTransactions returns a page of the doctor's ledger history, newest
// first. Admin callers pass an empty doctorID for the full ledger.
func (s *BillingService) ListTransactions(ctx context.Context, doctorID string, page, pageSize int) ([]domain.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountTxns(ctx, s.DB, doctorID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListTxns(ctx, s.DB, doctorID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
