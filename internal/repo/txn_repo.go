// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the credit
// purchase ledger (CreditTransaction).
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// ErrDuplicate indicates that a row with the same uniqueness tuple already
// exists (e.g. a concurrent purchase with the same idempotency key).
var ErrDuplicate = errors.New("duplicate")

// FindSettledTxn returns the SUCCESS transaction for (doctorID, key), or
// ErrNotFound. Purchase replays consult this before creating a new entry.
func FindSettledTxn(ctx context.Context, db *gorm.DB, doctorID, key string) (*domain.CreditTransaction, error) {
	var txn domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("doctor_id = ? AND idempotency_key = ? AND status = ?", doctorID, key, domain.TxnSuccess).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// CreateTxn inserts a PENDING ledger entry. A unique violation on
// (doctor_id, idempotency_key) maps to ErrDuplicate so a racing replay can
// fall back to returning the winner's row.
func CreateTxn(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) error {
	if txn.Status == "" {
		txn.Status = domain.TxnPending
	}
	txn.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(txn).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// SettleTxn moves a PENDING transaction to SUCCESS or FAILED. Terminal rows
// are never rewritten; settling an already-settled transaction returns
// ErrStaleTransition.
func SettleTxn(ctx context.Context, db *gorm.DB, id uint, status domain.TxnStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("id = ? AND status = ?", id, domain.TxnPending).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListTxns returns ledger entries, newest first, optionally scoped to one
// doctor (doctors see only their own history; admins pass "" for all).
func ListTxns(ctx context.Context, db *gorm.DB, doctorID string, offset, limit int) ([]domain.CreditTransaction, error) {
	q := db.WithContext(ctx).Model(&domain.CreditTransaction{})
	if doctorID != "" {
		q = q.Where("doctor_id = ?", doctorID)
	}
	var out []domain.CreditTransaction
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountTxns returns the number of ledger entries in scope.
func CountTxns(ctx context.Context, db *gorm.DB, doctorID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.CreditTransaction{})
	if doctorID != "" {
		q = q.Where("doctor_id = ?", doctorID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
