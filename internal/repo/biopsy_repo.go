// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for biopsy
// results, including the compare-and-set refund claim used by admin
// verification.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// CreateBiopsy inserts a biopsy result for a checkup. At most one biopsy may
// exist per checkup; a second upload maps to ErrDuplicate via the unique
// (checkup_kind, checkup_id) constraint.
func CreateBiopsy(ctx context.Context, db *gorm.DB, b *domain.BiopsyResult) error {
	if b.Status == "" {
		b.Status = domain.BiopsyPending
	}
	b.UploadedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
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

// GetBiopsy fetches a biopsy result by id, or ErrNotFound.
func GetBiopsy(ctx context.Context, db *gorm.DB, id uint) (*domain.BiopsyResult, error) {
	var b domain.BiopsyResult
	if err := db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBiopsyForCheckup fetches the biopsy attached to a checkup, or ErrNotFound.
func GetBiopsyForCheckup(ctx context.Context, db *gorm.DB, kind domain.CheckupKind, checkupID uint) (*domain.BiopsyResult, error) {
	var b domain.BiopsyResult
	err := db.WithContext(ctx).
		Where("checkup_kind = ? AND checkup_id = ?", kind, checkupID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SetBiopsyStatus records the review outcome and the reviewing admin.
// Verification and rejection are idempotent on the status column itself; the
// refund guard lives separately in ClaimBiopsyRefund.
func SetBiopsyStatus(ctx context.Context, db *gorm.DB, id uint, status domain.BiopsyStatus, adminID string) error {
	res := db.WithContext(ctx).
		Model(&domain.BiopsyResult{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         status,
			"verified_by_id": adminID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimBiopsyRefund flips credits_refunded false→true in a single guarded
// update and reports whether this call won the claim. Verifying the same
// biopsy twice refunds only on the first call.
func ClaimBiopsyRefund(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.BiopsyResult{}).
		Where("id = ? AND credits_refunded = ?", id, false).
		Update("credits_refunded", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
