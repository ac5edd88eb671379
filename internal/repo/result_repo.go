// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-image
// inference results.
//
// The invariant here is at-most-one live result per (image sample, model)
// pair: a re-run deletes the stale row and inserts the fresh one inside a
// single transaction, so no reader ever observes both.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// ReplaceResult deletes any prior result for (sampleID, model) and inserts
// the new one atomically. The delete happens-before the insert within one
// transaction, which both avoids a half-written duplicate on crash mid-loop
// and closes the window where old and new rows would be visible together.
func ReplaceResult(ctx context.Context, db *gorm.DB, r *domain.ImageResult) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("image_sample_id = ? AND model = ?", r.ImageSampleID, r.Model).
			Delete(&domain.ImageResult{}).Error
		if err != nil {
			return err
		}
		r.CreatedAt = time.Now().UTC()
		return tx.Create(r).Error
	})
}

// ListResultsForCheckup returns all results for a checkup's samples, oldest
// sample first, joined through the (kind, id) sample reference.
func ListResultsForCheckup(ctx context.Context, db *gorm.DB, kind domain.CheckupKind, checkupID uint) ([]domain.ImageResult, error) {
	var out []domain.ImageResult
	err := db.WithContext(ctx).
		Joins("JOIN image_samples ON image_samples.id = image_results.image_sample_id").
		Where("image_samples.checkup_kind = ? AND image_samples.checkup_id = ?", kind, checkupID).
		Order("image_results.image_sample_id asc").
		Find(&out).Error
	return out, err
}

// CountResultsForSample returns the number of stored results for one sample
// and model version. Used by tests to assert the replace invariant.
func CountResultsForSample(ctx context.Context, db *gorm.DB, sampleID uint, model string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ImageResult{}).
		Where("image_sample_id = ? AND model = ?", sampleID, model).
		Count(&n).Error
	return n, err
}
