// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ImageSample
// rows attached to checkups.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// MaxSamplesPerCheckup caps the number of image samples one checkup may own.
const MaxSamplesPerCheckup = 5

// ErrTooManySamples is returned when attaching images would exceed
// MaxSamplesPerCheckup for the target checkup.
var ErrTooManySamples = errors.New("too many image samples for checkup")

// CreateSamples attaches the given stored image references to a checkup.
// The cap is checked against existing rows inside the caller's transaction,
// so submission (which creates checkup and samples together) stays atomic.
func CreateSamples(ctx context.Context, db *gorm.DB, kind domain.CheckupKind, checkupID uint, imagePaths []string) ([]domain.ImageSample, error) {
	if len(imagePaths) == 0 {
		return nil, nil
	}
	var existing int64
	err := db.WithContext(ctx).
		Model(&domain.ImageSample{}).
		Where("checkup_kind = ? AND checkup_id = ?", kind, checkupID).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if int(existing)+len(imagePaths) > MaxSamplesPerCheckup {
		return nil, ErrTooManySamples
	}

	now := time.Now().UTC()
	samples := make([]domain.ImageSample, 0, len(imagePaths))
	for _, p := range imagePaths {
		samples = append(samples, domain.ImageSample{
			CheckupKind: kind,
			CheckupID:   checkupID,
			ImagePath:   p,
			UploadedAt:  now,
		})
	}
	if err := db.WithContext(ctx).Create(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}

// ListSamples returns all image samples for a checkup in upload order.
func ListSamples(ctx context.Context, db *gorm.DB, kind domain.CheckupKind, checkupID uint) ([]domain.ImageSample, error) {
	var out []domain.ImageSample
	err := db.WithContext(ctx).
		Where("checkup_kind = ? AND checkup_id = ?", kind, checkupID).
		Order("id asc").
		Find(&out).Error
	return out, err
}
