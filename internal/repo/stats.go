// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation on list endpoints) and for the
// operational stats surface. Each function is context-aware and safe to call
// from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// CheckupsStats returns aggregate metadata for a doctor's checkups: the total
// number of rows and the maximum UpdatedAt timestamp among those rows. An
// empty doctorID covers all checkups (admin scope).
//
// Return values:
//   - count:        total checkups in scope
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func CheckupsStats(ctx context.Context, db *gorm.DB, doctorID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Checkup{})
	if doctorID != "" {
		q = q.Where("doctor_id = ?", doctorID)
	}

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StatusCounts returns the number of checkups per lifecycle status, for the
// operational stats endpoint.
func StatusCounts(ctx context.Context, db *gorm.DB) (map[domain.CheckupStatus]int64, error) {
	type row struct {
		Status domain.CheckupStatus
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.CheckupStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
