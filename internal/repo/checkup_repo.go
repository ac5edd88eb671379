// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Checkup
// model, including the guarded status transitions that drive the checkup
// state machine.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Transition semantics:
//   - The state machine is PENDING → IN_PROGRESS → {COMPLETED, FAILED};
//     FAILED is also reachable directly from PENDING. No transition ever
//     leaves a terminal state.
//   - Transitions are single guarded UPDATEs (compare-and-set on the status
//     column) so concurrent retries of the same run cannot regress a
//     terminal checkup. A transition whose guard matches no row returns
//     ErrStaleTransition.
//   - ClaimFailureRefund flips the failure_refund flag false→true in one
//     statement; the boolean result tells the caller whether the one-time
//     refund is owed. Re-observing a failure never claims twice.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleTransition is returned when a guarded status transition matches no
// row: the checkup is missing, already terminal, or not in the expected
// source state.
var ErrStaleTransition = errors.New("stale status transition")

// CreateCheckup inserts a new Checkup row. The caller populates clinical
// fields and DoctorID; status defaults to PENDING and CreatedAt is set to UTC.
func CreateCheckup(ctx context.Context, db *gorm.DB, c *domain.Checkup) error {
	if c.Status == "" {
		c.Status = domain.CheckupPending
	}
	c.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(c).Error
}

// GetCheckup fetches a checkup by id, or ErrNotFound if missing.
func GetCheckup(ctx context.Context, db *gorm.DB, id uint) (*domain.Checkup, error) {
	var c domain.Checkup
	if err := db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCheckupOwned fetches a checkup by id enforcing doctor ownership.
func GetCheckupOwned(ctx context.Context, db *gorm.DB, id uint, doctorID string) (*domain.Checkup, error) {
	var c domain.Checkup
	err := db.WithContext(ctx).
		Where("id = ? AND doctor_id = ?", id, doctorID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetTaskID records the broker task handle on a checkup. Persisting the
// handle is best-effort traceability: a failure here must not abort the
// submission, so callers typically log and continue.
func SetTaskID(ctx context.Context, db *gorm.DB, id uint, taskID string) error {
	return db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Where("id = ?", id).
		Update("task_id", taskID).Error
}

// MarkInProgress transitions a checkup to IN_PROGRESS, stamping started_at,
// clearing any previous error message, and recording the task handle. The
// guard excludes terminal states so a late retry cannot resurrect a finished
// checkup; re-entering from IN_PROGRESS (worker retry) is permitted.
func MarkInProgress(ctx context.Context, db *gorm.DB, id uint, taskID string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Where("id = ? AND status IN ?", id, []domain.CheckupStatus{domain.CheckupPending, domain.CheckupInProgress}).
		Updates(map[string]any{
			"status":        domain.CheckupInProgress,
			"started_at":    now,
			"error_message": nil,
			"task_id":       taskID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// CompleteCheckup transitions IN_PROGRESS → COMPLETED, writing the aggregate
// result, confidence, image count, and completed_at in one guarded update.
func CompleteCheckup(ctx context.Context, db *gorm.DB, id uint, result string, confidence float64, imageCount int) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Where("id = ? AND status = ?", id, domain.CheckupInProgress).
		Updates(map[string]any{
			"status":           domain.CheckupCompleted,
			"result":           result,
			"final_confidence": confidence,
			"image_count":      imageCount,
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// FailCheckup transitions a non-terminal checkup to FAILED, recording the
// error message and completed_at. PENDING → FAILED is permitted (empty image
// set); terminal states are never overwritten.
func FailCheckup(ctx context.Context, db *gorm.DB, id uint, msg string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Where("id = ? AND status IN ?", id, []domain.CheckupStatus{domain.CheckupPending, domain.CheckupInProgress}).
		Updates(map[string]any{
			"status":        domain.CheckupFailed,
			"error_message": msg,
			"completed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ClaimFailureRefund flips the failure_refund flag false→true in a single
// guarded update and reports whether this call won the claim. Exactly one
// caller ever observes true per checkup, which makes the one-time failure
// refund crash-safe under task retries.
func ClaimFailureRefund(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Checkup{}).
		Where("id = ? AND failure_refund = ?", id, false).
		Update("failure_refund", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CheckupFilter narrows ListCheckups / CountCheckups. Zero values mean "no
// constraint". SearchTerms are matched (AND) against note, lesion location,
// and the owning doctor's name, each term case-insensitively.
type CheckupFilter struct {
	DoctorID    string
	HideFailed  bool
	Result      string
	Gender      string
	BloodType   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SearchTerms []string
}

func (f CheckupFilter) apply(q *gorm.DB) *gorm.DB {
	if f.DoctorID != "" {
		q = q.Where("checkups.doctor_id = ?", f.DoctorID)
	}
	if f.HideFailed {
		q = q.Where("checkups.status <> ?", domain.CheckupFailed)
	}
	if f.Result != "" {
		q = q.Where("checkups.result = ?", f.Result)
	}
	if f.Gender != "" {
		q = q.Where("LOWER(checkups.gender) = LOWER(?)", f.Gender)
	}
	if f.BloodType != "" {
		q = q.Where("checkups.blood_type = ?", f.BloodType)
	}
	if f.CreatedFrom != nil {
		q = q.Where("checkups.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("checkups.created_at <= ?", *f.CreatedTo)
	}
	if len(f.SearchTerms) > 0 {
		q = q.Joins("JOIN doctors ON doctors.id = checkups.doctor_id")
		for _, term := range f.SearchTerms {
			like := "%" + term + "%"
			q = q.Where(
				"LOWER(checkups.note) LIKE ? OR LOWER(checkups.lesion_location) LIKE ? OR LOWER(doctors.name) LIKE ?",
				like, like, like,
			)
		}
	}
	return q
}

// CountCheckups returns the number of checkups matching the filter.
func CountCheckups(ctx context.Context, db *gorm.DB, f CheckupFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Checkup{})).Count(&total).Error
	return total, err
}

// ListCheckupsPage returns a page of checkups matching the filter, ordered by
// creation time descending. Use CountCheckups for pagination metadata.
func ListCheckupsPage(ctx context.Context, db *gorm.DB, f CheckupFilter, offset, limit int) ([]domain.Checkup, error) {
	var out []domain.Checkup
	err := f.apply(db.WithContext(ctx).Model(&domain.Checkup{})).
		Order("checkups.created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
