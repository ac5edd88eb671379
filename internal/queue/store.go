// Package queue – store.
//
// Store wraps a GORM handle with the queue's state transitions. All
// transitions are single guarded UPDATEs so concurrent workers sharing the
// table cannot double-claim or resurrect finished tasks.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUnknownTask is returned when a handle does not match any task.
var ErrUnknownTask = errors.New("unknown task handle")

// Store provides durable queue operations over a shared database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle. Call Migrate before first use.
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or updates the tasks table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Task{})
}

// Enqueue inserts a PENDING task and returns its opaque handle. The payload
// is JSON-encoded; a serialization error fails the enqueue before anything
// is written.
func (s *Store) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	t := &Task{
		Handle:    uuid.NewString(),
		Name:      name,
		Payload:   string(raw),
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return "", err
	}
	return t.Handle, nil
}

// State returns the current execution state for a handle, or ErrUnknownTask.
func (s *Store) State(ctx context.Context, handle string) (TaskState, error) {
	var t Task
	err := s.db.WithContext(ctx).Select("state").Where("handle = ?", handle).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUnknownTask
	}
	if err != nil {
		return "", err
	}
	return t.State, nil
}

// Revoke withdraws a not-yet-started task. Started or finished tasks are
// left untouched.
func (s *Store) Revoke(ctx context.Context, handle string) error {
	return s.db.WithContext(ctx).
		Model(&Task{}).
		Where("handle = ? AND state = ?", handle, StatePending).
		Update("state", StateRevoked).Error
}

// Claim atomically takes the oldest runnable PENDING task for the given
// function names. It returns (nil, nil) when the queue is empty. Losing a
// claim race to another worker is also reported as empty; the caller's poll
// loop simply tries again.
func (s *Store) Claim(ctx context.Context, names ...string) (*Task, error) {
	now := time.Now().UTC()

	var candidate Task
	q := s.db.WithContext(ctx).
		Where("state = ?", StatePending).
		Where("not_before IS NULL OR not_before <= ?", now)
	if len(names) > 0 {
		q = q.Where("name IN ?", names)
	}
	err := q.Order("created_at asc").First(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND state = ?", candidate.ID, StatePending).
		Updates(map[string]any{
			"state":      StateStarted,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	candidate.State = StateStarted
	candidate.ClaimedAt = &now
	candidate.Attempts++
	return &candidate, nil
}

// Complete marks a started task SUCCESS.
func (s *Store) Complete(ctx context.Context, taskID uint) error {
	return s.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND state = ?", taskID, StateStarted).
		Update("state", StateSuccess).Error
}

// Fail records a failure. When retryAt is non-nil the task is rescheduled
// back to PENDING with that not-before time (durable backoff); otherwise it
// lands in terminal FAILURE.
func (s *Store) Fail(ctx context.Context, taskID uint, msg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error": msg,
	}
	if retryAt != nil {
		updates["state"] = StatePending
		updates["not_before"] = *retryAt
		updates["claimed_at"] = nil
	} else {
		updates["state"] = StateFailure
	}
	return s.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND state = ?", taskID, StateStarted).
		Updates(updates).Error
}

// ReclaimStale returns tasks stuck in STARTED longer than maxAge to PENDING.
// Covers workers killed mid-run; the guarded checkup transitions make the
// re-execution safe.
func (s *Store) ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.WithContext(ctx).
		Model(&Task{}).
		Where("state = ? AND claimed_at < ?", StateStarted, cutoff).
		Updates(map[string]any{
			"state":      StatePending,
			"claimed_at": nil,
		})
	return res.RowsAffected, res.Error
}

// Stats returns the number of tasks per state, for operational visibility.
func (s *Store) Stats(ctx context.Context) (map[TaskState]int64, error) {
	type row struct {
		State TaskState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&Task{}).
		Select("state, COUNT(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[TaskState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}
