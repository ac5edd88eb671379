// Package queue implements the embedded task broker backing background
// inference. Tasks live in a SQLite table managed through GORM, so the API
// process and worker processes share one durable queue without an external
// broker deployment.
//
// Lifecycle: a task is enqueued PENDING, claimed by exactly one worker
// (PENDING → STARTED via a compare-and-set update), and finishes SUCCESS or
// FAILURE. REVOKED marks tasks withdrawn before execution. A transient
// failure can reschedule the task back to PENDING with a not-before time,
// which is how the worker's backoff policy is made durable.
//
// The opaque string handle returned by Enqueue is the task correlation id
// stored on checkups; callers never interpret it.
package queue

import (
	"encoding/json"
	"time"
)

// TaskState is the broker-visible execution state of a task. The literal
// values mirror the states the results endpoint reports to clients.
type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateStarted TaskState = "STARTED"
	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"
	StateRevoked TaskState = "REVOKED"
)

// TerminalFailure reports whether the state means the task will never run
// again without a fresh dispatch.
func (s TaskState) TerminalFailure() bool {
	return s == StateFailure || s == StateRevoked
}

// Task is one unit of background work.
//
// Fields:
//   - Handle: opaque unique id handed to enqueuers.
//   - Name: registered function name (e.g. "inference.run_checkup").
//   - Payload: JSON-encoded arguments.
//   - Attempts: number of executions started so far.
//   - NotBefore: earliest time a rescheduled task may be claimed again.
//   - LastError: most recent failure message, for operators.
type Task struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	Handle    string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name      string     `gorm:"type:varchar(128);not null;index"`
	Payload   string     `gorm:"type:text;not null"`
	State     TaskState  `gorm:"type:varchar(16);not null;default:'PENDING';index"`
	Attempts  int        `gorm:"not null;default:0"`
	NotBefore *time.Time `gorm:"index"`
	ClaimedAt *time.Time
	LastError *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Task.
func (Task) TableName() string { return "tasks" }

// DecodePayload unmarshals the task arguments into v.
func (t *Task) DecodePayload(v any) error {
	return json.Unmarshal([]byte(t.Payload), v)
}
