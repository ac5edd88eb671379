package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("queue_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := NewStore(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type testArgs struct {
	CheckupID uint `json:"checkup_id"`
}

func TestEnqueueClaimComplete_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	handle, err := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 7})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	task, err := s.Claim(ctx, "inference.run_checkup")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task == nil {
		t.Fatal("Claim returned nil for a pending task")
	}
	if task.Handle != handle {
		t.Fatalf("handle = %q, want %q", task.Handle, handle)
	}
	if task.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", task.Attempts)
	}

	var args testArgs
	if err := task.DecodePayload(&args); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if args.CheckupID != 7 {
		t.Fatalf("checkup_id = %d, want 7", args.CheckupID)
	}

	if err := s.Complete(ctx, task.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	state, err := s.State(ctx, handle)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != StateSuccess {
		t.Fatalf("state = %q, want SUCCESS", state)
	}
}

func TestClaim_EmptyQueue_ReturnsNil(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Claim(context.Background(), "inference.run_checkup")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task != nil {
		t.Fatalf("got %+v, want nil", task)
	}
}

func TestClaim_FiltersByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "other.job", testArgs{CheckupID: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	task, err := s.Claim(ctx, "inference.run_checkup")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task != nil {
		t.Fatalf("claimed a task with the wrong name: %+v", task)
	}
}

func TestClaim_SecondClaim_SeesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := s.Claim(ctx, "inference.run_checkup")
	if err != nil || first == nil {
		t.Fatalf("first Claim = (%v, %v), want a task", first, err)
	}
	second, err := s.Claim(ctx, "inference.run_checkup")
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if second != nil {
		t.Fatalf("task claimed twice: %+v", second)
	}
}

func TestFail_WithRetryAt_ReschedulesWithBackoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	handle, err := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, _ := s.Claim(ctx, "inference.run_checkup")
	if task == nil {
		t.Fatal("expected a claimed task")
	}

	retryAt := time.Now().UTC().Add(time.Hour)
	if err := s.Fail(ctx, task.ID, "scoring runtime unreachable", &retryAt); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	state, err := s.State(ctx, handle)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != StatePending {
		t.Fatalf("state = %q, want PENDING after reschedule", state)
	}

	// The not-before time is in the future, so the task is not yet runnable.
	again, err := s.Claim(ctx, "inference.run_checkup")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if again != nil {
		t.Fatalf("claimed a task before its not-before time: %+v", again)
	}
}

func TestFail_Terminal_LandsInFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	handle, _ := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 1})
	task, _ := s.Claim(ctx, "inference.run_checkup")
	if task == nil {
		t.Fatal("expected a claimed task")
	}

	if err := s.Fail(ctx, task.ID, "no image samples", nil); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	state, _ := s.State(ctx, handle)
	if state != StateFailure {
		t.Fatalf("state = %q, want FAILURE", state)
	}
	if !state.TerminalFailure() {
		t.Fatal("FAILURE must be a terminal failure state")
	}
}

func TestRevoke_OnlyPendingTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	handle, _ := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 1})
	if err := s.Revoke(ctx, handle); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	state, _ := s.State(ctx, handle)
	if state != StateRevoked {
		t.Fatalf("state = %q, want REVOKED", state)
	}

	// Started tasks are untouchable.
	h2, _ := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 2})
	task, _ := s.Claim(ctx, "inference.run_checkup")
	if task == nil {
		t.Fatal("expected a claimed task")
	}
	if err := s.Revoke(ctx, h2); err != nil {
		t.Fatalf("Revoke started: %v", err)
	}
	state, _ = s.State(ctx, h2)
	if state != StateStarted {
		t.Fatalf("state = %q, want STARTED (revoke must not touch started tasks)", state)
	}
}

func TestReclaimStale_RequeuesAbandonedTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	handle, _ := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: 1})
	task, _ := s.Claim(ctx, "inference.run_checkup")
	if task == nil {
		t.Fatal("expected a claimed task")
	}

	// A freshly claimed task is not stale.
	n, err := s.ReclaimStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d fresh tasks, want 0", n)
	}

	// With a zero threshold everything claimed in the past is stale.
	time.Sleep(5 * time.Millisecond)
	n, err = s.ReclaimStale(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	state, _ := s.State(ctx, handle)
	if state != StatePending {
		t.Fatalf("state = %q, want PENDING after reclaim", state)
	}
}

func TestState_UnknownHandle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.State(context.Background(), "no-such-handle")
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("err = %v, want ErrUnknownTask", err)
	}
}

func TestStats_CountsPerState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, "inference.run_checkup", testArgs{CheckupID: uint(i)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	task, _ := s.Claim(ctx, "inference.run_checkup")
	if task == nil {
		t.Fatal("expected a claimed task")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[StatePending] != 2 || stats[StateStarted] != 1 {
		t.Fatalf("stats = %v, want 2 pending and 1 started", stats)
	}
}
