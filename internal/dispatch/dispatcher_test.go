package dispatch

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

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/queue"
	"github.com/medmind/go-derm-backend/internal/repo"
)

// fakeBroker is a scriptable Broker double.
type fakeBroker struct {
	enqueueErr  error
	enqueued    []string
	stateByID   map[string]queue.TaskState
	stateErr    error
	nextHandle  int
	lastPayload any
}

func (f *fakeBroker) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.nextHandle++
	h := fmt.Sprintf("task-%d", f.nextHandle)
	f.enqueued = append(f.enqueued, h)
	f.lastPayload = payload
	return h, nil
}

func (f *fakeBroker) State(ctx context.Context, handle string) (queue.TaskState, error) {
	if f.stateErr != nil {
		return "", f.stateErr
	}
	s, ok := f.stateByID[handle]
	if !ok {
		return "", queue.ErrUnknownTask
	}
	return s, nil
}

func newDispatchDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("dispatch_test_%d.db", time.Now().UnixNano()))
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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedPendingCheckup(t *testing.T, db *gorm.DB) *domain.Checkup {
	t.Helper()
	if err := db.FirstOrCreate(&domain.Doctor{ID: "d1", Name: "Dr One", Role: "doctor"}, domain.Doctor{ID: "d1"}).Error; err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	c := &domain.Checkup{DoctorID: "d1", Status: domain.CheckupPending, Age: 30, Gender: "male", BloodType: "O+"}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed checkup: %v", err)
	}
	return c
}

func TestDispatch_Success_RecordsHandleOnCheckup(t *testing.T) {
	db := newDispatchDB(t)
	c := seedPendingCheckup(t, db)
	broker := &fakeBroker{}
	d := &Dispatcher{DB: db, Broker: broker}

	res := d.Dispatch(context.Background(), c.ID)
	if !res.Queued {
		t.Fatalf("Queued = false, want true (err=%q)", res.Err)
	}
	if res.TaskID == "" {
		t.Fatal("expected a task handle")
	}

	args, ok := broker.lastPayload.(RunCheckupArgs)
	if !ok || args.CheckupID != c.ID {
		t.Fatalf("payload = %#v, want RunCheckupArgs for checkup %d", broker.lastPayload, c.ID)
	}

	got, err := repo.GetCheckup(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetCheckup: %v", err)
	}
	if got.TaskID == nil || *got.TaskID != res.TaskID {
		t.Fatalf("task_id = %v, want %q", got.TaskID, res.TaskID)
	}
}

func TestDispatch_BrokerDown_DegradesWithoutError(t *testing.T) {
	db := newDispatchDB(t)
	c := seedPendingCheckup(t, db)
	broker := &fakeBroker{enqueueErr: errors.New("disk full")}
	d := &Dispatcher{DB: db, Broker: broker}

	res := d.Dispatch(context.Background(), c.ID)
	if res.Queued {
		t.Fatal("Queued = true, want degraded false")
	}
	if res.Err == "" {
		t.Fatal("expected the broker error to surface in Result.Err")
	}

	// The checkup stays PENDING with no handle; recovery happens on read.
	got, _ := repo.GetCheckup(context.Background(), db, c.ID)
	if got.Status != domain.CheckupPending || got.TaskID != nil {
		t.Fatalf("checkup = (%s, %v), want (PENDING, nil)", got.Status, got.TaskID)
	}
}

func TestEnsureDispatched_NonPending_NeverRedispatches(t *testing.T) {
	db := newDispatchDB(t)
	broker := &fakeBroker{}
	d := &Dispatcher{DB: db, Broker: broker}

	for _, status := range []domain.CheckupStatus{
		domain.CheckupInProgress, domain.CheckupCompleted, domain.CheckupFailed,
	} {
		c := &domain.Checkup{Status: status}
		redone, err := d.EnsureDispatched(context.Background(), c)
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if redone {
			t.Fatalf("%s: re-dispatched a non-pending checkup", status)
		}
	}
	if len(broker.enqueued) != 0 {
		t.Fatalf("broker saw %d enqueues, want 0", len(broker.enqueued))
	}
}

func TestEnsureDispatched_LiveTask_LeavesItAlone(t *testing.T) {
	db := newDispatchDB(t)
	c := seedPendingCheckup(t, db)
	handle := "task-live"
	c.TaskID = &handle
	broker := &fakeBroker{stateByID: map[string]queue.TaskState{handle: queue.StateStarted}}
	d := &Dispatcher{DB: db, Broker: broker}

	redone, err := d.EnsureDispatched(context.Background(), c)
	if err != nil {
		t.Fatalf("EnsureDispatched: %v", err)
	}
	if redone || len(broker.enqueued) != 0 {
		t.Fatal("a live task must not be re-dispatched")
	}
}

func TestEnsureDispatched_MissingHandle_Redispatches(t *testing.T) {
	db := newDispatchDB(t)
	c := seedPendingCheckup(t, db)
	broker := &fakeBroker{}
	d := &Dispatcher{DB: db, Broker: broker}

	redone, err := d.EnsureDispatched(context.Background(), c)
	if err != nil {
		t.Fatalf("EnsureDispatched: %v", err)
	}
	if !redone {
		t.Fatal("a pending checkup with no handle must be re-dispatched")
	}
	if c.TaskID == nil || *c.TaskID != broker.enqueued[0] {
		t.Fatalf("in-memory handle = %v, want %q", c.TaskID, broker.enqueued[0])
	}
}

func TestEnsureDispatched_UnknownOrFailedTask_Redispatches(t *testing.T) {
	db := newDispatchDB(t)
	broker := &fakeBroker{stateByID: map[string]queue.TaskState{"task-dead": queue.StateFailure}}
	d := &Dispatcher{DB: db, Broker: broker}

	for _, handle := range []string{"task-dead", "task-vanished"} {
		c := seedPendingCheckup(t, db)
		h := handle
		c.TaskID = &h
		redone, err := d.EnsureDispatched(context.Background(), c)
		if err != nil {
			t.Fatalf("%s: %v", handle, err)
		}
		if !redone {
			t.Fatalf("%s: expected a re-dispatch", handle)
		}
	}
}

func TestEnsureDispatched_BrokerUnreachable_ReturnsErrorWithoutDispatch(t *testing.T) {
	db := newDispatchDB(t)
	c := seedPendingCheckup(t, db)
	handle := "task-x"
	c.TaskID = &handle
	broker := &fakeBroker{stateErr: errors.New("database is locked")}
	d := &Dispatcher{DB: db, Broker: broker}

	redone, err := d.EnsureDispatched(context.Background(), c)
	if err == nil {
		t.Fatal("expected the broker error to propagate")
	}
	if redone || len(broker.enqueued) != 0 {
		t.Fatal("must not risk a duplicate run when the broker cannot be checked")
	}
}
