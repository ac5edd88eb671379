package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/medmind/go-derm-backend/internal/domain"
)

func TestMarkInProgress_FromPending_SetsStatusAndStart(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupPending)

	if err := MarkInProgress(context.Background(), db, c.ID, "task-1"); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}

	got, err := GetCheckup(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetCheckup: %v", err)
	}
	if got.Status != domain.CheckupInProgress {
		t.Fatalf("status = %q, want IN_PROGRESS", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
	if got.TaskID == nil || *got.TaskID != "task-1" {
		t.Fatalf("task_id = %v, want task-1", got.TaskID)
	}
}

func TestMarkInProgress_Redelivery_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupPending)

	if err := MarkInProgress(context.Background(), db, c.ID, "task-1"); err != nil {
		t.Fatalf("first MarkInProgress: %v", err)
	}
	// A redelivered task marks again; the IN_PROGRESS guard accepts it.
	if err := MarkInProgress(context.Background(), db, c.ID, "task-1"); err != nil {
		t.Fatalf("second MarkInProgress: %v", err)
	}
}

func TestMarkInProgress_FromTerminal_ReturnsStale(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupCompleted)

	err := MarkInProgress(context.Background(), db, c.ID, "task-1")
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("err = %v, want ErrStaleTransition", err)
	}
}

func TestCompleteCheckup_SetsResultAndTerminalFields(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupInProgress)

	if err := CompleteCheckup(context.Background(), db, c.ID, domain.LabelMalignant, 0.82, 3); err != nil {
		t.Fatalf("CompleteCheckup: %v", err)
	}

	got, err := GetCheckup(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetCheckup: %v", err)
	}
	if got.Status != domain.CheckupCompleted {
		t.Fatalf("status = %q, want COMPLETED", got.Status)
	}
	if got.Result == nil || *got.Result != domain.LabelMalignant {
		t.Fatalf("result = %v, want Malignant", got.Result)
	}
	if got.FinalConfidence == nil || *got.FinalConfidence != 0.82 {
		t.Fatalf("final_confidence = %v, want 0.82", got.FinalConfidence)
	}
	if got.ImageCount != 3 {
		t.Fatalf("image_count = %d, want 3", got.ImageCount)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestCompleteCheckup_FromFailed_ReturnsStale(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupFailed)

	err := CompleteCheckup(context.Background(), db, c.ID, domain.LabelBenign, 0.1, 1)
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("err = %v, want ErrStaleTransition", err)
	}

	got, _ := GetCheckup(context.Background(), db, c.ID)
	if got.Status != domain.CheckupFailed {
		t.Fatalf("terminal status was overwritten: %q", got.Status)
	}
}

func TestFailCheckup_FromCompleted_ReturnsStale(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupCompleted)

	err := FailCheckup(context.Background(), db, c.ID, "boom")
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("err = %v, want ErrStaleTransition", err)
	}
}

func TestFailCheckup_RecordsErrorMessage(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupInProgress)

	if err := FailCheckup(context.Background(), db, c.ID, "model unavailable"); err != nil {
		t.Fatalf("FailCheckup: %v", err)
	}

	got, _ := GetCheckup(context.Background(), db, c.ID)
	if got.Status != domain.CheckupFailed {
		t.Fatalf("status = %q, want FAILED", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "model unavailable" {
		t.Fatalf("error_message = %v, want %q", got.ErrorMessage, "model unavailable")
	}
}

func TestClaimFailureRefund_WinsExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)
	c := seedCheckup(t, db, did, domain.CheckupFailed)

	won, err := ClaimFailureRefund(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}

	won, err = ClaimFailureRefund(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatal("second claim must not win")
	}
}

func TestGetCheckupOwned_RejectsForeignDoctor(t *testing.T) {
	db := newTestDB(t)
	owner := seedDoctor(t, db, "d1", 1000)
	seedDoctor(t, db, "d2", 1000)
	c := seedCheckup(t, db, owner, domain.CheckupPending)

	if _, err := GetCheckupOwned(context.Background(), db, c.ID, "d1"); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := GetCheckupOwned(context.Background(), db, c.ID, "d2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign lookup err = %v, want ErrNotFound", err)
	}
}

func TestListCheckupsPage_HideFailedAndSearch(t *testing.T) {
	db := newTestDB(t)
	did := seedDoctor(t, db, "d1", 1000)

	ok := seedCheckup(t, db, did, domain.CheckupCompleted)
	db.Model(ok).Update("note", "Dark asymmetric mole on shoulder")
	failed := seedCheckup(t, db, did, domain.CheckupFailed)
	db.Model(failed).Update("note", "shoulder recheck")

	f := CheckupFilter{DoctorID: did, HideFailed: true}
	total, err := CountCheckups(context.Background(), db, f)
	if err != nil {
		t.Fatalf("CountCheckups: %v", err)
	}
	if total != 1 {
		t.Fatalf("hide-failed count = %d, want 1", total)
	}

	f.SearchTerms = []string{"mole", "shoulder"}
	page, err := ListCheckupsPage(context.Background(), db, f, 0, 10)
	if err != nil {
		t.Fatalf("ListCheckupsPage: %v", err)
	}
	if len(page) != 1 || page[0].ID != ok.ID {
		t.Fatalf("search matched %d rows, want the completed checkup only", len(page))
	}

	// A term matching nothing drains the result set (terms AND together).
	f.SearchTerms = []string{"mole", "elbow"}
	page, err = ListCheckupsPage(context.Background(), db, f, 0, 10)
	if err != nil {
		t.Fatalf("ListCheckupsPage: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("got %d rows, want 0", len(page))
	}
}

func TestSetTaskID_NoRowIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	if err := SetTaskID(context.Background(), db, 9999, "task-x"); err != nil {
		t.Fatalf("SetTaskID on missing row: %v", err)
	}
}
