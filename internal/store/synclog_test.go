package store

import (
	"testing"
	"time"

	"github.com/heraldapp/herald/internal/database"
	"github.com/heraldapp/herald/internal/model"
)

func setupSyncLogTestDB(t *testing.T) *SyncLogStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSyncLogStore(db)
}

func TestSyncLogComplete(t *testing.T) {
	ls := setupSyncLogTestDB(t)

	id, err := ls.Start(time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	l, err := ls.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.Status != model.SyncInProgress {
		t.Errorf("status = %q, want %q", l.Status, model.SyncInProgress)
	}
	if l.FinishedAt != nil {
		t.Error("finished_at should be unset while in progress")
	}

	if err := ls.Complete(id, 5, 3, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	l, err = ls.Get(id)
	if err != nil {
		t.Fatalf("get after complete: %v", err)
	}
	if l.Status != model.SyncCompleted {
		t.Errorf("status = %q, want %q", l.Status, model.SyncCompleted)
	}
	if l.EventsAdded != 5 || l.EventsUpdated != 3 || l.EventsRemoved != 1 {
		t.Errorf("counters = %d/%d/%d, want 5/3/1", l.EventsAdded, l.EventsUpdated, l.EventsRemoved)
	}
	if l.FinishedAt == nil {
		t.Error("finished_at should be set after completion")
	}
}

func TestSyncLogFail(t *testing.T) {
	ls := setupSyncLogTestDB(t)

	id, err := ls.Start(time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ls.Fail(id, "feed unreachable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	l, err := ls.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.Status != model.SyncFailed {
		t.Errorf("status = %q, want %q", l.Status, model.SyncFailed)
	}
	if l.ErrorMessage != "feed unreachable" {
		t.Errorf("error_message = %q", l.ErrorMessage)
	}
}

func TestSyncLogRecent(t *testing.T) {
	ls := setupSyncLogTestDB(t)

	base := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id, err := ls.Start(base.Add(time.Duration(i) * 24 * time.Hour))
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if err := ls.Complete(id, i, 0, 0); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}

	logs, err := ls.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("recent = %d rows, want 2", len(logs))
	}
	if !logs[0].StartedAt.After(logs[1].StartedAt) {
		t.Error("recent logs should be newest first")
	}
}
