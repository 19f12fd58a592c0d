package store

import (
	"testing"
	"time"

	"github.com/heraldapp/herald/internal/database"
)

func setupEventTestDB(t *testing.T) *EventStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEventStore(db)
}

func TestEventUpsertCreates(t *testing.T) {
	es := setupEventTestDB(t)

	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	ev, created, err := es.Upsert("ext-1", "Town Hall", "Monthly meeting", start, start.Add(time.Hour), "meeting")
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	if !created {
		t.Error("expected created = true for new event")
	}
	if ev.EventID != "ext-1" {
		t.Errorf("event_id = %q, want %q", ev.EventID, "ext-1")
	}
	if ev.Title != "Town Hall" {
		t.Errorf("title = %q, want %q", ev.Title, "Town Hall")
	}
	if !ev.StartTime.Equal(start) {
		t.Errorf("start_time = %v, want %v", ev.StartTime, start)
	}
}

func TestEventUpsertUpdates(t *testing.T) {
	es := setupEventTestDB(t)

	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	if _, _, err := es.Upsert("ext-1", "Town Hall", "", start, start.Add(time.Hour), "meeting"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	moved := start.Add(30 * time.Minute)
	ev, created, err := es.Upsert("ext-1", "Town Hall (moved)", "Rescheduled", moved, moved.Add(time.Hour), "meeting")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("expected created = false for existing event")
	}
	if ev.Title != "Town Hall (moved)" {
		t.Errorf("title = %q, want updated title", ev.Title)
	}
	if !ev.StartTime.Equal(moved) {
		t.Errorf("start_time = %v, want %v", ev.StartTime, moved)
	}
}

func TestEventUpsertRevivesSoftDeleted(t *testing.T) {
	es := setupEventTestDB(t)

	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	if _, _, err := es.Upsert("ext-1", "Town Hall", "", start, start.Add(time.Hour), ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := es.SoftDeleteMissing(nil); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	ev, created, err := es.Upsert("ext-1", "Town Hall", "", start, start.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if created {
		t.Error("expected created = false when reviving")
	}
	if ev.IsDeleted {
		t.Error("expected is_deleted cleared after re-upsert")
	}
}

func TestEventGetByEventIDMissing(t *testing.T) {
	es := setupEventTestDB(t)

	ev, err := es.GetByEventID("nope")
	if err != nil {
		t.Fatalf("get missing event: %v", err)
	}
	if ev != nil {
		t.Errorf("expected nil for missing event, got %+v", ev)
	}
}

func TestEventNextUpcoming(t *testing.T) {
	es := setupEventTestDB(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	mustUpsertEvent(t, es, "past", now.Add(-time.Hour))
	mustUpsertEvent(t, es, "soon", now.Add(time.Hour))
	mustUpsertEvent(t, es, "later", now.Add(3*time.Hour))

	ev, err := es.NextUpcoming(now, 0)
	if err != nil {
		t.Fatalf("next upcoming: %v", err)
	}
	if ev == nil || ev.EventID != "soon" {
		t.Fatalf("next upcoming = %+v, want event %q", ev, "soon")
	}

	ev, err = es.NextUpcoming(ev.StartTime, ev.ID)
	if err != nil {
		t.Fatalf("next upcoming after soon: %v", err)
	}
	if ev == nil || ev.EventID != "later" {
		t.Fatalf("next upcoming = %+v, want event %q", ev, "later")
	}

	ev, err = es.NextUpcoming(ev.StartTime, ev.ID)
	if err != nil {
		t.Fatalf("next upcoming after later: %v", err)
	}
	if ev != nil {
		t.Errorf("expected nil past last event, got %+v", ev)
	}
}

func TestEventNextUpcomingTiedStart(t *testing.T) {
	es := setupEventTestDB(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	mustUpsertEvent(t, es, "tie-a", start)
	mustUpsertEvent(t, es, "tie-b", start)

	// Walking the cursor must visit both events despite the shared
	// start instant.
	seen := make(map[string]bool)
	after, afterID := now, int64(0)
	for {
		ev, err := es.NextUpcoming(after, afterID)
		if err != nil {
			t.Fatalf("next upcoming: %v", err)
		}
		if ev == nil {
			break
		}
		if seen[ev.EventID] {
			t.Fatalf("event %q returned twice", ev.EventID)
		}
		seen[ev.EventID] = true
		after, afterID = ev.StartTime, ev.ID
	}

	if !seen["tie-a"] || !seen["tie-b"] {
		t.Errorf("visited = %v, want both tied events", seen)
	}
}

func TestEventNextUpcomingSkipsDeleted(t *testing.T) {
	es := setupEventTestDB(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	mustUpsertEvent(t, es, "cancelled", now.Add(time.Hour))
	mustUpsertEvent(t, es, "kept", now.Add(2*time.Hour))

	if _, err := es.SoftDeleteMissing([]string{"kept"}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	ev, err := es.NextUpcoming(now, 0)
	if err != nil {
		t.Fatalf("next upcoming: %v", err)
	}
	if ev == nil || ev.EventID != "kept" {
		t.Fatalf("next upcoming = %+v, want event %q", ev, "kept")
	}
}

func TestEventSoftDeleteMissing(t *testing.T) {
	es := setupEventTestDB(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	mustUpsertEvent(t, es, "a", now.Add(time.Hour))
	mustUpsertEvent(t, es, "b", now.Add(2*time.Hour))
	mustUpsertEvent(t, es, "c", now.Add(3*time.Hour))

	n, err := es.SoftDeleteMissing([]string{"a", "c"})
	if err != nil {
		t.Fatalf("soft delete missing: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}

	ev, err := es.GetByEventID("b")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if !ev.IsDeleted {
		t.Error("expected event b soft-deleted")
	}

	// A second pass with the same keep list is a no-op.
	n, err = es.SoftDeleteMissing([]string{"a", "c"})
	if err != nil {
		t.Fatalf("second soft delete: %v", err)
	}
	if n != 0 {
		t.Errorf("removed = %d on repeat, want 0", n)
	}
}

func TestEventDistinctTypes(t *testing.T) {
	es := setupEventTestDB(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if _, _, err := es.Upsert("a", "A", "", now, now.Add(time.Hour), "meeting"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := es.Upsert("b", "B", "", now, now.Add(time.Hour), "meeting"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := es.Upsert("c", "C", "", now, now.Add(time.Hour), "social"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	types, err := es.DistinctTypes()
	if err != nil {
		t.Fatalf("distinct types: %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("types = %v, want 2 distinct", types)
	}
}

func mustUpsertEvent(t *testing.T, es *EventStore, eventID string, start time.Time) {
	t.Helper()
	if _, _, err := es.Upsert(eventID, "Event "+eventID, "", start, start.Add(time.Hour), ""); err != nil {
		t.Fatalf("upsert event %s: %v", eventID, err)
	}
}
