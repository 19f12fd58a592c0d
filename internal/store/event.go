package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/heraldapp/herald/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, event_id, title, description, start_time, end_time, event_type, is_deleted, created_at, updated_at`

// Upsert inserts or updates an event by its external identifier and
// reports whether a new row was created. An upsert always clears the
// soft-delete flag: the feed listing the event again revives it.
func (s *EventStore) Upsert(eventID, title, description string, startTime, endTime time.Time, eventType string) (*model.Event, bool, error) {
	existing, err := s.GetByEventID(eventID)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		_, err := s.db.Exec(
			`UPDATE events
			 SET title = ?, description = ?, start_time = ?, end_time = ?, event_type = ?, is_deleted = 0, updated_at = CURRENT_TIMESTAMP
			 WHERE event_id = ?`,
			title, description, startTime.UTC(), endTime.UTC(), eventType, eventID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("update event: %w", err)
		}
		ev, err := s.GetByEventID(eventID)
		return ev, false, err
	}

	_, err = s.db.Exec(
		`INSERT INTO events (event_id, title, description, start_time, end_time, event_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, title, description, startTime.UTC(), endTime.UTC(), eventType,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}
	ev, err := s.GetByEventID(eventID)
	return ev, true, err
}

func (s *EventStore) GetByEventID(eventID string) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// NextUpcoming returns the first non-deleted event past the cursor in
// (start_time, id) order, or nil if there is none. The id tie-break
// keeps every event reachable when several share a start instant.
func (s *EventStore) NextUpcoming(afterStart time.Time, afterID int64) (*model.Event, error) {
	row := s.db.QueryRow(
		`SELECT `+eventColumns+` FROM events
		 WHERE is_deleted = 0
		   AND (start_time > ? OR (start_time = ? AND id > ?))
		 ORDER BY start_time ASC, id ASC LIMIT 1`,
		afterStart.UTC(), afterStart.UTC(), afterID,
	)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next upcoming event: %w", err)
	}
	return ev, nil
}

// SoftDeleteMissing marks every non-deleted event whose external ID is
// not in keep as deleted and returns how many rows changed. Rows are
// never hard-deleted while ledger entries may reference them.
func (s *EventStore) SoftDeleteMissing(keep []string) (int, error) {
	if len(keep) == 0 {
		result, err := s.db.Exec(`UPDATE events SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP WHERE is_deleted = 0`)
		if err != nil {
			return 0, fmt.Errorf("soft delete events: %w", err)
		}
		n, _ := result.RowsAffected()
		return int(n), nil
	}

	placeholders := strings.Repeat("?,", len(keep)-1) + "?"
	args := make([]any, len(keep))
	for i, id := range keep {
		args[i] = id
	}

	result, err := s.db.Exec(
		`UPDATE events SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP
		 WHERE is_deleted = 0 AND event_id NOT IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("soft delete events: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DistinctTypes returns the distinct type tags across non-deleted
// events.
func (s *EventStore) DistinctTypes() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT event_type FROM events WHERE is_deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("distinct event types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var deletedInt int
	err := row.Scan(&e.ID, &e.EventID, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.EventType, &deletedInt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.IsDeleted = deletedInt != 0
	return &e, nil
}
