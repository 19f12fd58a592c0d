package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/heraldapp/herald/internal/model"
)

type SyncLogStore struct {
	db *sql.DB
}

func NewSyncLogStore(db *sql.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

// Start opens an in-progress sync log row and returns its id.
func (s *SyncLogStore) Start(startedAt time.Time) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO sync_logs (started_at, status) VALUES (?, ?)`,
		startedAt.UTC(), model.SyncInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("start sync log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sync log id: %w", err)
	}
	return id, nil
}

// Complete closes a sync log with its counters.
func (s *SyncLogStore) Complete(id int64, added, updated, removed int) error {
	_, err := s.db.Exec(
		`UPDATE sync_logs SET status = ?, finished_at = CURRENT_TIMESTAMP,
			events_added = ?, events_updated = ?, events_removed = ? WHERE id = ?`,
		model.SyncCompleted, added, updated, removed, id,
	)
	if err != nil {
		return fmt.Errorf("complete sync log: %w", err)
	}
	return nil
}

// Fail closes a sync log with an error message.
func (s *SyncLogStore) Fail(id int64, message string) error {
	_, err := s.db.Exec(
		`UPDATE sync_logs SET status = ?, finished_at = CURRENT_TIMESTAMP, error_message = ? WHERE id = ?`,
		model.SyncFailed, message, id,
	)
	if err != nil {
		return fmt.Errorf("fail sync log: %w", err)
	}
	return nil
}

func (s *SyncLogStore) Get(id int64) (*model.SyncLog, error) {
	var l model.SyncLog
	var finishedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, started_at, finished_at, status, events_added, events_updated, events_removed, error_message
		 FROM sync_logs WHERE id = ?`, id,
	).Scan(&l.ID, &l.StartedAt, &finishedAt, &l.Status, &l.EventsAdded, &l.EventsUpdated, &l.EventsRemoved, &l.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	if finishedAt.Valid {
		l.FinishedAt = &finishedAt.Time
	}
	return &l, nil
}

// Recent returns the latest sync logs, newest first.
func (s *SyncLogStore) Recent(limit int) ([]model.SyncLog, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, status, events_added, events_updated, events_removed, error_message
		 FROM sync_logs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		var finishedAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.StartedAt, &finishedAt, &l.Status, &l.EventsAdded, &l.EventsUpdated, &l.EventsRemoved, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if finishedAt.Valid {
			l.FinishedAt = &finishedAt.Time
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
