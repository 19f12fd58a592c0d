package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/heraldapp/herald/internal/model"
)

// ReminderStore is the delivery ledger. The UNIQUE constraint on
// (event_id, recipient, channel, lead_minutes) is the sole correctness
// mechanism for at-most-once delivery: concurrent scheduler paths race
// on TryClaim and exactly one wins.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderColumns = `id, event_id, recipient, channel, lead_minutes, scheduled_for, status, skip_reason, sent_at, created_at`

// TryClaim atomically claims a reminder slot. It returns true when this
// caller inserted the row and owns delivery; false when the slot was
// already claimed by another path.
func (s *ReminderStore) TryClaim(eventID, recipient, channel string, leadMinutes int, scheduledFor time.Time) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO event_reminders (event_id, recipient, channel, lead_minutes, scheduled_for, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id, recipient, channel, lead_minutes) DO NOTHING`,
		eventID, NormalizeEmail(recipient), channel, leadMinutes, scheduledFor.UTC(), model.ReminderPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim reminder rows: %w", err)
	}
	return n > 0, nil
}

// MarkSent records successful delivery for a claimed slot.
func (s *ReminderStore) MarkSent(eventID, recipient, channel string, leadMinutes int) error {
	_, err := s.db.Exec(
		`UPDATE event_reminders SET status = ?, sent_at = CURRENT_TIMESTAMP, skip_reason = ''
		 WHERE event_id = ? AND recipient = ? AND channel = ? AND lead_minutes = ?`,
		model.ReminderSent, eventID, NormalizeEmail(recipient), channel, leadMinutes,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// MarkSkipped records a terminal non-delivery for a claimed slot.
func (s *ReminderStore) MarkSkipped(eventID, recipient, channel string, leadMinutes int, reason string) error {
	_, err := s.db.Exec(
		`UPDATE event_reminders SET status = ?, skip_reason = ?
		 WHERE event_id = ? AND recipient = ? AND channel = ? AND lead_minutes = ? AND status = ?`,
		model.ReminderSkipped, reason, eventID, NormalizeEmail(recipient), channel, leadMinutes, model.ReminderPending,
	)
	if err != nil {
		return fmt.Errorf("mark reminder skipped: %w", err)
	}
	return nil
}

// SkipPendingForEvent marks every pending slot of an event skipped,
// used when the event is cancelled between arming and firing.
func (s *ReminderStore) SkipPendingForEvent(eventID, reason string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE event_reminders SET status = ?, skip_reason = ?
		 WHERE event_id = ? AND status = ?`,
		model.ReminderSkipped, reason, eventID, model.ReminderPending,
	)
	if err != nil {
		return 0, fmt.Errorf("skip pending reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Get returns one ledger row, or nil if the slot was never claimed.
func (s *ReminderStore) Get(eventID, recipient, channel string, leadMinutes int) (*model.Reminder, error) {
	row := s.db.QueryRow(
		`SELECT `+reminderColumns+` FROM event_reminders
		 WHERE event_id = ? AND recipient = ? AND channel = ? AND lead_minutes = ?`,
		eventID, NormalizeEmail(recipient), channel, leadMinutes,
	)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return r, nil
}

func (s *ReminderStore) ListByEvent(eventID string) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM event_reminders WHERE event_id = ? ORDER BY lead_minutes DESC, recipient`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// CleanupBefore deletes ledger rows whose fire time is older than the
// given instant. Rows are only removed long after their event ended.
func (s *ReminderStore) CleanupBefore(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM event_reminders WHERE scheduled_for < ?`, before.UTC())
	if err != nil {
		return fmt.Errorf("cleanup reminders: %w", err)
	}
	return nil
}

func scanReminder(row rowScanner) (*model.Reminder, error) {
	var r model.Reminder
	var sentAt sql.NullTime
	err := row.Scan(&r.ID, &r.EventID, &r.Recipient, &r.Channel, &r.LeadMinutes, &r.ScheduledFor, &r.Status, &r.SkipReason, &sentAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	return &r, nil
}
