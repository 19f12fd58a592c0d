package store

import (
	"database/sql"
	"fmt"

	"github.com/heraldapp/herald/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

const prefColumns = `email, notify_email, notify_browser, notify_all_events,
	email_1h_before, email_10m_before, browser_1h_before, browser_10m_before,
	auto_enable_new_types, created_at, updated_at`

// Get returns the preference row for an email identity, or nil if the
// user has never saved settings.
func (s *PreferenceStore) Get(email string) (*model.Preference, error) {
	row := s.db.QueryRow(`SELECT `+prefColumns+` FROM user_preferences WHERE email = ?`, NormalizeEmail(email))
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return p, nil
}

// Upsert writes a full preference row keyed by email.
func (s *PreferenceStore) Upsert(p model.Preference) error {
	_, err := s.db.Exec(
		`INSERT INTO user_preferences (email, notify_email, notify_browser, notify_all_events,
			email_1h_before, email_10m_before, browser_1h_before, browser_10m_before, auto_enable_new_types)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			notify_email = excluded.notify_email,
			notify_browser = excluded.notify_browser,
			notify_all_events = excluded.notify_all_events,
			email_1h_before = excluded.email_1h_before,
			email_10m_before = excluded.email_10m_before,
			browser_1h_before = excluded.browser_1h_before,
			browser_10m_before = excluded.browser_10m_before,
			auto_enable_new_types = excluded.auto_enable_new_types,
			updated_at = CURRENT_TIMESTAMP`,
		NormalizeEmail(p.Email), boolInt(p.NotifyEmail), boolInt(p.NotifyBrowser), boolInt(p.NotifyAllEvents),
		boolInt(p.Email1hBefore), boolInt(p.Email10mBefore), boolInt(p.Browser1hBefore), boolInt(p.Browser10mBefore),
		boolInt(p.AutoEnableNewTypes),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// ListAll returns every saved preference row keyed by email.
func (s *PreferenceStore) ListAll() (map[string]model.Preference, error) {
	rows, err := s.db.Query(`SELECT ` + prefColumns + ` FROM user_preferences`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]model.Preference)
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[p.Email] = *p
	}
	return prefs, rows.Err()
}

// TypeOverride returns the per-type override for (email, eventType), or
// nil when the user has never toggled that type.
func (s *PreferenceStore) TypeOverride(email, eventType string) (*model.EventTypePreference, error) {
	var tp model.EventTypePreference
	var enabledInt int
	err := s.db.QueryRow(
		`SELECT id, email, event_type, enabled, created_at
		 FROM user_event_preferences WHERE email = ? AND event_type = ?`,
		NormalizeEmail(email), eventType,
	).Scan(&tp.ID, &tp.Email, &tp.EventType, &enabledInt, &tp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get type override: %w", err)
	}
	tp.Enabled = enabledInt != 0
	return &tp, nil
}

// ListTypeOverrides returns all per-type overrides as a map keyed by
// (email, eventType).
func (s *PreferenceStore) ListTypeOverrides() (map[[2]string]bool, error) {
	rows, err := s.db.Query(`SELECT email, event_type, enabled FROM user_event_preferences`)
	if err != nil {
		return nil, fmt.Errorf("list type overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[[2]string]bool)
	for rows.Next() {
		var email, eventType string
		var enabledInt int
		if err := rows.Scan(&email, &eventType, &enabledInt); err != nil {
			return nil, fmt.Errorf("scan type override: %w", err)
		}
		overrides[[2]string{email, eventType}] = enabledInt != 0
	}
	return overrides, rows.Err()
}

// SetTypeOverride upserts a per-type toggle for a user.
func (s *PreferenceStore) SetTypeOverride(email, eventType string, enabled bool) error {
	_, err := s.db.Exec(
		`INSERT INTO user_event_preferences (email, event_type, enabled)
		 VALUES (?, ?, ?)
		 ON CONFLICT(email, event_type) DO UPDATE SET enabled = excluded.enabled`,
		NormalizeEmail(email), eventType, boolInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set type override: %w", err)
	}
	return nil
}

// AutoEnableType creates an enabled override for every user who opted
// into auto-enabling newly seen event types and has no override for
// this type yet. Returns the number of rows created.
func (s *PreferenceStore) AutoEnableType(eventType string) (int, error) {
	result, err := s.db.Exec(
		`INSERT INTO user_event_preferences (email, event_type, enabled)
		 SELECT email, ?, 1 FROM user_preferences
		 WHERE auto_enable_new_types = 1
		   AND email NOT IN (SELECT email FROM user_event_preferences WHERE event_type = ?)`,
		eventType, eventType,
	)
	if err != nil {
		return 0, fmt.Errorf("auto enable type: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanPreference(row rowScanner) (*model.Preference, error) {
	var p model.Preference
	var b [8]int
	err := row.Scan(&p.Email, &b[0], &b[1], &b[2], &b[3], &b[4], &b[5], &b[6], &b[7], &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.NotifyEmail = b[0] != 0
	p.NotifyBrowser = b[1] != 0
	p.NotifyAllEvents = b[2] != 0
	p.Email1hBefore = b[3] != 0
	p.Email10mBefore = b[4] != 0
	p.Browser1hBefore = b[5] != 0
	p.Browser10mBefore = b[6] != 0
	p.AutoEnableNewTypes = b[7] != 0
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
