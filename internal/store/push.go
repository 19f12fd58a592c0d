package store

import (
	"database/sql"
	"fmt"

	"github.com/heraldapp/herald/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushColumns = `id, email, endpoint, p256dh_key, auth_key, created_at`

// Upsert registers a push subscription. The endpoint is globally
// unique: re-registering an endpoint refreshes its keys and may move it
// to another user.
func (s *PushStore) Upsert(email, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (email, endpoint, p256dh_key, auth_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET email = excluded.email, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		NormalizeEmail(email), endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.GetByEndpoint(endpoint)
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.QueryRow(
		`SELECT `+pushColumns+` FROM push_subscriptions WHERE endpoint = ?`, endpoint,
	).Scan(&sub.ID, &sub.Email, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return &sub, nil
}

func (s *PushStore) ListByEmail(email string) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+pushColumns+` FROM push_subscriptions WHERE email = ? ORDER BY created_at DESC`,
		NormalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// EmailsWithSubscriptions returns the set of user identities that have
// at least one registered endpoint.
func (s *PushStore) EmailsWithSubscriptions() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT DISTINCT email FROM push_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed emails: %w", err)
	}
	defer rows.Close()

	emails := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan subscribed email: %w", err)
		}
		emails[email] = true
	}
	return emails, rows.Err()
}

// DeleteByEndpoint removes one registration, typically after the push
// service reported the endpoint gone.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
