package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/heraldapp/herald/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// NormalizeEmail lowercases and trims an email address. All user
// identity lookups go through this so the same mailbox never yields two
// identities.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetOrCreate returns the user with the given email, creating it on
// first contact.
func (s *UserStore) GetOrCreate(email, name string) (*model.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("get or create user: empty email")
	}

	u, err := s.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	_, err = s.db.Exec(`INSERT INTO users (email, name) VALUES (?, ?)`, email, name)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByEmail(email)
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	var u model.User
	var activeInt int
	err := s.db.QueryRow(
		`SELECT id, email, name, is_active, created_at FROM users WHERE email = ?`,
		NormalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.Name, &activeInt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.IsActive = activeInt != 0
	return &u, nil
}

func (s *UserStore) ListActive() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT id, email, name, is_active, created_at FROM users WHERE is_active = 1 ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var activeInt int
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &activeInt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.IsActive = activeInt != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) SetActive(email string, active bool) error {
	var activeInt int
	if active {
		activeInt = 1
	}
	_, err := s.db.Exec(`UPDATE users SET is_active = ? WHERE email = ?`, activeInt, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}
