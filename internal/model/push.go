package model

import "time"

// PushSubscription is one browser push registration. Endpoint is
// globally unique: one active registration per browser installation.
type PushSubscription struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}
