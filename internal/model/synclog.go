package model

import "time"

// Sync statuses.
const (
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

type SyncLog struct {
	ID            int64      `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	Status        string     `json:"status"`
	EventsAdded   int        `json:"events_added"`
	EventsUpdated int        `json:"events_updated"`
	EventsRemoved int        `json:"events_removed"`
	ErrorMessage  string     `json:"error_message"`
}
