package model

import "time"

// DefaultEventType is used for eligibility matching when a feed event
// carries no explicit type tag.
const DefaultEventType = "default"

// Event is a calendar occurrence as ingested from the upstream feed.
// EventID is the immutable external identifier; the row ID is internal
// bookkeeping only.
type Event struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	EventType   string    `json:"event_type"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EffectiveType returns the event's type tag, or DefaultEventType when
// the feed did not provide one.
func (e *Event) EffectiveType() string {
	if e.EventType == "" {
		return DefaultEventType
	}
	return e.EventType
}
