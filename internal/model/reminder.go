package model

import "time"

// Delivery channels.
const (
	ChannelEmail   = "email"
	ChannelBrowser = "browser"
	ChannelSocial  = "social"
)

// BroadcastRecipient is the ledger sentinel for the social channel,
// which posts once per (event, lead time) rather than per user.
const BroadcastRecipient = "broadcast"

// Reminder statuses.
const (
	ReminderPending = "pending"
	ReminderSent    = "sent"
	ReminderSkipped = "skipped"
)

// Skip reasons recorded on the ledger.
const (
	SkipWindowMissed   = "window-missed"
	SkipEventCancelled = "event-cancelled"
	SkipTimeout        = "timeout"
	SkipNoSubscription = "no-subscription"
	SkipSendFailed     = "send-failed"
	SkipRateLimited    = "rate-limited"
)

// Reminder is one row of the delivery ledger. The composite key
// (EventID, Recipient, Channel, LeadMinutes) is unique; a row exists
// once a slot has been claimed and never transitions out of a terminal
// status.
type Reminder struct {
	ID           int64      `json:"id"`
	EventID      string     `json:"event_id"`
	Recipient    string     `json:"recipient"`
	Channel      string     `json:"channel"`
	LeadMinutes  int        `json:"lead_minutes"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	SkipReason   string     `json:"skip_reason"`
	SentAt       *time.Time `json:"sent_at"`
	CreatedAt    time.Time  `json:"created_at"`
}
