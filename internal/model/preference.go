package model

import "time"

// Preference holds a user's notification toggles, keyed by the
// case-normalized email identity rather than an internal row id.
type Preference struct {
	Email              string    `json:"email"`
	NotifyEmail        bool      `json:"notify_email"`
	NotifyBrowser      bool      `json:"notify_browser"`
	NotifyAllEvents    bool      `json:"notify_all_events"`
	Email1hBefore      bool      `json:"email_1h_before"`
	Email10mBefore     bool      `json:"email_10m_before"`
	Browser1hBefore    bool      `json:"browser_1h_before"`
	Browser10mBefore   bool      `json:"browser_10m_before"`
	AutoEnableNewTypes bool      `json:"auto_enable_new_types"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultPreference returns the preference row applied to a user who
// has never saved settings: every channel and lead time enabled.
func DefaultPreference(email string) Preference {
	return Preference{
		Email:            email,
		NotifyEmail:      true,
		NotifyBrowser:    true,
		NotifyAllEvents:  true,
		Email1hBefore:    true,
		Email10mBefore:   true,
		Browser1hBefore:  true,
		Browser10mBefore: true,
	}
}

// EventTypePreference is a per (user, event type) override used when
// the user has not opted into notify-all.
type EventTypePreference struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	EventType string    `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailLeadTimes returns the lead-time set (in minutes) enabled for the
// email channel. The engine treats this set as data; 60 and 10 are just
// the values the preference model currently exposes.
func (p *Preference) EmailLeadTimes() []int {
	var leads []int
	if p.Email1hBefore {
		leads = append(leads, 60)
	}
	if p.Email10mBefore {
		leads = append(leads, 10)
	}
	return leads
}

// BrowserLeadTimes returns the lead-time set enabled for browser push.
func (p *Preference) BrowserLeadTimes() []int {
	var leads []int
	if p.Browser1hBefore {
		leads = append(leads, 60)
	}
	if p.Browser10mBefore {
		leads = append(leads, 10)
	}
	return leads
}
