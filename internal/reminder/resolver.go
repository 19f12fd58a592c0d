package reminder

import (
	"fmt"

	"github.com/heraldapp/herald/internal/model"
	"github.com/heraldapp/herald/internal/store"
)

// Recipient is one (user, channel, lead time) delivery slot produced by
// preference resolution. Email is the canonical user identity.
type Recipient struct {
	Email       string
	Channel     string
	LeadMinutes int
}

// Resolver computes which users get which reminders for an event.
type Resolver struct {
	users *store.UserStore
	prefs *store.PreferenceStore
	push  *store.PushStore
}

func NewResolver(users *store.UserStore, prefs *store.PreferenceStore, push *store.PushStore) *Resolver {
	return &Resolver{users: users, prefs: prefs, push: push}
}

// Resolve returns the flat, deduplicated recipient list for an event.
//
// A user is eligible when notify_all_events is set, or when an enabled
// per-type override exists for the event's effective type. Ineligible
// users are excluded entirely; there is no partial channel fallback.
// For eligible users each channel is evaluated independently: the
// channel toggle must be on, each lead time has its own toggle, and the
// browser channel additionally requires at least one registered push
// subscription.
func (r *Resolver) Resolve(event *model.Event) ([]Recipient, error) {
	users, err := r.users.ListActive()
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	prefs, err := r.prefs.ListAll()
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	overrides, err := r.prefs.ListTypeOverrides()
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	subscribed, err := r.push.EmailsWithSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	eventType := event.EffectiveType()

	var out []Recipient
	seen := make(map[Recipient]bool)

	add := func(rec Recipient) {
		if !seen[rec] {
			seen[rec] = true
			out = append(out, rec)
		}
	}

	for _, u := range users {
		pref, ok := prefs[u.Email]
		if !ok {
			pref = model.DefaultPreference(u.Email)
		}

		if !pref.NotifyAllEvents {
			enabled, ok := overrides[[2]string{u.Email, eventType}]
			if !ok || !enabled {
				continue
			}
		}

		if pref.NotifyEmail {
			for _, lead := range pref.EmailLeadTimes() {
				add(Recipient{Email: u.Email, Channel: model.ChannelEmail, LeadMinutes: lead})
			}
		}

		if pref.NotifyBrowser && subscribed[u.Email] {
			for _, lead := range pref.BrowserLeadTimes() {
				add(Recipient{Email: u.Email, Channel: model.ChannelBrowser, LeadMinutes: lead})
			}
		}
	}

	return out, nil
}
