package reminder

import (
	"database/sql"
	"testing"
	"time"

	"github.com/heraldapp/herald/internal/database"
	"github.com/heraldapp/herald/internal/model"
	"github.com/heraldapp/herald/internal/store"
)

type schedulerFixture struct {
	db        *sql.DB
	events    *store.EventStore
	users     *store.UserStore
	prefs     *store.PreferenceStore
	push      *store.PushStore
	reminders *store.ReminderStore
	mailer    *fakeMailer
	poster    *fakePoster
	scheduler *Scheduler
	now       time.Time
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &schedulerFixture{
		db:        db,
		events:    store.NewEventStore(db),
		users:     store.NewUserStore(db),
		prefs:     store.NewPreferenceStore(db),
		push:      store.NewPushStore(db),
		reminders: store.NewReminderStore(db),
		mailer:    &fakeMailer{},
		poster:    &fakePoster{},
		now:       time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := testLogger()
	resolver := NewResolver(f.users, f.prefs, f.push)
	f.scheduler = NewScheduler(
		f.events, f.reminders, resolver,
		NewEmailDispatcher(f.mailer, logger),
		NewPushDispatcher(&fakePusher{errs: make(map[string]error)}, f.push, logger),
		NewSocialDispatcher(f.poster, logger),
		Config{BroadcastLeads: []int{10}},
		logger,
	)
	f.scheduler.now = func() time.Time { return f.now }
	t.Cleanup(f.scheduler.Stop)
	return f
}

func (f *schedulerFixture) addEvent(t *testing.T, eventID string, start time.Time) *model.Event {
	t.Helper()
	ev, _, err := f.events.Upsert(eventID, "Event "+eventID, "", start, start.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	return ev
}

func (f *schedulerFixture) addEmailOnlyUser(t *testing.T, email string) {
	t.Helper()
	if _, err := f.users.GetOrCreate(email, ""); err != nil {
		t.Fatalf("create user: %v", err)
	}
	pref := model.DefaultPreference(email)
	pref.NotifyBrowser = false
	if err := f.prefs.Upsert(pref); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}
}

func TestSweepArmsFutureSlots(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	f.addEvent(t, "ev-1", f.now.Add(2*time.Hour))

	f.scheduler.Sweep()

	// Distinct fire times: start-60m and start-10m (email + broadcast
	// share the 10m instant).
	if got := f.scheduler.ArmedCount(); got != 2 {
		t.Errorf("armed timers = %d, want 2", got)
	}

	// A second sweep must not double-arm.
	f.scheduler.Sweep()
	if got := f.scheduler.ArmedCount(); got != 2 {
		t.Errorf("armed timers after repeat sweep = %d, want 2", got)
	}
}

func TestSweepSkipsMissedWindow(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	// Event in 30 minutes: the 1-hour slot is already in the past, the
	// 10-minute slot is still ahead.
	f.addEvent(t, "ev-1", f.now.Add(30*time.Minute))

	f.scheduler.Sweep()

	r, err := f.reminders.Get("ev-1", "alice@example.com", model.ChannelEmail, 60)
	if err != nil {
		t.Fatalf("get 60m slot: %v", err)
	}
	if r == nil || r.Status != model.ReminderSkipped || r.SkipReason != model.SkipWindowMissed {
		t.Fatalf("60m slot = %+v, want window-missed skip", r)
	}

	r, err = f.reminders.Get("ev-1", "alice@example.com", model.ChannelEmail, 10)
	if err != nil {
		t.Fatalf("get 10m slot: %v", err)
	}
	if r != nil {
		t.Errorf("10m slot = %+v, should stay unclaimed until it fires", r)
	}
	if got := f.scheduler.ArmedCount(); got != 1 {
		t.Errorf("armed timers = %d, want 1 for the 10m instant", got)
	}

	// Nothing was ever sent for the missed window.
	if len(f.mailer.calls) != 0 {
		t.Errorf("mailer calls = %+v, late sends are forbidden", f.mailer.calls)
	}
}

func TestSweepIgnoresEventsInsideSafetyMargin(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	f.addEvent(t, "ev-now", f.now.Add(10*time.Second))
	f.addEvent(t, "ev-later", f.now.Add(2*time.Hour))

	f.scheduler.Sweep()

	r, err := f.reminders.Get("ev-now", "alice@example.com", model.ChannelEmail, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r != nil {
		t.Errorf("slot for imminent event = %+v, want untouched", r)
	}
	if got := f.scheduler.ArmedCount(); got != 2 {
		t.Errorf("armed timers = %d, want 2 for the later event", got)
	}
}

func TestFireDeliversAndRecords(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	f.addEmailOnlyUser(t, "bob@example.com")
	ev := f.addEvent(t, "ev-1", f.now.Add(time.Hour))

	fireAt := ev.StartTime.Add(-60 * time.Minute)
	f.scheduler.fire("ev-1", fireAt)

	if len(f.mailer.calls) != 1 {
		t.Fatalf("mailer calls = %d, want one batched send", len(f.mailer.calls))
	}
	if len(f.mailer.calls[0]) != 2 {
		t.Errorf("batch = %v, want both recipients", f.mailer.calls[0])
	}

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		r, err := f.reminders.Get("ev-1", email, model.ChannelEmail, 60)
		if err != nil {
			t.Fatalf("get slot: %v", err)
		}
		if r == nil || r.Status != model.ReminderSent {
			t.Errorf("slot for %s = %+v, want sent", email, r)
		}
	}
}

func TestFireBroadcastsAtConfiguredLead(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	ev := f.addEvent(t, "ev-1", f.now.Add(30*time.Minute))

	fireAt := ev.StartTime.Add(-10 * time.Minute)
	f.scheduler.fire("ev-1", fireAt)

	if f.poster.calls != 1 {
		t.Errorf("poster calls = %d, want 1", f.poster.calls)
	}
	r, err := f.reminders.Get("ev-1", model.BroadcastRecipient, model.ChannelSocial, 10)
	if err != nil {
		t.Fatalf("get broadcast slot: %v", err)
	}
	if r == nil || r.Status != model.ReminderSent {
		t.Errorf("broadcast slot = %+v, want sent", r)
	}
}

func TestFireSkipsClaimedSlots(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	ev := f.addEvent(t, "ev-1", f.now.Add(time.Hour))

	fireAt := ev.StartTime.Add(-60 * time.Minute)
	if _, err := f.reminders.TryClaim("ev-1", "alice@example.com", model.ChannelEmail, 60, fireAt); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}
	if err := f.reminders.MarkSent("ev-1", "alice@example.com", model.ChannelEmail, 60); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	f.scheduler.fire("ev-1", fireAt)

	if len(f.mailer.calls) != 0 {
		t.Errorf("mailer calls = %d, claimed slot must not send again", len(f.mailer.calls))
	}
}

func TestFireCancelledEvent(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	ev := f.addEvent(t, "ev-1", f.now.Add(time.Hour))

	fireAt := ev.StartTime.Add(-60 * time.Minute)
	if _, err := f.reminders.TryClaim("ev-1", "alice@example.com", model.ChannelEmail, 60, fireAt); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}
	if _, err := f.events.SoftDeleteMissing(nil); err != nil {
		t.Fatalf("cancel event: %v", err)
	}

	f.scheduler.fire("ev-1", fireAt)

	if len(f.mailer.calls) != 0 {
		t.Error("cancelled event must not send")
	}
	r, err := f.reminders.Get("ev-1", "alice@example.com", model.ChannelEmail, 60)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if r == nil || r.Status != model.ReminderSkipped || r.SkipReason != model.SkipEventCancelled {
		t.Errorf("slot = %+v, want event-cancelled skip", r)
	}
}

func TestSweepArmsAllEventsSharingAStart(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	start := f.now.Add(2 * time.Hour)
	f.addEvent(t, "ev-c", start)
	f.addEvent(t, "ev-d", start)

	f.scheduler.Sweep()

	// Each event owns its own 60m and 10m timers; a shared start
	// instant must not hide the second event from discovery.
	if got := f.scheduler.ArmedCount(); got != 4 {
		t.Errorf("armed timers = %d, want 4 (both tied events)", got)
	}
}

func TestSweepSettlesMissedWindowsForTiedEvents(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	// Both events start in 30 minutes: each 1-hour window is already
	// missed and each must get its own skip row.
	start := f.now.Add(30 * time.Minute)
	f.addEvent(t, "ev-c", start)
	f.addEvent(t, "ev-d", start)

	f.scheduler.Sweep()

	for _, eventID := range []string{"ev-c", "ev-d"} {
		r, err := f.reminders.Get(eventID, "alice@example.com", model.ChannelEmail, 60)
		if err != nil {
			t.Fatalf("get 60m slot for %s: %v", eventID, err)
		}
		if r == nil || r.Status != model.ReminderSkipped || r.SkipReason != model.SkipWindowMissed {
			t.Errorf("%s 60m slot = %+v, want window-missed skip", eventID, r)
		}
	}
}

func TestSweepWalksPastResolvedEvents(t *testing.T) {
	f := setupScheduler(t)
	f.addEmailOnlyUser(t, "alice@example.com")
	f.addEvent(t, "ev-near", f.now.Add(time.Hour))
	f.addEvent(t, "ev-far", f.now.Add(3*time.Hour))

	f.scheduler.Sweep()

	// Both events get their own timers even though only the nearest
	// would fire next.
	if got := f.scheduler.ArmedCount(); got != 4 {
		t.Errorf("armed timers = %d, want 4 across both events", got)
	}
}
