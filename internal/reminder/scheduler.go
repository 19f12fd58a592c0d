package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldapp/herald/internal/model"
	"github.com/heraldapp/herald/internal/store"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Config tunes the scheduler. Zero values fall back to defaults that
// keep every lead time reachable between sweeps.
type Config struct {
	// SweepSpec is the cron expression for the periodic safety sweep.
	// It must run more often than the smallest lead time, or a slot can
	// be missed between sweeps.
	SweepSpec string
	// SafetyMargin is the minimum distance from now an event start must
	// have to be a discovery candidate, so timers are never armed with
	// near-zero delay.
	SafetyMargin time.Duration
	// DispatchTimeout bounds a single channel delivery call.
	DispatchTimeout time.Duration
	// SocialTimeout bounds a broadcast delivery including its one
	// rate-limit wait, which can span the transport's reset window.
	SocialTimeout time.Duration
	// BroadcastLeads are the lead times (minutes) that get a public
	// broadcast post. The broadcast does not depend on any user's
	// preferences.
	BroadcastLeads []int
	// LedgerRetention is how long terminal ledger rows are kept.
	LedgerRetention time.Duration
	// MaxDiscoveryScan caps how many upcoming events one sweep walks.
	MaxDiscoveryScan int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SweepSpec == "" {
		out.SweepSpec = "*/5 * * * *"
	}
	if out.SafetyMargin <= 0 {
		out.SafetyMargin = 30 * time.Second
	}
	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = 30 * time.Second
	}
	if out.SocialTimeout <= 0 {
		out.SocialTimeout = 16 * time.Minute
	}
	if out.LedgerRetention <= 0 {
		out.LedgerRetention = 30 * 24 * time.Hour
	}
	if out.MaxDiscoveryScan <= 0 {
		out.MaxDiscoveryScan = 20
	}
	return out
}

// Scheduler is the timing core: it discovers upcoming events, arms one
// timer per distinct fire time, re-validates at firing, and records
// every slot in the ledger before considering it done. Correctness
// against overlapping paths (sweep vs chained discovery vs coinciding
// timers) comes from the ledger's atomic claim, not from mutual
// exclusion between those paths.
type Scheduler struct {
	events    *store.EventStore
	reminders *store.ReminderStore
	resolver  *Resolver
	email     *EmailDispatcher
	push      *PushDispatcher
	social    *SocialDispatcher
	cfg       Config
	logger    *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu     sync.Mutex
	armed  map[string]*time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
}

// NewScheduler wires the engine. The social dispatcher may be nil when
// no broadcast transport is configured.
func NewScheduler(events *store.EventStore, reminders *store.ReminderStore, resolver *Resolver, emailD *EmailDispatcher, pushD *PushDispatcher, socialD *SocialDispatcher, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		events:    events,
		reminders: reminders,
		resolver:  resolver,
		email:     emailD,
		push:      pushD,
		social:    socialD,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		armed:     make(map[string]*time.Timer),
	}
}

// Start runs an immediate sweep and schedules the periodic safety
// sweep plus a daily ledger cleanup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.Sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("0 3 * * *", s.cleanupLedger); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	s.cron.Start()

	go s.Sweep()
	return nil
}

// Stop cancels in-flight work and disarms all timers.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for key, timer := range s.armed {
		timer.Stop()
		delete(s.armed, key)
	}
	s.mu.Unlock()
}

// Sweep walks upcoming events and arms every future slot that is
// neither claimed nor already armed. A failure inside one candidate is
// logged and never stops the sweep.
func (s *Scheduler) Sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panic recovered", "panic", r)
		}
	}()

	now := s.now()
	after := now.Add(s.cfg.SafetyMargin)
	var afterID int64

	for i := 0; i < s.cfg.MaxDiscoveryScan; i++ {
		ev, err := s.events.NextUpcoming(after, afterID)
		if err != nil {
			s.logger.Error("sweep: next upcoming", "error", err)
			return
		}
		if ev == nil {
			return
		}
		if _, err := s.processEvent(ev, now); err != nil {
			s.logger.Error("sweep: process event", "event_id", ev.EventID, "error", err)
		}
		after, afterID = ev.StartTime, ev.ID
	}
}

// discoverNext arms the nearest event that still has an unhandled slot,
// then stops. This is the chained path invoked after each firing; the
// periodic sweep backstops anything the chain misses.
func (s *Scheduler) discoverNext() {
	now := s.now()
	after := now.Add(s.cfg.SafetyMargin)
	var afterID int64

	for i := 0; i < s.cfg.MaxDiscoveryScan; i++ {
		ev, err := s.events.NextUpcoming(after, afterID)
		if err != nil {
			s.logger.Error("discover: next upcoming", "error", err)
			return
		}
		if ev == nil {
			return
		}
		acted, err := s.processEvent(ev, now)
		if err != nil {
			s.logger.Error("discover: process event", "event_id", ev.EventID, "error", err)
			return
		}
		if acted {
			return
		}
		after, afterID = ev.StartTime, ev.ID
	}
}

// slotSet returns every (recipient, channel, lead) slot of an event,
// including the broadcast slots, grouped by fire time.
func (s *Scheduler) slotSet(ev *model.Event) (map[time.Time][]Recipient, error) {
	recips, err := s.resolver.Resolve(ev)
	if err != nil {
		return nil, err
	}
	if s.social != nil {
		for _, lead := range s.cfg.BroadcastLeads {
			recips = append(recips, Recipient{Email: model.BroadcastRecipient, Channel: model.ChannelSocial, LeadMinutes: lead})
		}
	}

	slots := make(map[time.Time][]Recipient)
	for _, r := range recips {
		fireAt := ev.StartTime.Add(-time.Duration(r.LeadMinutes) * time.Minute)
		slots[fireAt] = append(slots[fireAt], r)
	}
	return slots, nil
}

// processEvent arms timers for an event's future slots and settles its
// missed ones. It reports whether anything new was armed.
func (s *Scheduler) processEvent(ev *model.Event, now time.Time) (bool, error) {
	slots, err := s.slotSet(ev)
	if err != nil {
		return false, err
	}

	armedNew := false
	for fireAt, recips := range slots {
		if !fireAt.After(now) {
			// Window already missed: settle the slots now rather than
			// deliver late. Claiming first keeps this idempotent
			// against a concurrent path racing on the same key.
			s.settleMissed(ev, fireAt, recips)
			continue
		}

		unhandled, err := s.anyUnclaimed(ev.EventID, recips)
		if err != nil {
			return armedNew, err
		}
		if !unhandled {
			continue
		}
		if s.arm(ev.EventID, fireAt, now) {
			armedNew = true
		}
	}
	return armedNew, nil
}

// anyUnclaimed reports whether at least one slot has no ledger row yet.
func (s *Scheduler) anyUnclaimed(eventID string, recips []Recipient) (bool, error) {
	for _, r := range recips {
		row, err := s.reminders.Get(eventID, r.Email, r.Channel, r.LeadMinutes)
		if err != nil {
			return false, err
		}
		if row == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) settleMissed(ev *model.Event, fireAt time.Time, recips []Recipient) {
	for _, r := range recips {
		claimed, err := s.reminders.TryClaim(ev.EventID, r.Email, r.Channel, r.LeadMinutes, fireAt)
		if err != nil {
			s.logger.Error("settle missed slot", "event_id", ev.EventID, "recipient", r.Email, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := s.reminders.MarkSkipped(ev.EventID, r.Email, r.Channel, r.LeadMinutes, model.SkipWindowMissed); err != nil {
			s.logger.Error("settle missed slot", "event_id", ev.EventID, "recipient", r.Email, "error", err)
			continue
		}
		s.logger.Warn("reminder window missed", "event_id", ev.EventID, "recipient", r.Email, "channel", r.Channel, "lead_minutes", r.LeadMinutes, "fire_at", fireAt)
	}
}

func armedKey(eventID string, fireAt time.Time) string {
	return fmt.Sprintf("%s|%d", eventID, fireAt.Unix())
}

// arm schedules a single deferred firing for (event, fireAt). Returns
// false when that slot time is already armed in this process.
func (s *Scheduler) arm(eventID string, fireAt, now time.Time) bool {
	key := armedKey(eventID, fireAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.armed[key]; ok {
		return false
	}

	delay := fireAt.Sub(now)
	s.armed[key] = time.AfterFunc(delay, func() {
		s.fire(eventID, fireAt)
	})
	s.logger.Info("reminder timer armed", "event_id", eventID, "fire_at", fireAt, "delay", delay.Round(time.Second))
	return true
}

func (s *Scheduler) disarm(eventID string, fireAt time.Time) {
	s.mu.Lock()
	delete(s.armed, armedKey(eventID, fireAt))
	s.mu.Unlock()
}

// ArmedCount reports the number of armed-but-not-fired timers.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// fire handles one timer expiry: re-validate the event, claim each slot
// at this fire time, deliver per channel, record outcomes, then chain
// into discovery of the next candidate.
func (s *Scheduler) fire(eventID string, fireAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fire panic recovered", "event_id", eventID, "panic", r)
		}
	}()

	s.disarm(eventID, fireAt)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	ev, err := s.events.GetByEventID(eventID)
	if err != nil {
		s.logger.Error("fire: load event", "event_id", eventID, "error", err)
		return
	}
	if ev == nil || ev.IsDeleted {
		// Cancelled between arming and firing. Stale timers must not
		// deliver; settle whatever was already claimed.
		n, err := s.reminders.SkipPendingForEvent(eventID, model.SkipEventCancelled)
		if err != nil {
			s.logger.Error("fire: skip cancelled event", "event_id", eventID, "error", err)
			return
		}
		s.logger.Info("event cancelled before firing", "event_id", eventID, "slots_skipped", n)
		return
	}

	slots, err := s.slotSet(ev)
	if err != nil {
		s.logger.Error("fire: resolve slots", "event_id", eventID, "error", err)
		return
	}
	var recips []Recipient
	for at, rs := range slots {
		if at.Equal(fireAt) {
			recips = rs
			break
		}
	}

	var emailRecips []string
	var pushRecips []string
	var socialLeads []int
	lead := 0
	for _, r := range recips {
		lead = r.LeadMinutes
		switch r.Channel {
		case model.ChannelEmail:
			emailRecips = append(emailRecips, r.Email)
		case model.ChannelBrowser:
			pushRecips = append(pushRecips, r.Email)
		case model.ChannelSocial:
			socialLeads = append(socialLeads, r.LeadMinutes)
		}
	}

	// Channel dispatch runs off this timer goroutine so one slow
	// transport cannot delay the accuracy of the next timer. A failure
	// in one channel or recipient never aborts the others.
	g := new(errgroup.Group)
	g.Go(func() error {
		s.deliverEmailBatch(ctx, ev, emailRecips, lead, fireAt)
		return nil
	})
	g.Go(func() error {
		s.deliverPush(ctx, ev, pushRecips, lead, fireAt)
		return nil
	})
	g.Go(func() error {
		s.deliverSocial(ctx, ev, socialLeads, fireAt)
		return nil
	})
	_ = g.Wait()

	s.discoverNext()
}

// deliverEmailBatch claims every email slot at this fire time and sends
// one batched message to the claimed recipients. The ledger gets one
// row per recipient regardless of batching.
func (s *Scheduler) deliverEmailBatch(ctx context.Context, ev *model.Event, recipients []string, lead int, fireAt time.Time) {
	if s.email == nil || len(recipients) == 0 {
		return
	}

	var claimed []string
	for _, email := range recipients {
		ok, err := s.reminders.TryClaim(ev.EventID, email, model.ChannelEmail, lead, fireAt)
		if err != nil {
			s.logger.Error("email claim failed", "event_id", ev.EventID, "recipient", email, "error", err)
			continue
		}
		if ok {
			claimed = append(claimed, email)
		}
	}
	if len(claimed) == 0 {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	outcome := s.email.DeliverBatch(dctx, ev, claimed, lead)

	for _, email := range claimed {
		s.record(ev.EventID, email, model.ChannelEmail, lead, outcome)
	}
}

func (s *Scheduler) deliverPush(ctx context.Context, ev *model.Event, recipients []string, lead int, fireAt time.Time) {
	if s.push == nil {
		return
	}
	for _, email := range recipients {
		ok, err := s.reminders.TryClaim(ev.EventID, email, model.ChannelBrowser, lead, fireAt)
		if err != nil {
			s.logger.Error("push claim failed", "event_id", ev.EventID, "recipient", email, "error", err)
			continue
		}
		if !ok {
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		outcome := s.push.Deliver(dctx, ev, email, lead)
		cancel()

		s.record(ev.EventID, email, model.ChannelBrowser, lead, outcome)
	}
}

func (s *Scheduler) deliverSocial(ctx context.Context, ev *model.Event, leads []int, fireAt time.Time) {
	if s.social == nil {
		return
	}
	for _, lead := range leads {
		ok, err := s.reminders.TryClaim(ev.EventID, model.BroadcastRecipient, model.ChannelSocial, lead, fireAt)
		if err != nil {
			s.logger.Error("social claim failed", "event_id", ev.EventID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, s.cfg.SocialTimeout)
		outcome := s.social.Deliver(dctx, ev, lead)
		cancel()

		s.record(ev.EventID, model.BroadcastRecipient, model.ChannelSocial, lead, outcome)
	}
}

func (s *Scheduler) record(eventID, recipient, channel string, lead int, outcome Outcome) {
	var err error
	if outcome.Delivered {
		err = s.reminders.MarkSent(eventID, recipient, channel, lead)
	} else {
		err = s.reminders.MarkSkipped(eventID, recipient, channel, lead, outcome.Reason)
	}
	if err != nil {
		s.logger.Error("record outcome failed", "event_id", eventID, "recipient", recipient, "channel", channel, "error", err)
	}
}

func (s *Scheduler) cleanupLedger() {
	cutoff := s.now().Add(-s.cfg.LedgerRetention)
	if err := s.reminders.CleanupBefore(cutoff); err != nil {
		s.logger.Error("ledger cleanup failed", "error", err)
		return
	}
	s.logger.Info("ledger cleanup completed", "cutoff", cutoff)
}
