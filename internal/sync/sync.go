package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heraldapp/herald/internal/model"
	"github.com/heraldapp/herald/internal/store"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

// DefaultLookahead bounds how far ahead recurring rules are expanded
// into concrete occurrences.
const DefaultLookahead = 90 * 24 * time.Hour

// occurrence is one concrete calendar instance after rule expansion.
type occurrence struct {
	EventID     string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	EventType   string
}

// Service mirrors an upstream ICS feed into the local event table. Each
// run is logged; events missing from the feed are soft-deleted so the
// reminder ledger keeps its history.
type Service struct {
	feedURL    string
	httpClient *http.Client
	events     *store.EventStore
	prefs      *store.PreferenceStore
	logs       *store.SyncLogStore
	logger     *slog.Logger
	lookahead  time.Duration
	now        func() time.Time
}

type Option func(*Service)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

func WithLookahead(d time.Duration) Option {
	return func(s *Service) {
		s.lookahead = d
	}
}

func NewService(feedURL string, events *store.EventStore, prefs *store.PreferenceStore, logs *store.SyncLogStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		events:     events,
		prefs:      prefs,
		logs:       logs,
		logger:     logger,
		lookahead:  DefaultLookahead,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one full sync pass: fetch the feed, expand recurrences
// within the lookahead window, upsert every occurrence, soft-delete
// what disappeared, and auto-enable newly seen event types for users
// who opted into that.
func (s *Service) Run(ctx context.Context) error {
	logID, err := s.logs.Start(s.now())
	if err != nil {
		return fmt.Errorf("calendar sync: %w", err)
	}

	added, updated, removed, err := s.run(ctx)
	if err != nil {
		if failErr := s.logs.Fail(logID, err.Error()); failErr != nil {
			s.logger.Error("record sync failure", "error", failErr)
		}
		return fmt.Errorf("calendar sync: %w", err)
	}

	if err := s.logs.Complete(logID, added, updated, removed); err != nil {
		return fmt.Errorf("calendar sync: %w", err)
	}
	s.logger.Info("calendar sync completed", "added", added, "updated", updated, "removed", removed)
	return nil
}

func (s *Service) run(ctx context.Context) (added, updated, removed int, err error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	occurrences, err := s.parse(body)
	if err != nil {
		return 0, 0, 0, err
	}

	knownTypes, err := s.knownEventTypes()
	if err != nil {
		return 0, 0, 0, err
	}

	keep := make([]string, 0, len(occurrences))
	newTypes := make(map[string]bool)
	for _, occ := range occurrences {
		_, created, err := s.events.Upsert(occ.EventID, occ.Title, occ.Description, occ.StartTime, occ.EndTime, occ.EventType)
		if err != nil {
			return added, updated, removed, err
		}
		keep = append(keep, occ.EventID)
		if created {
			added++
			if occ.EventType != model.DefaultEventType && !knownTypes[occ.EventType] {
				newTypes[occ.EventType] = true
			}
		} else {
			updated++
		}
	}

	removed, err = s.events.SoftDeleteMissing(keep)
	if err != nil {
		return added, updated, removed, err
	}

	for eventType := range newTypes {
		n, err := s.prefs.AutoEnableType(eventType)
		if err != nil {
			return added, updated, removed, err
		}
		if n > 0 {
			s.logger.Info("auto-enabled new event type", "event_type", eventType, "users", n)
		}
	}

	return added, updated, removed, nil
}

func (s *Service) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("create feed request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read feed: %w", err)
	}
	return string(body), nil
}

// parse turns the feed into concrete occurrences. Recurring entries are
// expanded within [now, now+lookahead]; single entries pass through
// unchanged. Entries without a usable start time are skipped with a
// warning rather than failing the whole sync.
func (s *Service) parse(body string) ([]occurrence, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	windowStart := s.now().UTC()
	windowEnd := windowStart.Add(s.lookahead)

	var out []occurrence
	for _, ve := range cal.Events() {
		uid := propValue(ve, ics.ComponentPropertyUniqueId)
		start, err := ve.GetStartAt()
		if err != nil {
			s.logger.Warn("feed entry has no start time, skipping", "uid", uid)
			continue
		}
		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start.Add(time.Hour)
		}

		base := occurrence{
			EventID:     feedEntryID(ve, uid, start),
			Title:       propValue(ve, ics.ComponentPropertySummary),
			Description: propValue(ve, ics.ComponentPropertyDescription),
			StartTime:   start.UTC(),
			EndTime:     end.UTC(),
			EventType:   eventTypeOf(ve),
		}

		ruleStr := propValue(ve, ics.ComponentPropertyRrule)
		if ruleStr == "" {
			out = append(out, base)
			continue
		}

		expanded, err := expandRule(base, ruleStr, windowStart, windowEnd)
		if err != nil {
			s.logger.Warn("feed entry has invalid recurrence rule, using base occurrence", "uid", uid, "error", err)
			out = append(out, base)
			continue
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// expandRule produces one occurrence per recurrence instance inside the
// window. Each instance gets a derived external ID so it claims its own
// reminder slots.
func expandRule(base occurrence, ruleStr string, windowStart, windowEnd time.Time) ([]occurrence, error) {
	rule, err := rrule.StrToRRule(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	rule.DTStart(base.StartTime)

	duration := base.EndTime.Sub(base.StartTime)
	times := rule.Between(windowStart, windowEnd, true)

	out := make([]occurrence, 0, len(times))
	for _, start := range times {
		occ := base
		occ.StartTime = start.UTC()
		occ.EndTime = start.Add(duration).UTC()
		occ.EventID = fmt.Sprintf("%s/%s", base.EventID, occ.StartTime.Format("20060102T150405Z"))
		out = append(out, occ)
	}
	return out, nil
}

// feedEntryID returns a stable external identifier for a feed entry. A
// UID-less entry gets a deterministic identifier derived from its
// content, so repeated syncs agree on which row it is.
func feedEntryID(ve *ics.VEvent, uid string, start time.Time) string {
	if uid != "" {
		return uid
	}
	seed := propValue(ve, ics.ComponentPropertySummary) + "|" + start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// eventTypeOf derives the type tag from the entry's first category.
func eventTypeOf(ve *ics.VEvent) string {
	raw := propValue(ve, ics.ComponentPropertyCategories)
	if raw == "" {
		return model.DefaultEventType
	}
	first := strings.SplitN(raw, ",", 2)[0]
	return strings.ToLower(strings.TrimSpace(first))
}

func propValue(ve *ics.VEvent, name ics.ComponentProperty) string {
	prop := ve.GetProperty(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}

// knownEventTypes collects the distinct type tags already present, so a
// sync can tell which tags are appearing for the first time.
func (s *Service) knownEventTypes() (map[string]bool, error) {
	types, err := s.events.DistinctTypes()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(types))
	for _, t := range types {
		known[t] = true
	}
	return known, nil
}
