package reminder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/heraldapp/herald/internal/email"
	"github.com/heraldapp/herald/internal/model"
	"github.com/heraldapp/herald/internal/push"
	"github.com/heraldapp/herald/internal/social"
	"github.com/heraldapp/herald/internal/store"

	"github.com/sethvargo/go-retry"
)

// Outcome is the result of one delivery attempt. Delivered slots are
// marked sent; everything else is marked skipped with Reason. There is
// no retry state: a failed slot stays skipped.
type Outcome struct {
	Delivered bool
	Reason    string
}

func delivered() Outcome {
	return Outcome{Delivered: true}
}

func skipped(reason string) Outcome {
	return Outcome{Reason: reason}
}

// outcomeForErr maps a transport error to a skip reason, treating
// context expiry as a timeout.
func outcomeForErr(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return skipped(model.SkipTimeout)
	}
	return skipped(model.SkipSendFailed)
}

// Mailer is the outbound email transport.
type Mailer interface {
	SendEventReminder(ctx context.Context, recipients []string, event *model.Event, leadMinutes int) error
}

// Pusher is the browser push transport.
type Pusher interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload push.Payload) error
}

// Poster is the public broadcast transport.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
}

// EmailDispatcher sends one batched message per (event, lead time) to
// every claimed recipient at that fire time.
type EmailDispatcher struct {
	mailer Mailer
	logger *slog.Logger
}

func NewEmailDispatcher(mailer Mailer, logger *slog.Logger) *EmailDispatcher {
	return &EmailDispatcher{mailer: mailer, logger: logger}
}

// DeliverBatch attempts a single send covering all recipients. The
// outcome applies to every recipient in the batch; ledger rows are
// still recorded per recipient by the caller.
func (d *EmailDispatcher) DeliverBatch(ctx context.Context, event *model.Event, recipients []string, leadMinutes int) Outcome {
	if len(recipients) == 0 {
		return delivered()
	}
	if err := d.mailer.SendEventReminder(ctx, recipients, event, leadMinutes); err != nil {
		d.logger.Error("email reminder failed", "event_id", event.EventID, "lead_minutes", leadMinutes, "recipients", len(recipients), "error", err)
		return outcomeForErr(err)
	}
	d.logger.Info("email reminder sent", "event_id", event.EventID, "lead_minutes", leadMinutes, "recipients", len(recipients))
	return delivered()
}

// PushDispatcher sends to every registered endpoint of one user.
type PushDispatcher struct {
	service Pusher
	subs    *store.PushStore
	logger  *slog.Logger
}

func NewPushDispatcher(service Pusher, subs *store.PushStore, logger *slog.Logger) *PushDispatcher {
	return &PushDispatcher{service: service, subs: subs, logger: logger}
}

// Deliver pushes the reminder to each of the user's subscriptions. An
// expired endpoint is deleted and does not fail the delivery as long as
// another subscription succeeds. No subscriptions at delivery time is a
// permanent no-subscription outcome.
func (d *PushDispatcher) Deliver(ctx context.Context, event *model.Event, recipient string, leadMinutes int) Outcome {
	subs, err := d.subs.ListByEmail(recipient)
	if err != nil {
		d.logger.Error("push reminder: list subscriptions", "recipient", recipient, "error", err)
		return skipped(model.SkipSendFailed)
	}
	if len(subs) == 0 {
		return skipped(model.SkipNoSubscription)
	}

	payload := push.Payload{
		Title: "Event Reminder: " + event.Title,
		Body:  "Starts in " + email.LeadLabel(leadMinutes),
		URL:   "/calendar",
		Tag:   "event-" + event.EventID,
	}

	var sent int
	var lastErr error
	for i := range subs {
		sub := &subs[i]
		err := d.service.Send(ctx, sub, payload)
		if err == nil {
			sent++
			continue
		}
		if errors.Is(err, push.ErrExpired) {
			if delErr := d.subs.DeleteByEndpoint(sub.Endpoint); delErr != nil {
				d.logger.Error("push reminder: delete expired endpoint", "recipient", recipient, "error", delErr)
			} else {
				d.logger.Info("push reminder: removed expired endpoint", "recipient", recipient)
			}
			continue
		}
		lastErr = err
		d.logger.Error("push reminder failed", "event_id", event.EventID, "recipient", recipient, "error", err)
	}

	if sent > 0 {
		return delivered()
	}
	if lastErr != nil {
		return outcomeForErr(lastErr)
	}
	// Every endpoint was expired and has been removed.
	return skipped(model.SkipNoSubscription)
}

// SocialDispatcher posts one public message per (event, lead time).
type SocialDispatcher struct {
	poster Poster
	logger *slog.Logger
}

func NewSocialDispatcher(poster Poster, logger *slog.Logger) *SocialDispatcher {
	return &SocialDispatcher{poster: poster, logger: logger}
}

// Deliver posts the broadcast reminder. A rate-limit response with a
// known reset time is retried exactly once after that reset; this is
// the only bounded-retry exception in the engine, because the wait is
// known and finite.
func (d *SocialDispatcher) Deliver(ctx context.Context, event *model.Event, leadMinutes int) Outcome {
	text := social.FormatEventPost(event, leadMinutes)

	var resetAt time.Time
	backoff := retry.WithMaxRetries(1, retry.BackoffFunc(func() (time.Duration, bool) {
		wait := time.Until(resetAt) + 5*time.Second
		if wait < 0 {
			wait = 0
		}
		return wait, false
	}))

	var postID string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := d.poster.Post(ctx, text)
		if err != nil {
			var rle *social.RateLimitError
			if errors.As(err, &rle) {
				resetAt = rle.ResetAt
				d.logger.Warn("social reminder rate limited", "event_id", event.EventID, "reset_at", rle.ResetAt)
				return retry.RetryableError(err)
			}
			return err
		}
		postID = id
		return nil
	})
	if err != nil {
		var rle *social.RateLimitError
		if errors.As(err, &rle) {
			d.logger.Error("social reminder rate limit exhausted", "event_id", event.EventID, "lead_minutes", leadMinutes)
			return skipped(model.SkipRateLimited)
		}
		d.logger.Error("social reminder failed", "event_id", event.EventID, "lead_minutes", leadMinutes, "error", err)
		return outcomeForErr(err)
	}

	d.logger.Info("social reminder posted", "event_id", event.EventID, "lead_minutes", leadMinutes, "post_id", postID)
	return delivered()
}
