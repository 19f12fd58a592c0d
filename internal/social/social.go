package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/heraldapp/herald/internal/model"

	"golang.org/x/time/rate"
)

const postURL = "https://api.twitter.com/2/tweets"

// maxPostLength is the transport's hard text limit.
const maxPostLength = 280

// RateLimitError reports that the transport refused the post and when
// its rate-limit window resets. The caller may retry once after ResetAt.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// Client posts public broadcast messages.
type Client struct {
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a broadcast client. The built-in limiter spaces
// consecutive posts out so back-to-back reminders don't trip the
// transport's burst limit.
func NewClient(bearerToken string, opts ...Option) *Client {
	c := &Client{
		bearerToken: bearerToken,
		httpClient:  http.DefaultClient,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the bearer token is set.
func (c *Client) Configured() bool {
	return c.bearerToken != ""
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Post publishes text and returns the post ID. A 429 response becomes a
// *RateLimitError carrying the reset time from the transport's headers.
func (c *Client) Post(ctx context.Context, text string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("social client not configured: missing bearer token")
	}

	if len([]rune(text)) > maxPostLength {
		runes := []rune(text)
		text = string(runes[:maxPostLength-3]) + "..."
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("post throttle: %w", err)
	}

	body, err := json.Marshal(postRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{ResetAt: parseReset(resp.Header.Get("x-rate-limit-reset"))}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("social API error: status %d", resp.StatusCode)
	}

	var pr postResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode post response: %w", err)
	}
	return pr.Data.ID, nil
}

// parseReset interprets the reset header as unix seconds. A missing or
// malformed header yields a short fallback window.
func parseReset(header string) time.Time {
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Now().Add(time.Minute)
}

// FormatEventPost renders the public reminder text for an event.
func FormatEventPost(event *model.Event, leadMinutes int) string {
	var headline string
	switch leadMinutes {
	case 10:
		headline = "10-Minute Reminder!"
	case 60:
		headline = "1-Hour Reminder!"
	default:
		headline = fmt.Sprintf("Reminder: %d minutes until event!", leadMinutes)
	}

	startTime := event.StartTime.UTC().Format("3:04 PM MST")

	desc := event.Description
	if desc == "" {
		desc = "Join us for the upcoming event!"
	}
	// Keep room for the template around the description. The limit is
	// counted in runes, so the budget must be too.
	maxDesc := maxPostLength - len([]rune(headline)) - len([]rune(event.Title)) - len([]rune(startTime)) - 30
	if maxDesc < 0 {
		maxDesc = 0
	}
	if len([]rune(desc)) > maxDesc {
		runes := []rune(desc)
		if maxDesc > 3 {
			desc = string(runes[:maxDesc-3]) + "..."
		} else {
			desc = ""
		}
	}

	return fmt.Sprintf("%s\n\"%s\" at %s.\n%s", headline, event.Title, startTime, desc)
}
