package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/heraldapp/herald/internal/model"
)

const sendURL = "https://api.sendgrid.com/v3/mail/send"

type Client struct {
	apiKey     string
	fromEmail  string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a SendGrid mail client. baseURL is the public site
// URL used for event links in message bodies.
func NewClient(apiKey, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To  []sgAddress `json:"to"`
	Bcc []sgAddress `json:"bcc,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

// SendEventReminder sends one reminder message for an event to all
// given recipients. Recipients go on BCC with the sender as the visible
// To address, so any number of users costs a single outbound API call.
func (c *Client) SendEventReminder(ctx context.Context, recipients []string, event *model.Event, leadMinutes int) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing API key")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("send event reminder: no recipients")
	}

	bcc := make([]sgAddress, 0, len(recipients))
	for _, r := range recipients {
		bcc = append(bcc, sgAddress{Email: r})
	}

	subject := fmt.Sprintf("Reminder: %s starts in %s", event.Title, LeadLabel(leadMinutes))
	text, html := reminderBody(c.baseURL, event, leadMinutes)

	payload := sgMail{
		Personalizations: []sgPersonalization{{
			To:  []sgAddress{{Email: c.fromEmail}},
			Bcc: bcc,
		}},
		From:    sgAddress{Email: c.fromEmail, Name: "Event Reminders"},
		Subject: subject,
		Content: []sgContent{
			{Type: "text/plain", Value: text},
			{Type: "text/html", Value: html},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid API error: status %d", resp.StatusCode)
	}

	return nil
}

// LeadLabel renders a lead time in minutes as human text.
func LeadLabel(minutes int) string {
	switch {
	case minutes == 60:
		return "1 hour"
	case minutes%60 == 0 && minutes > 60:
		return fmt.Sprintf("%d hours", minutes/60)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

func reminderBody(baseURL string, event *model.Event, leadMinutes int) (text, html string) {
	start := event.StartTime.UTC()
	end := event.EndTime.UTC()
	eventURL := fmt.Sprintf("%s/event/%s", baseURL, event.EventID)

	desc := event.Description
	if desc == "" {
		desc = "No description provided."
	}

	text = fmt.Sprintf(
		"Event: %s\nDate: %s\nTime: %s - %s\n\n%s\n\nThis event starts in %s.\n\nView event: %s\n",
		event.Title,
		start.Format("Monday, January 2, 2006"),
		start.Format("3:04 PM"), end.Format("3:04 PM"),
		desc,
		LeadLabel(leadMinutes),
		eventURL,
	)

	html = fmt.Sprintf(
		`<h1>%s</h1><p><strong>Starts:</strong> %s at %s<br><strong>Ends:</strong> %s</p><p>%s</p><p>This event starts in %s.</p><p><a href="%s">View event</a></p>`,
		event.Title,
		start.Format("Monday, January 2, 2006"), start.Format("3:04 PM"),
		end.Format("3:04 PM"),
		strings.ReplaceAll(desc, "\n", "<br>"),
		LeadLabel(leadMinutes),
		eventURL,
	)
	return text, html
}
