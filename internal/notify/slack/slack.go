// Package slack implements the notify.Notifier for Slack incoming webhooks.
package slack

import (
	"context"
	"fmt"

	"github.com/opensciencecatalog/osc-backend/internal/notify"
	slackapi "github.com/slack-go/slack"
)

// webhookPoster matches slackapi.PostWebhookContext, enabling test mocks.
type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Notifier posts events to one Slack incoming webhook.
type Notifier struct {
	url  string
	post webhookPoster
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	WebhookURL string
	// For testing: inject a poster instead of the real webhook call.
	Post webhookPoster
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	post := opts.Post
	if post == nil {
		post = slackapi.PostWebhookContext
	}
	return &Notifier{url: opts.WebhookURL, post: post}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, evt notify.Event) error {
	if err := n.post(ctx, n.url, buildMessage(notify.Format(evt))); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

func buildMessage(f notify.FormattedEvent) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Color:     f.Color,
		Title:     f.Title,
		TitleLink: f.URL,
		Text:      f.Body,
		Fallback:  f.Title,
	}
	for _, fld := range f.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: fld.Name,
			Value: fld.Value,
			Short: fld.Short,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        f.Title,
		Attachments: []slackapi.Attachment{att},
	}
}
