// Package discord implements the notify.Notifier for Discord webhooks.
package discord

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/opensciencecatalog/osc-backend/internal/notify"
)

// webhookExecutor abstracts the discordgo.Session method we use, enabling test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier executes one Discord webhook per event.
type Notifier struct {
	sess      webhookExecutor
	webhookID string
	token     string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	// WebhookURL is https://discord.com/api/webhooks/<id>/<token>.
	WebhookURL string
	// For testing: inject a mock executor instead of a real session.
	Session webhookExecutor
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	id, token, err := ParseWebhookURL(opts.WebhookURL)
	if err != nil {
		return nil, err
	}
	sess := opts.Session
	if sess == nil {
		// Webhook execution is authorized by the token in the URL, so the
		// session needs no bot token.
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord: new session: %w", err)
		}
		sess = s
	}
	return &Notifier{sess: sess, webhookID: id, token: token}, nil
}

// ParseWebhookURL extracts the webhook id and token.
func ParseWebhookURL(raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("discord: webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord: parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: %q is not a webhook url", raw)
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, evt notify.Event) error {
	f := notify.Format(evt)
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{eventToEmbed(f)},
	}
	if _, err := n.sess.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

func eventToEmbed(f notify.FormattedEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       f.Title,
		URL:         f.URL,
		Description: f.Body,
		Color:       parseHexColor(f.Color),
	}
	for _, fld := range f.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fld.Name,
			Value:  fld.Value,
			Inline: fld.Short,
		})
	}
	return embed
}

// parseHexColor converts "#rrggbb" to an int. Invalid input yields 0.
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
