package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/abdulachik/multipost/internal/queue"
)

const (
	colorSuccess = 0x2ecc71
	colorPartial = 0xf1c40f
	colorFailure = 0xe74c3c
	colorMuted   = 0x95a5a6
)

// DiscordNotifier posts notifications to a Discord channel webhook.
type DiscordNotifier struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscordNotifier parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: 20 * time.Second}

	return &DiscordNotifier{session: session, id: id, token: token}, nil
}

// Send posts the notification as an embed colored by status.
func (d *DiscordNotifier) Send(ctx context.Context, notification Notification) error {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(notification.Subject, 256),
		Description: truncate(notification.Body, 4096),
		Color:       statusColor(notification.Status),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Username: "multipost",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("execute discord webhook: %w", err)
	}
	return nil
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid discord webhook url %q", raw)
}

func statusColor(s queue.Status) int {
	switch s {
	case queue.StatusSuccess:
		return colorSuccess
	case queue.StatusPartialFailure:
		return colorPartial
	case queue.StatusFailure:
		return colorFailure
	default:
		return colorMuted
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
