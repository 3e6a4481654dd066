package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DiscordConfig configures the Discord operator channel.
type DiscordConfig struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	// Client overrides the default HTTP client.
	Client *http.Client
}

// DiscordMessage represents a Discord webhook message.
type DiscordMessage struct {
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed object.
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// DiscordEmbedField represents a field in a Discord embed.
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// Discord embed colors.
const (
	DiscordColorGreen  = 3066993  // #2ECC71
	DiscordColorYellow = 16776960 // #FFFF00
)

// DiscordOperatorSink posts deployment notices and expiry heads-ups to an
// operator Discord channel.
type DiscordOperatorSink struct {
	config DiscordConfig
	client *http.Client
	logger zerolog.Logger
}

// NewDiscordOperatorSink creates a Discord sink for operator notices.
func NewDiscordOperatorSink(config DiscordConfig, logger zerolog.Logger) (*DiscordOperatorSink, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("discord webhook URL is required")
	}
	if config.Username == "" {
		config.Username = "Activator"
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &DiscordOperatorSink{
		config: config,
		client: client,
		logger: logger.With().Str("component", "discord_operator_sink").Logger(),
	}, nil
}

// Send posts a message to the Discord webhook.
func (s *DiscordOperatorSink) Send(ctx context.Context, msg *DiscordMessage) error {
	if msg.Username == "" {
		msg.Username = s.config.Username
	}
	if msg.AvatarURL == "" {
		msg.AvatarURL = s.config.AvatarURL
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 unless ?wait=true is set.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// OperatorHandoff posts the deployment notice. Like the Slack notice it never
// carries the bot token.
func (s *DiscordOperatorSink) OperatorHandoff(ctx context.Context, bundle HandoffBundle) error {
	user := strconv.FormatInt(bundle.RequesterID, 10)
	if bundle.Username != "" {
		user = fmt.Sprintf("@%s (%d)", bundle.Username, bundle.RequesterID)
	}

	msg := &DiscordMessage{
		Embeds: []DiscordEmbed{
			{
				Title:       fmt.Sprintf("New Bot Deployment: %s", bundle.PlanName),
				Description: fmt.Sprintf("License **%s** was redeemed and is ready to deploy.", bundle.LicenseKey),
				Color:       DiscordColorGreen,
				Fields: []DiscordEmbedField{
					{Name: "User", Value: user, Inline: true},
					{Name: "Plan", Value: bundle.PlanName, Inline: true},
					{Name: "Channel", Value: bundle.ChannelID, Inline: true},
					{Name: "Expires", Value: bundle.ExpiresAt.UTC().Format(time.RFC822), Inline: true},
					{Name: "Handoff ID", Value: bundle.ID, Inline: false},
				},
				Footer:    &DiscordEmbedFooter{Text: "Activator"},
				Timestamp: bundle.ActivatedAt.UTC().Format(time.RFC3339),
			},
		},
	}

	if err := s.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: discord: %v", ErrDelivery, err)
	}
	return nil
}

// ExpiryReminder tells operators which holders were just reminded.
func (s *DiscordOperatorSink) ExpiryReminder(ctx context.Context, msg ReminderMessage) error {
	embed := DiscordEmbed{
		Title: fmt.Sprintf("License Expiring: %s", msg.PlanName),
		Color: DiscordColorYellow,
		Fields: []DiscordEmbedField{
			{Name: "Requester", Value: strconv.FormatInt(msg.RequesterID, 10), Inline: true},
			{Name: "License", Value: msg.LicenseKey, Inline: true},
			{Name: "Days Left", Value: strconv.Itoa(msg.DaysRemaining), Inline: true},
		},
		Footer: &DiscordEmbedFooter{Text: "Activator"},
	}

	if err := s.Send(ctx, &DiscordMessage{Embeds: []DiscordEmbed{embed}}); err != nil {
		return fmt.Errorf("%w: discord: %v", ErrDelivery, err)
	}
	return nil
}

// Prompt implements Outbound. Prompts are not sent to operators.
func (s *DiscordOperatorSink) Prompt(context.Context, PromptMessage) error { return nil }

// RedemptionResult implements Outbound. Results are not sent to operators.
func (s *DiscordOperatorSink) RedemptionResult(context.Context, ResultMessage) error { return nil }
