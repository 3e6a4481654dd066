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

// SlackConfig configures the operator alert channel.
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	// Client overrides the default HTTP client.
	Client *http.Client
}

// SlackMessage represents a Slack message payload.
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment.
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short,omitempty"`
}

// SlackOperatorSink posts a deployment notice to operators for every handoff.
// Requester-facing events are not sent to Slack.
type SlackOperatorSink struct {
	config SlackConfig
	client *http.Client
	logger zerolog.Logger
}

// NewSlackOperatorSink creates a Slack sink for operator notices.
func NewSlackOperatorSink(config SlackConfig, logger zerolog.Logger) (*SlackOperatorSink, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &SlackOperatorSink{
		config: config,
		client: client,
		logger: logger.With().Str("component", "slack_operator_sink").Logger(),
	}, nil
}

// Send sends a message to Slack.
func (s *SlackOperatorSink) Send(ctx context.Context, msg *SlackMessage) error {
	if msg.Channel == "" && s.config.Channel != "" {
		msg.Channel = s.config.Channel
	}
	if msg.Username == "" && s.config.Username != "" {
		msg.Username = s.config.Username
	}
	if msg.IconEmoji == "" && s.config.IconEmoji != "" {
		msg.IconEmoji = s.config.IconEmoji
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// OperatorHandoff posts the deployment notice. The bot token is never sent to
// Slack; operators fetch the full artifact from the handoff outbox.
func (s *SlackOperatorSink) OperatorHandoff(ctx context.Context, bundle HandoffBundle) error {
	user := strconv.FormatInt(bundle.RequesterID, 10)
	if bundle.Username != "" {
		user = fmt.Sprintf("@%s (%d)", bundle.Username, bundle.RequesterID)
	}

	msg := &SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:    "#36a64f",
				Title:    fmt.Sprintf("New Bot Deployment: %s", bundle.PlanName),
				Fallback: fmt.Sprintf("New deployment for %s on plan %s", user, bundle.PlanName),
				Fields: []SlackField{
					{Title: "User", Value: user, Short: true},
					{Title: "Plan", Value: bundle.PlanName, Short: true},
					{Title: "License", Value: bundle.LicenseKey, Short: true},
					{Title: "Channel", Value: bundle.ChannelID, Short: true},
					{Title: "Expires", Value: bundle.ExpiresAt.UTC().Format(time.RFC822), Short: true},
					{Title: "Handoff ID", Value: bundle.ID, Short: true},
				},
				Footer:    "Activator",
				Timestamp: bundle.ActivatedAt.Unix(),
			},
		},
	}

	s.logger.Debug().
		Str("license_key", bundle.LicenseKey).
		Str("handoff_id", bundle.ID).
		Msg("sending deployment notice to Slack")

	if err := s.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: slack: %v", ErrDelivery, err)
	}
	return nil
}

// Prompt implements Outbound. Prompts are not sent to operators.
func (s *SlackOperatorSink) Prompt(context.Context, PromptMessage) error { return nil }

// RedemptionResult implements Outbound. Results are not sent to operators.
func (s *SlackOperatorSink) RedemptionResult(context.Context, ResultMessage) error { return nil }

// ExpiryReminder implements Outbound. Reminders are not sent to operators.
func (s *SlackOperatorSink) ExpiryReminder(context.Context, ReminderMessage) error { return nil }
