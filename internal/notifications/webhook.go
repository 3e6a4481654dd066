package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Activator-Signature"

// WebhookPayload is the envelope posted to the transport.
type WebhookPayload struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebhookConfig configures the transport webhook.
type WebhookConfig struct {
	URL          string
	Secret       string
	Timeout      time.Duration
	MaxAttempts  int
	RequireHTTPS bool
	// BlockPrivate refuses targets that resolve to private or loopback addresses.
	BlockPrivate bool
	// Client overrides the HTTP client. Its transport is responsible for
	// BlockPrivate dialing when set.
	Client *http.Client
}

// WebhookSender posts signed JSON payloads with retry.
type WebhookSender struct {
	client      *http.Client
	logger      zerolog.Logger
	maxRetries  int
	backoffBase time.Duration
	validateURL func(string) error
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg WebhookConfig, logger zerolog.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
		if cfg.BlockPrivate {
			client.Transport = &http.Transport{DialContext: ValidatingDialer()}
		}
	}

	policy := EndpointPolicy{RequireHTTPS: cfg.RequireHTTPS, BlockPrivate: cfg.BlockPrivate}
	return &WebhookSender{
		client:      client,
		logger:      logger.With().Str("component", "webhook_sender").Logger(),
		maxRetries:  attempts,
		backoffBase: time.Second,
		validateURL: func(u string) error {
			return ValidateEndpoint(u, policy)
		},
	}
}

// Send posts payload to url, retrying with exponential backoff. The body is
// signed with secret when one is set.
func (w *WebhookSender) Send(ctx context.Context, url string, payload WebhookPayload, secret string) error {
	if err := w.validateURL(url); err != nil {
		return fmt.Errorf("webhook URL blocked: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * w.backoffBase
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			w.logger.Debug().
				Int("attempt", attempt+1).
				Str("event_type", payload.EventType).
				Msg("retrying webhook")
		}

		lastErr = w.doSend(ctx, url, body, secret)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", w.maxRetries, lastErr)
}

// doSend performs a single webhook HTTP request.
func (w *WebhookSender) doSend(ctx context.Context, url string, body []byte, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if secret != "" {
		req.Header.Set(SignatureHeader, computeHMAC(body, secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// computeHMAC computes an HMAC-SHA256 signature for the given payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(computeHMAC(payload, secret)), []byte(signature))
}

// WebhookOutbound delivers every outbound event to a single transport endpoint.
type WebhookOutbound struct {
	sender *WebhookSender
	url    string
	secret string
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewWebhookOutbound creates an Outbound that posts to cfg.URL.
func NewWebhookOutbound(cfg WebhookConfig, logger zerolog.Logger) *WebhookOutbound {
	return &WebhookOutbound{
		sender: NewWebhookSender(cfg, logger),
		url:    cfg.URL,
		secret: cfg.Secret,
		logger: logger.With().Str("component", "webhook_outbound").Logger(),
		nowFn:  time.Now,
	}
}

func (o *WebhookOutbound) send(ctx context.Context, eventType string, data interface{}) error {
	payload := WebhookPayload{
		EventType: eventType,
		Timestamp: o.nowFn().UTC(),
		Data:      data,
	}
	if err := o.sender.Send(ctx, o.url, payload, o.secret); err != nil {
		o.logger.Warn().Err(err).Str("event_type", eventType).Msg("webhook delivery failed")
		return fmt.Errorf("%w: %s: %v", ErrDelivery, eventType, err)
	}
	o.logger.Debug().Str("event_type", eventType).Msg("webhook delivered")
	return nil
}

// Prompt implements Outbound.
func (o *WebhookOutbound) Prompt(ctx context.Context, msg PromptMessage) error {
	return o.send(ctx, EventPrompt, msg)
}

// RedemptionResult implements Outbound.
func (o *WebhookOutbound) RedemptionResult(ctx context.Context, msg ResultMessage) error {
	return o.send(ctx, EventRedemptionResult, msg)
}

// OperatorHandoff implements Outbound.
func (o *WebhookOutbound) OperatorHandoff(ctx context.Context, bundle HandoffBundle) error {
	return o.send(ctx, EventOperatorHandoff, bundle)
}

// ExpiryReminder implements Outbound.
func (o *WebhookOutbound) ExpiryReminder(ctx context.Context, msg ReminderMessage) error {
	return o.send(ctx, EventExpiryReminder, msg)
}
