package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Fanout delivers every event to each of its sinks. A failing sink does not
// stop delivery to the others.
type Fanout struct {
	sinks []Outbound
}

// NewFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewFanout(sinks ...Outbound) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) each(fn func(Outbound) error) error {
	var errs []error
	for _, s := range f.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if errors.Is(joined, ErrDelivery) {
		return joined
	}
	return fmt.Errorf("%w: %v", ErrDelivery, joined)
}

// Prompt implements Outbound.
func (f *Fanout) Prompt(ctx context.Context, msg PromptMessage) error {
	return f.each(func(o Outbound) error { return o.Prompt(ctx, msg) })
}

// RedemptionResult implements Outbound.
func (f *Fanout) RedemptionResult(ctx context.Context, msg ResultMessage) error {
	return f.each(func(o Outbound) error { return o.RedemptionResult(ctx, msg) })
}

// OperatorHandoff implements Outbound.
func (f *Fanout) OperatorHandoff(ctx context.Context, bundle HandoffBundle) error {
	return f.each(func(o Outbound) error { return o.OperatorHandoff(ctx, bundle) })
}

// ExpiryReminder implements Outbound.
func (f *Fanout) ExpiryReminder(ctx context.Context, msg ReminderMessage) error {
	return f.each(func(o Outbound) error { return o.ExpiryReminder(ctx, msg) })
}

// LogSink writes every event to the log. It is used when no transport is
// configured and alongside one for an audit trail. Bot tokens are never logged.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notification_log").Logger()}
}

// Prompt implements Outbound.
func (l *LogSink) Prompt(_ context.Context, msg PromptMessage) error {
	l.logger.Info().
		Int64("requester_id", msg.RequesterID).
		Str("step", msg.Step).
		Str("invalid", msg.Invalid).
		Msg("prompt")
	return nil
}

// RedemptionResult implements Outbound.
func (l *LogSink) RedemptionResult(_ context.Context, msg ResultMessage) error {
	l.logger.Info().
		Int64("requester_id", msg.RequesterID).
		Str("outcome", string(msg.Outcome)).
		Msg("redemption result")
	return nil
}

// OperatorHandoff implements Outbound.
func (l *LogSink) OperatorHandoff(_ context.Context, bundle HandoffBundle) error {
	l.logger.Info().
		Str("handoff_id", bundle.ID).
		Int64("requester_id", bundle.RequesterID).
		Str("license_key", bundle.LicenseKey).
		Str("plan", bundle.PlanName).
		Int64("expires_epoch", bundle.ExpiresEpoch).
		Msg("operator handoff")
	return nil
}

// ExpiryReminder implements Outbound.
func (l *LogSink) ExpiryReminder(_ context.Context, msg ReminderMessage) error {
	l.logger.Info().
		Int64("requester_id", msg.RequesterID).
		Str("plan", msg.PlanName).
		Int("days_remaining", msg.DaysRemaining).
		Msg("expiry reminder")
	return nil
}
