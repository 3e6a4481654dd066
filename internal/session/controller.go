package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/models"
	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/rs/zerolog"
)

// Store is the part of the license store the dialogue needs.
type Store interface {
	Get(ctx context.Context, key string) (models.LicenseRecord, error)
	Redeem(ctx context.Context, req license.RedeemRequest) (models.LicenseRecord, error)
}

// Metrics records dialogue activity.
type Metrics interface {
	RecordRedemption(outcome string)
	RecordValidationFailure(step string)
	SetActiveSessions(n int)
}

// Controller routes inbound events to per-requester sessions and carries out
// the effects the state machine asks for.
type Controller struct {
	store    Store
	outbound notifications.Outbound
	sessions *Table
	metrics  Metrics
	logger   zerolog.Logger
}

// NewController creates a session controller.
func NewController(store Store, outbound notifications.Outbound, logger zerolog.Logger) *Controller {
	return &Controller{
		store:    store,
		outbound: outbound,
		sessions: NewTable(),
		logger:   logger.With().Str("component", "session_controller").Logger(),
	}
}

// SetMetrics attaches a metrics recorder.
func (c *Controller) SetMetrics(m Metrics) {
	c.metrics = m
}

// Sessions exposes the session table.
func (c *Controller) Sessions() *Table {
	return c.sessions
}

// Handle applies ev to the requester's session and returns the state the
// dialogue is left in. The returned error only reports delivery failures;
// the dialogue has advanced regardless.
func (c *Controller) Handle(ctx context.Context, requesterID int64, ev Event) (State, error) {
	starts := false
	switch ev.(type) {
	case Activate, Restart:
		starts = true
	}

	e := c.sessions.acquire(requesterID, starts)
	current := Session{RequesterID: requesterID, State: Idle}
	if e != nil {
		current = e.session
	}

	if starts && current.State.Active() {
		c.logger.Info().
			Int64("requester_id", requesterID).
			Str("state", current.State.String()).
			Msg("discarding session in progress")
	}

	next, err := c.run(ctx, current, ev)

	if e != nil {
		c.sessions.release(e, next)
	}
	if c.metrics != nil {
		c.metrics.SetActiveSessions(c.sessions.Len())
	}

	if next.State != current.State {
		c.logger.Debug().
			Int64("requester_id", requesterID).
			Str("from", current.State.String()).
			Str("to", next.State.String()).
			Msg("session transition")
	}
	return next.State, err
}

// run feeds ev and every follow-up event through the state machine.
func (c *Controller) run(ctx context.Context, s Session, ev Event) (Session, error) {
	var deliveryErrs []error
	queue := []Event{ev}

	for len(queue) > 0 {
		var effects []Effect
		s, effects = Transition(s, queue[0])
		queue = queue[1:]

		for _, eff := range effects {
			follow, err := c.execute(ctx, s, eff)
			if err != nil {
				deliveryErrs = append(deliveryErrs, err)
			}
			if follow != nil {
				queue = append(queue, follow)
			}
		}
	}

	if len(deliveryErrs) > 0 {
		return s, errors.Join(deliveryErrs...)
	}
	return s, nil
}

// execute performs one effect. Store effects return the follow-up event.
func (c *Controller) execute(ctx context.Context, s Session, eff Effect) (Event, error) {
	switch e := eff.(type) {
	case LookupKey:
		rec, err := c.store.Get(ctx, e.Key)
		if err != nil && !errors.Is(err, license.ErrNotFound) {
			c.logger.Error().Err(err).Int64("requester_id", s.RequesterID).Msg("license lookup failed")
		}
		return KeyResolved{Record: rec, Err: err}, nil

	case Redeem:
		rec, err := c.store.Redeem(ctx, license.RedeemRequest{
			Key:         e.Key,
			RequesterID: s.RequesterID,
			Username:    s.Username,
			Config:      e.Config,
		})
		outcome := notifications.OutcomeSuccess
		if err != nil {
			outcome = failureOutcome(err)
			c.logger.Warn().Err(err).
				Int64("requester_id", s.RequesterID).
				Str("key", e.Key).
				Msg("redemption failed")
		}
		if c.metrics != nil {
			c.metrics.RecordRedemption(string(outcome))
		}
		return RedeemResolved{Record: rec, Err: err}, nil

	case Prompt:
		if e.Message.Invalid != "" && c.metrics != nil {
			c.metrics.RecordValidationFailure(e.Message.Invalid)
		}
		return nil, c.deliver("prompt", s.RequesterID, c.outbound.Prompt(ctx, e.Message))

	case Result:
		return nil, c.deliver("result", s.RequesterID, c.outbound.RedemptionResult(ctx, e.Message))

	case Handoff:
		bundle, err := notifications.NewHandoffBundle(e.Record)
		if err != nil {
			return nil, fmt.Errorf("build handoff: %w", err)
		}
		return nil, c.deliver("handoff", s.RequesterID, c.outbound.OperatorHandoff(ctx, bundle))
	}
	return nil, nil
}

func (c *Controller) deliver(kind string, requesterID int64, err error) error {
	if err == nil {
		return nil
	}
	c.logger.Warn().Err(err).
		Str("kind", kind).
		Int64("requester_id", requesterID).
		Msg("failed to deliver notification")
	if errors.Is(err, notifications.ErrDelivery) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", notifications.ErrDelivery, kind, err)
}
