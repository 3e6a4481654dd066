package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/rs/zerolog"
)

// Default redelivery settings.
const (
	DefaultRedeliverInterval = time.Minute
	DefaultPruneAge          = 30 * 24 * time.Hour
)

// Durable is an Outbound that writes every operator handoff to the outbox
// before passing it on, and acknowledges it once the inner sink accepts it.
// Other events pass straight through.
type Durable struct {
	outbox *Outbox
	inner  notifications.Outbound
	logger zerolog.Logger

	// claimed holds the ids with a delivery in flight. An entry is only
	// handed to the inner sink by whoever claims it.
	claimMu sync.Mutex
	claimed map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDurable wraps inner with the outbox.
func NewDurable(outbox *Outbox, inner notifications.Outbound, logger zerolog.Logger) *Durable {
	return &Durable{
		outbox:  outbox,
		inner:   inner,
		logger:  logger.With().Str("component", "durable_handoff").Logger(),
		claimed: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Prompt implements notifications.Outbound.
func (d *Durable) Prompt(ctx context.Context, msg notifications.PromptMessage) error {
	return d.inner.Prompt(ctx, msg)
}

// RedemptionResult implements notifications.Outbound.
func (d *Durable) RedemptionResult(ctx context.Context, msg notifications.ResultMessage) error {
	return d.inner.RedemptionResult(ctx, msg)
}

// ExpiryReminder implements notifications.Outbound.
func (d *Durable) ExpiryReminder(ctx context.Context, msg notifications.ReminderMessage) error {
	return d.inner.ExpiryReminder(ctx, msg)
}

// OperatorHandoff stores the bundle, then delivers it. A bundle that cannot be
// stored is still delivered. A bundle that is stored but not delivered stays
// pending for the next Redeliver pass.
func (d *Durable) OperatorHandoff(ctx context.Context, bundle notifications.HandoffBundle) error {
	if !d.claim(bundle.ID) {
		d.logger.Warn().Str("handoff_id", bundle.ID).Msg("handoff already being delivered")
		return nil
	}
	defer d.release(bundle.ID)

	if _, err := d.outbox.Save(ctx, bundle); err != nil {
		d.logger.Error().Err(err).
			Str("handoff_id", bundle.ID).
			Str("key", bundle.LicenseKey).
			Msg("failed to store handoff in outbox")
		return d.inner.OperatorHandoff(ctx, bundle)
	}

	return d.deliver(ctx, bundle)
}

// Redeliver retries every pending entry once and returns how many were delivered.
// Entries with a delivery already in flight are skipped.
func (d *Durable) Redeliver(ctx context.Context) (int, error) {
	entries, err := d.outbox.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending handoffs: %w", err)
	}

	delivered := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		ok, err := d.redeliverOne(ctx, e.ID)
		if err != nil || !ok {
			continue
		}
		delivered++
	}

	if len(entries) > 0 {
		d.logger.Info().
			Int("pending", len(entries)).
			Int("delivered", delivered).
			Msg("handoff redelivery pass completed")
	}
	return delivered, nil
}

// redeliverOne claims id and delivers it if it is still pending. It reports
// whether this call delivered the entry.
func (d *Durable) redeliverOne(ctx context.Context, id string) (bool, error) {
	if !d.claim(id) {
		return false, nil
	}
	defer d.release(id)

	// The listing may be stale: another delivery can have acked it since.
	entry, err := d.outbox.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if entry.Status != StatusPending {
		return false, nil
	}
	if err := d.deliver(ctx, entry.Bundle); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Durable) claim(id string) bool {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()
	if _, busy := d.claimed[id]; busy {
		return false
	}
	d.claimed[id] = struct{}{}
	return true
}

func (d *Durable) release(id string) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()
	delete(d.claimed, id)
}

func (d *Durable) deliver(ctx context.Context, bundle notifications.HandoffBundle) error {
	if err := d.inner.OperatorHandoff(ctx, bundle); err != nil {
		d.logger.Warn().Err(err).
			Str("handoff_id", bundle.ID).
			Msg("handoff delivery failed, kept in outbox")
		if recErr := d.outbox.RecordFailure(ctx, bundle.ID, err); recErr != nil {
			d.logger.Error().Err(recErr).Str("handoff_id", bundle.ID).Msg("failed to record handoff failure")
		}
		return err
	}
	if err := d.outbox.Ack(ctx, bundle.ID); err != nil {
		d.logger.Error().Err(err).Str("handoff_id", bundle.ID).Msg("failed to ack delivered handoff")
	}
	return nil
}

// Start runs Redeliver every interval and prunes delivered entries older
// than pruneAge, until Stop is called.
func (d *Durable) Start(interval, pruneAge time.Duration) {
	if interval <= 0 {
		interval = DefaultRedeliverInterval
	}
	if pruneAge <= 0 {
		pruneAge = DefaultPruneAge
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := d.Redeliver(ctx); err != nil {
					d.logger.Warn().Err(err).Msg("handoff redelivery failed")
				}
				if pruned, err := d.outbox.Prune(ctx, pruneAge); err != nil {
					d.logger.Warn().Err(err).Msg("failed to prune handoff outbox")
				} else if pruned > 0 {
					d.logger.Debug().Int("pruned_count", pruned).Msg("pruned delivered handoffs")
				}
				cancel()
			}
		}
	}()

	d.logger.Info().Dur("interval", interval).Msg("handoff redelivery started")
}

// Stop ends the redelivery loop and waits for it to exit.
func (d *Durable) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}
