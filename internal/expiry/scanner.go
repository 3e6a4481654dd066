// Package expiry warns license holders shortly before their license runs out.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Defaults for the scanner schedule.
const (
	DefaultInterval      = 24 * time.Hour
	DefaultFirstRunDelay = 10 * time.Second
	DefaultWindowDays    = 7
)

// Source lists the license records to scan.
type Source interface {
	All(ctx context.Context) ([]models.LicenseRecord, error)
}

// Notifier delivers reminders.
type Notifier interface {
	ExpiryReminder(ctx context.Context, msg notifications.ReminderMessage) error
}

// Metrics records scan activity.
type Metrics interface {
	RecordReminder(result string)
	RecordScan(duration time.Duration, eligible int)
}

// Config configures the scanner.
type Config struct {
	// Interval between scans.
	Interval time.Duration
	// FirstRunDelay is how long after Start the first scan runs.
	FirstRunDelay time.Duration
	// WindowDays is how many days before expiry a reminder becomes due.
	WindowDays int
	// RenewContact is the handle holders are told to contact.
	RenewContact string
}

// ScanResult summarizes one sweep.
type ScanResult struct {
	Checked  int
	Eligible int
	Sent     int
	Failed   int
}

// Scanner periodically sweeps all redeemed licenses and sends a reminder for
// each one expiring within the window.
type Scanner struct {
	source   Source
	notifier Notifier
	metrics  Metrics
	cfg      Config
	cron     *cron.Cron
	logger   zerolog.Logger
	nowFn    func() time.Time

	mu       sync.Mutex
	running  bool
	firstRun *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc

	scanning atomic.Bool
}

// NewScanner creates an expiration scanner. Zero config values take defaults.
func NewScanner(source Source, notifier Notifier, cfg Config, logger zerolog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FirstRunDelay < 0 {
		cfg.FirstRunDelay = 0
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}

	return &Scanner{
		source:   source,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "expiry_scanner").Logger(),
		nowFn:    time.Now,
	}
}

// SetMetrics attaches a metrics recorder.
func (s *Scanner) SetMetrics(m Metrics) {
	s.metrics = m
}

// Start schedules a sweep every Interval, with the first one FirstRunDelay
// after the call.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("expiry scanner already running")
	}

	// A stopped cron keeps its entries, so every run gets a fresh one.
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, s.runScan); err != nil {
		return fmt.Errorf("schedule expiry scan: %w", err)
	}
	s.cron = c

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.firstRun = time.AfterFunc(s.cfg.FirstRunDelay, s.runScan)
	s.running = true

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("first_run_delay", s.cfg.FirstRunDelay).
		Int("window_days", s.cfg.WindowDays).
		Msg("expiry scanner started")

	return nil
}

// Stop stops the scanner. The returned context is done once any running
// scheduled sweep has finished.
func (s *Scanner) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.firstRun.Stop()
	s.cancel()
	s.logger.Info().Msg("stopping expiry scanner")
	return s.cron.Stop()
}

// RunNow triggers an immediate sweep.
func (s *Scanner) RunNow() {
	s.runScan()
}

func (s *Scanner) runScan() {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous expiry scan still running, skipping")
		return
	}
	defer s.scanning.Store(false)

	ctx := context.Background()
	s.mu.Lock()
	if s.ctx != nil {
		ctx = s.ctx
	}
	s.mu.Unlock()

	start := s.nowFn()
	result, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry scan failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordScan(s.nowFn().Sub(start), result.Eligible)
	}

	s.logger.Info().
		Int("checked", result.Checked).
		Int("eligible", result.Eligible).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("expiry scan completed")
}

// Scan sweeps all records once. A failed delivery is logged and counted and
// does not stop the sweep.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	records, err := s.source.All(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("list licenses: %w", err)
	}

	now := s.nowFn()
	var result ScanResult
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		days, ok := s.due(rec, now)
		if !ok {
			continue
		}
		result.Eligible++

		msg := notifications.ReminderMessage{
			RequesterID:   rec.Redemption.ActivatedBy(),
			LicenseKey:    rec.Key,
			PlanName:      rec.PlanName,
			DaysRemaining: days,
			Text:          s.reminderText(rec.PlanName, days),
		}
		if err := s.notifier.ExpiryReminder(ctx, msg); err != nil {
			result.Failed++
			s.record("failed")
			s.logger.Error().Err(err).
				Int64("requester_id", msg.RequesterID).
				Str("key", rec.Key).
				Msg("failed to send expiry reminder")
			continue
		}
		result.Sent++
		s.record("sent")
	}
	return result, nil
}

// due reports whether rec expires in the future within the window, and how
// many whole days (rounded up) it has left.
func (s *Scanner) due(rec models.LicenseRecord, now time.Time) (int, bool) {
	if !rec.IsUsed() || !rec.Redemption.ExpiresAt().After(now) {
		return 0, false
	}
	days := rec.DaysRemaining(now)
	return days, days <= s.cfg.WindowDays
}

func (s *Scanner) reminderText(plan string, days int) string {
	contact := "support"
	if s.cfg.RenewContact != "" {
		contact = "@" + s.cfg.RenewContact
	}
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("License Expiring Soon!\n\nYour %s subscription expires in %d %s.\nContact %s to renew.", plan, days, unit, contact)
}

func (s *Scanner) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordReminder(result)
	}
}
