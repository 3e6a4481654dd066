// Package shutdown provides graceful shutdown coordination for the activation service.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the service is running normally.
	StateRunning State = "running"
	// StateDraining indicates the service rejects new ingress and waits for in-flight requests.
	StateDraining State = "draining"
	// StateStopping indicates the registered components are being stopped.
	StateStopping State = "stopping"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// Tracker reports how many requests are still being served.
type Tracker interface {
	InFlight() int
}

// Status represents the current shutdown status.
type Status struct {
	State            State         `json:"state"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	TimeRemaining    time.Duration `json:"time_remaining,omitempty"`
	InFlight         int           `json:"in_flight"`
	StoppedCount     int           `json:"stopped_count"`
	AcceptingIngress bool          `json:"accepting_ingress"`
	Message          string        `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout is the maximum time the whole shutdown may take.
	Timeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests.
	DrainTimeout time.Duration

	// PollInterval is how often the tracker is polled while draining.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DrainTimeout: 5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// StopFunc stops one component. It must return once ctx is done.
type StopFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   StopFunc
}

// Manager coordinates graceful shutdown of the activation service.
type Manager struct {
	config    Config
	tracker   Tracker
	logger    zerolog.Logger
	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	hooks     []hook
	stopped   int32
	accepting atomic.Bool
	doneCh    chan struct{}
	once      sync.Once
	err       error
}

// NewManager creates a new shutdown manager. tracker may be nil.
func NewManager(config Config, tracker Tracker, logger zerolog.Logger) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	m := &Manager{
		config:  config,
		tracker: tracker,
		logger:  logger.With().Str("component", "shutdown_manager").Logger(),
		state:   StateRunning,
		doneCh:  make(chan struct{}),
	}
	m.accepting.Store(true)
	return m
}

// Register adds a component to stop. Components stop in registration order.
func (m *Manager) Register(name string, fn StopFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// IsAccepting returns true while new ingress should be served.
func (m *Manager) IsAccepting() bool {
	return m.accepting.Load()
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:            m.state,
		StartedAt:        m.startedAt,
		StoppedCount:     int(atomic.LoadInt32(&m.stopped)),
		AcceptingIngress: m.accepting.Load(),
	}
	if m.tracker != nil {
		status.InFlight = m.tracker.InFlight()
	}
	if m.startedAt != nil {
		if remaining := m.config.Timeout - time.Since(*m.startedAt); remaining > 0 {
			status.TimeRemaining = remaining
		}
	}

	switch m.state {
	case StateRunning:
		status.Message = "Service is running normally"
	case StateDraining:
		status.Message = "Draining in-flight requests, rejecting new ingress"
	case StateStopping:
		status.Message = "Stopping components"
	case StateComplete:
		status.Message = "Shutdown complete"
	}
	return status
}

// Shutdown stops accepting ingress, drains in-flight requests and then stops
// every registered component. Later calls return the first call's result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.doShutdown(ctx)
	})
	return m.err
}

func (m *Manager) doShutdown(ctx context.Context) error {
	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Dur("drain_timeout", m.config.DrainTimeout).
		Msg("initiating graceful shutdown")

	now := time.Now()
	m.setState(StateDraining, &now)
	m.accepting.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	// Phase 1: drain in-flight requests
	if m.tracker != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, m.config.DrainTimeout)
		m.waitForDrain(drainCtx)
		drainCancel()
	}

	// Phase 2: stop components, even if the deadline already passed
	m.setState(StateStopping, &now)
	m.mu.RLock()
	hooks := append([]hook(nil), m.hooks...)
	m.mu.RUnlock()

	var errs []error
	for _, h := range hooks {
		logger := m.logger.With().Str("target", h.name).Logger()
		if err := h.fn(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to stop component")
			errs = append(errs, fmt.Errorf("stop %s: %w", h.name, err))
			continue
		}
		atomic.AddInt32(&m.stopped, 1)
		logger.Debug().Msg("component stopped")
	}

	m.setState(StateComplete, &now)
	close(m.doneCh)

	m.logger.Info().
		Dur("duration", time.Since(now)).
		Int("stopped", int(atomic.LoadInt32(&m.stopped))).
		Int("failed", len(errs)).
		Msg("graceful shutdown complete")

	return errors.Join(errs...)
}

func (m *Manager) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		n := m.tracker.InFlight()
		if n == 0 {
			m.logger.Debug().Msg("all in-flight requests completed")
			return
		}
		select {
		case <-ctx.Done():
			m.logger.Warn().Int("in_flight", n).Msg("drain timeout reached with requests still in flight")
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) setState(s State, startedAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.startedAt = startedAt
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// WaitForShutdown blocks until shutdown is complete.
func (m *Manager) WaitForShutdown() {
	<-m.doneCh
}
