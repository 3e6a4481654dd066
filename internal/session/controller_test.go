package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/models"
	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutbound struct {
	mu         sync.Mutex
	failPrompt bool
	prompts    []notifications.PromptMessage
	results    []notifications.ResultMessage
	handoffs   []notifications.HandoffBundle
}

func (r *recordingOutbound) Prompt(_ context.Context, msg notifications.PromptMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, msg)
	if r.failPrompt {
		return errors.New("transport down")
	}
	return nil
}

func (r *recordingOutbound) RedemptionResult(_ context.Context, msg notifications.ResultMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, msg)
	return nil
}

func (r *recordingOutbound) OperatorHandoff(_ context.Context, bundle notifications.HandoffBundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs = append(r.handoffs, bundle)
	return nil
}

func (r *recordingOutbound) ExpiryReminder(context.Context, notifications.ReminderMessage) error {
	return nil
}

func (r *recordingOutbound) lastPrompt() notifications.PromptMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts[len(r.prompts)-1]
}

func (r *recordingOutbound) resultsFor(requesterID int64) []notifications.ResultMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.ResultMessage
	for _, res := range r.results {
		if res.RequesterID == requesterID {
			out = append(out, res)
		}
	}
	return out
}

type failingStore struct {
	last      license.RedeemRequest
	getErr    error
	redeemErr error
	redeems   int
}

func (f *failingStore) Get(_ context.Context, key string) (models.LicenseRecord, error) {
	if f.getErr != nil {
		return models.LicenseRecord{}, f.getErr
	}
	return models.NewLicenseRecord(key, "Monthly", 30)
}

func (f *failingStore) Redeem(_ context.Context, req license.RedeemRequest) (models.LicenseRecord, error) {
	f.redeems++
	f.last = req
	return models.LicenseRecord{}, f.redeemErr
}

type countingMetrics struct {
	mu          sync.Mutex
	redemptions map[string]int
	validations map[string]int
	active      int
}

func (m *countingMetrics) RecordRedemption(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redemptions[outcome]++
}

func (m *countingMetrics) RecordValidationFailure(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[step]++
}

func (m *countingMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func newLicenseStore(t *testing.T, keys ...string) *license.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "licenses.json")
	doc := "{"
	for i, k := range keys {
		if i > 0 {
			doc += ","
		}
		doc += fmt.Sprintf(`%q: {"plan_name": "Monthly", "duration_days": 30, "is_used": false}`, k)
	}
	doc += "}"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	store, err := license.NewStore(license.StoreConfig{Path: path}, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func runDialogue(t *testing.T, c *Controller, requesterID int64, key string) State {
	t.Helper()
	ctx := context.Background()
	events := []Event{
		Activate{Username: "alice"},
		Text{Text: key},
		Text{Text: validToken},
		Text{Text: "111"},
		Text{Text: "222"},
		Text{Text: "@mychan"},
		Confirm{},
	}
	var state State
	for _, ev := range events {
		var err error
		state, err = c.Handle(ctx, requesterID, ev)
		require.NoError(t, err)
	}
	return state
}

func TestController_FullDialogue(t *testing.T) {
	store := newLicenseStore(t, "PLAN-ABC123456789")
	out := &recordingOutbound{}
	metrics := &countingMetrics{redemptions: map[string]int{}, validations: map[string]int{}}
	c := NewController(store, out, zerolog.Nop())
	c.SetMetrics(metrics)

	state := runDialogue(t, c, 42, "plan-abc123456789")
	assert.Equal(t, Terminated, state)

	_, ok := c.Sessions().Lookup(42)
	assert.False(t, ok, "session must be destroyed")
	assert.Equal(t, 0, c.Sessions().Len())

	results := out.resultsFor(42)
	require.Len(t, results, 1)
	assert.Equal(t, notifications.OutcomeSuccess, results[0].Outcome)

	require.Len(t, out.handoffs, 1)
	bundle := out.handoffs[0]
	assert.Equal(t, "PLAN-ABC123456789", bundle.LicenseKey)
	assert.Equal(t, "alice", bundle.Username)
	assert.Equal(t, validToken, bundle.BotToken)
	assert.Contains(t, bundle.Artifact, `LICENSE_KEY = "PLAN-ABC123456789"`)

	rec, err := store.Get(context.Background(), "PLAN-ABC123456789")
	require.NoError(t, err)
	require.True(t, rec.IsUsed())
	assert.Equal(t, int64(42), rec.Redemption.ActivatedBy())
	assert.Equal(t, "alice", rec.Redemption.ActivatedUsername())

	assert.Equal(t, 1, metrics.redemptions["success"])
	assert.Equal(t, 0, metrics.active)
}

func TestController_UsedKeyEndsDialogue(t *testing.T) {
	store := newLicenseStore(t, "PLAN-1")
	out := &recordingOutbound{}
	c := NewController(store, out, zerolog.Nop())

	require.Equal(t, Terminated, runDialogue(t, c, 1, "PLAN-1"))

	ctx := context.Background()
	_, err := c.Handle(ctx, 2, Activate{})
	require.NoError(t, err)
	state, err := c.Handle(ctx, 2, Text{Text: "PLAN-1"})
	require.NoError(t, err)
	assert.Equal(t, Terminated, state)

	results := out.resultsFor(2)
	require.Len(t, results, 1)
	assert.Equal(t, notifications.OutcomeAlreadyUsed, results[0].Outcome)

	state, err = c.Handle(ctx, 3, Activate{})
	require.NoError(t, err)
	require.Equal(t, AwaitingKey, state)
	state, err = c.Handle(ctx, 3, Text{Text: "PLAN-UNKNOWN"})
	require.NoError(t, err)
	assert.Equal(t, Terminated, state)
	assert.Equal(t, notifications.OutcomeNotFound, out.resultsFor(3)[0].Outcome)
}

func TestController_InvalidAdminIDStaysInState(t *testing.T) {
	store := newLicenseStore(t, "PLAN-1")
	out := &recordingOutbound{}
	metrics := &countingMetrics{redemptions: map[string]int{}, validations: map[string]int{}}
	c := NewController(store, out, zerolog.Nop())
	c.SetMetrics(metrics)
	ctx := context.Background()

	for _, ev := range []Event{Activate{}, Text{Text: "PLAN-1"}, Text{Text: validToken}} {
		_, err := c.Handle(ctx, 42, ev)
		require.NoError(t, err)
	}

	state, err := c.Handle(ctx, 42, Text{Text: "notanumber"})
	require.NoError(t, err)
	assert.Equal(t, AwaitingAdminID, state)

	prompt := out.lastPrompt()
	assert.Equal(t, StepAskAdminID, prompt.Step)
	assert.Equal(t, StepInvalidID, prompt.Invalid)

	s, ok := c.Sessions().Lookup(42)
	require.True(t, ok)
	assert.Empty(t, s.Config.AdminID)
	assert.Equal(t, validToken, s.Config.BotToken)
	assert.Equal(t, 1, metrics.validations[StepInvalidID])
	assert.Equal(t, 1, metrics.active)
}

func TestController_RestartDiscardsCollectedFields(t *testing.T) {
	store := newLicenseStore(t, "PLAN-1")
	out := &recordingOutbound{}
	c := NewController(store, out, zerolog.Nop())
	ctx := context.Background()

	for _, ev := range []Event{Activate{}, Text{Text: "PLAN-1"}, Text{Text: validToken}, Text{Text: "111"}} {
		_, err := c.Handle(ctx, 42, ev)
		require.NoError(t, err)
	}

	state, err := c.Handle(ctx, 42, Restart{})
	require.NoError(t, err)
	assert.Equal(t, AwaitingKey, state)
	assert.Equal(t, StepAskKey, out.lastPrompt().Step)

	s, ok := c.Sessions().Lookup(42)
	require.True(t, ok)
	assert.Empty(t, s.Key)
	assert.Equal(t, models.BoundConfig{}, s.Config)
}

func TestController_NoSession(t *testing.T) {
	out := &recordingOutbound{}
	c := NewController(&failingStore{}, out, zerolog.Nop())
	ctx := context.Background()

	state, err := c.Handle(ctx, 42, Text{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
	assert.Empty(t, out.prompts)
	assert.Empty(t, out.results)

	state, err = c.Handle(ctx, 42, CancelCommand{})
	require.NoError(t, err)
	assert.False(t, state.Active())
	results := out.resultsFor(42)
	require.Len(t, results, 1)
	assert.Equal(t, notifications.OutcomeNoActiveOperation, results[0].Outcome)
	assert.Equal(t, 0, c.Sessions().Len())
}

func TestController_CancelMidDialogue(t *testing.T) {
	out := &recordingOutbound{}
	c := NewController(&failingStore{}, out, zerolog.Nop())
	ctx := context.Background()

	for _, ev := range []Event{Activate{}, Text{Text: "PLAN-1"}, Text{Text: validToken}} {
		_, err := c.Handle(ctx, 42, ev)
		require.NoError(t, err)
	}

	state, err := c.Handle(ctx, 42, CancelCommand{})
	require.NoError(t, err)
	assert.Equal(t, Terminated, state)
	assert.Equal(t, notifications.OutcomeCancelled, out.resultsFor(42)[0].Outcome)
	_, ok := c.Sessions().Lookup(42)
	assert.False(t, ok)
}

func TestController_RedeemFailureReportsFailure(t *testing.T) {
	store := &failingStore{redeemErr: fmt.Errorf("%w: disk full", license.ErrPersistence)}
	out := &recordingOutbound{}
	metrics := &countingMetrics{redemptions: map[string]int{}, validations: map[string]int{}}
	c := NewController(store, out, zerolog.Nop())
	c.SetMetrics(metrics)

	state := runDialogue(t, c, 42, "PLAN-1")
	assert.Equal(t, Terminated, state)
	assert.Equal(t, 1, store.redeems, "redemption is never retried")
	assert.Equal(t, "alice", store.last.Username)
	assert.Equal(t, int64(42), store.last.RequesterID)

	results := out.resultsFor(42)
	require.Len(t, results, 1)
	assert.Equal(t, notifications.OutcomeFailed, results[0].Outcome)
	assert.Empty(t, out.handoffs)
	assert.Equal(t, 1, metrics.redemptions["failed"])
	assert.Zero(t, metrics.redemptions["success"])
}

func TestController_LookupFailure(t *testing.T) {
	store := &failingStore{getErr: license.ErrPersistence}
	out := &recordingOutbound{}
	c := NewController(store, out, zerolog.Nop())
	ctx := context.Background()

	_, err := c.Handle(ctx, 42, Activate{})
	require.NoError(t, err)
	state, err := c.Handle(ctx, 42, Text{Text: "PLAN-1"})
	require.NoError(t, err)
	assert.Equal(t, Terminated, state)
	assert.Equal(t, notifications.OutcomeFailed, out.resultsFor(42)[0].Outcome)
}

func TestController_DeliveryFailureStillAdvances(t *testing.T) {
	out := &recordingOutbound{failPrompt: true}
	c := NewController(&failingStore{}, out, zerolog.Nop())

	state, err := c.Handle(context.Background(), 42, Activate{})
	assert.ErrorIs(t, err, notifications.ErrDelivery)
	assert.Equal(t, AwaitingKey, state)

	_, ok := c.Sessions().Lookup(42)
	assert.True(t, ok)
}

func TestController_ConcurrentRequesters(t *testing.T) {
	const requesters = 20
	keys := make([]string, requesters)
	for i := range keys {
		keys[i] = fmt.Sprintf("PLAN-%03d", i)
	}
	store := newLicenseStore(t, keys...)
	out := &recordingOutbound{}
	c := NewController(store, out, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runDialogue(t, c, int64(i+1), keys[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < requesters; i++ {
		results := out.resultsFor(int64(i + 1))
		require.Len(t, results, 1)
		assert.Equal(t, notifications.OutcomeSuccess, results[0].Outcome)
	}
	assert.Len(t, out.handoffs, requesters)
	assert.Equal(t, 0, c.Sessions().Len())
}

func TestController_RaceOnSameKey(t *testing.T) {
	store := newLicenseStore(t, "PLAN-SHARED")
	out := &recordingOutbound{}
	c := NewController(store, out, zerolog.Nop())
	ctx := context.Background()

	const requesters = 10
	for i := int64(1); i <= requesters; i++ {
		for _, ev := range []Event{Activate{}, Text{Text: "PLAN-SHARED"}, Text{Text: validToken}, Text{Text: "111"}, Text{Text: "222"}, Text{Text: "@mychan"}} {
			_, err := c.Handle(ctx, i, ev)
			require.NoError(t, err)
		}
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= requesters; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := c.Handle(ctx, id, Confirm{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	outcomes := map[notifications.Outcome]int{}
	for i := int64(1); i <= requesters; i++ {
		for _, res := range out.resultsFor(i) {
			outcomes[res.Outcome]++
		}
	}
	assert.Equal(t, 1, outcomes[notifications.OutcomeSuccess])
	assert.Equal(t, requesters-1, outcomes[notifications.OutcomeAlreadyUsed])
	assert.Len(t, out.handoffs, 1)
}
