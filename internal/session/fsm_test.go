package session

import (
	"errors"
	"testing"
	"time"

	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/models"
	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ12345678"

func freshRecord(t *testing.T) models.LicenseRecord {
	t.Helper()
	rec, err := models.NewLicenseRecord("PLAN-ABC123456789", "Monthly", 30)
	require.NoError(t, err)
	return rec
}

func usedRecord(t *testing.T) models.LicenseRecord {
	t.Helper()
	cfg := models.BoundConfig{BotToken: validToken, AdminID: "111", SupportID: "222", ChannelID: "@mychan"}
	r, err := models.NewRedemption(42, "", cfg, 30, time.Now())
	require.NoError(t, err)
	rec, err := freshRecord(t).Redeem(r)
	require.NoError(t, err)
	return rec
}

// atState walks a session through the dialogue up to state.
func atState(t *testing.T, state State) Session {
	t.Helper()
	s, _ := Transition(Session{RequesterID: 42}, Activate{Username: "alice"})
	steps := []Event{
		KeyResolved{Record: freshRecord(t)},
		Text{Text: validToken},
		Text{Text: "111"},
		Text{Text: "222"},
		Text{Text: "@mychan"},
	}
	for _, ev := range steps {
		if s.State == state {
			break
		}
		s, _ = Transition(s, ev)
	}
	require.Equal(t, state, s.State)
	return s
}

func promptOf(t *testing.T, effects []Effect) notifications.PromptMessage {
	t.Helper()
	require.Len(t, effects, 1)
	p, ok := effects[0].(Prompt)
	require.True(t, ok, "expected Prompt, got %T", effects[0])
	return p.Message
}

func resultOf(t *testing.T, eff Effect) notifications.ResultMessage {
	t.Helper()
	r, ok := eff.(Result)
	require.True(t, ok, "expected Result, got %T", eff)
	return r.Message
}

func TestTransition_HappyPath(t *testing.T) {
	s, effects := Transition(Session{RequesterID: 42}, Activate{Username: "alice"})
	assert.Equal(t, AwaitingKey, s.State)
	assert.Equal(t, StepAskKey, promptOf(t, effects).Step)

	s, effects = Transition(s, Text{Text: " plan-abc123456789 "})
	assert.Equal(t, AwaitingKey, s.State)
	require.Len(t, effects, 1)
	assert.Equal(t, LookupKey{Key: "PLAN-ABC123456789"}, effects[0])

	s, effects = Transition(s, KeyResolved{Record: freshRecord(t)})
	assert.Equal(t, AwaitingToken, s.State)
	assert.Equal(t, "PLAN-ABC123456789", s.Key)
	assert.Equal(t, "Monthly", s.PlanName)
	assert.Equal(t, StepAskToken, promptOf(t, effects).Step)

	answers := []struct {
		text string
		want State
		step string
	}{
		{validToken, AwaitingAdminID, StepAskAdminID},
		{"111", AwaitingSupportID, StepAskSupportID},
		{"222", AwaitingChannelID, StepAskChannelID},
		{"@mychan", AwaitingConfirmation, StepConfirm},
	}
	for _, a := range answers {
		s, effects = Transition(s, Text{Text: a.text})
		assert.Equal(t, a.want, s.State)
		assert.Equal(t, a.step, promptOf(t, effects).Step)
	}

	confirm := promptOf(t, effects)
	assert.Equal(t, []string{ActionConfirm, ActionCancel}, confirm.Actions)
	assert.Contains(t, confirm.Text, "License: PLAN-ABC...")
	assert.Contains(t, confirm.Text, "Bot Token: ...12345678")
	assert.NotContains(t, confirm.Text, validToken)

	wantCfg := models.BoundConfig{BotToken: validToken, AdminID: "111", SupportID: "222", ChannelID: "@mychan"}
	s, effects = Transition(s, Confirm{})
	assert.Equal(t, AwaitingConfirmation, s.State)
	require.Len(t, effects, 1)
	assert.Equal(t, Redeem{Key: "PLAN-ABC123456789", Config: wantCfg}, effects[0])

	redeemed := usedRecord(t)
	s, effects = Transition(s, RedeemResolved{Record: redeemed})
	assert.Equal(t, Terminated, s.State)
	assert.Empty(t, s.Key)
	assert.Equal(t, models.BoundConfig{}, s.Config)

	require.Len(t, effects, 2)
	handoff, ok := effects[0].(Handoff)
	require.True(t, ok, "handoff must precede the result")
	assert.Equal(t, redeemed.Key, handoff.Record.Key)

	res := resultOf(t, effects[1])
	assert.Equal(t, notifications.OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "Monthly", res.Summary.PlanName)
	assert.Equal(t, "PLAN-ABC", res.Summary.KeyPrefix)
	require.NotNil(t, res.Summary.ExpiresAt)
	assert.Equal(t, redeemed.Redemption.ExpiresAt(), *res.Summary.ExpiresAt)
}

func TestTransition_KeyLookupOutcomes(t *testing.T) {
	tests := []struct {
		name string
		ev   KeyResolved
		want notifications.Outcome
	}{
		{"not found", KeyResolved{Err: license.ErrNotFound}, notifications.OutcomeNotFound},
		{"already used record", KeyResolved{Record: usedRecord(t)}, notifications.OutcomeAlreadyUsed},
		{"already used error", KeyResolved{Err: license.ErrAlreadyUsed}, notifications.OutcomeAlreadyUsed},
		{"inconsistent record", KeyResolved{Err: license.ErrInvalidRecord}, notifications.OutcomeAlreadyUsed},
		{"store failure", KeyResolved{Err: license.ErrPersistence}, notifications.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := atState(t, AwaitingKey)
			next, effects := Transition(s, tt.ev)
			assert.Equal(t, Terminated, next.State)
			require.Len(t, effects, 1)
			assert.Equal(t, tt.want, resultOf(t, effects[0]).Outcome)
		})
	}
}

func TestTransition_EmptyKeyTerminates(t *testing.T) {
	s := atState(t, AwaitingKey)
	next, effects := Transition(s, Text{Text: "   "})
	assert.Equal(t, Terminated, next.State)
	require.Len(t, effects, 1)
	assert.Equal(t, notifications.OutcomeNotFound, resultOf(t, effects[0]).Outcome)
}

func TestTransition_InvalidFieldReprompts(t *testing.T) {
	tests := []struct {
		state   State
		input   string
		invalid string
	}{
		{AwaitingToken, "123:short", StepInvalidToken},
		{AwaitingToken, "no-separator-but-long-enough-to-pass-the-length-rule", StepInvalidToken},
		{AwaitingAdminID, "notanumber", StepInvalidID},
		{AwaitingSupportID, "12x", StepInvalidID},
		{AwaitingChannelID, "mychan", StepInvalidChannel},
		{AwaitingChannelID, "-12ab", StepInvalidChannel},
	}

	for _, tt := range tests {
		t.Run(tt.state.String()+"/"+tt.input, func(t *testing.T) {
			s := atState(t, tt.state)

			next, effects := Transition(s, Text{Text: tt.input})
			assert.Equal(t, s, next, "session must be unchanged")
			msg := promptOf(t, effects)
			assert.Equal(t, tt.invalid, msg.Invalid)
			assert.Equal(t, stepForState[tt.state], msg.Step)

			again, effects2 := Transition(next, Text{Text: tt.input})
			assert.Equal(t, s, again, "resubmitting must be idempotent")
			assert.Equal(t, effects, effects2)
		})
	}
}

func TestTransition_AdminIDNotANumber(t *testing.T) {
	s := atState(t, AwaitingAdminID)
	require.Equal(t, validToken, s.Config.BotToken)

	next, effects := Transition(s, Text{Text: "notanumber"})
	assert.Equal(t, AwaitingAdminID, next.State)
	assert.Empty(t, next.Config.AdminID)
	assert.Equal(t, validToken, next.Config.BotToken)
	assert.Equal(t, StepInvalidID, promptOf(t, effects).Invalid)
}

func TestTransition_TrimsAnswers(t *testing.T) {
	s := atState(t, AwaitingAdminID)
	next, _ := Transition(s, Text{Text: "  111\n"})
	assert.Equal(t, "111", next.Config.AdminID)
}

func TestTransition_Cancel(t *testing.T) {
	for _, ev := range []Event{CancelCommand{}, CancelAction{}} {
		for _, state := range []State{AwaitingKey, AwaitingToken, AwaitingChannelID, AwaitingConfirmation} {
			s := atState(t, state)
			next, effects := Transition(s, ev)
			assert.Equal(t, Terminated, next.State)
			assert.Equal(t, models.BoundConfig{}, next.Config)
			require.Len(t, effects, 1)
			assert.Equal(t, notifications.OutcomeCancelled, resultOf(t, effects[0]).Outcome)
		}
	}

	next, effects := Transition(Session{RequesterID: 42}, CancelCommand{})
	assert.False(t, next.State.Active())
	require.Len(t, effects, 1)
	assert.Equal(t, notifications.OutcomeNoActiveOperation, resultOf(t, effects[0]).Outcome)
}

func TestTransition_RestartDiscardsFields(t *testing.T) {
	s := atState(t, AwaitingChannelID)
	require.NotEmpty(t, s.Config.AdminID)

	next, effects := Transition(s, Restart{})
	assert.Equal(t, AwaitingKey, next.State)
	assert.Empty(t, next.Key)
	assert.Equal(t, models.BoundConfig{}, next.Config)
	assert.Equal(t, "alice", next.Username)
	assert.Equal(t, StepAskKey, promptOf(t, effects).Step)
}

func TestTransition_ActivateMidDialogueStartsFresh(t *testing.T) {
	s := atState(t, AwaitingSupportID)

	next, effects := Transition(s, Activate{Username: "bob"})
	assert.Equal(t, Session{RequesterID: 42, Username: "bob", State: AwaitingKey}, next)
	assert.Equal(t, StepAskKey, promptOf(t, effects).Step)
}

func TestTransition_RedeemFailureNeverReportsSuccess(t *testing.T) {
	tests := []struct {
		err  error
		want notifications.Outcome
	}{
		{license.ErrAlreadyUsed, notifications.OutcomeAlreadyUsed},
		{license.ErrNotFound, notifications.OutcomeNotFound},
		{license.ErrPersistence, notifications.OutcomeFailed},
		{errors.New("unexpected"), notifications.OutcomeFailed},
	}

	for _, tt := range tests {
		s := atState(t, AwaitingConfirmation)
		next, effects := Transition(s, RedeemResolved{Err: tt.err})
		assert.Equal(t, Terminated, next.State)
		require.Len(t, effects, 1, "no handoff on failure")
		assert.Equal(t, tt.want, resultOf(t, effects[0]).Outcome)
	}
}

func TestTransition_IgnoresOutOfPlaceEvents(t *testing.T) {
	tests := []struct {
		state State
		ev    Event
	}{
		{Idle, Text{Text: "hello"}},
		{Idle, Confirm{}},
		{AwaitingToken, Confirm{}},
		{AwaitingConfirmation, Text{Text: "yes"}},
		{AwaitingToken, KeyResolved{Record: freshRecord(t)}},
		{AwaitingKey, RedeemResolved{}},
	}

	for _, tt := range tests {
		var s Session
		if tt.state == Idle {
			s = Session{RequesterID: 42}
		} else {
			s = atState(t, tt.state)
		}
		next, effects := Transition(s, tt.ev)
		assert.Equal(t, s, next)
		assert.Empty(t, effects)
	}
}

func TestValidateField(t *testing.T) {
	err := ValidateField(AwaitingAdminID, "abc")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "admin_id", verr.Field)
	assert.Equal(t, StepInvalidID, verr.Step)
	assert.Contains(t, verr.Error(), "admin_id")

	assert.NoError(t, ValidateField(AwaitingKey, ""))
	assert.NoError(t, ValidateField(AwaitingChannelID, "-100123"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_admin_id", AwaitingAdminID.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.False(t, Idle.Active())
	assert.False(t, Terminated.Active())
	assert.True(t, AwaitingConfirmation.Active())
}
