// Package session drives the per-requester activation dialogue.
//
// The dialogue is a pure state machine: Transition maps a Session and an Event
// to the next Session and a list of Effects. Effects that need I/O (looking up
// or redeeming a key) are carried out by the Controller, which feeds the
// outcome back in as a follow-up event.
package session

import (
	"errors"
	"strings"

	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/models"
	"github.com/MacJediWizard/activator/internal/notifications"
)

// State is a step of the activation dialogue.
type State int

const (
	Idle State = iota
	AwaitingKey
	AwaitingToken
	AwaitingAdminID
	AwaitingSupportID
	AwaitingChannelID
	AwaitingConfirmation
	Terminated
)

var stateNames = map[State]string{
	Idle:                 "idle",
	AwaitingKey:          "awaiting_key",
	AwaitingToken:        "awaiting_token",
	AwaitingAdminID:      "awaiting_admin_id",
	AwaitingSupportID:    "awaiting_support_id",
	AwaitingChannelID:    "awaiting_channel_id",
	AwaitingConfirmation: "awaiting_confirmation",
	Terminated:           "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active reports whether the state belongs to an in-progress dialogue.
func (s State) Active() bool {
	return s != Idle && s != Terminated
}

// Session is the transient dialogue state of one requester.
type Session struct {
	RequesterID int64
	Username    string
	State       State

	// Key and PlanName are set once the key lookup succeeds.
	Key      string
	PlanName string
	// Config holds the fields collected so far.
	Config models.BoundConfig
}

// Event is an input to the state machine.
type Event interface {
	event()
}

// Activate starts a new dialogue, discarding any previous one.
type Activate struct {
	Username string
}

// Text is a free-form answer from the requester.
type Text struct {
	Text string
}

// Confirm accepts the summary and triggers redemption.
type Confirm struct{}

// CancelAction is the cancel button offered with the summary.
type CancelAction struct{}

// CancelCommand aborts the dialogue from any state.
type CancelCommand struct{}

// Restart discards the dialogue and starts over at the key prompt.
type Restart struct {
	Username string
}

// KeyResolved carries the outcome of a LookupKey effect.
type KeyResolved struct {
	Record models.LicenseRecord
	Err    error
}

// RedeemResolved carries the outcome of a Redeem effect.
type RedeemResolved struct {
	Record models.LicenseRecord
	Err    error
}

func (Activate) event()       {}
func (Text) event()           {}
func (Confirm) event()        {}
func (CancelAction) event()   {}
func (CancelCommand) event()  {}
func (Restart) event()        {}
func (KeyResolved) event()    {}
func (RedeemResolved) event() {}

// Effect is an action requested by the state machine.
type Effect interface {
	effect()
}

// LookupKey asks for the record behind a key.
type LookupKey struct {
	Key string
}

// Redeem asks for the key to be consumed with the collected configuration.
type Redeem struct {
	Key    string
	Config models.BoundConfig
}

// Prompt sends the next question to the requester.
type Prompt struct {
	Message notifications.PromptMessage
}

// Result reports how the dialogue ended.
type Result struct {
	Message notifications.ResultMessage
}

// Handoff passes a redeemed record to operators.
type Handoff struct {
	Record models.LicenseRecord
}

func (LookupKey) effect() {}
func (Redeem) effect()    {}
func (Prompt) effect()    {}
func (Result) effect()    {}
func (Handoff) effect()   {}

// Transition applies ev to s. It performs no I/O.
func Transition(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case Activate:
		return begin(s.RequesterID, e.Username)
	case Restart:
		username := e.Username
		if username == "" {
			username = s.Username
		}
		return begin(s.RequesterID, username)
	case CancelCommand, CancelAction:
		if !s.State.Active() {
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeNoActiveOperation, nil)}
		}
		return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeCancelled, nil)}
	}

	switch s.State {
	case AwaitingKey:
		return onAwaitingKey(s, ev)
	case AwaitingToken, AwaitingAdminID, AwaitingSupportID, AwaitingChannelID:
		if e, ok := ev.(Text); ok {
			return collect(s, e.Text)
		}
	case AwaitingConfirmation:
		return onAwaitingConfirmation(s, ev)
	}
	return s, nil
}

func begin(requesterID int64, username string) (Session, []Effect) {
	s := Session{RequesterID: requesterID, Username: username, State: AwaitingKey}
	return s, []Effect{prompt(s, "")}
}

func terminate(requesterID int64) Session {
	return Session{RequesterID: requesterID, State: Terminated}
}

func onAwaitingKey(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case Text:
		key := models.NormalizeKey(e.Text)
		if key == "" {
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeNotFound, nil)}
		}
		return s, []Effect{LookupKey{Key: key}}
	case KeyResolved:
		switch {
		case e.Err == nil && !e.Record.IsUsed():
			s.Key = e.Record.Key
			s.PlanName = e.Record.PlanName
			s.State = AwaitingToken
			return s, []Effect{prompt(s, "")}
		case e.Err == nil, errors.Is(e.Err, license.ErrAlreadyUsed), errors.Is(e.Err, license.ErrInvalidRecord):
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeAlreadyUsed, nil)}
		case errors.Is(e.Err, license.ErrNotFound):
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeNotFound, nil)}
		default:
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, notifications.OutcomeFailed, nil)}
		}
	}
	return s, nil
}

// collect validates text for the field of the current state. Invalid input
// re-prompts without touching the session.
func collect(s Session, text string) (Session, []Effect) {
	value := strings.TrimSpace(text)
	if err := ValidateField(s.State, value); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		return s, []Effect{prompt(s, verr.Step)}
	}

	switch s.State {
	case AwaitingToken:
		s.Config.BotToken = value
		s.State = AwaitingAdminID
	case AwaitingAdminID:
		s.Config.AdminID = value
		s.State = AwaitingSupportID
	case AwaitingSupportID:
		s.Config.SupportID = value
		s.State = AwaitingChannelID
	case AwaitingChannelID:
		s.Config.ChannelID = value
		s.State = AwaitingConfirmation
	}
	return s, []Effect{prompt(s, "")}
}

func onAwaitingConfirmation(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case Confirm:
		return s, []Effect{Redeem{Key: s.Key, Config: s.Config}}
	case RedeemResolved:
		if e.Err != nil {
			return terminate(s.RequesterID), []Effect{result(s.RequesterID, failureOutcome(e.Err), nil)}
		}
		summary := summarize(s)
		expires := e.Record.Redemption.ExpiresAt()
		summary.ExpiresAt = &expires
		return terminate(s.RequesterID), []Effect{
			Handoff{Record: e.Record},
			result(s.RequesterID, notifications.OutcomeSuccess, &summary),
		}
	}
	return s, nil
}

func failureOutcome(err error) notifications.Outcome {
	switch {
	case errors.Is(err, license.ErrAlreadyUsed):
		return notifications.OutcomeAlreadyUsed
	case errors.Is(err, license.ErrNotFound):
		return notifications.OutcomeNotFound
	default:
		return notifications.OutcomeFailed
	}
}

func summarize(s Session) notifications.Summary {
	return notifications.Summary{
		PlanName:    s.PlanName,
		KeyPrefix:   models.Head(s.Key, 8),
		TokenSuffix: models.Tail(s.Config.BotToken, 8),
		AdminID:     s.Config.AdminID,
		SupportID:   s.Config.SupportID,
		ChannelID:   s.Config.ChannelID,
	}
}
