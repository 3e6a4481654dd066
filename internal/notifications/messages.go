// Package notifications delivers the outbound events of the activation flow:
// prompts, redemption results, operator handoffs and expiry reminders.
package notifications

import (
	"context"
	"errors"
	"time"
)

// ErrDelivery wraps any failure to hand an event to a sink.
var ErrDelivery = errors.New("notification delivery failed")

// Outcome is the result reported to a requester at the end of a dialogue.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeAlreadyUsed       Outcome = "already_used"
	OutcomeFailed            Outcome = "failed"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeNoActiveOperation Outcome = "no_active_operation"
)

// Event types used on the wire.
const (
	EventPrompt           = "prompt"
	EventRedemptionResult = "redemption_result"
	EventOperatorHandoff  = "operator_handoff"
	EventExpiryReminder   = "expiry_reminder"
)

// PromptMessage asks a requester for the next piece of input.
type PromptMessage struct {
	RequesterID int64  `json:"requester_id"`
	Step        string `json:"step"`
	Text        string `json:"text"`
	// Invalid is set when the prompt repeats a step after rejected input.
	Invalid string `json:"invalid,omitempty"`
	// Actions lists the buttons the transport should offer, if any.
	Actions []string `json:"actions,omitempty"`
}

// Summary is the set of fields shown to a requester before and after redemption.
type Summary struct {
	PlanName    string     `json:"plan_name"`
	KeyPrefix   string     `json:"key_prefix"`
	TokenSuffix string     `json:"token_suffix"`
	AdminID     string     `json:"admin_id"`
	SupportID   string     `json:"support_id"`
	ChannelID   string     `json:"channel_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ResultMessage reports how a dialogue ended.
type ResultMessage struct {
	RequesterID int64    `json:"requester_id"`
	Outcome     Outcome  `json:"outcome"`
	Text        string   `json:"text"`
	Summary     *Summary `json:"summary,omitempty"`
}

// HandoffBundle carries everything an operator needs to deploy a redeemed license.
type HandoffBundle struct {
	ID           string    `json:"id"`
	RequesterID  int64     `json:"requester_id"`
	Username     string    `json:"username,omitempty"`
	LicenseKey   string    `json:"license_key"`
	PlanName     string    `json:"plan_name"`
	BotToken     string    `json:"bot_token"`
	AdminID      string    `json:"admin_id"`
	SupportID    string    `json:"support_id"`
	ChannelID    string    `json:"channel_id"`
	ActivatedAt  time.Time `json:"activated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresEpoch int64     `json:"expires_epoch"`
	Artifact     string    `json:"artifact"`
}

// ReminderMessage warns a holder that a license is about to expire.
type ReminderMessage struct {
	RequesterID   int64  `json:"requester_id"`
	LicenseKey    string `json:"license_key"`
	PlanName      string `json:"plan_name"`
	DaysRemaining int    `json:"days_remaining"`
	Text          string `json:"text"`
}

// Outbound is implemented by every notification sink.
type Outbound interface {
	Prompt(ctx context.Context, msg PromptMessage) error
	RedemptionResult(ctx context.Context, msg ResultMessage) error
	OperatorHandoff(ctx context.Context, bundle HandoffBundle) error
	ExpiryReminder(ctx context.Context, msg ReminderMessage) error
}
