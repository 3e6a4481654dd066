package session

import (
	"fmt"
	"strings"

	"github.com/MacJediWizard/activator/internal/notifications"
)

// Prompt steps.
const (
	StepAskKey         = "ask_key"
	StepAskToken       = "ask_token"
	StepAskAdminID     = "ask_admin_id"
	StepAskSupportID   = "ask_support_id"
	StepAskChannelID   = "ask_channel_id"
	StepConfirm        = "confirm"
	StepInvalidToken   = "invalid_token"
	StepInvalidID      = "invalid_id"
	StepInvalidChannel = "invalid_channel"
)

// Actions offered with the confirmation summary.
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

var stepForState = map[State]string{
	AwaitingKey:          StepAskKey,
	AwaitingToken:        StepAskToken,
	AwaitingAdminID:      StepAskAdminID,
	AwaitingSupportID:    StepAskSupportID,
	AwaitingChannelID:    StepAskChannelID,
	AwaitingConfirmation: StepConfirm,
}

var messages = map[string]string{
	StepAskKey:         "STEP 1: LICENSE VALIDATION\n\nPlease provide your activation key:",
	StepAskToken:       "STEP 2: BOT CONFIGURATION\n\nPlease provide the API Token for your bot:",
	StepAskAdminID:     "STEP 3: ADMIN SETUP\n\nProvide the numeric User ID for the primary administrator:",
	StepAskSupportID:   "STEP 4: SUPPORT SETUP\n\nProvide the numeric User ID for the support contact:",
	StepAskChannelID:   "STEP 5: CHANNEL SETUP\n\nProvide the Notification Channel (@username or -100... ID):",
	StepInvalidToken:   "Invalid Bot Token\n\nPlease provide a valid Telegram bot token.",
	StepInvalidID:      "Invalid User ID\n\nPlease provide a valid numeric user ID.",
	StepInvalidChannel: "Invalid Channel\n\nPlease provide a valid channel username or ID.",
}

var outcomeMessages = map[notifications.Outcome]string{
	notifications.OutcomeSuccess:           "Deployment Successful!\n\nYour bot configuration has been deployed.\nCheck your dashboard for subscription details.",
	notifications.OutcomeNotFound:          "Invalid License Key\n\nPlease check your key and try again.",
	notifications.OutcomeAlreadyUsed:       "Key Already Used\n\nThis license has already been activated.",
	notifications.OutcomeFailed:            "Activation Failed\n\nYour license was not consumed. Please try again or contact support.",
	notifications.OutcomeCancelled:         "Activation process cancelled.",
	notifications.OutcomeNoActiveOperation: "No active operation to cancel.",
}

// prompt builds the prompt for the session's current state. When invalidStep
// is set the step's question is preceded by the validation message.
func prompt(s Session, invalidStep string) Effect {
	step := stepForState[s.State]
	msg := notifications.PromptMessage{
		RequesterID: s.RequesterID,
		Step:        step,
		Invalid:     invalidStep,
	}

	switch {
	case step == StepConfirm:
		msg.Text = renderSummary(summarize(s))
		msg.Actions = []string{ActionConfirm, ActionCancel}
	case invalidStep != "":
		msg.Text = messages[invalidStep]
	default:
		msg.Text = messages[step]
	}
	return Prompt{Message: msg}
}

func result(requesterID int64, outcome notifications.Outcome, summary *notifications.Summary) Effect {
	return Result{Message: notifications.ResultMessage{
		RequesterID: requesterID,
		Outcome:     outcome,
		Text:        outcomeMessages[outcome],
		Summary:     summary,
	}}
}

func renderSummary(sum notifications.Summary) string {
	var sb strings.Builder
	sb.WriteString("FINAL CONFIRMATION\n\nReview your deployment configuration:\n\n")
	fmt.Fprintf(&sb, "Plan: %s\n", sum.PlanName)
	fmt.Fprintf(&sb, "License: %s...\n", sum.KeyPrefix)
	fmt.Fprintf(&sb, "Bot Token: ...%s\n", sum.TokenSuffix)
	fmt.Fprintf(&sb, "Admin ID: %s\n", sum.AdminID)
	fmt.Fprintf(&sb, "Support ID: %s\n", sum.SupportID)
	fmt.Fprintf(&sb, "Channel: %s\n", sum.ChannelID)
	sb.WriteString("\nThis action is final. License will be consumed.")
	return sb.String()
}
