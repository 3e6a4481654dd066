package session

import (
	"fmt"

	"github.com/MacJediWizard/activator/internal/models"
)

// ValidationError describes a rejected answer. It is recovered locally by
// re-prompting in the same state.
type ValidationError struct {
	Field  string
	Step   string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// ValidateField checks value against the rule for the field collected in state.
// States that collect no field accept anything.
func ValidateField(state State, value string) error {
	var (
		field string
		step  string
		err   error
	)
	switch state {
	case AwaitingToken:
		field, step, err = "bot_token", StepInvalidToken, models.ValidateBotToken(value)
	case AwaitingAdminID:
		field, step, err = "admin_id", StepInvalidID, models.ValidateNumericID(value)
	case AwaitingSupportID:
		field, step, err = "support_id", StepInvalidID, models.ValidateNumericID(value)
	case AwaitingChannelID:
		field, step, err = "channel_id", StepInvalidChannel, models.ValidateChannel(value)
	default:
		return nil
	}
	if err != nil {
		return &ValidationError{Field: field, Step: step, Reason: err}
	}
	return nil
}
