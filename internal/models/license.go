package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinTokenLength is the shortest bot token accepted during configuration.
const MinTokenLength = 40

// TokenSeparator must appear in every bot token (id:secret).
const TokenSeparator = ":"

// BoundConfig is the configuration collected from a requester and bound to a
// license at redemption time.
type BoundConfig struct {
	BotToken  string `json:"bot_token"`
	AdminID   string `json:"admin_id"`
	SupportID string `json:"support_id"`
	ChannelID string `json:"channel_id"`
}

// Validate checks every field with the same rules the dialogue applies.
func (c BoundConfig) Validate() error {
	if err := ValidateBotToken(c.BotToken); err != nil {
		return err
	}
	if err := ValidateNumericID(c.AdminID); err != nil {
		return fmt.Errorf("admin id: %w", err)
	}
	if err := ValidateNumericID(c.SupportID); err != nil {
		return fmt.Errorf("support id: %w", err)
	}
	return ValidateChannel(c.ChannelID)
}

// ValidateBotToken checks that a token is long enough and contains the separator.
func ValidateBotToken(token string) error {
	if len(token) < MinTokenLength {
		return fmt.Errorf("bot token must be at least %d characters", MinTokenLength)
	}
	if !strings.Contains(token, TokenSeparator) {
		return errors.New("bot token must contain ':'")
	}
	return nil
}

// ValidateNumericID checks that id is a non-empty string of ASCII digits.
func ValidateNumericID(id string) error {
	if !isDigits(id) {
		return errors.New("must be a numeric id")
	}
	return nil
}

// ValidateChannel accepts "@username" or a negative numeric chat id.
func ValidateChannel(channel string) error {
	switch {
	case strings.HasPrefix(channel, "@") && len(channel) > 1:
		return nil
	case strings.HasPrefix(channel, "-") && isDigits(channel[1:]):
		return nil
	default:
		return errors.New("channel must be @username or a negative numeric id")
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeKey trims and upper-cases a license key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Redemption holds the fields set when a license is consumed. It can only be
// built through NewRedemption or RestoreRedemption, so a non-nil Redemption is
// always complete.
type Redemption struct {
	activatedBy       int64
	activatedUsername string
	activatedAt       time.Time
	expiresAt         time.Time
	config            BoundConfig
}

// NewRedemption builds a complete redemption for a license of durationDays.
func NewRedemption(activatedBy int64, username string, cfg BoundConfig, durationDays int, at time.Time) (*Redemption, error) {
	if activatedBy == 0 {
		return nil, errors.New("missing requester")
	}
	if durationDays < 1 {
		return nil, fmt.Errorf("invalid duration: %d days", durationDays)
	}
	if at.IsZero() {
		return nil, errors.New("missing activation time")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bound config: %w", err)
	}

	at = at.UTC()
	return &Redemption{
		activatedBy:       activatedBy,
		activatedUsername: username,
		activatedAt:       at,
		expiresAt:         at.Add(time.Duration(durationDays) * 24 * time.Hour),
		config:            cfg,
	}, nil
}

// RestoreRedemption rebuilds a redemption read back from storage. Unlike
// NewRedemption it keeps the stored expiration instead of recomputing it.
func RestoreRedemption(activatedBy int64, username string, cfg BoundConfig, activatedAt, expiresAt time.Time) (*Redemption, error) {
	if activatedBy == 0 {
		return nil, errors.New("missing requester")
	}
	if activatedAt.IsZero() || expiresAt.IsZero() {
		return nil, errors.New("missing activation or expiration time")
	}
	if !expiresAt.After(activatedAt) {
		return nil, errors.New("expiration must be after activation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bound config: %w", err)
	}
	return &Redemption{
		activatedBy:       activatedBy,
		activatedUsername: username,
		activatedAt:       activatedAt.UTC(),
		expiresAt:         expiresAt.UTC(),
		config:            cfg,
	}, nil
}

// ActivatedBy returns the requester that redeemed the license.
func (r *Redemption) ActivatedBy() int64 { return r.activatedBy }

// ActivatedUsername returns the requester's display name, if one was given.
func (r *Redemption) ActivatedUsername() string { return r.activatedUsername }

// ActivatedAt returns the redemption time in UTC.
func (r *Redemption) ActivatedAt() time.Time { return r.activatedAt }

// ExpiresAt returns the expiration time in UTC.
func (r *Redemption) ExpiresAt() time.Time { return r.expiresAt }

// Config returns the configuration bound at redemption.
func (r *Redemption) Config() BoundConfig { return r.config }

// LicenseRecord is one issued license key.
type LicenseRecord struct {
	Key          string
	PlanName     string
	DurationDays int
	// Redemption is nil until the key is redeemed.
	Redemption *Redemption
}

// NewLicenseRecord creates an unredeemed record for a freshly issued key.
func NewLicenseRecord(key, planName string, durationDays int) (LicenseRecord, error) {
	key = NormalizeKey(key)
	if key == "" {
		return LicenseRecord{}, errors.New("missing license key")
	}
	if strings.TrimSpace(planName) == "" {
		return LicenseRecord{}, errors.New("missing plan name")
	}
	if durationDays < 1 {
		return LicenseRecord{}, fmt.Errorf("invalid duration: %d days", durationDays)
	}
	return LicenseRecord{
		Key:          key,
		PlanName:     planName,
		DurationDays: durationDays,
	}, nil
}

// IsUsed reports whether the license has been redeemed.
func (l LicenseRecord) IsUsed() bool {
	return l.Redemption != nil
}

// Redeem returns a copy of the record bound to the given redemption.
func (l LicenseRecord) Redeem(r *Redemption) (LicenseRecord, error) {
	if l.IsUsed() {
		return l, errors.New("license already redeemed")
	}
	if r == nil {
		return l, errors.New("nil redemption")
	}
	l.Redemption = r
	return l, nil
}

// DaysRemaining returns whole days (rounded up) until expiry, or 0 when the
// license is unredeemed or already expired.
func (l LicenseRecord) DaysRemaining(now time.Time) int {
	if !l.IsUsed() {
		return 0
	}
	left := l.Redemption.ExpiresAt().Sub(now)
	if left <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((left + day - 1) / day)
}
