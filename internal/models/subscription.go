package models

import "time"

// SubscriptionStatus classifies a redeemed license by the time it has left.
type SubscriptionStatus string

const (
	// SubscriptionActive has more than 30 days left.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionExpiringSoon has 8 to 30 days left.
	SubscriptionExpiringSoon SubscriptionStatus = "expiring_soon"
	// SubscriptionExpiringVerySoon has 1 to 7 days left.
	SubscriptionExpiringVerySoon SubscriptionStatus = "expiring_very_soon"
	// SubscriptionExpired has run out.
	SubscriptionExpired SubscriptionStatus = "expired"
)

// RenewalThresholdDays is the point from which renewal is offered.
const RenewalThresholdDays = 30

// Subscription is the dashboard view of a redeemed license.
type Subscription struct {
	PlanName    string             `json:"plan_name"`
	KeyPrefix   string             `json:"key_prefix"`
	TokenSuffix string             `json:"token_suffix"`
	Status      SubscriptionStatus `json:"status"`
	DaysLeft    int                `json:"days_left"`
	ActivatedAt time.Time          `json:"activated_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	CanRenew    bool               `json:"can_renew"`
}

// StatusForDays maps days left to a subscription status.
func StatusForDays(days int) SubscriptionStatus {
	switch {
	case days > RenewalThresholdDays:
		return SubscriptionActive
	case days > 7:
		return SubscriptionExpiringSoon
	case days > 0:
		return SubscriptionExpiringVerySoon
	default:
		return SubscriptionExpired
	}
}

// NewSubscription builds the dashboard view of a redeemed record. The second
// return value is false for records that were never redeemed.
func NewSubscription(rec LicenseRecord, now time.Time) (Subscription, bool) {
	if !rec.IsUsed() {
		return Subscription{}, false
	}
	days := rec.DaysRemaining(now)
	return Subscription{
		PlanName:    rec.PlanName,
		KeyPrefix:   Head(rec.Key, 8),
		TokenSuffix: Tail(rec.Redemption.Config().BotToken, 8),
		Status:      StatusForDays(days),
		DaysLeft:    days,
		ActivatedAt: rec.Redemption.ActivatedAt(),
		ExpiresAt:   rec.Redemption.ExpiresAt(),
		CanRenew:    days <= RenewalThresholdDays,
	}, true
}

// Head returns at most the first n bytes of s.
func Head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Tail returns at most the last n bytes of s.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
