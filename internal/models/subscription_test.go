package models

import (
	"testing"
	"time"
)

func TestStatusForDays(t *testing.T) {
	tests := []struct {
		days int
		want SubscriptionStatus
	}{
		{365, SubscriptionActive},
		{31, SubscriptionActive},
		{30, SubscriptionExpiringSoon},
		{8, SubscriptionExpiringSoon},
		{7, SubscriptionExpiringVerySoon},
		{1, SubscriptionExpiringVerySoon},
		{0, SubscriptionExpired},
	}

	for _, tt := range tests {
		if got := StatusForDays(tt.days); got != tt.want {
			t.Errorf("StatusForDays(%d) = %s, want %s", tt.days, got, tt.want)
		}
	}
}

func TestNewSubscription(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, ok := NewSubscription(LicenseRecord{Key: "PLAN-1"}, now); ok {
		t.Fatal("unredeemed record must not produce a subscription")
	}

	r, err := NewRedemption(42, "alice", testConfig, 10, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("NewRedemption() error = %v", err)
	}
	rec := LicenseRecord{Key: "MONTHLY-ABCDEF123456", PlanName: "Monthly", DurationDays: 10, Redemption: r}

	sub, ok := NewSubscription(rec, now)
	if !ok {
		t.Fatal("expected subscription")
	}
	if sub.KeyPrefix != "MONTHLY-" {
		t.Errorf("KeyPrefix = %q, want MONTHLY-", sub.KeyPrefix)
	}
	if sub.TokenSuffix != "12345678" {
		t.Errorf("TokenSuffix = %q, want 12345678", sub.TokenSuffix)
	}
	if sub.DaysLeft != 9 {
		t.Errorf("DaysLeft = %d, want 9", sub.DaysLeft)
	}
	if sub.Status != SubscriptionExpiringSoon {
		t.Errorf("Status = %s, want %s", sub.Status, SubscriptionExpiringSoon)
	}
	if !sub.CanRenew {
		t.Error("expected renewal to be offered")
	}
}

func TestHeadTail(t *testing.T) {
	if got := Head("abc", 8); got != "abc" {
		t.Errorf("Head() = %q", got)
	}
	if got := Tail("abcdefghij", 3); got != "hij" {
		t.Errorf("Tail() = %q", got)
	}
}
