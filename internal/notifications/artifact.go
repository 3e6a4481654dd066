package notifications

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/google/uuid"
)

// ArtifactFilename is the name operators expect for the generated config.
const ArtifactFilename = "config.py"

const artifactTimeLayout = "2006-01-02 15:04:05"

// NewHandoffBundle builds the operator handoff for a redeemed record.
func NewHandoffBundle(rec models.LicenseRecord) (HandoffBundle, error) {
	if !rec.IsUsed() {
		return HandoffBundle{}, errors.New("handoff requires a redeemed license")
	}

	r := rec.Redemption
	cfg := r.Config()
	bundle := HandoffBundle{
		ID:           uuid.New().String(),
		RequesterID:  r.ActivatedBy(),
		Username:     r.ActivatedUsername(),
		LicenseKey:   rec.Key,
		PlanName:     rec.PlanName,
		BotToken:     cfg.BotToken,
		AdminID:      cfg.AdminID,
		SupportID:    cfg.SupportID,
		ChannelID:    cfg.ChannelID,
		ActivatedAt:  r.ActivatedAt(),
		ExpiresAt:    r.ExpiresAt(),
		ExpiresEpoch: r.ExpiresAt().Unix(),
	}
	bundle.Artifact = RenderConfigArtifact(bundle)
	return bundle, nil
}

// RenderConfigArtifact renders the config.py file handed to operators.
// Numeric ids are emitted bare; everything else is a quoted string literal.
func RenderConfigArtifact(b HandoffBundle) string {
	var sb strings.Builder
	sb.WriteString("# This file was auto-generated by the Activator Bot.\n")
	fmt.Fprintf(&sb, "# Activated on: %s UTC\n\n", b.ActivatedAt.UTC().Format(artifactTimeLayout))

	fmt.Fprintf(&sb, "BOT_TOKEN = %s\n", strconv.Quote(b.BotToken))
	fmt.Fprintf(&sb, "INITIAL_ADMIN_ID = %s\n", b.AdminID)
	fmt.Fprintf(&sb, "ADMIN_CHANNEL = %s\n", strconv.Quote(b.ChannelID))
	fmt.Fprintf(&sb, "SUPPORT_ID = %s\n\n", b.SupportID)

	sb.WriteString("# --- License Information ---\n")
	fmt.Fprintf(&sb, "LICENSE_KEY = %s\n", strconv.Quote(b.LicenseKey))
	fmt.Fprintf(&sb, "PLAN_NAME = %s\n", strconv.Quote(b.PlanName))
	fmt.Fprintf(&sb, "EXPIRATION_TIMESTAMP = %d # Expires on: %s UTC\n",
		b.ExpiresEpoch, b.ExpiresAt.UTC().Format(artifactTimeLayout))
	return sb.String()
}

// OperatorNotice renders the plain-text deployment notice for operators.
func OperatorNotice(b HandoffBundle) string {
	user := strconv.FormatInt(b.RequesterID, 10)
	if b.Username != "" {
		user = fmt.Sprintf("@%s (%d)", b.Username, b.RequesterID)
	}

	var sb strings.Builder
	sb.WriteString("New bot deployment\n\n")
	fmt.Fprintf(&sb, "User: %s\n", user)
	fmt.Fprintf(&sb, "Plan: %s\n", b.PlanName)
	fmt.Fprintf(&sb, "License: %s\n", b.LicenseKey)
	fmt.Fprintf(&sb, "Admin: %s\n", b.AdminID)
	fmt.Fprintf(&sb, "Support: %s\n", b.SupportID)
	fmt.Fprintf(&sb, "Channel: %s\n", b.ChannelID)
	fmt.Fprintf(&sb, "Time: %s UTC", b.ActivatedAt.UTC().Format(artifactTimeLayout))
	return sb.String()
}
