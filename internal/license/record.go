package license

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
)

// fileRecord is the on-disk shape of a license. Field names are shared with
// the licenses.json files written by earlier versions of the bot.
type fileRecord struct {
	PlanName          string `json:"plan_name"`
	DurationDays      int    `json:"duration_days"`
	IsUsed            bool   `json:"is_used"`
	ActivatedBy       int64  `json:"activated_by_user_id,omitempty"`
	ActivatedUsername string `json:"activated_by_username,omitempty"`
	ActivationDate    string `json:"activation_date,omitempty"`
	ExpirationDate    string `json:"expiration_date,omitempty"`
	BotToken          string `json:"bot_token,omitempty"`
	AdminID           string `json:"admin_id,omitempty"`
	SupportID         string `json:"support_id,omitempty"`
	ChannelID         string `json:"channel_id,omitempty"`
}

// document is the full keyed mapping held in the license file.
type document map[string]fileRecord

// clone returns a shallow copy that can be modified without touching the cache.
func (d document) clone() document {
	out := make(document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

func encodeRecord(rec models.LicenseRecord) fileRecord {
	fr := fileRecord{
		PlanName:     rec.PlanName,
		DurationDays: rec.DurationDays,
	}
	if r := rec.Redemption; r != nil {
		cfg := r.Config()
		fr.IsUsed = true
		fr.ActivatedBy = r.ActivatedBy()
		fr.ActivatedUsername = r.ActivatedUsername()
		fr.ActivationDate = r.ActivatedAt().Format(time.RFC3339Nano)
		fr.ExpirationDate = r.ExpiresAt().Format(time.RFC3339Nano)
		fr.BotToken = cfg.BotToken
		fr.AdminID = cfg.AdminID
		fr.SupportID = cfg.SupportID
		fr.ChannelID = cfg.ChannelID
	}
	return fr
}

// decodeRecord converts a stored record into the domain type. Records that
// claim to be used but lack any redemption field are rejected.
func decodeRecord(key string, fr fileRecord) (models.LicenseRecord, error) {
	rec, err := models.NewLicenseRecord(key, fr.PlanName, fr.DurationDays)
	if err != nil {
		return models.LicenseRecord{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, key, err)
	}
	if !fr.IsUsed {
		return rec, nil
	}

	activatedAt, err := time.Parse(time.RFC3339Nano, fr.ActivationDate)
	if err != nil {
		return models.LicenseRecord{}, fmt.Errorf("%w: %s: activation_date: %v", ErrInvalidRecord, key, err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fr.ExpirationDate)
	if err != nil {
		return models.LicenseRecord{}, fmt.Errorf("%w: %s: expiration_date: %v", ErrInvalidRecord, key, err)
	}
	cfg := models.BoundConfig{
		BotToken:  fr.BotToken,
		AdminID:   fr.AdminID,
		SupportID: fr.SupportID,
		ChannelID: fr.ChannelID,
	}
	redemption, err := models.RestoreRedemption(fr.ActivatedBy, fr.ActivatedUsername, cfg, activatedAt, expiresAt)
	if err != nil {
		return models.LicenseRecord{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, key, err)
	}
	return rec.Redeem(redemption)
}
