//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	auth "github.com/gvinokur/qatar-prode-sub000"
)

// AccountEntity is the Datastore entity for accounts. Provider links are
// stored JSON encoded; the OAuthIndex and EmailIndex entities carry the
// uniqueness guarantees.
type AccountEntity struct {
	Key              *datastore.Key `datastore:"__key__"`
	Email            string         `datastore:"email"`
	DisplayName      string         `datastore:"display_name,noindex"`
	NicknameRequired bool           `datastore:"nickname_required,noindex"`
	PasswordHash     string         `datastore:"password_hash,noindex"`
	EmailVerified    bool           `datastore:"email_verified"`
	OTPUsed          bool           `datastore:"otp_used"`
	OAuthLinks       []byte         `datastore:"oauth_links,noindex"` // JSON encoded

	VerificationToken     string    `datastore:"verification_token"`
	VerificationExpiresAt time.Time `datastore:"verification_expires_at,omitempty"`
	ResetToken            string    `datastore:"reset_token"`
	ResetExpiresAt        time.Time `datastore:"reset_expires_at,omitempty"`

	OTPCode          string    `datastore:"otp_code,noindex"`
	OTPExpiresAt     time.Time `datastore:"otp_expires_at,omitempty"`
	OTPAttempts      int       `datastore:"otp_attempts,noindex"`
	OTPLastRequestAt time.Time `datastore:"otp_last_request_at,omitempty"`

	CreatedAt time.Time `datastore:"created_at"`
	UpdatedAt time.Time `datastore:"updated_at"`
}

// EmailIndex maps a normalized email to an account ID.
// Key is the email itself, so a transactional insert enforces uniqueness.
type EmailIndex struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

// OAuthIndex maps a (provider, subject) pair to an account ID.
// Key format: provider + ":" + subject.
type OAuthIndex struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	out := t
	return &out
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (e *AccountEntity) ToAccount() *auth.Account {
	var links []auth.OAuthLink
	if e.OAuthLinks != nil {
		json.Unmarshal(e.OAuthLinks, &links)
	}
	return &auth.Account{
		ID:                    e.Key.Name,
		Email:                 e.Email,
		DisplayName:           e.DisplayName,
		NicknameRequired:      e.NicknameRequired,
		PasswordHash:          e.PasswordHash,
		EmailVerified:         e.EmailVerified,
		OTPUsed:               e.OTPUsed,
		OAuthLinks:            links,
		VerificationToken:     e.VerificationToken,
		VerificationExpiresAt: timePtr(e.VerificationExpiresAt),
		ResetToken:            e.ResetToken,
		ResetExpiresAt:        timePtr(e.ResetExpiresAt),
		OTPCode:               e.OTPCode,
		OTPExpiresAt:          timePtr(e.OTPExpiresAt),
		OTPAttempts:           e.OTPAttempts,
		OTPLastRequestAt:      timePtr(e.OTPLastRequestAt),
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

func AccountToEntity(a *auth.Account, key *datastore.Key) *AccountEntity {
	var linkBytes []byte
	if len(a.OAuthLinks) > 0 {
		linkBytes, _ = json.Marshal(a.OAuthLinks)
	}
	return &AccountEntity{
		Key:                   key,
		Email:                 a.Email,
		DisplayName:           a.DisplayName,
		NicknameRequired:      a.NicknameRequired,
		PasswordHash:          a.PasswordHash,
		EmailVerified:         a.EmailVerified,
		OTPUsed:               a.OTPUsed,
		OAuthLinks:            linkBytes,
		VerificationToken:     a.VerificationToken,
		VerificationExpiresAt: timeVal(a.VerificationExpiresAt),
		ResetToken:            a.ResetToken,
		ResetExpiresAt:        timeVal(a.ResetExpiresAt),
		OTPCode:               a.OTPCode,
		OTPExpiresAt:          timeVal(a.OTPExpiresAt),
		OTPAttempts:           a.OTPAttempts,
		OTPLastRequestAt:      timeVal(a.OTPLastRequestAt),
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}
