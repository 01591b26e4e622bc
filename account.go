package prodeauth

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider names for the authentication modalities an account can carry.
const (
	ProviderCredentials = "credentials"
	ProviderOTP         = "otp"
)

// OAuthProviderName returns the linked-provider label for an OAuth provider,
// e.g. "oauth:google".
func OAuthProviderName(provider string) string {
	return "oauth:" + provider
}

// OAuthLink records one external OAuth identity attached to an account.
// The (Provider, Subject) pair is unique across the whole store.
type OAuthLink struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	Email    string    `json:"email"`
	LinkedAt time.Time `json:"linked_at"`
}

// Account is the canonical identity record unifying every linked
// authentication provider for one person.
//
// Nullable pairs (token+expiry, code+expiry) are either both unset or both
// set; redemption and clearing always reset both together.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`

	DisplayName      string `json:"display_name,omitempty"`
	NicknameRequired bool   `json:"nickname_required"`

	// PasswordHash is the sole source of truth for "has password auth".
	PasswordHash string `json:"password_hash,omitempty"`

	OAuthLinks []OAuthLink `json:"oauth_links,omitempty"`

	EmailVerified bool `json:"email_verified"`

	// OTPUsed is set the first time an OTP verification succeeds and is the
	// authoritative source for the derived "otp" provider.
	OTPUsed bool `json:"otp_used"`

	VerificationToken     string     `json:"verification_token,omitempty"`
	VerificationExpiresAt *time.Time `json:"verification_token_expires_at,omitempty"`

	ResetToken     string     `json:"reset_token,omitempty"`
	ResetExpiresAt *time.Time `json:"reset_token_expires_at,omitempty"`

	OTPCode          string     `json:"otp_code,omitempty"`
	OTPExpiresAt     *time.Time `json:"otp_expires_at,omitempty"`
	OTPAttempts      int        `json:"otp_attempts"`
	OTPLastRequestAt *time.Time `json:"otp_last_request_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Providers returns the set of linked providers as a derived projection.
// It is recomputed on every read from the authoritative fields so it cannot
// drift: PasswordHash for "credentials", OAuthLinks for "oauth:<name>",
// OTPUsed for "otp".
func (a *Account) Providers() []string {
	var out []string
	if a.PasswordHash != "" {
		out = append(out, ProviderCredentials)
	}
	seen := map[string]bool{}
	for _, link := range a.OAuthLinks {
		if !seen[link.Provider] {
			seen[link.Provider] = true
			out = append(out, OAuthProviderName(link.Provider))
		}
	}
	if a.OTPUsed {
		out = append(out, ProviderOTP)
	}
	return out
}

// HasOAuthLink reports whether the account already carries the exact
// (provider, subject) pair.
func (a *Account) HasOAuthLink(provider, subject string) bool {
	for _, link := range a.OAuthLinks {
		if link.Provider == provider && link.Subject == subject {
			return true
		}
	}
	return false
}

// NewAccountID generates an opaque unique account identifier.
func NewAccountID() string {
	return uuid.NewString()
}

// NormalizeEmail lowercases and trims an address. Every lookup and write
// goes through this so case variants land on the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail rejects addresses that would never resolve to an account.
// Validation happens before any storage round trip.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func (a *Account) String() string {
	return fmt.Sprintf("Account(%s %s providers=%v)", a.ID, a.Email, a.Providers())
}
