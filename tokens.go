package prodeauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Default token expiry durations
const (
	TokenExpiryEmailVerification = 24 * time.Hour // 24 hours
	TokenExpiryPasswordReset     = 1 * time.Hour  // 1 hour
)

// ErrTokenInvalid is the single failure for redemption: unknown, expired
// and already-redeemed tokens are indistinguishable.
var ErrTokenInvalid = errors.New("invalid or expired token")

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenLifecycle issues and redeems the single-use, time-bounded tokens
// used for email verification and password reset. The two kinds are the
// same pattern with different TTLs and redemption effects; an account holds
// at most one active token of each kind.
type TokenLifecycle struct {
	Store AccountStore

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func NewTokenLifecycle(store AccountStore) *TokenLifecycle {
	return &TokenLifecycle{Store: store}
}

func (t *TokenLifecycle) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// IssueVerificationToken installs a fresh email-verification token on the
// account, overwriting any prior one.
func (t *TokenLifecycle) IssueVerificationToken(ctx context.Context, accountID string) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	expires := t.now().Add(TokenExpiryEmailVerification)
	_, err = t.Store.UpdateAccount(ctx, accountID, func(a *Account) error {
		a.VerificationToken = token
		a.VerificationExpiresAt = &expires
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RedeemVerificationToken consumes a verification token: both token fields
// are cleared and the email marked verified in one atomic update. The token
// match is re-checked inside the update, so of two concurrent redemptions
// exactly one succeeds and the other observes ErrTokenInvalid.
func (t *TokenLifecycle) RedeemVerificationToken(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	now := t.now()
	acct, err := t.Store.GetAccountByVerificationToken(ctx, token, now)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	updated, err := t.Store.UpdateAccount(ctx, acct.ID, func(a *Account) error {
		if a.VerificationToken != token || a.VerificationExpiresAt == nil || !now.Before(*a.VerificationExpiresAt) {
			return ErrTokenInvalid
		}
		a.VerificationToken = ""
		a.VerificationExpiresAt = nil
		a.EmailVerified = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// IssueResetToken installs a fresh password-reset token on the account,
// overwriting any prior one.
func (t *TokenLifecycle) IssueResetToken(ctx context.Context, accountID string) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	expires := t.now().Add(TokenExpiryPasswordReset)
	_, err = t.Store.UpdateAccount(ctx, accountID, func(a *Account) error {
		a.ResetToken = token
		a.ResetExpiresAt = &expires
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RedeemResetToken consumes a reset token and installs the caller-supplied
// new password hash in the same atomic update as the clear.
func (t *TokenLifecycle) RedeemResetToken(ctx context.Context, token, newSecretHash string) (*Account, error) {
	if token == "" || newSecretHash == "" {
		return nil, ErrTokenInvalid
	}
	now := t.now()
	acct, err := t.Store.GetAccountByResetToken(ctx, token, now)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	updated, err := t.Store.UpdateAccount(ctx, acct.ID, func(a *Account) error {
		if a.ResetToken != token || a.ResetExpiresAt == nil || !now.Before(*a.ResetExpiresAt) {
			return ErrTokenInvalid
		}
		a.ResetToken = ""
		a.ResetExpiresAt = nil
		a.PasswordHash = newSecretHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
