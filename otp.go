package prodeauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OTP code parameters.
const (
	// OTPCodeLength is the number of digits in a generated code.
	OTPCodeLength = 6

	// OTPCodeTTL is how long a code stays redeemable after generation.
	OTPCodeTTL = 3 * time.Minute

	// OTPRequestInterval is the minimum gap between two code requests for
	// the same email.
	OTPRequestInterval = time.Minute

	// OTPMaxAttempts is the number of wrong guesses allowed per code.
	OTPMaxAttempts = 3
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidOTPFormat   = errors.New("otp code must be 6 digits")
	ErrNoActiveCode       = errors.New("no active otp code")
	ErrOTPExpired         = errors.New("otp code expired")
	ErrOTPMismatch        = errors.New("invalid otp code")
	ErrTooManyOTPAttempts = errors.New("too many invalid otp attempts")
)

// RateLimitedError is returned by RequestCode when the previous request is
// still inside OTPRequestInterval. RetryAfter is the remaining wait, for
// rendering a countdown.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("otp requested too recently, retry in %s", e.RetryAfter.Round(time.Second))
}

// OTPEngine generates, rate-limits, verifies and clears one-time codes
// against an account. All state lives on the account row; every transition
// happens inside a single atomic store update.
type OTPEngine struct {
	Store AccountStore

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func NewOTPEngine(store AccountStore) *OTPEngine {
	return &OTPEngine{Store: store}
}

func (e *OTPEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// GenerateOTPCode draws a code uniformly from 000000-999999. Leading-zero
// values are as likely as any other; they are never resampled.
func GenerateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < OTPCodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPCodeLength, n), nil
}

func validateOTPFormat(code string) error {
	if len(code) != OTPCodeLength {
		return ErrInvalidOTPFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidOTPFormat
		}
	}
	return nil
}

// RequestCode finds or creates the account for email and installs a fresh
// code on it. When the previous request is still inside OTPRequestInterval
// it fails with *RateLimitedError and writes nothing.
//
// The rate-limit check and the code write are one atomic store update, so
// two concurrent requests cannot both pass the check; exactly one code
// survives. The returned account carries the fresh code so a collaborator
// can deliver it; delivery failures do not roll the code back.
func (e *OTPEngine) RequestCode(ctx context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	acct, err := e.Store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		acct, err = e.createPlaceholder(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	code, err := GenerateOTPCode()
	if err != nil {
		return nil, err
	}

	now := e.now()
	return e.Store.UpdateAccount(ctx, acct.ID, func(a *Account) error {
		if a.OTPLastRequestAt != nil {
			elapsed := now.Sub(*a.OTPLastRequestAt)
			if elapsed < OTPRequestInterval {
				return &RateLimitedError{RetryAfter: OTPRequestInterval - elapsed}
			}
		}
		expires := now.Add(OTPCodeTTL)
		a.OTPCode = code
		a.OTPExpiresAt = &expires
		a.OTPAttempts = 0
		a.OTPLastRequestAt = &now
		return nil
	})
}

// createPlaceholder makes the eager account an unknown email gets on its
// first code request: no password, email unverified.
func (e *OTPEngine) createPlaceholder(ctx context.Context, email string) (*Account, error) {
	now := e.now()
	acct, err := e.Store.CreateAccount(ctx, &Account{
		ID:               NewAccountID(),
		Email:            email,
		NicknameRequired: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if errors.Is(err, ErrEmailTaken) {
		// Lost a creation race; the other request's account wins.
		return e.Store.GetAccountByEmail(ctx, email)
	}
	return acct, err
}

// VerifyCode checks candidate against the account's active code.
//
// A wrong guess increments the attempt counter; once OTPMaxAttempts guesses
// have failed, further calls fail with ErrTooManyOTPAttempts without
// consuming attempts. Observing an expired code clears the OTP fields (the
// last-request timestamp stays, so the rate limit is unaffected) and fails
// with ErrOTPExpired.
//
// On a match the account's email is marked verified and OTPUsed is set, but
// the code itself stays active: sign-in finalization happens between verify
// and the caller's ClearCode, and a concurrent verify with the same
// still-valid code must also succeed during that window.
func (e *OTPEngine) VerifyCode(ctx context.Context, email, candidate string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validateOTPFormat(candidate); err != nil {
		return nil, err
	}

	acct, err := e.Store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var verifyErr error
	updated, err := e.Store.UpdateAccount(ctx, acct.ID, func(a *Account) error {
		switch {
		case a.OTPCode == "":
			return ErrNoActiveCode
		case a.OTPExpiresAt == nil || !now.Before(*a.OTPExpiresAt):
			a.OTPCode = ""
			a.OTPExpiresAt = nil
			a.OTPAttempts = 0
			verifyErr = ErrOTPExpired
			return nil
		case a.OTPAttempts >= OTPMaxAttempts:
			return ErrTooManyOTPAttempts
		case subtle.ConstantTimeCompare([]byte(a.OTPCode), []byte(candidate)) != 1:
			a.OTPAttempts++
			verifyErr = ErrOTPMismatch
			return nil
		default:
			a.EmailVerified = true
			a.OTPUsed = true
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	return updated, nil
}

// ClearCode unconditionally retires any active code: code and expiry are
// nulled, attempts reset, and the last-request timestamp cleared so a new
// request is not rate-limited by a finished sign-in.
func (e *OTPEngine) ClearCode(ctx context.Context, accountID string) (*Account, error) {
	return e.Store.UpdateAccount(ctx, accountID, func(a *Account) error {
		a.OTPCode = ""
		a.OTPExpiresAt = nil
		a.OTPAttempts = 0
		a.OTPLastRequestAt = nil
		return nil
	})
}
