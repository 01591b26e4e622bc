package prodeauth

import (
	"context"
	"errors"
	"time"
)

// Store errors. Implementations must return these (or wrap them) so the
// engines can tell an absent row from a uniqueness conflict.
var (
	// ErrAccountNotFound is returned by lookups that match nothing. Token
	// lookups also return it for expired tokens: a token past expiry behaves
	// identically to one that never existed.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmailTaken is returned by CreateAccount when another account
	// already owns the email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrOAuthLinkTaken is returned when a (provider, subject) pair is
	// already linked to a different account.
	ErrOAuthLinkTaken = errors.New("oauth identity already linked")
)

// AccountStore is the persistence contract for Account rows.
//
// The account row is the unit of shared mutable state. Implementations must
// make UpdateAccount a single atomic read-modify-write: load the current
// row under a row lock (or transaction, or process-wide mutex), run mutate
// against it, and persist only when mutate returns nil. A non-nil return
// aborts with no write and is passed through to the caller. The engines put
// every guard check (rate limit, attempt cap, token match) inside mutate,
// which is what closes the races between concurrent requests.
//
// CreateAccount enforces email uniqueness and (provider, subject) link
// uniqueness at the storage layer, not just in resolver logic, so two
// concurrent first-time sign-ins cannot create two accounts.
type AccountStore interface {
	// CreateAccount persists a new account. Fails with ErrEmailTaken or
	// ErrOAuthLinkTaken on a uniqueness conflict.
	CreateAccount(ctx context.Context, account *Account) (*Account, error)

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByEmail retrieves an account by normalized email.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// GetAccountByOAuth retrieves the account owning the (provider, subject)
	// link.
	GetAccountByOAuth(ctx context.Context, provider, subject string) (*Account, error)

	// GetAccountByVerificationToken retrieves the account holding the token
	// with expiry > now. The expiry predicate is part of the lookup itself.
	GetAccountByVerificationToken(ctx context.Context, token string, now time.Time) (*Account, error)

	// GetAccountByResetToken is GetAccountByVerificationToken for reset
	// tokens.
	GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*Account, error)

	// UpdateAccount atomically applies mutate to the account row and returns
	// the persisted result. Appending an OAuthLink whose (provider, subject)
	// pair belongs to another account fails with ErrOAuthLinkTaken and
	// writes nothing.
	UpdateAccount(ctx context.Context, id string, mutate func(*Account) error) (*Account, error)
}
