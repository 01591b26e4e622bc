package prodeauth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is the single opaque failure for the credentials
// path. "No such account" and "wrong secret" are deliberately
// indistinguishable to the caller to prevent account enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials")

// oauthResolveRetries bounds the re-read-and-merge loop when concurrent
// callbacks race on the store's uniqueness constraints.
const oauthResolveRetries = 3

// IdentityResolver finds or creates the canonical account for a successful
// authentication event and records which providers are linked to it.
type IdentityResolver struct {
	Store  AccountStore
	Hasher CredentialHasher

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func NewIdentityResolver(store AccountStore, hasher CredentialHasher) *IdentityResolver {
	return &IdentityResolver{Store: store, Hasher: hasher}
}

func (r *IdentityResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ResolveCredentials authenticates an email/secret pair. Unlike the OTP
// path it never creates an account: an unknown email fails exactly like a
// wrong secret, with ErrInvalidCredentials.
func (r *IdentityResolver) ResolveCredentials(ctx context.Context, email, secret string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := r.Store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if acct.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := r.Hasher.Compare(acct.PasswordHash, secret); err != nil {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

// ResolveOAuth handles a successful provider callback.
//
//  1. An account already holding this exact (provider, subject) link is
//     returned unchanged: repeat sign-in is idempotent.
//  2. Otherwise an account with the same email gets the link merged onto
//     it. The provider vouched for the email, so the merge also marks it
//     verified; everything else is left untouched.
//  3. Otherwise a brand-new account is created from the provider profile.
//
// Two concurrent first-time callbacks must end with exactly one account.
// The store's uniqueness constraints are the backstop: a conflict on create
// or merge means another request got there first, so we re-read and merge
// instead of failing.
func (r *IdentityResolver) ResolveOAuth(ctx context.Context, provider, subject, email, displayName string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if provider == "" || subject == "" {
		return nil, ErrInvalidCredentials
	}

	var lastErr error
	for i := 0; i < oauthResolveRetries; i++ {
		acct, err := r.Store.GetAccountByOAuth(ctx, provider, subject)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}

		acct, err = r.Store.GetAccountByEmail(ctx, email)
		switch {
		case err == nil:
			merged, err := r.mergeLink(ctx, acct.ID, provider, subject, email)
			if errors.Is(err, ErrOAuthLinkTaken) {
				lastErr = err
				continue // pair claimed concurrently; re-read
			}
			return merged, err
		case errors.Is(err, ErrAccountNotFound):
			created, err := r.createFromProfile(ctx, provider, subject, email, displayName)
			if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrOAuthLinkTaken) {
				lastErr = err
				continue // lost the creation race; re-read and merge
			}
			return created, err
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *IdentityResolver) mergeLink(ctx context.Context, accountID, provider, subject, email string) (*Account, error) {
	now := r.now()
	return r.Store.UpdateAccount(ctx, accountID, func(a *Account) error {
		if a.HasOAuthLink(provider, subject) {
			return nil
		}
		a.OAuthLinks = append(a.OAuthLinks, OAuthLink{
			Provider: provider,
			Subject:  subject,
			Email:    email,
			LinkedAt: now,
		})
		a.EmailVerified = true
		return nil
	})
}

func (r *IdentityResolver) createFromProfile(ctx context.Context, provider, subject, email, displayName string) (*Account, error) {
	now := r.now()
	return r.Store.CreateAccount(ctx, &Account{
		ID:               NewAccountID(),
		Email:            email,
		DisplayName:      displayName,
		NicknameRequired: displayName == "",
		EmailVerified:    true,
		OAuthLinks: []OAuthLink{{
			Provider: provider,
			Subject:  subject,
			Email:    email,
			LinkedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	})
}
