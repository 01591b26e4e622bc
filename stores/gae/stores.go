//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	auth "github.com/gvinokur/qatar-prode-sub000"
)

// Kind constants for Datastore entities
const (
	KindAccount    = "Account"
	KindEmailIndex = "EmailIndex"
	KindOAuthIndex = "OAuthIndex"
)

// AccountStore implements auth.AccountStore using Google Cloud Datastore.
// Uniqueness is enforced through EmailIndex and OAuthIndex entities inserted
// in the same transaction as the account; UpdateAccount's read-modify-write
// runs inside RunInTransaction so concurrent mutations retry rather than
// clobber each other.
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{client: client, namespace: namespace}
}

func (s *AccountStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func oauthIndexName(provider, subject string) string {
	return provider + ":" + subject
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	accountKey := s.namespacedKey(KindAccount, account.ID)
	emailKey := s.namespacedKey(KindEmailIndex, account.Email)

	now := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing EmailIndex
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return auth.ErrEmailTaken
		}
		if err != datastore.ErrNoSuchEntity {
			return err
		}

		for _, link := range account.OAuthLinks {
			oauthKey := s.namespacedKey(KindOAuthIndex, oauthIndexName(link.Provider, link.Subject))
			var existingLink OAuthIndex
			err := tx.Get(oauthKey, &existingLink)
			if err == nil {
				return auth.ErrOAuthLinkTaken
			}
			if err != datastore.ErrNoSuchEntity {
				return err
			}
			if _, err := tx.Put(oauthKey, &OAuthIndex{AccountID: account.ID, CreatedAt: now}); err != nil {
				return err
			}
		}

		if _, err := tx.Put(emailKey, &EmailIndex{AccountID: account.ID, CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.Put(accountKey, AccountToEntity(account, accountKey))
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountStore) GetAccount(ctx context.Context, accountId string) (*auth.Account, error) {
	key := s.namespacedKey(KindAccount, accountId)
	var entity AccountEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	emailKey := s.namespacedKey(KindEmailIndex, email)
	var idx EmailIndex
	if err := s.client.Get(ctx, emailKey, &idx); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, idx.AccountID)
}

func (s *AccountStore) GetAccountByOAuth(ctx context.Context, provider, subject string) (*auth.Account, error) {
	oauthKey := s.namespacedKey(KindOAuthIndex, oauthIndexName(provider, subject))
	var idx OAuthIndex
	if err := s.client.Get(ctx, oauthKey, &idx); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, idx.AccountID)
}

func (s *AccountStore) queryByToken(ctx context.Context, field, token string, expiryField string, now time.Time) (*auth.Account, error) {
	query := datastore.NewQuery(KindAccount).
		Namespace(s.namespace).
		FilterField(field, "=", token).
		FilterField(expiryField, ">", now).
		Limit(1)

	it := s.client.Run(ctx, query)
	var entity AccountEntity
	_, err := it.Next(&entity)
	if err == iterator.Done {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) GetAccountByVerificationToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	if token == "" {
		return nil, auth.ErrAccountNotFound
	}
	return s.queryByToken(ctx, "verification_token", token, "verification_expires_at", now)
}

func (s *AccountStore) GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	if token == "" {
		return nil, auth.ErrAccountNotFound
	}
	return s.queryByToken(ctx, "reset_token", token, "reset_expires_at", now)
}

func (s *AccountStore) UpdateAccount(ctx context.Context, accountId string, mutate func(a *auth.Account) error) (*auth.Account, error) {
	accountKey := s.namespacedKey(KindAccount, accountId)

	var updated *auth.Account
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(accountKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return auth.ErrAccountNotFound
			}
			return err
		}
		entity.Key = accountKey

		account := entity.ToAccount()
		had := make(map[string]bool, len(account.OAuthLinks))
		for _, link := range account.OAuthLinks {
			had[oauthIndexName(link.Provider, link.Subject)] = true
		}
		if err := mutate(account); err != nil {
			// mutate aborted: transaction rolls back, nothing is written
			return err
		}

		// Claim index entries for links mutate added. Diffing by pair keeps
		// this correct even if mutate reordered or removed links.
		now := time.Now()
		for _, link := range account.OAuthLinks {
			if had[oauthIndexName(link.Provider, link.Subject)] {
				continue
			}
			oauthKey := s.namespacedKey(KindOAuthIndex, oauthIndexName(link.Provider, link.Subject))
			var existingLink OAuthIndex
			err := tx.Get(oauthKey, &existingLink)
			if err == nil && existingLink.AccountID != accountId {
				return auth.ErrOAuthLinkTaken
			}
			if err != nil && err != datastore.ErrNoSuchEntity {
				return err
			}
			if _, err := tx.Put(oauthKey, &OAuthIndex{AccountID: accountId, CreatedAt: now}); err != nil {
				return err
			}
		}

		account.UpdatedAt = now
		if _, err := tx.Put(accountKey, AccountToEntity(account, accountKey)); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
