//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	auth "github.com/gvinokur/qatar-prode-sub000"
)

// AutoMigrate runs database migrations for all account tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&OAuthLinkModel{},
	)
}

// AccountStore implements auth.AccountStore using GORM. UpdateAccount runs
// inside a transaction with a SELECT FOR UPDATE row lock, so concurrent
// mutations of the same account serialize at the database.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// isDuplicateErr reports whether err is a uniqueness violation. GORM's
// translated sentinel covers postgres/mysql; the string checks cover sqlite
// drivers that bypass translation.
func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	model := AccountToModel(account)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		if isDuplicateErr(err) {
			// Which constraint fired decides the sentinel
			var count int64
			s.db.WithContext(ctx).Model(&AccountModel{}).Where("email = ?", account.Email).Count(&count)
			if count > 0 {
				return nil, auth.ErrEmailTaken
			}
			return nil, auth.ErrOAuthLinkTaken
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) getModel(tx *gorm.DB, query string, args ...any) (*AccountModel, error) {
	var model AccountModel
	err := tx.Preload("OAuthLinks").First(&model, append([]any{query}, args...)...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *AccountStore) GetAccount(ctx context.Context, accountId string) (*auth.Account, error) {
	model, err := s.getModel(s.db.WithContext(ctx), "id = ?", accountId)
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	model, err := s.getModel(s.db.WithContext(ctx), "email = ?", email)
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByOAuth(ctx context.Context, provider, subject string) (*auth.Account, error) {
	var link OAuthLinkModel
	err := s.db.WithContext(ctx).First(&link, "provider = ? AND subject = ?", provider, subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, link.AccountID)
}

func (s *AccountStore) GetAccountByVerificationToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	model, err := s.getModel(s.db.WithContext(ctx),
		"verification_token = ? AND verification_token <> '' AND verification_expires_at > ?", token, now)
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	model, err := s.getModel(s.db.WithContext(ctx),
		"reset_token = ? AND reset_token <> '' AND reset_expires_at > ?", token, now)
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, accountId string, mutate func(a *auth.Account) error) (*auth.Account, error) {
	var updated *auth.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("OAuthLinks").
			First(&model, "id = ?", accountId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		account := model.ToAccount()
		if err := mutate(account); err != nil {
			// mutate aborted: roll back, nothing is written
			return err
		}

		next := AccountToModel(account)
		next.CreatedAt = model.CreatedAt
		next.UpdatedAt = time.Now()

		if err := tx.Omit("OAuthLinks").Save(next).Error; err != nil {
			if isDuplicateErr(err) {
				return auth.ErrEmailTaken
			}
			return err
		}

		// Reconcile links: insert the ones mutate added
		existing := make(map[string]bool, len(model.OAuthLinks))
		for _, l := range model.OAuthLinks {
			existing[l.Provider+"\x00"+l.Subject] = true
		}
		for _, l := range next.OAuthLinks {
			if existing[l.Provider+"\x00"+l.Subject] {
				continue
			}
			link := l
			link.AccountID = accountId
			if err := tx.Create(&link).Error; err != nil {
				if isDuplicateErr(err) {
					return auth.ErrOAuthLinkTaken
				}
				return err
			}
		}

		updated = account
		updated.UpdatedAt = next.UpdatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
