// Package fs stores accounts as JSON files on disk. It is meant for
// development and tests: a process-wide mutex serializes all writes, which
// makes CreateAccount's uniqueness checks and UpdateAccount's
// read-modify-write atomic within a single process.
package fs

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	auth "github.com/gvinokur/qatar-prode-sub000"
)

// FSAccountStore stores accounts as JSON files under StoragePath/accounts.
type FSAccountStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(accountId string) string {
	return filepath.Join(s.StoragePath, "accounts", accountId+".json")
}

func (s *FSAccountStore) readAccount(accountId string) (*auth.Account, error) {
	data, err := os.ReadFile(s.accountPath(accountId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	var account auth.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *FSAccountStore) writeAccount(account *auth.Account) error {
	path := s.accountPath(account.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

// scanAccounts calls fn for every stored account until fn returns true.
func (s *FSAccountStore) scanAccounts(fn func(a *auth.Account) bool) (*auth.Account, error) {
	dir := filepath.Join(s.StoragePath, "accounts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		account, err := s.readAccount(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// An unreadable file must not silently shrink the store
			slog.Warn("skipping unreadable account file", "file", entry.Name(), "err", err)
			continue
		}
		if fn(account) {
			return account, nil
		}
	}
	return nil, auth.ErrAccountNotFound
}

func (s *FSAccountStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.scanAccounts(func(a *auth.Account) bool {
		return a.Email == account.Email
	})
	if err == nil {
		return nil, auth.ErrEmailTaken
	} else if err != auth.ErrAccountNotFound {
		return nil, err
	}

	for _, link := range account.OAuthLinks {
		_, err := s.scanAccounts(func(a *auth.Account) bool {
			return a.HasOAuthLink(link.Provider, link.Subject)
		})
		if err == nil {
			return nil, auth.ErrOAuthLinkTaken
		} else if err != auth.ErrAccountNotFound {
			return nil, err
		}
	}

	clone := *account
	if err := s.writeAccount(&clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (s *FSAccountStore) GetAccount(ctx context.Context, accountId string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAccount(accountId)
}

func (s *FSAccountStore) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanAccounts(func(a *auth.Account) bool {
		return a.Email == email
	})
}

func (s *FSAccountStore) GetAccountByOAuth(ctx context.Context, provider, subject string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanAccounts(func(a *auth.Account) bool {
		return a.HasOAuthLink(provider, subject)
	})
}

func (s *FSAccountStore) GetAccountByVerificationToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanAccounts(func(a *auth.Account) bool {
		return a.VerificationToken != "" && a.VerificationToken == token &&
			a.VerificationExpiresAt != nil && now.Before(*a.VerificationExpiresAt)
	})
}

func (s *FSAccountStore) GetAccountByResetToken(ctx context.Context, token string, now time.Time) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanAccounts(func(a *auth.Account) bool {
		return a.ResetToken != "" && a.ResetToken == token &&
			a.ResetExpiresAt != nil && now.Before(*a.ResetExpiresAt)
	})
}

func (s *FSAccountStore) UpdateAccount(ctx context.Context, accountId string, mutate func(a *auth.Account) error) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.readAccount(accountId)
	if err != nil {
		return nil, err
	}
	had := make(map[string]bool, len(account.OAuthLinks))
	for _, link := range account.OAuthLinks {
		had[link.Provider+"\x00"+link.Subject] = true
	}
	if err := mutate(account); err != nil {
		// mutate aborted: nothing is written
		return nil, err
	}

	// Links mutate added must not be owned by another account
	for _, link := range account.OAuthLinks {
		if had[link.Provider+"\x00"+link.Subject] {
			continue
		}
		_, err := s.scanAccounts(func(a *auth.Account) bool {
			return a.ID != accountId && a.HasOAuthLink(link.Provider, link.Subject)
		})
		if err == nil {
			return nil, auth.ErrOAuthLinkTaken
		} else if err != auth.ErrAccountNotFound {
			return nil, err
		}
	}

	account.UpdatedAt = time.Now()
	if err := s.writeAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}
