package prodeauth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialHasher is the one-way transform applied to password secrets.
// The algorithm itself is pluggable; the resolver only ever calls Compare.
type CredentialHasher interface {
	// Hash transforms a plaintext secret into its stored form.
	Hash(plaintext string) (string, error)

	// Compare checks a plaintext secret against a stored hash. A nil return
	// means the secret matches.
	Compare(hash, plaintext string) error
}

// BcryptHasher hashes with bcrypt. The zero value uses bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h *BcryptHasher) cost() int {
	if h.Cost > 0 {
		return h.Cost
	}
	return bcrypt.DefaultCost
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(out), nil
}

func (h *BcryptHasher) Compare(hash, plaintext string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}
