package local

import (
	"errors"

	auth "github.com/goliatone/go-campus-auth"
	"golang.org/x/crypto/bcrypt"
)

const DefaultPasswordCost = 12

// PasswordHasher wraps bcrypt with a configurable cost
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}
	return PasswordHasher{cost: cost}
}

func (h PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", auth.ErrInvalidCredentials
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(out), err
}

// Compare returns auth.ErrInvalidCredentials on mismatch and for accounts
// that never had a password.
func (h PasswordHasher) Compare(password, hash string) error {
	if hash == "" {
		return auth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return auth.ErrInvalidCredentials
		}
		return err
	}
	return nil
}
