package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password storage schemes accepted by NewPasswordHasher.
const (
	SchemePlain  = "plain"
	SchemeBcrypt = "bcrypt"
)

// PasswordHasher turns a submitted password into its stored form and checks it later.
type PasswordHasher interface {
	// Hash returns the value to persist for password.
	Hash(password string) (string, error)

	// Verify reports whether password matches stored.
	// Returns (false, nil) on mismatch and an error only if stored is unusable.
	Verify(password, stored string) (bool, error)
}

// NewPasswordHasher returns the hasher for scheme.
func NewPasswordHasher(scheme string) (PasswordHasher, error) {
	switch scheme {
	case SchemePlain, "":
		return PlainHasher{}, nil
	case SchemeBcrypt:
		return BcryptHasher{Cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}

// PlainHasher stores passwords verbatim.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) {
	return password, nil
}

func (PlainHasher) Verify(password, stored string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, nil
}

// BcryptHasher stores salted bcrypt hashes.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (BcryptHasher) Verify(password, stored string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("compare password hash: %w", err)
}
