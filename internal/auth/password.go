package auth

import (
	"errors"
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost int

	decoyOnce sync.Once
	decoy     []byte
}

// NewPasswordHasher returns a hasher using cost, clamped to bcrypt's bounds.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the salted hash of password. It is called once, when an
// identity is created or its password changes.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether candidate matches hash.
func (h *PasswordHasher) Verify(candidate, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// Burn runs a comparison against a throwaway hash so a lookup miss costs
// about as much as a wrong password.
func (h *PasswordHasher) Burn(candidate string) {
	h.decoyOnce.Do(func() {
		h.decoy, _ = bcrypt.GenerateFromPassword([]byte("decoy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.decoy, []byte(candidate))
}

// ErrWeakPassword is returned by CheckPasswordStrength.
var ErrWeakPassword = errors.New("password must be at least 8 characters and contain uppercase, lowercase, number and special character")

// CheckPasswordStrength enforces the registration policy for the secure path.
func CheckPasswordStrength(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var upper, lower, digit, special bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return ErrWeakPassword
	}
	return nil
}
