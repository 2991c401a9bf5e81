// Package auth provides password hashing and JWT session tokens.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced at signup only; stored hashes are
// always accepted for comparison.
const MinPasswordLength = 8

var ErrWeakPassword = errors.New("password must be at least 8 characters")

// ValidatePassword checks signup password requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword derives a salted bcrypt hash. The plaintext is never
// stored or logged.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
