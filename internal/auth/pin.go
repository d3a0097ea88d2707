// Package auth handles the optional per-user PIN that confirms sensitive
// operations (role grants, manual conflict resolutions) on shared household
// screens.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPIN hashes a PIN for storage.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", fmt.Errorf("pin too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// VerifyPIN checks a PIN against a stored hash. An empty hash (no PIN set)
// never verifies.
func VerifyPIN(hash, pin string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
