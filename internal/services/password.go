package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordScheme selects how new passwords are hashed.
type PasswordScheme string

const (
	// SchemeSHA256 stores the hex SHA-256 digest. Data files written by the
	// first version of the tracker use it, and so does the root admin seed.
	SchemeSHA256 PasswordScheme = "sha256"

	// SchemeBcrypt stores a salted bcrypt hash.
	SchemeBcrypt PasswordScheme = "bcrypt"
)

// PasswordHasher hashes new passwords with the configured scheme. Stored
// hashes of either scheme are always accepted on login.
type PasswordHasher struct {
	scheme PasswordScheme
	cost   int
}

// NewPasswordHasher validates the scheme name. An empty name selects bcrypt.
func NewPasswordHasher(scheme string) (*PasswordHasher, error) {
	switch PasswordScheme(strings.ToLower(strings.TrimSpace(scheme))) {
	case "", SchemeBcrypt:
		return &PasswordHasher{scheme: SchemeBcrypt, cost: bcrypt.DefaultCost}, nil
	case SchemeSHA256:
		return &PasswordHasher{scheme: SchemeSHA256}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}

// Scheme returns the scheme used for new hashes.
func (h *PasswordHasher) Scheme() PasswordScheme {
	return h.scheme
}

// Hash returns the stored representation of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h == nil || h.scheme == SchemeSHA256 {
		return LegacyHash(password), nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// LegacyHash returns the hex SHA-256 digest of password.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
