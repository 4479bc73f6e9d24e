// Package password hashes and verifies stored credentials.
package password

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultCost = 10

	// MaxLength is the longest normalised password bcrypt accepts, in bytes.
	MaxLength = 72
)

// ErrTooLong is returned by Hash for passwords over MaxLength bytes.
var ErrTooLong = errors.New("password: longer than 72 bytes")

// Hasher produces bcrypt hashes. Stored values that are not bcrypt hashes
// are treated as legacy plain-text credentials.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password: empty password")
	}
	normalized := normalize(plain)
	if len(normalized) > MaxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(normalized), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plain matches stored, and whether stored should be
// replaced by a fresh hash (legacy plain value or outdated cost).
func (h *Hasher) Verify(stored, plain string) (ok bool, needsRehash bool) {
	if stored == "" || plain == "" {
		return false, false
	}

	if !IsHash(stored) {
		match := subtle.ConstantTimeCompare([]byte(normalize(stored)), []byte(normalize(plain))) == 1
		return match, match
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(normalize(plain))); err != nil {
		return false, false
	}
	cost, err := bcrypt.Cost([]byte(stored))
	return true, err == nil && cost < h.cost
}

// IsHash reports whether s looks like a bcrypt hash.
func IsHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func normalize(s string) string {
	return norm.NFKC.String(s)
}
