// Package common holds identifier helpers shared across sockethub packages.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// IdType selects the prefix of a generated identifier.
type IdType int

const (
	ID_TYPE_GENERIC  IdType = iota // no prefix
	ID_TYPE_INSTANCE               // sockethub instance
)

const (
	ID_CODE_LEN = 10

	LETTERS = "abcdefghijklmnopqrstuvwxyz"
	DIGITS  = "0123456789"
	CHARS   = LETTERS + DIGITS

	// MaxIdLen bounds instance and session ids, which become part of store keys.
	MaxIdLen = 128
)

// secureRandomInt returns a uniformly distributed int in [0, max).
func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive, got %d", max)
	}
	if max > math.MaxInt32 {
		return 0, fmt.Errorf("max too large: %d", max)
	}

	// reject values above the largest multiple of max to avoid modulo bias
	limit := (math.MaxUint64 / uint64(max)) * uint64(max)
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		n := binary.BigEndian.Uint64(buf[:])
		if n < limit {
			return int(n % uint64(max)), nil
		}
	}
}

// GetUniqueId returns a random lowercase id with a type prefix.
func GetUniqueId(t IdType) (string, error) {
	code, err := randomCode(ID_CODE_LEN)
	if err != nil {
		return "", fmt.Errorf("failed to generate unique ID: %w", err)
	}
	if t == ID_TYPE_INSTANCE {
		return "sh" + code, nil
	}
	return code, nil
}

// NewInstanceID returns a fresh sockethub instance id.
func NewInstanceID() (string, error) {
	return GetUniqueId(ID_TYPE_INSTANCE)
}

// randomCode returns a string that starts with a letter and continues with
// letters or digits.
func randomCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", length)
	}
	result := make([]byte, length)
	idx, err := secureRandomInt(len(LETTERS))
	if err != nil {
		return "", fmt.Errorf("failed to generate first character: %w", err)
	}
	result[0] = LETTERS[idx]
	for i := 1; i < length; i++ {
		idx, err := secureRandomInt(len(CHARS))
		if err != nil {
			return "", fmt.Errorf("failed to generate character at position %d: %w", i, err)
		}
		result[i] = CHARS[idx]
	}
	return string(result), nil
}

// ValidId reports whether id can be embedded in a store key. Ids must be
// non-empty, bounded, and free of the ':' separator and whitespace.
func ValidId(id string) bool {
	if id == "" || len(id) > MaxIdLen {
		return false
	}
	return !strings.ContainsAny(id, ": \t\r\n")
}
