// Package uuid wraps github.com/google/uuid with version 7 as the default.
// Control messages and process identities use time-ordered ids so logs from
// several processes sort naturally.
package uuid

import (
	"github.com/google/uuid"
)

type UUID = uuid.UUID

// NewRandom returns a new UUIDv7 and any generation error.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}
