package utils

import "github.com/google/uuid"

// NewID returns a time-ordered unique identifier (UUIDv7). Ids created later in
// the process sort after earlier ones.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random v4 if the clock read fails.
		return uuid.NewString()
	}
	return id.String()
}
