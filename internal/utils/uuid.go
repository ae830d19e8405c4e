package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID returns a new random UUID string. All persisted entities use
// this as their primary key format.
func GenerateUUID() string {
	return uuid.New().String()
}

// IsValidUUID reports whether s parses as a UUID in any accepted format.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// GenerateShortUUID returns the first 8 characters of a random UUID.
// Only suitable for log correlation, never for primary keys.
func GenerateShortUUID() string {
	return uuid.New().String()[:8]
}
