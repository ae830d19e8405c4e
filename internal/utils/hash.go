package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex SHA256 of b. Asset storage uses this to detect
// when an incoming image is byte-identical to one already on disk.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidateHash reports whether s looks like a full SHA256 hex digest.
func ValidateHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// TruncateHash shortens a hash for log output. Never use the result for
// storage or lookups.
func TruncateHash(hash string, length int) string {
	if len(hash) <= length {
		return hash
	}
	return hash[:length] + "..."
}
