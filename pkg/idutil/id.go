// Package idutil provides utilities for container ID manipulation.
//
// Container IDs reported by the runtime follow Docker conventions:
//   - Full ID: 64-character hexadecimal string
//   - Short ID: First 12 characters of the full ID
package idutil

const (
	// FullIDLength is the length of a full container ID (64 hex characters = 32 bytes).
	FullIDLength = 64

	// ShortIDLength is the standard short ID length (12 characters, Docker convention).
	ShortIDLength = 12
)

// ShortID returns the first 12 characters of the container ID.
// This is the standard "short ID" format used by Docker.
func ShortID(id string) string {
	if len(id) >= ShortIDLength {
		return id[:ShortIDLength]
	}
	return id
}

// IsFullID checks if the given string is a full container ID (64 hex characters).
func IsFullID(id string) bool {
	if len(id) != FullIDLength {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
