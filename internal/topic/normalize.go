package topic

import "strings"

// Normalize canonicalizes a free-text topic for lookup and deduplication.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
