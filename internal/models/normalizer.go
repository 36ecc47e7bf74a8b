package models

import (
	"strings"
)

// Normalize applies field normalization to a Rule
// - lower-cases and trims Key
// - trims Owner, defaulting to DefaultOwner
func (r *Rule) Normalize() {
	r.Key = NormalizeKey(r.Key)

	r.Owner = strings.TrimSpace(r.Owner)
	if r.Owner == "" {
		r.Owner = DefaultOwner
	}
}

// NormalizeKey is the canonical form of a sample key. Keys are
// case-insensitive.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
