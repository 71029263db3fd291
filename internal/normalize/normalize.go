// Package normalize holds the canonical forms used for storage and comparisons.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization trims surrounding whitespace
// and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Content trims message text. The text is stored as sent; escaping is left
// to whatever renders it. Blank input normalizes to "".
func Content(s string) string {
	return strings.TrimSpace(s)
}

// Username trims a display name. An empty name falls back to the local
// part of the email address.
func Username(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	local, _, _ := strings.Cut(Email(email), "@")
	return local
}
