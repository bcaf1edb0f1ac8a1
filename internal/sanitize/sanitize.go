// Package sanitize normalizes identifiers used as storage keys and
// validates untrusted ids and paths.
//
// Vector store collection names must match ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the longest collection name vector stores accept.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus eight hex characters.
	hashSuffixLength = 9

	// DefaultIdentifier replaces identifiers that sanitize to nothing.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, replaces anything outside [a-z0-9_] with an
// underscore, collapses and trims underscores, and shortens long results
// with a hash suffix so distinct inputs stay distinct.
//
//	"alice@example.com" -> "alice_example_com"
//	"" or "!!!"         -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !valid {
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash keeps the head of s and appends "_" plus the first eight
// hex characters of its sha256.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	head := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return head + "_" + hex.EncodeToString(sum[:])[:8]
}
