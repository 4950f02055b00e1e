// Package sanitize normalizes ingested text and fingerprints it for
// deduplication.
package sanitize

import (
	"fmt"
	"strings"
)

// Clean strips the NUL character and C0 control characters (except tab,
// newline, and carriage return) from s and trims surrounding whitespace.
// Clean is idempotent.
func Clean(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

// Fingerprint returns a deterministic hex digest of s for duplicate
// detection. It is a rolling polynomial hash truncated to 32 bits — not
// cryptographic. Colliding documents are skipped as duplicates, which is an
// accepted tradeoff; callers must never use the fingerprint for anything
// security-sensitive.
func Fingerprint(s string) string {
	var h uint32
	for _, r := range s {
		h = h*31 + uint32(r)
	}
	return fmt.Sprintf("%08x", h)
}

// Truncate caps s at max runes. Used to bound content before hashing,
// embedding, and storage.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
