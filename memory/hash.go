package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultHashLength is the hex-character length content and tool-call
// hashes are truncated to. Truncation trades collision safety for brevity;
// callers that need longer hashes use ContentHashN.
const DefaultHashLength = 16

// NormalizeSummary lowercases s and collapses runs of whitespace to single
// spaces so that trivially different phrasings of the same fact hash equal.
func NormalizeSummary(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash computes the dedup hash for a summary and memory type,
// truncated to DefaultHashLength hex characters.
func ContentHash(summary string, t Type) string {
	return ContentHashN(summary, t, DefaultHashLength)
}

// ContentHashN is ContentHash with a caller-chosen truncation length.
// Lengths outside (0, 64] are clamped to the full digest.
func ContentHashN(summary string, t Type, n int) string {
	sum := sha256.Sum256([]byte(NormalizeSummary(summary) + "|" + string(t)))
	hx := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(hx) {
		return hx
	}
	return hx[:n]
}

func truncatedSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:DefaultHashLength]
}
