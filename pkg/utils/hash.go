package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns the hex sha256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// CacheKey joins parts with ':' and hashes the last one, producing keys like
// "embedding:hash-384:<sha256>".
func CacheKey(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	last := len(parts) - 1
	out := make([]string, 0, len(parts))
	out = append(out, parts[:last]...)
	out = append(out, HashString(parts[last]))
	return strings.Join(out, ":")
}
