package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"scorekeeper/config"
)

const (
	// MinTokenBytes is the least raw entropy a capability token may carry (192 bits).
	MinTokenBytes = config.MinTokenBytes
	// DefaultTokenBytes yields a 43 character token.
	DefaultTokenBytes = 32

	maxTokenLength = 256
)

// GenerateToken returns byteLength random bytes encoded as unpadded base64url.
// The token carries no metadata; its tier is whichever stored field it matches.
func GenerateToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", fmt.Errorf("token length %d is below the %d byte minimum", byteLength, MinTokenBytes)
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CompareTokens reports whether a and b are equal without stopping at the
// first differing byte.
func CompareTokens(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// LooksLikeToken is a cheap shape check used to skip the store lookup for
// input that could never have been issued.
func LooksLikeToken(s string) bool {
	if len(s) < base64.RawURLEncoding.EncodedLen(MinTokenBytes) || len(s) > maxTokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
