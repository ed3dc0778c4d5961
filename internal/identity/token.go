package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"
)

// tokenBytes is the entropy of session tokens and API key secrets.
const tokenBytes = 32

// startLength is how many characters after the prefix are kept in Start.
const startLength = 6

// generateToken returns a URL-safe random token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken returns the hex blake3 digest stored in place of a raw token.
func hashToken(token string) string {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(token))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// keyStart returns the displayable head of a raw API key.
func keyStart(prefix, key string) string {
	n := len(prefix) + startLength
	if n > len(key) {
		n = len(key)
	}
	return key[:n]
}
