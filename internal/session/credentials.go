package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy per minted credential: 16 bytes = 128 bits.
// Guest session ids, access tokens, and session secrets are all minted this
// way — each independently unguessable, none derivable from the others.
const tokenBytes = 16

// mintToken returns a fresh URL-safe credential from crypto/rand.
// 16 random bytes encode to 22 characters of base64url, no padding.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
