// Package auth resolves publish credentials to registry users. Two credential
// kinds are accepted in the Authorization header: HS256 JWTs (stateless) and
// API keys (long-lived, stored only as bcrypt hashes).
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Raw key material is 32 random bytes. The first DisplayPrefixLength
// characters of the encoded key are stored in plaintext and indexed so a
// presented key needs only a handful of bcrypt comparisons.
const (
	keyEntropyBytes     = 32
	DisplayPrefixLength = 10
	bcryptCost          = 12
)

// GenerateAPIKey mints a key beginning with prefix. The caller shows key to
// the user once and persists only hash and lookup.
func GenerateAPIKey(prefix string) (key, hash, lookup string, err error) {
	entropy := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", "", "", fmt.Errorf("failed to read key entropy: %w", err)
	}
	key = prefix + base64.RawURLEncoding.EncodeToString(entropy)

	digest, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return key, string(digest), LookupPrefix(key), nil
}

// LookupPrefix returns the indexed prefix of a presented key.
func LookupPrefix(key string) string {
	return key[:min(len(key), DisplayPrefixLength)]
}

// ValidateAPIKey reports whether key matches the stored bcrypt hash.
func ValidateAPIKey(key, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(key)) == nil
}

// credentialFromHeader strips an optional Bearer scheme (matched
// case-insensitively) from an Authorization header value.
func credentialFromHeader(header string) string {
	header = strings.TrimSpace(header)
	scheme, rest, ok := strings.Cut(header, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}
