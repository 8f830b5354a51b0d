// Package credential derives lookup fingerprints from API key secrets and
// generates fresh secrets. Fingerprints are what the store indexes; the
// secret itself is never persisted anywhere.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SecretBytes is the entropy of a generated secret in raw bytes.
const SecretBytes = 32

// Fingerprint returns the lowercase hex SHA-256 digest of a secret. It is a
// pure function: the same secret always maps to the same fingerprint, and the
// secret cannot be recovered from it. API key secrets are high-entropy random
// strings, so a fast cryptographic hash is sufficient here; admin passwords
// go through bcrypt instead.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateSecret returns a new high-entropy secret as a hex string.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
