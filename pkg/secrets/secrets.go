package secrets

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/blake2b"

	dErrors "quell/pkg/domain-errors"
)

// Generate creates a cryptographically secure random secret.
// Returns a base64-encoded string suitable for use as API keys, admin tokens, etc.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint derives a short, stable identifier from a raw secret.
// Rate-limit state is keyed by fingerprints so raw API keys never sit in
// in-memory stores or appear in logs and alert events.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
