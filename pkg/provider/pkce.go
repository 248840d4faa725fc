package provider

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// verifierCharset is the RFC 7636 unreserved alphabet. Each random byte
// is mapped into it modulo its length.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// DefaultVerifierLength is used when GenerateCodeVerifier is called with
// a zero length. RFC 7636 allows 43-128 characters.
const DefaultVerifierLength = 64

// GenerateCodeVerifier produces a cryptographically random PKCE code
// verifier of the given length (0 means DefaultVerifierLength).
func GenerateCodeVerifier(length int) (string, error) {
	if length == 0 {
		length = DefaultVerifierLength
	}
	if length < 43 || length > 128 {
		return "", fmt.Errorf("verifier length %d outside RFC 7636 bounds [43, 128]", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = verifierCharset[int(b)%len(verifierCharset)]
	}
	return string(buf), nil
}

// GenerateCodeChallenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func GenerateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random state string for OAuth flows.
// The state is used to prevent CSRF attacks.
func GenerateState() (string, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}
