package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// stateLen is the length of the state parameter in base64url
	// characters.
	stateLen = 24

	// verifierEntropy is the number of random bytes behind a PKCE code
	// verifier; 32 bytes encode to 43 characters, the RFC 7636 minimum.
	verifierEntropy = 32
)

// NewState returns a 24-character URL-safe random state value. States
// key the rendezvous between the authorization redirect and the waiting
// client, so collisions must be negligible.
func NewState() (string, error) {
	return randomURLSafe(stateLen)
}

// NewCodeVerifier returns a high-entropy PKCE code verifier.
func NewCodeVerifier() (string, error) {
	buf := make([]byte, verifierEntropy)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallengeS256 derives the S256 challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// randomURLSafe returns n characters drawn from the base64url alphabet.
func randomURLSafe(n int) (string, error) {
	buf := make([]byte, (n*6+7)/8+1)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n], nil
}
