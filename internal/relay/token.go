// Package relay verifies handshake tokens against the relay's trusted
// public key before a connection is admitted.
package relay

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// allowedSigningMethods is the fixed algorithm allow-list for handshake
// tokens. Tokens signed with any other method, including "none", are
// rejected outright to rule out algorithm-substitution attacks.
var allowedSigningMethods = []string{jwt.SigningMethodRS256.Alg()}

// Verifier validates signed handshake tokens. It holds the signing
// authority's public key, loaded once at process start, and is safe for
// concurrent use.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM-encoded RSA public key and returns a Verifier
// bound to it.
func NewVerifier(pemKey []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// LoadVerifier reads the public key file at path and returns a Verifier
// bound to it.
func LoadVerifier(path string) (*Verifier, error) {
	pemKey, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	return NewVerifier(pemKey)
}

// Verify checks that token is a well-formed JWT carrying a valid RS256
// signature from the trusted key. A missing token returns ErrNoToken;
// every other failure (malformed token, wrong algorithm, bad signature,
// expired claims) collapses to ErrInvalidToken.
func (v *Verifier) Verify(token string) error {
	if token == "" {
		return ErrNoToken
	}

	_, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods(allowedSigningMethods))
	if err != nil {
		return ErrInvalidToken
	}

	return nil
}
