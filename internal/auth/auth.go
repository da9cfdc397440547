// Package auth resolves a request credential to an owner identity.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for invalid, expired or malformed credentials
var ErrUnauthorized = errors.New("unauthorized")

// Verifier turns a credential into the owner id it identifies
type Verifier interface {
	Verify(credential string) (ownerID string, err error)
}

// JWTVerifier verifies HMAC-signed identity tokens and reads the owner id
// from the subject claim.
type JWTVerifier struct {
	key []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given key
func NewJWTVerifier(key []byte) (*JWTVerifier, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("verification key is required")
	}
	return &JWTVerifier{key: key}, nil
}

// Verify parses and validates the token, returning its subject
func (v *JWTVerifier) Verify(credential string) (string, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

// Static treats the credential itself as the owner id. Meant for local
// development when no verification key is configured; the server logs a
// warning when it is in use.
type Static struct{}

// Verify returns the credential as the owner id
func (Static) Verify(credential string) (string, error) {
	if credential == "" {
		return "", ErrUnauthorized
	}
	return credential, nil
}
