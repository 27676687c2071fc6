// Package authtoken validates the apiKey a host is configured with before a
// socket is ever opened, so a host fails fast on a malformed or expired key
// instead of discovering it only after round-tripping to the service.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed means apiKey is not structurally a JWT.
var ErrMalformed = errors.New("authtoken: apiKey is not a well-formed token")

// ErrExpired means apiKey parses but its exp claim has passed.
var ErrExpired = errors.New("authtoken: apiKey has expired")

// Claims holds the subset of standard claims the host SDK inspects. The
// service is the one party that verifies the signature; the host only needs
// enough structural confidence to avoid opening a socket doomed to be
// rejected at the handshake.
type Claims struct {
	jwt.RegisteredClaims
	InstanceID string `json:"instanceId,omitempty"`
}

// Parse checks that apiKey decodes as a JWT with the expected claim shape
// and, if it carries an exp claim, that it has not yet passed. It does not
// verify a signature: the host has no shared secret with the service, and
// treats the key as an opaque bearer credential whose authority the service
// alone adjudicates.
func Parse(apiKey string) (*Claims, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims Claims
	_, _, err := parser.ParseUnverified(apiKey, &claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if exp.Before(time.Now()) {
			return nil, ErrExpired
		}
	}

	return &claims, nil
}

// Validate is a convenience wrapper for callers that only need the pass/fail
// result, not the decoded claims.
func Validate(apiKey string) error {
	_, err := Parse(apiKey)
	return err
}
