// Package token implements the compact signed token format used for user
// bearer credentials: three URL-safe base64 segments joined by dots, signed
// with HMAC-SHA256. The codec knows nothing about users or storage; it is a
// pure function of its inputs and the clock.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a malformed structure, a bad signature or
	// an unparsable payload.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrTokenExpired indicates a structurally valid, correctly signed
	// token whose exp claim is in the past.
	ErrTokenExpired = errors.New("token: token expired")
)

// Codec encodes and verifies compact HS256 tokens.
type Codec struct {
	now func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes the claims under a fixed {"alg":"HS256","typ":"JWT"}
// header and signs them with secret. Identical inputs produce identical
// output.
func (c *Codec) Encode(claims map[string]any, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token: signing secret is empty")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims))
	signed, err := t.SignedString(secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Decode verifies structure, signature (constant-time) and expiry, and
// returns the payload claims. Expired-but-authentic tokens fail with
// ErrTokenExpired; everything else fails with ErrInvalidToken.
func (c *Codec) Decode(tokenString string, secret []byte) (map[string]any, error) {
	if tokenString == "" || len(secret) == 0 {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return map[string]any(claims), nil
}
