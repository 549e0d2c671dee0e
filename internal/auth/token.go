// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned by Verify for any token that must not be trusted.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated subject carried by a session token.
type Identity struct {
	UserID   int64
	Username string
}

// Claims defines the JWT payload. Subject holds the decimal user id.
type Claims struct {
	Username string `json:"username"`
	jwtlib.RegisteredClaims
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 session tokens with a key fixed at construction.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customizes a TokenIssuer.
type Option func(*TokenIssuer)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(i *TokenIssuer) {
		i.now = now
	}
}

// NewTokenIssuer builds an issuer. The secret must be non-empty and ttl positive.
func NewTokenIssuer(secret string, ttl time.Duration, issuer string, opts ...Option) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	i := &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a token bound to identity.
func (i *TokenIssuer) Issue(identity Identity) (Token, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Username: identity.Username,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(identity.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, algorithm, issuer and expiry, and returns the subject.
func (i *TokenIssuer) Verify(token string) (Identity, error) {
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(i.issuer))
	}

	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return i.secret, nil
	}, parserOpts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return Identity{UserID: id, Username: claims.Username}, nil
}
