// Package auth issues the short-lived signed tokens that authenticate a
// recognition session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yegors/sttstream/internal/config"
)

// TokenLifetime is how long an issued token stays valid. A token is issued
// for exactly one session and never reused.
const TokenLifetime = 60 * time.Second

// Claims holds the fixed claims placed in every token
type Claims struct {
	Issuer   string
	Subject  string
	Audience string
}

// ClaimsFromConfig builds the claim set from the auth config section
func ClaimsFromConfig(cfg config.AuthConfig) Claims {
	return Claims{
		Issuer:   cfg.Issuer,
		Subject:  cfg.Subject,
		Audience: cfg.Audience,
	}
}

// Token is a signed session token
type Token struct {
	Issuer   string
	Subject  string
	Audience string
	Expiry   time.Time
	KeyID    string
	Signed   string // compact JWS, sent as the bearer credential
}

// Valid reports whether the token has not yet expired at now
func (t *Token) Valid(now time.Time) bool {
	return now.Before(t.Expiry)
}

// SigningError reports unusable key material. It is never retryable.
type SigningError struct {
	KeyID string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign token for key %q: %v", e.KeyID, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Issuer produces tokens from a fixed credential pair
type Issuer struct {
	creds  config.Credentials
	claims Claims
	now    func() time.Time
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates a token issuer for the given credentials
func NewIssuer(creds config.Credentials, claims Claims, opts ...Option) *Issuer {
	i := &Issuer{
		creds:  creds,
		claims: claims,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a fresh token valid for TokenLifetime
func (i *Issuer) Issue() (*Token, error) {
	if len(i.creds.SecretKey) == 0 {
		return nil, &SigningError{KeyID: i.creds.APIKeyID, Err: errors.New("secret key is empty")}
	}

	expiry := i.now().Add(TokenLifetime).Truncate(time.Second)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    i.claims.Issuer,
		Subject:   i.claims.Subject,
		Audience:  jwt.ClaimStrings{i.claims.Audience},
		ExpiresAt: jwt.NewNumericDate(expiry),
	})
	tok.Header["kid"] = i.creds.APIKeyID

	signed, err := tok.SignedString(i.creds.SecretKey)
	if err != nil {
		return nil, &SigningError{KeyID: i.creds.APIKeyID, Err: err}
	}

	return &Token{
		Issuer:   i.claims.Issuer,
		Subject:  i.claims.Subject,
		Audience: i.claims.Audience,
		Expiry:   expiry,
		KeyID:    i.creds.APIKeyID,
		Signed:   signed,
	}, nil
}

// Verify parses a signed token, checking the HS256 signature against secret
// and the expiry against now.
func Verify(signed string, secret []byte, now time.Time) (*Token, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(signed, &claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	kid, _ := parsed.Header["kid"].(string)

	token := &Token{
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
		KeyID:   kid,
		Signed:  signed,
	}
	if len(claims.Audience) > 0 {
		token.Audience = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		token.Expiry = claims.ExpiresAt.Time
	}
	return token, nil
}
