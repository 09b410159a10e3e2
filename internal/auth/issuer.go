package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalIssuer mints HMAC-signed access tokens for the local trust domain.
// The refresh flow uses it to rotate a stored credential into a fresh token
// without an interactive login.
type LocalIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewLocalIssuer creates an issuer. Issuer and audience are stamped onto
// every minted token when non-empty, matching what the verifier enforces.
func NewLocalIssuer(secret, issuer, audience string, ttl time.Duration) *LocalIssuer {
	return &LocalIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}
}

// Reissue mints a new token carrying the identity claims of a previously
// verified token. The source token is parsed without signature verification:
// it was verified at login and has lived server-side only since, so its
// claims are trusted even after its own expiry has passed.
func (i *LocalIssuer) Reissue(storedToken string) (string, time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(storedToken, jwt.MapClaims{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse stored token: %w", err)
	}

	source, ok := parsed.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return "", time.Time{}, fmt.Errorf("stored token carries unexpected claims format")
	}

	subject, _ := source["sub"].(string)
	// No else needed: early return pattern (guard clause)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("stored token missing sub claim")
	}

	now := time.Now()
	expiresAt := now.Add(i.ttl)

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	// No else needed: optional claims carried over when present
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}
	if i.audience != "" {
		claims["aud"] = i.audience
	}
	for _, key := range []string{"preferred_username", "name", "email", "roles", "scope"} {
		if value, exists := source[key]; exists {
			claims[key] = value
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}
