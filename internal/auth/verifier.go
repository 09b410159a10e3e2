package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/openboard/gateway/internal/constants"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
	// ErrNoKeySource is returned when no key source can verify the token's algorithm
	ErrNoKeySource = errors.New("no key source for token algorithm")
)

// TokenType identifies which trust domain issued a token
type TokenType string

const (
	// TokenTypeLocal is an HMAC-signed token issued by this application
	TokenTypeLocal TokenType = "local"
	// TokenTypeOIDC is an asymmetric token issued by the configured identity provider
	TokenTypeOIDC TokenType = "oidc"
)

// Claims is the normalized, verified payload of a bearer token.
// Immutable once issued; lifetime is one verification call.
type Claims struct {
	Subject           string
	Issuer            string
	Audience          string
	Expiry            time.Time
	IssuedAt          time.Time
	Scope             string
	Roles             []string
	Email             string
	PreferredUsername string
	DisplayName       string
	TokenType         TokenType
	Raw               map[string]interface{}
}

// VerifierConfig configures token verification
type VerifierConfig struct {
	// JWTSecret verifies locally issued HMAC tokens. Optional.
	JWTSecret string
	// JWKSURL enables OIDC access token verification. Optional.
	JWKSURL string
	// Issuer, when set, is enforced on every token.
	Issuer string
	// Audience, when set, is enforced on every token.
	Audience string
}

// Verifier validates bearer tokens from both trust domains and returns
// normalized claims. Verification failures are ordinary errors; callers
// degrade to an unauthenticated context rather than failing the request.
type Verifier struct {
	secret   []byte
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier. When cfg.JWKSURL is set the JWKS is
// fetched and cached; fetching is bounded by ctx.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}

	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}

	// No else needed: JWKS is optional (local-only deployments)
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
	}

	if v.secret == nil && v.jwks == nil {
		return nil, errors.New("verifier needs at least one key source (JWT secret or JWKS URL)")
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(constants.ClockSkewLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	}
	// No else needed: optional issuer/audience enforcement
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)

	return v, nil
}

// Verify validates signature, expiry (with clock-skew leeway), and, when
// configured, issuer and audience. Any failure yields an error the caller
// treats as "no authenticated identity" — it never panics across this
// boundary and the raw token never appears in the error text.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	tokenType := TokenTypeLocal
	token, err := v.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			// No else needed: early return pattern (guard clause)
			if v.secret == nil {
				return nil, fmt.Errorf("%w: HMAC token without configured secret", ErrNoKeySource)
			}
			return v.secret, nil
		default:
			// Asymmetric algorithms resolve against the identity provider's JWKS
			// No else needed: early return pattern (guard clause)
			if v.jwks == nil {
				return nil, fmt.Errorf("%w: %s token without configured JWKS", ErrNoKeySource, token.Method.Alg())
			}
			tokenType = TokenTypeOIDC
			return v.jwks.Keyfunc(token)
		}
	})

	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return buildClaims(mapClaims, tokenType)
}

// buildClaims normalizes raw JWT map claims into the Claims view
func buildClaims(mc jwt.MapClaims, tokenType TokenType) (*Claims, error) {
	subject, _ := mc["sub"].(string)
	// No else needed: early return pattern (guard clause)
	if subject == "" {
		return nil, fmt.Errorf("%w: sub claim missing or invalid", ErrMissingClaims)
	}

	claims := &Claims{
		Subject:   subject,
		TokenType: tokenType,
		Raw:       map[string]interface{}(mc),
	}

	claims.Issuer, _ = mc["iss"].(string)
	claims.Scope, _ = mc["scope"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.PreferredUsername, _ = mc["preferred_username"].(string)
	claims.DisplayName, _ = mc["name"].(string)

	// Audience may be a string or an array; keep the first value
	switch aud := mc["aud"].(type) {
	case string:
		claims.Audience = aud
	case []interface{}:
		if len(aud) > 0 {
			claims.Audience, _ = aud[0].(string)
		}
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.Expiry = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	// Roles are optional; tokens without them carry an empty role set
	if rolesClaim, ok := mc["roles"]; ok {
		roles, err := extractRoles(rolesClaim)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
		}
		claims.Roles = roles
	}

	return claims, nil
}

// extractRoles converts the roles claim to a string slice
func extractRoles(rolesClaim interface{}) ([]string, error) {
	// Handle []interface{} (common JWT claim format)
	if rolesSlice, ok := rolesClaim.([]interface{}); ok {
		roles := make([]string, len(rolesSlice))
		for i, role := range rolesSlice {
			roleStr, ok := role.(string)
			// No else needed: early return pattern (guard clause)
			if !ok {
				return nil, fmt.Errorf("roles array contains non-string value at index %d", i)
			}
			roles[i] = roleStr
		}
		return roles, nil
	}

	// Handle []string (less common but possible)
	if rolesSlice, ok := rolesClaim.([]string); ok {
		return rolesSlice, nil
	}

	return nil, errors.New("roles claim must be an array of strings")
}
