package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/constants"
)

// ErrUserNotFound is returned by UserStore lookups for unknown subjects
var ErrUserNotFound = errors.New("user not found")

// UserRecord is the persisted application user
type UserRecord struct {
	ID          string    `bson:"_id,omitempty"`
	Subject     string    `bson:"sub"`
	Username    string    `bson:"username"`
	DisplayName string    `bson:"displayName,omitempty"`
	Email       string    `bson:"email,omitempty"`
	Roles       []string  `bson:"roles,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// UserStore is the persistence collaborator for user provisioning
type UserStore interface {
	FindBySubject(ctx context.Context, subject string) (*UserRecord, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	Insert(ctx context.Context, user *UserRecord) error
	Update(ctx context.Context, user *UserRecord) error
}

// ContextUser is the application-local identity derived from verified claims.
// One ContextUser exists per distinct external subject.
type ContextUser struct {
	Subject           string
	LocalUserID       string
	Roles             []string
	Email             string
	PreferredUsername string
	DisplayName       string
}

// Provisioner creates-or-updates application user records from verified claims
type Provisioner struct {
	store  UserStore
	logger *zap.SugaredLogger
}

// NewProvisioner creates a provisioner backed by the given store
func NewProvisioner(store UserStore, logger *zap.SugaredLogger) *Provisioner {
	return &Provisioner{
		store:  store,
		logger: logger.Named("provision"),
	}
}

// Provision resolves verified claims to a ContextUser, creating the user
// record on first sight of the subject and refreshing mutable fields
// (display name, email, roles) on every subsequent sight.
func (p *Provisioner) Provision(ctx context.Context, claims *Claims) (*ContextUser, error) {
	existing, err := p.store.FindBySubject(ctx, claims.Subject)
	switch {
	case err == nil:
		return p.refresh(ctx, existing, claims)
	case errors.Is(err, ErrUserNotFound):
		return p.create(ctx, claims)
	default:
		return nil, fmt.Errorf("failed to look up user by subject: %w", err)
	}
}

// refresh updates mutable identity fields on an existing record
func (p *Provisioner) refresh(ctx context.Context, user *UserRecord, claims *Claims) (*ContextUser, error) {
	changed := false
	if claims.DisplayName != "" && claims.DisplayName != user.DisplayName {
		user.DisplayName = claims.DisplayName
		changed = true
	}
	if claims.Email != "" && claims.Email != user.Email {
		user.Email = claims.Email
		changed = true
	}
	if len(claims.Roles) > 0 && !equalRoles(claims.Roles, user.Roles) {
		user.Roles = claims.Roles
		changed = true
	}

	// No else needed: optional operation (skip write when nothing changed)
	if changed {
		user.UpdatedAt = time.Now()
		if err := p.store.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update user record: %w", err)
		}
	}

	return toContextUser(user), nil
}

// create derives a username and inserts a new user record
func (p *Provisioner) create(ctx context.Context, claims *Claims) (*ContextUser, error) {
	username, err := p.deriveUsername(ctx, claims)
	if err != nil {
		return nil, err
	}

	roles := claims.Roles
	// No else needed: optional operation (default role when claims carry none)
	if len(roles) == 0 {
		roles = []string{constants.RoleUser}
	}

	now := time.Now()
	user := &UserRecord{
		Subject:     claims.Subject,
		Username:    username,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		Roles:       roles,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := p.store.Insert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to insert user record: %w", err)
	}

	p.logger.Infow("Provisioned new user",
		"subject", claims.Subject,
		"username", username)

	return toContextUser(user), nil
}

// deriveUsername picks a username from a prioritized list of claim fields,
// sanitizes it, and de-duplicates it with a bounded probing loop before
// falling back to a random suffix.
func (p *Provisioner) deriveUsername(ctx context.Context, claims *Claims) (string, error) {
	base := usernameCandidate(claims)

	taken, err := p.store.UsernameTaken(ctx, base)
	if err != nil {
		return "", fmt.Errorf("failed to probe username: %w", err)
	}
	if !taken {
		return base, nil
	}

	// Probe "-1", "-2", ... up to the bound. Suffixes must still fit the cap.
	for i := 1; i <= constants.MaxUsernameProbes; i++ {
		candidate := appendSuffix(base, fmt.Sprintf("-%d", i))
		taken, err := p.store.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to probe username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	// Probing exhausted; a random suffix is effectively collision-free
	return appendSuffix(base, "-"+randomSuffix()), nil
}

// usernameCandidate returns the highest-priority non-empty claim field,
// sanitized. OIDC ID-token claims come first, then access-token claims,
// then a fallback derived from the subject, then a random name.
func usernameCandidate(claims *Claims) string {
	candidates := []string{
		claims.PreferredUsername,
		emailLocalPart(claims.Email),
		claims.DisplayName,
		claims.Subject,
	}

	for _, candidate := range candidates {
		if sanitized := SanitizeUsername(candidate); sanitized != "" {
			return sanitized
		}
	}

	return "user-" + randomSuffix()
}

// SanitizeUsername restricts a candidate to [A-Za-z0-9._-] and truncates it
// to the maximum username length. Returns "" when nothing survives.
func SanitizeUsername(candidate string) string {
	var b strings.Builder
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	sanitized := b.String()
	if len(sanitized) > constants.MaxUsernameLength {
		sanitized = sanitized[:constants.MaxUsernameLength]
	}
	return sanitized
}

// appendSuffix appends a suffix, trimming the base so the result stays
// within the maximum username length
func appendSuffix(base, suffix string) string {
	maxBase := constants.MaxUsernameLength - len(suffix)
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + suffix
}

// emailLocalPart returns the part of an email address before the '@'
func emailLocalPart(email string) string {
	if idx := strings.IndexByte(email, '@'); idx > 0 {
		return email[:idx]
	}
	return ""
}

// randomSuffix returns 8 hex characters of cryptographic randomness
func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback: should never happen in practice
		return "00000000"
	}
	return hex.EncodeToString(b)
}

// toContextUser converts a persisted record to the in-memory identity view
func toContextUser(user *UserRecord) *ContextUser {
	return &ContextUser{
		Subject:           user.Subject,
		LocalUserID:       user.ID,
		Roles:             user.Roles,
		Email:             user.Email,
		PreferredUsername: user.Username,
		DisplayName:       user.DisplayName,
	}
}

// equalRoles compares two role slices in order
func equalRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
