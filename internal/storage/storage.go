// Package storage provides MongoDB-backed persistence for application users
// and refresh sessions. Only the gateway's identity surface lives here; the
// bulletin board's content collections belong to the business routers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/constants"
)

// ErrSessionNotFound is returned when a refresh session does not exist
var ErrSessionNotFound = errors.New("refresh session not found")

// RefreshSession is the durable record allowing a new access token to be
// minted without re-authenticating interactively. The session id is the only
// value ever placed in a cookie; the token itself never leaves the store.
type RefreshSession struct {
	SessionID string    `bson:"_id"`
	UserID    string    `bson:"uid"`
	Token     string    `bson:"token"`
	TokenType string    `bson:"tokenType"` // "local" or "oidc"
	ExpiresAt time.Time `bson:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt"`
	RotatedAt time.Time `bson:"rotatedAt,omitempty"`
}

// Store wraps the gateway's MongoDB collections
type Store struct {
	users    *mongo.Collection
	sessions *mongo.Collection
	logger   *zap.SugaredLogger
}

// New creates a store over the given database
func New(db *mongo.Database, usersCollection, sessionsCollection string, logger *zap.SugaredLogger) *Store {
	return &Store{
		users:    db.Collection(usersCollection),
		sessions: db.Collection(sessionsCollection),
		logger:   logger.Named("storage"),
	}
}

// EnsureIndexes creates the indexes the gateway relies on:
// unique subject and username on users, and a TTL index expiring refresh
// sessions at their recorded expiry.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: constants.MongoFieldSubject, Value: 1}},
			Options: options.Index().SetName(constants.IndexSubject).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: constants.MongoFieldUsername, Value: 1}},
			Options: options.Index().SetName(constants.IndexUsername).SetUnique(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	sessionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: constants.MongoFieldExpiresAt, Value: 1}},
			Options: options.Index().SetName(constants.IndexSessionTTL).SetExpireAfterSeconds(0),
		},
	}
	if _, err := s.sessions.Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	return nil
}

// Ping verifies database connectivity for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.users.Database().Client().Ping(ctx, nil)
}

// --- auth.UserStore implementation ---

// FindBySubject looks up a user by external subject
func (s *Store) FindBySubject(ctx context.Context, subject string) (*auth.UserRecord, error) {
	var user auth.UserRecord
	err := s.users.FindOne(ctx, bson.M{constants.MongoFieldSubject: subject}).Decode(&user)
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by subject: %w", err)
	}
	return &user, nil
}

// UsernameTaken reports whether a username is already in use
func (s *Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	count, err := s.users.CountDocuments(ctx, bson.M{constants.MongoFieldUsername: username}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to count username: %w", err)
	}
	return count > 0, nil
}

// Insert creates a new user record, assigning its id
func (s *Store) Insert(ctx context.Context, user *auth.UserRecord) error {
	if user.ID == "" {
		user.ID = newObjectID()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update replaces a user record's mutable fields
func (s *Store) Update(ctx context.Context, user *auth.UserRecord) error {
	update := bson.M{"$set": bson.M{
		"displayName": user.DisplayName,
		"email":       user.Email,
		"roles":       user.Roles,
		"updatedAt":   user.UpdatedAt,
	}}
	result, err := s.users.UpdateByID(ctx, user.ID, update)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// --- refresh session operations ---

// CreateSession persists a new refresh session
func (s *Store) CreateSession(ctx context.Context, session *RefreshSession) error {
	if _, err := s.sessions.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to insert refresh session: %w", err)
	}
	return nil
}

// GetSession fetches a refresh session by id. Sessions past their expiry are
// reported as not found even if the TTL monitor has not removed them yet.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*RefreshSession, error) {
	var session RefreshSession
	err := s.sessions.FindOne(ctx, bson.M{constants.MongoFieldID: sessionID}).Decode(&session)
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh session: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// RotateSession atomically replaces the stored token and expiry for the same
// session id. Rotation of a missing or expired session fails; the caller
// treats that as an authentication failure, not a silent pass-through.
func (s *Store) RotateSession(ctx context.Context, sessionID, newToken string, newExpiry time.Time) (*RefreshSession, error) {
	now := time.Now()
	filter := bson.M{
		constants.MongoFieldID:        sessionID,
		constants.MongoFieldExpiresAt: bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{
		constants.MongoFieldToken:     newToken,
		constants.MongoFieldExpiresAt: newExpiry,
		"rotatedAt":                   now,
	}}

	var session RefreshSession
	err := s.sessions.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&session)
	// No else needed: early return pattern (guard clause)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes a refresh session (logout or rotation failure)
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.sessions.DeleteOne(ctx, bson.M{constants.MongoFieldID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// newObjectID returns a fresh hex-encoded document id
func newObjectID() string {
	return primitive.NewObjectID().Hex()
}

// DeleteSessionsForUser removes all refresh sessions for a user
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID string) error {
	if _, err := s.sessions.DeleteMany(ctx, bson.M{constants.MongoFieldUserID: userID}); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
