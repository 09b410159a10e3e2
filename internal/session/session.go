// Package session owns the in-memory registry of live chat sessions.
// A session binds one open connection to one provisioned user; the raw
// connection handle is never shared outside the owning session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/constants"
	"github.com/openboard/gateway/internal/metrics"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
)

// Conn is the minimal connection surface a session needs. The concrete type
// lives in the websocket package; sessions never reach past this interface.
type Conn interface {
	// SafeSend attempts a non-blocking send of an encoded frame
	SafeSend(data []byte) bool
	// CloseWithCode closes the connection with a close code and reason
	CloseWithCode(code int, reason string)
}

// ChatSession is the live state bound to one connection's chat participation
type ChatSession struct {
	ID           string
	User         *auth.ContextUser
	Conn         Conn
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
	IPAddress    string
	UserAgent    string

	// streaming guards the one-outbound-logical-response-at-a-time rule
	streaming bool

	mu sync.Mutex
}

// Touch records inbound activity on the session
func (s *ChatSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
	s.MessageCount++
}

// LastActivityAt returns the last activity timestamp
func (s *ChatSession) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// Messages returns the session's message count
func (s *ChatSession) Messages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MessageCount
}

// Expired reports whether the session has outlived maxAge
func (s *ChatSession) Expired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// BeginStream claims the session's single outbound streaming slot.
// Returns false if a logical response is already in flight.
func (s *ChatSession) BeginStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return false
	}
	s.streaming = true
	return true
}

// EndStream releases the streaming slot
func (s *ChatSession) EndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

// HealthStatus is the health query result
type HealthStatus struct {
	Status                        string  `json:"status"` // healthy | degraded | unhealthy
	ActiveSessions                int     `json:"activeSessions"`
	TotalMessages                 int64   `json:"totalMessages"`
	ErrorsCount                   int64   `json:"errorsCount"`
	AverageSessionDurationSeconds float64 `json:"averageSessionDurationSeconds"`
}

// Registry is the process-wide map of live sessions keyed by session id.
// It also accumulates the lightweight cumulative metrics the health query
// reports.
type Registry struct {
	sessions map[string]*ChatSession
	mu       sync.RWMutex

	inactiveThreshold time.Duration
	softSessionCap    int
	logger            *zap.SugaredLogger

	// Cumulative counters; totalDuration covers ended sessions only
	totalSessions int64
	totalMessages int64
	errorCount    int64
	endedSessions int64
	totalDuration time.Duration

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// NewRegistry creates a session registry. Sessions idle past
// inactiveThreshold are removed by the periodic sweep.
func NewRegistry(inactiveThreshold time.Duration, softSessionCap int, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		sessions:          make(map[string]*ChatSession),
		inactiveThreshold: inactiveThreshold,
		softSessionCap:    softSessionCap,
		logger:            logger.Named("session"),
		cleanupInterval:   constants.DefaultCleanupInterval,
		stopCleanup:       make(chan struct{}),
	}
}

// Register creates a session for a connection and returns it.
// The session id is unique process-wide for the session's lifetime.
func (r *Registry) Register(user *auth.ContextUser, conn Conn, ipAddress, userAgent string) *ChatSession {
	now := time.Now()
	session := &ChatSession{
		ID:           uuid.New().String(),
		User:         user,
		Conn:         conn,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.totalSessions++
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	metrics.SessionsCreated.Inc()

	return session
}

// Get retrieves a session by id
func (r *Registry) Get(sessionID string) (*ChatSession, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// Remove deletes a session from the registry and folds its duration into the
// cumulative average. Removing an unknown id is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	session, exists := r.sessions[sessionID]
	if exists {
		delete(r.sessions, sessionID)
		r.endedSessions++
		r.totalDuration += time.Since(session.CreatedAt)
	}
	r.mu.Unlock()

	// No else needed: optional operation (metrics only on real removal)
	if exists {
		metrics.ActiveSessions.Dec()
		metrics.SessionsEnded.Inc()
	}
}

// RecordMessage counts one processed inbound message
func (r *Registry) RecordMessage() {
	r.mu.Lock()
	r.totalMessages++
	r.mu.Unlock()
}

// RecordError counts one gateway-level error
func (r *Registry) RecordError() {
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

// ActiveCount returns the number of live sessions
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns all live sessions
func (r *Registry) Snapshot() []*ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*ChatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Health reports the health of the chat surface. Status degrades when the
// error rate exceeds 5% or the session count exceeds the soft ceiling, and
// goes unhealthy past a 10% error rate.
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "healthy"
	var errorRate float64
	if r.totalMessages > 0 {
		errorRate = float64(r.errorCount) / float64(r.totalMessages)
	}

	if errorRate > 0.05 || len(r.sessions) > r.softSessionCap {
		status = "degraded"
	}
	if errorRate > 0.10 {
		status = "unhealthy"
	}

	var avgDuration float64
	if r.endedSessions > 0 {
		avgDuration = (r.totalDuration / time.Duration(r.endedSessions)).Seconds()
	}

	return HealthStatus{
		Status:                        status,
		ActiveSessions:                len(r.sessions),
		TotalMessages:                 r.totalMessages,
		ErrorsCount:                   r.errorCount,
		AverageSessionDurationSeconds: avgDuration,
	}
}

// Cleanup removes sessions whose last activity is older than the inactive
// threshold. Each removed session's connection receives a clean close with
// an idle-timeout code.
func (r *Registry) Cleanup() {
	cutoff := time.Now().Add(-r.inactiveThreshold)

	r.mu.Lock()
	var stale []*ChatSession
	for id, session := range r.sessions {
		if session.LastActivityAt().Before(cutoff) {
			delete(r.sessions, id)
			r.endedSessions++
			r.totalDuration += time.Since(session.CreatedAt)
			stale = append(stale, session)
		}
	}
	r.mu.Unlock()

	// Close outside the lock; the close path may block on the peer
	for _, session := range stale {
		r.logger.Infow("Removing inactive session",
			"session_id", session.ID,
			"user", session.User.PreferredUsername,
			"last_activity", session.LastActivityAt())
		session.Conn.CloseWithCode(constants.CloseIdleTimeout, "session inactive")
		metrics.ActiveSessions.Dec()
		metrics.SessionsEnded.Inc()
	}
}

// StartCleanup starts the periodic inactive-session sweep
func (r *Registry) StartCleanup() {
	r.cleanupWg.Add(1)
	go func() {
		defer r.cleanupWg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Cleanup()
			case <-r.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the sweep goroutine and waits for it to finish.
// Safe to call more than once.
func (r *Registry) StopCleanup() {
	r.stopOnce.Do(func() {
		close(r.stopCleanup)
	})
	r.cleanupWg.Wait()
}
