// Package constants provides centralized constant definitions for the gateway.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	ShutdownTimeout       = 30 * time.Second // Graceful drain deadline
)

// Connection lifecycle
const (
	DefaultHeartbeatInterval = 30 * time.Second // Ping every tracked connection this often
	DefaultUnauthIdleTimeout = 5 * time.Minute  // Idle window for unauthenticated connections
	DefaultAuthIdleTimeout   = 30 * time.Minute // Idle window for authenticated connections
	DefaultMaxSessionAge     = 24 * time.Hour   // Hard ceiling on a chat session's lifetime
	WriteWait                = 10 * time.Second // Time allowed to write a frame to the peer
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 65536  // 64KB ceiling for a single WebSocket frame
	DefaultMaxContentLen  = 4000   // Maximum chat message content in characters
	DefaultMaxConnections = 1000   // Hard cap on concurrent connections
	DefaultSoftSessionCap = 500    // Soft session ceiling before health degrades
	DefaultChunkSize      = 10     // Words per response_chunk frame
	MaxUsernameLength     = 50     // Provisioned usernames are truncated to this
	MaxUsernameProbes     = 1000   // Dedup probes before falling back to a random suffix
	PublicEndpointRate    = 60     // Requests per minute for public endpoints (healthz, readyz, metrics)
	MaxBucketsTracked     = 100000 // Maximum distinct keys in a rate limiter map
)

// Rate limit defaults (count per window)
const (
	DefaultMessageRateLimit    = 60 // Messages per minute per session
	DefaultConnectionRateLimit = 10 // New connections per minute per user
	DefaultLoginRateLimit      = 5  // Login/refresh attempts per minute per IP
	DefaultRPCRateLimit        = 120
	DefaultRateWindow          = 1 * time.Minute
	DefaultBucketRetention     = 10 * time.Minute // Sweep buckets untouched past this
	DefaultCleanupInterval     = 5 * time.Minute  // Cleanup goroutine interval
)

// Token verification
const (
	ClockSkewLeeway    = 5 * time.Second // Tolerance on exp/nbf validation
	MinJWTSecretLength = 32              // Minimum characters for the HMAC secret
)

// WeakSecrets are substrings that indicate a placeholder or guessable JWT
// secret; startup fails when the configured secret contains one.
var WeakSecrets = []string{"secret", "password", "changeme", "default", "example", "12345678"}

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Refresh session defaults
const (
	DefaultRefreshTTL        = 30 * 24 * time.Hour // Refresh session lifetime
	DefaultAccessTokenTTL    = 1 * time.Hour       // Lifetime of locally minted access tokens
	DefaultSessionCookieName = "board_session"
	DefaultSessionCookiePath = "/"
)

// Response streaming
const (
	DefaultThinkingDelay = 500 * time.Millisecond // Artificial delay before streaming begins
)

// WebSocket close codes beyond the RFC 6455 set used by gorilla/websocket.
// 4000-4999 is the application-reserved range.
const (
	CloseAuthRequired     = 4001 // Route requires authentication and none was presented
	CloseSessionExpired   = 4002 // Chat session exceeded its maximum age
	CloseIdleTimeout      = 4003 // Connection idle past its policy window
	CloseCapacityExceeded = 4008 // Server at connection capacity
	CloseRateLimited      = 4029 // Connection-admission rate limit exceeded
)

// RoleUser is the role every provisioned user carries when the identity
// provider supplies none
const RoleUser = "user"

// Default Configuration Values
const (
	DefaultMongoURI           = "mongodb://localhost:27017"
	DefaultDatabase           = "board"
	DefaultUsersCollection    = "users"
	DefaultSessionsCollection = "refresh_sessions"
	DefaultPort               = 8080
	DefaultLogLevel           = "info"
	DefaultPathPrefix         = "/gateway" // Default HTTP path prefix for all routes
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID        = "_id"
	MongoFieldSubject   = "sub"
	MongoFieldUsername  = "username"
	MongoFieldUserID    = "uid"
	MongoFieldToken     = "token"
	MongoFieldExpiresAt = "expiresAt"
)

// MongoDB Index Names
const (
	IndexSubject    = "idx_subject"
	IndexUsername   = "idx_username"
	IndexSessionTTL = "idx_session_ttl"
)
