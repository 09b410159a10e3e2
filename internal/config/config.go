// Package config loads gateway configuration from environment variables.
// Environment variables take priority over built-in defaults so Kubernetes
// secrets and ConfigMaps can override everything.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openboard/gateway/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int
	PathPrefix string // HTTP path prefix for all routes (default: "/gateway")
	LogLevel   string

	// TrustedProxies are the networks whose X-Forwarded-For headers are honored
	TrustedProxies []string

	// MetricsAllowedNetworks restricts the Prometheus endpoint to these CIDRs.
	// Empty means unrestricted (development mode).
	MetricsAllowedNetworks []string
}

// WebSocketConfig holds connection-gateway configuration
type WebSocketConfig struct {
	AllowedOrigins    []string // Exact-match origin allow-list; "*" allows any origin
	MaxConnections    int      // Hard cap on concurrent connections
	MaxMessageSize    int64    // Byte ceiling for a single inbound frame
	MaxContentLength  int      // Character ceiling for chat message content
	HeartbeatInterval time.Duration
	UnauthIdleTimeout time.Duration // Idle window before an unauthenticated connection is closed
	AuthIdleTimeout   time.Duration // Idle window before an authenticated connection is closed
	MaxSessionAge     time.Duration // Hard ceiling on a chat session's lifetime
	ChunkSize         int           // Words per response_chunk frame
	ThinkingDelay     time.Duration // Artificial delay before streaming a reply
}

// AuthConfig holds token verification and refresh-cookie configuration
type AuthConfig struct {
	JWTSecret string // HMAC secret for locally issued tokens

	// OIDC access token verification. When Issuer/Audience are empty the
	// corresponding check is skipped.
	Issuer   string
	Audience string
	JWKSURL  string

	// Refresh-session cookie attributes. The cookie carries only the opaque
	// session id, never a token.
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSameSite http.SameSite
	CookieSecure   bool
	RefreshTTL     time.Duration
}

// RateLimitConfig holds the per-concern limiter settings.
// Each concern gets its own independently configured limiter instance.
type RateLimitConfig struct {
	MessagesPerWindow    int // Per chat session
	ConnectionsPerWindow int // Per user identity
	LoginsPerWindow      int // Per client IP
	RPCPerWindow         int // Per connection
	Window               time.Duration
	BucketRetention      time.Duration // Sweep horizon for untouched buckets
}

// DatabaseConfig holds MongoDB configuration
type DatabaseConfig struct {
	URI                string
	Database           string
	UsersCollection    string
	SessionsCollection string
	ConnectTimeout     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:                   getEnvAsInt("SERVER_PORT", constants.DefaultPort),
			PathPrefix:             getEnv("GATEWAY_PATH_PREFIX", constants.DefaultPathPrefix),
			LogLevel:               getEnv("LOG_LEVEL", constants.DefaultLogLevel),
			TrustedProxies:         getEnvAsSlice("TRUSTED_PROXIES", []string{}),
			MetricsAllowedNetworks: getEnvAsSlice("METRICS_ALLOWED_NETWORKS", []string{}),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:    getEnvAsSlice("WS_ALLOWED_ORIGINS", []string{}),
			MaxConnections:    getEnvAsInt("WS_MAX_CONNECTIONS", constants.DefaultMaxConnections),
			MaxMessageSize:    int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", constants.DefaultMaxMessageSize)),
			MaxContentLength:  getEnvAsInt("WS_MAX_CONTENT_LENGTH", constants.DefaultMaxContentLen),
			HeartbeatInterval: getEnvAsDuration("WS_HEARTBEAT_INTERVAL", constants.DefaultHeartbeatInterval),
			UnauthIdleTimeout: getEnvAsDuration("WS_UNAUTH_IDLE_TIMEOUT", constants.DefaultUnauthIdleTimeout),
			AuthIdleTimeout:   getEnvAsDuration("WS_AUTH_IDLE_TIMEOUT", constants.DefaultAuthIdleTimeout),
			MaxSessionAge:     getEnvAsDuration("WS_MAX_SESSION_AGE", constants.DefaultMaxSessionAge),
			ChunkSize:         getEnvAsInt("WS_CHUNK_SIZE", constants.DefaultChunkSize),
			ThinkingDelay:     getEnvAsDuration("WS_THINKING_DELAY", constants.DefaultThinkingDelay),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			Issuer:         getEnv("OIDC_ISSUER", ""),
			Audience:       getEnv("OIDC_AUDIENCE", ""),
			JWKSURL:        getEnv("OIDC_JWKS_URL", ""),
			CookieName:     getEnv("SESSION_COOKIE_NAME", constants.DefaultSessionCookieName),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", constants.DefaultSessionCookiePath),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookieSameSite: parseSameSite(getEnv("SESSION_COOKIE_SAMESITE", "lax")),
			CookieSecure:   getEnvAsBool("SESSION_COOKIE_SECURE", true),
			RefreshTTL:     getEnvAsDuration("REFRESH_SESSION_TTL", constants.DefaultRefreshTTL),
		},
		RateLimit: RateLimitConfig{
			MessagesPerWindow:    getEnvAsInt("RATE_LIMIT_MESSAGES", constants.DefaultMessageRateLimit),
			ConnectionsPerWindow: getEnvAsInt("RATE_LIMIT_CONNECTIONS", constants.DefaultConnectionRateLimit),
			LoginsPerWindow:      getEnvAsInt("RATE_LIMIT_LOGINS", constants.DefaultLoginRateLimit),
			RPCPerWindow:         getEnvAsInt("RATE_LIMIT_RPC", constants.DefaultRPCRateLimit),
			Window:               getEnvAsDuration("RATE_LIMIT_WINDOW", constants.DefaultRateWindow),
			BucketRetention:      getEnvAsDuration("RATE_LIMIT_RETENTION", constants.DefaultBucketRetention),
		},
		Database: DatabaseConfig{
			URI:                getEnv("MONGO_URI", constants.DefaultMongoURI),
			Database:           getEnv("MONGO_DATABASE", constants.DefaultDatabase),
			UsersCollection:    getEnv("MONGO_USERS_COLLECTION", constants.DefaultUsersCollection),
			SessionsCollection: getEnv("MONGO_SESSIONS_COLLECTION", constants.DefaultSessionsCollection),
			ConnectTimeout:     getEnvAsDuration("MONGO_CONNECT_TIMEOUT", constants.DefaultContextTimeout),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that would misbehave at runtime
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		return fmt.Errorf("path prefix must start with '/' (got: %s)", c.Server.PathPrefix)
	}
	if c.WebSocket.MaxConnections <= 0 {
		return errors.New("max connections must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}
	if c.WebSocket.ChunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.WebSocket.UnauthIdleTimeout <= 0 || c.WebSocket.AuthIdleTimeout <= 0 {
		return errors.New("idle timeouts must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.RateLimit.BucketRetention < c.RateLimit.Window {
		return errors.New("bucket retention must not be shorter than the rate limit window")
	}
	return nil
}

// OriginAllowed reports whether the given Origin header value is acceptable.
// The allow-list is exact-match; a single "*" entry allows any origin.
// An absent Origin header is only acceptable under the wildcard.
func (c *WebSocketConfig) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if origin != "" && allowed == origin {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
