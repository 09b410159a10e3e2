package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openboard/gateway/internal/constants"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.Server.PathPrefix)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Empty(t, cfg.Server.MetricsAllowedNetworks)

	assert.Equal(t, constants.DefaultMaxConnections, cfg.WebSocket.MaxConnections)
	assert.Equal(t, int64(constants.DefaultMaxMessageSize), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, constants.DefaultChunkSize, cfg.WebSocket.ChunkSize)
	assert.Empty(t, cfg.WebSocket.AllowedOrigins)

	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, constants.DefaultSessionCookieName, cfg.Auth.CookieName)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.Equal(t, http.SameSiteLaxMode, cfg.Auth.CookieSameSite)
	assert.Equal(t, constants.DefaultRefreshTTL, cfg.Auth.RefreshTTL)

	assert.Equal(t, constants.DefaultMongoURI, cfg.Database.URI)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://board.example.org, https://staging.example.org")
	t.Setenv("WS_MAX_CONNECTIONS", "50")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("JWT_SECRET", "override-key-0123456789abcdefghij")
	t.Setenv("SESSION_COOKIE_SAMESITE", "strict")
	t.Setenv("SESSION_COOKIE_SECURE", "false")
	t.Setenv("RATE_LIMIT_MESSAGES", "5")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://board.example.org", "https://staging.example.org"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 50, cfg.WebSocket.MaxConnections)
	assert.Equal(t, 45*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, "override-key-0123456789abcdefghij", cfg.Auth.JWTSecret)
	assert.Equal(t, http.SameSiteStrictMode, cfg.Auth.CookieSameSite)
	assert.False(t, cfg.Auth.CookieSecure)
	assert.Equal(t, 5, cfg.RateLimit.MessagesPerWindow)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultHeartbeatInterval, cfg.WebSocket.HeartbeatInterval)
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"path prefix without slash", func(c *Config) { c.Server.PathPrefix = "gateway" }},
		{"non-positive max connections", func(c *Config) { c.WebSocket.MaxConnections = 0 }},
		{"non-positive message size", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }},
		{"non-positive chunk size", func(c *Config) { c.WebSocket.ChunkSize = 0 }},
		{"non-positive heartbeat", func(c *Config) { c.WebSocket.HeartbeatInterval = 0 }},
		{"non-positive idle timeout", func(c *Config) { c.WebSocket.AuthIdleTimeout = 0 }},
		{"non-positive rate window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"retention shorter than window", func(c *Config) {
			c.RateLimit.Window = time.Minute
			c.RateLimit.BucketRetention = time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"https://board.example.org"}, "https://board.example.org", true},
		{"no match", []string{"https://board.example.org"}, "https://evil.example.org", false},
		{"subdomain is not a match", []string{"https://example.org"}, "https://sub.example.org", false},
		{"scheme matters", []string{"https://board.example.org"}, "http://board.example.org", false},
		{"wildcard allows anything", []string{"*"}, "https://anywhere.example.org", true},
		{"wildcard allows absent origin", []string{"*"}, "", true},
		{"absent origin rejected without wildcard", []string{"https://board.example.org"}, "", false},
		{"empty allow-list rejects everything", nil, "https://board.example.org", false},
		{"wildcard among entries", []string{"https://a.example.org", "*"}, "https://b.example.org", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &WebSocketConfig{AllowedOrigins: tt.allowed}
			assert.Equal(t, tt.want, cfg.OriginAllowed(tt.origin))
		})
	}
}

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteStrictMode, parseSameSite("strict"))
	assert.Equal(t, http.SameSiteNoneMode, parseSameSite("none"))
	assert.Equal(t, http.SameSiteLaxMode, parseSameSite("lax"))
	assert.Equal(t, http.SameSiteLaxMode, parseSameSite("bogus"))
}
