// Package gateway provides the main service registration for the real-time
// connection gateway. It wires the WebSocket surfaces, the refresh-session
// endpoints, and the operational endpoints onto a Gin engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/chat"
	"github.com/openboard/gateway/internal/config"
	"github.com/openboard/gateway/internal/constants"
	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/httperrors"
	"github.com/openboard/gateway/internal/message"
	"github.com/openboard/gateway/internal/metrics"
	"github.com/openboard/gateway/internal/ratelimit"
	"github.com/openboard/gateway/internal/rpc"
	"github.com/openboard/gateway/internal/session"
	"github.com/openboard/gateway/internal/storage"
	"github.com/openboard/gateway/internal/util"
	"github.com/openboard/gateway/internal/websocket"
)

var (
	// Global references for graceful shutdown
	globalGateway  *websocket.Gateway
	globalRegistry *session.Registry
	globalLimiters []*ratelimit.Limiter
	globalLogger   *zap.SugaredLogger
	shutdownMu     sync.Mutex
)

// Register registers the gateway service on the given Gin engine.
//
// Parameters:
//   - r: Gin router for registering HTTP and WebSocket endpoints
//   - cfg: Loaded service configuration
//   - logger: Logger for structured logging
//   - client: MongoDB client for identity and refresh-session persistence
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, cfg *config.Config, logger *zap.SugaredLogger, client *mongo.Client) error {
	gatewayLogger := logger.Named("gateway")
	gatewayLogger.Infow("Initializing gateway service")

	// Validate credential configuration at startup so misconfigurations are
	// caught before serving traffic.
	if cfg.Auth.JWTSecret != "" {
		if containsPlaceholder(cfg.Auth.JWTSecret) {
			return fmt.Errorf("JWT_SECRET contains placeholder value — set a real secret before deploying")
		}
		// No else needed: early return pattern (guard clause)
		if err := validateJWTSecret(cfg.Auth.JWTSecret); err != nil {
			gatewayLogger.Errorw("Configuration validation failed", "error", err)
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	// No else needed: early return pattern (guard clause)
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWKSURL == "" {
		return fmt.Errorf("no token key source configured: set JWT_SECRET or OIDC_JWKS_URL")
	}

	// Create the token verifier. JWKS initialization fetches the key set, so
	// it is bounded by a startup deadline.
	verifierCtx, verifierCancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
	defer verifierCancel()
	verifier, err := auth.NewVerifier(verifierCtx, auth.VerifierConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		JWKSURL:   cfg.Auth.JWKSURL,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
	})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	// Create persistence
	db := client.Database(cfg.Database.Database)
	store := storage.New(db, cfg.Database.UsersCollection, cfg.Database.SessionsCollection, gatewayLogger)

	// Ensure MongoDB indexes are created for lookup performance and the
	// refresh-session TTL
	indexCtx, indexCancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
	defer indexCancel()
	// No else needed: optional operation (non-critical index creation)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		gatewayLogger.Warnw("Failed to create MongoDB indexes", "error", err)
		// Don't fail startup - indexes can be created manually if needed
	}

	provisioner := auth.NewProvisioner(store, gatewayLogger)

	// Create session registry and per-concern rate limiters. Each concern
	// owns its own limiter instance; they never share state.
	registry := session.NewRegistry(cfg.WebSocket.AuthIdleTimeout, constants.DefaultSoftSessionCap, gatewayLogger)
	connLimiter := ratelimit.New(cfg.RateLimit.ConnectionsPerWindow, cfg.RateLimit.Window, cfg.RateLimit.BucketRetention)
	msgLimiter := ratelimit.New(cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window, cfg.RateLimit.BucketRetention)
	loginLimiter := ratelimit.New(cfg.RateLimit.LoginsPerWindow, cfg.RateLimit.Window, cfg.RateLimit.BucketRetention)
	rpcLimiter := ratelimit.New(cfg.RateLimit.RPCPerWindow, cfg.RateLimit.Window, cfg.RateLimit.BucketRetention)
	publicLimiter := ratelimit.New(constants.PublicEndpointRate, 1*time.Minute, cfg.RateLimit.BucketRetention)
	limiters := []*ratelimit.Limiter{connLimiter, msgLimiter, loginLimiter, rpcLimiter, publicLimiter}

	// Create the connection gateway and its handlers
	gw := websocket.NewGateway(verifier, provisioner, cfg.WebSocket, gatewayLogger)
	chatDispatcher := chat.NewDispatcher(registry, connLimiter, msgLimiter, chat.EchoResponder{}, cfg.WebSocket, gatewayLogger)
	rpcDispatcher := rpc.NewDispatcher(rpcLimiter, gatewayLogger)

	// Authenticated connections can revoke every refresh session they own
	rpcDispatcher.Register("auth.logoutAll", func(conn *websocket.Connection, _ json.RawMessage) (interface{}, *gwerrors.GatewayError) {
		// No else needed: early return pattern (guard clause)
		if conn.User == nil {
			return nil, gwerrors.ErrAuthRequired()
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
		defer cancel()
		// No else needed: error handling with return (reports and stops)
		if err := store.DeleteSessionsForUser(ctx, conn.User.Subject); err != nil {
			util.LogError(gatewayLogger, "rpc", "revoke user sessions", err, "subject", conn.User.Subject)
			return nil, gwerrors.NewServiceError(gwerrors.ErrCodeDatabaseError, "Failed to revoke sessions", err)
		}
		metrics.RefreshSessionOps.WithLabelValues("revoke_all", "success").Inc()
		return gin.H{"revoked": true}, nil
	})

	// Local token issuer backs the refresh rotation for HMAC tokens
	var issuer *auth.LocalIssuer
	if cfg.Auth.JWTSecret != "" {
		issuer = auth.NewLocalIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, constants.DefaultAccessTokenTTL)
	}

	// SECURITY: When no origins are configured, all WebSocket upgrades are
	// refused. Configure WS_ALLOWED_ORIGINS (or "*" in development only).
	// No else needed: optional operation (warning for development configuration)
	if len(cfg.WebSocket.AllowedOrigins) == 0 {
		gatewayLogger.Warnw("No allowed origins configured, all WebSocket upgrades will be refused")
	} else if cfg.WebSocket.OriginAllowed("") {
		gatewayLogger.Warnw("Wildcard origin configured, allowing all origins (development mode)")
	}

	// Start background goroutines only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	registry.StartCleanup()
	for _, limiter := range limiters {
		limiter.StartCleanup()
	}
	gw.StartHeartbeat(cfg.WebSocket.HeartbeatInterval)

	// Store global references for graceful shutdown.
	// Stop any previously-registered instances to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalRegistry != nil {
		globalRegistry.StopCleanup()
	}
	for _, limiter := range globalLimiters {
		limiter.StopCleanup()
	}
	if globalGateway != nil {
		_ = globalGateway.ShutdownWithContext(context.Background())
	}
	globalGateway = gw
	globalRegistry = registry
	globalLimiters = limiters
	globalLogger = gatewayLogger
	shutdownMu.Unlock()

	// Configure CORS middleware from the origin allow-list. A wildcard
	// allow-list leaves CORS unrestricted, matching the upgrade policy.
	// No else needed: optional operation (CORS only with explicit origins)
	if len(cfg.WebSocket.AllowedOrigins) > 0 && !cfg.WebSocket.OriginAllowed("") {
		corsConfig := cors.Config{
			AllowOrigins:     cfg.WebSocket.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", constants.HeaderRetryAfter},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsConfig))

		gatewayLogger.Infow("CORS middleware configured",
			"allowed_origins", cfg.WebSocket.AllowedOrigins,
			"allow_credentials", true)
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			gatewayLogger.Warnw("Failed to set trusted proxies", "error", err)
		} else {
			gatewayLogger.Infow("Trusted proxies configured", "proxies", cfg.Server.TrustedProxies)
		}
	}

	// Apply security headers middleware
	r.Use(securityHeadersMiddleware())

	// Apply metrics middleware to record HTTP request duration
	r.Use(metricsMiddleware())

	gatewayLogger.Infow("Using HTTP path prefix", "prefix", cfg.Server.PathPrefix)

	// Register routes
	group := r.Group(cfg.Server.PathPrefix)
	{
		// WebSocket endpoints. The chat route requires a verified identity;
		// the generic RPC route admits anonymous connections.
		group.GET("/ws/chat", func(c *gin.Context) {
			gw.HandleChat(chatDispatcher)(c.Writer, c.Request)
		})
		group.GET("/ws", func(c *gin.Context) {
			gw.HandleRPC(rpcDispatcher)(c.Writer, c.Request)
		})

		// Refresh-session endpoints, rate limited per client IP
		authGroup := group.Group("/auth")
		authGroup.Use(loginRateLimitMiddleware(loginLimiter, gatewayLogger))
		{
			authGroup.POST("/token", handleTokenExchange(verifier, store, cfg.Auth, gatewayLogger))
			authGroup.POST("/refresh", handleRefresh(store, issuer, cfg.Auth, gatewayLogger))
			authGroup.POST("/logout", handleLogout(store, cfg.Auth, gatewayLogger))
		}

		// Health check endpoints (rate limited to prevent abuse)
		group.GET("/healthz", publicRateLimitMiddleware(publicLimiter, gatewayLogger), handleHealthz(registry))
		group.GET("/readyz", publicRateLimitMiddleware(publicLimiter, gatewayLogger), handleReadyz(store, gatewayLogger))

		// Prometheus metrics endpoint — restricted to configured networks
		metricsNets := parseNetworks(cfg.Server.MetricsAllowedNetworks, gatewayLogger)
		group.GET("/metrics",
			metricsNetworkMiddleware(metricsNets, gatewayLogger),
			publicRateLimitMiddleware(publicLimiter, gatewayLogger),
			gin.WrapH(promhttp.Handler()),
		)
	}

	// Warn if MongoDB URI appears to have no authentication
	if cfg.Database.URI != "" && !strings.Contains(cfg.Database.URI, "@") {
		gatewayLogger.Warnw("MongoDB URI does not contain authentication credentials — ensure auth is configured for production")
	}

	gatewayLogger.Infow("Gateway service registered successfully",
		"chat_endpoint", cfg.Server.PathPrefix+"/ws/chat",
		"rpc_endpoint", cfg.Server.PathPrefix+"/ws",
		"auth_endpoints", cfg.Server.PathPrefix+"/auth/*",
		"health_endpoints", cfg.Server.PathPrefix+"/healthz, "+cfg.Server.PathPrefix+"/readyz",
		"metrics_endpoint", cfg.Server.PathPrefix+"/metrics",
	)

	return nil
}

// Shutdown gracefully drains the gateway service:
//
//  1. Broadcast a shutdown notice to every open connection
//  2. Stop accepting new connections
//  3. Close the WebSocket layer within the context deadline
//  4. Stop background goroutines
//
// The HTTP listener and the database client are owned by the caller and are
// released after this returns.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Infow("Starting graceful shutdown of gateway service")
	}

	// Broadcast a shutdown notice while connections are still flowing
	if globalGateway != nil {
		notice := &message.Frame{
			Type: message.TypeError,
			Error: &message.ErrorInfo{
				Code:    "SERVER_SHUTDOWN",
				Message: "Server is shutting down",
			},
			Timestamp: time.Now(),
		}
		// No else needed: optional operation (best-effort broadcast)
		if data, err := json.Marshal(notice); err == nil {
			sent := globalGateway.Broadcast(data)
			if globalLogger != nil {
				globalLogger.Infow("Shutdown notice broadcast", "recipients", sent)
			}
		}

		globalGateway.Drain()
	}

	// Stop background goroutines before closing connections so the sweeps
	// don't race the close storm
	// No else needed: optional operation (cleanup stop)
	if globalRegistry != nil {
		globalRegistry.StopCleanup()
	}
	for _, limiter := range globalLimiters {
		limiter.StopCleanup()
	}

	// Close all WebSocket connections with context deadline
	// No else needed: optional operation (WebSocket shutdown with error handling)
	if globalGateway != nil {
		// No else needed: early return pattern (guard clause)
		if err := globalGateway.ShutdownWithContext(ctx); err != nil {
			// No else needed: optional operation (error logging)
			if globalLogger != nil {
				globalLogger.Warnw("WebSocket gateway shutdown error", "error", err)
			}
			return err
		}
	}

	// No else needed: optional operation (final logging)
	if globalLogger != nil {
		globalLogger.Infow("Gateway service shutdown complete")
	}

	return nil
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware rate limits public endpoints (healthz, readyz,
// metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.Limiter, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() respects trusted proxies, preventing X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(clientIP) {
			metrics.RateLimitRejections.WithLabelValues("public").Inc()
			httperrors.RespondRateLimited(c, limiter.RetryAfter(clientIP))
			return
		}

		c.Next()
	}
}

// loginRateLimitMiddleware rate limits the auth endpoints by client IP.
// Credential work is comparatively expensive; the limit runs before any of it.
func loginRateLimitMiddleware(limiter *ratelimit.Limiter, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(clientIP) {
			metrics.RateLimitRejections.WithLabelValues("login").Inc()
			logger.Warnw("Auth rate limit exceeded",
				"client_ip", clientIP,
				"endpoint", c.Request.URL.Path)
			httperrors.RespondRateLimited(c, limiter.RetryAfter(clientIP))
			return
		}

		c.Next()
	}
}

// handleTokenExchange exchanges a verified bearer token for a refresh
// session. The response cookie carries only the opaque session id; the token
// itself stays server-side.
func handleTokenExchange(verifier *auth.Verifier, store *storage.Store, authCfg config.AuthConfig, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerFromHeader(c.GetHeader(constants.HeaderAuthorization))
		// No else needed: early return pattern (guard clause)
		if token == "" {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.DefaultContextTimeout)
		defer cancel()

		claims, err := verifier.Verify(ctx, token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			logger.Warnw("Token verification failed for session exchange", "error", err)
			metrics.TokenVerifications.WithLabelValues("failure").Inc()
			httperrors.RespondInvalidToken(c)
			return
		}
		metrics.TokenVerifications.WithLabelValues("success").Inc()

		now := time.Now()
		refreshSession := &storage.RefreshSession{
			SessionID: uuid.New().String(),
			UserID:    claims.Subject,
			Token:     token,
			TokenType: string(claims.TokenType),
			ExpiresAt: now.Add(authCfg.RefreshTTL),
			CreatedAt: now,
		}

		// No else needed: early return pattern (guard clause)
		if err := store.CreateSession(ctx, refreshSession); err != nil {
			util.LogError(logger, "auth", "create refresh session", err, "subject", claims.Subject)
			metrics.RefreshSessionOps.WithLabelValues("create", "failure").Inc()
			httperrors.RespondInternalError(c)
			return
		}
		metrics.RefreshSessionOps.WithLabelValues("create", "success").Inc()

		setSessionCookie(c, authCfg, refreshSession.SessionID, authCfg.RefreshTTL)

		c.JSON(http.StatusOK, gin.H{
			"session_expires_at": refreshSession.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleRefresh rotates a refresh session: the stored credential is exchanged
// for a fresh access token and the replacement is persisted atomically under
// the same session id. A missing, expired, or concurrently-deleted session is
// an authentication failure, never a silent pass-through.
func handleRefresh(store *storage.Store, issuer *auth.LocalIssuer, authCfg config.AuthConfig, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(authCfg.CookieName)
		// No else needed: early return pattern (guard clause)
		if err != nil || sessionID == "" {
			httperrors.RespondUnauthorized(c, "")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.DefaultContextTimeout)
		defer cancel()

		current, err := store.GetSession(ctx, sessionID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// No else needed: optional operation (only lookup misses clear the cookie)
			if errors.Is(err, storage.ErrSessionNotFound) {
				metrics.RefreshSessionOps.WithLabelValues("rotate", "not_found").Inc()
				clearSessionCookie(c, authCfg)
				httperrors.RespondSessionNotFound(c)
				return
			}
			util.LogError(logger, "auth", "load refresh session", err)
			httperrors.RespondInternalError(c)
			return
		}

		// Only locally issued tokens can be re-minted here; provider tokens
		// must be refreshed against the provider.
		// No else needed: early return pattern (guard clause)
		if current.TokenType != string(auth.TokenTypeLocal) || issuer == nil {
			httperrors.RespondUnauthorized(c, "Session cannot be refreshed")
			return
		}

		newToken, _, err := issuer.Reissue(current.Token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			util.LogError(logger, "auth", "reissue token", err, "session_id", sessionID)
			httperrors.RespondInternalError(c)
			return
		}

		rotated, err := store.RotateSession(ctx, sessionID, newToken, time.Now().Add(authCfg.RefreshTTL))
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// The session vanished between the read and the rotation; treat
			// the whole exchange as an authentication failure.
			if errors.Is(err, storage.ErrSessionNotFound) {
				metrics.RefreshSessionOps.WithLabelValues("rotate", "not_found").Inc()
				clearSessionCookie(c, authCfg)
				httperrors.RespondSessionNotFound(c)
				return
			}
			util.LogError(logger, "auth", "rotate refresh session", err, "session_id", sessionID)
			metrics.RefreshSessionOps.WithLabelValues("rotate", "failure").Inc()
			httperrors.RespondInternalError(c)
			return
		}
		metrics.RefreshSessionOps.WithLabelValues("rotate", "success").Inc()

		setSessionCookie(c, authCfg, rotated.SessionID, authCfg.RefreshTTL)

		c.JSON(http.StatusOK, gin.H{
			"access_token":       newToken,
			"token_type":         "Bearer",
			"session_expires_at": rotated.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleLogout deletes the refresh session and clears the cookie.
// Logging out an unknown session still clears the cookie and succeeds.
func handleLogout(store *storage.Store, authCfg config.AuthConfig, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(authCfg.CookieName)
		if err == nil && sessionID != "" {
			ctx, cancel := context.WithTimeout(c.Request.Context(), constants.DefaultContextTimeout)
			defer cancel()

			// No else needed: optional operation (unknown sessions are already logged out)
			if err := store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
				util.LogError(logger, "auth", "delete refresh session", err, "session_id", sessionID)
			} else {
				metrics.RefreshSessionOps.WithLabelValues("delete", "success").Inc()
			}
		}

		clearSessionCookie(c, authCfg)
		c.Status(http.StatusNoContent)
	}
}

// handleHealthz reports the chat surface's health. Degraded surfaces still
// answer 200 so orchestrators don't restart a merely busy pod; only an
// unhealthy surface fails the probe.
func handleHealthz(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := registry.Health()

		statusCode := http.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":                 health.Status,
			"active_sessions":        health.ActiveSessions,
			"total_messages":         health.TotalMessages,
			"errors_count":           health.ErrorsCount,
			"avg_session_duration_s": health.AverageSessionDurationSeconds,
			"timestamp":              time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// handleReadyz reports whether the service can serve traffic, checking every
// critical dependency
func handleReadyz(store *storage.Store, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
		defer cancel()

		// No else needed: optional operation (health check result recording)
		if err := store.Ping(ctx); err != nil {
			// Log detailed error server-side, send a generic reason to the client
			logger.Warnw("MongoDB health check failed", "error", err)
			checks["mongodb"] = map[string]interface{}{
				"status": "not ready",
				"reason": "Database connectivity check failed",
			}
			allReady = false
		} else {
			checks["mongodb"] = map[string]interface{}{"status": "ready"}
		}

		status := "ready"
		statusCode := http.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// setSessionCookie writes the refresh-session cookie. HttpOnly always; the
// remaining attributes come from configuration.
func setSessionCookie(c *gin.Context, authCfg config.AuthConfig, sessionID string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     authCfg.CookieName,
		Value:    sessionID,
		Path:     authCfg.CookiePath,
		Domain:   authCfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   authCfg.CookieSecure,
		SameSite: authCfg.CookieSameSite,
	})
}

// clearSessionCookie expires the refresh-session cookie
func clearSessionCookie(c *gin.Context, authCfg config.AuthConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     authCfg.CookieName,
		Value:    "",
		Path:     authCfg.CookiePath,
		Domain:   authCfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   authCfg.CookieSecure,
		SameSite: authCfg.CookieSameSite,
	})
}

// bearerFromHeader extracts the token from an Authorization header value
func bearerFromHeader(header string) string {
	if len(header) > constants.BearerPrefixLength && strings.EqualFold(header[:constants.BearerPrefixLength], constants.BearerPrefix) {
		return strings.TrimSpace(header[constants.BearerPrefixLength:])
	}
	return ""
}

// validateJWTSecret validates the JWT secret strength.
// Returns an error if the secret is too short or contains weak patterns.
func validateJWTSecret(secret string) error {
	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	lowerSecret := strings.ToLower(secret)
	for _, weak := range constants.WeakSecrets {
		if strings.Contains(lowerSecret, weak) {
			return fmt.Errorf(
				"JWT secret appears to be weak (contains '%s'). "+
					"Use a cryptographically random secret generated with: openssl rand -base64 32",
				weak)
		}
	}

	return nil
}

// parseNetworks parses a list of CIDR network strings, skipping invalid entries
func parseNetworks(cidrs []string, logger *zap.SugaredLogger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnw("Invalid CIDR in metrics allowed networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		// No else needed: early return pattern (guard clause)
		if clientIP == nil {
			logger.Warnw("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warnw("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP())
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}

// containsPlaceholder checks if a configuration value still contains
// a deployment placeholder that should have been replaced.
func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}
