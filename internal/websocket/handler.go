package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/config"
	"github.com/openboard/gateway/internal/constants"
	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/metrics"
	"github.com/openboard/gateway/internal/util"
)

// upgrader configures the WebSocket upgrade.
// SECURITY: In production, this service MUST be deployed behind a reverse
// proxy that terminates TLS, ensuring all WebSocket connections use WSS.
// CheckOrigin always returns true because the gateway performs its own
// origin check before calling Upgrade; see handleUpgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenVerifier validates a bearer token and returns normalized claims
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// UserProvisioner resolves verified claims to an application user
type UserProvisioner interface {
	Provision(ctx context.Context, claims *auth.Claims) (*auth.ContextUser, error)
}

// ConnectionHandler consumes admitted connections. The chat dispatcher and
// the generic RPC handler both implement it; the gateway picks one per route.
type ConnectionHandler interface {
	// OnConnect is invoked once after admission. Returning an error causes
	// the gateway to close the socket instead of serving it (connection
	// admission rate limit, for example).
	OnConnect(conn *Connection) error
	// OnFrame receives raw frames in strict receipt order for one connection
	OnFrame(conn *Connection, data []byte)
	// OnDisconnect is invoked exactly once when the connection ends
	OnDisconnect(conn *Connection)
}

// Gateway accepts WebSocket upgrades, applies origin allow-listing and
// capacity admission, authenticates credentials, and routes connections to
// their handler. It also owns heartbeat supervision and idle timeouts.
type Gateway struct {
	verifier    TokenVerifier
	provisioner UserProvisioner
	logger      *zap.SugaredLogger
	cfg         config.WebSocketConfig

	// connections tracks every admitted connection by connection ID
	connections map[string]*Connection
	mu          sync.RWMutex

	// draining refuses new upgrades during shutdown
	draining atomic.Bool

	// heartbeat supervisor lifecycle
	heartbeatStop chan struct{}
	heartbeatOnce sync.Once
	heartbeatWg   sync.WaitGroup
}

// NewGateway creates a connection gateway
func NewGateway(verifier TokenVerifier, provisioner UserProvisioner, cfg config.WebSocketConfig, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		verifier:      verifier,
		provisioner:   provisioner,
		logger:        logger.Named("websocket"),
		cfg:           cfg,
		connections:   make(map[string]*Connection),
		heartbeatStop: make(chan struct{}),
	}
}

// ConnectionCount returns the number of currently tracked connections
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// HandleChat upgrades a chat-route request. Chat requires an authenticated
// identity; anonymous upgrades are refused before reaching OPEN.
func (g *Gateway) HandleChat(handler ConnectionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.handleUpgrade(w, r, handler, true)
	}
}

// HandleRPC upgrades a generic RPC-route request. Anonymous connections are
// admitted so public procedures stay reachable; the identity, when present,
// rides along on the connection.
func (g *Gateway) HandleRPC(handler ConnectionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.handleUpgrade(w, r, handler, false)
	}
}

// handleUpgrade performs the admission sequence:
//
//  1. Drain check — no new connections during shutdown
//  2. Origin allow-list — exact match, missing Origin rejected unless wildcard
//  3. Capacity — runs before any credential work is spent
//  4. Credential extraction + verification + provisioning
//  5. Upgrade, subprotocol echo, registration, supervision
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request, handler ConnectionHandler, requireAuth bool) {
	// No else needed: early return pattern (guard clause)
	if g.draining.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	// Origin check runs before token extraction so a disallowed origin never
	// triggers credential verification.
	origin := r.Header.Get("Origin")
	// No else needed: early return pattern (guard clause)
	if !g.cfg.OriginAllowed(origin) {
		g.logger.Warnw("Origin not allowed",
			"origin", origin,
			"remote", r.RemoteAddr)
		metrics.ConnectionsRejected.WithLabelValues("origin").Inc()
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// Capacity check precedes credential extraction to avoid wasted
	// verification work when the server is full.
	// No else needed: early return pattern (guard clause)
	if g.ConnectionCount() >= g.cfg.MaxConnections {
		g.logger.Warnw("Connection capacity exceeded",
			"max_connections", g.cfg.MaxConnections)
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	user := g.authenticate(r)

	// No else needed: early return pattern (guard clause)
	if requireAuth && user == nil {
		metrics.ConnectionsRejected.WithLabelValues("auth").Inc()
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	// Echo the bearer subprotocol when the client requested it; the
	// handshake fails on the client side otherwise.
	var responseHeader http.Header
	if auth.HasBearerSubprotocol(r) {
		responseHeader = http.Header{"Sec-Websocket-Protocol": []string{"bearer"}}
	}

	wsConn, err := upgrader.Upgrade(w, r, responseHeader)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(g.logger, "websocket", "upgrade connection", err)
		return
	}

	wsConn.SetReadLimit(g.cfg.MaxMessageSize)

	conn := newConnection(wsConn, user, r.RemoteAddr, r.UserAgent())

	// Concurrent upgrades can pass the early capacity check together; the
	// registration under lock is authoritative. A refusal here happens after
	// the handshake, so it carries its own close code.
	// No else needed: early return pattern (guard clause)
	if !g.register(conn) {
		g.logger.Warnw("Connection capacity exceeded after handshake",
			"connection_id", conn.ConnectionID,
			"max_connections", g.cfg.MaxConnections)
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		conn.CloseWithCode(constants.CloseCapacityExceeded, "server at capacity")
		return
	}

	// Idle policy depends on authentication state
	idleWindow := g.cfg.UnauthIdleTimeout
	if conn.Authenticated() {
		idleWindow = g.cfg.AuthIdleTimeout
	}
	conn.startIdleTimer(idleWindow, func() { g.closeIdle(conn) })

	// Pong confirms liveness and counts as activity for the idle policy
	wsConn.SetPongHandler(func(string) error {
		conn.markActive()
		return nil
	})

	// No else needed: error handling (admission refused by the handler)
	if err := handler.OnConnect(conn); err != nil {
		g.logger.Warnw("Connection refused by handler",
			"connection_id", conn.ConnectionID,
			"error", err)
		g.unregister(conn)
		conn.stopIdleTimer()
		g.closeRefused(conn, err)
		return
	}

	g.logger.Infow("WebSocket connection established",
		"connection_id", conn.ConnectionID,
		"authenticated", conn.Authenticated(),
		"component", "websocket")

	util.SafeGo(g.logger, "readPump", func() { g.readPump(conn, handler) })
	util.SafeGo(g.logger, "writePump", func() { conn.writePump() })
}

// authenticate extracts and verifies credentials, returning the provisioned
// user or nil. Extraction misses and verification failures are treated
// identically: the connection proceeds unauthenticated.
func (g *Gateway) authenticate(r *http.Request) *auth.ContextUser {
	token := auth.ExtractToken(r)
	// No else needed: early return pattern (guard clause)
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	claims, err := g.verifier.Verify(ctx, token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		g.logger.Warnw("Token verification failed",
			"error", err,
			"component", "websocket")
		metrics.TokenVerifications.WithLabelValues("failure").Inc()
		return nil
	}
	metrics.TokenVerifications.WithLabelValues("success").Inc()

	user, err := g.provisioner.Provision(ctx, claims)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(g.logger, "websocket", "provision user", err,
			"subject", claims.Subject)
		return nil
	}

	return user
}

// register adds a connection to the tracked set. Returns false when the
// connection cap is already reached; the check is re-done under the lock
// because the pre-upgrade check races concurrent handshakes.
func (g *Gateway) register(conn *Connection) bool {
	g.mu.Lock()
	if len(g.connections) >= g.cfg.MaxConnections {
		g.mu.Unlock()
		return false
	}
	g.connections[conn.ConnectionID] = conn
	total := len(g.connections)
	g.mu.Unlock()

	metrics.WebSocketConnections.Inc()

	g.logger.Infow("Connection registered",
		"connection_id", conn.ConnectionID,
		"total_connections", total)
	return true
}

// unregister removes a connection from the tracked set. Idempotent.
func (g *Gateway) unregister(conn *Connection) {
	g.mu.Lock()
	_, exists := g.connections[conn.ConnectionID]
	if exists {
		delete(g.connections, conn.ConnectionID)
		conn.closeSend()
	}
	g.mu.Unlock()

	// No else needed: optional operation (metrics only on real removal)
	if exists {
		metrics.WebSocketConnections.Dec()
	}
}

// closeIdle closes a connection that has been silent past its policy window.
// Idle expiry is a clean close, distinct from heartbeat termination.
func (g *Gateway) closeIdle(conn *Connection) {
	authState := "unauthenticated"
	if conn.Authenticated() {
		authState = "authenticated"
	}

	g.logger.Infow("Closing idle connection",
		"connection_id", conn.ConnectionID,
		"auth_state", authState)
	metrics.IdleTimeouts.WithLabelValues(authState).Inc()

	conn.CloseWithCode(websocket.CloseNormalClosure, "idle timeout")
}

// closeRefused closes a connection whose handler refused admission.
// Rate-limit refusals carry their own close code so clients can back off.
func (g *Gateway) closeRefused(conn *Connection, err error) {
	code := websocket.ClosePolicyViolation
	reason := "connection refused"

	var gwErr *gwerrors.GatewayError
	if errors.As(err, &gwErr) {
		reason = gwErr.Message
		if gwErr.Category == gwerrors.CategoryRateLimit {
			code = constants.CloseRateLimited
		}
	}

	conn.CloseWithCode(code, reason)
}

// readPump reads frames from the connection in strict receipt order and
// hands them to the handler. Cleanup runs exactly once when the loop exits.
func (g *Gateway) readPump(conn *Connection, handler ConnectionHandler) {
	defer func() {
		conn.stopIdleTimer()
		handler.OnDisconnect(conn)
		g.unregister(conn)
		conn.Close()

		g.logger.Infow("WebSocket connection closed",
			"connection_id", conn.ConnectionID,
			"session_id", conn.GetSessionID(),
			"component", "websocket")
	}()

	for {
		_, raw, err := conn.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				g.logger.Warnw("WebSocket message size limit exceeded",
					"connection_id", conn.ConnectionID,
					"limit", g.cfg.MaxMessageSize,
					"component", "websocket")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogError(g.logger, "websocket", "handle unexpected close", err,
					"connection_id", conn.ConnectionID,
					"session_id", conn.GetSessionID())
			}
			break
		}

		conn.markActive()
		metrics.FramesReceived.Inc()

		handler.OnFrame(conn, raw)
	}
}

// Drain stops accepting new connections. Part of the shutdown sequence;
// existing connections keep flowing until the WebSocket layer is closed.
func (g *Gateway) Drain() {
	g.draining.Store(true)
}

// Broadcast sends an encoded frame to every tracked connection and returns
// the number of successful sends
func (g *Gateway) Broadcast(data []byte) int {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if c.SafeSend(data) {
			sent++
		}
	}
	return sent
}

// ShutdownWithContext gracefully closes all active WebSocket connections.
// It respects the context deadline and reports an error if the deadline is
// exceeded before all connections close.
func (g *Gateway) ShutdownWithContext(ctx context.Context) error {
	g.Drain()
	g.stopHeartbeat()

	g.mu.Lock()
	connections := make([]*Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		connections = append(connections, conn)
	}
	g.mu.Unlock()

	g.logger.Infow("Shutting down WebSocket gateway",
		"open_connections", len(connections))

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.stopIdleTimer()
			c.CloseWithCode(websocket.CloseGoingAway, "Server shutting down")
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Infow("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		g.logger.Warnw("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}
