// Package websocket implements the authenticated connection gateway: upgrade
// admission, credential extraction, connection supervision, and frame routing.
package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/constants"
	"github.com/openboard/gateway/internal/metrics"
)

// writeWait is the time allowed to write a message to the peer
var writeWait = constants.WriteWait

// Connection represents an active WebSocket connection with user context.
// The user is nil for connections admitted unauthenticated.
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// ConnectionID is a unique identifier for this connection
	ConnectionID string

	// User is the provisioned identity, nil when unauthenticated
	User *auth.ContextUser

	// SessionID is set once the chat dispatcher registers the connection
	SessionID string

	// RemoteAddr and UserAgent are captured from the upgrade request
	RemoteAddr string
	UserAgent  string

	// send is a buffered channel for outbound messages
	send chan []byte

	// closing indicates the connection is being torn down.
	// Set before closing the send channel to prevent send-on-closed-channel panics.
	closing atomic.Bool

	// sendMu serializes SafeSend against closeSend so an in-flight send can
	// never hit the closed channel
	sendMu   sync.RWMutex
	sendOnce sync.Once

	// writeMu serializes every frame written to the socket. The write pump,
	// the heartbeat supervisor, and policy closes all write; gorilla permits
	// at most one concurrent writer per connection.
	writeMu sync.Mutex

	// alive is the heartbeat liveness flag. The supervisor flips it to false
	// on every tick; a pong (or any inbound frame) flips it back.
	alive atomic.Bool

	// idleTimer fires when the connection has been silent past its policy
	// window. The window depends on authentication state.
	idleTimer  *time.Timer
	idleWindow time.Duration

	// mu protects concurrent access to the connection
	mu sync.RWMutex
}

// newConnection creates a connection with user context.
// The connection ID format: subject-nanosecondTimestamp-randomHex, ensuring
// uniqueness even for rapid connections from the same user.
func newConnection(conn *websocket.Conn, user *auth.ContextUser, remoteAddr, userAgent string) *Connection {
	ident := "anon"
	if user != nil {
		ident = user.Subject
	}

	randomBytes := make([]byte, 8)
	var connectionID string
	// No else needed: fallback logic for rare error case
	if _, err := rand.Read(randomBytes); err != nil {
		connectionID = fmt.Sprintf("%s-%d", ident, time.Now().UnixNano())
	} else {
		connectionID = fmt.Sprintf("%s-%d-%s", ident, time.Now().UnixNano(), hex.EncodeToString(randomBytes))
	}

	c := &Connection{
		conn:         conn,
		ConnectionID: connectionID,
		User:         user,
		RemoteAddr:   remoteAddr,
		UserAgent:    userAgent,
		send:         make(chan []byte, 256),
	}
	c.alive.Store(true)
	return c
}

// NewConnectionForTest creates a detached connection for tests
func NewConnectionForTest(user *auth.ContextUser) *Connection {
	c := &Connection{
		ConnectionID: fmt.Sprintf("test-%d", time.Now().UnixNano()),
		User:         user,
		send:         make(chan []byte, 256),
	}
	c.alive.Store(true)
	return c
}

// Authenticated reports whether the connection carries a verified identity
func (c *Connection) Authenticated() bool {
	return c.User != nil
}

// GetSessionID returns the chat session id bound to this connection
func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionID
}

// SetSessionID binds a chat session id to this connection
func (c *Connection) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionID = sessionID
}

// SafeSend attempts to send data to the connection's send channel.
// Returns false if the connection is closing or the channel is full.
// This is the preferred method for sending data to avoid panics on closed channels.
func (c *Connection) SafeSend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReceiveForTest returns the send channel as a receive channel for testing
// purposes. This should only be used in tests to verify outbound frames.
func (c *Connection) ReceiveForTest() <-chan []byte {
	return c.send
}

// SetClosing marks the connection as closing.
// After this call, SafeSend will return false.
func (c *Connection) SetClosing() {
	c.closing.Store(true)
}

// closeSend marks the connection closing and closes the send channel exactly
// once. It holds the same lock SafeSend reads under, so the flag check and
// the channel close are atomic with respect to each other.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.closing.Store(true)
	c.sendOnce.Do(func() {
		close(c.send)
	})
}

// writeMessage writes one frame under the write lock. Every write to the
// socket goes through here: gorilla/websocket supports at most one
// concurrent writer per connection.
func (c *Connection) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// CloseWithCode performs a clean close: a close frame with the given code and
// reason, then the underlying transport. Used for policy closes (idle
// timeout, session expiry, rate limit) where a handshake is expected.
func (c *Connection) CloseWithCode(code int, reason string) {
	c.SetClosing()
	c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.Close()
}

// Terminate force-closes the underlying transport without a close handshake.
// Used by the heartbeat supervisor when the peer is presumed dead.
func (c *Connection) Terminate() {
	c.SetClosing()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Close gracefully closes the WebSocket connection and cleans up resources
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// markActive records inbound activity: the heartbeat flag is confirmed and
// the idle timer restarts
func (c *Connection) markActive() {
	c.alive.Store(true)
	c.resetIdleTimer()
}

// startIdleTimer opens the idle-timeout timer for this connection.
// onExpire runs in the timer goroutine when the window elapses.
func (c *Connection) startIdleTimer(window time.Duration, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleWindow = window
	c.idleTimer = time.AfterFunc(window, onExpire)
}

// resetIdleTimer restarts the idle window after inbound activity
func (c *Connection) resetIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.idleWindow)
	}
}

// stopIdleTimer clears the pending idle timer so closed connections do not
// leak timers
func (c *Connection) stopIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// writePump writes messages to the WebSocket connection.
// Heartbeat pings are sent by the supervisor, not here; this loop only
// drains the send channel and performs the closing handshake.
func (c *Connection) writePump() {
	defer c.Close()

	for msg := range c.send {
		// No else needed: error handling with return (exits function)
		// Write each message as a separate WebSocket frame so the client
		// can parse frames independently.
		if err := c.writeMessage(websocket.TextMessage, msg); err != nil {
			return
		}

		metrics.FramesSent.Inc()
	}

	// Channel closed, send close message
	c.writeMessage(websocket.CloseMessage, []byte{})
}

// writePing sends a ping control frame; used by the heartbeat supervisor
func (c *Connection) writePing() error {
	return c.writeMessage(websocket.PingMessage, nil)
}
