// Package chat implements the dispatcher for chat-route connections: session
// registration, frame validation, per-message rate limiting, and chunked
// response streaming.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/config"
	"github.com/openboard/gateway/internal/constants"
	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/message"
	"github.com/openboard/gateway/internal/metrics"
	"github.com/openboard/gateway/internal/ratelimit"
	"github.com/openboard/gateway/internal/session"
	"github.com/openboard/gateway/internal/util"
	"github.com/openboard/gateway/internal/websocket"
)

// Responder produces the reply text for a user message. The production
// implementation lives with the business routers; the dispatcher only cares
// about streaming whatever comes back.
type Responder interface {
	Respond(ctx context.Context, user string, content string) (string, error)
}

// EchoResponder is the default responder: it acknowledges the message and
// echoes it back. Useful for development and tests.
type EchoResponder struct{}

// Respond implements Responder
func (EchoResponder) Respond(_ context.Context, user string, content string) (string, error) {
	return "Message received from " + user + ": " + content, nil
}

// Dispatcher consumes validated chat connections, owns their sessions, and
// produces outbound framed responses. It implements websocket.ConnectionHandler.
type Dispatcher struct {
	registry    *session.Registry
	connLimiter *ratelimit.Limiter // connections/minute per user identity
	msgLimiter  *ratelimit.Limiter // messages/minute per session id
	responder   Responder
	cfg         config.WebSocketConfig
	logger      *zap.SugaredLogger
}

// NewDispatcher creates a chat dispatcher. The two limiters are independent
// instances and never share state.
func NewDispatcher(registry *session.Registry, connLimiter, msgLimiter *ratelimit.Limiter, responder Responder, cfg config.WebSocketConfig, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		connLimiter: connLimiter,
		msgLimiter:  msgLimiter,
		responder:   responder,
		cfg:         cfg,
		logger:      logger.Named("chat"),
	}
}

// OnConnect admits a chat connection. Registration itself is rate-limited
// per user identity; on exceed the gateway closes the socket rather than
// registering it.
func (d *Dispatcher) OnConnect(conn *websocket.Connection) error {
	user := conn.User
	// No else needed: early return pattern (guard clause)
	if user == nil {
		return gwerrors.ErrAuthRequired()
	}

	result := d.connLimiter.CheckLimit(user.Subject)
	// No else needed: early return pattern (guard clause)
	if !result.Allowed {
		metrics.RateLimitRejections.WithLabelValues("connection").Inc()
		return gwerrors.ErrConnectionLimitExceeded(d.connLimiter.RetryAfter(user.Subject))
	}

	sess := d.registry.Register(user, conn, conn.RemoteAddr, conn.UserAgent)
	conn.SetSessionID(sess.ID)

	d.logger.Infow("Chat session registered",
		"session_id", sess.ID,
		"user", user.PreferredUsername)

	return nil
}

// OnFrame validates and processes one inbound frame. Validation order:
// size bound, JSON-parseability, type enumeration, content ceiling — then
// session expiry and the per-message rate limit before business processing.
func (d *Dispatcher) OnFrame(conn *websocket.Connection, raw []byte) {
	sess, err := d.registry.Get(conn.GetSessionID())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		// Session already gone (expired or closed concurrently)
		d.sendError(conn, "", gwerrors.NewSessionError(gwerrors.ErrCodeSessionNotFound, "Session not found", err))
		return
	}

	// Size bound. The transport read limit already enforces this, but the
	// dispatcher re-checks so frames injected by other paths get the same
	// treatment.
	if int64(len(raw)) > d.cfg.MaxMessageSize {
		d.sendError(conn, sess.ID, gwerrors.NewValidationError(gwerrors.ErrCodeMessageTooLarge, "Frame exceeds size limit", nil))
		return
	}

	var frame message.Frame
	// No else needed: error handling with return (reports and stops)
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.sendError(conn, sess.ID, gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat, "Invalid frame format", err))
		return
	}

	frame.Sanitize()

	// Clients may omit the timestamp; default it before validation
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}

	// No else needed: error handling with return (reports and stops)
	if err := frame.Validate(); err != nil {
		code := gwerrors.ErrCodeInvalidFormat
		var vErr *message.ValidationError
		if errors.As(err, &vErr) && vErr.Field == "type" {
			code = gwerrors.ErrCodeUnknownType
		}
		d.sendError(conn, sess.ID, gwerrors.NewValidationError(code, "Frame validation failed", err))
		return
	}

	// No else needed: early return pattern (guard clause)
	if len(frame.Content) > d.cfg.MaxContentLength {
		d.sendError(conn, sess.ID, gwerrors.NewValidationError(gwerrors.ErrCodeContentTooLong, "Content exceeds maximum length", nil))
		return
	}

	// Session-level expiry is checked on every message; an expired session
	// is closed rather than processed.
	if sess.Expired(d.cfg.MaxSessionAge) {
		d.sendError(conn, sess.ID, gwerrors.ErrSessionExpired())
		return
	}

	// Per-message rate limiting keyed by session id; a rejected message
	// leaves the connection open.
	if !d.msgLimiter.Allow(sess.ID) {
		metrics.RateLimitRejections.WithLabelValues("message").Inc()
		d.sendError(conn, sess.ID, gwerrors.ErrRateLimited(d.msgLimiter.RetryAfter(sess.ID)))
		return
	}

	sess.Touch()
	d.registry.RecordMessage()

	switch frame.Type {
	case message.TypeUserMessage:
		d.handleUserMessage(sess, &frame)

	case message.TypePing:
		d.sendFrame(sess, &message.Frame{
			Type:      message.TypePong,
			SessionID: sess.ID,
			Timestamp: time.Now(),
		})

	case message.TypePong:
		// Liveness already recorded by the transport layer

	default:
		// Server-originated frame types are not acceptable inbound
		d.sendError(conn, sess.ID, gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat,
			"Frame type not accepted from clients", nil))
	}
}

// OnDisconnect tears down the connection's session. Any in-flight chunked
// send observes the closed connection and aborts.
func (d *Dispatcher) OnDisconnect(conn *websocket.Connection) {
	sessionID := conn.GetSessionID()
	// No else needed: optional operation (connection may predate registration)
	if sessionID != "" {
		d.registry.Remove(sessionID)
		d.logger.Infow("Chat session removed", "session_id", sessionID)
	}
}

// Unregister removes a session and closes its connection with the given code
func (d *Dispatcher) Unregister(sessionID string, code int, reason string) {
	sess, err := d.registry.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return
	}
	d.registry.Remove(sessionID)
	sess.Conn.CloseWithCode(code, reason)
}

// SendMessage delivers a frame to one session. Returns false when the
// session is unknown or its connection refuses the send.
func (d *Dispatcher) SendMessage(sessionID string, frame *message.Frame) bool {
	sess, err := d.registry.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return false
	}
	return d.sendFrame(sess, frame)
}

// Broadcast delivers a frame to every live session and returns the number
// of successful sends
func (d *Dispatcher) Broadcast(frame *message.Frame) int {
	sent := 0
	for _, sess := range d.registry.Snapshot() {
		outbound := *frame
		outbound.SessionID = sess.ID
		if d.sendFrame(sess, &outbound) {
			sent++
		}
	}
	return sent
}

// Health reports the chat surface's health snapshot
func (d *Dispatcher) Health() session.HealthStatus {
	return d.registry.Health()
}

// handleUserMessage produces and streams a reply for a user message.
// A session processes at most one outbound logical response at a time.
func (d *Dispatcher) handleUserMessage(sess *session.ChatSession, frame *message.Frame) {
	// No else needed: early return pattern (guard clause)
	if !sess.BeginStream() {
		d.sendFrame(sess, errorFrame(sess.ID, gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat,
			"A response is already being generated for this session", nil)))
		return
	}

	content := frame.Content
	util.SafeGo(d.logger, "streamResponse", func() {
		defer sess.EndStream()
		d.streamResponse(sess, content)
	})
}

// streamResponse emits one logical reply as an ordered sequence of
// response_chunk frames followed by exactly one response_complete frame.
// Chunks are split on whitespace boundaries at a fixed chunk size and are
// never reordered or coalesced across requests. The loop aborts as soon as
// the connection stops accepting sends.
func (d *Dispatcher) streamResponse(sess *session.ChatSession, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
	defer cancel()

	reply, err := d.responder.Respond(ctx, sess.User.PreferredUsername, content)
	// No else needed: error handling with return (reports and stops)
	if err != nil {
		util.LogError(d.logger, "chat", "generate response", err, "session_id", sess.ID)
		d.registry.RecordError()
		d.sendFrame(sess, errorFrame(sess.ID, gwerrors.NewServiceError(gwerrors.ErrCodeServiceError,
			"Failed to generate response", err)))
		return
	}

	// Simulated thinking delay before the first chunk
	time.Sleep(d.cfg.ThinkingDelay)

	words := strings.Fields(reply)
	messageID := uuid.New().String()
	chunkIndex := 0

	for start := 0; start < len(words); start += d.cfg.ChunkSize {
		end := start + d.cfg.ChunkSize
		if end > len(words) {
			end = len(words)
		}

		chunk := &message.Frame{
			Type:      message.TypeResponseChunk,
			SessionID: sess.ID,
			MessageID: messageID,
			Content:   strings.Join(words[start:end], " "),
			Metadata:  map[string]string{"chunk_index": strconv.Itoa(chunkIndex)},
			Timestamp: time.Now(),
		}

		// A failed send means the connection is closing; abort the stream
		// No else needed: early return pattern (guard clause)
		if !d.sendFrame(sess, chunk) {
			d.logger.Debugw("Aborting response stream, connection closing",
				"session_id", sess.ID,
				"chunks_sent", chunkIndex)
			return
		}
		chunkIndex++
	}

	complete := &message.Frame{
		Type:      message.TypeResponseComplete,
		SessionID: sess.ID,
		MessageID: messageID,
		Metadata: map[string]string{
			"word_count":  strconv.Itoa(len(words)),
			"chunk_count": strconv.Itoa(chunkIndex),
		},
		Timestamp: time.Now(),
	}
	d.sendFrame(sess, complete)
}

// sendFrame marshals and sends a frame to a session's connection
func (d *Dispatcher) sendFrame(sess *session.ChatSession, frame *message.Frame) bool {
	data, err := json.Marshal(frame)
	// No else needed: error handling with return (marshal failures are internal bugs)
	if err != nil {
		util.LogError(d.logger, "chat", "marshal frame", err, "session_id", sess.ID)
		return false
	}
	return sess.Conn.SafeSend(data)
}

// sendError reports a gateway error to the client as a structured error
// frame. Session-fatal categories close the connection after the client is
// notified.
func (d *Dispatcher) sendError(conn *websocket.Connection, sessionID string, gwErr *gwerrors.GatewayError) {
	d.registry.RecordError()
	metrics.FrameErrors.Inc()

	d.logger.Warnw("Chat frame error",
		"session_id", sessionID,
		"code", gwErr.Code,
		"category", gwErr.Category)

	if data, err := json.Marshal(errorFrame(sessionID, gwErr)); err == nil {
		conn.SafeSend(data)
	}

	// No else needed: optional operation (only fatal categories close)
	if gwErr.IsFatal() {
		closeCode := constants.CloseAuthRequired
		if gwErr.Category == gwerrors.CategorySession {
			closeCode = constants.CloseSessionExpired
		}
		if sessionID != "" {
			d.registry.Remove(sessionID)
		}
		conn.CloseWithCode(closeCode, string(gwErr.Code))
	}
}

// errorFrame builds an error-type frame from a gateway error
func errorFrame(sessionID string, gwErr *gwerrors.GatewayError) *message.Frame {
	return &message.Frame{
		Type:      message.TypeError,
		SessionID: sessionID,
		Error:     gwErr.ToErrorInfo(),
		Timestamp: time.Now(),
	}
}
