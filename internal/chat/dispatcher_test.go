package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	"github.com/openboard/gateway/internal/config"
	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/message"
	"github.com/openboard/gateway/internal/ratelimit"
	"github.com/openboard/gateway/internal/session"
	"github.com/openboard/gateway/internal/websocket"
)

const recvTimeout = 2 * time.Second

// staticResponder returns a fixed reply regardless of input
type staticResponder struct {
	reply string
	err   error
}

func (s staticResponder) Respond(_ context.Context, _ string, _ string) (string, error) {
	return s.reply, s.err
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxMessageSize:   65536,
		MaxContentLength: 4000,
		MaxSessionAge:    24 * time.Hour,
		ChunkSize:        10,
		ThinkingDelay:    0,
	}
}

type dispatcherFixture struct {
	dispatcher  *Dispatcher
	registry    *session.Registry
	connLimiter *ratelimit.Limiter
	msgLimiter  *ratelimit.Limiter
}

func newFixture(t *testing.T, responder Responder, cfg config.WebSocketConfig) *dispatcherFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	registry := session.NewRegistry(30*time.Minute, 500, logger)
	connLimiter := ratelimit.New(100, time.Minute, time.Minute)
	msgLimiter := ratelimit.New(100, time.Minute, time.Minute)
	return &dispatcherFixture{
		dispatcher:  NewDispatcher(registry, connLimiter, msgLimiter, responder, cfg, logger),
		registry:    registry,
		connLimiter: connLimiter,
		msgLimiter:  msgLimiter,
	}
}

func connectedConn(t *testing.T, f *dispatcherFixture) *websocket.Connection {
	t.Helper()
	conn := websocket.NewConnectionForTest(&auth.ContextUser{Subject: "sub-1", PreferredUsername: "alice"})
	require.NoError(t, f.dispatcher.OnConnect(conn))
	require.NotEmpty(t, conn.GetSessionID())
	return conn
}

func recvFrame(t *testing.T, conn *websocket.Connection) message.Frame {
	t.Helper()
	select {
	case data := <-conn.ReceiveForTest():
		var frame message.Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(recvTimeout):
		t.Fatal("timed out waiting for outbound frame")
		return message.Frame{}
	}
}

func sendFrame(t *testing.T, f *dispatcherFixture, conn *websocket.Connection, frame message.Frame) {
	t.Helper()
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	data, err := json.Marshal(&frame)
	require.NoError(t, err)
	f.dispatcher.OnFrame(conn, data)
}

func TestOnConnect_RequiresAuthentication(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())

	err := f.dispatcher.OnConnect(websocket.NewConnectionForTest(nil))
	require.Error(t, err)

	var gwErr *gwerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerrors.CategoryAuth, gwErr.Category)
	assert.Equal(t, 0, f.registry.ActiveCount())
}

func TestOnConnect_RegistersSession(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())

	conn := connectedConn(t, f)

	sess, err := f.registry.Get(conn.GetSessionID())
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sess.User.Subject)
}

func TestOnConnect_RateLimitedPerUser(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	f.connLimiter = ratelimit.New(1, time.Minute, time.Minute)
	f.dispatcher = NewDispatcher(f.registry, f.connLimiter, f.msgLimiter, EchoResponder{}, testWSConfig(), zap.NewNop().Sugar())

	connectedConn(t, f)

	err := f.dispatcher.OnConnect(websocket.NewConnectionForTest(&auth.ContextUser{Subject: "sub-1"}))
	require.Error(t, err)

	var gwErr *gwerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerrors.ErrCodeConnectionLimit, gwErr.Code)
	assert.Greater(t, gwErr.RetryAfter, 0)
	assert.Equal(t, 1, f.registry.ActiveCount())
}

func TestOnFrame_InvalidJSON(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)

	f.dispatcher.OnFrame(conn, []byte("{not json"))

	frame := recvFrame(t, conn)
	assert.Equal(t, message.TypeError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "INVALID_FORMAT", frame.Error.Code)

	// Validation failures never close the connection
	assert.True(t, conn.SafeSend([]byte("probe")))
}

func TestOnFrame_UnknownType(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: "telemetry"})

	frame := recvFrame(t, conn)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "UNKNOWN_MESSAGE_TYPE", frame.Error.Code)
}

func TestOnFrame_ServerTypeRejectedInbound(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypeResponseChunk, Content: "spoofed"})

	frame := recvFrame(t, conn)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "INVALID_FORMAT", frame.Error.Code)
}

func TestOnFrame_OversizedFrame(t *testing.T) {
	cfg := testWSConfig()
	cfg.MaxMessageSize = 64
	f := newFixture(t, EchoResponder{}, cfg)
	conn := connectedConn(t, f)

	raw := make([]byte, 65)
	for i := range raw {
		raw[i] = 'a'
	}
	f.dispatcher.OnFrame(conn, raw)

	frame := recvFrame(t, conn)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "MESSAGE_TOO_LARGE", frame.Error.Code)
}

func TestOnFrame_PingRepliesPong(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypePing})

	frame := recvFrame(t, conn)
	assert.Equal(t, message.TypePong, frame.Type)
	assert.Equal(t, conn.GetSessionID(), frame.SessionID)
}

func TestOnFrame_MessageRateLimitLeavesConnectionOpen(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	f.msgLimiter = ratelimit.New(1, time.Minute, time.Minute)
	f.dispatcher = NewDispatcher(f.registry, f.connLimiter, f.msgLimiter, EchoResponder{}, testWSConfig(), zap.NewNop().Sugar())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypePing})
	recvFrame(t, conn) // pong

	sendFrame(t, f, conn, message.Frame{Type: message.TypePing})
	frame := recvFrame(t, conn)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "TOO_MANY_REQUESTS", frame.Error.Code)
	assert.Greater(t, frame.Error.RetryAfter, 0)

	// The session survives a rate-limited message
	_, err := f.registry.Get(conn.GetSessionID())
	assert.NoError(t, err)
	assert.True(t, conn.SafeSend([]byte("probe")))
}

func TestOnFrame_ExpiredSessionCloses(t *testing.T) {
	cfg := testWSConfig()
	cfg.MaxSessionAge = 1 * time.Nanosecond
	f := newFixture(t, EchoResponder{}, cfg)
	conn := connectedConn(t, f)
	sessionID := conn.GetSessionID()

	time.Sleep(5 * time.Millisecond)
	sendFrame(t, f, conn, message.Frame{Type: message.TypePing})

	frame := recvFrame(t, conn)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "SESSION_EXPIRED", frame.Error.Code)

	_, err := f.registry.Get(sessionID)
	assert.Error(t, err)
	// Fatal categories mark the connection closing
	assert.False(t, conn.SafeSend([]byte("probe")))
}

func TestStreaming_ChunksAndCompletion(t *testing.T) {
	// 25 words: ceil(25/10) = 3 chunks of 10, 10, 5
	words := make([]string, 25)
	for i := range words {
		words[i] = "w" + strconv.Itoa(i)
	}
	reply := ""
	for i, w := range words {
		if i > 0 {
			reply += " "
		}
		reply += w
	}

	f := newFixture(t, staticResponder{reply: reply}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypeUserMessage, Content: "hello"})

	var messageID string
	for i := 0; i < 3; i++ {
		chunk := recvFrame(t, conn)
		require.Equal(t, message.TypeResponseChunk, chunk.Type)
		assert.Equal(t, strconv.Itoa(i), chunk.Metadata["chunk_index"])
		assert.Equal(t, conn.GetSessionID(), chunk.SessionID)
		// No else needed: optional operation (capture id on first chunk)
		if i == 0 {
			messageID = chunk.MessageID
			require.NotEmpty(t, messageID)
		}
		assert.Equal(t, messageID, chunk.MessageID)
	}

	complete := recvFrame(t, conn)
	assert.Equal(t, message.TypeResponseComplete, complete.Type)
	assert.Equal(t, messageID, complete.MessageID)
	assert.Equal(t, "25", complete.Metadata["word_count"])
	assert.Equal(t, "3", complete.Metadata["chunk_count"])
}

func TestStreaming_SingleChunkReply(t *testing.T) {
	f := newFixture(t, staticResponder{reply: "short reply"}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypeUserMessage, Content: "hi"})

	chunk := recvFrame(t, conn)
	assert.Equal(t, message.TypeResponseChunk, chunk.Type)
	assert.Equal(t, "short reply", chunk.Content)

	complete := recvFrame(t, conn)
	assert.Equal(t, message.TypeResponseComplete, complete.Type)
	assert.Equal(t, "2", complete.Metadata["word_count"])
	assert.Equal(t, "1", complete.Metadata["chunk_count"])
}

func TestStreaming_ResponderFailure(t *testing.T) {
	f := newFixture(t, staticResponder{err: context.DeadlineExceeded}, testWSConfig())
	conn := connectedConn(t, f)

	sendFrame(t, f, conn, message.Frame{Type: message.TypeUserMessage, Content: "hi"})

	frame := recvFrame(t, conn)
	assert.Equal(t, message.TypeError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "SERVICE_ERROR", frame.Error.Code)
}

func TestStreaming_OneResponseAtATime(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)

	sess, err := f.registry.Get(conn.GetSessionID())
	require.NoError(t, err)
	require.True(t, sess.BeginStream())

	sendFrame(t, f, conn, message.Frame{Type: message.TypeUserMessage, Content: "hi"})

	frame := recvFrame(t, conn)
	assert.Equal(t, message.TypeError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Contains(t, frame.Error.Message, "already being generated")
}

func TestOnDisconnect_RemovesSession(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)
	sessionID := conn.GetSessionID()

	f.dispatcher.OnDisconnect(conn)

	_, err := f.registry.Get(sessionID)
	assert.Error(t, err)
}

func TestOnDisconnect_UnregisteredConnection(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())

	// Never registered, must not panic
	f.dispatcher.OnDisconnect(websocket.NewConnectionForTest(nil))
}

func TestSendMessage_UnknownSession(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())

	assert.False(t, f.dispatcher.SendMessage("missing", &message.Frame{
		Type:      message.TypePong,
		Timestamp: time.Now(),
	}))
}

func TestBroadcast_StampsSessionIDs(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())

	conn1 := connectedConn(t, f)
	conn2 := websocket.NewConnectionForTest(&auth.ContextUser{Subject: "sub-2", PreferredUsername: "bob"})
	require.NoError(t, f.dispatcher.OnConnect(conn2))

	sent := f.dispatcher.Broadcast(&message.Frame{
		Type:      message.TypeError,
		Error:     &message.ErrorInfo{Code: "SERVER_SHUTDOWN", Message: "Server is shutting down"},
		Timestamp: time.Now(),
	})
	assert.Equal(t, 2, sent)

	frame1 := recvFrame(t, conn1)
	assert.Equal(t, conn1.GetSessionID(), frame1.SessionID)

	frame2 := recvFrame(t, conn2)
	assert.Equal(t, conn2.GetSessionID(), frame2.SessionID)
}

func TestUnregister_ClosesConnection(t *testing.T) {
	f := newFixture(t, EchoResponder{}, testWSConfig())
	conn := connectedConn(t, f)
	sessionID := conn.GetSessionID()

	f.dispatcher.Unregister(sessionID, 4003, "idle")

	_, err := f.registry.Get(sessionID)
	assert.Error(t, err)
	assert.False(t, conn.SafeSend([]byte("probe")))
}
