package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openboard/gateway/internal/auth"
	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/ratelimit"
	"github.com/openboard/gateway/internal/websocket"
)

func newTestDispatcher(limit int) *Dispatcher {
	return NewDispatcher(ratelimit.New(limit, time.Minute, time.Minute), zap.NewNop().Sugar())
}

func callRPC(t *testing.T, d *Dispatcher, conn *websocket.Connection, req string) Response {
	t.Helper()
	d.OnFrame(conn, []byte(req))

	select {
	case data := <-conn.ReceiveForTest():
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC response")
		return Response{}
	}
}

func TestAuthMe_Authenticated(t *testing.T) {
	d := newTestDispatcher(100)
	conn := websocket.NewConnectionForTest(&auth.ContextUser{
		Subject:           "sub-1",
		PreferredUsername: "alice",
		DisplayName:       "Alice Adams",
		Email:             "alice@example.org",
		Roles:             []string{"user"},
	})
	require.NoError(t, d.OnConnect(conn))

	resp := callRPC(t, d, conn, `{"id":"1","method":"auth.me"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", resp.ID)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var identity Identity
	require.NoError(t, json.Unmarshal(result, &identity))
	assert.True(t, identity.Authenticated)
	assert.Equal(t, "sub-1", identity.Subject)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, []string{"user"}, identity.Roles)
}

func TestAuthMe_Anonymous(t *testing.T) {
	d := newTestDispatcher(100)
	conn := websocket.NewConnectionForTest(nil)
	require.NoError(t, d.OnConnect(conn))

	resp := callRPC(t, d, conn, `{"id":"2","method":"auth.me"}`)
	require.Nil(t, resp.Error)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var identity Identity
	require.NoError(t, json.Unmarshal(result, &identity))
	assert.False(t, identity.Authenticated)
	assert.Empty(t, identity.Subject)
}

func TestOnFrame_UnknownMethod(t *testing.T) {
	d := newTestDispatcher(100)
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{"id":"3","method":"nosuch.method"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "3", resp.ID)
	assert.Equal(t, "UNKNOWN_MESSAGE_TYPE", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "nosuch.method")
}

func TestOnFrame_InvalidJSON(t *testing.T) {
	d := newTestDispatcher(100)
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{broken`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_FORMAT", resp.Error.Code)
}

func TestOnFrame_RateLimited(t *testing.T) {
	d := newTestDispatcher(1)
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{"id":"1","method":"auth.me"}`)
	require.Nil(t, resp.Error)

	resp = callRPC(t, d, conn, `{"id":"2","method":"auth.me"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TOO_MANY_REQUESTS", resp.Error.Code)
	assert.Greater(t, resp.Error.RetryAfter, 0)
}

func TestOnDisconnect_ResetsLimiterKey(t *testing.T) {
	d := newTestDispatcher(1)
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{"id":"1","method":"auth.me"}`)
	require.Nil(t, resp.Error)

	d.OnDisconnect(conn)

	// A reconnect with the same connection id starts with a fresh budget
	resp = callRPC(t, d, conn, `{"id":"2","method":"auth.me"}`)
	assert.Nil(t, resp.Error)
}

func TestRegister_CustomMethod(t *testing.T) {
	d := newTestDispatcher(100)
	d.Register("board.echo", func(_ *websocket.Connection, params json.RawMessage) (interface{}, *gwerrors.GatewayError) {
		var payload map[string]string
		// No else needed: error handling with return (reports and stops)
		if err := json.Unmarshal(params, &payload); err != nil {
			return nil, gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat, "Bad params", err)
		}
		return payload, nil
	})
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{"id":"9","method":"board.echo","params":{"k":"v"}}`)
	require.Nil(t, resp.Error)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(result))
}

func TestRegister_HandlerErrorMapped(t *testing.T) {
	d := newTestDispatcher(100)
	d.Register("board.fail", func(_ *websocket.Connection, _ json.RawMessage) (interface{}, *gwerrors.GatewayError) {
		return nil, gwerrors.ErrAuthRequired()
	})
	conn := websocket.NewConnectionForTest(nil)

	resp := callRPC(t, d, conn, `{"id":"4","method":"board.fail"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "AUTH_REQUIRED", resp.Error.Code)
	assert.Equal(t, "Authentication required", resp.Error.Message)
}
