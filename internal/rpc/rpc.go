// Package rpc implements a small request/response protocol on top of the
// connection gateway. Each inbound frame names a method and carries an id the
// response is correlated with. Methods are looked up in a table so surfaces
// can register their own without touching the dispatch loop.
package rpc

import (
	"encoding/json"

	"go.uber.org/zap"

	gwerrors "github.com/openboard/gateway/internal/errors"
	"github.com/openboard/gateway/internal/metrics"
	"github.com/openboard/gateway/internal/ratelimit"
	"github.com/openboard/gateway/internal/websocket"
)

// Request is one inbound RPC frame
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one outbound RPC frame. Exactly one of Result and Error is set.
type Response struct {
	ID     string         `json:"id"`
	Result interface{}    `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the wire form of a failed call
type ResponseError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Handler is one registered RPC method. Params may be empty.
type Handler func(conn *websocket.Connection, params json.RawMessage) (interface{}, *gwerrors.GatewayError)

// Dispatcher routes RPC frames to registered methods.
// It implements websocket.ConnectionHandler.
type Dispatcher struct {
	methods map[string]Handler
	limiter *ratelimit.Limiter // calls/minute per connection
	logger  *zap.SugaredLogger
}

// NewDispatcher creates an RPC dispatcher with the built-in methods registered
func NewDispatcher(limiter *ratelimit.Limiter, logger *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		methods: make(map[string]Handler),
		limiter: limiter,
		logger:  logger.Named("rpc"),
	}
	d.Register("auth.me", handleAuthMe)
	return d
}

// Register adds a method to the dispatch table. Not safe for concurrent use
// with dispatching; register everything before the route is mounted.
func (d *Dispatcher) Register(method string, handler Handler) {
	d.methods[method] = handler
}

// OnConnect implements websocket.ConnectionHandler. The RPC route accepts
// unauthenticated connections; individual methods enforce their own
// authentication requirements.
func (d *Dispatcher) OnConnect(conn *websocket.Connection) error {
	d.logger.Debugw("RPC connection opened", "connection_id", conn.ConnectionID)
	return nil
}

// OnFrame implements websocket.ConnectionHandler
func (d *Dispatcher) OnFrame(conn *websocket.Connection, raw []byte) {
	var req Request
	// No else needed: error handling with return (reports and stops)
	if err := json.Unmarshal(raw, &req); err != nil {
		d.send(conn, &Response{Error: &ResponseError{
			Code:    string(gwerrors.ErrCodeInvalidFormat),
			Message: "Invalid request format",
		}})
		return
	}

	// No else needed: early return pattern (guard clause)
	if !d.limiter.Allow(conn.ConnectionID) {
		metrics.RateLimitRejections.WithLabelValues("rpc").Inc()
		d.send(conn, &Response{ID: req.ID, Error: &ResponseError{
			Code:       string(gwerrors.ErrCodeTooManyRequests),
			Message:    "RPC rate limit exceeded",
			RetryAfter: d.limiter.RetryAfter(conn.ConnectionID),
		}})
		return
	}

	handler, ok := d.methods[req.Method]
	// No else needed: early return pattern (guard clause)
	if !ok {
		d.send(conn, &Response{ID: req.ID, Error: &ResponseError{
			Code:    string(gwerrors.ErrCodeUnknownType),
			Message: "Unknown method: " + req.Method,
		}})
		return
	}

	result, gwErr := handler(conn, req.Params)
	// No else needed: error handling with return (reports and stops)
	if gwErr != nil {
		d.logger.Warnw("RPC method failed",
			"connection_id", conn.ConnectionID,
			"method", req.Method,
			"code", gwErr.Code)
		d.send(conn, &Response{ID: req.ID, Error: &ResponseError{
			Code:       string(gwErr.Code),
			Message:    gwErr.Message,
			RetryAfter: gwErr.RetryAfter,
		}})
		return
	}

	d.send(conn, &Response{ID: req.ID, Result: result})
}

// OnDisconnect implements websocket.ConnectionHandler
func (d *Dispatcher) OnDisconnect(conn *websocket.Connection) {
	d.limiter.Reset(conn.ConnectionID)
	d.logger.Debugw("RPC connection closed", "connection_id", conn.ConnectionID)
}

func (d *Dispatcher) send(conn *websocket.Connection, resp *Response) {
	data, err := json.Marshal(resp)
	// No else needed: error handling with return (marshal failures are internal bugs)
	if err != nil {
		d.logger.Errorw("Failed to marshal RPC response", "error", err)
		return
	}
	conn.SafeSend(data)
}

// Identity is the auth.me result
type Identity struct {
	Authenticated bool     `json:"authenticated"`
	Subject       string   `json:"subject,omitempty"`
	Username      string   `json:"username,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// handleAuthMe returns the connection's verified identity, or an
// unauthenticated marker for anonymous connections
func handleAuthMe(conn *websocket.Connection, _ json.RawMessage) (interface{}, *gwerrors.GatewayError) {
	// No else needed: early return pattern (guard clause)
	if conn.User == nil {
		return &Identity{Authenticated: false}, nil
	}
	return &Identity{
		Authenticated: true,
		Subject:       conn.User.Subject,
		Username:      conn.User.PreferredUsername,
		DisplayName:   conn.User.DisplayName,
		Email:         conn.User.Email,
		Roles:         conn.User.Roles,
	}, nil
}
