// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of active WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_websocket_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ConnectionsRejected tracks upgrade rejections by reason (origin, capacity, auth)
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_connections_rejected_total",
		Help: "Total number of rejected WebSocket upgrade attempts by reason",
	}, []string{"reason"})

	// FramesReceived tracks the total number of frames received from clients
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_received_total",
		Help: "Total number of frames received from clients",
	})

	// FramesSent tracks the total number of frames sent to clients
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_sent_total",
		Help: "Total number of frames sent to clients",
	})

	// FrameErrors tracks the total number of frame processing errors
	FrameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frame_errors_total",
		Help: "Total number of frame processing errors",
	})

	// ActiveSessions tracks the current number of active chat sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_sessions_total",
		Help: "Current number of active chat sessions",
	})

	// SessionsCreated tracks the total number of sessions created
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_created_total",
		Help: "Total number of chat sessions created",
	})

	// SessionsEnded tracks the total number of sessions ended
	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_ended_total",
		Help: "Total number of chat sessions ended",
	})

	// RateLimitRejections tracks rejections by limiter concern
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "Total number of rate-limited requests by concern",
	}, []string{"concern"})

	// HeartbeatTerminations tracks connections killed for missing pongs
	HeartbeatTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_heartbeat_terminations_total",
		Help: "Total number of connections terminated for failing heartbeat",
	})

	// IdleTimeouts tracks connections closed for inactivity
	IdleTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_idle_timeouts_total",
		Help: "Total number of connections closed for inactivity by auth state",
	}, []string{"auth_state"})

	// TokenVerifications tracks token verification outcomes
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_token_verifications_total",
		Help: "Total number of token verification attempts by outcome",
	}, []string{"outcome"})

	// RefreshSessionOps tracks refresh-session operations by kind and outcome
	RefreshSessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_refresh_session_ops_total",
		Help: "Total number of refresh-session operations by kind and outcome",
	}, []string{"op", "outcome"})

	// HTTPRequestDuration records HTTP request duration by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
