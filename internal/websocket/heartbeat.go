package websocket

import (
	"time"

	"github.com/openboard/gateway/internal/metrics"
	"github.com/openboard/gateway/internal/util"
)

// StartHeartbeat launches the liveness supervisor. Every interval it pings
// each tracked connection and flips its liveness flag to unconfirmed; a pong
// (or any inbound frame) confirms it again. A connection still unconfirmed
// at the next tick is forcibly terminated — no close handshake is attempted
// because the peer is presumed dead.
func (g *Gateway) StartHeartbeat(interval time.Duration) {
	g.heartbeatWg.Add(1)
	util.SafeGo(g.logger, "heartbeat", func() {
		defer g.heartbeatWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.heartbeatTick()
			case <-g.heartbeatStop:
				return
			}
		}
	})
}

// heartbeatTick probes every tracked connection once
func (g *Gateway) heartbeatTick() {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, conn := range conns {
		// No else needed: dead connections are terminated, live ones probed
		if !conn.alive.Load() {
			g.logger.Warnw("Heartbeat missed, terminating connection",
				"connection_id", conn.ConnectionID,
				"session_id", conn.GetSessionID())
			metrics.HeartbeatTerminations.Inc()

			// Terminate (not CloseWithCode): the read pump's exit performs
			// unregistration and handler notification.
			conn.Terminate()
			continue
		}

		conn.alive.Store(false)
		if err := conn.writePing(); err != nil {
			g.logger.Debugw("Heartbeat ping failed",
				"connection_id", conn.ConnectionID,
				"error", err)
		}
	}
}

// stopHeartbeat halts the supervisor and waits for it to exit.
// Safe to call more than once.
func (g *Gateway) stopHeartbeat() {
	g.heartbeatOnce.Do(func() {
		close(g.heartbeatStop)
	})
	g.heartbeatWg.Wait()
}
