package rpc

import (
	"context"
	"encoding/json"
	"time"
)

func (s *Server) handlePing(_ context.Context, _ *conn, _ json.RawMessage) (any, error) {
	return PingResult{Message: "pong", Version: s.cfg.Version}, nil
}

func (s *Server) handleHealth(_ context.Context, _ *conn, _ json.RawMessage) (any, error) {
	active := s.ActiveConnections()
	return HealthResult{
		Status:        "healthy",
		Version:       s.cfg.Version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Connections:   active,
		State:         s.coord.Stats(),
		Metrics:       s.metrics.Snapshot(active),
	}, nil
}

// handleShutdown only flags the request; the connection stops the server
// after this reply has been written.
func (s *Server) handleShutdown(_ context.Context, c *conn, _ json.RawMessage) (any, error) {
	s.shutdownRequested.Store(true)
	s.logger.Info("shutdown requested", "conn", c.id)
	return OKResult{OK: true}, nil
}
