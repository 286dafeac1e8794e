package rpc

import (
	"context"
	"encoding/json"

	"github.com/steveyegge/coord/internal/eventbus"
)

// handleSubscribe binds a pattern to the calling connection. Events are
// pushed on the same connection until it closes or unsubscribes.
func (s *Server) handleSubscribe(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p SubscribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	pattern, err := eventbus.ParsePattern(p.TopicPattern)
	if err != nil {
		return nil, err
	}
	s.bus.Subscribe(c, pattern)
	s.logger.Debug("subscribed", "conn", c.id, "pattern", pattern.String())
	return SubscribeResult{ConnectionID: c.id, Pattern: pattern.String()}, nil
}

func (s *Server) handleUnsubscribe(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p SubscribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	pattern, err := eventbus.ParsePattern(p.TopicPattern)
	if err != nil {
		return nil, err
	}
	s.bus.Unsubscribe(c.id, pattern)
	return OKResult{OK: true}, nil
}

func (s *Server) handlePublish(_ context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p PublishParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	delivered, err := s.coord.Publish(p.Topic, p.Payload)
	if err != nil {
		return nil, err
	}
	return PublishResult{Delivered: delivered}, nil
}
