package rpc

import (
	"context"
	"encoding/json"
)

func requireCommandID(id uint64) error {
	if id == 0 {
		return newError(CodeInvalidParams, "command_id is required")
	}
	return nil
}

func (s *Server) handleQueueAdd(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p QueueAddParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	id, err := s.coord.AddCommand(ctx, p.Payload, p.Priority)
	if err != nil {
		return nil, err
	}
	return QueueAddResult{CommandID: id}, nil
}

// handleDequeue returns the assigned command, or a null result when the
// queue is empty.
func (s *Server) handleDequeue(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p AgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	cmd, err := s.coord.Dequeue(ctx, p.AgentID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, nil
	}
	return cmd, nil
}

func (s *Server) handleQueueStart(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p CommandParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireCommandID(p.CommandID); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.StartCommand(ctx, p.CommandID, p.AgentID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleQueueComplete(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p CompleteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireCommandID(p.CommandID); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.CompleteCommand(ctx, p.CommandID, p.AgentID, p.Result); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleQueueFail(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p FailParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireCommandID(p.CommandID); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.FailCommand(ctx, p.CommandID, p.AgentID, p.Error); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleQueueList(_ context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p QueueListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.coord.ListCommands(p.Status)
}

func (s *Server) handleQueueGet(_ context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p CommandParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireCommandID(p.CommandID); err != nil {
		return nil, err
	}
	return s.coord.GetCommand(p.CommandID)
}
