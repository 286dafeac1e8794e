package rpc

import (
	"context"
	"encoding/json"
)

func (s *Server) handleRegister(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p RegisterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_type", p.AgentType); err != nil {
		return nil, err
	}
	id, err := s.coord.Register(ctx, p.AgentID, p.AgentType, p.Capabilities)
	if err != nil {
		return nil, err
	}
	return RegisterResult{AgentID: id}, nil
}

func (s *Server) handleHeartbeat(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p AgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.Heartbeat(ctx, p.AgentID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleUpdateStatus(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p UpdateStatusParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := requireField("status", string(p.Status)); err != nil {
		return nil, err
	}
	if err := s.coord.UpdateStatus(ctx, p.AgentID, p.Status, p.CurrentCommandID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleAgentList(_ context.Context, _ *conn, _ json.RawMessage) (any, error) {
	return s.coord.ListAgents(), nil
}

func (s *Server) handleAgentGet(_ context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p AgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	return s.coord.GetAgent(p.AgentID)
}

func (s *Server) handleUnregister(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p AgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.Unregister(ctx, p.AgentID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}
