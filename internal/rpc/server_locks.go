package rpc

import (
	"context"
	"encoding/json"
	"time"
)

func (s *Server) handleLockAcquire(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p LockAcquireParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("resource", p.Resource); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	// Non-positive timeouts fall back to the coordinator's default.
	timeout := time.Duration(p.TimeoutSeconds * float64(time.Second))
	res, err := s.coord.AcquireLock(ctx, p.Resource, p.AgentID, timeout)
	if err != nil {
		return nil, err
	}
	return LockAcquireResult{Granted: res.Granted, Owner: res.Owner, ExpiresAt: res.ExpiresAt}, nil
}

func (s *Server) handleLockRelease(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p LockReleaseParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("resource", p.Resource); err != nil {
		return nil, err
	}
	if err := requireField("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	if err := s.coord.ReleaseLock(ctx, p.Resource, p.AgentID); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleLockCheck(ctx context.Context, _ *conn, params json.RawMessage) (any, error) {
	var p LockCheckParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireField("resource", p.Resource); err != nil {
		return nil, err
	}
	res, err := s.coord.CheckLock(ctx, p.Resource)
	if err != nil {
		return nil, err
	}
	return LockCheckResult{Held: res.Held, Owner: res.Owner, ExpiresAt: res.ExpiresAt}, nil
}

func (s *Server) handleLockList(_ context.Context, _ *conn, _ json.RawMessage) (any, error) {
	return s.coord.ListLocks(), nil
}
