// Package registry tracks agent sessions, their declared capabilities,
// status and liveness.
//
// A Registry is not safe for concurrent use. The coordinator owns it and
// serializes every call behind its own mutex.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

var (
	// ErrAgentNotFound indicates the agent id is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidStatus indicates a status change that would break the
	// status/command invariant or that clients may not request.
	ErrInvalidStatus = errors.New("invalid agent status")
)

// Registry holds agent sessions keyed by agent id.
type Registry struct {
	agents map[string]*types.AgentSession
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*types.AgentSession)}
}

// Register creates or resets a session. The previous session, if any, is
// returned so the caller can clean up state that referenced it (a reset
// session never keeps its command).
func (r *Registry) Register(agentID, agentType string, capabilities []string, now time.Time) (session, previous *types.AgentSession) {
	if prev, ok := r.agents[agentID]; ok {
		previous = prev.Clone()
	}

	registeredAt := now
	if previous != nil {
		registeredAt = previous.RegisteredAt
	}

	session = &types.AgentSession{
		AgentID:       agentID,
		AgentType:     agentType,
		Status:        types.AgentIdle,
		Capabilities:  types.NormalizeCapabilities(capabilities),
		LastHeartbeat: now,
		RegisteredAt:  registeredAt,
	}
	r.agents[agentID] = session
	return session, previous
}

// Get returns the live session for agentID. The returned pointer is owned by
// the registry; callers outside the coordinator should use Clone.
func (r *Registry) Get(agentID string) (*types.AgentSession, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return a, nil
}

// Heartbeat refreshes last_heartbeat. A dead, not yet reaped session is
// revived to idle; revived reports whether that happened.
func (r *Registry) Heartbeat(agentID string, now time.Time) (revived bool, err error) {
	a, err := r.Get(agentID)
	if err != nil {
		return false, err
	}
	a.LastHeartbeat = now
	if a.Status == types.AgentDead {
		a.Status = types.AgentIdle
		a.DeadSince = nil
		return true, nil
	}
	return false, nil
}

// SetStatus applies a client-requested status. Only idle and busy may be
// requested; busy requires a command id and idle forbids one.
func (r *Registry) SetStatus(agentID string, status types.AgentStatus, commandID *uint64) (old types.AgentStatus, err error) {
	a, err := r.Get(agentID)
	if err != nil {
		return "", err
	}
	switch status {
	case types.AgentIdle:
		if commandID != nil {
			return "", fmt.Errorf("%w: idle agent cannot hold command %d", ErrInvalidStatus, *commandID)
		}
	case types.AgentBusy:
		if commandID == nil {
			return "", fmt.Errorf("%w: busy requires current_command_id", ErrInvalidStatus)
		}
	case types.AgentDead:
		return "", fmt.Errorf("%w: dead is set by the liveness sweeper only", ErrInvalidStatus)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	old = a.Status
	a.Status = status
	a.DeadSince = nil
	if commandID != nil {
		id := *commandID
		a.CurrentCommandID = &id
	} else {
		a.CurrentCommandID = nil
	}
	return old, nil
}

// Assign marks the agent busy with commandID.
func (r *Registry) Assign(agentID string, commandID uint64) error {
	a, err := r.Get(agentID)
	if err != nil {
		return err
	}
	a.Status = types.AgentBusy
	a.CurrentCommandID = &commandID
	return nil
}

// ReleaseCommand returns a busy agent to idle if it currently holds
// commandID. Agents that moved on (or died) are left untouched.
func (r *Registry) ReleaseCommand(agentID string, commandID uint64) bool {
	a, ok := r.agents[agentID]
	if !ok || a.CurrentCommandID == nil || *a.CurrentCommandID != commandID {
		return false
	}
	a.CurrentCommandID = nil
	if a.Status == types.AgentBusy {
		a.Status = types.AgentIdle
	}
	return true
}

// MarkDead moves the agent to dead and clears its command reference. The
// id of the command it held, if any, is returned for requeueing.
func (r *Registry) MarkDead(agentID string, now time.Time) (heldCommand *uint64, err error) {
	a, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	heldCommand = a.CurrentCommandID
	a.CurrentCommandID = nil
	a.Status = types.AgentDead
	a.DeadSince = &now
	return heldCommand, nil
}

// Remove deletes the session and returns it.
func (r *Registry) Remove(agentID string) (*types.AgentSession, error) {
	a, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	delete(r.agents, agentID)
	return a, nil
}

// Stale returns the ids of live agents whose last heartbeat is older than
// threshold, sorted for deterministic sweeping.
func (r *Registry) Stale(now time.Time, threshold time.Duration) []string {
	var ids []string
	for id, a := range r.agents {
		if a.Status == types.AgentDead {
			continue
		}
		if now.Sub(a.LastHeartbeat) > threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reapable returns the ids of agents that have been dead for longer than
// reapAfter. A zero reapAfter disables reaping.
func (r *Registry) Reapable(now time.Time, reapAfter time.Duration) []string {
	if reapAfter <= 0 {
		return nil
	}
	var ids []string
	for id, a := range r.agents {
		if a.Status != types.AgentDead || a.DeadSince == nil {
			continue
		}
		if now.Sub(*a.DeadSince) > reapAfter {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// List returns copies of all sessions sorted by agent id.
func (r *Registry) List() []*types.AgentSession {
	out := make([]*types.AgentSession, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Len returns the number of sessions, dead ones included.
func (r *Registry) Len() int {
	return len(r.agents)
}

// Snapshot returns copies of all sessions keyed by id for persistence.
func (r *Registry) Snapshot() map[string]*types.AgentSession {
	out := make(map[string]*types.AgentSession, len(r.agents))
	for id, a := range r.agents {
		out[id] = a.Clone()
	}
	return out
}

// Restore replaces the registry contents with persisted sessions. Sessions
// that violate the status/command invariant are rejected.
func (r *Registry) Restore(sessions map[string]*types.AgentSession) error {
	agents := make(map[string]*types.AgentSession, len(sessions))
	for id, a := range sessions {
		if a == nil {
			continue
		}
		if a.AgentID != id {
			return fmt.Errorf("agent snapshot key %q does not match agent_id %q", id, a.AgentID)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent snapshot: %w", err)
		}
		agents[id] = a.Clone()
	}
	r.agents = agents
	return nil
}
