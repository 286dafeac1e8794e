package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/types"
)

// Register creates or resets an agent session and returns its id. An empty
// agentID gets a generated one. Re-registering a busy agent requeues the
// command it held.
func (c *Coordinator) Register(ctx context.Context, agentID, agentType string, capabilities []string) (string, error) {
	if agentType == "" {
		return "", fmt.Errorf("%w: agent_type is required", ErrInvalidParams)
	}
	if agentID == "" {
		agentID = c.newID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	session, prev := c.registry.Register(agentID, agentType, capabilities, now)
	c.markDirty(storage.TableAgents)
	if prev != nil && prev.CurrentCommandID != nil {
		c.requeueLocked(*prev.CurrentCommandID, agentID, reasonReregistered, now)
	}

	c.logger.Info("agent registered", "agent_id", agentID, "agent_type", agentType, "reset", prev != nil)
	c.emit(eventbus.TopicAgentRegistered, agentEvent{
		AgentID:      session.AgentID,
		AgentType:    session.AgentType,
		Capabilities: session.Capabilities,
	}, now)
	return agentID, c.flushLocked(ctx)
}

// Heartbeat refreshes an agent's liveness. A dead session that has not been
// reaped yet comes back as idle.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	revived, err := c.registry.Heartbeat(agentID, now)
	if err != nil {
		return err
	}
	c.markDirty(storage.TableAgents)
	if revived {
		c.logger.Info("agent revived by heartbeat", "agent_id", agentID)
		c.emit(eventbus.TopicAgentStatusChanged, agentEvent{
			AgentID:   agentID,
			OldStatus: types.AgentDead,
			NewStatus: types.AgentIdle,
		}, now)
	}
	return c.flushLocked(ctx)
}

// UpdateStatus applies a client-reported status. Busy requires commandID to
// name a command assigned to the agent. Going idle while still holding an
// unfinished command hands that command back to the queue.
func (c *Coordinator) UpdateStatus(ctx context.Context, agentID string, status types.AgentStatus, commandID *uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	agent, err := c.registry.Get(agentID)
	if err != nil {
		return err
	}
	if agent.Status == types.AgentDead {
		return fmt.Errorf("%w: agent %s is dead; heartbeat or register again", ErrInvalidState, agentID)
	}

	if status == types.AgentBusy && commandID != nil {
		cmd, err := c.queue.Get(*commandID)
		if err != nil {
			return err
		}
		if !cmd.Status.IsHeld() || cmd.AssignedTo != agentID {
			return fmt.Errorf("%w: command %d is %s and not assigned to %s", ErrInvalidState, cmd.CommandID, cmd.Status, agentID)
		}
	}

	var held *uint64
	if agent.CurrentCommandID != nil {
		id := *agent.CurrentCommandID
		held = &id
	}

	old, err := c.registry.SetStatus(agentID, status, commandID)
	if err != nil {
		return err
	}
	c.markDirty(storage.TableAgents)

	if held != nil && (commandID == nil || *commandID != *held) {
		c.requeueLocked(*held, agentID, reasonAbandoned, now)
	}

	if old != status {
		c.emit(eventbus.TopicAgentStatusChanged, agentEvent{
			AgentID:   agentID,
			OldStatus: old,
			NewStatus: status,
			CommandID: commandID,
		}, now)
	}
	return c.flushLocked(ctx)
}

// ListAgents returns every session sorted by agent id.
func (c *Coordinator) ListAgents() []*types.AgentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List()
}

// GetAgent returns one session.
func (c *Coordinator) GetAgent(agentID string) (*types.AgentSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Unregister removes a session, releasing its locks and requeueing its
// command.
func (c *Coordinator) Unregister(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if err := c.removeAgentLocked(agentID, reasonUnregistered, now); err != nil {
		return err
	}
	c.logger.Info("agent unregistered", "agent_id", agentID)
	return c.flushLocked(ctx)
}

func (c *Coordinator) removeAgentLocked(agentID, reason string, now time.Time) error {
	session, err := c.registry.Remove(agentID)
	if err != nil {
		return err
	}
	c.markDirty(storage.TableAgents)

	c.releaseLocksLocked(agentID, reason, now)
	if session.CurrentCommandID != nil {
		c.requeueLocked(*session.CurrentCommandID, agentID, reason, now)
	}
	c.emit(eventbus.TopicAgentUnregistered, agentEvent{AgentID: agentID, Reason: reason}, now)
	return nil
}
