package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/types"
)

// AddCommand enqueues an opaque payload and returns the new command id.
func (c *Coordinator) AddCommand(ctx context.Context, payload json.RawMessage, priority int) (uint64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return 0, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	cmd := c.queue.Add(payload, priority, now)
	c.markDirty(storage.TableQueue)
	c.logger.Debug("command added", "command_id", cmd.CommandID, "priority", priority)
	c.emit(eventbus.TopicQueueAdded, commandEvent{CommandID: cmd.CommandID, Priority: cmd.Priority}, now)
	return cmd.CommandID, c.flushLocked(ctx)
}

// Dequeue assigns the highest priority, earliest pending command to an idle
// agent. It returns nil when the queue has nothing pending.
func (c *Coordinator) Dequeue(ctx context.Context, agentID string) (*types.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	agent, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != types.AgentIdle {
		return nil, fmt.Errorf("%w: agent %s is %s, must be idle to dequeue", ErrInvalidState, agentID, agent.Status)
	}

	cmd := c.queue.Dequeue(agentID, now)
	if cmd == nil {
		return nil, nil
	}
	if err := c.registry.Assign(agentID, cmd.CommandID); err != nil {
		return nil, err
	}
	c.markDirty(storage.TableQueue | storage.TableAgents)

	c.logger.Info("command assigned", "command_id", cmd.CommandID, "agent_id", agentID)
	c.emit(eventbus.TopicQueueAssigned, commandEvent{CommandID: cmd.CommandID, AgentID: agentID, Priority: cmd.Priority}, now)
	c.emit(eventbus.TopicAgentStatusChanged, agentEvent{
		AgentID:   agentID,
		OldStatus: types.AgentIdle,
		NewStatus: types.AgentBusy,
		CommandID: &cmd.CommandID,
	}, now)
	return cmd, c.flushLocked(ctx)
}

// StartCommand marks an assigned command as running.
func (c *Coordinator) StartCommand(ctx context.Context, commandID uint64, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if _, err := c.queue.Start(commandID, agentID, now); err != nil {
		return err
	}
	c.markDirty(storage.TableQueue)
	c.emit(eventbus.TopicQueueStarted, commandEvent{CommandID: commandID, AgentID: agentID}, now)
	return c.flushLocked(ctx)
}

// CompleteCommand records a successful result and frees the agent.
func (c *Coordinator) CompleteCommand(ctx context.Context, commandID uint64, agentID string, result json.RawMessage) error {
	if len(result) > 0 && !json.Valid(result) {
		return fmt.Errorf("%w: result is not valid JSON", ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if _, err := c.queue.Complete(commandID, agentID, result, now); err != nil {
		return err
	}
	c.finishLocked(commandID, agentID, now)
	c.logger.Info("command completed", "command_id", commandID, "agent_id", agentID)
	c.emit(eventbus.TopicQueueCompleted, commandEvent{CommandID: commandID, AgentID: agentID}, now)
	return c.flushLocked(ctx)
}

// FailCommand records a failure and frees the agent.
func (c *Coordinator) FailCommand(ctx context.Context, commandID uint64, agentID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if _, err := c.queue.Fail(commandID, agentID, message, now); err != nil {
		return err
	}
	c.finishLocked(commandID, agentID, now)
	c.logger.Info("command failed", "command_id", commandID, "agent_id", agentID, "error", message)
	c.emit(eventbus.TopicQueueFailed, commandEvent{CommandID: commandID, AgentID: agentID, Error: message}, now)
	return c.flushLocked(ctx)
}

// finishLocked returns the assignee to idle once its command is terminal.
func (c *Coordinator) finishLocked(commandID uint64, agentID string, now time.Time) {
	c.markDirty(storage.TableQueue)
	if c.registry.ReleaseCommand(agentID, commandID) {
		c.markDirty(storage.TableAgents)
		c.emit(eventbus.TopicAgentStatusChanged, agentEvent{
			AgentID:   agentID,
			OldStatus: types.AgentBusy,
			NewStatus: types.AgentIdle,
		}, now)
	}
}

// ListCommands returns commands ordered by id, filtered by status when
// status is non-empty.
func (c *Coordinator) ListCommands(status string) ([]*types.Command, error) {
	s := types.CommandStatus(status)
	if status != "" && !s.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidParams, status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.List(s), nil
}

// GetCommand returns one command.
func (c *Coordinator) GetCommand(commandID uint64) (*types.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Get(commandID)
}
