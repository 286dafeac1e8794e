package coord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/types"
)

// SweepReport summarizes one liveness pass.
type SweepReport struct {
	MarkedDead   []string `json:"marked_dead,omitempty"`
	ExpiredLocks int      `json:"expired_locks"`
	Reaped       []string `json:"reaped,omitempty"`
}

// Empty reports whether the pass changed nothing.
func (r SweepReport) Empty() bool {
	return len(r.MarkedDead) == 0 && r.ExpiredLocks == 0 && len(r.Reaped) == 0
}

// Sweep runs one liveness pass: agents whose heartbeat is older than
// StaleAfter become dead (their command is requeued and their locks
// released), expired locks are dropped, and agents dead for longer than
// ReapAfter are removed.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	var report SweepReport
	for _, agentID := range c.registry.Stale(now, c.policy.StaleAfter) {
		agent, err := c.registry.Get(agentID)
		if err != nil {
			continue
		}
		oldStatus := agent.Status
		held, err := c.registry.MarkDead(agentID, now)
		if err != nil {
			continue
		}
		c.markDirty(storage.TableAgents)
		report.MarkedDead = append(report.MarkedDead, agentID)
		c.logger.Warn("agent marked dead", "agent_id", agentID, "stale_after", c.policy.StaleAfter)

		if held != nil {
			c.requeueLocked(*held, agentID, reasonDead, now)
		}
		c.releaseLocksLocked(agentID, reasonDead, now)
		c.emit(eventbus.TopicAgentDead, agentEvent{AgentID: agentID, CommandID: held}, now)
		c.emit(eventbus.TopicAgentStatusChanged, agentEvent{
			AgentID:   agentID,
			OldStatus: oldStatus,
			NewStatus: types.AgentDead,
			Reason:    reasonDead,
		}, now)
	}

	report.ExpiredLocks = c.expireLocksLocked(now)

	for _, agentID := range c.registry.Reapable(now, c.policy.ReapAfter) {
		if err := c.removeAgentLocked(agentID, reasonReaped, now); err != nil {
			continue
		}
		report.Reaped = append(report.Reaped, agentID)
		c.logger.Info("dead agent reaped", "agent_id", agentID)
	}

	return report, c.flushLocked(ctx)
}

// Publish emits a client event. The topic must be a literal.
func (c *Coordinator) Publish(topic string, payload json.RawMessage) (int, error) {
	if err := eventbus.ValidateTopic(topic); err != nil {
		return 0, err
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return 0, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidParams)
	}
	return c.bus.Publish(topic, payload, c.now())
}
