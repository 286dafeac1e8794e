// Package coord is the coordination core: it owns the agent registry, the
// command queue, the lock table and the event bus, and applies every
// operation against them under one mutex.
//
// Each mutating call marks the tables it touched as dirty and flushes them
// to the store before returning. A failed flush is logged and reported as
// ErrPersistence, but the in-memory state stays authoritative and the dirty
// tables are retried on the next flush.
package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/locks"
	"github.com/steveyegge/coord/internal/queue"
	"github.com/steveyegge/coord/internal/registry"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/types"
)

// Policy holds the tunables that can change while the daemon runs.
type Policy struct {
	StaleAfter         time.Duration // heartbeat age after which an agent is dead
	ReapAfter          time.Duration // deadness after which a session is removed; 0 disables
	MaxRequeues        int           // 0 means unlimited
	DefaultLockTimeout time.Duration // used when a caller passes timeout <= 0
}

// DefaultPolicy returns the built-in tunables.
func DefaultPolicy() Policy {
	return Policy{
		StaleAfter:         5 * time.Minute,
		ReapAfter:          time.Hour,
		MaxRequeues:        0,
		DefaultLockTimeout: 5 * time.Minute,
	}
}

// Options configures a Coordinator.
type Options struct {
	Store  storage.Store
	Policy Policy
	Logger *slog.Logger
	// Now is the clock. Tests inject a fake one; nil means time.Now.
	Now func() time.Time
	// NewID generates agent ids for registrations without one.
	NewID func() string
}

// Coordinator is the single owner of all daemon state.
type Coordinator struct {
	mu       sync.Mutex
	registry *registry.Registry
	queue    *queue.Queue
	locks    *locks.Manager
	bus      *eventbus.Bus
	store    storage.Store
	policy   Policy
	dirty    storage.Table

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// New creates a coordinator and restores persisted state from opts.Store.
// A nil store keeps everything in memory.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}

	c := &Coordinator{
		registry: registry.New(),
		queue:    queue.New(),
		locks:    locks.New(),
		bus:      eventbus.New(opts.Logger.With("component", "eventbus")),
		store:    opts.Store,
		policy:   opts.Policy,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}

	state, err := opts.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if err := c.registry.Restore(state.Agents); err != nil {
		return nil, fmt.Errorf("restore agents: %w", err)
	}
	if err := c.queue.Restore(queue.Snapshot{
		Commands: state.Commands,
		NextID:   state.NextID,
		NextSeq:  state.NextSeq,
	}); err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	if err := c.locks.Restore(state.Locks); err != nil {
		return nil, fmt.Errorf("restore locks: %w", err)
	}

	c.logger.Info("state restored",
		"agents", c.registry.Len(),
		"commands", c.queue.Len(),
		"locks", c.locks.Len())
	return c, nil
}

// Bus returns the event bus so the transport can bind subscriptions to
// connections.
func (c *Coordinator) Bus() *eventbus.Bus {
	return c.bus
}

// Policy returns the current tunables.
func (c *Coordinator) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetPolicy replaces the tunables. Zero durations fall back to defaults,
// except ReapAfter where zero disables reaping.
func (c *Coordinator) SetPolicy(p Policy) {
	def := DefaultPolicy()
	if p.StaleAfter <= 0 {
		p.StaleAfter = def.StaleAfter
	}
	if p.DefaultLockTimeout <= 0 {
		p.DefaultLockTimeout = def.DefaultLockTimeout
	}
	if p.ReapAfter < 0 {
		p.ReapAfter = 0
	}
	if p.MaxRequeues < 0 {
		p.MaxRequeues = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy != p {
		c.logger.Info("policy updated",
			"stale_after", p.StaleAfter,
			"reap_after", p.ReapAfter,
			"max_requeues", p.MaxRequeues,
			"default_lock_timeout", p.DefaultLockTimeout)
	}
	c.policy = p
}

// emit publishes an event. Callers hold c.mu so internal events are
// published in mutation order.
func (c *Coordinator) emit(topic string, payload any, now time.Time) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("encode event payload", "topic", topic, "error", err)
		return
	}
	if _, err := c.bus.Publish(topic, data, now); err != nil {
		c.logger.Error("publish event", "topic", topic, "error", err)
	}
}

func (c *Coordinator) markDirty(t storage.Table) {
	c.dirty |= t
}

// flushLocked writes every dirty table. Must be called with c.mu held.
func (c *Coordinator) flushLocked(ctx context.Context) error {
	if c.dirty == 0 {
		return nil
	}
	mask := c.dirty
	state := &storage.State{}
	if mask&storage.TableAgents != 0 {
		state.Agents = c.registry.Snapshot()
	}
	if mask&storage.TableQueue != 0 {
		snap := c.queue.Snapshot()
		state.Commands, state.NextID, state.NextSeq = snap.Commands, snap.NextID, snap.NextSeq
	}
	if mask&storage.TableLocks != 0 {
		state.Locks = c.locks.Snapshot()
	}

	// Detach from caller cancellation: a mutation that already happened in
	// memory should still reach disk.
	if err := c.store.Save(context.WithoutCancel(ctx), mask, state); err != nil {
		c.logger.Error("persist snapshot failed", "tables", mask.String(), "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.dirty = 0
	return nil
}

// Flush writes any outstanding dirty tables.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

// Close writes every table one last time.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = storage.TableAll
	return c.flushLocked(ctx)
}

// requeueLocked returns a held command to the queue after its assignee went
// away, applying the requeue policy. reason is recorded in the event.
func (c *Coordinator) requeueLocked(commandID uint64, agentID, reason string, now time.Time) {
	cmd, abandoned, err := c.queue.Requeue(commandID, c.policy.MaxRequeues, now)
	if err != nil {
		// The agent referenced a command that already finished; nothing to do.
		c.logger.Warn("requeue skipped", "command_id", commandID, "agent_id", agentID, "error", err)
		return
	}
	c.markDirty(storage.TableQueue)
	if abandoned {
		c.logger.Warn("command abandoned", "command_id", commandID, "requeues", cmd.RequeueCount-1)
		c.emit(eventbus.TopicQueueFailed, commandEvent{
			CommandID: cmd.CommandID,
			AgentID:   agentID,
			Error:     cmd.Error,
		}, now)
		return
	}
	c.logger.Info("command requeued", "command_id", commandID, "agent_id", agentID, "reason", reason)
	c.emit(eventbus.TopicQueueRequeued, commandEvent{
		CommandID:    cmd.CommandID,
		AgentID:      agentID,
		Priority:     cmd.Priority,
		RequeueCount: cmd.RequeueCount,
		Reason:       reason,
	}, now)
}

// releaseLocksLocked drops every lock held by agentID and emits
// lock.released for each live one.
func (c *Coordinator) releaseLocksLocked(agentID, reason string, now time.Time) {
	released := c.locks.ReleaseAll(agentID, now)
	if len(released) == 0 {
		return
	}
	c.markDirty(storage.TableLocks)
	for _, l := range released {
		c.emit(eventbus.TopicLockReleased, lockEvent{
			Resource: l.Resource,
			AgentID:  l.OwnerAgentID,
			Reason:   reason,
		}, now)
	}
}

// expireLocksLocked removes expired locks and emits lock.expired.
func (c *Coordinator) expireLocksLocked(now time.Time) int {
	expired := c.locks.Expire(now)
	if len(expired) == 0 {
		return 0
	}
	c.markDirty(storage.TableLocks)
	for _, l := range expired {
		expiresAt := l.ExpiresAt
		c.emit(eventbus.TopicLockExpired, lockEvent{
			Resource:  l.Resource,
			AgentID:   l.OwnerAgentID,
			ExpiresAt: &expiresAt,
		}, now)
	}
	return len(expired)
}

// Stats is a point-in-time summary for health reporting.
type Stats struct {
	Agents        map[types.AgentStatus]int   `json:"agents"`
	Commands      map[types.CommandStatus]int `json:"commands"`
	Locks         int                         `json:"locks"`
	Subscriptions int                         `json:"subscriptions"`
}

// Stats summarizes the current state.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents := make(map[types.AgentStatus]int)
	for _, a := range c.registry.List() {
		agents[a.Status]++
	}
	return Stats{
		Agents:        agents,
		Commands:      c.queue.Counts(),
		Locks:         len(c.locks.List(c.now())),
		Subscriptions: c.bus.Count(),
	}
}
