package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/types"
)

// LockResult is the outcome of an acquire attempt or a check. Owner and
// ExpiresAt describe the live holder, if any.
type LockResult struct {
	Granted   bool       `json:"granted"`
	Held      bool       `json:"held"`
	Owner     string     `json:"owner,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func lockResult(l *types.Lock) LockResult {
	if l == nil {
		return LockResult{}
	}
	expiresAt := l.ExpiresAt
	return LockResult{Held: true, Owner: l.OwnerAgentID, ExpiresAt: &expiresAt}
}

// AcquireLock tries to take resource for agentID. It never waits: a lock
// held by someone else yields Granted=false with the current owner.
func (c *Coordinator) AcquireLock(ctx context.Context, resource, agentID string, timeout time.Duration) (LockResult, error) {
	if resource == "" {
		return LockResult{}, fmt.Errorf("%w: resource is required", ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	agent, err := c.registry.Get(agentID)
	if err != nil {
		return LockResult{}, err
	}
	if agent.Status == types.AgentDead {
		return LockResult{}, fmt.Errorf("%w: agent %s is dead", ErrInvalidState, agentID)
	}
	if timeout <= 0 {
		timeout = c.policy.DefaultLockTimeout
	}

	c.expireLocksLocked(now)
	grant := c.locks.Acquire(resource, agentID, timeout, now)
	res := lockResult(grant.Lock)
	res.Granted = grant.Granted
	if !grant.Granted {
		return res, c.flushLocked(ctx)
	}

	c.markDirty(storage.TableLocks)
	c.logger.Debug("lock acquired", "resource", resource, "agent_id", agentID, "expires_at", grant.Lock.ExpiresAt)
	c.emit(eventbus.TopicLockAcquired, lockEvent{
		Resource:  resource,
		AgentID:   agentID,
		ExpiresAt: res.ExpiresAt,
	}, now)
	return res, c.flushLocked(ctx)
}

// ReleaseLock gives up agentID's lock on resource. Releasing a lock that is
// absent or already expired succeeds.
func (c *Coordinator) ReleaseLock(ctx context.Context, resource, agentID string) error {
	if resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	c.expireLocksLocked(now)
	released, err := c.locks.Release(resource, agentID, now)
	if err != nil {
		return err
	}
	if released {
		c.markDirty(storage.TableLocks)
		c.emit(eventbus.TopicLockReleased, lockEvent{Resource: resource, AgentID: agentID}, now)
	}
	return c.flushLocked(ctx)
}

// CheckLock reports the live holder of resource, if any.
func (c *Coordinator) CheckLock(ctx context.Context, resource string) (LockResult, error) {
	if resource == "" {
		return LockResult{}, fmt.Errorf("%w: resource is required", ErrInvalidParams)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	c.expireLocksLocked(now)
	return lockResult(c.locks.Check(resource, now)), c.flushLocked(ctx)
}

// ListLocks returns the live locks sorted by resource.
func (c *Coordinator) ListLocks() []types.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks.List(c.now())
}
