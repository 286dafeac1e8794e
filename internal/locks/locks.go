// Package locks implements exclusive, named, time-bounded locks.
//
// Acquisition never blocks: a contended resource is reported as not granted
// and the caller decides whether to retry. Expired entries are treated as
// absent and are removed lazily on access or by Expire.
package locks

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

// ErrNotOwner indicates a release by an agent that does not hold the lock.
var ErrNotOwner = errors.New("lock held by another agent")

// Grant is the outcome of an acquire attempt. When Granted is false, Lock
// describes the current holder.
type Grant struct {
	Granted bool
	Lock    *types.Lock
}

// Manager holds the lock table. Not safe for concurrent use.
type Manager struct {
	locks map[string]*types.Lock
}

// New creates an empty lock table.
func New() *Manager {
	return &Manager{locks: make(map[string]*types.Lock)}
}

// live returns the entry for resource, dropping it first if it has expired.
func (m *Manager) live(resource string, now time.Time) *types.Lock {
	l, ok := m.locks[resource]
	if !ok {
		return nil
	}
	if l.Expired(now) {
		delete(m.locks, resource)
		return nil
	}
	return l
}

// Acquire grants resource to agentID for ttl when it is free, expired, or
// already held by agentID (which refreshes the expiry).
func (m *Manager) Acquire(resource, agentID string, ttl time.Duration, now time.Time) Grant {
	l := m.live(resource, now)
	if l != nil && l.OwnerAgentID != agentID {
		cp := *l
		return Grant{Granted: false, Lock: &cp}
	}

	if l == nil {
		l = &types.Lock{Resource: resource, OwnerAgentID: agentID, AcquiredAt: now}
		m.locks[resource] = l
	}
	l.ExpiresAt = now.Add(ttl)
	cp := *l
	return Grant{Granted: true, Lock: &cp}
}

// Release removes agentID's lock on resource. Releasing an absent or expired
// lock succeeds; released reports whether a live lock was removed.
func (m *Manager) Release(resource, agentID string, now time.Time) (released bool, err error) {
	l := m.live(resource, now)
	if l == nil {
		return false, nil
	}
	if l.OwnerAgentID != agentID {
		return false, fmt.Errorf("%w: %s is held by %s", ErrNotOwner, resource, l.OwnerAgentID)
	}
	delete(m.locks, resource)
	return true, nil
}

// Check returns the live lock on resource, or nil.
func (m *Manager) Check(resource string, now time.Time) *types.Lock {
	l := m.live(resource, now)
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// ReleaseAll drops every lock owned by agentID, expired ones included, and
// returns the live ones that were released sorted by resource.
func (m *Manager) ReleaseAll(agentID string, now time.Time) []types.Lock {
	var released []types.Lock
	for resource, l := range m.locks {
		if l.OwnerAgentID != agentID {
			continue
		}
		delete(m.locks, resource)
		if !l.Expired(now) {
			released = append(released, *l)
		}
	}
	sortLocks(released)
	return released
}

// Expire removes every lock past its expiry and returns them.
func (m *Manager) Expire(now time.Time) []types.Lock {
	var expired []types.Lock
	for resource, l := range m.locks {
		if l.Expired(now) {
			delete(m.locks, resource)
			expired = append(expired, *l)
		}
	}
	sortLocks(expired)
	return expired
}

// List returns the live locks sorted by resource.
func (m *Manager) List(now time.Time) []types.Lock {
	out := make([]types.Lock, 0, len(m.locks))
	for _, l := range m.locks {
		if !l.Expired(now) {
			out = append(out, *l)
		}
	}
	sortLocks(out)
	return out
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Manager) Len() int {
	return len(m.locks)
}

// Snapshot returns copies of every entry keyed by resource.
func (m *Manager) Snapshot() map[string]*types.Lock {
	out := make(map[string]*types.Lock, len(m.locks))
	for r, l := range m.locks {
		cp := *l
		out[r] = &cp
	}
	return out
}

// Restore replaces the lock table with persisted entries.
func (m *Manager) Restore(entries map[string]*types.Lock) error {
	locks := make(map[string]*types.Lock, len(entries))
	for r, l := range entries {
		if l == nil {
			continue
		}
		if l.Resource != r {
			return fmt.Errorf("lock snapshot key %q does not match resource %q", r, l.Resource)
		}
		if l.OwnerAgentID == "" {
			return fmt.Errorf("lock %q has no owner", r)
		}
		cp := *l
		locks[r] = &cp
	}
	m.locks = locks
	return nil
}

func sortLocks(ls []types.Lock) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].Resource < ls[j].Resource })
}
