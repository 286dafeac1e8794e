package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps encoded snapshots in memory. Snapshots are round-tripped
// through JSON so tests observe the same encoding the file store produces.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[Table][]byte
	saves   map[Table]int
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[Table][]byte),
		saves:  make(map[Table]int),
	}
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves returns how many times table has been written.
func (m *MemoryStore) Saves(table Table) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[table]
}

// Load decodes whatever has been saved so far.
func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := NewState()
	if data, ok := m.tables[TableAgents]; ok {
		if err := json.Unmarshal(data, &state.Agents); err != nil {
			return nil, fmt.Errorf("%w: agents: %v", ErrCorrupt, err)
		}
	}
	if data, ok := m.tables[TableQueue]; ok {
		// Field names match State, so the queue table decodes in place.
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("%w: queue: %v", ErrCorrupt, err)
		}
	}
	if data, ok := m.tables[TableLocks]; ok {
		if err := json.Unmarshal(data, &state.Locks); err != nil {
			return nil, fmt.Errorf("%w: locks: %v", ErrCorrupt, err)
		}
	}
	return state, ctx.Err()
}

// Save encodes the selected tables.
func (m *MemoryStore) Save(ctx context.Context, mask Table, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	put := func(t Table, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", t, err)
		}
		m.tables[t] = data
		m.saves[t]++
		return nil
	}

	if mask&TableAgents != 0 {
		if err := put(TableAgents, state.Agents); err != nil {
			return err
		}
	}
	if mask&TableQueue != 0 {
		if err := put(TableQueue, struct {
			Commands any
			NextID   uint64
			NextSeq  uint64
		}{state.Commands, state.NextID, state.NextSeq}); err != nil {
			return err
		}
	}
	if mask&TableLocks != 0 {
		if err := put(TableLocks, state.Locks); err != nil {
			return err
		}
	}
	return ctx.Err()
}
