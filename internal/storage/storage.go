// Package storage persists daemon state between restarts.
//
// State is split into three independent tables (agents, queue, locks) so a
// mutation only rewrites what it touched. The file-backed store lives in
// file.go; MemoryStore keeps snapshots in memory for tests.
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/coord/internal/types"
)

// SchemaVersion is the on-disk format version of every snapshot file.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned when a snapshot was written by a newer
// or unknown format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// ErrCorrupt is returned when a snapshot file cannot be decoded.
var ErrCorrupt = errors.New("corrupt snapshot")

// Table identifies one persisted table.
type Table uint8

const (
	TableAgents Table = 1 << iota
	TableQueue
	TableLocks

	TableAll = TableAgents | TableQueue | TableLocks
)

func (t Table) String() string {
	switch t {
	case TableAgents:
		return "agents"
	case TableQueue:
		return "queue"
	case TableLocks:
		return "locks"
	case TableAll:
		return "all"
	}
	return "mixed"
}

// State is the full persisted daemon state.
type State struct {
	Agents   map[string]*types.AgentSession
	Commands map[uint64]*types.Command
	NextID   uint64
	NextSeq  uint64
	Locks    map[string]*types.Lock
}

// NewState returns an empty state with initialized maps and counters.
func NewState() *State {
	return &State{
		Agents:   make(map[string]*types.AgentSession),
		Commands: make(map[uint64]*types.Command),
		NextID:   1,
		NextSeq:  1,
		Locks:    make(map[string]*types.Lock),
	}
}

// Store is implemented by persistence backends. Save writes only the tables
// named in mask; the other fields of state are ignored.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, mask Table, state *State) error
}
