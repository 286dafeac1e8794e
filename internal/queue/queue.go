// Package queue implements the priority command queue and the assignment
// lifecycle of commands.
//
// Pending commands are ordered by priority (higher first) and, within a
// priority, by arrival sequence. A Queue is not safe for concurrent use;
// the coordinator serializes access.
package queue

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

var (
	// ErrCommandNotFound indicates the command id does not exist.
	ErrCommandNotFound = errors.New("command not found")

	// ErrInvalidState indicates a transition not allowed from the
	// command's current status.
	ErrInvalidState = errors.New("invalid command state")

	// ErrNotOwner indicates the caller is not the command's assignee.
	ErrNotOwner = errors.New("command not assigned to agent")
)

// Queue owns every command the daemon knows about, including terminal ones.
type Queue struct {
	commands map[uint64]*types.Command
	pending  pendingHeap
	nextID   uint64
	nextSeq  uint64
}

// New creates an empty queue. Command ids start at 1.
func New() *Queue {
	return &Queue{
		commands: make(map[uint64]*types.Command),
		nextID:   1,
		nextSeq:  1,
	}
}

// Add enqueues a new pending command.
func (q *Queue) Add(payload json.RawMessage, priority int, now time.Time) *types.Command {
	cmd := &types.Command{
		CommandID: q.nextID,
		Payload:   append(json.RawMessage(nil), payload...),
		Priority:  priority,
		Status:    types.CommandPending,
		CreatedAt: now,
		UpdatedAt: now,
		Seq:       q.nextSeq,
	}
	q.nextID++
	q.nextSeq++
	q.commands[cmd.CommandID] = cmd
	heap.Push(&q.pending, pendingEntry{id: cmd.CommandID, priority: cmd.Priority, seq: cmd.Seq})
	return cmd.Clone()
}

// Dequeue assigns the best pending command to agentID. It returns nil when
// nothing is pending. The caller is responsible for checking the agent.
func (q *Queue) Dequeue(agentID string, now time.Time) *types.Command {
	for q.pending.Len() > 0 {
		e := heap.Pop(&q.pending).(pendingEntry)
		cmd, ok := q.commands[e.id]
		if !ok || cmd.Status != types.CommandPending {
			continue
		}
		cmd.Status = types.CommandAssigned
		cmd.AssignedTo = agentID
		cmd.UpdatedAt = now
		return cmd.Clone()
	}
	return nil
}

// held returns the command if it is assigned or running and owned by agentID.
func (q *Queue) held(commandID uint64, agentID string) (*types.Command, error) {
	cmd, err := q.get(commandID)
	if err != nil {
		return nil, err
	}
	if !cmd.Status.IsHeld() {
		return nil, fmt.Errorf("%w: command %d is %s", ErrInvalidState, commandID, cmd.Status)
	}
	if cmd.AssignedTo != agentID {
		return nil, fmt.Errorf("%w: command %d is assigned to %s", ErrNotOwner, commandID, cmd.AssignedTo)
	}
	return cmd, nil
}

// Start moves an assigned command to running.
func (q *Queue) Start(commandID uint64, agentID string, now time.Time) (*types.Command, error) {
	cmd, err := q.held(commandID, agentID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != types.CommandAssigned {
		return nil, fmt.Errorf("%w: command %d is already %s", ErrInvalidState, commandID, cmd.Status)
	}
	cmd.Status = types.CommandRunning
	cmd.UpdatedAt = now
	return cmd.Clone(), nil
}

// Complete finishes a held command successfully.
func (q *Queue) Complete(commandID uint64, agentID string, result json.RawMessage, now time.Time) (*types.Command, error) {
	cmd, err := q.held(commandID, agentID)
	if err != nil {
		return nil, err
	}
	cmd.Status = types.CommandCompleted
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	cmd.Result = append(json.RawMessage(nil), result...)
	cmd.UpdatedAt = now
	return cmd.Clone(), nil
}

// Fail finishes a held command with an error message.
func (q *Queue) Fail(commandID uint64, agentID, message string, now time.Time) (*types.Command, error) {
	cmd, err := q.held(commandID, agentID)
	if err != nil {
		return nil, err
	}
	cmd.Status = types.CommandFailed
	cmd.Error = message
	cmd.UpdatedAt = now
	return cmd.Clone(), nil
}

// Requeue returns a held command to pending because its assignee went away.
// The command keeps its original sequence number so it regains its place
// within its priority tier. When maxRequeues > 0 and the command has been
// requeued more than that, it is failed instead and abandoned is true.
func (q *Queue) Requeue(commandID uint64, maxRequeues int, now time.Time) (cmd *types.Command, abandoned bool, err error) {
	c, err := q.get(commandID)
	if err != nil {
		return nil, false, err
	}
	if !c.Status.IsHeld() {
		return nil, false, fmt.Errorf("%w: command %d is %s", ErrInvalidState, commandID, c.Status)
	}

	c.RequeueCount++
	c.UpdatedAt = now
	if maxRequeues > 0 && c.RequeueCount > maxRequeues {
		c.Status = types.CommandFailed
		c.Error = fmt.Sprintf("abandoned after %d requeues", maxRequeues)
		return c.Clone(), true, nil
	}

	c.Status = types.CommandPending
	c.AssignedTo = ""
	heap.Push(&q.pending, pendingEntry{id: c.CommandID, priority: c.Priority, seq: c.Seq})
	return c.Clone(), false, nil
}

func (q *Queue) get(commandID uint64) (*types.Command, error) {
	cmd, ok := q.commands[commandID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrCommandNotFound, commandID)
	}
	return cmd, nil
}

// Get returns a copy of the command.
func (q *Queue) Get(commandID uint64) (*types.Command, error) {
	cmd, err := q.get(commandID)
	if err != nil {
		return nil, err
	}
	return cmd.Clone(), nil
}

// List returns copies of commands ordered by command id, optionally filtered
// by status. An empty status lists everything.
func (q *Queue) List(status types.CommandStatus) []*types.Command {
	out := make([]*types.Command, 0, len(q.commands))
	for _, cmd := range q.commands {
		if status != "" && cmd.Status != status {
			continue
		}
		out = append(out, cmd.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommandID < out[j].CommandID })
	return out
}

// Counts returns the number of commands per status.
func (q *Queue) Counts() map[types.CommandStatus]int {
	counts := make(map[types.CommandStatus]int)
	for _, cmd := range q.commands {
		counts[cmd.Status]++
	}
	return counts
}

// Len returns the total number of commands, terminal ones included.
func (q *Queue) Len() int {
	return len(q.commands)
}

// Snapshot is the persisted form of the queue.
type Snapshot struct {
	Commands map[uint64]*types.Command
	NextID   uint64
	NextSeq  uint64
}

// Snapshot returns a deep copy of the queue state.
func (q *Queue) Snapshot() Snapshot {
	cmds := make(map[uint64]*types.Command, len(q.commands))
	for id, cmd := range q.commands {
		cmds[id] = cmd.Clone()
	}
	return Snapshot{Commands: cmds, NextID: q.nextID, NextSeq: q.nextSeq}
}

// Restore replaces the queue with a persisted snapshot and rebuilds the
// pending heap. Counters are bumped past any id or seq already in use so
// ids are never reused.
func (q *Queue) Restore(s Snapshot) error {
	cmds := make(map[uint64]*types.Command, len(s.Commands))
	nextID, nextSeq := s.NextID, s.NextSeq
	if nextID == 0 {
		nextID = 1
	}
	if nextSeq == 0 {
		nextSeq = 1
	}

	var pending pendingHeap
	for id, cmd := range s.Commands {
		if cmd == nil {
			continue
		}
		if cmd.CommandID != id {
			return fmt.Errorf("command snapshot key %d does not match command_id %d", id, cmd.CommandID)
		}
		if !cmd.Status.IsValid() {
			return fmt.Errorf("command %d: invalid status %q", id, cmd.Status)
		}
		if cmd.Status == types.CommandPending && cmd.AssignedTo != "" {
			return fmt.Errorf("command %d: pending with assignee %s", id, cmd.AssignedTo)
		}
		if cmd.Status.IsHeld() && cmd.AssignedTo == "" {
			return fmt.Errorf("command %d: %s without assignee", id, cmd.Status)
		}
		cmds[id] = cmd.Clone()
		if id >= nextID {
			nextID = id + 1
		}
		if cmd.Seq >= nextSeq {
			nextSeq = cmd.Seq + 1
		}
		if cmd.Status == types.CommandPending {
			pending = append(pending, pendingEntry{id: id, priority: cmd.Priority, seq: cmd.Seq})
		}
	}
	heap.Init(&pending)

	q.commands = cmds
	q.pending = pending
	q.nextID = nextID
	q.nextSeq = nextSeq
	return nil
}
