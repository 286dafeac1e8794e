// Package types defines the core data structures shared by the coordination
// daemon and its clients.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AgentStatus represents the liveness/work state of an agent session
type AgentStatus string

// Agent status constants
const (
	AgentIdle AgentStatus = "idle"
	AgentBusy AgentStatus = "busy"
	AgentDead AgentStatus = "dead" // Only ever set by the liveness sweeper
)

// IsValid checks if the status value is a known agent status
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentDead:
		return true
	}
	return false
}

// AgentSession is one connected or previously-connected agent.
type AgentSession struct {
	AgentID          string      `json:"agent_id"`
	AgentType        string      `json:"agent_type"`
	Status           AgentStatus `json:"status"`
	Capabilities     []string    `json:"capabilities"`
	CurrentCommandID *uint64     `json:"current_command_id"`
	LastHeartbeat    time.Time   `json:"last_heartbeat"`
	RegisteredAt     time.Time   `json:"registered_at"`
	DeadSince        *time.Time  `json:"dead_since,omitempty"`
}

// Validate checks the status/command invariant: a command is held iff busy.
func (a *AgentSession) Validate() error {
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", a.Status)
	}
	if a.Status == AgentBusy && a.CurrentCommandID == nil {
		return fmt.Errorf("agent %s is busy without a current command", a.AgentID)
	}
	if a.Status != AgentBusy && a.CurrentCommandID != nil {
		return fmt.Errorf("agent %s holds command %d while %s", a.AgentID, *a.CurrentCommandID, a.Status)
	}
	return nil
}

// HasCapability reports whether the agent declared the given capability.
func (a *AgentSession) HasCapability(capability string) bool {
	i := sort.SearchStrings(a.Capabilities, capability)
	return i < len(a.Capabilities) && a.Capabilities[i] == capability
}

// Clone returns a deep copy safe to hand to a client.
func (a *AgentSession) Clone() *AgentSession {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	if a.CurrentCommandID != nil {
		id := *a.CurrentCommandID
		c.CurrentCommandID = &id
	}
	if a.DeadSince != nil {
		t := *a.DeadSince
		c.DeadSince = &t
	}
	return &c
}

// NormalizeCapabilities de-duplicates and sorts a capability list so it
// behaves like a set.
func NormalizeCapabilities(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CommandStatus represents the lifecycle state of a queued command
type CommandStatus string

// Command status constants
const (
	CommandPending   CommandStatus = "pending"
	CommandAssigned  CommandStatus = "assigned"
	CommandRunning   CommandStatus = "running"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// IsValid checks if the status value is a known command status
func (s CommandStatus) IsValid() bool {
	switch s {
	case CommandPending, CommandAssigned, CommandRunning, CommandCompleted, CommandFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// IsHeld reports whether the command is owned by an agent.
func (s CommandStatus) IsHeld() bool {
	return s == CommandAssigned || s == CommandRunning
}

// Command is one unit of queued work. Payload and Result are opaque to the
// daemon.
type Command struct {
	CommandID    uint64          `json:"command_id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Status       CommandStatus   `json:"status"`
	AssignedTo   string          `json:"assigned_to,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	RequeueCount int             `json:"requeue_count"`
	Seq          uint64          `json:"seq"` // Arrival order; FIFO tie-break within a priority
}

// Clone returns a deep copy safe to hand to a client.
func (c *Command) Clone() *Command {
	cp := *c
	if c.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	if c.Result != nil {
		cp.Result = append(json.RawMessage(nil), c.Result...)
	}
	return &cp
}

// Lock is an exclusive claim on a named resource.
type Lock struct {
	Resource     string    `json:"resource"`
	OwnerAgentID string    `json:"owner_agent_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the lock is logically absent at now.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Event is a topic-addressed, fire-and-forget notification.
type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}
