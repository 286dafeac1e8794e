package rpc

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/types"
)

// Method names
const (
	MethodAgentRegister     = "agent.register"
	MethodAgentHeartbeat    = "agent.heartbeat"
	MethodAgentUpdateStatus = "agent.update_status"
	MethodAgentList         = "agent.list"
	MethodAgentGet          = "agent.get"
	MethodAgentUnregister   = "agent.unregister"

	MethodQueueAdd      = "queue.add"
	MethodQueueDequeue  = "queue.dequeue"
	MethodQueueStart    = "queue.start"
	MethodQueueComplete = "queue.complete"
	MethodQueueFail     = "queue.fail"
	MethodQueueList     = "queue.list"
	MethodQueueGet      = "queue.get"

	MethodLockAcquire = "lock.acquire"
	MethodLockRelease = "lock.release"
	MethodLockCheck   = "lock.check"
	MethodLockList    = "lock.list"

	MethodBusSubscribe   = "bus.subscribe"
	MethodBusUnsubscribe = "bus.unsubscribe"
	MethodBusPublish     = "bus.publish"

	MethodDaemonPing     = "daemon.ping"
	MethodDaemonHealth   = "daemon.health"
	MethodDaemonShutdown = "daemon.shutdown"
)

// Request is the client to daemon envelope.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Response is the daemon to client envelope. Exactly one of Result and
// Error is set on replies; pushed events carry only Event.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Event  *types.Event    `json:"event,omitempty"`
}

// reply is the server-side encoding of a response. Result is always
// emitted (a null result is meaningful for queue.dequeue).
type reply struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

type errorReply struct {
	ID    json.RawMessage `json:"id"`
	Error *Error          `json:"error"`
}

// OKResult is returned by methods whose only outcome is success.
type OKResult struct {
	OK bool `json:"ok"`
}

// RegisterParams for agent.register
type RegisterParams struct {
	AgentID      string   `json:"agent_id,omitempty"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResult for agent.register
type RegisterResult struct {
	AgentID string `json:"agent_id"`
}

// AgentParams names one agent (heartbeat, get, unregister, dequeue).
type AgentParams struct {
	AgentID string `json:"agent_id"`
}

// UpdateStatusParams for agent.update_status
type UpdateStatusParams struct {
	AgentID          string            `json:"agent_id"`
	Status           types.AgentStatus `json:"status"`
	CurrentCommandID *uint64           `json:"current_command_id,omitempty"`
}

// QueueAddParams for queue.add
type QueueAddParams struct {
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority,omitempty"`
}

// QueueAddResult for queue.add
type QueueAddResult struct {
	CommandID uint64 `json:"command_id"`
}

// CommandParams names a command and the agent acting on it
// (queue.start, queue.get).
type CommandParams struct {
	CommandID uint64 `json:"command_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// CompleteParams for queue.complete
type CompleteParams struct {
	CommandID uint64          `json:"command_id"`
	AgentID   string          `json:"agent_id"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// FailParams for queue.fail
type FailParams struct {
	CommandID uint64 `json:"command_id"`
	AgentID   string `json:"agent_id"`
	Error     string `json:"error"`
}

// QueueListParams for queue.list
type QueueListParams struct {
	Status string `json:"status,omitempty"`
}

// LockAcquireParams for lock.acquire
type LockAcquireParams struct {
	Resource       string  `json:"resource"`
	AgentID        string  `json:"agent_id"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// LockAcquireResult for lock.acquire
type LockAcquireResult struct {
	Granted   bool       `json:"granted"`
	Owner     string     `json:"owner,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LockReleaseParams for lock.release
type LockReleaseParams struct {
	Resource string `json:"resource"`
	AgentID  string `json:"agent_id"`
}

// LockCheckParams for lock.check
type LockCheckParams struct {
	Resource string `json:"resource"`
}

// LockCheckResult for lock.check
type LockCheckResult struct {
	Held      bool       `json:"held"`
	Owner     string     `json:"owner,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SubscribeParams for bus.subscribe and bus.unsubscribe
type SubscribeParams struct {
	TopicPattern string `json:"topic_pattern"`
}

// SubscribeResult for bus.subscribe
type SubscribeResult struct {
	ConnectionID uint64 `json:"connection_id"`
	Pattern      string `json:"pattern"`
}

// PublishParams for bus.publish
type PublishParams struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PublishResult for bus.publish
type PublishResult struct {
	Delivered int `json:"delivered"`
}

// PingResult for daemon.ping
type PingResult struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResult for daemon.health
type HealthResult struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Connections   int             `json:"connections"`
	State         coord.Stats     `json:"state"`
	Metrics       MetricsSnapshot `json:"metrics"`
}
