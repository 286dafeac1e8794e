package coord

import (
	"time"

	"github.com/steveyegge/coord/internal/types"
)

// Payloads of the events the coordinator emits. Empty fields are omitted so
// each topic only carries what is relevant to it.

type agentEvent struct {
	AgentID      string            `json:"agent_id"`
	AgentType    string            `json:"agent_type,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	OldStatus    types.AgentStatus `json:"old_status,omitempty"`
	NewStatus    types.AgentStatus `json:"new_status,omitempty"`
	CommandID    *uint64           `json:"command_id,omitempty"`
	Reason       string            `json:"reason,omitempty"`
}

type commandEvent struct {
	CommandID    uint64 `json:"command_id"`
	AgentID      string `json:"agent_id,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	RequeueCount int    `json:"requeue_count,omitempty"`
	Error        string `json:"error,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type lockEvent struct {
	Resource  string     `json:"resource"`
	AgentID   string     `json:"agent_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Requeue and release reasons carried in events.
const (
	reasonUnregistered = "unregistered"
	reasonReregistered = "reregistered"
	reasonDead         = "dead"
	reasonReaped       = "reaped"
	reasonAbandoned    = "abandoned"
)
