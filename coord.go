// Package coord is the public Go API for agents that talk to a coord
// daemon. It re-exports the wire types and a client; everything else lives
// under internal/.
package coord

import (
	"os"
	"time"

	"github.com/steveyegge/coord/internal/config"
	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/types"
)

// Core types
type (
	Client        = rpc.Client
	Error         = rpc.Error
	AgentSession  = types.AgentSession
	AgentStatus   = types.AgentStatus
	Command       = types.Command
	CommandStatus = types.CommandStatus
	Lock          = types.Lock
	Event         = types.Event
)

// Agent status constants
const (
	AgentIdle = types.AgentIdle
	AgentBusy = types.AgentBusy
	AgentDead = types.AgentDead
)

// Command status constants
const (
	CommandPending   = types.CommandPending
	CommandAssigned  = types.CommandAssigned
	CommandRunning   = types.CommandRunning
	CommandCompleted = types.CommandCompleted
	CommandFailed    = types.CommandFailed
)

// Error codes returned by the daemon. Test with HasCode.
const (
	CodeUnknownMethod = rpc.CodeUnknownMethod
	CodeInvalidParams = rpc.CodeInvalidParams
	CodeNotFound      = rpc.CodeNotFound
	CodeInvalidState  = rpc.CodeInvalidState
	CodeNotOwner      = rpc.CodeNotOwner
	CodeInternal      = rpc.CodeInternal
)

// HasCode reports whether err is a daemon error with the given code.
func HasCode(err error, code string) bool {
	return rpc.HasCode(err, code)
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	return rpc.Dial(socketPath, 2*time.Second)
}

// SocketPath resolves the socket for the .coord directory nearest to start,
// honouring config.yaml and COORD_SOCKET.
func SocketPath(start string) (string, error) {
	loader, err := config.NewLoader(config.FindDir(start))
	if err != nil {
		return "", err
	}
	cfg, err := loader.Load()
	if err != nil {
		return "", err
	}
	return cfg.Socket, nil
}

// Connect finds the daemon for the current directory and dials it.
func Connect() (*Client, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	socket, err := SocketPath(cwd)
	if err != nil {
		return nil, err
	}
	return Dial(socket)
}
