package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/telemetry"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxConns      = 100
	DefaultWriteTimeout  = 10 * time.Second
	DefaultEventBuffer   = 256
	DefaultSweepInterval = 30 * time.Second
)

// Config tunes the server. Zero values select the defaults above.
type Config struct {
	SocketPath    string
	MaxConns      int
	MaxFrameBytes int
	WriteTimeout  time.Duration
	EventBuffer   int
	SweepInterval time.Duration
	Version       string
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

type handlerFunc func(ctx context.Context, c *conn, params json.RawMessage) (any, error)

// Server accepts framed JSON requests on a unix socket and dispatches them
// to the coordinator.
type Server struct {
	cfg         Config
	socketPath  string
	coord       *coord.Coordinator
	bus         *eventbus.Bus
	logger      *slog.Logger
	metrics     *Metrics
	instruments *telemetry.RPCInstruments
	handlers    map[string]handlerFunc

	mu       sync.RWMutex
	listener net.Listener
	shutdown bool
	started  bool
	conns    map[uint64]*conn

	nextConnID        atomic.Uint64
	activeConns       atomic.Int32
	shutdownRequested atomic.Bool
	connSemaphore     chan struct{}
	wg                sync.WaitGroup

	shutdownChan chan struct{}
	readyChan    chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
	startTime    time.Time
}

// NewServer creates a server bound to c. Call Start to listen.
func NewServer(c *coord.Coordinator, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:           cfg,
		socketPath:    cfg.SocketPath,
		coord:         c,
		bus:           c.Bus(),
		logger:        cfg.Logger,
		metrics:       NewMetrics(),
		instruments:   telemetry.NewRPCInstruments(),
		conns:         make(map[uint64]*conn),
		connSemaphore: make(chan struct{}, cfg.MaxConns),
		shutdownChan:  make(chan struct{}),
		readyChan:     make(chan struct{}),
		doneChan:      make(chan struct{}),
		startTime:     time.Now(),
	}
	s.handlers = s.routes()
	return s
}

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		MethodAgentRegister:     s.handleRegister,
		MethodAgentHeartbeat:    s.handleHeartbeat,
		MethodAgentUpdateStatus: s.handleUpdateStatus,
		MethodAgentList:         s.handleAgentList,
		MethodAgentGet:          s.handleAgentGet,
		MethodAgentUnregister:   s.handleUnregister,

		MethodQueueAdd:      s.handleQueueAdd,
		MethodQueueDequeue:  s.handleDequeue,
		MethodQueueStart:    s.handleQueueStart,
		MethodQueueComplete: s.handleQueueComplete,
		MethodQueueFail:     s.handleQueueFail,
		MethodQueueList:     s.handleQueueList,
		MethodQueueGet:      s.handleQueueGet,

		MethodLockAcquire: s.handleLockAcquire,
		MethodLockRelease: s.handleLockRelease,
		MethodLockCheck:   s.handleLockCheck,
		MethodLockList:    s.handleLockList,

		MethodBusSubscribe:   s.handleSubscribe,
		MethodBusUnsubscribe: s.handleUnsubscribe,
		MethodBusPublish:     s.handlePublish,

		MethodDaemonPing:     s.handlePing,
		MethodDaemonHealth:   s.handleHealth,
		MethodDaemonShutdown: s.handleShutdown,
	}
}

// SocketPath returns the endpoint the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Metrics returns the in-process request metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	return int(s.activeConns.Load())
}

// dispatch runs one request and returns the encoded response frame.
func (s *Server) dispatch(ctx context.Context, c *conn, req *Request) []byte {
	start := time.Now()

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.metrics.RecordRequest(req.Method, time.Since(start))
		s.metrics.RecordError(req.Method)
		return s.encodeError(req.ID, newError(CodeUnknownMethod, "unknown method: %q", req.Method))
	}

	ctx, end := s.instruments.Start(ctx, req.Method)
	result, err := s.invoke(ctx, handler, c, req)
	s.metrics.RecordRequest(req.Method, time.Since(start))

	if err != nil {
		rerr := toError(err)
		if rerr.Code == CodeInternal {
			s.logger.Error("request failed", "method", req.Method, "conn", c.id, "error", err)
		} else {
			s.logger.Debug("request rejected", "method", req.Method, "conn", c.id, "code", rerr.Code, "error", err)
		}
		s.metrics.RecordError(req.Method)
		end(rerr.Code)
		return s.encodeError(req.ID, rerr)
	}
	end("")

	frame, err := json.Marshal(reply{ID: req.ID, Result: result})
	if err != nil {
		s.logger.Error("encode result", "method", req.Method, "error", err)
		return s.encodeError(req.ID, newError(CodeInternal, "failed to encode result"))
	}
	return frame
}

// invoke calls handler and turns a panic into an internal error.
func (s *Server) invoke(ctx context.Context, handler handlerFunc, c *conn, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in handler", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = newError(CodeInternal, "internal error")
		}
	}()
	return handler(ctx, c, req.Params)
}

func (s *Server) encodeError(id json.RawMessage, e *Error) []byte {
	frame, err := json.Marshal(errorReply{ID: id, Error: e})
	if err != nil {
		// id came off the wire as valid JSON, so this only fails on a bug.
		return []byte(fmt.Sprintf(`{"id":null,"error":{"code":%q,"message":%q}}`, CodeInternal, err.Error()))
	}
	return frame
}

// decodeParams unmarshals params into v. Absent or null params leave v at
// its zero value.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return newError(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return newError(CodeInvalidParams, "%s is required", name)
	}
	return nil
}
