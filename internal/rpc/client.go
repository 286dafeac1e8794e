package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/coord/internal/debug"
	"github.com/steveyegge/coord/internal/lockfile"
	"github.com/steveyegge/coord/internal/types"
)

// ErrClientClosed is returned by calls on a closed client or after the
// daemon hung up.
var ErrClientClosed = errors.New("rpc client closed")

// Client is a connection to the daemon. It is safe for concurrent use:
// requests are matched to responses by id, and pushed events are delivered
// on Events.
type Client struct {
	conn       net.Conn
	socketPath string
	timeout    time.Duration
	maxFrame   int

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *Response
	err     error

	events    chan types.Event
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the daemon at socketPath.
func Dial(socketPath string, dialTimeout time.Duration) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	debug.Logf("dialing %s (timeout %v)", socketPath, dialTimeout)
	conn, err := dialRPC(socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	return newClient(conn, socketPath), nil
}

func newClient(conn net.Conn, socketPath string) *Client {
	c := &Client{
		conn:       conn,
		socketPath: socketPath,
		timeout:    30 * time.Second,
		maxFrame:   DefaultMaxFrameBytes,
		pending:    make(map[uint64]chan *Response),
		events:     make(chan types.Event, DefaultEventBuffer),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// TryConnect returns a client if a daemon is answering on socketPath, and
// (nil, nil) if none is running.
func TryConnect(socketPath string) (*Client, error) {
	if !EndpointExists(socketPath) {
		dir := filepath.Dir(socketPath)
		if running, pid := lockfile.TryDaemonLock(dir); running {
			debug.Logf("daemon lock held by pid %d but socket %s is missing", pid, socketPath)
		}
		return nil, nil
	}

	client, err := Dial(socketPath, 200*time.Millisecond)
	if err != nil {
		debug.Logf("dial failed: %v", err)
		running, _ := lockfile.TryDaemonLock(filepath.Dir(socketPath))
		if !running {
			// Nobody holds the lock, so the socket is left over from a crash.
			debug.Logf("removing stale socket %s", socketPath)
			_ = os.Remove(socketPath)
		}
		return nil, nil
	}

	if _, err := client.Ping(); err != nil {
		debug.Logf("ping failed: %v", err)
		_ = client.Close()
		return nil, nil
	}
	return client, nil
}

// WaitForDaemon polls socketPath with exponential backoff until the daemon
// answers a ping or maxWait elapses.
func WaitForDaemon(ctx context.Context, socketPath string, maxWait time.Duration) (*Client, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = maxWait

	var client *Client
	err := backoff.Retry(func() error {
		c, err := Dial(socketPath, 200*time.Millisecond)
		if err != nil {
			return err
		}
		if _, err := c.Ping(); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("daemon did not come up on %s: %w", socketPath, err)
	}
	return client, nil
}

// SetTimeout sets the per-call timeout used when the context has no deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Events returns pushed events for this connection's subscriptions. The
// channel is closed when the connection ends. Events are dropped if the
// channel is not drained.
func (c *Client) Events() <-chan types.Event {
	return c.events
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.mu.Lock()
		if readErr == nil {
			readErr = ErrClientClosed
		}
		c.err = readErr
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		close(c.closed)
		close(c.events)
	}()

	for {
		frame, err := ReadFrame(c.conn, c.maxFrame)
		if err != nil {
			readErr = fmt.Errorf("%w: %v", ErrClientClosed, err)
			return
		}
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			readErr = fmt.Errorf("decode response: %w", err)
			_ = c.conn.Close()
			return
		}

		if resp.Event != nil {
			select {
			case c.events <- *resp.Event:
			default:
				debug.Logf("dropping event %s: events channel full", resp.Event.Topic)
			}
			continue
		}

		var id uint64
		if err := json.Unmarshal(resp.ID, &id); err != nil {
			debug.Logf("response with unexpected id %s", string(resp.ID))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// Call sends method with params and decodes the result into result (which
// may be nil). A structured error from the daemon is returned as *Error.
func (c *Client) Call(method string, params, result any) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext is Call with cancellation.
func (c *Client) CallContext(ctx context.Context, method string, params, result any) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}

	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}

	frame, err := json.Marshal(Request{Method: method, Params: rawParams, ID: json.RawMessage(fmt.Sprintf("%d", id))})
	if err != nil {
		forget()
		return fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err = WriteFrame(c.conn, frame)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		return fmt.Errorf("write request: %w", err)
	}
	debug.Logf("-> %s id=%d", method, id)

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp *Response
	select {
	case r, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return err
		}
		resp = r
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}

	if resp.Error != nil {
		debug.Logf("<- %s id=%d error=%s", method, id, resp.Error.Code)
		return resp.Error
	}
	debug.Logf("<- %s id=%d ok", method, id)
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Register registers (or re-registers) an agent. An empty agentID asks the
// daemon to generate one.
func (c *Client) Register(agentID, agentType string, capabilities []string) (string, error) {
	var res RegisterResult
	err := c.Call(MethodAgentRegister, RegisterParams{AgentID: agentID, AgentType: agentType, Capabilities: capabilities}, &res)
	return res.AgentID, err
}

func (c *Client) Heartbeat(agentID string) error {
	return c.Call(MethodAgentHeartbeat, AgentParams{AgentID: agentID}, nil)
}

func (c *Client) UpdateStatus(agentID string, status types.AgentStatus, commandID *uint64) error {
	return c.Call(MethodAgentUpdateStatus, UpdateStatusParams{AgentID: agentID, Status: status, CurrentCommandID: commandID}, nil)
}

func (c *Client) ListAgents() ([]*types.AgentSession, error) {
	var out []*types.AgentSession
	err := c.Call(MethodAgentList, nil, &out)
	return out, err
}

func (c *Client) GetAgent(agentID string) (*types.AgentSession, error) {
	var out types.AgentSession
	if err := c.Call(MethodAgentGet, AgentParams{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Unregister(agentID string) error {
	return c.Call(MethodAgentUnregister, AgentParams{AgentID: agentID}, nil)
}

// AddCommand enqueues payload, which must be valid JSON (or empty for null).
func (c *Client) AddCommand(payload json.RawMessage, priority int) (uint64, error) {
	var res QueueAddResult
	err := c.Call(MethodQueueAdd, QueueAddParams{Payload: payload, Priority: priority}, &res)
	return res.CommandID, err
}

// Dequeue assigns the next command to agentID. It returns nil when the
// queue has nothing pending.
func (c *Client) Dequeue(agentID string) (*types.Command, error) {
	var out *types.Command
	if err := c.Call(MethodQueueDequeue, AgentParams{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartCommand(commandID uint64, agentID string) error {
	return c.Call(MethodQueueStart, CommandParams{CommandID: commandID, AgentID: agentID}, nil)
}

func (c *Client) CompleteCommand(commandID uint64, agentID string, result json.RawMessage) error {
	return c.Call(MethodQueueComplete, CompleteParams{CommandID: commandID, AgentID: agentID, Result: result}, nil)
}

func (c *Client) FailCommand(commandID uint64, agentID, message string) error {
	return c.Call(MethodQueueFail, FailParams{CommandID: commandID, AgentID: agentID, Error: message}, nil)
}

func (c *Client) ListCommands(status types.CommandStatus) ([]*types.Command, error) {
	var out []*types.Command
	err := c.Call(MethodQueueList, QueueListParams{Status: string(status)}, &out)
	return out, err
}

func (c *Client) GetCommand(commandID uint64) (*types.Command, error) {
	var out types.Command
	if err := c.Call(MethodQueueGet, CommandParams{CommandID: commandID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcquireLock makes one non-blocking attempt. A timeout of zero uses the
// daemon's default lock timeout.
func (c *Client) AcquireLock(resource, agentID string, timeout time.Duration) (*LockAcquireResult, error) {
	var res LockAcquireResult
	err := c.Call(MethodLockAcquire, LockAcquireParams{
		Resource:       resource,
		AgentID:        agentID,
		TimeoutSeconds: timeout.Seconds(),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AcquireLockWithRetry retries AcquireLock with exponential backoff until
// the lock is granted, maxWait elapses, or ctx is done. The daemon never
// queues lock waiters, so waiting is the caller's job.
func (c *Client) AcquireLockWithRetry(ctx context.Context, resource, agentID string, timeout, maxWait time.Duration) (*LockAcquireResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxWait

	var last *LockAcquireResult
	err := backoff.Retry(func() error {
		res, err := c.AcquireLock(resource, agentID, timeout)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = res
		if !res.Granted {
			return fmt.Errorf("lock %s held by %s", resource, res.Owner)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		return last, err
	}
	return last, nil
}

func (c *Client) ReleaseLock(resource, agentID string) error {
	return c.Call(MethodLockRelease, LockReleaseParams{Resource: resource, AgentID: agentID}, nil)
}

func (c *Client) CheckLock(resource string) (*LockCheckResult, error) {
	var res LockCheckResult
	if err := c.Call(MethodLockCheck, LockCheckParams{Resource: resource}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListLocks() ([]types.Lock, error) {
	var out []types.Lock
	err := c.Call(MethodLockList, nil, &out)
	return out, err
}

// Subscribe binds pattern to this connection; matching events arrive on
// Events.
func (c *Client) Subscribe(pattern string) (*SubscribeResult, error) {
	var res SubscribeResult
	if err := c.Call(MethodBusSubscribe, SubscribeParams{TopicPattern: pattern}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Unsubscribe(pattern string) error {
	return c.Call(MethodBusUnsubscribe, SubscribeParams{TopicPattern: pattern}, nil)
}

// Publish sends an event and returns how many connections it was queued for.
func (c *Client) Publish(topic string, payload json.RawMessage) (int, error) {
	var res PublishResult
	err := c.Call(MethodBusPublish, PublishParams{Topic: topic, Payload: payload}, &res)
	return res.Delivered, err
}

func (c *Client) Ping() (*PingResult, error) {
	var res PingResult
	if err := c.Call(MethodDaemonPing, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Health() (*HealthResult, error) {
	var res HealthResult
	if err := c.Call(MethodDaemonHealth, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown asks the daemon to stop after replying.
func (c *Client) Shutdown() error {
	return c.Call(MethodDaemonShutdown, nil, nil)
}
