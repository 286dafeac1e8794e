package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// outbound is one frame waiting for the writer. after runs once the frame
// has been written.
type outbound struct {
	frame []byte
	after func()
}

// conn is a single client connection. The reader goroutine decodes and
// dispatches requests in order; the writer goroutine drains out. Pushed
// events and responses share the queue.
type conn struct {
	id  uint64
	srv *Server
	nc  net.Conn

	out       chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(s *Server, id uint64, nc net.Conn) *conn {
	return &conn{
		id:   id,
		srv:  s,
		nc:   nc,
		out:  make(chan outbound, s.cfg.EventBuffer),
		done: make(chan struct{}),
	}
}

// ID implements eventbus.Subscriber.
func (c *conn) ID() uint64 { return c.id }

// Deliver implements eventbus.Subscriber. It is called with the coordinator
// mutex held and must never block.
func (c *conn) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- outbound{frame: frame}:
		return true
	default:
		c.srv.metrics.RecordDroppedEvent()
		c.srv.logger.Debug("event dropped, outbound queue full", "conn", c.id)
		return false
	}
}

// send queues a response, waiting for room. It gives up once the
// connection is closed.
func (c *conn) send(item outbound) bool {
	select {
	case c.out <- item:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
		c.srv.bus.RemoveConnection(c.id)
	})
}

func (c *conn) writeLoop() {
	for {
		select {
		case item := <-c.out:
			_ = c.nc.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			err := WriteFrame(c.nc, item.frame)
			if item.after != nil {
				item.after()
			}
			if err != nil {
				c.srv.logger.Debug("write failed, closing connection", "conn", c.id, "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop runs until the peer disconnects or sends something that is not
// a well-formed request. Transport errors close the connection without a
// response.
func (c *conn) readLoop(ctx context.Context) {
	for {
		frame, err := ReadFrame(c.nc, c.srv.cfg.MaxFrameBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.srv.logger.Debug("read failed, closing connection", "conn", c.id, "error", err)
			}
			return
		}
		if !utf8.Valid(frame) {
			c.srv.logger.Debug("invalid utf-8 frame, closing connection", "conn", c.id)
			return
		}
		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			c.srv.logger.Debug("malformed envelope, closing connection", "conn", c.id, "error", err)
			return
		}

		resp := c.srv.dispatch(ctx, c, &req)
		item := outbound{frame: resp}
		if req.Method == MethodDaemonShutdown && c.srv.shutdownRequested.Load() {
			// Stop once the reply is on the wire. Stop waits for this
			// connection's goroutines, so it runs detached.
			item.after = func() { go func() { _ = c.srv.Stop() }() }
		}
		if !c.send(item) {
			if item.after != nil {
				item.after()
			}
			return
		}
	}
}
