package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"
)

// isPermissionUnsupportedError checks if an error indicates the filesystem
// doesn't support permission changes on sockets (e.g., EINVAL on virtio-fs)
func isPermissionUnsupportedError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTSUP
	}
	return false
}

// Start listens on the socket and serves connections until Stop is called
// or ctx is cancelled. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.New("server already stopped")
	}
	s.started = true
	s.mu.Unlock()

	// Ensure cleanup is signaled when this function returns
	defer close(s.doneChan)

	if err := s.ensureSocketDir(); err != nil {
		return fmt.Errorf("failed to ensure socket directory: %w", err)
	}
	if err := s.removeOldSocket(); err != nil {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := listenRPC(s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to initialize RPC listener: %w", err)
	}

	// Owner-only access. Some filesystems (virtio-fs in containers) refuse
	// chmod on sockets; the 0700 parent directory still protects it there.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		if !isPermissionUnsupportedError(err) {
			_ = listener.Close()
			return fmt.Errorf("failed to set socket permissions: %w", err)
		}
		s.logger.Warn("could not set socket permissions (filesystem limitation)", "error", err)
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	close(s.readyChan)
	s.logger.Info("listening", "socket", s.socketPath, "max_conns", s.cfg.MaxConns)

	s.wg.Add(1)
	go s.runSweeper()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.shutdownChan:
		}
	}()

	for {
		nc, err := listener.Accept()
		if err != nil {
			if s.isShutdown() {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		// Try to acquire connection slot (non-blocking)
		select {
		case s.connSemaphore <- struct{}{}:
			s.metrics.RecordConnection()
			s.wg.Add(1)
			go func(nc net.Conn) {
				defer s.wg.Done()
				defer func() { <-s.connSemaphore }()
				s.activeConns.Add(1)
				defer s.activeConns.Add(-1)
				s.handleConnection(ctx, nc)
			}(nc)
		default:
			// Max connections reached, reject immediately
			s.metrics.RecordRejectedConnection()
			s.logger.Warn("connection rejected, max connections reached", "max_conns", s.cfg.MaxConns)
			_ = nc.Close()
		}
	}
}

// WaitReady waits for the server to be ready to accept connections
func (s *Server) WaitReady() <-chan struct{} {
	return s.readyChan
}

// Done is closed once Start has returned.
func (s *Server) Done() <-chan struct{} {
	return s.doneChan
}

func (s *Server) isShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// Stop closes the listener and every connection, waits for their goroutines
// and the sweeper, and removes the socket. It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		started := s.started
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()

		close(s.shutdownChan)

		if listener != nil {
			if closeErr := listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = fmt.Errorf("failed to close listener: %w", closeErr)
			}
		}

		if started {
			// The accept loop must be gone before wg.Wait so no new
			// connection goroutine can be added.
			select {
			case <-s.doneChan:
			case <-time.After(5 * time.Second):
				s.logger.Warn("timed out waiting for accept loop to exit")
			}
		}

		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
		s.wg.Wait()

		if listener != nil {
			if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
				err = fmt.Errorf("failed to remove socket: %w", removeErr)
			}
		}
		s.logger.Info("server stopped")
	})
	return err
}

func (s *Server) ensureSocketDir() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	// Best-effort tighten permissions if directory already existed
	_ = os.Chmod(dir, 0700) // #nosec G302 - 0700 is secure (user-only access)
	return nil
}

func (s *Server) removeOldSocket() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		// Socket exists - check if it's stale before removing
		conn, err := dialRPC(s.socketPath, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return fmt.Errorf("socket %s is in use by another daemon", s.socketPath)
		}

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		s.logger.Info("removed stale socket", "socket", s.socketPath)
	}
	return nil
}

// handleConnection registers the connection, runs its writer, and reads
// requests until the peer goes away.
func (s *Server) handleConnection(ctx context.Context, nc net.Conn) {
	id := s.nextConnID.Add(1)
	c := newConn(s, id, nc)

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = nc.Close()
		return
	}
	s.conns[id] = c
	s.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	defer func() {
		// Recover so one bad connection cannot take the daemon down.
		if r := recover(); r != nil {
			s.logger.Error("panic in connection handler", "conn", id, "panic", r, "stack", string(debug.Stack()))
		}
		c.close()
		<-writerDone
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.logger.Debug("connection closed", "conn", id)
	}()

	s.logger.Debug("connection opened", "conn", id)
	c.readLoop(ctx)
}
