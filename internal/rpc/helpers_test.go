package rpc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/types"
)

// newTestSocketPath returns a short socket path; AF_UNIX paths have small
// length limits, so t.TempDir() is often too long.
func newTestSocketPath(t *testing.T) string {
	t.Helper()
	d, err := os.MkdirTemp("/tmp", "coord-sock-")
	if err == nil {
		t.Cleanup(func() { _ = os.RemoveAll(d) })
		return filepath.Join(d, "coord.sock")
	}
	return filepath.Join(t.TempDir(), "coord.sock")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type testDaemon struct {
	srv    *Server
	coord  *coord.Coordinator
	clock  *fakeClock
	socket string
	errCh  chan error
}

// startTestServer runs a server over an in-memory coordinator with a fake
// clock. tweak may adjust the config before start.
func startTestServer(t *testing.T, tweak func(*Config)) *testDaemon {
	t.Helper()

	clock := newFakeClock()
	c, err := coord.New(context.Background(), coord.Options{Now: clock.Now})
	require.NoError(t, err)

	cfg := Config{
		SocketPath:    newTestSocketPath(t),
		SweepInterval: time.Hour,
		Version:       "test",
	}
	if tweak != nil {
		tweak(&cfg)
	}

	d := &testDaemon{
		srv:    NewServer(c, cfg),
		coord:  c,
		clock:  clock,
		socket: cfg.SocketPath,
		errCh:  make(chan error, 1),
	}
	go func() { d.errCh <- d.srv.Start(context.Background()) }()

	select {
	case <-d.srv.WaitReady():
	case err := <-d.errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() { d.stop(t) })
	return d
}

func (d *testDaemon) stop(t *testing.T) {
	t.Helper()
	_ = d.srv.Stop()
	select {
	case err := <-d.errCh:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Start did not return after Stop")
	}
	d.errCh <- nil // allow a second stop to pass through
}

func (d *testDaemon) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(d.socket, time.Second)
	require.NoError(t, err)
	c.SetTimeout(5 * time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// nextEvent waits for a pushed event with the given topic, skipping others.
func nextEvent(t *testing.T, c *Client, topic string) types.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "events channel closed while waiting for %s", topic)
			if ev.Topic == topic {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %s", topic)
		}
	}
}
