package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func holdLock(t *testing.T, dir string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("failed to open lock file: %v", err)
	}
	if err := flockExclusive(f); err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	t.Cleanup(func() {
		_ = flockUnlock(f)
		_ = f.Close()
	})
}

func TestReadLockInfo(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, lockFileName)

	t.Run("JSON format", func(t *testing.T) {
		lockInfo := &LockInfo{
			PID:       12345,
			ParentPID: 1,
			Socket:    "/tmp/coord.sock",
			Version:   "1.0.0",
			StartedAt: time.Now(),
		}
		data, err := json.Marshal(lockInfo)
		if err != nil {
			t.Fatalf("failed to marshal lock info: %v", err)
		}
		if err := os.WriteFile(lockPath, data, 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}

		result, err := ReadLockInfo(tmpDir)
		if err != nil {
			t.Fatalf("ReadLockInfo failed: %v", err)
		}
		if result.PID != lockInfo.PID {
			t.Errorf("PID mismatch: got %d, want %d", result.PID, lockInfo.PID)
		}
		if result.Socket != lockInfo.Socket {
			t.Errorf("Socket mismatch: got %s, want %s", result.Socket, lockInfo.Socket)
		}
	})

	t.Run("plain PID", func(t *testing.T) {
		if err := os.WriteFile(lockPath, []byte("98765\n"), 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		result, err := ReadLockInfo(tmpDir)
		if err != nil {
			t.Fatalf("ReadLockInfo failed: %v", err)
		}
		if result.PID != 98765 {
			t.Errorf("PID mismatch: got %d, want %d", result.PID, 98765)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := ReadLockInfo(filepath.Join(tmpDir, "nonexistent")); err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		if err := os.WriteFile(lockPath, []byte("invalid json"), 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		if _, err := ReadLockInfo(tmpDir); err == nil {
			t.Error("expected error for invalid format")
		}
	})
}

func TestCheckPIDFile(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, pidFileName)

	tests := []struct {
		name        string
		content     string
		wantRunning bool
		wantPID     int
	}{
		{name: "invalid PID", content: "not-a-number"},
		{name: "process not running", content: "99999"},
		{name: "current process", content: fmt.Sprintf("%d", os.Getpid()), wantRunning: true, wantPID: os.Getpid()},
	}

	running, pid := checkPIDFile(tmpDir)
	if running || pid != 0 {
		t.Fatalf("missing file: got (%v, %d), want (false, 0)", running, pid)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(pidFile, []byte(tt.content), 0600); err != nil {
				t.Fatalf("failed to write PID file: %v", err)
			}
			running, pid := checkPIDFile(tmpDir)
			if running != tt.wantRunning || pid != tt.wantPID {
				t.Errorf("got (%v, %d), want (%v, %d)", running, pid, tt.wantRunning, tt.wantPID)
			}
		})
	}
}

func TestTryDaemonLock(t *testing.T) {
	t.Run("no lock file exists", func(t *testing.T) {
		running, pid := TryDaemonLock(t.TempDir())
		if running || pid != 0 {
			t.Errorf("got (%v, %d), want (false, 0)", running, pid)
		}
	})

	t.Run("lock file exists but not locked", func(t *testing.T) {
		tmpDir := t.TempDir()
		data, _ := json.Marshal(LockInfo{PID: 12345, Version: "1.0.0", StartedAt: time.Now()})
		if err := os.WriteFile(filepath.Join(tmpDir, lockFileName), data, 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		if running, _ := TryDaemonLock(tmpDir); running {
			t.Error("expected running=false when lock file is not locked")
		}
	})

	t.Run("lock held", func(t *testing.T) {
		tmpDir := t.TempDir()
		data, _ := json.Marshal(LockInfo{PID: os.Getpid(), Version: "1.0.0", StartedAt: time.Now()})
		if err := os.WriteFile(filepath.Join(tmpDir, lockFileName), data, 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		holdLock(t, tmpDir)

		running, pid := TryDaemonLock(tmpDir)
		if !running {
			t.Error("expected running=true when lock is held")
		}
		if pid != os.Getpid() {
			t.Errorf("expected pid=%d, got %d", os.Getpid(), pid)
		}
	})

	t.Run("invalid content falls back to PID file", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, lockFileName), []byte("garbage"), 0600); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, pidFileName), []byte(fmt.Sprintf("%d", os.Getpid())), 0600); err != nil {
			t.Fatalf("failed to write PID file: %v", err)
		}
		holdLock(t, tmpDir)

		running, pid := TryDaemonLock(tmpDir)
		if !running || pid != os.Getpid() {
			t.Errorf("got (%v, %d), want (true, %d)", running, pid, os.Getpid())
		}
	})

	t.Run("falls back to PID file when no lock file exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, pidFileName), []byte(fmt.Sprintf("%d", os.Getpid())), 0600); err != nil {
			t.Fatalf("failed to write PID file: %v", err)
		}
		running, pid := TryDaemonLock(tmpDir)
		if !running || pid != os.Getpid() {
			t.Errorf("got (%v, %d), want (true, %d)", running, pid, os.Getpid())
		}
	})
}

func TestAcquireAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".coord")

	lock, err := Acquire(dir, "1.2.3", "/tmp/x.sock")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	info, err := ReadLockInfo(dir)
	if err != nil {
		t.Fatalf("ReadLockInfo failed: %v", err)
	}
	if info.PID != os.Getpid() || info.Version != "1.2.3" || info.Socket != "/tmp/x.sock" {
		t.Errorf("unexpected lock info: %+v", info)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFileName)); err != nil {
		t.Errorf("pid file missing: %v", err)
	}

	if _, err := Acquire(dir, "1.2.3", ""); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire: expected ErrLocked, got %v", err)
	}
	if running, pid := TryDaemonLock(dir); !running || pid != os.Getpid() {
		t.Errorf("TryDaemonLock while held: got (%v, %d)", running, pid)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFileName)); !os.IsNotExist(err) {
		t.Errorf("pid file should be removed, stat err = %v", err)
	}
	if running, _ := TryDaemonLock(dir); running {
		t.Error("expected running=false after Release")
	}

	again, err := Acquire(dir, "1.2.3", "")
	if err != nil {
		t.Fatalf("re-Acquire after Release failed: %v", err)
	}
	_ = again.Release()
}

func TestFlockExclusive(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")
	if err := os.WriteFile(lockPath, []byte("test"), 0600); err != nil {
		t.Fatalf("failed to create lock file: %v", err)
	}

	f1, err := os.OpenFile(lockPath, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("failed to open lock file: %v", err)
	}
	defer f1.Close()
	if err := flockExclusive(f1); err != nil {
		t.Fatalf("flockExclusive should succeed on unlocked file: %v", err)
	}
	defer flockUnlock(f1)

	f2, err := os.OpenFile(lockPath, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("failed to open second lock file handle: %v", err)
	}
	defer f2.Close()
	if err := flockExclusive(f2); err != ErrLocked {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("expected current process to be running")
	}
	if isProcessRunning(99999) {
		t.Error("expected non-existent process to not be running")
	}
	if isProcessRunning(0) {
		t.Error("pid 0 must not be treated as running")
	}
}
