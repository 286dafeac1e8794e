// Package lockfile guards a state directory so only one daemon serves it.
//
// The daemon holds an exclusive flock on <dir>/daemon.lock for its whole
// lifetime and writes a JSON LockInfo into it, plus its pid into
// <dir>/daemon.pid. Other processes probe with TryDaemonLock.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName = "daemon.lock"
	pidFileName  = "daemon.pid"
)

// LockInfo is written into the lock file by the holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Socket    string    `json:"socket,omitempty"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads the lock file in dir. A bare pid is accepted as well
// as the JSON form.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID > 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("invalid lock file format in %s", dir)
	}
	return &LockInfo{PID: pid}, nil
}

// DaemonLock is a held daemon lock. Release it on shutdown.
type DaemonLock struct {
	dir  string
	file *os.File
	info LockInfo
}

// Acquire takes the daemon lock for dir without blocking. It returns
// ErrLocked (wrapped with the holder's pid when known) if a daemon is
// already running.
func Acquire(dir, version, socket string) (*DaemonLock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if err == ErrLocked {
			if info, readErr := ReadLockInfo(dir); readErr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, info.PID)
			}
		}
		return nil, err
	}

	info := LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Socket:    socket,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	_ = f.Sync()

	pidPath := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(info.PID)+"\n"), 0600); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return &DaemonLock{dir: dir, file: f, info: info}, nil
}

// Info returns what was written into the lock file.
func (l *DaemonLock) Info() LockInfo {
	return l.info
}

// Release removes the pid file and drops the flock. The lock file itself
// stays; an unlocked lock file means no daemon.
func (l *DaemonLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, pidFileName))
	err := flockUnlock(l.file)
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	l.file = nil
	return err
}

// TryDaemonLock reports whether a daemon currently holds the lock for dir,
// and its pid when known. With no lock file it falls back to the pid file.
func TryDaemonLock(dir string) (running bool, pid int) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		if err != ErrLocked {
			return false, 0
		}
		if info, err := ReadLockInfo(dir); err == nil {
			return true, info.PID
		}
		if running, pid := checkPIDFile(dir); running {
			return true, pid
		}
		return true, 0
	}

	// We got the lock, so nobody is running.
	_ = flockUnlock(f)
	return false, 0
}

// checkPIDFile reports whether the process named in the pid file is alive.
func checkPIDFile(dir string) (bool, int) {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}
	if !isProcessRunning(pid) {
		return false, 0
	}
	return true, pid
}
