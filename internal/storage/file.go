package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/steveyegge/coord/internal/types"
)

// Snapshot file names inside the state directory.
const (
	AgentsFile = "agents.json"
	QueueFile  = "queue.json"
	LocksFile  = "locks.json"
)

type agentsFile struct {
	Version int                            `json:"version"`
	Agents  map[string]*types.AgentSession `json:"agents"`
}

type queueFile struct {
	Version  int                       `json:"version"`
	NextID   uint64                    `json:"next_id"`
	NextSeq  uint64                    `json:"next_seq"`
	Commands map[string]*types.Command `json:"commands"` // keyed by decimal command_id
}

type locksFile struct {
	Version int                    `json:"version"`
	Locks   map[string]*types.Lock `json:"locks"`
}

// FileStore writes each table to its own JSON file using write-to-temp,
// fsync, rename so a crash leaves either the old or the new snapshot.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created with
// mode 0700 on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load reads all three tables. A missing file yields an empty table.
func (s *FileStore) Load(ctx context.Context) (*State, error) {
	state := NewState()

	var af agentsFile
	if ok, err := s.read(AgentsFile, &af, func() int { return af.Version }); err != nil {
		return nil, err
	} else if ok && af.Agents != nil {
		state.Agents = af.Agents
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var qf queueFile
	if ok, err := s.read(QueueFile, &qf, func() int { return qf.Version }); err != nil {
		return nil, err
	} else if ok {
		for key, cmd := range qf.Commands {
			id, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: bad command key %q", ErrCorrupt, QueueFile, key)
			}
			state.Commands[id] = cmd
		}
		if qf.NextID > 0 {
			state.NextID = qf.NextID
		}
		if qf.NextSeq > 0 {
			state.NextSeq = qf.NextSeq
		}
	}

	var lf locksFile
	if ok, err := s.read(LocksFile, &lf, func() int { return lf.Version }); err != nil {
		return nil, err
	} else if ok && lf.Locks != nil {
		state.Locks = lf.Locks
	}

	return state, nil
}

// read decodes name into v. It returns false when the file does not exist.
func (s *FileStore) read(name string, v any, version func() int) (bool, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path) // #nosec G304 - path is under the daemon's state dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if got := version(); got != SchemaVersion {
		return false, fmt.Errorf("%w: %s has version %d, want %d", ErrUnsupportedVersion, path, got, SchemaVersion)
	}
	return true, nil
}

// Save writes the tables selected by mask.
func (s *FileStore) Save(ctx context.Context, mask Table, state *State) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	var errs []error
	if mask&TableAgents != 0 {
		errs = append(errs, s.write(AgentsFile, agentsFile{Version: SchemaVersion, Agents: nonNilAgents(state.Agents)}))
	}
	if mask&TableQueue != 0 {
		cmds := make(map[string]*types.Command, len(state.Commands))
		for id, cmd := range state.Commands {
			cmds[strconv.FormatUint(id, 10)] = cmd
		}
		errs = append(errs, s.write(QueueFile, queueFile{
			Version:  SchemaVersion,
			NextID:   state.NextID,
			NextSeq:  state.NextSeq,
			Commands: cmds,
		}))
	}
	if mask&TableLocks != 0 {
		locks := state.Locks
		if locks == nil {
			locks = map[string]*types.Lock{}
		}
		errs = append(errs, s.write(LocksFile, locksFile{Version: SchemaVersion, Locks: locks}))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return AtomicWriteFile(filepath.Join(s.dir, name), data, 0o600)
}

// AtomicWriteFile writes data to a temp file in the target directory, syncs
// it, and renames it over path.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Best effort: persist the rename itself.
	if d, err := os.Open(dir); err == nil { // #nosec G304 - dir derived from path
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func nonNilAgents(m map[string]*types.AgentSession) map[string]*types.AgentSession {
	if m == nil {
		return map[string]*types.AgentSession{}
	}
	return m
}
