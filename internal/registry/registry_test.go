package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRegisterCreatesIdleSession(t *testing.T) {
	r := New()
	s, prev := r.Register("a1", "claude", []string{"go", "go", "docs"}, epoch)
	if prev != nil {
		t.Fatalf("expected no previous session, got %+v", prev)
	}
	if s.Status != types.AgentIdle {
		t.Errorf("status = %s, want idle", s.Status)
	}
	if len(s.Capabilities) != 2 {
		t.Errorf("capabilities not normalized: %v", s.Capabilities)
	}
	if !s.LastHeartbeat.Equal(epoch) || !s.RegisteredAt.Equal(epoch) {
		t.Errorf("timestamps not set to now")
	}
}

func TestReRegisterResetsButKeepsRegisteredAt(t *testing.T) {
	r := New()
	r.Register("a1", "claude", nil, epoch)
	if err := r.Assign("a1", 5); err != nil {
		t.Fatal(err)
	}

	later := epoch.Add(time.Minute)
	s, prev := r.Register("a1", "script", []string{"x"}, later)
	if prev == nil || prev.CurrentCommandID == nil || *prev.CurrentCommandID != 5 {
		t.Fatalf("previous session should report held command 5, got %+v", prev)
	}
	if s.Status != types.AgentIdle || s.CurrentCommandID != nil {
		t.Errorf("re-registered session should be idle with no command: %+v", s)
	}
	if !s.RegisteredAt.Equal(epoch) {
		t.Errorf("registered_at = %v, want original %v", s.RegisteredAt, epoch)
	}
	if s.AgentType != "script" {
		t.Errorf("agent_type not refreshed")
	}
}

func TestHeartbeat(t *testing.T) {
	r := New()
	if _, err := r.Heartbeat("nobody", epoch); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}

	r.Register("a1", "t", nil, epoch)
	if _, err := r.MarkDead("a1", epoch.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	revived, err := r.Heartbeat("a1", epoch.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !revived {
		t.Error("heartbeat on a dead session should revive it")
	}
	a, _ := r.Get("a1")
	if a.Status != types.AgentIdle || a.DeadSince != nil {
		t.Errorf("revived agent = %+v", a)
	}
}

func TestSetStatusEnforcesInvariant(t *testing.T) {
	r := New()
	r.Register("a1", "t", nil, epoch)
	id := uint64(1)

	tests := []struct {
		name    string
		status  types.AgentStatus
		cmd     *uint64
		wantErr bool
	}{
		{"busy needs command", types.AgentBusy, nil, true},
		{"idle forbids command", types.AgentIdle, &id, true},
		{"dead is sweeper only", types.AgentDead, nil, true},
		{"unknown", types.AgentStatus("napping"), nil, true},
		{"busy with command", types.AgentBusy, &id, false},
		{"idle", types.AgentIdle, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.SetStatus("a1", tt.status, tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetStatus error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidStatus) {
				t.Errorf("expected ErrInvalidStatus, got %v", err)
			}
			a, _ := r.Get("a1")
			if verr := a.Validate(); verr != nil {
				t.Errorf("invariant broken: %v", verr)
			}
		})
	}
}

func TestStaleAndReapable(t *testing.T) {
	r := New()
	r.Register("fresh", "t", nil, epoch.Add(4*time.Minute))
	r.Register("stale", "t", nil, epoch)
	r.Register("dead", "t", nil, epoch)
	if _, err := r.MarkDead("dead", epoch); err != nil {
		t.Fatal(err)
	}

	now := epoch.Add(6 * time.Minute)
	stale := r.Stale(now, 5*time.Minute)
	if len(stale) != 1 || stale[0] != "stale" {
		t.Errorf("Stale() = %v, want [stale]", stale)
	}

	if got := r.Reapable(now, time.Hour); len(got) != 0 {
		t.Errorf("nothing should be reapable yet, got %v", got)
	}
	if got := r.Reapable(epoch.Add(2*time.Hour), time.Hour); len(got) != 1 || got[0] != "dead" {
		t.Errorf("Reapable() = %v, want [dead]", got)
	}
	if got := r.Reapable(epoch.Add(48*time.Hour), 0); got != nil {
		t.Errorf("reapAfter=0 must disable reaping, got %v", got)
	}
}

func TestMarkDeadReturnsHeldCommand(t *testing.T) {
	r := New()
	r.Register("a1", "t", nil, epoch)
	_ = r.Assign("a1", 9)
	held, err := r.MarkDead("a1", epoch)
	if err != nil {
		t.Fatal(err)
	}
	if held == nil || *held != 9 {
		t.Fatalf("held = %v, want 9", held)
	}
	a, _ := r.Get("a1")
	if err := a.Validate(); err != nil {
		t.Errorf("dead agent violates invariant: %v", err)
	}
}

func TestReleaseCommandOnlyMatchingCommand(t *testing.T) {
	r := New()
	r.Register("a1", "t", nil, epoch)
	_ = r.Assign("a1", 3)
	if r.ReleaseCommand("a1", 4) {
		t.Error("released a command the agent does not hold")
	}
	if !r.ReleaseCommand("a1", 3) {
		t.Error("failed to release held command")
	}
	a, _ := r.Get("a1")
	if a.Status != types.AgentIdle {
		t.Errorf("status = %s, want idle", a.Status)
	}
}

func TestListSortedAndCopied(t *testing.T) {
	r := New()
	r.Register("b", "t", nil, epoch)
	r.Register("a", "t", nil, epoch)
	list := r.List()
	if len(list) != 2 || list[0].AgentID != "a" || list[1].AgentID != "b" {
		t.Fatalf("List() order = %v", list)
	}
	list[0].Status = types.AgentDead
	a, _ := r.Get("a")
	if a.Status == types.AgentDead {
		t.Error("List must return copies")
	}
}

func TestRestoreValidates(t *testing.T) {
	r := New()
	bad := map[string]*types.AgentSession{
		"a": {AgentID: "a", Status: types.AgentBusy},
	}
	if err := r.Restore(bad); err == nil {
		t.Error("expected invariant violation to be rejected")
	}
	mismatch := map[string]*types.AgentSession{
		"a": {AgentID: "b", Status: types.AgentIdle},
	}
	if err := r.Restore(mismatch); err == nil {
		t.Error("expected key mismatch to be rejected")
	}

	good := map[string]*types.AgentSession{
		"a": {AgentID: "a", Status: types.AgentIdle, LastHeartbeat: epoch},
	}
	if err := r.Restore(good); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
