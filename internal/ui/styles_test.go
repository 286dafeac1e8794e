package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/coord/internal/types"
)

func TestAge(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{3*time.Hour + 59*time.Minute, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := Age(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("Age(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
}

func TestRenderStatusKeepsText(t *testing.T) {
	for _, s := range []types.AgentStatus{types.AgentIdle, types.AgentBusy, types.AgentDead} {
		if !strings.Contains(RenderAgentStatus(s), string(s)) {
			t.Errorf("RenderAgentStatus(%s) lost its text", s)
		}
	}
	for _, s := range []types.CommandStatus{types.CommandPending, types.CommandRunning, types.CommandCompleted, types.CommandFailed} {
		if !strings.Contains(RenderCommandStatus(s), string(s)) {
			t.Errorf("RenderCommandStatus(%s) lost its text", s)
		}
	}
}
