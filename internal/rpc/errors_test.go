package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/locks"
	"github.com/steveyegge/coord/internal/queue"
	"github.com/steveyegge/coord/internal/registry"
)

func TestToError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("heartbeat: %w", registry.ErrAgentNotFound), CodeNotFound},
		{queue.ErrCommandNotFound, CodeNotFound},
		{fmt.Errorf("release: %w", locks.ErrNotOwner), CodeNotOwner},
		{queue.ErrNotOwner, CodeNotOwner},
		{queue.ErrInvalidState, CodeInvalidState},
		{coord.ErrInvalidState, CodeInvalidState},
		{registry.ErrInvalidStatus, CodeInvalidParams},
		{coord.ErrInvalidParams, CodeInvalidParams},
		{eventbus.ErrInvalidTopic, CodeInvalidParams},
		{fmt.Errorf("%w: disk full", coord.ErrPersistence), CodeInternal},
		{errors.New("something else"), CodeInternal},
		{newError(CodeUnknownMethod, "nope"), CodeUnknownMethod},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := toError(tt.err); got.Code != tt.code {
				t.Errorf("toError(%v).Code = %q, want %q", tt.err, got.Code, tt.code)
			}
		})
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("call failed: %w", &Error{Code: CodeNotOwner, Message: "held by a1"})
	if !errors.Is(err, &Error{Code: CodeNotOwner}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &Error{Code: CodeNotFound}) {
		t.Error("errors.Is should not match a different code")
	}
	if !HasCode(err, CodeNotOwner) {
		t.Error("HasCode should see through wrapping")
	}
}
