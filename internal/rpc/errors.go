package rpc

import (
	"errors"
	"fmt"

	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/eventbus"
	"github.com/steveyegge/coord/internal/locks"
	"github.com/steveyegge/coord/internal/queue"
	"github.com/steveyegge/coord/internal/registry"
)

// Error codes carried in error responses.
const (
	CodeUnknownMethod = "unknown_method"
	CodeInvalidParams = "invalid_params"
	CodeNotFound      = "not_found"
	CodeInvalidState  = "invalid_state"
	CodeNotOwner      = "not_owner"
	CodeInternal      = "internal"
)

// Error is a structured RPC error. The connection stays open after one.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors with the same code, so callers can write
// errors.Is(err, &rpc.Error{Code: rpc.CodeNotOwner}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// toError maps domain errors onto wire codes.
func toError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	code := CodeInternal
	switch {
	case errors.Is(err, registry.ErrAgentNotFound),
		errors.Is(err, queue.ErrCommandNotFound):
		code = CodeNotFound
	case errors.Is(err, queue.ErrNotOwner),
		errors.Is(err, locks.ErrNotOwner):
		code = CodeNotOwner
	case errors.Is(err, queue.ErrInvalidState),
		errors.Is(err, coord.ErrInvalidState):
		code = CodeInvalidState
	case errors.Is(err, registry.ErrInvalidStatus),
		errors.Is(err, coord.ErrInvalidParams),
		errors.Is(err, eventbus.ErrInvalidTopic):
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error()}
}
