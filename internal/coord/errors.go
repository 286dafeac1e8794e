package coord

import "errors"

var (
	// ErrInvalidParams indicates a request argument failed validation.
	ErrInvalidParams = errors.New("invalid params")

	// ErrInvalidState indicates an operation that is not allowed in the
	// current state of an agent or command.
	ErrInvalidState = errors.New("invalid state")

	// ErrPersistence indicates the mutation was applied in memory but the
	// snapshot could not be written.
	ErrPersistence = errors.New("persistence failure")
)
