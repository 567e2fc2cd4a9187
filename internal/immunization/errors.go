package immunization

import "errors"

var (
	// ErrInvalidTransition is returned when a record in a terminal state is mutated,
	// or when a transition is not part of the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("active record already exists")
	ErrDispatchFailure   = errors.New("notification dispatch failed")
	ErrStoreFailure      = errors.New("store operation failed")
)
