package services

import "errors"

// Error taxonomy. Handlers map these to HTTP statuses and websocket error
// codes with errors.Is; none of them ever crashes a background task.
var (
	// ErrValidation marks missing or malformed request fields, or an
	// operation that names the wrong entity (user not in duel, stale index).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown ticket, duel, or question.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate answer or a double-match race.
	ErrConflict = errors.New("conflict")
	// ErrState marks an operation invalid for the current duel status.
	ErrState = errors.New("invalid state")
)
