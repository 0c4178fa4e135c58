package domain

import "errors"

// Error taxonomy shared by all components. Adapters map these onto wire
// error codes; anything not listed here is treated as internal.
var (
	// ErrNotFound covers unknown sessions and unknown participants.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers duplicate joins and other state collisions.
	ErrConflict = errors.New("conflict")

	// ErrSessionFull is returned when a join would exceed the member cap.
	ErrSessionFull = errors.New("session full")

	// ErrSessionEnded is returned on attempts to join an ended session.
	ErrSessionEnded = errors.New("session already ended")

	// ErrCallInProgress is returned when a call is initiated while another
	// one is active in the same session.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrInvalidState marks signaling events received outside their valid
	// state. Such events are dropped with a diagnostic, never fatal.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout marks an expired ringing or negotiation window.
	ErrTimeout = errors.New("timeout")

	// ErrUnauthorized marks an action requested by a non-member.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrGenerationFailed means the code sampler hit its retry bound.
	ErrGenerationFailed = errors.New("code generation failed")

	// ErrCapacityExceeded means the code space itself is exhausted.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)
