package slot

import "errors"

var (
	// ErrEmpty is returned by Acquire when no free slot is left.
	ErrEmpty = errors.New("slot: pool empty")

	// ErrClosed is returned when the pool has been closed.
	ErrClosed = errors.New("slot: pool closed")

	// ErrInvalidCapacity is returned by New for a capacity outside (0, MaxCapacity].
	ErrInvalidCapacity = errors.New("slot: invalid capacity")

	// ErrProtocolViolation marks an ownership rule broken by the caller.
	// It always indicates an internal bug, never bad user input.
	ErrProtocolViolation = errors.New("slot: protocol violation")
)
