package tmem

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tmem/internal/slot"
)

var (
	// ErrOutOfSlots is returned by Store when every slot is assigned.
	// The cache is unchanged; the caller keeps its page.
	ErrOutOfSlots = errors.New("tmem: out of slots")

	// ErrNotFound is returned by Load for a key that is not cached.
	ErrNotFound = errors.New("tmem: not found")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("tmem: cache closed")

	// ErrInvalidPageSize is returned for a buffer that is not exactly
	// PageSize bytes.
	ErrInvalidPageSize = errors.New("tmem: invalid page size")

	// ErrInvalidCapacity is returned by New for a non-positive or too large
	// capacity.
	ErrInvalidCapacity = errors.New("tmem: invalid capacity")

	// ErrProtocolViolation reports a broken slot ownership rule. It always
	// means an internal bug. The cache drops the affected entry and keeps
	// serving.
	ErrProtocolViolation = errors.New("tmem: protocol violation")
)

// ErrPageSizeMismatch indicates a buffer of the wrong length.
type ErrPageSizeMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrPageSizeMismatch) Error() string {
	return fmt.Sprintf("page size mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrPageSizeMismatch) Unwrap() error { return ErrInvalidPageSize }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, slot.ErrEmpty):
		return fmt.Errorf("%w: %w", ErrOutOfSlots, err)
	case errors.Is(err, slot.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, slot.ErrInvalidCapacity):
		return fmt.Errorf("%w: %w", ErrInvalidCapacity, err)
	case errors.Is(err, slot.ErrProtocolViolation):
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	return err
}
