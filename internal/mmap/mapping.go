package mmap

import (
	"sync/atomic"
)

// Slab is one anonymous read-write mapping carved into slot pages by the
// pool. It implements mem.Block.
type Slab struct {
	data     []byte
	release  func([]byte) error
	unmapped atomic.Bool
}

// MapAnon maps size zeroed bytes. With populate set the kernel faults every
// page in up front where the platform supports it.
func MapAnon(size int, populate bool) (*Slab, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, release, err := osMapAnon(size, populate)
	if err != nil {
		return nil, err
	}
	return &Slab{data: data, release: release}, nil
}

// Bytes returns the mapped memory, or nil once the slab is unmapped.
// Slices taken earlier must not be used after Close.
func (s *Slab) Bytes() []byte {
	if s.unmapped.Load() {
		return nil
	}
	return s.data
}

// Len returns the mapped size in bytes.
func (s *Slab) Len() int {
	return len(s.data)
}

// Advise applies a to the whole slab.
func (s *Slab) Advise(a Advice) error {
	if s.unmapped.Load() {
		return ErrClosed
	}
	return osAdvise(s.data, a)
}

// Close unmaps the slab. It is idempotent.
func (s *Slab) Close() error {
	if s.unmapped.Swap(true) {
		return nil
	}
	return s.release(s.data)
}
