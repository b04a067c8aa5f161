package mem

import (
	"errors"
	"fmt"
)

// ErrInvalidSize is returned when an allocation size is not positive.
var ErrInvalidSize = errors.New("mem: invalid allocation size")

// Block is a contiguous region of backing memory.
// Bytes is valid until Close is called.
type Block interface {
	Bytes() []byte
	Close() error
}

// Allocator provides backing memory for slot pages.
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Allocate returns a zeroed block of exactly size bytes.
	Allocate(size int) (Block, error)
}

// HeapAllocator allocates aligned blocks on the Go heap.
// The zero value aligns to Alignment.
type HeapAllocator struct {
	// Align is the alignment of each block's first byte. 0 means Alignment.
	Align int
}

// Allocate implements Allocator.
func (a HeapAllocator) Allocate(size int) (Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &heapBlock{buf: AllocAlignedTo(size, a.Align)}, nil
}

type heapBlock struct {
	buf []byte
}

func (b *heapBlock) Bytes() []byte { return b.buf }

// Close drops the reference so the GC can reclaim the block.
func (b *heapBlock) Close() error {
	b.buf = nil
	return nil
}
