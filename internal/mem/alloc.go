package mem

import (
	"unsafe"
)

// Alignment is the default byte alignment (one cache line, AVX-512 friendly).
const Alignment = 64

// AllocAligned allocates a byte slice of the given size with 64-byte alignment.
// The returned slice is guaranteed to start at a memory address divisible by 64.
func AllocAligned(size int) []byte {
	return AllocAlignedTo(size, Alignment)
}

// AllocAlignedTo allocates a byte slice of the given size whose first byte is
// aligned to align. align must be a power of two; other values fall back to
// Alignment.
//
// Note: This function allocates slightly more memory than requested to ensure alignment.
// The underlying array is kept alive by the returned slice.
func AllocAlignedTo(size, align int) []byte {
	if size <= 0 {
		return nil
	}
	if align <= 0 || align&(align-1) != 0 {
		align = Alignment
	}

	// Allocate size + align so the start can be shifted up to align-1 bytes
	buf := make([]byte, size+align)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	mask := uintptr(align - 1)
	offset := (uintptr(align) - (addr & mask)) & mask

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}
