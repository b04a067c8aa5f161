// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// AllocAligned hands out byte slices whose first byte sits on an alignment
// boundary. Slot pages use page alignment so a page never straddles two
// hardware pages.
//
// # Allocators
//
// An Allocator produces Blocks: contiguous regions of backing memory that the
// slot pool carves into fixed-size pages. HeapAllocator keeps blocks on the
// Go heap; the mmap package provides an off-heap implementation.
package mem
