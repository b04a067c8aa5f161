// Package slot implements the fixed-capacity pool of page slots.
//
// A Pool owns capacity slots, each backed by exactly one PageSize buffer
// carved out of larger blocks obtained from a mem.Allocator at construction.
// No slot is created or destroyed after New returns; Close releases every
// block at once.
//
// # Ownership
//
// A Free slot belongs to the pool's free stack. Acquire hands it to the
// caller, who assigns it to a key and publishes it in an index. The only way
// back is Reclaim followed by Release. Each slot carries a State tag that is
// moved with compare-and-swap so protocol violations (double release,
// releasing an assigned slot, handing out a slot that is not free) are
// detected, reported, and refused instead of corrupting the pool.
//
// # Concurrency
//
// The free stack is guarded by a single mutex held only while pushing or
// popping ids. Page copies never happen under that mutex; they are serialized
// per slot by the slot's own RW lock (Write, Read, Assign, Reclaim).
package slot
