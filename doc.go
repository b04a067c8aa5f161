// Package tmem provides a fixed-capacity, key-addressed page cache.
//
// A Cache owns a pool of preallocated page slots and an index from a 64-bit
// key (typically a swap offset) to the slot holding that key's page. Callers
// hand it whole pages: the cache absorbs them (Store), returns them (Load),
// or forgets one or all of them (Invalidate, InvalidateAll). Capacity is
// fixed at construction and payloads are copied verbatim.
//
// # Quick Start
//
//	ctx := context.Background()
//	c, err := tmem.New(ctx, tmem.WithCapacity(1024))
//	if err != nil {
//	    panic(err)
//	}
//	defer c.Close()
//
//	var p tmem.Page
//	copy(p[:], "hello")
//	if err := c.Store(42, &p); errors.Is(err, tmem.ErrOutOfSlots) {
//	    // cache full, keep the page elsewhere
//	}
//
//	var out tmem.Page
//	if err := c.Load(42, &out); errors.Is(err, tmem.ErrNotFound) {
//	    // never stored or invalidated
//	}
//
// # Concurrency
//
// Every method is safe for concurrent use, including concurrent operations
// on the same key. Two goroutines storing the same new key at once end up
// with exactly one slot assigned to it; the page of whichever store finishes
// last is the one a later Load returns.
//
// Store never blocks waiting for space: a full cache fails immediately with
// ErrOutOfSlots.
//
// # Memory
//
// Pages live in page-aligned Go heap memory by default. WithOffHeap places
// them in anonymous memory mappings instead, and WithResourceController
// charges the whole pool against a memory budget at construction time.
//
// # Front Ends
//
// The swap package adapts a Cache to frontswap-style operations (swap type
// plus offset), and the device package exposes it through a single-owner
// command handle. cmd/tmemctl is an interactive shell over both.
package tmem
