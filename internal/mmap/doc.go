// Package mmap provides anonymous memory mappings for off-heap page storage.
//
// # Overview
//
// Slot pages live for the whole lifetime of a cache. Keeping them outside the
// Go heap means the garbage collector never scans or moves them, and Close
// hands the memory straight back to the operating system.
//
// # Usage
//
//	s, err := mmap.MapAnon(256*4096, false)
//	if err != nil { ... }
//	defer s.Close()
//
//	data := s.Bytes() // zeroed, read-write
//	s.Advise(mmap.AdviceRandom)
//
// AnonAllocator adapts MapAnon to the mem.Allocator interface and is what
// tmem.WithOffHeap installs.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE, madvise(2)
//     hints; MAP_POPULATE prefaulting on Linux only
//   - Windows: VirtualAlloc with MEM_RESERVE|MEM_COMMIT (advice is a no-op)
//   - Others: MapAnon returns ErrUnsupported
//
// # Thread Safety
//
// Close is idempotent. The pool guarantees no slot page is touched after
// its slab is closed.
package mmap
