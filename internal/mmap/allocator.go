package mmap

import (
	"github.com/hupe1980/tmem/internal/mem"
)

var _ mem.Allocator = AnonAllocator{}

// AnonAllocator allocates off-heap blocks backed by anonymous mappings.
type AnonAllocator struct {
	// Advice is applied to every new slab.
	Advice Advice
	// Populate prefaults every slab so the first store into a slot does not
	// take a page fault.
	Populate bool
}

// Allocate implements mem.Allocator.
func (a AnonAllocator) Allocate(size int) (mem.Block, error) {
	s, err := MapAnon(size, a.Populate)
	if err != nil {
		return nil, err
	}
	if a.Advice == AdviceNormal {
		return s, nil
	}
	if err := s.Advise(a.Advice); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
