package mmap

import "errors"

// Advice is a kernel hint for how a slab's pages will be touched.
type Advice uint8

const (
	// AdviceNormal leaves the kernel defaults in place.
	AdviceNormal Advice = iota
	// AdviceRandom disables read-ahead. Slot pages are picked from the free
	// stack, not walked in order.
	AdviceRandom
	// AdviceWillNeed asks the kernel to fault the pages in early.
	AdviceWillNeed
	// AdviceDontNeed lets the kernel drop the pages. Anonymous pages read
	// back as zeros afterwards.
	AdviceDontNeed
)

func (a Advice) String() string {
	switch a {
	case AdviceNormal:
		return "normal"
	case AdviceRandom:
		return "random"
	case AdviceWillNeed:
		return "willneed"
	case AdviceDontNeed:
		return "dontneed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned by operations on an unmapped slab.
	ErrClosed = errors.New("mmap: slab is unmapped")
	// ErrInvalidSize is returned when the requested size is not positive.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrUnsupported is returned on platforms without anonymous mappings.
	ErrUnsupported = errors.New("mmap: unsupported platform")
)
