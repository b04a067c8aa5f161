//go:build unix

package mmap

import (
	"errors"

	"golang.org/x/sys/unix"
)

var madvise = [...]int{
	AdviceNormal:   unix.MADV_NORMAL,
	AdviceRandom:   unix.MADV_RANDOM,
	AdviceWillNeed: unix.MADV_WILLNEED,
	AdviceDontNeed: unix.MADV_DONTNEED,
}

func osMapAnon(size int, populate bool) ([]byte, func([]byte) error, error) {
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	if populate {
		flags |= mapPopulate
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

func osAdvise(data []byte, a Advice) error {
	if len(data) == 0 || int(a) >= len(madvise) {
		return nil
	}
	// Hints are best effort. Kernels without a given advice reject it with
	// EINVAL.
	if err := unix.Madvise(data, madvise[a]); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
