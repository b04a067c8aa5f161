//go:build windows

package mmap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// osMapAnon commits size bytes with VirtualAlloc. Committed pages are still
// backed lazily on first touch, so populate has no effect.
func osMapAnon(size int, _ bool) ([]byte, func([]byte) error, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size) //nolint:govet // addr is a VirtualAlloc base

	release := func([]byte) error {
		return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
	}
	return data, release, nil
}

// osAdvise is a no-op; Windows has no madvise equivalent for committed
// private memory.
func osAdvise([]byte, Advice) error {
	return nil
}
