//go:build unix && !linux

package mmap

// Only Linux prefaults at map time; elsewhere pages fault in on first touch.
const mapPopulate = 0
