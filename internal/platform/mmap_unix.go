//go:build linux || darwin

// Package platform provides the executable-memory primitives: acquiring
// page-aligned writable code segments, flipping them to read-execute on
// finalize, and releasing them.
package platform

import (
	"golang.org/x/sys/unix"
)

// MmapCodeSegment returns a page-granular read-write anonymous mapping large
// enough for size bytes. The mapping is not executable until MprotectRX.
func MmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		size = 1
	}
	return unix.Mmap(-1, 0, roundUpToPage(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

// MprotectRX flips a mapping to read-execute. Write access is dropped so a
// writable-and-executable mapping is never exposed to callers.
func MprotectRX(segment []byte) error {
	return unix.Mprotect(segment, unix.PROT_READ|unix.PROT_EXEC)
}

// MunmapCodeSegment releases a mapping obtained from MmapCodeSegment.
func MunmapCodeSegment(segment []byte) error {
	return unix.Munmap(segment)
}

func roundUpToPage(size int) int {
	pageSize := unix.Getpagesize()
	return (size + pageSize - 1) &^ (pageSize - 1)
}
