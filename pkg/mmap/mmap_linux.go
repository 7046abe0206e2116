//go:build linux
// +build linux

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// evictPageCache asks the kernel to drop cached pages of the whole file
func evictPageCache(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
