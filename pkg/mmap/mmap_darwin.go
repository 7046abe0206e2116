//go:build darwin
// +build darwin

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// evictPageCache disables caching for the descriptor. macOS has no
// posix_fadvise, and F_NOCACHE only affects later reads through this file,
// so mapped pages may stay resident.
func evictPageCache(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1)
	return err
}
