//go:build !linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// growMapping extends a mapping on platforms without mremap by unmapping
// and mapping again at the new size. Platforms without a unified buffer
// cache would additionally need an msync before readers observe writes;
// the supported target is Linux.
func growMapping(mapped []byte, f *os.File, newSize int) ([]byte, error) {
	if err := unix.Munmap(mapped); err != nil {
		return nil, err
	}

	return mmapFile(f, newSize, true)
}
