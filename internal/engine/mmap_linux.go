//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// growMapping extends an existing mapping to newSize via mremap. The
// kernel may move the mapping (MREMAP_MAYMOVE), so callers must not hold
// views into the old region across this call.
func growMapping(mapped []byte, _ *os.File, newSize int) ([]byte, error) {
	return unix.Mremap(mapped, newSize, unix.MREMAP_MAYMOVE)
}
