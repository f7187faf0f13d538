package engine

import (
	"fmt"
	"sync"
)

// DefaultArenaChunkSize is the size of the pooled chunks an Arena hands
// allocations out of.
const DefaultArenaChunkSize = 4096

// Arena is a scoped byte allocator producing stable slices into pooled
// chunks. Allocations larger than the chunk size are served from dedicated
// oversize allocations. All memory is released at once via DeallocateAll.
//
// Lists allocate their tail blocks here so that appends never allocate on
// the hot path. Safe for concurrent use.
type Arena struct {
	mu sync.Mutex

	chunkSize int
	active    []byte   // current chunk small allocations are carved from
	offset    int      // first free byte in active
	retained  [][]byte // every chunk ever allocated, active included
	allocated int      // total bytes handed out
}

// NewArena creates an arena with the given chunk size.
// A chunkSize of 0 selects DefaultArenaChunkSize.
func NewArena(chunkSize int) *Arena {
	if chunkSize == 0 {
		chunkSize = DefaultArenaChunkSize
	}

	return &Arena{chunkSize: chunkSize}
}

// Allocate returns a zeroed byte slice of length n whose backing array is
// stable for the lifetime of the arena.
func (a *Arena) Allocate(n int) []byte {
	if n <= 0 {
		panic(fmt.Sprintf("arena: allocation size must be > 0, got %d", n))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.allocated += n

	if n > a.chunkSize {
		// Oversize allocations get a dedicated chunk that is never
		// shared, so the regular chunks stay densely packed.
		block := make([]byte, n)
		a.retained = append(a.retained, block)

		return block
	}

	if a.active == nil || a.chunkSize-a.offset < n {
		a.active = make([]byte, a.chunkSize)
		a.retained = append(a.retained, a.active)
		a.offset = 0
	}

	block := a.active[a.offset : a.offset+n : a.offset+n]
	a.offset += n

	return block
}

// AllocatedBytes returns the total number of bytes handed out since the
// last DeallocateAll.
func (a *Arena) AllocatedBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.allocated
}

// DeallocateAll releases every chunk. Slices previously returned by
// Allocate must not be used afterwards.
func (a *Arena) DeallocateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active = nil
	a.retained = nil
	a.offset = 0
	a.allocated = 0
}
