package engine

import (
	"sync"
	"testing"
)

func TestArenaAllocationsDoNotOverlap(t *testing.T) {
	t.Parallel()

	arena := NewArena(64)

	a := arena.Allocate(10)
	b := arena.Allocate(10)
	c := arena.Allocate(200) // oversize, dedicated chunk
	d := arena.Allocate(10)

	for i := range a {
		a[i] = 0xAA
	}

	for i := range b {
		b[i] = 0xBB
	}

	for i := range c {
		c[i] = 0xCC
	}

	for i := range d {
		d[i] = 0xDD
	}

	for i := range a {
		if a[i] != 0xAA {
			t.Fatal("allocation a was overwritten")
		}
	}

	for i := range b {
		if b[i] != 0xBB {
			t.Fatal("allocation b was overwritten")
		}
	}

	for i := range c {
		if c[i] != 0xCC {
			t.Fatal("oversize allocation was overwritten")
		}
	}
}

func TestArenaReturnsZeroedMemory(t *testing.T) {
	t.Parallel()

	arena := NewArena(0)

	block := arena.Allocate(DefaultArenaChunkSize * 2)
	for i, b := range block {
		if b != 0 {
			t.Fatalf("byte %d is %d, want 0", i, b)
		}
	}
}

func TestArenaTracksAllocatedBytes(t *testing.T) {
	t.Parallel()

	arena := NewArena(128)

	arena.Allocate(100)
	arena.Allocate(50)
	arena.Allocate(1000)

	if got := arena.AllocatedBytes(); got != 1150 {
		t.Fatalf("AllocatedBytes = %d, want 1150", got)
	}

	arena.DeallocateAll()

	if got := arena.AllocatedBytes(); got != 0 {
		t.Fatalf("AllocatedBytes after DeallocateAll = %d, want 0", got)
	}
}

func TestArenaConcurrentAllocate(t *testing.T) {
	t.Parallel()

	arena := NewArena(256)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				block := arena.Allocate(33)
				for i := range block {
					block[i] = 1
				}
			}
		}()
	}

	wg.Wait()

	if got := arena.AllocatedBytes(); got != 8*100*33 {
		t.Fatalf("AllocatedBytes = %d, want %d", got, 8*100*33)
	}
}
