package engine

import (
	"fmt"
)

// blockCacheSize is the number of blocks an iterator prefetches from the
// store in one batch.
const blockCacheSize = 1024

// cachedBlock is a prefetched block plus the bookkeeping needed to write
// mutated copies back to the store.
type cachedBlock struct {
	Block

	id     uint32
	ignore bool // true until a flag byte is mutated
}

// listStream walks the raw records of a list, hiding block boundaries.
// Records are read in two phases: the size-with-flag header (never split
// across blocks) and the payload (which may span blocks).
type listStream struct {
	store   *Store
	mutable bool

	pending    []uint32 // block ids not yet loaded, in reverse order
	blocks     []cachedBlock
	blockIndex int
	tail       Block // view of the list's in-RAM tail block
	arena      Arena // backing memory for prefetched blocks

	// Position of the most recently read header, for in-place flag
	// updates.
	headerSlot   int
	headerInTail bool
	headerOffset int
}

// readSizeWithFlag reads the next record header, advancing through cached
// blocks, batch-loading more from the store, and finally falling through
// to the tail view. A decoded size of zero without a flag marks the end of
// a block's records.
func (s *listStream) readSizeWithFlag() (uint32, bool, error) {
	for {
		if s.blockIndex < len(s.blocks) {
			b := &s.blocks[s.blockIndex]

			size, flag, n := b.ReadSizeWithFlag()
			if n == 0 || (size == 0 && !flag) {
				s.blockIndex++

				continue
			}

			s.headerSlot = s.blockIndex
			s.headerInTail = false
			s.headerOffset = b.Offset() - n

			return size, flag, nil
		}

		if len(s.pending) == 0 {
			size, flag, n := s.tail.ReadSizeWithFlag()
			if n == 0 || (size == 0 && !flag) {
				return 0, false, fmt.Errorf("record header missing in tail block: %w", ErrCorrupt)
			}

			s.headerInTail = true
			s.headerOffset = s.tail.Offset() - n

			return size, flag, nil
		}

		if err := s.loadNextBlocks(true); err != nil {
			return 0, false, err
		}
	}
}

// readData fills dst with payload bytes, continuing into following blocks
// when the current one is exhausted. Loading more blocks mid-record keeps
// the already-cached blocks so the header position stays valid.
func (s *listStream) readData(dst []byte) error {
	read := 0

	for read < len(dst) {
		if s.blockIndex < len(s.blocks) {
			n := s.blocks[s.blockIndex].ReadData(dst[read:])
			read += n

			if read < len(dst) {
				s.blockIndex++
			}

			continue
		}

		if len(s.pending) == 0 {
			n := s.tail.ReadData(dst[read:])
			if n != len(dst)-read {
				return fmt.Errorf("record payload truncated in tail block: %w", ErrCorrupt)
			}

			read += n

			continue
		}

		if err := s.loadNextBlocks(false); err != nil {
			return err
		}
	}

	return nil
}

// overwriteLastExtractedFlag flips the tombstone bit of the most recently
// read record. Cached blocks are marked for write-back; the tail is
// mutated directly in RAM.
func (s *listStream) overwriteLastExtractedFlag(flag bool) {
	if s.headerInTail {
		s.tail.WriteFlagAt(flag, s.headerOffset)

		return
	}

	b := &s.blocks[s.headerSlot]
	b.WriteFlagAt(flag, s.headerOffset)
	b.ignore = false
}

// loadNextBlocks fetches up to blockCacheSize blocks in one store batch.
// With replace set, mutated blocks are written back first and the cache is
// emptied; otherwise the new blocks are appended behind the current ones.
func (s *listStream) loadNextBlocks(replace bool) error {
	blockSize := s.store.BlockSize()
	start := len(s.blocks)

	if replace {
		s.writeBackMutatedBlocks()
		s.blocks = s.blocks[:0]
		s.arena.DeallocateAll()
		s.blockIndex = 0
		start = 0
	}

	for len(s.blocks)-start < blockCacheSize && len(s.pending) > 0 {
		id := s.pending[len(s.pending)-1]
		s.pending = s.pending[:len(s.pending)-1]

		s.blocks = append(s.blocks, cachedBlock{
			Block:  NewBlock(s.arena.Allocate(blockSize)),
			id:     id,
			ignore: true,
		})
	}

	ids := make([]uint32, 0, len(s.blocks)-start)
	buffers := make([][]byte, 0, len(s.blocks)-start)

	for i := start; i < len(s.blocks); i++ {
		ids = append(ids, s.blocks[i].id)
		buffers = append(buffers, s.blocks[i].Data())
	}

	return s.store.GetBatch(ids, buffers)
}

// writeBackMutatedBlocks sends every dirty cached block back to the store.
// Shared streams never mutate, so this is a no-op for them.
func (s *listStream) writeBackMutatedBlocks() {
	if !s.mutable {
		return
	}

	for i := range s.blocks {
		if s.blocks[i].ignore {
			continue
		}

		// Replace cannot fail for a block the stream just loaded.
		_ = s.store.Replace(s.blocks[i].id, s.blocks[i].Data())
		s.blocks[i].ignore = true
	}
}

// Iter is a forward cursor over one list's valid values. Shared iterators
// hold the list's reader lock for their lifetime; mutable iterators (used
// internally by the remove and replace operations) hold the writer lock
// and may tombstone the last-yielded value.
//
// Values returned by Next and PeekNext are views into an internal buffer,
// valid only until the next call.
type Iter struct {
	list      *List
	stream    listStream
	available uint32
	loadNext  bool
	current   []byte
	canRemove bool
	unlock    func()
	closed    bool
}

// NewIterator returns a shared iterator holding the list's reader lock.
// The iterator observes the head state at construction time; concurrent
// appends after Close are not visible to it.
func (l *List) NewIterator(store *Store) *Iter {
	l.mu.RLock()

	it := newIter(l, store, false)
	it.unlock = l.mu.RUnlock

	return it
}

// NewMutableIterator returns an exclusive iterator holding the writer
// lock.
func (l *List) NewMutableIterator(store *Store) *Iter {
	l.mu.Lock()

	it := newIter(l, store, true)
	it.unlock = l.mu.Unlock

	return it
}

// NewEmptyIter returns an iterator over nothing. Used for lookups of
// missing keys.
func NewEmptyIter() *Iter {
	return &Iter{}
}

// newIter builds an iterator without touching the list's lock. The caller
// must already hold it in the appropriate mode.
func newIter(l *List, store *Store, mutable bool) *Iter {
	ids := l.head.BlockIDs.Unpack()

	// Reversed so the stream can pop the next id off the end.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	return &Iter{
		list: l,
		stream: listStream{
			store:   store,
			mutable: mutable,
			pending: ids,
			tail:    l.tail.View(),
		},
		available: l.head.NumValuesValid(),
		loadNext:  true,
	}
}

// Available returns the number of values Next will still yield.
func (it *Iter) Available() uint32 {
	return it.available
}

// HasNext reports whether another value is available.
func (it *Iter) HasNext() bool {
	return it.available != 0
}

// Next returns the next non-tombstoned value and advances the cursor.
func (it *Iter) Next() ([]byte, error) {
	value, err := it.PeekNext()
	if err != nil {
		return nil, err
	}

	it.loadNext = true
	it.available--
	it.canRemove = true

	return value, nil
}

// PeekNext returns the next value without advancing. Idempotent.
func (it *Iter) PeekNext() ([]byte, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted: %w", ErrInvalidArgument)
	}

	if it.loadNext {
		for {
			size, flag, err := it.stream.readSizeWithFlag()
			if err != nil {
				return nil, err
			}

			if int(size) <= cap(it.current) {
				it.current = it.current[:size]
			} else {
				it.current = make([]byte, size)
			}

			if err := it.stream.readData(it.current); err != nil {
				return nil, err
			}

			// Tombstoned records keep their bytes on disk; skip them.
			if !flag {
				break
			}
		}

		it.loadNext = false
		it.canRemove = false
	}

	return it.current, nil
}

// Remove tombstones the value most recently returned by Next. Requires a
// mutable iterator and a preceding Next without an intervening PeekNext.
func (it *Iter) Remove() error {
	if !it.stream.mutable {
		return fmt.Errorf("remove on shared iterator: %w", ErrInvalidArgument)
	}

	if !it.canRemove {
		return fmt.Errorf("remove without preceding next: %w", ErrInvalidArgument)
	}

	it.stream.overwriteLastExtractedFlag(true)
	it.list.head.NumValuesRemoved++
	it.canRemove = false

	return nil
}

// closeStream writes back pending dirty blocks without releasing the
// lock. Used by list operations that run under an externally held lock.
func (it *Iter) closeStream() {
	it.stream.writeBackMutatedBlocks()
}

// Close releases the iterator's lock and, for mutable iterators, flushes
// pending dirty blocks. Idempotent and always safe.
func (it *Iter) Close() {
	if it.closed {
		return
	}

	it.closed = true
	it.closeStream()

	if it.unlock != nil {
		it.unlock()
	}
}
