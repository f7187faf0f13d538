package engine

import (
	"fmt"
	"sync"
)

// MaxKeySize is the largest accepted key length in bytes.
const MaxKeySize = 1<<30 - 1

// MaxValueSize returns the largest value length storable in blocks of the
// given size: one block minus the worst-case record header.
func MaxValueSize(blockSize int) int {
	return blockSize - MaxVarint32WithFlagBytes
}

// Head is the persistent summary of a list: its flushed block IDs plus the
// value counters. This is what the partition map file stores per key.
type Head struct {
	NumValuesTotal   uint32
	NumValuesRemoved uint32
	BlockIDs         UintVector
}

// NumValuesValid returns the number of values that are not tombstoned.
func (h *Head) NumValuesValid() uint32 {
	if h.NumValuesTotal < h.NumValuesRemoved {
		panic(fmt.Sprintf("list head counters out of order: total=%d removed=%d",
			h.NumValuesTotal, h.NumValuesRemoved))
	}

	return h.NumValuesTotal - h.NumValuesRemoved
}

// List holds the per-key state: the head, the in-RAM tail block currently
// receiving appends, and the reader/writer lock that synchronizes per-key
// access. There is one List per key ever put, so the struct stays small.
type List struct {
	mu   sync.RWMutex
	head Head
	tail Block
}

// NewList returns an empty list.
func NewList() *List {
	return &List{}
}

// NewListFromHead returns a list restored from a persisted head. The tail
// is empty; all values live in flushed blocks.
func NewListFromHead(head Head) *List {
	return &List{head: head}
}

// Append adds one value under the list's writer lock.
func (l *List) Append(value []byte, store *Store, arena *Arena) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.appendLocked(value, store, arena)
}

// appendLocked writes the record header and payload into the tail block,
// committing full blocks to the store as needed. The payload may span
// multiple blocks; the header never does.
func (l *List) appendLocked(value []byte, store *Store, arena *Arena) error {
	if len(value) == 0 {
		return fmt.Errorf("empty value: %w", ErrInvalidArgument)
	}

	if len(value) > MaxValueSize(store.BlockSize()) {
		return fmt.Errorf("value of %d bytes exceeds max value size %d: %w",
			len(value), MaxValueSize(store.BlockSize()), ErrInvalidArgument)
	}

	if !l.tail.HasData() {
		l.tail = NewBlock(arena.Allocate(store.BlockSize()))
	}

	if n := l.tail.WriteSizeWithFlag(uint32(len(value)), false); n == 0 {
		if err := l.commitTailLocked(store, arena); err != nil {
			return err
		}

		// A fresh block always has room for a complete header.
		if n := l.tail.WriteSizeWithFlag(uint32(len(value)), false); n == 0 {
			panic("header does not fit into an empty block")
		}
	}

	written := 0
	for written < len(value) {
		written += l.tail.WriteData(value[written:])

		if written < len(value) {
			if err := l.commitTailLocked(store, arena); err != nil {
				return err
			}
		}
	}

	l.head.NumValuesTotal++

	return nil
}

// commitTailLocked hands the tail block to the store, records its ID, and
// starts a fresh tail.
func (l *List) commitTailLocked(store *Store, arena *Arena) error {
	id, err := store.Append(l.tail.Data())
	if err != nil {
		return err
	}

	if err := l.head.BlockIDs.Add(id); err != nil {
		return err
	}

	l.tail = NewBlock(arena.Allocate(store.BlockSize()))

	return nil
}

// Clear drops every value by resetting the head. Flushed blocks stay in
// the store but are no longer referenced. Returns the number of values
// that were valid.
func (l *List) Clear() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.head.NumValuesValid()
	l.head = Head{}
	l.tail = Block{}

	return n
}

// Size returns the number of valid values.
func (l *List) Size() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.head.NumValuesValid()
}

// Empty reports whether the list has no valid values.
func (l *List) Empty() bool {
	return l.Size() == 0
}

// HeadSnapshot returns a deep copy of the head under the reader lock.
func (l *List) HeadSnapshot() Head {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.headSnapshotLocked()
}

func (l *List) headSnapshotLocked() Head {
	return Head{
		NumValuesTotal:   l.head.NumValuesTotal,
		NumValuesRemoved: l.head.NumValuesRemoved,
		BlockIDs:         RestoreUintVector(l.head.BlockIDs.Bytes()),
	}
}

// TryFlush attempts to take the writer lock and flush the tail. Returns
// the persisted head and true on success, or false if the list is locked
// by someone else. The close protocol uses this to detect stuck lists.
func (l *List) TryFlush(store *Store) (Head, bool, error) {
	if !l.mu.TryLock() {
		return Head{}, false, nil
	}

	defer l.mu.Unlock()

	err := l.flushLocked(store)

	return l.headSnapshotLocked(), true, err
}

// FlushUnlocked flushes without taking the lock. Only the close protocol
// calls this, after TryFlush failed and the situation was logged.
func (l *List) FlushUnlocked(store *Store) (Head, error) {
	err := l.flushLocked(store)

	return l.headSnapshotLocked(), err
}

// Flush commits a non-empty tail block to the store. Idempotent.
func (l *List) Flush(store *Store) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.flushLocked(store)
}

func (l *List) flushLocked(store *Store) error {
	if !l.tail.HasData() || l.tail.Offset() == 0 {
		return nil
	}

	id, err := store.Append(l.tail.Data())
	if err != nil {
		return err
	}

	if err := l.head.BlockIDs.Add(id); err != nil {
		return err
	}

	l.tail = Block{}

	return nil
}

// RemoveFirstMatch tombstones the first value matching pred. Returns
// whether a value was removed.
func (l *List) RemoveFirstMatch(pred func([]byte) bool, store *Store) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it := newIter(l, store, true)
	defer it.closeStream()

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			return false, err
		}

		if pred(value) {
			if err := it.Remove(); err != nil {
				return false, err
			}

			return true, nil
		}
	}

	return false, nil
}

// RemoveAllMatches tombstones every value matching pred. Returns the
// number of values removed.
func (l *List) RemoveAllMatches(pred func([]byte) bool, store *Store) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it := newIter(l, store, true)
	defer it.closeStream()

	var removed uint32

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			return removed, err
		}

		if pred(value) {
			if err := it.Remove(); err != nil {
				return removed, err
			}

			removed++
		}
	}

	return removed, nil
}

// ReplaceFirstMatch applies fn to each value until it returns a non-nil
// replacement. The original is tombstoned in place and the replacement is
// appended at the tail after iteration, so positions are not preserved.
func (l *List) ReplaceFirstMatch(fn func([]byte) []byte, store *Store, arena *Arena) (bool, error) {
	n, err := l.replaceMatches(fn, store, arena, true)

	return n != 0, err
}

// ReplaceAllMatches applies fn to every value, tombstoning each match and
// appending its replacement after iteration. Returns the number of values
// replaced.
func (l *List) ReplaceAllMatches(fn func([]byte) []byte, store *Store, arena *Arena) (uint32, error) {
	return l.replaceMatches(fn, store, arena, false)
}

func (l *List) replaceMatches(fn func([]byte) []byte, store *Store, arena *Arena, firstOnly bool) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it := newIter(l, store, true)

	// Replacements are buffered and appended only after the iterator is
	// done, otherwise appends would invalidate its block snapshot.
	var replacements [][]byte

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			it.closeStream()

			return 0, err
		}

		replacement := fn(value)
		if replacement == nil {
			continue
		}

		if err := it.Remove(); err != nil {
			it.closeStream()

			return 0, err
		}

		owned := make([]byte, len(replacement))
		copy(owned, replacement)
		replacements = append(replacements, owned)

		if firstOnly {
			break
		}
	}

	it.closeStream()

	for _, value := range replacements {
		if err := l.appendLocked(value, store, arena); err != nil {
			return uint32(len(replacements)), err
		}
	}

	return uint32(len(replacements)), nil
}

// ForEachValue yields every valid value to fn under the reader lock.
func (l *List) ForEachValue(fn func([]byte), store *Store) error {
	it := l.NewIterator(store)
	defer it.Close()

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			return err
		}

		fn(value)
	}

	return nil
}

// Lock, TryLock, Unlock, RLock, TryRLock, and RUnlock expose the list's
// reader/writer lock to the partition layer.

func (l *List) Lock()          { l.mu.Lock() }
func (l *List) TryLock() bool  { return l.mu.TryLock() }
func (l *List) Unlock()        { l.mu.Unlock() }
func (l *List) RLock()         { l.mu.RLock() }
func (l *List) TryRLock() bool { return l.mu.TryRLock() }
func (l *List) RUnlock()       { l.mu.RUnlock() }

// TryCounters returns the value counters if the list's reader lock can be
// taken without blocking. Partition stats snapshots skip locked lists.
func (l *List) TryCounters() (total, removed uint32, ok bool) {
	if !l.mu.TryRLock() {
		return 0, 0, false
	}

	defer l.mu.RUnlock()

	return l.head.NumValuesTotal, l.head.NumValuesRemoved, true
}
