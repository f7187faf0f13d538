package multimap

import "github.com/calvinalkan/multimap/internal/engine"

// Iterator is a forward cursor over the values of one key, in append
// order, skipping tombstoned values.
//
// An iterator observes the list state at construction time; values put
// after [Map.Get] returned are not visible to it. It holds the key's
// reader lock until Close, so removals of the key block meanwhile.
// Always call Close.
//
// Values returned by Next and PeekNext are views into an internal buffer,
// valid only until the next call; copy them to retain.
type Iterator struct {
	it *engine.Iter
}

// Available returns the number of values Next will still yield.
func (it *Iterator) Available() uint32 {
	return it.it.Available()
}

// HasNext reports whether another value is available.
func (it *Iterator) HasNext() bool {
	return it.it.HasNext()
}

// Next returns the next value and advances the cursor.
func (it *Iterator) Next() ([]byte, error) {
	return it.it.Next()
}

// PeekNext returns the next value without advancing. Idempotent.
func (it *Iterator) PeekNext() ([]byte, error) {
	return it.it.PeekNext()
}

// Close releases the key's reader lock. Idempotent and always safe.
func (it *Iterator) Close() {
	it.it.Close()
}

// MutableIterator is an Iterator that additionally supports removing the
// value most recently returned by Next. It holds the key's writer lock
// until Close, excluding all other access to the key.
type MutableIterator struct {
	Iterator
}

// Remove tombstones the value most recently returned by Next. The bytes
// stay on disk; only the record's flag bit is flipped.
func (it *MutableIterator) Remove() error {
	return it.it.Remove()
}
