// Package multimap provides an on-disk, persistent one-to-many key-value
// store: each key maps to an ordered, append-only sequence of opaque byte
// values.
//
// It is built for workloads that accumulate many values per key (inverted
// indexes, reverse lookups, feature-to-document maps) where the total value
// volume exceeds RAM but hot working sets are bounded. Values are packed
// into fixed-size blocks inside a per-shard append log whose flushed prefix
// is memory-mapped; deletion tombstones values in place without reclaiming
// bytes.
//
// # Basic Usage
//
//	m, err := multimap.Open("/data/index", multimap.Options{
//	    CreateIfMissing: true,
//	})
//	if err != nil {
//	    // handle multimap.ErrNotFound etc. via errors.Is
//	}
//	defer m.Close()
//
//	// Write
//	m.Put([]byte("k1"), []byte("v1"))
//
//	// Read
//	it, _ := m.Get([]byte("k1"))
//	defer it.Close()
//	for it.HasNext() {
//	    value, _ := it.Next()
//	    // value is only valid until the next call
//	}
//
// # Concurrency
//
// A Map is safe for concurrent use. Readers of different keys never block
// each other; readers of the same key share a per-key reader lock, and
// writers take it exclusively. An iterator holds its key's reader lock
// until Close, so removals of that key block while it is alive.
//
// Only one process may have a map directory open at a time; Open takes an
// exclusive lock file inside the directory.
//
// # Error Handling
//
// Errors are classified by package-level sentinels ([ErrNotFound],
// [ErrCorrupt], ...) and checked with errors.Is. I/O errors are surfaced
// with context attached.
package multimap
