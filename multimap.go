package multimap

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/calvinalkan/multimap/internal/engine"
)

// Stats holds the aggregated counters of one partition. See
// [Map.GetStats] and [TotalStats].
type Stats = engine.Stats

// TotalStats combines per-partition stats into map-wide totals.
func TotalStats(stats []Stats) Stats {
	return engine.TotalStats(stats)
}

// MaxStats takes the per-field maximum over all partitions.
func MaxStats(stats []Stats) Stats {
	return engine.MaxStats(stats)
}

// Map is a persistent one-to-many key-value store sharded over a fixed
// number of partitions. Keys are routed to a partition by FNV-1a hash; no
// ordering across keys is guaranteed.
//
// All methods are safe for concurrent use. Map-level traversals visit
// shards sequentially without holding a cross-shard lock.
type Map struct {
	mu sync.Mutex // guards closed

	directory  string
	lock       *engine.DirLock
	partitions []*engine.Partition
	desc       engine.Descriptor
	log        *zap.Logger
	readOnly   bool
	closed     bool
}

// Open opens or creates the map in directory.
//
// The directory itself must exist. An exclusive lock file is taken inside
// it; a second Open of the same directory fails with [ErrLocked] until
// Close.
func Open(directory string, opts Options) (*Map, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("map directory %s: %w", directory, ErrNotFound)
		}

		return nil, fmt.Errorf("stat map directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", directory, ErrInvalidArgument)
	}

	lock, err := engine.AcquireDirLock(directory)
	if err != nil {
		return nil, err
	}

	m, err := openLocked(directory, opts, lock)
	if err != nil {
		_ = lock.Release()

		return nil, err
	}

	return m, nil
}

func openLocked(directory string, opts Options, lock *engine.DirLock) (*Map, error) {
	desc, err := engine.ReadDescriptor(directory)

	created := false

	switch {
	case err == nil:
		if opts.ErrorIfExists {
			return nil, fmt.Errorf("map in %s: %w", directory, ErrAlreadyExists)
		}

	case isNotFound(err):
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("no map in %s: %w", directory, ErrNotFound)
		}

		if opts.ReadOnly {
			return nil, fmt.Errorf("cannot create a map read-only: %w", ErrInvalidArgument)
		}

		if err := opts.validate(); err != nil {
			return nil, err
		}

		desc = engine.NewDescriptor(uint64(opts.BlockSize), uint64(opts.NumShards))
		if err := desc.WriteToDirectory(directory); err != nil {
			return nil, err
		}

		created = true

	default:
		return nil, err
	}

	m := &Map{
		directory: directory,
		lock:      lock,
		desc:      desc,
		log:       opts.Logger,
		readOnly:  opts.ReadOnly,
	}

	bufferSize := opts.BufferSize
	if bufferSize%int(desc.BlockSize) != 0 || bufferSize < int(desc.BlockSize) {
		// An existing map may have a block size the caller's buffer does
		// not divide into; fall back to whole-buffer blocks.
		bufferSize = int(desc.BlockSize) * (DefaultBufferSize / DefaultBlockSize)
	}

	for i := range int(desc.NumShards) {
		p, err := engine.OpenPartition(engine.PartitionPrefix(directory, i), engine.PartitionOptions{
			BlockSize:       int(desc.BlockSize),
			BufferSize:      bufferSize,
			ReadOnly:        opts.ReadOnly,
			CreateIfMissing: created || opts.CreateIfMissing,
			Logger:          opts.Logger,
		})
		if err != nil {
			for _, open := range m.partitions {
				_ = open.Close()
			}

			return nil, fmt.Errorf("open partition %d: %w", i, err)
		}

		m.partitions = append(m.partitions, p)
	}

	m.log.Debug("opened map",
		zap.String("directory", directory),
		zap.Uint64("block_size", desc.BlockSize),
		zap.Uint64("num_shards", desc.NumShards),
		zap.Bool("read_only", opts.ReadOnly),
		zap.Bool("created", created))

	return m, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Close flushes and persists every partition, releases the directory
// lock, and invalidates the handle. Closing twice returns [ErrClosed].
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true

	var errs error

	for i, p := range m.partitions {
		if err := p.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close partition %d: %w", i, err))
		}
	}

	errs = multierr.Append(errs, m.lock.Release())

	m.log.Debug("closed map", zap.String("directory", m.directory))

	return errs
}

// IsReadOnly reports whether the map was opened read-only.
func (m *Map) IsReadOnly() bool {
	return m.readOnly
}

// BlockSize returns the block size the map was created with.
func (m *Map) BlockSize() int {
	return int(m.desc.BlockSize)
}

// NumShards returns the shard count the map was created with.
func (m *Map) NumShards() int {
	return int(m.desc.NumShards)
}

// Put appends value to the list of key.
//
// Keys are limited to [MaxKeySize] bytes, values to
// [MaxValueSize] of the map's block size; both must be non-empty.
func (m *Map) Put(key, value []byte) error {
	if err := m.check(); err != nil {
		return err
	}

	return m.shard(key).Put(key, value)
}

// Get returns an iterator over the values of key in append order. A
// missing key yields an empty iterator. The iterator must be closed.
func (m *Map) Get(key []byte) (*Iterator, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	return &Iterator{it: m.shard(key).Get(key)}, nil
}

// GetMutable returns an exclusive iterator over the values of key,
// supporting [MutableIterator.Remove]. A missing key yields an empty
// iterator. The iterator must be closed.
func (m *Map) GetMutable(key []byte) (*MutableIterator, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	it, err := m.shard(key).GetMutable(key)
	if err != nil {
		return nil, err
	}

	return &MutableIterator{Iterator{it: it}}, nil
}

// Contains reports whether key has at least one value.
func (m *Map) Contains(key []byte) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}

	return m.shard(key).Contains(key), nil
}

// NumValues returns the number of valid values of key.
func (m *Map) NumValues(key []byte) (uint32, error) {
	if err := m.check(); err != nil {
		return 0, err
	}

	return m.shard(key).NumValues(key), nil
}

// RemoveKey drops all values of key. Returns true if the key had values.
// Blocks while any iterator on the key is alive.
func (m *Map) RemoveKey(key []byte) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}

	n, err := m.shard(key).RemoveKey(key)

	return n != 0, err
}

// RemoveKeys drops all values of every key matching pred. Returns the
// number of keys removed.
func (m *Map) RemoveKeys(pred Predicate) (uint64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}

	var removed uint64

	for _, p := range m.partitions {
		n, err := p.RemoveKeys(pred)
		if err != nil {
			return removed, err
		}

		removed += n
	}

	return removed, nil
}

// RemoveValue tombstones the first value of key matching pred. Returns
// whether a value was removed.
func (m *Map) RemoveValue(key []byte, pred Predicate) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}

	return m.shard(key).RemoveValue(key, pred)
}

// RemoveValues tombstones every value of key matching pred. Returns the
// number of values removed.
func (m *Map) RemoveValues(key []byte, pred Predicate) (uint32, error) {
	if err := m.check(); err != nil {
		return 0, err
	}

	return m.shard(key).RemoveValues(key, pred)
}

// ReplaceValue replaces the first value for which fn returns a non-nil
// replacement. The original is tombstoned in place; the replacement is
// appended at the tail, so positions are not preserved.
func (m *Map) ReplaceValue(key []byte, fn Function) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}

	return m.shard(key).ReplaceValue(key, fn)
}

// ReplaceValues replaces every value for which fn returns a non-nil
// replacement. Returns the number of values replaced.
func (m *Map) ReplaceValues(key []byte, fn Function) (uint32, error) {
	if err := m.check(); err != nil {
		return 0, err
	}

	return m.shard(key).ReplaceValues(key, fn)
}

// ForEachKey yields every key with at least one value. Shards are visited
// sequentially; no cross-shard ordering is guaranteed.
func (m *Map) ForEachKey(fn Procedure) error {
	if err := m.check(); err != nil {
		return err
	}

	for _, p := range m.partitions {
		p.ForEachKey(fn)
	}

	return nil
}

// ForEachValue yields every value of key in append order.
func (m *Map) ForEachValue(key []byte, fn Procedure) error {
	if err := m.check(); err != nil {
		return err
	}

	return m.shard(key).ForEachValue(key, fn)
}

// ForEachEntry yields every non-empty key together with an iterator over
// its values. The iterator is only valid inside fn and must not be
// retained; it is closed by the traversal.
func (m *Map) ForEachEntry(fn EntryProcedure) error {
	if err := m.check(); err != nil {
		return err
	}

	for _, p := range m.partitions {
		p.ForEachEntry(func(key []byte, it *engine.Iter) {
			fn(key, &Iterator{it: it})
		})
	}

	return nil
}

// GetStats snapshots the counters of every partition. Lists locked at
// snapshot time are skipped; the result is best-effort.
func (m *Map) GetStats() ([]Stats, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	stats := make([]Stats, 0, len(m.partitions))

	for _, p := range m.partitions {
		stats = append(stats, p.GetStats())
	}

	return stats, nil
}

// GetTotalStats aggregates [Map.GetStats] into one record.
func (m *Map) GetTotalStats() (Stats, error) {
	stats, err := m.GetStats()
	if err != nil {
		return Stats{}, err
	}

	return TotalStats(stats), nil
}

// shard routes a key to its partition.
func (m *Map) shard(key []byte) *engine.Partition {
	return m.partitions[engine.Fnv1aHash64(key)%uint64(len(m.partitions))]
}

// check reports ErrClosed after Close.
func (m *Map) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	return nil
}
