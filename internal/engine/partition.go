package engine

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// PartitionOptions configures opening one partition.
type PartitionOptions struct {
	// BlockSize is used when the partition is created. An existing
	// partition uses the block size persisted in its stats file.
	BlockSize int

	// BufferSize is the store's tail buffer size.
	BufferSize int

	// ReadOnly opens the partition for reading; mutations fail and the
	// close protocol skips persistence.
	ReadOnly bool

	// CreateIfMissing allows creating a fresh partition.
	CreateIfMissing bool

	// Logger receives lifecycle events and shutdown warnings. Nil selects
	// a no-op logger.
	Logger *zap.Logger
}

// Partition is one shard of a map: a hash table from key to List, the
// block store holding the values, and the arena owning the tail block
// memory. Keys are owned by the table; lists are created lazily on first
// append and live until the partition is closed.
type Partition struct {
	mu sync.RWMutex

	prefix   string
	lists    map[string]*List
	store    *Store
	arena    *Arena
	carry    Stats // counters of lists that vanished in earlier sessions
	log      *zap.Logger
	readOnly bool
	closed   bool
}

// OpenPartition opens or creates the partition with the given filename
// prefix (<prefix>.map, <prefix>.stats, <prefix>.store).
func OpenPartition(prefix string, opts PartitionOptions) (*Partition, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Partition{
		prefix:   prefix,
		lists:    make(map[string]*List),
		arena:    NewArena(0),
		log:      opts.Logger,
		readOnly: opts.ReadOnly,
	}

	blockSize := opts.BlockSize

	stats, err := ReadStatsFromFile(prefix + ".stats")

	switch {
	case err == nil:
		blockSize = int(stats.BlockSize)

		if err := p.replayMapFile(stats); err != nil {
			return nil, err
		}

	case errors.Is(err, ErrNotFound):
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("partition %s: %w", prefix, ErrNotFound)
		}

	default:
		return nil, err
	}

	p.store, err = OpenStore(prefix+".store", StoreOptions{
		BlockSize:  blockSize,
		BufferSize: opts.BufferSize,
		ReadOnly:   opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// replayMapFile rebuilds the key table from the partition map file. The
// persisted value counters of each restored list are subtracted from the
// persisted totals, so that closing recomputes the stats from scratch
// while counters of long-gone lists are carried over.
func (p *Partition) replayMapFile(stats Stats) error {
	mapPath := p.prefix + ".map"
	oldPath := mapPath + ".old"

	// A crash between the close protocol's rename and the rewrite leaves
	// only the .old file behind; recover from it. A leftover .old next to
	// a complete .map lost the race the other way and is stale.
	if _, err := os.Stat(mapPath); os.IsNotExist(err) {
		if _, oldErr := os.Stat(oldPath); oldErr == nil {
			if err := os.Rename(oldPath, mapPath); err != nil {
				return fmt.Errorf("recover map file: %w", err)
			}

			p.log.Warn("recovered partition map from crash-safety handoff",
				zap.String("partition", p.prefix))
		}
	}

	f, err := os.Open(mapPath) //nolint:gosec // path is derived from the map directory
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("partition %s has stats but no map file: %w", p.prefix, ErrNotFound)
		}

		return fmt.Errorf("open map file: %w", err)
	}

	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	p.carry = Stats{
		NumValuesTotal: stats.NumValuesTotal,
		NumValuesValid: stats.NumValuesValid,
	}

	for i := uint64(0); i < stats.NumKeysValid; i++ {
		key, head, err := readMapEntry(r)
		if err != nil {
			return fmt.Errorf("partition %s map entry %d: %w", p.prefix, i, err)
		}

		valid := uint64(head.NumValuesValid())
		total := uint64(head.NumValuesTotal)

		if p.carry.NumValuesTotal < total || p.carry.NumValuesValid < valid {
			return fmt.Errorf("partition %s counters exceed persisted totals: %w", p.prefix, ErrCorrupt)
		}

		p.carry.NumValuesTotal -= total
		p.carry.NumValuesValid -= valid

		p.lists[string(key)] = NewListFromHead(head)
	}

	if _, err := r.ReadByte(); err != io.EOF {
		return fmt.Errorf("partition %s map file has trailing garbage: %w", p.prefix, ErrCorrupt)
	}

	return nil
}

// readMapEntry decodes one {key, head} record.
func readMapEntry(r *bufio.Reader) ([]byte, Head, error) {
	keyLen, err := ReadUint32From(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Head{}, fmt.Errorf("unexpected end of map file: %w", ErrCorrupt)
		}

		return nil, Head{}, err
	}

	if keyLen == 0 || keyLen > MaxKeySize {
		return nil, Head{}, fmt.Errorf("key length %d out of range: %w", keyLen, ErrCorrupt)
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, Head{}, fmt.Errorf("read key: %w", ErrCorrupt)
	}

	var fixed [2]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, Head{}, fmt.Errorf("read block id vector length: %w", ErrCorrupt)
	}

	idsLen := binary.LittleEndian.Uint16(fixed[:])

	packed := make([]byte, idsLen)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, Head{}, fmt.Errorf("read block id vector: %w", ErrCorrupt)
	}

	var counters [8]byte
	if _, err := io.ReadFull(r, counters[:]); err != nil {
		return nil, Head{}, fmt.Errorf("read counters: %w", ErrCorrupt)
	}

	head := Head{
		NumValuesTotal:   binary.LittleEndian.Uint32(counters[0:]),
		NumValuesRemoved: binary.LittleEndian.Uint32(counters[4:]),
		BlockIDs:         RestoreUintVector(packed),
	}

	if head.NumValuesTotal < head.NumValuesRemoved {
		return nil, Head{}, fmt.Errorf("counters out of order: %w", ErrCorrupt)
	}

	return key, head, nil
}

// writeMapEntry encodes one {key, head} record.
func writeMapEntry(w *bufio.Writer, key string, head *Head) error {
	if err := WriteUint32To(uint32(len(key)), w); err != nil {
		return err
	}

	if _, err := w.WriteString(key); err != nil {
		return err
	}

	packed := head.BlockIDs.Bytes()
	if len(packed) > 0xFFFF {
		return fmt.Errorf("block id vector of %d bytes exceeds u16: %w", len(packed), ErrInvalidArgument)
	}

	var fixed [2]byte
	binary.LittleEndian.PutUint16(fixed[:], uint16(len(packed)))

	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}

	if _, err := w.Write(packed); err != nil {
		return err
	}

	var counters [8]byte
	binary.LittleEndian.PutUint32(counters[0:], head.NumValuesTotal)
	binary.LittleEndian.PutUint32(counters[4:], head.NumValuesRemoved)

	_, err := w.Write(counters[:])

	return err
}

// Put appends a value to the list of key, creating the list on first use.
func (p *Partition) Put(key, value []byte) error {
	if p.readOnly {
		return ErrReadOnly
	}

	if len(key) == 0 || len(key) > MaxKeySize {
		return fmt.Errorf("key length %d out of range [1, %d]: %w", len(key), MaxKeySize, ErrInvalidArgument)
	}

	return p.getOrCreateList(key).Append(value, p.store, p.arena)
}

// Get returns a shared iterator over the values of key. A missing key
// yields an empty iterator.
func (p *Partition) Get(key []byte) *Iter {
	list := p.getList(key)
	if list == nil {
		return NewEmptyIter()
	}

	return list.NewIterator(p.store)
}

// GetMutable returns an exclusive iterator over the values of key,
// supporting in-place tombstone removal. A missing key yields an empty
// iterator.
func (p *Partition) GetMutable(key []byte) (*Iter, error) {
	if p.readOnly {
		return nil, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return NewEmptyIter(), nil
	}

	return list.NewMutableIterator(p.store), nil
}

// Contains reports whether key has at least one valid value.
func (p *Partition) Contains(key []byte) bool {
	list := p.getList(key)

	return list != nil && !list.Empty()
}

// NumValues returns the number of valid values of key.
func (p *Partition) NumValues(key []byte) uint32 {
	list := p.getList(key)
	if list == nil {
		return 0
	}

	return list.Size()
}

// RemoveKey drops all values of key. Returns the number of values
// removed. Blocks while any iterator on the key is alive.
func (p *Partition) RemoveKey(key []byte) (uint32, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return 0, nil
	}

	return list.Clear(), nil
}

// RemoveKeys drops all values of every key matching pred. Returns the
// number of keys that had values.
func (p *Partition) RemoveKeys(pred func([]byte) bool) (uint64, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var removed uint64

	for key, list := range p.lists {
		if pred([]byte(key)) && list.Clear() != 0 {
			removed++
		}
	}

	return removed, nil
}

// RemoveValue tombstones the first value of key matching pred.
func (p *Partition) RemoveValue(key []byte, pred func([]byte) bool) (bool, error) {
	if p.readOnly {
		return false, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return false, nil
	}

	return list.RemoveFirstMatch(pred, p.store)
}

// RemoveValues tombstones all values of key matching pred. Returns the
// number removed.
func (p *Partition) RemoveValues(key []byte, pred func([]byte) bool) (uint32, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return 0, nil
	}

	return list.RemoveAllMatches(pred, p.store)
}

// ReplaceValue replaces the first value for which fn returns a non-nil
// replacement. The replacement is appended at the tail.
func (p *Partition) ReplaceValue(key []byte, fn func([]byte) []byte) (bool, error) {
	if p.readOnly {
		return false, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return false, nil
	}

	return list.ReplaceFirstMatch(fn, p.store, p.arena)
}

// ReplaceValues replaces every value for which fn returns a non-nil
// replacement. Returns the number replaced.
func (p *Partition) ReplaceValues(key []byte, fn func([]byte) []byte) (uint32, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}

	list := p.getList(key)
	if list == nil {
		return 0, nil
	}

	return list.ReplaceAllMatches(fn, p.store, p.arena)
}

// ForEachKey yields every key with at least one valid value.
func (p *Partition) ForEachKey(fn func(key []byte)) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key, list := range p.lists {
		if !list.Empty() {
			fn([]byte(key))
		}
	}
}

// ForEachValue yields every valid value of key.
func (p *Partition) ForEachValue(key []byte, fn func(value []byte)) error {
	list := p.getList(key)
	if list == nil {
		return nil
	}

	return list.ForEachValue(fn, p.store)
}

// ForEachEntry yields every non-empty key together with a shared iterator
// over its values. The iterator is only valid inside fn.
func (p *Partition) ForEachEntry(fn func(key []byte, it *Iter)) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// A full traversal touches most blocks; hint the kernel, and fall
	// back to random access afterwards.
	p.store.AdviseAccessPattern(AccessWillNeed)
	defer p.store.AdviseAccessPattern(AccessRandom)

	for key, list := range p.lists {
		it := list.NewIterator(p.store)

		if it.HasNext() {
			fn([]byte(key), it)
		}

		it.Close()
	}
}

// GetStats snapshots the partition counters under the shared lock. Lists
// whose lock cannot be taken without blocking are skipped; the result is
// a best-effort snapshot.
func (p *Partition) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.carry

	var keySizeSum, listSizeSum uint64

	for key, list := range p.lists {
		total, removed, ok := list.TryCounters()
		if !ok {
			continue
		}

		stats.NumValuesTotal += uint64(total)
		stats.NumValuesValid += uint64(total - removed)

		listSize := uint64(total - removed)
		if listSize == 0 {
			continue
		}

		keySize := uint64(len(key))

		stats.NumKeysValid++
		keySizeSum += keySize
		listSizeSum += listSize
		stats.KeySizeMax = maxU64(stats.KeySizeMax, keySize)
		stats.KeySizeMin = minNonZero(stats.KeySizeMin, keySize)
		stats.ListSizeMax = maxU64(stats.ListSizeMax, listSize)
		stats.ListSizeMin = minNonZero(stats.ListSizeMin, listSize)
	}

	if stats.NumKeysValid != 0 {
		stats.KeySizeAvg = keySizeSum / stats.NumKeysValid
		stats.ListSizeAvg = listSizeSum / stats.NumKeysValid
	}

	stats.BlockSize = uint64(p.store.BlockSize())
	stats.NumBlocks = uint64(p.store.NumBlocks())
	stats.NumKeysTotal = uint64(len(p.lists))

	return stats
}

// IsReadOnly reports whether the partition was opened read-only.
func (p *Partition) IsReadOnly() bool {
	return p.readOnly
}

// BlockSize returns the store's block size.
func (p *Partition) BlockSize() int {
	return p.store.BlockSize()
}

// Close flushes every list, rewrites the map file via the .old handoff,
// persists the stats, and closes the store. Closing twice returns
// ErrClosed. Read-only partitions only release their resources.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.closed = true

	if p.readOnly {
		return p.store.Close()
	}

	if err := p.persistLocked(); err != nil {
		_ = p.store.Close()

		return err
	}

	return p.store.Close()
}

func (p *Partition) persistLocked() error {
	mapPath := p.prefix + ".map"
	oldPath := mapPath + ".old"

	if _, err := os.Stat(mapPath); err == nil {
		if err := os.Rename(mapPath, oldPath); err != nil {
			return fmt.Errorf("rename map file: %w", err)
		}
	}

	f, err := os.Create(mapPath) //nolint:gosec // path is derived from the map directory
	if err != nil {
		return fmt.Errorf("create map file: %w", err)
	}

	w := bufio.NewWriter(f)
	stats := p.carry

	var keySizeSum, listSizeSum uint64

	for key, list := range p.lists {
		head, ok, flushErr := list.TryFlush(p.store)
		if !ok {
			p.log.Warn("list was locked at shutdown; recent updates may be lost",
				zap.String("partition", p.prefix),
				zap.String("key", base64.StdEncoding.EncodeToString([]byte(key))))

			head, flushErr = list.FlushUnlocked(p.store)
		}

		if flushErr != nil {
			_ = f.Close()

			return flushErr
		}

		stats.NumValuesTotal += uint64(head.NumValuesTotal)
		stats.NumValuesValid += uint64(head.NumValuesValid())

		listSize := uint64(head.NumValuesValid())
		if listSize == 0 {
			continue
		}

		keySize := uint64(len(key))

		stats.NumKeysValid++
		keySizeSum += keySize
		listSizeSum += listSize
		stats.KeySizeMax = maxU64(stats.KeySizeMax, keySize)
		stats.KeySizeMin = minNonZero(stats.KeySizeMin, keySize)
		stats.ListSizeMax = maxU64(stats.ListSizeMax, listSize)
		stats.ListSizeMin = minNonZero(stats.ListSizeMin, listSize)

		if err := writeMapEntry(w, key, &head); err != nil {
			_ = f.Close()

			return fmt.Errorf("write map entry: %w", err)
		}
	}

	if stats.NumKeysValid != 0 {
		stats.KeySizeAvg = keySizeSum / stats.NumKeysValid
		stats.ListSizeAvg = listSizeSum / stats.NumKeysValid
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()

		return fmt.Errorf("flush map file: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return fmt.Errorf("sync map file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close map file: %w", err)
	}

	// The store buffer must be flushed before its block count is final.
	if err := p.store.Flush(); err != nil {
		return err
	}

	stats.BlockSize = uint64(p.store.BlockSize())
	stats.NumBlocks = uint64(p.store.NumBlocks())
	stats.NumKeysTotal = uint64(len(p.lists))

	if err := stats.WriteToFile(p.prefix + ".stats"); err != nil {
		return err
	}

	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old map file: %w", err)
	}

	return nil
}

func (p *Partition) getList(key []byte) *List {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.lists[string(key)]
}

// getOrCreateList installs a fresh list for a new key under the exclusive
// table lock. The map's string conversion deep-copies the key, so the
// table owns it from here on.
func (p *Partition) getOrCreateList(key []byte) *List {
	p.mu.RLock()
	list := p.lists[string(key)]
	p.mu.RUnlock()

	if list != nil {
		return list
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if list := p.lists[string(key)]; list != nil {
		return list
	}

	list = NewList()
	p.lists[string(key)] = list

	return list
}
