package engine

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// AccessPattern hints how a caller intends to read blocks.
type AccessPattern int

const (
	// AccessRandom expects scattered single-block reads.
	AccessRandom AccessPattern = iota

	// AccessWillNeed expects a sequential scan over most blocks.
	AccessWillNeed
)

// StoreOptions configures opening a store file.
type StoreOptions struct {
	// BlockSize is the fixed block size in bytes. Must be a power of two.
	BlockSize int

	// BufferSize is the size of the RAM buffer holding not-yet-flushed
	// blocks. Must be a non-zero multiple of BlockSize. Ignored for
	// read-only stores.
	BufferSize int

	// ReadOnly opens the file for reading; Append and Replace fail.
	ReadOnly bool
}

// Store is a block-addressed append log backed by one file. The flushed
// prefix of the file is memory-mapped for random reads and in-place
// tombstone-flag updates; the tail lives in a RAM buffer until it fills.
//
// Block IDs are dense 32-bit values assigned in append order. Once handed
// out, a block's bytes are stable except for flag bytes written through
// Replace. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	f            *os.File
	path         string
	mapped       []byte // flushed prefix of the file
	buffer       []byte // owned tail buffer, nil when read-only
	bufferOffset int    // first free byte in buffer
	numBlocks    uint32 // blocks in file plus buffer
	blockSize    int
	readOnly     bool
}

// OpenStore opens or creates the block file at path.
//
// An existing file whose size is not a multiple of the block size is
// rejected with ErrCorrupt. A missing file is created unless ReadOnly is
// set, in which case ErrNotFound is returned.
func OpenStore(path string, opts StoreOptions) (*Store, error) {
	if opts.BlockSize <= 0 || opts.BlockSize&(opts.BlockSize-1) != 0 {
		return nil, fmt.Errorf("block size %d is not a power of two: %w", opts.BlockSize, ErrInvalidArgument)
	}

	if !opts.ReadOnly {
		if opts.BufferSize < opts.BlockSize || opts.BufferSize%opts.BlockSize != 0 {
			return nil, fmt.Errorf("buffer size %d is not a multiple of block size %d: %w",
				opts.BufferSize, opts.BlockSize, ErrInvalidArgument)
		}
	}

	s := &Store{
		path:      path,
		blockSize: opts.BlockSize,
		readOnly:  opts.ReadOnly,
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0o644) //nolint:gosec // path is derived from the map directory
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open store: %w", err)
		}

		if opts.ReadOnly {
			return nil, fmt.Errorf("store file %s: %w", path, ErrNotFound)
		}

		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("stat store: %w", err)
	}

	size := info.Size()
	if size%int64(opts.BlockSize) != 0 {
		_ = f.Close()

		return nil, fmt.Errorf("store size %d is not a multiple of block size %d: %w",
			size, opts.BlockSize, ErrCorrupt)
	}

	if size > 0 {
		s.mapped, err = mmapFile(f, int(size), !opts.ReadOnly)
		if err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("mmap store: %w", err)
		}
	}

	if !opts.ReadOnly {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("seek store: %w", err)
		}

		s.buffer = make([]byte, opts.BufferSize)
	}

	s.f = f
	s.numBlocks = uint32(size / int64(opts.BlockSize))

	return s, nil
}

// BlockSize returns the fixed block size.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// NumBlocks returns the total number of blocks in file plus buffer.
func (s *Store) NumBlocks() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.numBlocks
}

// IsReadOnly reports whether the store was opened read-only.
func (s *Store) IsReadOnly() bool {
	return s.readOnly
}

// Append copies one block into the tail buffer and returns its ID. When
// the buffer fills, it is written to the file and the memory mapping is
// extended to cover it.
func (s *Store) Append(data []byte) (uint32, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}

	if len(data) != s.blockSize {
		return 0, fmt.Errorf("append of %d bytes into store with block size %d: %w",
			len(data), s.blockSize, ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.buffer[s.bufferOffset:], data)
	s.bufferOffset += s.blockSize
	s.numBlocks++
	id := s.numBlocks - 1

	if s.bufferOffset == len(s.buffer) {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// Get copies the block with the given ID into dst, which must hold at
// least one block.
func (s *Store) Get(id uint32, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(id, dst)
}

// GetBatch copies the blocks identified by ids into the corresponding dst
// slices under a single lock acquisition, preserving order. Used by
// iterators to prefetch.
func (s *Store) GetBatch(ids []uint32, dst [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range ids {
		if err := s.getLocked(id, dst[i]); err != nil {
			return err
		}
	}

	return nil
}

// Replace overwrites the bytes of an existing block in place. Only
// iterators use it, and only to persist tombstone-flag mutations.
func (s *Store) Replace(id uint32, data []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}

	if len(data) != s.blockSize {
		return fmt.Errorf("replace of %d bytes into store with block size %d: %w",
			len(data), s.blockSize, ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= s.numBlocks {
		return fmt.Errorf("replace of unknown block %d (have %d): %w", id, s.numBlocks, ErrInvalidArgument)
	}

	mappedBlocks := uint32(len(s.mapped) / s.blockSize)
	if id < mappedBlocks {
		copy(s.mapped[int(id)*s.blockSize:], data)
	} else {
		copy(s.buffer[int(id-mappedBlocks)*s.blockSize:], data)
	}

	return nil
}

// AdviseAccessPattern hints the kernel about upcoming reads of the mapped
// region. Best-effort; errors are ignored.
func (s *Store) AdviseAccessPattern(pattern AccessPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.mapped) == 0 {
		return
	}

	advice := unix.MADV_RANDOM
	if pattern == AccessWillNeed {
		advice = unix.MADV_WILLNEED
	}

	_ = unix.Madvise(s.mapped, advice)
}

// Flush writes any buffered blocks to the file and extends the mapping.
func (s *Store) Flush() error {
	if s.readOnly {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

// Close flushes the tail buffer, unmaps the file, and closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}

	var firstErr error

	if !s.readOnly {
		firstErr = s.flushLocked()
	}

	if s.mapped != nil {
		if err := unix.Munmap(s.mapped); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap store: %w", err)
		}

		s.mapped = nil
	}

	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}

	s.f = nil
	s.buffer = nil

	return firstErr
}

func (s *Store) getLocked(id uint32, dst []byte) error {
	if id >= s.numBlocks {
		return fmt.Errorf("get of unknown block %d (have %d): %w", id, s.numBlocks, ErrInvalidArgument)
	}

	mappedBlocks := uint32(len(s.mapped) / s.blockSize)
	if id < mappedBlocks {
		copy(dst[:s.blockSize], s.mapped[int(id)*s.blockSize:])
	} else {
		copy(dst[:s.blockSize], s.buffer[int(id-mappedBlocks)*s.blockSize:])
	}

	return nil
}

// flushLocked appends the buffered tail to the file and remaps the flushed
// prefix. The unified buffer cache makes the new bytes visible through the
// mapping without an explicit sync.
func (s *Store) flushLocked() error {
	if s.bufferOffset == 0 {
		return nil
	}

	if err := writeFull(s.f, s.buffer[:s.bufferOffset]); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}

	newSize := len(s.mapped) + s.bufferOffset

	var err error
	if s.mapped == nil {
		s.mapped, err = mmapFile(s.f, newSize, true)
	} else {
		s.mapped, err = growMapping(s.mapped, s.f, newSize)
	}

	if err != nil {
		return fmt.Errorf("remap store: %w", err)
	}

	s.bufferOffset = 0

	return nil
}

// writeFull writes all of data, retrying partial writes until done or
// failed.
func writeFull(f *os.File, data []byte) error {
	for len(data) > 0 {
		n, err := f.Write(data)
		if err != nil {
			return err
		}

		data = data[n:]
	}

	return nil
}

// mmapFile maps the first size bytes of f.
func mmapFile(f *os.File, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}
