package multimap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/calvinalkan/multimap/internal/engine"
)

// Defaults used when the corresponding Options fields are zero.
const (
	// DefaultBlockSize is the default block size in bytes.
	DefaultBlockSize = 512

	// DefaultNumShards is the default shard count. A prime spreads keys
	// evenly regardless of their hash distribution.
	DefaultNumShards = 23

	// DefaultBufferSize is the default per-shard write buffer size.
	DefaultBufferSize = 1 << 20
)

// MaxKeySize is the largest accepted key length in bytes.
const MaxKeySize = engine.MaxKeySize

// MaxValueSize returns the largest value length storable with the given
// block size: one block minus the worst-case record header.
func MaxValueSize(blockSize int) int {
	return engine.MaxValueSize(blockSize)
}

// Options configures opening or creating a map directory.
//
// BlockSize and NumShards are fixed at creation time and persisted in the
// map's descriptor; they are ignored when opening an existing map.
type Options struct {
	// BlockSize is the fixed block size in bytes. Must be a power of two.
	//
	// Smaller blocks waste less space on sparse lists; larger blocks
	// admit larger values and reduce per-block overhead.
	BlockSize int

	// NumShards is the number of partitions keys are spread over. A prime
	// number is recommended.
	NumShards int

	// BufferSize is the per-shard RAM buffer holding not-yet-flushed
	// blocks. Must be a multiple of BlockSize.
	BufferSize int

	// CreateIfMissing creates the map if the directory holds none.
	CreateIfMissing bool

	// ErrorIfExists fails with [ErrAlreadyExists] if a map is already
	// present. Only meaningful together with CreateIfMissing.
	ErrorIfExists bool

	// ReadOnly opens the map for reading. Write operations fail with
	// [ErrReadOnly] and nothing is persisted on Close.
	ReadOnly bool

	// Logger receives lifecycle events and shutdown warnings. Nil selects
	// a no-op logger.
	Logger *zap.Logger
}

// withDefaults fills zero fields with default values.
func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}

	if o.NumShards == 0 {
		o.NumShards = DefaultNumShards
	}

	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}

	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	return o
}

// validate checks the creation-time parameters.
func (o Options) validate() error {
	if o.BlockSize <= 0 || o.BlockSize&(o.BlockSize-1) != 0 {
		return fmt.Errorf("block size %d is not a power of two: %w", o.BlockSize, ErrInvalidArgument)
	}

	if o.NumShards < 1 {
		return fmt.Errorf("num shards %d must be >= 1: %w", o.NumShards, ErrInvalidArgument)
	}

	if o.BufferSize < o.BlockSize || o.BufferSize%o.BlockSize != 0 {
		return fmt.Errorf("buffer size %d is not a multiple of block size %d: %w",
			o.BufferSize, o.BlockSize, ErrInvalidArgument)
	}

	return nil
}
