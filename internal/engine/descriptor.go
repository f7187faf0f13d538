package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Library version persisted in the descriptor. Opening a map fails when
// the stored major differs or the stored minor is newer than ours.
const (
	MajorVersion = 1
	MinorVersion = 0
)

// Descriptor file layout: 4 little-endian u64 fields.
const (
	descriptorSize = 32

	offBlockSize = 0
	offNumShards = 8
	offMajor     = 16
	offMinor     = 24
)

// DescriptorFileName is the descriptor file inside a map directory.
const DescriptorFileName = "multimap.id"

// LockFileName is the directory lock file inside a map directory.
const LockFileName = "multimap.lock"

// PartitionPrefix returns the path prefix of partition i's files
// (<prefix>.map, <prefix>.stats, <prefix>.store).
func PartitionPrefix(directory string, i int) string {
	return filepath.Join(directory, fmt.Sprintf("multimap.%d", i))
}

// Descriptor holds the creation-time parameters of a map: the block size
// and shard count, plus the library version that wrote it.
type Descriptor struct {
	BlockSize uint64
	NumShards uint64
	Major     uint64
	Minor     uint64
}

// NewDescriptor returns a descriptor stamped with the library version.
func NewDescriptor(blockSize, numShards uint64) Descriptor {
	return Descriptor{
		BlockSize: blockSize,
		NumShards: numShards,
		Major:     MajorVersion,
		Minor:     MinorVersion,
	}
}

// WriteToDirectory persists the descriptor atomically.
func (d *Descriptor) WriteToDirectory(directory string) error {
	buf := make([]byte, descriptorSize)
	binary.LittleEndian.PutUint64(buf[offBlockSize:], d.BlockSize)
	binary.LittleEndian.PutUint64(buf[offNumShards:], d.NumShards)
	binary.LittleEndian.PutUint64(buf[offMajor:], d.Major)
	binary.LittleEndian.PutUint64(buf[offMinor:], d.Minor)

	path := filepath.Join(directory, DescriptorFileName)
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	return nil
}

// ReadDescriptor loads the descriptor of a map directory and checks it
// against the library version.
func ReadDescriptor(directory string) (Descriptor, error) {
	path := filepath.Join(directory, DescriptorFileName)

	buf, err := os.ReadFile(path) //nolint:gosec // path is derived from the map directory
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, fmt.Errorf("descriptor %s: %w", path, ErrNotFound)
		}

		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}

	if len(buf) != descriptorSize {
		return Descriptor{}, fmt.Errorf("descriptor %s has %d bytes, want %d: %w",
			path, len(buf), descriptorSize, ErrCorrupt)
	}

	d := Descriptor{
		BlockSize: binary.LittleEndian.Uint64(buf[offBlockSize:]),
		NumShards: binary.LittleEndian.Uint64(buf[offNumShards:]),
		Major:     binary.LittleEndian.Uint64(buf[offMajor:]),
		Minor:     binary.LittleEndian.Uint64(buf[offMinor:]),
	}

	if d.Major != MajorVersion || d.Minor > MinorVersion {
		return Descriptor{}, fmt.Errorf("map version %d.%d is not supported by library version %d.%d: %w",
			d.Major, d.Minor, MajorVersion, MinorVersion, ErrIncompatible)
	}

	if d.BlockSize == 0 || d.NumShards == 0 {
		return Descriptor{}, fmt.Errorf("descriptor %s has zero block size or shard count: %w", path, ErrCorrupt)
	}

	return d, nil
}
