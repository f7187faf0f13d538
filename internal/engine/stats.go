package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// statsFileSize is the packed size of a Stats record: 13 u64 fields.
const statsFileSize = 13 * 8

// Stats aggregates the counters of one partition. A packed copy is
// persisted in the partition's .stats file on close.
type Stats struct {
	BlockSize      uint64
	NumBlocks      uint64
	NumKeysTotal   uint64
	NumKeysValid   uint64
	NumValuesTotal uint64
	NumValuesValid uint64
	KeySizeMin     uint64
	KeySizeMax     uint64
	KeySizeAvg     uint64
	ListSizeMin    uint64
	ListSizeMax    uint64
	ListSizeAvg    uint64
}

// checksum is the wrapping sum of all fields, stored as the 13th field of
// the stats file.
func (s *Stats) checksum() uint64 {
	return s.BlockSize + s.NumBlocks + s.NumKeysTotal + s.NumKeysValid +
		s.NumValuesTotal + s.NumValuesValid + s.KeySizeMin + s.KeySizeMax +
		s.KeySizeAvg + s.ListSizeMin + s.ListSizeMax + s.ListSizeAvg
}

// fields returns pointers to the persisted fields in file order.
func (s *Stats) fields() []*uint64 {
	return []*uint64{
		&s.BlockSize, &s.NumBlocks, &s.NumKeysTotal, &s.NumKeysValid,
		&s.NumValuesTotal, &s.NumValuesValid, &s.KeySizeMin, &s.KeySizeMax,
		&s.KeySizeAvg, &s.ListSizeMin, &s.ListSizeMax, &s.ListSizeAvg,
	}
}

// WriteToFile persists the stats as a packed little-endian record.
func (s *Stats) WriteToFile(path string) error {
	buf := make([]byte, statsFileSize)

	for i, field := range s.fields() {
		binary.LittleEndian.PutUint64(buf[i*8:], *field)
	}

	binary.LittleEndian.PutUint64(buf[12*8:], s.checksum())

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}

	return nil
}

// ReadStatsFromFile loads and validates a packed stats record.
func ReadStatsFromFile(path string) (Stats, error) {
	buf, err := os.ReadFile(path) //nolint:gosec // path is derived from the map directory
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, fmt.Errorf("stats file %s: %w", path, ErrNotFound)
		}

		return Stats{}, fmt.Errorf("read stats: %w", err)
	}

	if len(buf) != statsFileSize {
		return Stats{}, fmt.Errorf("stats file %s has %d bytes, want %d: %w",
			path, len(buf), statsFileSize, ErrCorrupt)
	}

	var s Stats
	for i, field := range s.fields() {
		*field = binary.LittleEndian.Uint64(buf[i*8:])
	}

	stored := binary.LittleEndian.Uint64(buf[12*8:])
	if stored != s.checksum() {
		return Stats{}, fmt.Errorf("stats file %s checksum mismatch: %w", path, ErrCorrupt)
	}

	return s, nil
}

// TotalStats combines per-partition stats into map-wide totals. Counters
// are summed; minima ignore zero fields that mean "no data"; averages are
// weighted by the number of valid keys per partition.
func TotalStats(stats []Stats) Stats {
	var total Stats

	var keySizeAvgSum, listSizeAvgSum uint64

	for i := range stats {
		s := &stats[i]

		total.BlockSize = maxU64(total.BlockSize, s.BlockSize)
		total.NumBlocks += s.NumBlocks
		total.NumKeysTotal += s.NumKeysTotal
		total.NumKeysValid += s.NumKeysValid
		total.NumValuesTotal += s.NumValuesTotal
		total.NumValuesValid += s.NumValuesValid

		total.KeySizeMin = minNonZero(total.KeySizeMin, s.KeySizeMin)
		total.ListSizeMin = minNonZero(total.ListSizeMin, s.ListSizeMin)
		total.KeySizeMax = maxU64(total.KeySizeMax, s.KeySizeMax)
		total.ListSizeMax = maxU64(total.ListSizeMax, s.ListSizeMax)

		keySizeAvgSum += s.KeySizeAvg * s.NumKeysValid
		listSizeAvgSum += s.ListSizeAvg * s.NumKeysValid
	}

	if total.NumKeysValid != 0 {
		total.KeySizeAvg = keySizeAvgSum / total.NumKeysValid
		total.ListSizeAvg = listSizeAvgSum / total.NumKeysValid
	}

	return total
}

// MaxStats takes the per-field maximum over all partitions.
func MaxStats(stats []Stats) Stats {
	var result Stats

	for i := range stats {
		s := stats[i]

		for j, field := range result.fields() {
			*field = maxU64(*field, *s.fields()[j])
		}
	}

	return result
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}

func minNonZero(a, b uint64) uint64 {
	if a == 0 {
		return b
	}

	if b == 0 {
		return a
	}

	if a < b {
		return a
	}

	return b
}
