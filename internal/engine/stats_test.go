package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatsFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.stats")

	want := Stats{
		BlockSize:      512,
		NumBlocks:      1000,
		NumKeysTotal:   40,
		NumKeysValid:   38,
		NumValuesTotal: 123456,
		NumValuesValid: 120000,
		KeySizeMin:     3,
		KeySizeMax:     64,
		KeySizeAvg:     12,
		ListSizeMin:    1,
		ListSizeMax:    9000,
		ListSizeAvg:    3157,
	}

	if err := want.WriteToFile(path); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if info.Size() != 104 {
		t.Fatalf("stats file has %d bytes, want 104", info.Size())
	}

	got, err := ReadStatsFromFile(path)
	if err != nil {
		t.Fatalf("ReadStatsFromFile: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestStatsFileChecksumDetectsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.stats")

	s := Stats{BlockSize: 512, NumBlocks: 2}
	if err := s.WriteToFile(path); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	raw[8]++ // flip a counter byte without updating the checksum

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ReadStatsFromFile(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("corrupted stats = %v, want ErrCorrupt", err)
	}
}

func TestStatsMissingFileIsNotFound(t *testing.T) {
	t.Parallel()

	_, err := ReadStatsFromFile(filepath.Join(t.TempDir(), "missing.stats"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing stats = %v, want ErrNotFound", err)
	}
}

func TestTotalStatsAggregation(t *testing.T) {
	t.Parallel()

	stats := []Stats{
		{
			BlockSize: 512, NumBlocks: 10, NumKeysTotal: 4, NumKeysValid: 4,
			NumValuesTotal: 100, NumValuesValid: 90,
			KeySizeMin: 2, KeySizeMax: 10, KeySizeAvg: 5,
			ListSizeMin: 1, ListSizeMax: 50, ListSizeAvg: 22,
		},
		{
			// A partition with no data contributes nothing to min fields.
			BlockSize: 512,
		},
		{
			BlockSize: 512, NumBlocks: 20, NumKeysTotal: 12, NumKeysValid: 12,
			NumValuesTotal: 300, NumValuesValid: 290,
			KeySizeMin: 4, KeySizeMax: 30, KeySizeAvg: 8,
			ListSizeMin: 2, ListSizeMax: 80, ListSizeAvg: 24,
		},
	}

	total := TotalStats(stats)

	if total.NumBlocks != 30 || total.NumKeysTotal != 16 || total.NumKeysValid != 16 {
		t.Fatalf("counter sums wrong: %+v", total)
	}

	if total.NumValuesTotal != 400 || total.NumValuesValid != 380 {
		t.Fatalf("value sums wrong: %+v", total)
	}

	if total.KeySizeMin != 2 || total.KeySizeMax != 30 {
		t.Fatalf("key size bounds wrong: %+v", total)
	}

	if total.ListSizeMin != 1 || total.ListSizeMax != 80 {
		t.Fatalf("list size bounds wrong: %+v", total)
	}

	// Weighted averages: (5*4 + 8*12) / 16 and (22*4 + 24*12) / 16.
	if total.KeySizeAvg != 7 || total.ListSizeAvg != 23 {
		t.Fatalf("weighted averages wrong: %+v", total)
	}
}

func TestMaxStatsTakesFieldwiseMaximum(t *testing.T) {
	t.Parallel()

	a := Stats{NumBlocks: 5, KeySizeMax: 100, ListSizeMin: 7}
	b := Stats{NumBlocks: 9, KeySizeMax: 3, ListSizeMin: 2}

	got := MaxStats([]Stats{a, b})

	if got.NumBlocks != 9 || got.KeySizeMax != 100 || got.ListSizeMin != 7 {
		t.Fatalf("MaxStats = %+v", got)
	}
}
