package multimap

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/calvinalkan/multimap/internal/engine"
)

// Operations on closed map directories: inspect stats, exchange data with
// the Base64 text format, and rebuild a map with a new layout.

// StatsOf reads the persisted per-partition stats of a map directory
// without opening the map.
func StatsOf(directory string) ([]Stats, error) {
	desc, err := engine.ReadDescriptor(directory)
	if err != nil {
		return nil, err
	}

	stats := make([]Stats, 0, desc.NumShards)

	for i := range int(desc.NumShards) {
		s, err := engine.ReadStatsFromFile(engine.PartitionPrefix(directory, i) + ".stats")
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i, err)
		}

		stats = append(stats, s)
	}

	return stats, nil
}

// ImportOptions configures [Import].
type ImportOptions struct {
	// CreateIfMissing creates the target map if none exists, using
	// BlockSize and NumShards.
	CreateIfMissing bool

	// BlockSize for a newly created map. Zero selects the default.
	BlockSize int

	// NumShards for a newly created map. Zero selects the default.
	NumShards int

	// Logger receives lifecycle events. Nil selects a no-op logger.
	Logger *zap.Logger
}

// Import reads Base64-encoded records from the file at source (or from
// every file inside it, if source is a directory) and puts them into the
// map at directory.
//
// Each input line holds one record: the Base64 key followed by one or
// more Base64 values, separated by whitespace.
func Import(directory, source string, opts ImportOptions) error {
	m, err := Open(directory, Options{
		CreateIfMissing: opts.CreateIfMissing,
		BlockSize:       opts.BlockSize,
		NumShards:       opts.NumShards,
		Logger:          opts.Logger,
	})
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("import source %s: %w", source, ErrNotFound)
		}

		return fmt.Errorf("stat import source: %w", err)
	}

	if !info.IsDir() {
		return importFile(m, source)
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("read import directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if err := importFile(m, filepath.Join(source, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func importFile(m *Map, path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the import caller
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}

	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 64<<20)

	lineno := 0

	for scanner.Scan() {
		lineno++

		fields := splitFields(scanner.Bytes())
		if len(fields) == 0 {
			continue
		}

		if len(fields) < 2 {
			return fmt.Errorf("%s:%d: record has a key but no values: %w", path, lineno, ErrInvalidArgument)
		}

		key, err := base64.StdEncoding.DecodeString(string(fields[0]))
		if err != nil {
			return fmt.Errorf("%s:%d: bad key: %w", path, lineno, err)
		}

		for _, field := range fields[1:] {
			value, err := base64.StdEncoding.DecodeString(string(field))
			if err != nil {
				return fmt.Errorf("%s:%d: bad value: %w", path, lineno, err)
			}

			if err := m.Put(key, value); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	return nil
}

// splitFields splits a line at runs of whitespace. Tabs are the canonical
// separator, but any blank does.
func splitFields(line []byte) [][]byte {
	var fields [][]byte

	start := -1

	for i, b := range line {
		if b == ' ' || b == '\t' || b == '\r' || b == '\v' || b == '\f' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}

			continue
		}

		if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		fields = append(fields, line[start:])
	}

	return fields
}

// ExportOptions configures [Export].
type ExportOptions struct {
	// Less, when set, sorts each key's values before writing.
	Less func(a, b []byte) bool

	// Logger receives lifecycle events. Nil selects a no-op logger.
	Logger *zap.Logger
}

// Export writes every entry of the map at directory to target, one line
// per key: the Base64 key followed by its Base64 values, TAB-separated.
func Export(directory, target string, opts ExportOptions) error {
	m, err := Open(directory, Options{ReadOnly: true, Logger: opts.Logger})
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	f, err := os.Create(target) //nolint:gosec // path comes from the export caller
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	w := bufio.NewWriter(f)

	var exportErr error

	err = m.ForEachEntry(func(key []byte, it *Iterator) {
		if exportErr != nil {
			return
		}

		exportErr = exportEntry(w, key, it, opts.Less)
	})
	if err == nil {
		err = exportErr
	}

	if err != nil {
		_ = f.Close()

		return err
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()

		return fmt.Errorf("flush export file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}

	return nil
}

func exportEntry(w *bufio.Writer, key []byte, it *Iterator, less func(a, b []byte) bool) error {
	if _, err := w.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		return err
	}

	var values [][]byte

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			return err
		}

		owned := make([]byte, len(value))
		copy(owned, value)
		values = append(values, owned)
	}

	if less != nil {
		sort.Slice(values, func(i, j int) bool { return less(values[i], values[j]) })
	}

	for _, value := range values {
		if err := w.WriteByte('\t'); err != nil {
			return err
		}

		if _, err := w.WriteString(base64.StdEncoding.EncodeToString(value)); err != nil {
			return err
		}
	}

	return w.WriteByte('\n')
}

// OptimizeOptions configures [Optimize].
type OptimizeOptions struct {
	// BlockSize of the rebuilt map. Zero keeps the source's block size.
	BlockSize int

	// NumShards of the rebuilt map. Zero keeps the source's shard count.
	NumShards int

	// Less, when set, orders each key's values in the rebuilt map.
	Less func(a, b []byte) bool

	// Logger receives lifecycle events. Nil selects a no-op logger.
	Logger *zap.Logger
}

// Optimize rebuilds the map at directory into output, dropping tombstoned
// records, defragmenting each key's blocks, and optionally changing the
// block size, shard count, and value order. The output directory must
// exist and hold no map.
func Optimize(directory, output string, opts OptimizeOptions) error {
	source, err := Open(directory, Options{ReadOnly: true, Logger: opts.Logger})
	if err != nil {
		return err
	}

	defer func() { _ = source.Close() }()

	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = source.BlockSize()
	}

	numShards := opts.NumShards
	if numShards == 0 {
		numShards = source.NumShards()
	}

	target, err := Open(output, Options{
		CreateIfMissing: true,
		ErrorIfExists:   true,
		BlockSize:       blockSize,
		NumShards:       numShards,
		Logger:          opts.Logger,
	})
	if err != nil {
		return err
	}

	var copyErr error

	err = source.ForEachEntry(func(key []byte, it *Iterator) {
		if copyErr != nil {
			return
		}

		copyErr = optimizeEntry(target, key, it, opts.Less)
	})
	if err == nil {
		err = copyErr
	}

	if closeErr := target.Close(); err == nil {
		err = closeErr
	}

	return err
}

func optimizeEntry(target *Map, key []byte, it *Iterator, less func(a, b []byte) bool) error {
	if less == nil {
		for it.HasNext() {
			value, err := it.Next()
			if err != nil {
				return err
			}

			if err := target.Put(key, value); err != nil {
				return err
			}
		}

		return nil
	}

	var values [][]byte

	for it.HasNext() {
		value, err := it.Next()
		if err != nil {
			return err
		}

		owned := make([]byte, len(value))
		copy(owned, value)
		values = append(values, owned)
	}

	sort.Slice(values, func(i, j int) bool { return less(values[i], values[j]) })

	for _, value := range values {
		if err := target.Put(key, value); err != nil {
			return err
		}
	}

	return nil
}
