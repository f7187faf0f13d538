package multimap_test

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/multimap"
)

func TestImportThenExportRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mapDir := filepath.Join(base, "map")
	require.NoError(t, os.Mkdir(mapDir, 0o755))

	input := filepath.Join(base, "input.b64")

	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	lines := []string{
		b64("alpha") + "\t" + b64("1") + "\t" + b64("2"),
		b64("beta") + "\t" + b64("x"),
		"",
		b64("gamma") + "\t" + b64("a") + "\t" + b64("b") + "\t" + b64("c"),
	}
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	require.NoError(t, multimap.Import(mapDir, input, multimap.ImportOptions{
		CreateIfMissing: true,
		BlockSize:       128,
		NumShards:       5,
	}))

	m, err := multimap.Open(mapDir, multimap.Options{ReadOnly: true})
	require.NoError(t, err)

	it, err := m.Get([]byte("gamma"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, drain(t, it))
	it.Close()
	require.NoError(t, m.Close())

	output := filepath.Join(base, "output.b64")
	require.NoError(t, multimap.Export(mapDir, output, multimap.ExportOptions{}))

	got := decodeExport(t, output)

	want := map[string][]string{
		"alpha": {"1", "2"},
		"beta":  {"x"},
		"gamma": {"a", "b", "c"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("export mismatch (-want +got):\n%s", diff)
	}
}

func decodeExport(t *testing.T, path string) map[string][]string {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	got := make(map[string][]string)

	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		require.GreaterOrEqual(t, len(fields), 2)

		key, err := base64.StdEncoding.DecodeString(fields[0])
		require.NoError(t, err)

		var values []string

		for _, field := range fields[1:] {
			value, err := base64.StdEncoding.DecodeString(field)
			require.NoError(t, err)

			values = append(values, string(value))
		}

		got[string(key)] = values
	}

	return got
}

func TestImportAcceptsSpaceSeparatedRecords(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mapDir := filepath.Join(base, "map")
	require.NoError(t, os.Mkdir(mapDir, 0o755))

	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	input := filepath.Join(base, "input.b64")
	require.NoError(t, os.WriteFile(input,
		[]byte(b64("key")+"  "+b64("v1")+" \t "+b64("v2")+"\n"), 0o644))

	require.NoError(t, multimap.Import(mapDir, input, multimap.ImportOptions{CreateIfMissing: true}))

	m, err := multimap.Open(mapDir, multimap.Options{})
	require.NoError(t, err)

	defer m.Close()

	it, err := m.Get([]byte("key"))
	require.NoError(t, err)

	defer it.Close()

	require.Equal(t, [][]byte{[]byte("v1"), []byte("v2")}, drain(t, it))
}

func TestImportFromDirectoryReadsEveryFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mapDir := filepath.Join(base, "map")
	srcDir := filepath.Join(base, "src")
	require.NoError(t, os.Mkdir(mapDir, 0o755))
	require.NoError(t, os.Mkdir(srcDir, 0o755))

	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.b64"),
		[]byte(b64("k")+"\t"+b64("from-a")+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.b64"),
		[]byte(b64("k")+"\t"+b64("from-b")+"\n"), 0o644))

	require.NoError(t, multimap.Import(mapDir, srcDir, multimap.ImportOptions{CreateIfMissing: true}))

	m, err := multimap.Open(mapDir, multimap.Options{})
	require.NoError(t, err)

	defer m.Close()

	n, err := m.NumValues([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), n)
}

func TestStatsOfClosedMap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	m, err := multimap.Open(dir, multimap.Options{CreateIfMissing: true, NumShards: 4})
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, m.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value")))
	}

	require.NoError(t, m.Close())

	stats, err := multimap.StatsOf(dir)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	total := multimap.TotalStats(stats)
	require.Equal(t, uint64(10), total.NumKeysValid)
	require.Equal(t, uint64(10), total.NumValuesValid)
}

func TestOptimizeRewritesWithNewLayout(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	srcDir := filepath.Join(base, "src")
	dstDir := filepath.Join(base, "dst")
	require.NoError(t, os.Mkdir(srcDir, 0o755))
	require.NoError(t, os.Mkdir(dstDir, 0o755))

	m, err := multimap.Open(srcDir, multimap.Options{
		CreateIfMissing: true,
		BlockSize:       128,
		NumShards:       23,
	})
	require.NoError(t, err)

	for i := range 100 {
		require.NoError(t, m.Put([]byte("key"), []byte(fmt.Sprintf("%03d", 99-i))))
	}

	// Tombstoned values must not survive the rebuild.
	_, err = m.RemoveValues([]byte("key"), multimap.Equal([]byte("050")))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	require.NoError(t, multimap.Optimize(srcDir, dstDir, multimap.OptimizeOptions{
		BlockSize: 256,
		NumShards: 7,
		Less:      func(a, b []byte) bool { return bytes.Compare(a, b) < 0 },
	}))

	rebuilt, err := multimap.Open(dstDir, multimap.Options{})
	require.NoError(t, err)

	defer rebuilt.Close()

	require.Equal(t, 256, rebuilt.BlockSize())
	require.Equal(t, 7, rebuilt.NumShards())

	it, err := rebuilt.Get([]byte("key"))
	require.NoError(t, err)

	defer it.Close()

	values := drain(t, it)
	require.Len(t, values, 99)

	// Sorted ascending, with the removed value gone.
	for i := 1; i < len(values); i++ {
		require.True(t, bytes.Compare(values[i-1], values[i]) < 0)
	}

	for _, v := range values {
		require.NotEqual(t, []byte("050"), v)
	}
}

func TestOptimizeIntoExistingMapFails(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	srcDir := filepath.Join(base, "src")
	dstDir := filepath.Join(base, "dst")
	require.NoError(t, os.Mkdir(srcDir, 0o755))
	require.NoError(t, os.Mkdir(dstDir, 0o755))

	for _, dir := range []string{srcDir, dstDir} {
		m, err := multimap.Open(dir, multimap.Options{CreateIfMissing: true})
		require.NoError(t, err)
		require.NoError(t, m.Close())
	}

	err := multimap.Optimize(srcDir, dstDir, multimap.OptimizeOptions{})
	require.ErrorIs(t, err, multimap.ErrAlreadyExists)
}

func TestExportSortsValuesWhenRequested(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mapDir := filepath.Join(base, "map")
	require.NoError(t, os.Mkdir(mapDir, 0o755))

	m, err := multimap.Open(mapDir, multimap.Options{CreateIfMissing: true})
	require.NoError(t, err)

	for _, v := range []string{"c", "a", "b"} {
		require.NoError(t, m.Put([]byte("k"), []byte(v)))
	}

	require.NoError(t, m.Close())

	output := filepath.Join(base, "out.b64")
	require.NoError(t, multimap.Export(mapDir, output, multimap.ExportOptions{
		Less: func(a, b []byte) bool { return bytes.Compare(a, b) < 0 },
	}))

	got := decodeExport(t, output)
	require.Equal(t, map[string][]string{"k": {"a", "b", "c"}}, got)
}
