package engine

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func testListEnv(t *testing.T, blockSize int) (*Store, *Arena) {
	t.Helper()

	store, _ := testStore(t, blockSize, 4)
	t.Cleanup(func() { _ = store.Close() })

	return store, NewArena(0)
}

func collect(t *testing.T, it *Iter) [][]byte {
	t.Helper()

	var values [][]byte

	for it.HasNext() {
		value, err := it.Next()
		require.NoError(t, err)

		owned := make([]byte, len(value))
		copy(owned, value)
		values = append(values, owned)
	}

	return values
}

func TestListAppendThenIterate(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 128)
	list := NewList()

	want := [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}

	for _, v := range want {
		require.NoError(t, list.Append(v, store, arena))
	}

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, uint32(3), it.Available())
	require.Equal(t, want, collect(t, it))
	require.False(t, it.HasNext())
}

func TestListIterateAcrossManyBlocks(t *testing.T) {
	t.Parallel()

	// Small blocks so that values regularly span block boundaries and the
	// tail is exercised together with flushed blocks.
	store, arena := testListEnv(t, 32)
	list := NewList()

	var want [][]byte

	for i := range 500 {
		value := []byte(fmt.Sprintf("value-%04d", i))
		want = append(want, value)
		require.NoError(t, list.Append(value, store, arena))
	}

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, want, collect(t, it))
}

func TestListValueSpanningMultipleBlocks(t *testing.T) {
	t.Parallel()

	const blockSize = 32

	store, arena := testListEnv(t, blockSize)
	list := NewList()

	// A first value leaves the tail partially filled, so the second one
	// starts mid-block and spans into the following block.
	first := bytes.Repeat([]byte{0xAB}, 20)
	second := bytes.Repeat([]byte{0xCD}, MaxValueSize(blockSize))

	require.NoError(t, list.Append(first, store, arena))
	require.NoError(t, list.Append(second, store, arena))

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, [][]byte{first, second}, collect(t, it))
}

func TestListRejectsOversizedValues(t *testing.T) {
	t.Parallel()

	const blockSize = 128

	store, arena := testListEnv(t, blockSize)
	list := NewList()

	exact := bytes.Repeat([]byte{1}, MaxValueSize(blockSize))
	require.NoError(t, list.Append(exact, store, arena))

	tooLarge := bytes.Repeat([]byte{1}, MaxValueSize(blockSize)+1)
	err := list.Append(tooLarge, store, arena)
	require.ErrorIs(t, err, ErrInvalidArgument)

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, [][]byte{exact}, collect(t, it))
}

func TestListPeekNextIsIdempotent(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 128)
	list := NewList()

	require.NoError(t, list.Append([]byte("only"), store, arena))

	it := list.NewIterator(store)
	defer it.Close()

	first, err := it.PeekNext()
	require.NoError(t, err)

	second, err := it.PeekNext()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, uint32(1), it.Available())

	next, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("only"), next)
	require.Equal(t, uint32(0), it.Available())
}

func TestListRemoveFirstMatchTombstonesInPlace(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	for i := range 10 {
		require.NoError(t, list.Append([]byte(fmt.Sprintf("v%d", i)), store, arena))
	}

	removed, err := list.RemoveFirstMatch(func(v []byte) bool {
		return bytes.Equal(v, []byte("v4"))
	}, store)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, uint32(9), list.Size())

	it := list.NewIterator(store)
	defer it.Close()

	for _, v := range collect(t, it) {
		require.NotEqual(t, []byte("v4"), v)
	}
}

func TestListRemoveAllMatches(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	for i := range 100 {
		value := []byte("keep")
		if i%2 == 1 {
			value = []byte("drop")
		}

		require.NoError(t, list.Append(value, store, arena))
	}

	removed, err := list.RemoveAllMatches(func(v []byte) bool {
		return bytes.Equal(v, []byte("drop"))
	}, store)
	require.NoError(t, err)
	require.Equal(t, uint32(50), removed)
	require.Equal(t, uint32(50), list.Size())

	it := list.NewIterator(store)
	defer it.Close()

	values := collect(t, it)
	require.Len(t, values, 50)

	for _, v := range values {
		require.Equal(t, []byte("keep"), v)
	}
}

func TestListIterateFullyTombstonedListYieldsNothing(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	for range 10 {
		require.NoError(t, list.Append([]byte("gone"), store, arena))
	}

	removed, err := list.RemoveAllMatches(func([]byte) bool { return true }, store)
	require.NoError(t, err)
	require.Equal(t, uint32(10), removed)

	it := list.NewIterator(store)
	defer it.Close()

	require.False(t, it.HasNext())
	require.Equal(t, uint32(0), it.Available())
}

func TestListReplaceFirstMatchAppendsAtTail(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 128)
	list := NewList()

	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, list.Append([]byte(v), store, arena))
	}

	replaced, err := list.ReplaceFirstMatch(func(v []byte) []byte {
		if bytes.Equal(v, []byte("v1")) {
			return []byte("vX")
		}

		return nil
	}, store, arena)
	require.NoError(t, err)
	require.True(t, replaced)

	it := list.NewIterator(store)
	defer it.Close()

	// Tombstone-and-append ordering: the replacement moves to the tail.
	require.Equal(t, [][]byte{[]byte("v2"), []byte("v3"), []byte("vX")}, collect(t, it))
}

func TestListReplaceAllMatches(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	for i := range 20 {
		require.NoError(t, list.Append([]byte(fmt.Sprintf("%02d", i)), store, arena))
	}

	replaced, err := list.ReplaceAllMatches(func(v []byte) []byte {
		if v[1] == '0' { // 00, 10
			return append([]byte("r"), v...)
		}

		return nil
	}, store, arena)
	require.NoError(t, err)
	require.Equal(t, uint32(2), replaced)
	require.Equal(t, uint32(20), list.Size())

	it := list.NewIterator(store)
	defer it.Close()

	values := collect(t, it)
	require.Equal(t, []byte("r00"), values[len(values)-2])
	require.Equal(t, []byte("r10"), values[len(values)-1])
}

func TestListFlushIsIdempotent(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 128)
	list := NewList()

	require.NoError(t, list.Append([]byte("v"), store, arena))

	require.NoError(t, list.Flush(store))

	blocksAfterFirst := store.NumBlocks()

	require.NoError(t, list.Flush(store))
	require.Equal(t, blocksAfterFirst, store.NumBlocks())

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, [][]byte{[]byte("v")}, collect(t, it))
}

func TestListAppendAfterFlushKeepsOrder(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	require.NoError(t, list.Append([]byte("before"), store, arena))
	require.NoError(t, list.Flush(store))
	require.NoError(t, list.Append([]byte("after"), store, arena))

	it := list.NewIterator(store)
	defer it.Close()

	require.Equal(t, [][]byte{[]byte("before"), []byte("after")}, collect(t, it))
}

func TestListHeadRoundTripThroughSnapshot(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 32)
	list := NewList()

	for i := range 50 {
		require.NoError(t, list.Append([]byte(fmt.Sprintf("value-%d", i)), store, arena))
	}

	_, err := list.RemoveFirstMatch(func(v []byte) bool {
		return bytes.Equal(v, []byte("value-7"))
	}, store)
	require.NoError(t, err)

	require.NoError(t, list.Flush(store))

	head := list.HeadSnapshot()
	require.Equal(t, uint32(50), head.NumValuesTotal)
	require.Equal(t, uint32(1), head.NumValuesRemoved)

	restored := NewListFromHead(head)

	it := restored.NewIterator(store)
	defer it.Close()

	values := collect(t, it)
	require.Len(t, values, 49)

	for _, v := range values {
		require.NotEqual(t, []byte("value-7"), v)
	}
}

func TestListClearDropsEverything(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	for range 25 {
		require.NoError(t, list.Append([]byte("value"), store, arena))
	}

	require.Equal(t, uint32(25), list.Clear())
	require.True(t, list.Empty())

	it := list.NewIterator(store)
	defer it.Close()

	require.False(t, it.HasNext())
}

func TestListIteratorSnapshotIgnoresLaterAppends(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 128)
	list := NewList()

	require.NoError(t, list.Append([]byte("v1"), store, arena))

	it := list.NewIterator(store)
	available := it.Available()
	it.Close()

	require.NoError(t, list.Append([]byte("v2"), store, arena))
	require.Equal(t, uint32(1), available)
	require.Equal(t, uint32(2), list.Size())
}

func TestListEmptyValueIsRejected(t *testing.T) {
	t.Parallel()

	store, arena := testListEnv(t, 64)
	list := NewList()

	err := list.Append([]byte{}, store, arena)
	require.True(t, errors.Is(err, ErrInvalidArgument))
}
