package engine

import (
	"bufio"
	"bytes"
	"testing"
)

func TestVarintUint32RoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000,
		0xFFFFFFF, 0x10000000, 0x3FFFFFFF, 0xFFFFFFFF}

	for _, want := range values {
		buf := make([]byte, MaxVarint32Bytes)

		n := WriteUint32(want, buf)
		if n == 0 {
			t.Fatalf("WriteUint32(%d) returned 0", want)
		}

		got, m := ReadUint32(buf)
		if got != want || m != n {
			t.Fatalf("ReadUint32 = (%d, %d), want (%d, %d)", got, m, want, n)
		}
	}
}

func TestVarintUint64RoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{0, 1, 0x7F, 0x80, 1 << 32, 1 << 56, 0xFFFFFFFFFFFFFFFF}

	for _, want := range values {
		buf := make([]byte, MaxVarint64Bytes)

		n := WriteUint64(want, buf)
		if n == 0 {
			t.Fatalf("WriteUint64(%d) returned 0", want)
		}

		got, m := ReadUint64(buf)
		if got != want || m != n {
			t.Fatalf("ReadUint64 = (%d, %d), want (%d, %d)", got, m, want, n)
		}
	}
}

func TestVarintWithFlagRoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint32{0, 1, 0x3F, 0x40, 0x1FFF, 0x2000, 0xFFFFF, 0x100000,
		0x7FFFFFF, 0x8000000, 0xFFFFFFFF}

	for _, want := range values {
		for _, flag := range []bool{false, true} {
			buf := make([]byte, MaxVarint32WithFlagBytes)

			n := WriteUint32WithFlag(want, flag, buf)
			if n == 0 {
				t.Fatalf("WriteUint32WithFlag(%d, %v) returned 0", want, flag)
			}

			got, gotFlag, m := ReadUint32WithFlag(buf)
			if got != want || gotFlag != flag || m != n {
				t.Fatalf("ReadUint32WithFlag = (%d, %v, %d), want (%d, %v, %d)",
					got, gotFlag, m, want, flag, n)
			}
		}
	}
}

func TestVarintWithFlagMaxEncodedSize(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 16)

	n := WriteUint32WithFlag(0xFFFFFFFF, true, buf)
	if n != MaxVarint32WithFlagBytes {
		t.Fatalf("max u32 with flag encoded in %d bytes, want %d", n, MaxVarint32WithFlagBytes)
	}
}

func TestVarintWriteIntoTooSmallBufferReturnsZero(t *testing.T) {
	t.Parallel()

	if n := WriteUint32(0x4000, make([]byte, 2)); n != 0 {
		t.Fatalf("WriteUint32 into short buffer = %d, want 0", n)
	}

	if n := WriteUint32WithFlag(0x2000, false, make([]byte, 2)); n != 0 {
		t.Fatalf("WriteUint32WithFlag into short buffer = %d, want 0", n)
	}

	if n := WriteUint32(5, nil); n != 0 {
		t.Fatalf("WriteUint32 into nil buffer = %d, want 0", n)
	}
}

func TestVarintReadTruncatedReturnsZero(t *testing.T) {
	t.Parallel()

	// A continuation chain running into the end of the buffer must read
	// as truncated; iterators rely on this to detect block boundaries.
	buf := []byte{0x80 | 0x01, 0x80 | 0x01}

	if _, n := ReadUint32(buf); n != 0 {
		t.Fatalf("ReadUint32 of truncated input consumed %d bytes, want 0", n)
	}

	if _, _, n := ReadUint32WithFlag(buf); n != 0 {
		t.Fatalf("ReadUint32WithFlag of truncated input consumed %d bytes, want 0", n)
	}
}

func TestVarintSetFlagTogglesOnlyTheFlagBit(t *testing.T) {
	t.Parallel()

	buf := make([]byte, MaxVarint32WithFlagBytes)
	n := WriteUint32WithFlag(12345, false, buf)

	SetFlag(buf, true)

	got, flag, m := ReadUint32WithFlag(buf)
	if got != 12345 || !flag || m != n {
		t.Fatalf("after SetFlag(true): (%d, %v, %d), want (12345, true, %d)", got, flag, m, n)
	}

	SetFlag(buf, false)

	got, flag, _ = ReadUint32WithFlag(buf)
	if got != 12345 || flag {
		t.Fatalf("after SetFlag(false): (%d, %v)", got, flag)
	}
}

func TestVarintStreamRoundTrip(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	w := bufio.NewWriter(&out)
	values := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF}

	for _, v := range values {
		if err := WriteUint32To(v, w); err != nil {
			t.Fatalf("WriteUint32To: %v", err)
		}
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r := bufio.NewReader(&out)

	for _, want := range values {
		got, err := ReadUint32From(r)
		if err != nil {
			t.Fatalf("ReadUint32From: %v", err)
		}

		if got != want {
			t.Fatalf("ReadUint32From = %d, want %d", got, want)
		}
	}
}
