package engine

import (
	"fmt"
	"io"
)

// Stream variants of the varint codec, used by the partition map files.

// ReadUint32From decodes a u32 varint from r.
func ReadUint32From(r io.ByteReader) (uint32, error) {
	var value uint32

	shift := uint(0)

	for i := 0; i < MaxVarint32Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		value += uint32(b&0x7F) << shift

		if b&continuationBit == 0 {
			return value, nil
		}

		shift += 7
	}

	return 0, fmt.Errorf("varint longer than %d bytes: %w", MaxVarint32Bytes, ErrCorrupt)
}

// WriteUint32To encodes value as a u32 varint into w.
func WriteUint32To(value uint32, w io.ByteWriter) error {
	for value > 0x7F {
		if err := w.WriteByte(continuationBit | byte(value&0x7F)); err != nil {
			return err
		}

		value >>= 7
	}

	return w.WriteByte(byte(value))
}
