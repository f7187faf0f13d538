package engine

import (
	"encoding/binary"
	"fmt"
)

// UintVector is a compressed, append-only sequence of strictly increasing
// u32 values. Deltas between successive values are stored as varints,
// followed by a 4-byte absolute copy of the last value so that Add can
// compute the next delta without unpacking.
//
// Lists use it to hold their block IDs, which the Store assigns densely and
// monotonically.
type UintVector struct {
	data      []byte
	putOffset int
}

// Empty reports whether no value has been added.
func (v *UintVector) Empty() bool {
	return v.putOffset == 0
}

// Add appends a value, which must be strictly greater than the last value
// added. Returns ErrInvalidArgument otherwise.
func (v *UintVector) Add(value uint32) error {
	v.growIfFull()

	if v.Empty() {
		v.putOffset += WriteUint32(value, v.data[v.putOffset:])
		binary.LittleEndian.PutUint32(v.data[v.putOffset:], value)
		v.putOffset += 4

		return nil
	}

	// Rewind the trailing absolute copy and replace it with the delta.
	v.putOffset -= 4
	prev := binary.LittleEndian.Uint32(v.data[v.putOffset:])

	if prev >= value {
		v.putOffset += 4 // restore

		return fmt.Errorf("uintvector: %d added after %d: %w", value, prev, ErrInvalidArgument)
	}

	v.putOffset += WriteUint32(value-prev, v.data[v.putOffset:])
	binary.LittleEndian.PutUint32(v.data[v.putOffset:], value)
	v.putOffset += 4

	return nil
}

// Unpack reconstructs the full sequence by summing deltas.
func (v *UintVector) Unpack() []uint32 {
	if v.Empty() {
		return nil
	}

	values := make([]uint32, 0, 8)
	value := uint32(0)
	getOffset := 0
	lastValueOffset := v.putOffset - 4

	for getOffset != lastValueOffset {
		delta, n := ReadUint32(v.data[getOffset:lastValueOffset])
		getOffset += n
		value += delta
		values = append(values, value)
	}

	return values
}

// Bytes returns the packed representation, valid until the next Add.
func (v *UintVector) Bytes() []byte {
	return v.data[:v.putOffset]
}

// RestoreUintVector rebuilds a vector from bytes previously returned by
// Bytes.
func RestoreUintVector(packed []byte) UintVector {
	data := make([]byte, len(packed))
	copy(data, packed)

	return UintVector{data: data, putOffset: len(packed)}
}

// growIfFull ensures room for one more delta plus the absolute copy,
// growing the backing buffer geometrically.
func (v *UintVector) growIfFull() {
	const required = MaxVarint32Bytes + 4

	if len(v.data)-v.putOffset >= required {
		return
	}

	newSize := len(v.data) * 3 / 2
	if newSize < required {
		newSize = required
	}

	grown := make([]byte, newSize)
	copy(grown, v.data[:v.putOffset])
	v.data = grown
}
