package engine

// Block is a fixed-size byte span with a single cursor used for both
// reading and writing. It never resizes; callers detect a full block by a
// zero return and commit it to the Store.
//
// The cursor is authoritative only in RAM. Once a block is persisted the
// offset is lost; readers walk records until their value count is
// exhausted.
type Block struct {
	data   []byte
	offset int
}

// NewBlock wraps data as a block with the cursor at zero.
func NewBlock(data []byte) Block {
	return Block{data: data}
}

// View returns a shallow copy of the block with the cursor rewound.
func (b *Block) View() Block {
	return Block{data: b.data}
}

// HasData reports whether the block wraps a buffer.
func (b *Block) HasData() bool {
	return b.data != nil
}

// Data returns the underlying buffer.
func (b *Block) Data() []byte {
	return b.data
}

// Size returns the buffer length.
func (b *Block) Size() int {
	return len(b.data)
}

// Offset returns the cursor position.
func (b *Block) Offset() int {
	return b.offset
}

// Remaining returns the number of bytes after the cursor.
func (b *Block) Remaining() int {
	return len(b.data) - b.offset
}

// Rewind resets the cursor to the start of the buffer.
func (b *Block) Rewind() {
	b.offset = 0
}

// WriteData copies up to Remaining() bytes from src and advances the
// cursor. Returns the number of bytes copied, which may be less than
// len(src), or 0 if the block is full.
func (b *Block) WriteData(src []byte) int {
	n := copy(b.data[b.offset:], src)
	b.offset += n

	return n
}

// WriteSizeWithFlag varint-encodes a record header at the cursor. Returns
// the encoded length, or 0 if the complete encoding does not fit. In the
// latter case trailing bytes may hold a truncated encoding, which readers
// skip over.
func (b *Block) WriteSizeWithFlag(size uint32, flag bool) int {
	n := WriteUint32WithFlag(size, flag, b.data[b.offset:])
	b.offset += n

	return n
}

// WriteFlagAt updates the tombstone bit of the record header at offset.
func (b *Block) WriteFlagAt(flag bool, offset int) {
	SetFlag(b.data[offset:], flag)
}

// ReadData copies up to min(n, Remaining()) bytes into dst[:n] and
// advances the cursor. Returns the number of bytes copied.
func (b *Block) ReadData(dst []byte) int {
	n := copy(dst, b.data[b.offset:])
	b.offset += n

	return n
}

// ReadSizeWithFlag decodes a record header at the cursor and advances past
// it. Returns 0 bytes consumed if the header is truncated at the end of
// the block; the next record then starts in the following block.
func (b *Block) ReadSizeWithFlag() (uint32, bool, int) {
	size, flag, n := ReadUint32WithFlag(b.data[b.offset:])
	b.offset += n

	return size, flag, n
}
