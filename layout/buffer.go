package layout

import (
	"encoding/binary"
	"math"
)

// Buffer is a cursor over a flat slot buffer. Encoding pushes slots left to
// right; decoding reads them back in the same order. All slots are stored
// little-endian.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer allocates a buffer with room for the given number of slots.
func NewBuffer(slots int) *Buffer {
	return &Buffer{data: make([]byte, slots*SlotSize)}
}

// BufferOver wraps existing bytes, which must be a multiple of SlotSize
// long, for reading.
func BufferOver(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Reset rewinds the cursor without clearing the underlying bytes.
func (b *Buffer) Reset() { b.pos = 0 }

// Bytes returns the underlying storage.
func (b *Buffer) Bytes() []byte { return b.data }

// Remaining returns the number of unread slots.
func (b *Buffer) Remaining() int { return (len(b.data) - b.pos) / SlotSize }

// PushFloat appends one float64 slot.
func (b *Buffer) PushFloat(f float64) {
	binary.LittleEndian.PutUint64(b.data[b.pos:], math.Float64bits(f))
	b.pos += SlotSize
}

// PushInt appends one i64 slot.
func (b *Buffer) PushInt(i int64) {
	binary.LittleEndian.PutUint64(b.data[b.pos:], uint64(i))
	b.pos += SlotSize
}

// ReadFloat consumes one slot as a float64.
func (b *Buffer) ReadFloat() float64 {
	f := math.Float64frombits(binary.LittleEndian.Uint64(b.data[b.pos:]))
	b.pos += SlotSize
	return f
}

// ReadInt consumes one slot as an i64.
func (b *Buffer) ReadInt() int64 {
	i := int64(binary.LittleEndian.Uint64(b.data[b.pos:]))
	b.pos += SlotSize
	return i
}
