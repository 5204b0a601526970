package vm

import (
	"math/bits"
)

// Bitmap is a fixed-length bit vector. The VM uses one bit per memory
// address to record which bytes were fetched as instructions.
type Bitmap struct {
	bits   []uint64
	length int
}

// NewBitmap creates a new bitmap with all bits initially clear (0).
func NewBitmap(length int) *Bitmap {
	numWords := (length + 63) / 64
	return &Bitmap{
		bits:   make([]uint64, numWords),
		length: length,
	}
}

// Len returns the length of the bitmap.
func (b *Bitmap) Len() int {
	return b.length
}

// Set sets the bit at index i to 1. Out of range indices are ignored.
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.length {
		return
	}
	b.bits[i/64] |= uint64(1) << (i % 64)
}

// SetRange sets bits [from, from+n).
func (b *Bitmap) SetRange(from, n int) {
	for i := from; i < from+n; i++ {
		b.Set(i)
	}
}

// Reset clears every bit.
func (b *Bitmap) Reset() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

// IsSet returns true if the bit at index i is 1.
func (b *Bitmap) IsSet(i int) bool {
	if i < 0 || i >= b.length {
		return false
	}
	return (b.bits[i/64] & (uint64(1) << (i % 64))) != 0
}

// PopCount returns the number of bits set to 1.
func (b *Bitmap) PopCount() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// Clone creates a copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	result := NewBitmap(b.length)
	copy(result.bits, b.bits)
	return result
}

// Span is a half-open run [Start, End) of set bits.
type Span struct {
	Start int
	End   int
}

// Spans returns the runs of consecutive set bits in ascending order.
func (b *Bitmap) Spans() []Span {
	var spans []Span
	start := -1
	for i := 0; i < b.length; i++ {
		switch set := b.IsSet(i); {
		case set && start < 0:
			start = i
		case !set && start >= 0:
			spans = append(spans, Span{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, Span{start, b.length})
	}
	return spans
}
