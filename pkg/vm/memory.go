package vm

// MemorySize is the size of the flat, unsegmented address space.
const MemorySize = 1 << 16

// MemoryImage is the machine memory. Word accesses are little-endian.
// A word access at the last address runs past the image and panics with
// an index error.
type MemoryImage struct {
	bytes []byte
}

// NewMemoryImage allocates a zeroed 64 KiB image.
func NewMemoryImage() *MemoryImage {
	return &MemoryImage{bytes: make([]byte, MemorySize)}
}

// Bytes exposes the backing array. Callers may read it for dumps.
func (m *MemoryImage) Bytes() []byte {
	return m.bytes
}

// Read reads one byte, or a little-endian word when wide is set.
func (m *MemoryImage) Read(addr uint16, wide bool) uint16 {
	a := int(addr)
	if wide {
		return uint16(m.bytes[a]) | uint16(m.bytes[a+1])<<8
	}
	return uint16(m.bytes[a])
}

// Write stores the low byte of v, or the whole word when wide is set.
func (m *MemoryImage) Write(addr uint16, v uint16, wide bool) {
	a := int(addr)
	if wide {
		_ = m.bytes[a+1]
		m.bytes[a] = byte(v)
		m.bytes[a+1] = byte(v >> 8)
		return
	}
	m.bytes[a] = byte(v)
}

// Load copies data into the image at offset 0 and clears the rest.
func (m *MemoryImage) Load(data []byte) {
	n := copy(m.bytes, data)
	for i := n; i < len(m.bytes); i++ {
		m.bytes[i] = 0
	}
}
