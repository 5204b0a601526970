package vm

import "strings"

const NumRegisters = 8 // ax cx dx bx sp bp si di

// Register cell indices, in 8086 reg-field encoding order.
const (
	RegAX uint8 = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
)

// RegisterFile holds the eight 16-bit general registers.
//
// Byte registers are views onto the low or high half of the first four
// cells. Writing one half never disturbs the other.
type RegisterFile struct {
	cells [NumRegisters]uint16
}

// NewRegisterFile creates a new register file with all registers zeroed.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// Reset clears all registers.
func (rf *RegisterFile) Reset() {
	for i := range rf.cells {
		rf.cells[i] = 0
	}
}

// Cell returns the full 16-bit value of cell i.
func (rf *RegisterFile) Cell(i uint8) uint16 {
	return rf.cells[i]
}

// SetCell overwrites the full 16-bit value of cell i.
func (rf *RegisterFile) SetCell(i uint8, v uint16) {
	rf.cells[i] = v
}

// Cells returns a copy of all eight cells.
func (rf *RegisterFile) Cells() [NumRegisters]uint16 {
	return rf.cells
}

// Read returns the value visible through r's access width.
func (rf *RegisterFile) Read(r Register) uint16 {
	v := rf.cells[r.Cell()]
	switch r.Access {
	case AccessLow:
		return v & 0x00FF
	case AccessHigh:
		return v >> 8
	default:
		return v
	}
}

// Write stores v through r's access width. Byte accesses keep the
// other half of the cell intact.
func (rf *RegisterFile) Write(r Register, v uint16) {
	i := r.Cell()
	switch r.Access {
	case AccessLow:
		rf.cells[i] = rf.cells[i]&0xFF00 | v&0x00FF
	case AccessHigh:
		rf.cells[i] = rf.cells[i]&0x00FF | (v&0x00FF)<<8
	default:
		rf.cells[i] = v
	}
}

// Flag is a single condition flag.
type Flag uint16

// Flag constants. Bit positions follow the 8086 FLAGS register so that
// carry, parity, overflow etc. can be added without reshaping Flags.
const (
	FlagZero Flag = 1 << 6
	FlagSign Flag = 1 << 7
)

// flagOrder fixes the rendering order of flag letters.
var flagOrder = []struct {
	flag   Flag
	letter byte
}{
	{FlagZero, 'Z'},
	{FlagSign, 'S'},
}

// Flags is the set of condition flags currently raised.
type Flags uint16

// Has reports whether f is set.
func (fs Flags) Has(f Flag) bool {
	return fs&Flags(f) != 0
}

// With returns the set with f raised or cleared.
func (fs Flags) With(f Flag, on bool) Flags {
	if on {
		return fs | Flags(f)
	}
	return fs &^ Flags(f)
}

// String renders raised flags as letters, e.g. "ZS". The empty set is "".
func (fs Flags) String() string {
	var sb strings.Builder
	for _, fl := range flagOrder {
		if fs.Has(fl.flag) {
			sb.WriteByte(fl.letter)
		}
	}
	return sb.String()
}

// ParseFlags is the inverse of Flags.String. Unknown letters are ignored.
func ParseFlags(s string) Flags {
	var fs Flags
	for i := 0; i < len(s); i++ {
		for _, fl := range flagOrder {
			if s[i] == fl.letter {
				fs = fs.With(fl.flag, true)
			}
		}
	}
	return fs
}

// arithmeticFlags computes zero and sign from a value already truncated to
// the width it was stored with.
func arithmeticFlags(prev Flags, stored uint16, wide bool) Flags {
	signBit := uint16(0x80)
	if wide {
		signBit = 0x8000
	}
	return prev.With(FlagZero, stored == 0).With(FlagSign, stored&signBit != 0)
}
