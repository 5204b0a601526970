package vm

// registerNames is indexed by [encoding][wide].
var registerNames = [8][2]string{
	{"al", "ax"},
	{"cl", "cx"},
	{"dl", "dx"},
	{"bl", "bx"},
	{"ah", "sp"},
	{"ch", "bp"},
	{"dh", "si"},
	{"bh", "di"},
}

// RegisterName returns the assembler name for a 3-bit encoding and width.
func RegisterName(encoding uint8, wide bool) string {
	w := 0
	if wide {
		w = 1
	}
	return registerNames[encoding&0x7][w]
}

// CellName returns the name of the 16-bit cell i (ax, cx, ...).
func CellName(i uint8) string {
	return registerNames[i&0x7][1]
}

// LookupRegister resolves an assembler register name to its operand.
func LookupRegister(name string) (Register, bool) {
	for enc, pair := range registerNames {
		if pair[1] == name {
			return NewRegister(uint8(enc), true), true
		}
		if pair[0] == name {
			return NewRegister(uint8(enc), false), true
		}
	}
	return Register{}, false
}

// ResolveOperand turns the mod and r/m fields plus an already-read
// displacement into a register or memory operand.
func ResolveOperand(mode, rm uint8, displacement uint16, wide bool) Operand {
	if mode == 0b11 {
		return NewRegister(rm, wide)
	}
	return Memory{Address: NewEffectiveAddress(mode, rm, displacement)}
}

// NewEffectiveAddress builds the effective address for a memory mode.
// mod 00 with r/m 110 is the direct-address form.
func NewEffectiveAddress(mode, rm uint8, displacement uint16) EffectiveAddress {
	if mode == 0b00 && rm == 0b110 {
		return EffectiveAddress{Base: BaseDirect, Displacement: displacement}
	}
	return EffectiveAddress{Base: AddressBase(rm & 0x7), Displacement: displacement}
}

// Resolve computes the 16-bit address against the current registers.
// The sum wraps at 64 KiB.
func (ea EffectiveAddress) Resolve(rf *RegisterFile) uint16 {
	addr := ea.Displacement
	for _, cell := range ea.Base.Registers() {
		addr += rf.Cell(cell)
	}
	return addr
}

// displacementLength returns how many displacement bytes follow the
// mod/reg/rm byte.
func displacementLength(mode, rm uint8) int {
	switch {
	case mode == 0b10, mode == 0b00 && rm == 0b110:
		return 2
	case mode == 0b01:
		return 1
	default:
		return 0
	}
}
