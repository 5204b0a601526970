package vm

// InstructionFlags carries decode-time bits needed by the formatter and
// the executor.
type InstructionFlags uint8

const (
	FlagWide        InstructionFlags = 1 << iota // 16-bit operation
	FlagDestination                              // reg field is the destination
	FlagSignExtend                               // 8-bit immediate sign-extended to 16 bits
)

// Has reports whether all bits of f are set.
func (f InstructionFlags) Has(bit InstructionFlags) bool {
	return f&bit == bit
}

// Instruction is one decoded 8086 instruction.
//
// Operands[0] is the destination and Operands[1] the source. Unused slots
// are nil. Size is the exact number of bytes consumed from the stream.
type Instruction struct {
	Op       Operation
	Operands [2]Operand
	Flags    InstructionFlags
	Size     uint8
}

// Wide reports whether the instruction operates on 16-bit values.
func (i Instruction) Wide() bool {
	return i.Flags.Has(FlagWide)
}

// Dst returns the destination operand, or nil.
func (i Instruction) Dst() Operand {
	return i.Operands[0]
}

// Src returns the source operand, or nil.
func (i Instruction) Src() Operand {
	return i.Operands[1]
}

// Operand is one of Register, Memory, Immediate or LabelOffset.
type Operand interface {
	isOperand()
}

// RegisterAccess selects which part of a register cell an operand sees.
type RegisterAccess uint8

const (
	AccessFull RegisterAccess = iota
	AccessLow
	AccessHigh
)

func (a RegisterAccess) String() string {
	switch a {
	case AccessLow:
		return "low"
	case AccessHigh:
		return "high"
	default:
		return "full"
	}
}

// Register is a register operand. Encoding is the 3-bit reg or r/m field.
type Register struct {
	Encoding uint8
	Access   RegisterAccess
}

// NewRegister builds the register operand named by a 3-bit encoding. Byte
// encodings 4..7 address the high half of cells 0..3.
func NewRegister(encoding uint8, wide bool) Register {
	encoding &= 0x7
	switch {
	case wide:
		return Register{Encoding: encoding, Access: AccessFull}
	case encoding&0x4 != 0:
		return Register{Encoding: encoding, Access: AccessHigh}
	default:
		return Register{Encoding: encoding, Access: AccessLow}
	}
}

// Cell returns the register file index backing the operand.
func (r Register) Cell() uint8 {
	if r.Access == AccessFull {
		return r.Encoding & 0x7
	}
	return r.Encoding & 0x3
}

// Wide reports whether the operand addresses a full 16-bit cell.
func (r Register) Wide() bool {
	return r.Access == AccessFull
}

// Memory is a memory operand.
type Memory struct {
	Address EffectiveAddress
}

// Immediate is an immediate data operand.
type Immediate struct {
	Value uint16
}

// LabelOffset is a signed branch displacement relative to the address of
// the following instruction.
type LabelOffset int8

func (Register) isOperand()    {}
func (Memory) isOperand()      {}
func (Immediate) isOperand()   {}
func (LabelOffset) isOperand() {}

// AddressBase selects the registers summed into an effective address.
type AddressBase uint8

// Calculated bases in r/m order, followed by the direct-address form.
const (
	BaseBXSI AddressBase = iota
	BaseBXDI
	BaseBPSI
	BaseBPDI
	BaseSI
	BaseDI
	BaseBP
	BaseBX
	BaseDirect
)

// baseRegisters lists the register cells summed for each calculated base.
var baseRegisters = [...][]uint8{
	BaseBXSI: {RegBX, RegSI},
	BaseBXDI: {RegBX, RegDI},
	BaseBPSI: {RegBP, RegSI},
	BaseBPDI: {RegBP, RegDI},
	BaseSI:   {RegSI},
	BaseDI:   {RegDI},
	BaseBP:   {RegBP},
	BaseBX:   {RegBX},
}

// Registers returns the cells summed for the base. Direct has none.
func (b AddressBase) Registers() []uint8 {
	if b >= BaseDirect {
		return nil
	}
	return baseRegisters[b]
}

// EffectiveAddress is either a direct 16-bit address (Base == BaseDirect,
// Displacement holds the address) or a base register combination plus a
// displacement.
type EffectiveAddress struct {
	Base         AddressBase
	Displacement uint16
}

// Direct reports whether the address is the direct form.
func (ea EffectiveAddress) Direct() bool {
	return ea.Base == BaseDirect
}
