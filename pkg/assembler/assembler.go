// Package assembler assembles the 8086 subset understood by package vm.
//
// The accepted syntax is the one vm.Disassemble prints, plus labels:
//
//	bits 16
//	    mov cx, 3
//	top:
//	    add word [bx + si + 4], 1
//	    loop top
//
// Numeric branch operands are relative offsets from the end of the branch,
// exactly as the disassembler prints them, so listings re-assemble to the
// same bytes.
package assembler

import (
	"errors"
	"fmt"

	"github.com/akhildatla/sim86/pkg/vm"
)

// Error definitions
var (
	ErrUnexpectedToken      = errors.New("unexpected token")
	ErrUnsupportedDirective = errors.New("unsupported directive")
	ErrInvalidNumber        = errors.New("invalid number")
	ErrInvalidAddress       = errors.New("invalid memory operand")
	ErrUnknownMnemonic      = errors.New("unknown mnemonic")
	ErrInvalidOperands      = errors.New("invalid operands")
	ErrMissingSize          = errors.New("operation size not specified")
	ErrOutOfRange           = errors.New("value out of range")
	ErrUndefinedLabel       = errors.New("undefined label")
	ErrDuplicateLabel       = errors.New("duplicate label")
)

// Program is assembled machine code.
type Program struct {
	Code    []byte
	Labels  map[string]uint16 // label -> byte offset
	Offsets []uint16          // byte offset of each instruction
}

// Assemble assembles source into machine code.
func Assemble(source string) (*Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	a := &Assembler{}
	return a.assemble(asmProgram)
}

// Assembler encodes parsed instructions.
type Assembler struct {
	code []byte
}

// aluEncoding holds the opcode bases of one ALU mnemonic.
type aluEncoding struct {
	regMem    byte // oooooodw r/m <-> reg
	immAcc    byte // immediate to accumulator
	extension byte // reg field of the 100000sw group
}

var aluEncodings = map[string]aluEncoding{
	"add": {0x00, 0x04, 0b000},
	"sub": {0x28, 0x2C, 0b101},
	"cmp": {0x38, 0x3C, 0b111},
}

func (a *Assembler) assemble(program *AsmProgram) (*Program, error) {
	// Every instruction's length is independent of label values (branches
	// are always two bytes), so sizes are fixed in a first pass.
	offsets := make([]uint16, len(program.Instructions)+1)
	for i, inst := range program.Instructions {
		enc, err := a.encode(inst, 0, nil, true)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", inst.Line, err)
		}
		next := int(offsets[i]) + len(enc)
		if next > vm.MaxProgramSize {
			return nil, fmt.Errorf("line %d: %w", inst.Line, vm.ErrProgramTooLarge)
		}
		offsets[i+1] = uint16(next)
	}

	labels := make(map[string]uint16, len(program.Labels))
	for name, idx := range program.Labels {
		labels[name] = offsets[idx]
	}

	for i, inst := range program.Instructions {
		enc, err := a.encode(inst, offsets[i], labels, false)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", inst.Line, err)
		}
		a.code = append(a.code, enc...)
	}

	return &Program{
		Code:    a.code,
		Labels:  labels,
		Offsets: offsets[:len(program.Instructions)],
	}, nil
}

// encode encodes one instruction at offset. In sizing mode labels are not
// resolved.
func (a *Assembler) encode(inst AsmInstruction, offset uint16, labels map[string]uint16, sizing bool) ([]byte, error) {
	switch inst.Mnemonic {
	case "mov":
		return encodeMov(inst)
	case "add", "sub", "cmp":
		return encodeALU(inst, aluEncodings[inst.Mnemonic])
	case "hlt":
		if len(inst.Operands) != 0 {
			return nil, fmt.Errorf("%w: hlt takes no operands", ErrInvalidOperands)
		}
		return []byte{vm.HaltOpcode}, nil
	}

	op, ok := vm.BranchFromMnemonic(inst.Mnemonic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMnemonic, inst.Mnemonic)
	}
	return encodeBranch(op, inst, offset, labels, sizing)
}

// ===== mov =====

func encodeMov(inst AsmInstruction) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, fmt.Errorf("%w: mov takes 2 operands", ErrInvalidOperands)
	}
	dst, src := inst.Operands[0], inst.Operands[1]

	switch {
	case dst.Type == OperandReg && src.Type == OperandImm:
		w := wideBit(dst.Reg.Wide())
		data, err := immediate(src.Imm, dst.Reg.Wide())
		if err != nil {
			return nil, err
		}
		return append([]byte{0xB0 | w<<3 | dst.Reg.Encoding}, data...), nil

	case dst.Type == OperandReg && src.Type == OperandMem && isAccumulator(dst.Reg) && src.Base == vm.BaseDirect:
		addr, err := address(src.Disp)
		if err != nil {
			return nil, err
		}
		return append([]byte{0xA0 | wideBit(dst.Reg.Wide())}, addr...), nil

	case dst.Type == OperandMem && src.Type == OperandReg && isAccumulator(src.Reg) && dst.Base == vm.BaseDirect:
		addr, err := address(dst.Disp)
		if err != nil {
			return nil, err
		}
		return append([]byte{0xA2 | wideBit(src.Reg.Wide())}, addr...), nil

	case dst.Type == OperandMem && src.Type == OperandImm:
		wide, err := memoryWidth(inst.Size)
		if err != nil {
			return nil, err
		}
		modrm, err := encodeMemory(dst, 0)
		if err != nil {
			return nil, err
		}
		data, err := immediate(src.Imm, wide)
		if err != nil {
			return nil, err
		}
		out := append([]byte{0xC6 | wideBit(wide)}, modrm...)
		return append(out, data...), nil
	}

	return encodeRegMemReg(0x88, dst, src)
}

// ===== add / sub / cmp =====

func encodeALU(inst AsmInstruction, enc aluEncoding) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, fmt.Errorf("%w: %s takes 2 operands", ErrInvalidOperands, inst.Mnemonic)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	if src.Type != OperandImm {
		return encodeRegMemReg(enc.regMem, dst, src)
	}

	var wide bool
	var rm []byte
	switch dst.Type {
	case OperandReg:
		wide = dst.Reg.Wide()
		rm = []byte{0xC0 | enc.extension<<3 | dst.Reg.Encoding}
	case OperandMem:
		var err error
		if wide, err = memoryWidth(inst.Size); err != nil {
			return nil, err
		}
		if rm, err = encodeMemory(dst, enc.extension); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: immediate destination", ErrInvalidOperands)
	}

	if wide && fitsInt8(src.Imm) {
		out := append([]byte{0x83}, rm...)
		return append(out, byte(src.Imm)), nil
	}

	data, err := immediate(src.Imm, wide)
	if err != nil {
		return nil, err
	}
	if dst.Type == OperandReg && isAccumulator(dst.Reg) {
		return append([]byte{enc.immAcc | wideBit(wide)}, data...), nil
	}
	out := append([]byte{0x80 | wideBit(wide)}, rm...)
	return append(out, data...), nil
}

// encodeRegMemReg encodes the 6-bit "r/m <-> reg" form. The reg field holds
// the register operand; d is set when it is the destination.
func encodeRegMemReg(base byte, dst, src Operand) ([]byte, error) {
	switch {
	case dst.Type == OperandReg && src.Type == OperandReg:
		if dst.Reg.Wide() != src.Reg.Wide() {
			return nil, fmt.Errorf("%w: operand sizes differ", ErrInvalidOperands)
		}
		return []byte{base | wideBit(dst.Reg.Wide()), 0xC0 | src.Reg.Encoding<<3 | dst.Reg.Encoding}, nil

	case dst.Type == OperandReg && src.Type == OperandMem:
		modrm, err := encodeMemory(src, dst.Reg.Encoding)
		if err != nil {
			return nil, err
		}
		return append([]byte{base | 0x02 | wideBit(dst.Reg.Wide())}, modrm...), nil

	case dst.Type == OperandMem && src.Type == OperandReg:
		modrm, err := encodeMemory(dst, src.Reg.Encoding)
		if err != nil {
			return nil, err
		}
		return append([]byte{base | wideBit(src.Reg.Wide())}, modrm...), nil
	}
	return nil, fmt.Errorf("%w: unsupported operand combination", ErrInvalidOperands)
}

// encodeMemory returns the mod/reg/rm byte and displacement for a memory
// operand. The smallest displacement form is chosen; [bp] alone needs an
// explicit zero byte since mod 00 rm 110 is the direct form.
func encodeMemory(mem Operand, reg byte) ([]byte, error) {
	if mem.Base == vm.BaseDirect {
		addr, err := address(mem.Disp)
		if err != nil {
			return nil, err
		}
		return append([]byte{reg<<3 | 0b110}, addr...), nil
	}
	if mem.Disp < -32768 || mem.Disp > 65535 {
		return nil, fmt.Errorf("%w: displacement %d", ErrOutOfRange, mem.Disp)
	}

	rm := byte(mem.Base)
	switch {
	case mem.Disp == 0 && mem.Base != vm.BaseBP:
		return []byte{reg<<3 | rm}, nil
	case fitsInt8(mem.Disp):
		return []byte{0x40 | reg<<3 | rm, byte(mem.Disp)}, nil
	default:
		d := uint16(mem.Disp)
		return []byte{0x80 | reg<<3 | rm, byte(d), byte(d >> 8)}, nil
	}
}

// ===== branches =====

func encodeBranch(op vm.Operation, inst AsmInstruction, offset uint16, labels map[string]uint16, sizing bool) ([]byte, error) {
	opcode, _ := op.Opcode()
	if len(inst.Operands) != 1 {
		return nil, fmt.Errorf("%w: %s takes 1 operand", ErrInvalidOperands, inst.Mnemonic)
	}
	if sizing {
		return []byte{opcode, 0}, nil
	}

	target := inst.Operands[0]
	var rel int64
	switch target.Type {
	case OperandImm:
		rel = target.Imm
	case OperandLabel:
		addr, ok := labels[target.Label]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedLabel, target.Label)
		}
		rel = int64(addr) - (int64(offset) + 2)
	default:
		return nil, fmt.Errorf("%w: %s needs a label or offset", ErrInvalidOperands, inst.Mnemonic)
	}
	if rel < -128 || rel > 127 {
		return nil, fmt.Errorf("%w: branch offset %d", ErrOutOfRange, rel)
	}
	return []byte{opcode, byte(int8(rel))}, nil
}

// ===== helpers =====

func wideBit(wide bool) byte {
	if wide {
		return 1
	}
	return 0
}

func isAccumulator(r vm.Register) bool {
	return r.Encoding == vm.RegAX && r.Access != vm.AccessHigh
}

// fitsInt8 reports whether v, read as a 16-bit value, survives sign
// extension from a byte.
func fitsInt8(v int64) bool {
	if v > 0x7F && v <= 0xFFFF {
		v = int64(int16(uint16(v)))
	}
	return v >= -128 && v <= 127
}

func memoryWidth(size int) (bool, error) {
	switch size {
	case 1:
		return false, nil
	case 2:
		return true, nil
	default:
		return false, ErrMissingSize
	}
}

// immediate encodes v as one or two little-endian bytes. Both signed and
// unsigned spellings of a value are accepted.
func immediate(v int64, wide bool) ([]byte, error) {
	if wide {
		if v < -32768 || v > 0xFFFF {
			return nil, fmt.Errorf("%w: %d does not fit in a word", ErrOutOfRange, v)
		}
		u := uint16(v)
		return []byte{byte(u), byte(u >> 8)}, nil
	}
	if v < -128 || v > 0xFF {
		return nil, fmt.Errorf("%w: %d does not fit in a byte", ErrOutOfRange, v)
	}
	return []byte{byte(v)}, nil
}

func address(v int64) ([]byte, error) {
	if v < 0 || v > 0xFFFF {
		return nil, fmt.Errorf("%w: address %d", ErrOutOfRange, v)
	}
	return []byte{byte(v), byte(v >> 8)}, nil
}
