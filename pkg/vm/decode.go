package vm

// ===== Decision Table =====

// decodeRule matches opcode bytes whose bits under mask equal pattern.
type decodeRule struct {
	bits    int // significant opcode bits, for diagnostics and ordering
	mask    byte
	pattern byte
	decode  func(r *byteReader, opcode byte) (Instruction, bool)
}

func (rule decodeRule) matches(opcode byte) bool {
	return opcode&rule.mask == rule.pattern
}

// decodeTable is ordered by decreasing specificity class: every 4-bit
// pattern is tried before any 6-bit one, then 7-bit, then exact bytes.
// The first match wins and its verdict is final.
var decodeTable = buildDecodeTable()

func buildDecodeTable() []decodeRule {
	rules := []decodeRule{
		// 1011 w reg
		{4, 0xF0, 0xB0, decodeMovImmReg},

		// 100010 d w, 000000 d w, 001010 d w, 001110 d w
		{6, 0xFC, 0x88, regMemReg(OpMovRegMemReg)},
		{6, 0xFC, 0x00, regMemReg(OpAddRegMemReg)},
		{6, 0xFC, 0x28, regMemReg(OpSubRegMemReg)},
		{6, 0xFC, 0x38, regMemReg(OpCmpRegMemReg)},
		// 100000 s w, sub-dispatched on the second byte
		{6, 0xFC, 0x80, decodeALUImmRegMem},

		// 1100011 w
		{7, 0xFE, 0xC6, decodeMovImmRegMem},
		// 1010000 w, 1010001 w
		{7, 0xFE, 0xA0, decodeMovMemAcc},
		{7, 0xFE, 0xA2, decodeMovAccMem},
		// 0000010 w, 0010110 w, 0011110 w
		{7, 0xFE, 0x04, immAcc(OpAddImmAcc)},
		{7, 0xFE, 0x2C, immAcc(OpSubImmAcc)},
		{7, 0xFE, 0x3C, immAcc(OpCmpImmAcc)},
	}

	for op, b := range branchOpcodes {
		op := op
		if op == OpHlt {
			rules = append(rules, decodeRule{8, 0xFF, b, decodeHlt})
			continue
		}
		rules = append(rules, decodeRule{8, 0xFF, b, branch(op)})
	}
	return rules
}

// Decode decodes the instruction starting at offset.
//
// The boolean is false when no opcode class matches, or when the stream
// ends before the instruction is complete. Both are ordinary outcomes
// that callers handle by policy.
func Decode(code []byte, offset int) (Instruction, bool) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, false
	}
	opcode := code[offset]
	for _, rule := range decodeTable {
		if !rule.matches(opcode) {
			continue
		}
		r := &byteReader{code: code, start: offset, pos: offset + 1}
		inst, ok := rule.decode(r, opcode)
		if !ok || r.truncated {
			return Instruction{}, false
		}
		inst.Size = uint8(r.consumed())
		return inst, true
	}
	return Instruction{}, false
}

// ===== Byte Reader =====

// byteReader consumes bytes in stream order. Reading past the end marks
// the reader truncated and yields zeros.
type byteReader struct {
	code      []byte
	start     int
	pos       int
	truncated bool
}

func (r *byteReader) next() byte {
	if r.pos >= len(r.code) {
		r.truncated = true
		return 0
	}
	b := r.code[r.pos]
	r.pos++
	return b
}

// word reads a little-endian 16-bit value.
func (r *byteReader) word() uint16 {
	lo := r.next()
	hi := r.next()
	return uint16(hi)<<8 | uint16(lo)
}

// data reads one or two bytes of immediate data.
func (r *byteReader) data(wide bool) uint16 {
	if wide {
		return r.word()
	}
	return uint16(r.next())
}

// displacement reads the displacement for mod/rm. A one-byte
// displacement is sign-extended to 16 bits.
func (r *byteReader) displacement(mode, rm uint8) uint16 {
	switch displacementLength(mode, rm) {
	case 2:
		return r.word()
	case 1:
		return uint16(int16(int8(r.next())))
	default:
		return 0
	}
}

func (r *byteReader) consumed() int {
	return r.pos - r.start
}

// modRegRM splits an addressing byte into its fields.
func modRegRM(b byte) (mode, reg, rm uint8) {
	return b >> 6, (b >> 3) & 0x7, b & 0x7
}

func widthFlags(wide bool) InstructionFlags {
	if wide {
		return FlagWide
	}
	return 0
}

// ===== Class Decoders =====

func decodeMovImmReg(r *byteReader, opcode byte) (Instruction, bool) {
	wide := opcode&0x08 != 0
	reg := NewRegister(opcode&0x7, wide)
	data := r.data(wide)
	return Instruction{
		Op:       OpMovImmReg,
		Operands: [2]Operand{reg, Immediate{Value: data}},
		Flags:    widthFlags(wide),
	}, true
}

func regMemReg(op Operation) func(*byteReader, byte) (Instruction, bool) {
	return func(r *byteReader, opcode byte) (Instruction, bool) {
		toReg := opcode&0x02 != 0
		wide := opcode&0x01 != 0
		mode, regField, rm := modRegRM(r.next())
		disp := r.displacement(mode, rm)

		reg := NewRegister(regField, wide)
		regMem := ResolveOperand(mode, rm, disp, wide)

		flags := widthFlags(wide)
		operands := [2]Operand{regMem, reg}
		if toReg {
			flags |= FlagDestination
			operands = [2]Operand{reg, regMem}
		}
		return Instruction{Op: op, Operands: operands, Flags: flags}, true
	}
}

// aluImmOps maps bits 5..3 of the second byte of an 100000sw instruction.
var aluImmOps = map[uint8]Operation{
	0b000: OpAddImmRegMem,
	0b101: OpSubImmRegMem,
	0b111: OpCmpImmRegMem,
}

func decodeALUImmRegMem(r *byteReader, opcode byte) (Instruction, bool) {
	signExtend := opcode&0x02 != 0
	wide := opcode&0x01 != 0
	mode, sub, rm := modRegRM(r.next())
	op, ok := aluImmOps[sub]
	if !ok {
		return Instruction{}, false
	}
	disp := r.displacement(mode, rm)
	data := r.data(wide && !signExtend)
	if wide && signExtend {
		data = uint16(int16(int8(data)))
	}

	flags := widthFlags(wide)
	if signExtend {
		flags |= FlagSignExtend
	}
	return Instruction{
		Op:       op,
		Operands: [2]Operand{ResolveOperand(mode, rm, disp, wide), Immediate{Value: data}},
		Flags:    flags,
	}, true
}

func decodeMovImmRegMem(r *byteReader, opcode byte) (Instruction, bool) {
	wide := opcode&0x01 != 0
	mode, _, rm := modRegRM(r.next())
	disp := r.displacement(mode, rm)
	data := r.data(wide)
	return Instruction{
		Op:       OpMovImmRegMem,
		Operands: [2]Operand{ResolveOperand(mode, rm, disp, wide), Immediate{Value: data}},
		Flags:    widthFlags(wide),
	}, true
}

func decodeMovMemAcc(r *byteReader, opcode byte) (Instruction, bool) {
	wide := opcode&0x01 != 0
	addr := r.word()
	mem := Memory{Address: EffectiveAddress{Base: BaseDirect, Displacement: addr}}
	return Instruction{
		Op:       OpMovMemAcc,
		Operands: [2]Operand{NewRegister(RegAX, wide), mem},
		Flags:    widthFlags(wide) | FlagDestination,
	}, true
}

func decodeMovAccMem(r *byteReader, opcode byte) (Instruction, bool) {
	wide := opcode&0x01 != 0
	addr := r.word()
	mem := Memory{Address: EffectiveAddress{Base: BaseDirect, Displacement: addr}}
	return Instruction{
		Op:       OpMovAccMem,
		Operands: [2]Operand{mem, NewRegister(RegAX, wide)},
		Flags:    widthFlags(wide),
	}, true
}

func immAcc(op Operation) func(*byteReader, byte) (Instruction, bool) {
	return func(r *byteReader, opcode byte) (Instruction, bool) {
		wide := opcode&0x01 != 0
		data := r.data(wide)
		return Instruction{
			Op:       op,
			Operands: [2]Operand{NewRegister(RegAX, wide), Immediate{Value: data}},
			Flags:    widthFlags(wide),
		}, true
	}
}

func branch(op Operation) func(*byteReader, byte) (Instruction, bool) {
	return func(r *byteReader, _ byte) (Instruction, bool) {
		offset := LabelOffset(int8(r.next()))
		return Instruction{Op: op, Operands: [2]Operand{offset, nil}}, true
	}
}

func decodeHlt(_ *byteReader, _ byte) (Instruction, bool) {
	return Instruction{Op: OpHlt}, true
}
