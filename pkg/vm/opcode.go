package vm

// Operation identifies a mnemonic together with its addressing form.
type Operation uint8

const (
	OpNone Operation = iota

	// ===== Data Transfer =====
	OpMovRegMemReg // mov r/m <-> reg
	OpMovImmRegMem // mov imm -> r/m
	OpMovImmReg    // mov imm -> reg
	OpMovMemAcc    // mov [addr] -> acc
	OpMovAccMem    // mov acc -> [addr]

	// ===== Arithmetic =====
	OpAddRegMemReg // add r/m <-> reg
	OpAddImmRegMem // add imm -> r/m
	OpAddImmAcc    // add imm -> acc
	OpSubRegMemReg // sub r/m <-> reg
	OpSubImmRegMem // sub imm -> r/m
	OpSubImmAcc    // sub imm -> acc
	OpCmpRegMemReg // cmp r/m <-> reg
	OpCmpImmRegMem // cmp imm -> r/m
	OpCmpImmAcc    // cmp imm -> acc

	// ===== Conditional Jumps =====
	OpJe
	OpJl
	OpJle
	OpJb
	OpJbe
	OpJp
	OpJo
	OpJs
	OpJne
	OpJnl
	OpJg
	OpJnb
	OpJa
	OpJnp
	OpJno
	OpJns
	OpJcxz

	// ===== Loops =====
	OpLoop
	OpLoopz
	OpLoopnz

	// ===== Control =====
	OpHlt
)

var mnemonics = [...]string{
	OpNone:         "",
	OpMovRegMemReg: "mov",
	OpMovImmRegMem: "mov",
	OpMovImmReg:    "mov",
	OpMovMemAcc:    "mov",
	OpMovAccMem:    "mov",
	OpAddRegMemReg: "add",
	OpAddImmRegMem: "add",
	OpAddImmAcc:    "add",
	OpSubRegMemReg: "sub",
	OpSubImmRegMem: "sub",
	OpSubImmAcc:    "sub",
	OpCmpRegMemReg: "cmp",
	OpCmpImmRegMem: "cmp",
	OpCmpImmAcc:    "cmp",
	OpJe:           "je",
	OpJl:           "jl",
	OpJle:          "jle",
	OpJb:           "jb",
	OpJbe:          "jbe",
	OpJp:           "jp",
	OpJo:           "jo",
	OpJs:           "js",
	OpJne:          "jne",
	OpJnl:          "jnl",
	OpJg:           "jg",
	OpJnb:          "jnb",
	OpJa:           "ja",
	OpJnp:          "jnp",
	OpJno:          "jno",
	OpJns:          "jns",
	OpJcxz:         "jcxz",
	OpLoop:         "loop",
	OpLoopz:        "loopz",
	OpLoopnz:       "loopnz",
	OpHlt:          "hlt",
}

// branchOpcodes maps every single-byte branch and control instruction to
// its opcode byte.
var branchOpcodes = map[Operation]byte{
	OpJo:     0x70,
	OpJno:    0x71,
	OpJb:     0x72,
	OpJnb:    0x73,
	OpJe:     0x74,
	OpJne:    0x75,
	OpJbe:    0x76,
	OpJa:     0x77,
	OpJs:     0x78,
	OpJns:    0x79,
	OpJp:     0x7A,
	OpJnp:    0x7B,
	OpJl:     0x7C,
	OpJnl:    0x7D,
	OpJle:    0x7E,
	OpJg:     0x7F,
	OpLoopnz: 0xE0,
	OpLoopz:  0xE1,
	OpLoop:   0xE2,
	OpJcxz:   0xE3,
	OpHlt:    0xF4,
}

// Mnemonic returns the assembler mnemonic of the operation.
func (op Operation) Mnemonic() string {
	if int(op) < len(mnemonics) {
		return mnemonics[op]
	}
	return ""
}

// String returns a human-readable name for the operation.
func (op Operation) String() string {
	if m := op.Mnemonic(); m != "" {
		return m
	}
	return "UNKNOWN"
}

// IsBranch reports whether the operation takes a relative label offset.
func (op Operation) IsBranch() bool {
	return op >= OpJe && op <= OpLoopnz
}

// IsLoop reports whether the operation is one of the CX-counting loops.
func (op Operation) IsLoop() bool {
	return op == OpLoop || op == OpLoopz || op == OpLoopnz
}

// Opcode returns the opcode byte of a single-byte-opcode branch or hlt.
func (op Operation) Opcode() (byte, bool) {
	b, ok := branchOpcodes[op]
	return b, ok
}

// BranchFromMnemonic looks up a branch, loop or hlt operation by mnemonic.
// Mnemonics shared by several addressing forms (mov, add, sub, cmp) are not
// resolved here since the form depends on the operands.
func BranchFromMnemonic(s string) (Operation, bool) {
	for op := range branchOpcodes {
		if op.Mnemonic() == s {
			return op, true
		}
	}
	return OpNone, false
}
