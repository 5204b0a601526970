package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// UnrecognizedInstruction is printed in listings in place of bytes that do
// not decode.
const UnrecognizedInstruction = "unrecognized instruction"

// String renders the instruction as assembler text, e.g. "mov cx, 12".
func (i Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.Op.Mnemonic())

	dst, src := i.Operands[0], i.Operands[1]
	if dst == nil {
		return sb.String()
	}
	sb.WriteByte(' ')
	sb.WriteString(FormatOperand(dst))
	if src == nil {
		return sb.String()
	}
	sb.WriteString(", ")
	if _, isMem := dst.(Memory); isMem {
		if _, isImm := src.(Immediate); isImm {
			if i.Wide() {
				sb.WriteString("word ")
			} else {
				sb.WriteString("byte ")
			}
		}
	}
	sb.WriteString(FormatOperand(src))
	return sb.String()
}

// FormatOperand renders a single operand.
func FormatOperand(op Operand) string {
	switch o := op.(type) {
	case Register:
		return RegisterName(o.Encoding, o.Wide())
	case Memory:
		return o.Address.String()
	case Immediate:
		return strconv.FormatUint(uint64(o.Value), 10)
	case LabelOffset:
		return strconv.Itoa(int(o))
	case nil:
		return ""
	default:
		panic(fmt.Sprintf("vm: unknown operand type %T", op))
	}
}

func (b AddressBase) String() string {
	switch b {
	case BaseBXSI:
		return "bx + si"
	case BaseBXDI:
		return "bx + di"
	case BaseBPSI:
		return "bp + si"
	case BaseBPDI:
		return "bp + di"
	case BaseSI:
		return "si"
	case BaseDI:
		return "di"
	case BaseBP:
		return "bp"
	case BaseBX:
		return "bx"
	default:
		return ""
	}
}

// String renders the address as "[1000]", "[bx + si]" or "[bp - 4]".
//
// The sign of the displacement comes from the high bit of its narrowest
// non-zero byte, and the magnitude is always printed positive.
func (ea EffectiveAddress) String() string {
	if ea.Direct() {
		return "[" + strconv.FormatUint(uint64(ea.Displacement), 10) + "]"
	}
	if ea.Displacement == 0 {
		return "[" + ea.Base.String() + "]"
	}
	sign, magnitude := splitDisplacement(ea.Displacement)
	return fmt.Sprintf("[%s %c %d]", ea.Base, sign, magnitude)
}

func splitDisplacement(d uint16) (sign byte, magnitude uint16) {
	hi, lo := byte(d>>8), byte(d)
	if hi == 0 {
		if lo&0x80 != 0 {
			return '-', uint16(-lo)
		}
		return '+', uint16(lo)
	}
	if hi&0x80 != 0 {
		return '-', -d
	}
	return '+', d
}

// ===== Listings =====

// Disassemble returns the listing of code as a string.
func Disassemble(code []byte) string {
	var sb strings.Builder
	_ = DisassembleTo(&sb, code)
	return sb.String()
}

// DisassembleTo writes a "bits 16" header and one line per instruction.
// Bytes that do not decode are reported as UnrecognizedInstruction and
// skipped one at a time. Decoding stops at the end of the buffer.
func DisassembleTo(w io.Writer, code []byte) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "bits 16")
	for offset := 0; offset < len(code); {
		inst, ok := Decode(code, offset)
		if !ok {
			fmt.Fprintln(bw, UnrecognizedInstruction)
			offset++
			continue
		}
		fmt.Fprintln(bw, inst.String())
		offset += int(inst.Size)
	}
	return bw.Flush()
}

// Listing is one decoded line of a program.
type Listing struct {
	Offset      int
	Bytes       []byte
	Instruction Instruction
	Valid       bool
}

// String renders the line as "0003  b9 0c 00  mov cx, 12".
func (l Listing) String() string {
	hex := make([]string, len(l.Bytes))
	for i, b := range l.Bytes {
		hex[i] = fmt.Sprintf("%02x", b)
	}
	text := UnrecognizedInstruction
	if l.Valid {
		text = l.Instruction.String()
	}
	return fmt.Sprintf("%04x  %-18s %s", l.Offset, strings.Join(hex, " "), text)
}

// Listings decodes at most n instructions of code starting at offset.
// n <= 0 means until the end of code.
func Listings(code []byte, offset, n int) []Listing {
	var out []Listing
	for offset < len(code) && (n <= 0 || len(out) < n) {
		inst, ok := Decode(code, offset)
		size := 1
		if ok {
			size = int(inst.Size)
		}
		out = append(out, Listing{
			Offset:      offset,
			Bytes:       code[offset : offset+size],
			Instruction: inst,
			Valid:       ok,
		})
		offset += size
	}
	return out
}
