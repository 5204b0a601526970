package vm

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// RegisterChange records one register cell changed by a step.
type RegisterChange struct {
	Cell   uint8
	Before uint16
	After  uint16
}

// Step describes one executed instruction.
type Step struct {
	Number      int64
	IP          uint16
	NextIP      uint16
	Instruction Instruction
	Decoded     bool
	Branched    bool
	Halt        HaltReason
	Sentinel    bool // hlt appended by Load, not part of the program
	Changes     []RegisterChange
	FlagsBefore Flags
	FlagsAfter  Flags
	Registers   [NumRegisters]uint16 // after the step
}

// String renders the trace line, e.g.
//
//	mov cx, 12 ; cx:0x0->0xc ip:0x0->0x3
//	sub cx, cx ; cx:0xc->0x0 ip:0x3->0x5 flags:->Z
func (s Step) String() string {
	if !s.Decoded {
		return UnrecognizedInstruction
	}
	var sb strings.Builder
	sb.WriteString(s.Instruction.String())
	sb.WriteString(" ;")
	for _, c := range s.Changes {
		fmt.Fprintf(&sb, " %s:%#x->%#x", CellName(c.Cell), c.Before, c.After)
	}
	fmt.Fprintf(&sb, " ip:%#x->%#x", s.IP, s.NextIP)
	if s.FlagsBefore != s.FlagsAfter {
		fmt.Fprintf(&sb, " flags:%s->%s", s.FlagsBefore, s.FlagsAfter)
	}
	return sb.String()
}

// State is the final machine state of a run.
type State struct {
	Registers [NumRegisters]uint16 `json:"registers"`
	IP        uint16               `json:"ip"`
	Flags     Flags                `json:"flags"`
	Halt      HaltReason           `json:"halt"`
	Steps     int64                `json:"steps"`
	Memory    []byte               `json:"-"`
}

// State snapshots the machine. Memory is not included.
func (vm *VM) State() *State {
	return &State{
		Registers: vm.registers.Cells(),
		IP:        vm.ip,
		Flags:     vm.flags,
		Halt:      vm.halt,
		Steps:     vm.stepCount,
	}
}

// MemorySnapshot returns a copy of the whole memory image.
func (vm *VM) MemorySnapshot() []byte {
	return append([]byte(nil), vm.memory.bytes...)
}

// reportOrder is the register order of the final-state report.
var reportOrder = []uint8{RegAX, RegBX, RegCX, RegDX, RegSP, RegBP, RegSI, RegDI}

// Register returns the value of a 16-bit register by name.
func (s *State) Register(name string) (uint16, bool) {
	for i := uint8(0); i < NumRegisters; i++ {
		if CellName(i) == name {
			return s.Registers[i], true
		}
	}
	return 0, false
}

// WriteReport writes the final-state report:
//
//	Final registers:
//	      ax: 0x0000 (0)
//	      ...
//	      ip: 0x0003 (3)
//	   flags: ZS
func (s *State) WriteReport(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("Final registers:\n")
	for _, cell := range reportOrder {
		v := s.Registers[cell]
		fmt.Fprintf(&buf, "%8s: 0x%04x (%d)\n", CellName(cell), v, v)
	}
	fmt.Fprintf(&buf, "%8s: 0x%04x (%d)\n", "ip", s.IP, s.IP)
	fmt.Fprintf(&buf, "%8s: %s\n", "flags", s.Flags)
	if s.Halt == HaltUnrecognized {
		fmt.Fprintf(&buf, "%8s: %s\n", "halt", s.Halt)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// String returns the report as text.
func (s *State) String() string {
	var sb strings.Builder
	_ = s.WriteReport(&sb)
	return sb.String()
}

// MarshalText renders flags as letters so that JSON reports read "ZS".
func (fs Flags) MarshalText() ([]byte, error) {
	return []byte(fs.String()), nil
}

// UnmarshalText parses flag letters.
func (fs *Flags) UnmarshalText(b []byte) error {
	*fs = ParseFlags(string(b))
	return nil
}

// MarshalText renders the halt reason as text.
func (h HaltReason) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a halt reason.
func (h *HaltReason) UnmarshalText(b []byte) error {
	for _, r := range []HaltReason{Running, HaltInstruction, HaltUnrecognized} {
		if r.String() == string(b) {
			*h = r
			return nil
		}
	}
	return fmt.Errorf("unknown halt reason %q", b)
}
