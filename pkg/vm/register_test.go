package vm

import (
	"testing"
)

func TestRegisterFile_ByteIndependence(t *testing.T) {
	rf := NewRegisterFile()
	al := NewRegister(0b000, false)
	ah := NewRegister(0b100, false)
	ax := NewRegister(0b000, true)

	rf.Write(al, 0xAA)
	rf.Write(ah, 0xBB)

	if got := rf.Read(ax); got != 0xBBAA {
		t.Errorf("expected ax = 0xbbaa, got %#x", got)
	}
	if got := rf.Read(al); got != 0xAA {
		t.Errorf("expected al = 0xaa, got %#x", got)
	}
	if got := rf.Read(ah); got != 0xBB {
		t.Errorf("expected ah = 0xbb, got %#x", got)
	}
}

func TestRegisterFile_ByteWriteKeepsOtherHalf(t *testing.T) {
	tests := []struct {
		name     string
		encoding uint8
		initial  uint16
		value    uint16
		expected uint16
	}{
		{"bl keeps bh", 0b011, 0x1234, 0xFF, 0x12FF},
		{"bh keeps bl", 0b111, 0x1234, 0xFF, 0xFF34},
		{"cl truncates", 0b001, 0x0000, 0x1FF, 0x00FF},
		{"dh truncates", 0b110, 0x0000, 0x1FF, 0xFF00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rf := NewRegisterFile()
			r := NewRegister(tt.encoding, false)
			rf.SetCell(r.Cell(), tt.initial)
			rf.Write(r, tt.value)
			if got := rf.Cell(r.Cell()); got != tt.expected {
				t.Errorf("expected %#04x, got %#04x", tt.expected, got)
			}
		})
	}
}

func TestRegisterFile_FullWidth(t *testing.T) {
	rf := NewRegisterFile()
	for enc := uint8(0); enc < NumRegisters; enc++ {
		rf.Write(NewRegister(enc, true), 0x1000+uint16(enc))
	}
	for enc := uint8(0); enc < NumRegisters; enc++ {
		if got := rf.Cell(enc); got != 0x1000+uint16(enc) {
			t.Errorf("%s: expected %#x, got %#x", CellName(enc), 0x1000+uint16(enc), got)
		}
	}

	rf.Reset()
	if rf.Cells() != [NumRegisters]uint16{} {
		t.Errorf("expected zeroed registers after Reset, got %v", rf.Cells())
	}
}

func TestNewRegister_Access(t *testing.T) {
	tests := []struct {
		encoding uint8
		wide     bool
		access   RegisterAccess
		cell     uint8
		name     string
	}{
		{0, true, AccessFull, RegAX, "ax"},
		{4, true, AccessFull, RegSP, "sp"},
		{0, false, AccessLow, RegAX, "al"},
		{3, false, AccessLow, RegBX, "bl"},
		{4, false, AccessHigh, RegAX, "ah"},
		{7, false, AccessHigh, RegBX, "bh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegister(tt.encoding, tt.wide)
			if r.Access != tt.access {
				t.Errorf("expected access %s, got %s", tt.access, r.Access)
			}
			if r.Cell() != tt.cell {
				t.Errorf("expected cell %d, got %d", tt.cell, r.Cell())
			}
			if got := FormatOperand(r); got != tt.name {
				t.Errorf("expected %q, got %q", tt.name, got)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	var fs Flags
	if fs.String() != "" {
		t.Errorf("expected empty flags, got %q", fs.String())
	}

	fs = fs.With(FlagSign, true).With(FlagZero, true)
	if fs.String() != "ZS" {
		t.Errorf("expected ZS, got %q", fs.String())
	}

	fs = fs.With(FlagZero, false)
	if fs.Has(FlagZero) || !fs.Has(FlagSign) {
		t.Errorf("expected only S, got %q", fs.String())
	}

	if ParseFlags("SZ") != ParseFlags("ZS") {
		t.Error("expected ParseFlags to ignore letter order")
	}
	if ParseFlags("Z?") != Flags(FlagZero) {
		t.Errorf("expected Z, got %q", ParseFlags("Z?"))
	}
}

func TestArithmeticFlags(t *testing.T) {
	tests := []struct {
		name   string
		stored uint16
		wide   bool
		expect string
	}{
		{"word zero", 0x0000, true, "Z"},
		{"word sign", 0x8000, true, "S"},
		{"word positive", 0x7FFF, true, ""},
		{"byte sign", 0x0080, false, "S"},
		{"byte positive", 0x007F, false, ""},
		{"byte zero", 0x0000, false, "Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := arithmeticFlags(0, tt.stored, tt.wide).String()
			if got != tt.expect {
				t.Errorf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}
