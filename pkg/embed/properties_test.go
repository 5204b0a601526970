package embed_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/akhildatla/sim86/pkg/embed"
	"github.com/akhildatla/sim86/pkg/vm"
)

// Machine-level properties checked end to end through the public API.

func TestProperty_MovImmediate(t *testing.T) {
	g := NewWithT(t)

	state, err := embed.Run([]byte{0xB9, 0x0C, 0x00})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(state.Registers[vm.RegCX]).To(Equal(uint16(12)))
	g.Expect(state.IP).To(Equal(uint16(3)))
	g.Expect(embed.Disassemble([]byte{0xB9, 0x0C, 0x00})).To(ContainSubstring("mov cx, 12"))
}

func TestProperty_LoopCountsDown(t *testing.T) {
	g := NewWithT(t)

	var branched []bool
	obs := observerFunc(func(s vm.Step) {
		if s.Instruction.Op == vm.OpLoop {
			branched = append(branched, s.Branched)
		}
	})

	state, err := embed.Run([]byte{
		0xB9, 0x03, 0x00, // mov cx, 3
		0xE2, 0xFE, // loop -2
	}, embed.WithObserver(obs))

	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(branched).To(Equal([]bool{true, true, false}))
	g.Expect(state.Registers[vm.RegCX]).To(BeZero())
}

func TestProperty_TerminatesWithoutHlt(t *testing.T) {
	g := NewWithT(t)

	state, err := embed.Run([]byte{0x89, 0xD9}) // mov cx, bx
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(state.Halt).To(Equal(vm.HaltInstruction))
	g.Expect(state.IP).To(Equal(uint16(2)))
}

func TestProperty_Flags(t *testing.T) {
	tests := []struct {
		name   string
		source string
		flags  string
	}{
		{"sub to zero", "mov bx, 5\nsub bx, 5", "Z"},
		{"full width sign", "mov ax, 0x7fff\nadd ax, 1", "S"},
		{"byte sign", "mov al, 0x7f\nadd al, 1", "S"},
		{"cmp equal", "mov cx, 9\ncmp cx, 9", "Z"},
		{"mov keeps flags", "sub ax, ax\nmov ax, 0x8000", "Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			state, err := embed.RunSource(tt.source)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(state.Flags.String()).To(Equal(tt.flags))
		})
	}
}

func TestProperty_ByteRegistersAreIndependent(t *testing.T) {
	g := NewWithT(t)

	state, err := embed.RunSource("mov al, 0xaa\nmov ah, 0xbb")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(state.Registers[vm.RegAX]).To(Equal(uint16(0xBBAA)))
}

type observerFunc func(vm.Step)

func (f observerFunc) Observe(s vm.Step) { f(s) }
