package embed_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/akhildatla/sim86/pkg/embed"
	"github.com/akhildatla/sim86/pkg/trace"
	"github.com/akhildatla/sim86/pkg/vm"
)

var movCX12 = []byte{0xB9, 0x0C, 0x00}

const countdown = `
	mov cx, 3
top:
	loop top
	sub cx, cx
`

const spin = `
top:
	jne top
`

var _ = Describe("Run", func() {
	It("should execute mov cx, 12", func() {
		state, err := embed.Run(movCX12)

		Expect(err).NotTo(HaveOccurred())
		Expect(state.Registers[vm.RegCX]).To(Equal(uint16(12)))
		Expect(state.IP).To(Equal(uint16(3)))
		Expect(state.Halt).To(Equal(vm.HaltInstruction))
		Expect(state.Steps).To(Equal(int64(2)))
		Expect(state.Memory).To(BeNil())
	})

	It("should stop on an unrecognized instruction without an error", func() {
		state, err := embed.Run([]byte{0xB1, 0x07, 0x0F})

		Expect(err).NotTo(HaveOccurred())
		Expect(state.Halt).To(Equal(vm.HaltUnrecognized))
		Expect(state.IP).To(Equal(uint16(2)))
		Expect(state.String()).To(ContainSubstring("    halt: unrecognized instruction"))
	})

	It("should report unimplemented jumps", func() {
		state, err := embed.Run([]byte{0x7C, 0x00}) // jl 0

		Expect(errors.Is(err, vm.ErrUnimplementedOperation)).To(BeTrue())
		Expect(state.IP).To(Equal(uint16(0)))
	})

	It("should reject oversized programs", func() {
		state, err := embed.Run(make([]byte, vm.MemorySize))

		Expect(errors.Is(err, vm.ErrProgramTooLarge)).To(BeTrue())
		Expect(state).To(BeNil())
	})

	Context("with observers", func() {
		It("should write the text trace", func() {
			var buf bytes.Buffer
			_, err := embed.RunSource(countdown, embed.WithTrace(&buf))

			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Split(strings.TrimSpace(buf.String()), "\n")).To(Equal([]string{
				"mov cx, 3 ; cx:0x0->0x3 ip:0x0->0x3",
				"loop -2 ; cx:0x3->0x2 ip:0x3->0x3",
				"loop -2 ; cx:0x2->0x1 ip:0x3->0x3",
				"loop -2 ; cx:0x1->0x0 ip:0x3->0x5",
				"sub cx, cx ; ip:0x5->0x7 flags:->Z",
			}))
		})

		It("should fill a recorder", func() {
			rec := trace.NewRecorder()
			_, err := embed.RunSource(countdown, embed.WithRecorder(rec))

			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Len()).To(Equal(5))
			Expect(rec.Records()[4].FlagsAfter).To(Equal("Z"))
		})

		It("should call a raw observer for every step", func() {
			ctrl := gomock.NewController(GinkgoT())
			defer ctrl.Finish()

			obs := NewMockStepObserver(ctrl)
			first := obs.EXPECT().Observe(gomock.Any()).Do(func(s vm.Step) {
				Expect(s.Instruction.String()).To(Equal("mov cx, 12"))
			})
			obs.EXPECT().Observe(gomock.Any()).Do(func(s vm.Step) {
				Expect(s.Sentinel).To(BeTrue())
			}).After(first)

			_, err := embed.Run(movCX12, embed.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should surface trace write errors", func() {
			_, err := embed.Run(movCX12, embed.WithTrace(failingWriter{}))

			Expect(err).To(MatchError(ContainSubstring("writing trace")))
		})
	})

	Context("with outputs", func() {
		It("should return the memory image", func() {
			state, err := embed.RunSource("mov word [1000], 258", embed.WithMemoryImage())

			Expect(err).NotTo(HaveOccurred())
			Expect(state.Memory).To(HaveLen(vm.MemorySize))
			Expect(state.Memory[1000]).To(Equal(byte(2)))
			Expect(state.Memory[1001]).To(Equal(byte(1)))
		})

		It("should collect stats", func() {
			var stats vm.ExecutionStats
			_, err := embed.RunSource(countdown, embed.WithStats(&stats))

			Expect(err).NotTo(HaveOccurred())
			Expect(stats.StepsExecuted).To(Equal(int64(6)))
			Expect(stats.BranchesTaken).To(Equal(int64(2)))
			Expect(stats.OpCounts).To(HaveKeyWithValue("loop", 3))
		})
	})

	Context("with limits", func() {
		It("should stop at the step limit", func() {
			state, err := embed.RunSource(spin, embed.WithMaxSteps(5))

			Expect(errors.Is(err, embed.ErrStepLimit)).To(BeTrue())
			Expect(state.Steps).To(Equal(int64(5)))
		})

		It("should time out", func() {
			_, err := embed.RunSource(spin, embed.WithTimeout(10*time.Millisecond))

			Expect(err).To(Equal(embed.ErrTimeout))
		})

		It("should honor cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := embed.RunSource(spin, embed.WithContext(ctx))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})
})

var _ = Describe("RunFile", func() {
	It("should run assembly sources", func() {
		path := filepath.Join(GinkgoT().TempDir(), "countdown.asm")
		Expect(os.WriteFile(path, []byte(countdown), 0644)).To(Succeed())

		state, err := embed.RunFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Registers[vm.RegCX]).To(Equal(uint16(0)))
		Expect(state.Flags.Has(vm.FlagZero)).To(BeTrue())
	})

	It("should run machine code", func() {
		path := filepath.Join(GinkgoT().TempDir(), "listing")
		Expect(os.WriteFile(path, movCX12, 0644)).To(Succeed())

		state, err := embed.RunFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Registers[vm.RegCX]).To(Equal(uint16(12)))
	})

	It("should fail on a missing file", func() {
		_, err := embed.RunFile(filepath.Join(GinkgoT().TempDir(), "missing"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Disassemble", func() {
	It("should list the program", func() {
		Expect(embed.Disassemble(movCX12)).To(Equal("bits 16\nmov cx, 12\n"))
	})
})

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("closed pipe")
}
