// Package vm implements an Intel 8086 subset decoder and simulator.
//
// The machine has eight 16-bit general registers (byte-addressable through
// al..bh), zero and sign flags, and a flat 64 KiB memory. Supported
// instructions are mov, add, sub, cmp, the conditional jumps, loop, loopz,
// loopnz and hlt.
//
// Disassembly only:
//
//	inst, ok := vm.Decode(code, 0)
//	fmt.Print(vm.Disassemble(code))
//
// Simulation:
//
//	v := vm.NewVM()
//	if err := v.Load(code); err != nil {
//		return err
//	}
//	state, err := v.Execute()
//	state.WriteReport(os.Stdout)
//
// With a step limit:
//
//	v := vm.NewVM()
//	v.SetMaxSteps(10000)
//	v.Load(code)
//	state, err := v.Execute()
package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("sim86.vm")

// Error definitions
var (
	ErrNoProgram              = errors.New("no program loaded")
	ErrProgramTooLarge        = errors.New("program too large")
	ErrHalted                 = errors.New("machine halted")
	ErrStepLimitExceeded      = errors.New("step limit exceeded")
	ErrUnimplementedOperation = errors.New("unimplemented operation")
)

// HaltOpcode is appended after every loaded program.
const HaltOpcode = 0xF4

// MaxProgramSize is the largest program that still leaves room for the
// halt sentinel.
const MaxProgramSize = MemorySize - 1

// HaltReason tells why the machine stopped.
type HaltReason uint8

const (
	Running HaltReason = iota
	HaltInstruction
	HaltUnrecognized
)

func (h HaltReason) String() string {
	switch h {
	case HaltInstruction:
		return "hlt"
	case HaltUnrecognized:
		return "unrecognized instruction"
	default:
		return "running"
	}
}

// StepObserver receives every executed step.
type StepObserver interface {
	Observe(Step)
}

// ExecutionStats contains metrics about VM execution for observability.
type ExecutionStats struct {
	StepsExecuted   int64          // Total instructions executed
	BranchesTaken   int64          // Jumps and loops that changed ip
	ExecutionTimeNs int64          // Execution time in nanoseconds
	OpCounts        map[string]int // Count of each mnemonic executed
	Coverage        *Bitmap        // Addresses fetched as instruction bytes
}

// VM is one 8086 machine. It owns its registers, flags and memory for
// the duration of a run and is not safe for concurrent use.
type VM struct {
	registers RegisterFile
	flags     Flags
	memory    *MemoryImage
	ip        uint16

	program []byte
	loaded  bool
	halt    HaltReason

	// Resource limits
	maxSteps  int64
	stepCount int64

	observer StepObserver

	// Observability - execution statistics
	stats        ExecutionStats
	statsEnabled bool
}

// NewVM creates a new VM instance.
func NewVM() *VM {
	return &VM{memory: NewMemoryImage()}
}

// Load copies program to address 0, appends a hlt sentinel and resets the
// machine state.
func (vm *VM) Load(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrProgramTooLarge, len(program), MaxProgramSize)
	}
	vm.program = append(vm.program[:0], program...)
	vm.loaded = true
	vm.Reset()
	logger.Debugf("loaded %d byte program", len(program))
	return nil
}

// Reset restores the state right after Load.
func (vm *VM) Reset() {
	vm.memory.Load(vm.program)
	vm.memory.bytes[len(vm.program)] = HaltOpcode
	vm.registers.Reset()
	vm.flags = 0
	vm.ip = 0
	vm.halt = Running
	vm.stepCount = 0
	if vm.statsEnabled {
		vm.EnableStats()
	}
}

// SetMaxSteps sets the maximum number of execution steps. Zero disables
// the limit.
func (vm *VM) SetMaxSteps(n int64) {
	vm.maxSteps = n
}

// SetObserver installs an observer called after every step.
func (vm *VM) SetObserver(o StepObserver) {
	vm.observer = o
}

// EnableStats enables execution statistics collection.
// When enabled, the VM tracks steps executed, timing, mnemonic counts and
// instruction coverage.
func (vm *VM) EnableStats() {
	vm.statsEnabled = true
	vm.stats = ExecutionStats{
		OpCounts: make(map[string]int),
		Coverage: NewBitmap(MemorySize),
	}
}

// Stats returns the execution statistics since the last Load or Reset.
// Returns nil if stats were not enabled via EnableStats().
func (vm *VM) Stats() *ExecutionStats {
	if !vm.statsEnabled {
		return nil
	}
	return &vm.stats
}

// Registers exposes the register file.
func (vm *VM) Registers() *RegisterFile { return &vm.registers }

// Flags returns the current flag set.
func (vm *VM) Flags() Flags { return vm.flags }

// SetFlags overwrites the flag set.
func (vm *VM) SetFlags(f Flags) { vm.flags = f }

// IP returns the instruction pointer.
func (vm *VM) IP() uint16 { return vm.ip }

// SetIP moves the instruction pointer.
func (vm *VM) SetIP(ip uint16) { vm.ip = ip }

// Memory exposes the memory image.
func (vm *VM) Memory() *MemoryImage { return vm.memory }

// ProgramSize returns the length of the loaded program, without the
// sentinel.
func (vm *VM) ProgramSize() int { return len(vm.program) }

// Halted reports whether the machine has stopped.
func (vm *VM) Halted() bool { return vm.halt != Running }

// HaltReason returns why the machine stopped.
func (vm *VM) HaltReason() HaltReason { return vm.halt }

// Resume clears the halted state so that stepping continues from ip.
func (vm *VM) Resume() { vm.halt = Running }

// Execute runs until the machine halts or an error occurs. A halt on an
// unrecognized instruction is reported in the state, not as an error.
func (vm *VM) Execute() (*State, error) {
	return vm.ExecuteContext(context.Background())
}

// cancelCheckInterval is how many steps run between context checks.
const cancelCheckInterval = 1024

// ExecuteContext is Execute with cancellation. The context is polled every
// cancelCheckInterval steps and its error returned as is.
func (vm *VM) ExecuteContext(ctx context.Context) (*State, error) {
	var startTime time.Time
	if vm.statsEnabled {
		startTime = time.Now()
	}
	defer func() {
		if vm.statsEnabled {
			vm.stats.ExecutionTimeNs += time.Since(startTime).Nanoseconds()
		}
	}()

	for n := 0; !vm.Halted(); n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return vm.State(), err
			}
		}
		if _, err := vm.Step(); err != nil {
			return vm.State(), err
		}
	}
	logger.Debugf("halted (%s) at ip 0x%04x after %d steps", vm.halt, vm.ip, vm.stepCount)
	return vm.State(), nil
}

// Step fetches, decodes and executes one instruction.
//
// hlt stops the machine with ip left on the hlt byte. An unrecognized
// instruction stops it with HaltUnrecognized. Running an operation
// without wired semantics fails with ErrUnimplementedOperation and
// leaves ip on the failing instruction.
func (vm *VM) Step() (Step, error) {
	if !vm.loaded {
		return Step{}, ErrNoProgram
	}
	if vm.Halted() {
		return Step{}, ErrHalted
	}
	if vm.maxSteps > 0 && vm.stepCount >= vm.maxSteps {
		return Step{}, fmt.Errorf("%w: %d", ErrStepLimitExceeded, vm.maxSteps)
	}

	ip := vm.ip
	step := Step{
		Number:      vm.stepCount + 1,
		IP:          ip,
		NextIP:      ip,
		FlagsBefore: vm.flags,
		FlagsAfter:  vm.flags,
	}

	inst, ok := Decode(vm.memory.bytes, int(ip))
	if !ok {
		vm.halt = HaltUnrecognized
		step.Halt = vm.halt
		step.Registers = vm.registers.Cells()
		logger.Warningf("unrecognized instruction 0x%02x at ip 0x%04x", vm.memory.bytes[ip], ip)
		vm.notify(step)
		return step, nil
	}
	step.Instruction = inst
	step.Decoded = true

	before := vm.registers.Cells()
	if inst.Op == OpHlt {
		vm.halt = HaltInstruction
		step.Halt = vm.halt
		step.Sentinel = int(ip) == len(vm.program)
	} else {
		vm.ip = ip + uint16(inst.Size)
		taken, err := vm.exec(inst)
		if err != nil {
			vm.ip = ip
			return step, fmt.Errorf("%s at ip 0x%04x: %w", inst, ip, err)
		}
		step.Branched = taken
	}

	vm.stepCount++
	step.NextIP = vm.ip
	step.FlagsAfter = vm.flags
	step.Registers = vm.registers.Cells()
	for i := range before {
		if before[i] != step.Registers[i] {
			step.Changes = append(step.Changes, RegisterChange{
				Cell:   uint8(i),
				Before: before[i],
				After:  step.Registers[i],
			})
		}
	}

	if vm.statsEnabled {
		vm.stats.StepsExecuted++
		vm.stats.OpCounts[inst.Op.Mnemonic()]++
		vm.stats.Coverage.SetRange(int(ip), int(inst.Size))
		if step.Branched {
			vm.stats.BranchesTaken++
		}
	}
	logger.Tracef("%s", step)
	vm.notify(step)
	return step, nil
}

func (vm *VM) notify(s Step) {
	if vm.observer != nil {
		vm.observer.Observe(s)
	}
}

// ===== Instruction Semantics =====

// exec applies inst to the machine. ip has already advanced past inst.
func (vm *VM) exec(inst Instruction) (bool, error) {
	dst, src := inst.Dst(), inst.Src()
	switch inst.Op {
	case OpMovRegMemReg, OpMovImmRegMem, OpMovImmReg, OpMovMemAcc, OpMovAccMem:
		wide := operandWide(dst, inst.Wide())
		vm.store(dst, vm.load(src, wide), wide)

	case OpAddRegMemReg, OpAddImmRegMem, OpAddImmAcc:
		wide := operandWide(dst, inst.Wide())
		result := vm.store(dst, vm.load(dst, wide)+vm.load(src, wide), wide)
		vm.flags = arithmeticFlags(vm.flags, result, wide)

	case OpSubRegMemReg, OpSubImmRegMem, OpSubImmAcc:
		wide := operandWide(dst, inst.Wide())
		result := vm.store(dst, vm.load(dst, wide)-vm.load(src, wide), wide)
		vm.flags = arithmeticFlags(vm.flags, result, wide)

	case OpCmpRegMemReg, OpCmpImmRegMem, OpCmpImmAcc:
		wide := operandWide(dst, inst.Wide())
		result := truncate(vm.load(dst, wide)-vm.load(src, wide), wide)
		vm.flags = arithmeticFlags(vm.flags, result, wide)

	default:
		if inst.Op.IsBranch() {
			return vm.branch(inst)
		}
		return false, fmt.Errorf("%w: %s", ErrUnimplementedOperation, inst.Op)
	}
	return false, nil
}

// branch evaluates a jump or loop. Only predicates computable from the
// modeled flags are wired.
func (vm *VM) branch(inst Instruction) (bool, error) {
	offset, ok := inst.Dst().(LabelOffset)
	if !ok {
		panic(fmt.Sprintf("vm: %s without label offset", inst.Op))
	}

	var take bool
	switch inst.Op {
	case OpJe:
		take = vm.flags.Has(FlagZero)
	case OpJne:
		take = !vm.flags.Has(FlagZero)
	case OpJs:
		take = vm.flags.Has(FlagSign)
	case OpJns:
		take = !vm.flags.Has(FlagSign)
	case OpJcxz:
		take = vm.registers.Cell(RegCX) == 0
	case OpLoop, OpLoopz, OpLoopnz:
		cx := vm.registers.Cell(RegCX) - 1
		vm.registers.SetCell(RegCX, cx)
		take = cx != 0
		if inst.Op == OpLoopz {
			take = take && vm.flags.Has(FlagZero)
		}
		if inst.Op == OpLoopnz {
			take = take && !vm.flags.Has(FlagZero)
		}
	default:
		return false, fmt.Errorf("%w: %s", ErrUnimplementedOperation, inst.Op)
	}

	if take {
		vm.ip += uint16(int16(offset))
	}
	return take, nil
}

// load reads a source operand.
func (vm *VM) load(op Operand, wide bool) uint16 {
	switch o := op.(type) {
	case Register:
		return vm.registers.Read(o)
	case Memory:
		return vm.memory.Read(o.Address.Resolve(&vm.registers), wide)
	case Immediate:
		return truncate(o.Value, wide)
	default:
		panic(fmt.Sprintf("vm: cannot read operand %T", op))
	}
}

// store writes a destination operand and returns the value as stored.
func (vm *VM) store(op Operand, v uint16, wide bool) uint16 {
	switch o := op.(type) {
	case Register:
		vm.registers.Write(o, v)
		return vm.registers.Read(o)
	case Memory:
		vm.memory.Write(o.Address.Resolve(&vm.registers), v, wide)
		return truncate(v, wide)
	default:
		panic(fmt.Sprintf("vm: cannot write operand %T", op))
	}
}

// operandWide returns the access width of a destination operand.
func operandWide(op Operand, instWide bool) bool {
	if r, ok := op.(Register); ok {
		return r.Wide()
	}
	return instWide
}

func truncate(v uint16, wide bool) uint16 {
	if wide {
		return v
	}
	return v & 0x00FF
}
