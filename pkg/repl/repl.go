// Package repl implements an interactive stepping debugger for sim86.
//
//	sim86> load listing_0048
//	sim86> step 3
//	sim86> regs
//	sim86> asm add cx, 1
//	sim86> plot cx
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/akhildatla/sim86/pkg/assembler"
	"github.com/akhildatla/sim86/pkg/loader"
	"github.com/akhildatla/sim86/pkg/trace"
	"github.com/akhildatla/sim86/pkg/vm"
)

const (
	promptStep = "sim86> "
	promptASM  = "asm> "
	promptCont = "...> "
)

const (
	defaultDisasmLines = 8
	defaultMemBytes    = 64
	memRowBytes        = 16
)

// Mode represents the REPL input mode.
type Mode int

const (
	ModeStep Mode = iota // Lines are debugger commands
	ModeASM              // Lines that are not commands are assembled and executed at ip
)

// REPL provides an interactive Read-Eval-Print Loop over one machine.
type REPL struct {
	mode        Mode
	vm          *vm.VM
	rec         *trace.Recorder
	program     string
	history     []string
	multiline   strings.Builder
	inMultiline bool
	done        bool
}

// New creates a new REPL instance with an empty program loaded.
func New() *REPL {
	r := &REPL{
		mode:    ModeStep,
		vm:      vm.NewVM(),
		rec:     trace.NewRecorder(),
		history: []string{},
	}
	r.vm.EnableStats()
	r.vm.SetObserver(r.rec)
	_ = r.vm.Load(nil)
	return r
}

// SetMode sets the REPL input mode.
func (r *REPL) SetMode(mode Mode) {
	r.mode = mode
}

// LoadProgram loads machine code into the machine and clears the trace.
func (r *REPL) LoadProgram(code []byte, name string) error {
	if err := r.vm.Load(code); err != nil {
		return err
	}
	r.rec.Reset()
	r.program = name
	return nil
}

// Start starts the REPL loop. It returns when in is exhausted or after
// quit.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "sim86 debugger - 8086 subset simulator")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.done {
		if r.inMultiline {
			fmt.Fprint(out, promptCont)
		} else if r.mode == ModeStep {
			fmt.Fprint(out, promptStep)
		} else {
			fmt.Fprint(out, promptASM)
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		// Handle multiline input
		if r.inMultiline {
			if line == "" {
				// End multiline input
				r.inMultiline = false
				input := r.multiline.String()
				r.multiline.Reset()
				r.eval(input, out)
			} else {
				r.multiline.WriteString(line)
				r.multiline.WriteString("\n")
			}
			continue
		}

		// Check for special commands
		if handled := r.handleCommand(line, out); handled {
			continue
		}

		// Check for multiline start (ends with \)
		if strings.HasSuffix(line, "\\") {
			r.inMultiline = true
			r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
			r.multiline.WriteString("\n")
			continue
		}

		r.eval(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	trimmed := strings.TrimSpace(line)
	parts := strings.Fields(trimmed)

	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.done = true

	case "help", "h", "?":
		r.printHelp(out)

	case "mode":
		if len(parts) > 1 {
			switch parts[1] {
			case "step":
				r.mode = ModeStep
				fmt.Fprintln(out, "Switched to step mode")
			case "asm":
				r.mode = ModeASM
				fmt.Fprintln(out, "Switched to assembly mode")
			default:
				fmt.Fprintln(out, "Unknown mode. Use 'step' or 'asm'")
			}
		} else {
			if r.mode == ModeStep {
				fmt.Fprintln(out, "Current mode: step")
			} else {
				fmt.Fprintln(out, "Current mode: asm")
			}
		}

	case "load":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: load <path>")
			break
		}
		r.load(parts[1], out)

	case "step", "s":
		n := 1
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v < 1 {
				fmt.Fprintln(out, "Usage: step [n]")
				break
			}
			n = v
		}
		r.step(n, out)

	case "run", "r":
		r.run(out)

	case "regs":
		r.printRegisters(out)

	case "mem":
		r.dumpMemory(parts[1:], out)

	case "disasm", "d":
		n := defaultDisasmLines
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v < 1 {
				fmt.Fprintln(out, "Usage: disasm [n]")
				break
			}
			n = v
		}
		r.disassemble(n, out)

	case "asm", "a":
		src := strings.TrimSpace(strings.TrimPrefix(trimmed, parts[0]))
		if src == "" {
			fmt.Fprintln(out, "Usage: asm <instruction>")
			break
		}
		r.eval(src, out)

	case "plot":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: plot <register>")
			break
		}
		r.plot(parts[1], out)

	case "stats":
		r.printStats(out)

	case "save":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: save <trace.csv|trace.jsonl|trace.parquet>")
			break
		}
		r.save(parts[1], out)

	case "reset":
		r.vm.Reset()
		r.rec.Reset()
		fmt.Fprintln(out, "Machine reset")

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	default:
		if r.mode == ModeASM {
			return false
		}
		fmt.Fprintf(out, "Unknown command %q. Type 'help' for available commands\n", parts[0])
	}

	return true
}

// eval assembles input and executes it at ip, one step per instruction.
// The assembled bytes replace memory at ip.
func (r *REPL) eval(input string, out io.Writer) {
	if strings.TrimSpace(input) == "" {
		return
	}

	r.history = append(r.history, input)

	program, err := assembler.Assemble(input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if len(program.Code) == 0 {
		return
	}

	ip := int(r.vm.IP())
	if ip+len(program.Code) > vm.MemorySize {
		fmt.Fprintf(out, "Error: %d bytes do not fit at ip 0x%04x\n", len(program.Code), ip)
		return
	}
	mem := r.vm.Memory()
	for i, b := range program.Code {
		mem.Write(uint16(ip+i), uint16(b), false)
	}

	r.vm.Resume()
	r.step(len(program.Offsets), out)
}

func (r *REPL) load(path string, out io.Writer) {
	code, err := loader.LoadProgram(path)
	if err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}
	if err := r.LoadProgram(code, path); err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}
	fmt.Fprintf(out, "Loaded %s (%d bytes)\n", path, len(code))
}

func (r *REPL) step(n int, out io.Writer) {
	for i := 0; i < n; i++ {
		if r.vm.Halted() {
			fmt.Fprintf(out, "Machine halted (%s) at ip 0x%04x\n", r.vm.HaltReason(), r.vm.IP())
			return
		}
		s, err := r.vm.Step()
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(out, s.String())
	}
}

func (r *REPL) run(out io.Writer) {
	if r.vm.Halted() {
		fmt.Fprintf(out, "Machine halted (%s) at ip 0x%04x\n", r.vm.HaltReason(), r.vm.IP())
		return
	}
	state, err := r.vm.Execute()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Halted (%s) at ip 0x%04x after %d steps\n", state.Halt, state.IP, state.Steps)
}

func (r *REPL) printRegisters(out io.Writer) {
	state := r.vm.State()

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Register", "Hex", "Decimal"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, name := range []string{"ax", "bx", "cx", "dx", "sp", "bp", "si", "di"} {
		v, _ := state.Register(name)
		table.Append([]string{name, fmt.Sprintf("0x%04x", v), strconv.Itoa(int(v))})
	}
	table.Append([]string{"ip", fmt.Sprintf("0x%04x", state.IP), strconv.Itoa(int(state.IP))})
	table.Append([]string{"flags", state.Flags.String(), ""})
	table.Render()
}

func (r *REPL) dumpMemory(args []string, out io.Writer) {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(out, "Usage: mem <addr> [n]")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		fmt.Fprintf(out, "Error: invalid address %q\n", args[0])
		return
	}
	n := uint64(defaultMemBytes)
	if len(args) == 2 {
		if n, err = strconv.ParseUint(args[1], 0, 32); err != nil || n == 0 {
			fmt.Fprintf(out, "Error: invalid length %q\n", args[1])
			return
		}
	}
	end := addr + n
	if end > vm.MemorySize {
		end = vm.MemorySize
	}

	bytes := r.vm.Memory().Bytes()
	for row := addr; row < end; row += memRowBytes {
		rowEnd := row + memRowBytes
		if rowEnd > end {
			rowEnd = end
		}
		hex := make([]string, 0, memRowBytes)
		for _, b := range bytes[row:rowEnd] {
			hex = append(hex, fmt.Sprintf("%02x", b))
		}
		fmt.Fprintf(out, "%04x  %s\n", row, strings.Join(hex, " "))
	}
}

func (r *REPL) disassemble(n int, out io.Writer) {
	ip := int(r.vm.IP())
	for _, l := range vm.Listings(r.vm.Memory().Bytes(), ip, n) {
		marker := "  "
		if l.Offset == ip {
			marker = "=>"
		}
		fmt.Fprintf(out, "%s %s\n", marker, l)
	}
}

func (r *REPL) plot(reg string, out io.Writer) {
	graph, err := trace.PlotRegister(r.rec.Records(), reg, trace.PlotOptions{})
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, graph)
}

func (r *REPL) printStats(out io.Writer) {
	stats := r.vm.Stats()
	fmt.Fprintf(out, "Steps: %d  Branches taken: %d  Bytes executed: %d\n",
		stats.StepsExecuted, stats.BranchesTaken, stats.Coverage.PopCount())
	if len(stats.OpCounts) == 0 {
		return
	}

	mnemonics := make([]string, 0, len(stats.OpCounts))
	for m := range stats.OpCounts {
		mnemonics = append(mnemonics, m)
	}
	sort.Slice(mnemonics, func(i, j int) bool {
		ci, cj := stats.OpCounts[mnemonics[i]], stats.OpCounts[mnemonics[j]]
		if ci != cj {
			return ci > cj
		}
		return mnemonics[i] < mnemonics[j]
	})

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Mnemonic", "Count"})
	for _, m := range mnemonics {
		table.Append([]string{m, strconv.Itoa(stats.OpCounts[m])})
	}
	table.Render()
}

func (r *REPL) save(path string, out io.Writer) {
	df := trace.ToDataFrame(r.rec.Records())
	if err := trace.ExportFile(context.Background(), path, df); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Saved %d steps to %s\n", r.rec.Len(), path)
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
sim86 Debugger Commands:
  help, h, ?        Show this help message
  quit, exit, q     Exit the REPL
  mode [step|asm]   Show or set input mode
  load <path>       Load a program image or .asm source
  step, s [n]       Execute n instructions (default 1)
  run, r            Run until the machine halts
  regs              Show registers and flags
  mem <addr> [n]    Hex dump n bytes of memory (default 64)
  disasm, d [n]     Disassemble n instructions from ip (default 8)
  asm, a <inst>     Assemble an instruction at ip and execute it
  plot <reg>        Graph a register over the recorded steps
  stats             Show execution statistics
  save <path>       Export the recorded trace (.csv, .jsonl, .parquet)
  reset             Reload the program and clear registers
  history           Show assembled input history

Examples:
  load listing_0041
  step 3
  asm mov cx, 3
  mem 0x3e8 16

Tips:
  - In asm mode, any line that is not a command is assembled and executed
  - End a line with \ for multiline input
  - Press Enter twice to execute multiline input
`
	fmt.Fprint(out, help)
}
