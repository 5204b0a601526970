// Package main provides the CLI entry point for sim86, an 8086 subset
// decoder and simulator.
//
// Usage:
//
//	sim86 disasm listing_0037            # Print the assembly listing
//	sim86 run listing_0046               # Execute and print final registers
//	sim86 run -trace listing_0046        # Execute with a per-step trace
//	sim86 trace -o out.parquet prog.asm  # Record the trace as a table
//	sim86 asm prog.asm                   # Assemble to a binary image
//	sim86 repl listing_0048              # Interactive debugger
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/olekukonko/tablewriter"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"

	"github.com/akhildatla/sim86/pkg/assembler"
	"github.com/akhildatla/sim86/pkg/embed"
	"github.com/akhildatla/sim86/pkg/loader"
	"github.com/akhildatla/sim86/pkg/repl"
	"github.com/akhildatla/sim86/pkg/trace"
	"github.com/akhildatla/sim86/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var logger = loggo.GetLogger("sim86.cmd")

var errTraceMismatch = errors.New("trace does not match")

func main() {
	var stdout io.Writer = os.Stdout
	if len(os.Args) < 2 || os.Args[1] != "repl" {
		bw := bufio.NewWriter(os.Stdout)
		atexit.Register(func() { bw.Flush() })
		stdout = bw
	}

	a := &app{stdin: os.Stdin, stdout: stdout, stderr: os.Stderr}
	if err := a.run(os.Args[1:]); err != nil && err != flag.ErrHelp {
		atexit.Fatalf("error: %v", err)
	}
	atexit.Exit(0)
}

// app holds the streams a command reads and writes, so commands can run
// in-process under test.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) run(args []string) error {
	if len(args) < 1 {
		return a.printUsage()
	}

	cmd := args[0]

	switch cmd {
	case "disasm":
		return a.disasmCommand(args[1:])
	case "run":
		return a.runCommand(args[1:])
	case "trace":
		return a.traceCommand(args[1:])
	case "asm":
		return a.asmCommand(args[1:])
	case "repl":
		return a.replCommand(args[1:])
	case "version":
		fmt.Fprintf(a.stdout, "sim86 version %s\n", version)
		if commit != "none" {
			fmt.Fprintf(a.stdout, "  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(a.stdout, "  built:  %s\n", date)
		}
		return nil
	case "help", "-h", "--help":
		return a.printUsage()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// parseArgs parses flags that may appear before or after positional
// arguments and returns the positional ones.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// configureLogging routes loggo output to w and applies spec. Verbose
// raises every sim86 logger to DEBUG.
func configureLogging(spec string, verbose bool, w io.Writer) error {
	loggo.ResetLogging()
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(w, loggo.DefaultFormatter)); err != nil {
		return errors.Trace(err)
	}
	if spec != "" {
		if err := loggo.ConfigureLoggers(spec); err != nil {
			return errors.NewNotValid(err, "logging spec")
		}
	}
	if verbose {
		return loggo.ConfigureLoggers("sim86=DEBUG")
	}
	return nil
}

// setup parses a run/trace style command line: flags, profile and logging.
func (a *app) setup(fs *flag.FlagSet, o *options, args []string, usage string) (string, error) {
	configPath := o.bindFlags(fs)
	positional, err := parseArgs(fs, args)
	if err != nil {
		return "", err
	}
	if len(positional) != 1 {
		return "", fmt.Errorf("usage: %s", usage)
	}
	if err := o.applyProfile(fs, *configPath); err != nil {
		return "", err
	}
	if o.MaxSteps < 0 {
		return "", errors.NotValidf("max-steps %d", o.MaxSteps)
	}
	if err := configureLogging(o.Log, o.Verbose, a.stderr); err != nil {
		return "", err
	}
	return positional[0], nil
}

func (a *app) disasmCommand(args []string) error {
	fs := a.flagSet("disasm")
	output := fs.String("o", "", "output file (default: stdout)")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) < 1 {
		return fmt.Errorf("usage: sim86 disasm <file>... [-o output.asm]")
	}

	// Files decode independently; output keeps argument order.
	listings := make([]string, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			code, err := loader.LoadProgram(path)
			if err != nil {
				return err
			}
			listings[i] = vm.Disassemble(code)
			logger.Debugf("disassembled %s (%d bytes)", path, len(code))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var sb strings.Builder
	for i, listing := range listings {
		if len(paths) > 1 {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "; %s\n", paths[i])
		}
		sb.WriteString(listing)
	}

	if *output != "" {
		if err := os.WriteFile(*output, []byte(sb.String()), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(a.stdout, "Disassembled to: %s\n", *output)
		return nil
	}
	_, err = io.WriteString(a.stdout, sb.String())
	return err
}

// stateReport is the JSON form of a final state.
type stateReport struct {
	Registers map[string]uint16 `json:"registers"`
	IP        uint16            `json:"ip"`
	Flags     vm.Flags          `json:"flags"`
	Halt      vm.HaltReason     `json:"halt"`
	Steps     int64             `json:"steps"`
	Stats     *statsReport      `json:"stats,omitempty"`
}

type statsReport struct {
	Branches      int64          `json:"branches"`
	BytesExecuted int            `json:"bytes_executed"`
	Ops           map[string]int `json:"ops"`
	Coverage      []string       `json:"coverage"`
}

func newStateReport(state *vm.State, stats *vm.ExecutionStats) stateReport {
	r := stateReport{
		Registers: make(map[string]uint16, vm.NumRegisters),
		IP:        state.IP,
		Flags:     state.Flags,
		Halt:      state.Halt,
		Steps:     state.Steps,
	}
	for i := uint8(0); i < vm.NumRegisters; i++ {
		r.Registers[vm.CellName(i)] = state.Registers[i]
	}
	if stats != nil {
		r.Stats = &statsReport{
			Branches:      stats.BranchesTaken,
			BytesExecuted: stats.Coverage.PopCount(),
			Ops:           stats.OpCounts,
			Coverage:      coverageRanges(stats.Coverage),
		}
	}
	return r
}

func (a *app) runCommand(args []string) error {
	fs := a.flagSet("run")
	var o options
	fs.BoolVar(&o.Trace, "trace", false, "print one line per executed instruction")
	fs.BoolVar(&o.JSON, "json", false, "print the final state as JSON")
	fs.BoolVar(&o.Stats, "stats", false, "print execution statistics")
	fs.StringVar(&o.Dump, "dump", "", "write the final memory image (.sz: snappy, .zst: zstd)")

	path, err := a.setup(fs, &o, args, "sim86 run [-trace] [-json] [-stats] [-dump file] [-max-steps n] [-config profile.yaml] <file>")
	if err != nil {
		return err
	}

	opts := []embed.Option{embed.WithMaxSteps(o.MaxSteps)}
	if o.Trace {
		opts = append(opts, embed.WithTrace(a.stdout))
	}
	if o.Dump != "" {
		opts = append(opts, embed.WithMemoryImage())
	}
	var stats *vm.ExecutionStats
	if o.Stats {
		stats = &vm.ExecutionStats{}
		opts = append(opts, embed.WithStats(stats))
	}

	logger.Infof("executing %s", path)
	state, runErr := embed.RunFile(path, opts...)
	if state == nil {
		return runErr
	}

	if o.JSON {
		data, err := json.MarshalIndent(newStateReport(state, stats), "", "  ")
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(a.stdout, "%s\n", data)
	} else {
		if o.Trace {
			fmt.Fprintln(a.stdout)
		}
		if err := state.WriteReport(a.stdout); err != nil {
			return err
		}
		if stats != nil {
			a.printStats(stats)
		}
	}

	if o.Dump != "" {
		if err := loader.WriteMemoryDump(o.Dump, state.Memory); err != nil {
			return err
		}
		logger.Infof("memory image written to %s", o.Dump)
	}
	return runErr
}

// coverageRanges formats the executed address runs as "0x0000-0x0007",
// end exclusive.
func coverageRanges(b *vm.Bitmap) []string {
	var ranges []string
	for _, span := range b.Spans() {
		ranges = append(ranges, fmt.Sprintf("0x%04x-0x%04x", span.Start, span.End))
	}
	return ranges
}

func (a *app) printStats(stats *vm.ExecutionStats) {
	fmt.Fprintf(a.stdout, "\nSteps: %d  Branches taken: %d  Bytes executed: %d\n",
		stats.StepsExecuted, stats.BranchesTaken, stats.Coverage.PopCount())
	fmt.Fprintf(a.stdout, "Executed ranges: %s\n", strings.Join(coverageRanges(stats.Coverage), " "))

	table := tablewriter.NewWriter(a.stdout)
	table.SetHeader([]string{"Mnemonic", "Count"})
	for _, op := range sortedOps(stats.OpCounts) {
		table.Append([]string{op, fmt.Sprint(stats.OpCounts[op])})
	}
	table.Render()
}

func sortedOps(counts map[string]int) []string {
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if counts[ops[i]] != counts[ops[j]] {
			return counts[ops[i]] > counts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	return ops
}

func (a *app) traceCommand(args []string) error {
	fs := a.flagSet("trace")
	var o options
	fs.StringVar(&o.Output, "o", "", "write the trace table (.csv, .jsonl, .parquet)")
	fs.StringVar(&o.Compare, "compare", "", "golden trace to compare against")
	fs.StringVar(&o.Plot, "plot", "", "plot a register over the run (ax..di, ip)")

	path, err := a.setup(fs, &o, args, "sim86 trace [-o out.csv] [-compare golden.csv] [-plot reg] <file>")
	if err != nil {
		return err
	}

	rec := trace.NewRecorder()
	if _, err := embed.RunFile(path, embed.WithMaxSteps(o.MaxSteps), embed.WithRecorder(rec)); err != nil {
		return err
	}
	records := rec.Records()
	logger.Debugf("recorded %d steps from %s", len(records), path)

	ctx := context.Background()
	df := trace.ToDataFrame(records)
	switch {
	case o.Output != "":
		if err := trace.ExportFile(ctx, o.Output, df); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Trace written to: %s (%d steps)\n", o.Output, len(records))
	case o.Compare == "" && o.Plot == "":
		if err := trace.Export(ctx, a.stdout, df, trace.FormatCSV); err != nil {
			return err
		}
	}

	if o.Plot != "" {
		graph, err := trace.PlotRegister(records, o.Plot, trace.PlotOptions{Height: trace.DefaultPlotHeight})
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, graph)
	}

	if o.Compare != "" {
		want, err := loader.LoadTrace(o.Compare)
		if err != nil {
			return err
		}
		mismatches := trace.Compare(want, records)
		for _, m := range mismatches {
			fmt.Fprintln(a.stdout, m)
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%w: %d mismatches against %s", errTraceMismatch, len(mismatches), o.Compare)
		}
		fmt.Fprintf(a.stdout, "Trace matches %s (%d steps)\n", o.Compare, len(records))
	}
	return nil
}

func (a *app) asmCommand(args []string) error {
	fs := a.flagSet("asm")
	output := fs.String("o", "", "output file (default: input without extension)")
	listing := fs.Bool("listing", false, "print the disassembly of the result")
	verbose := fs.Bool("v", false, "verbose output")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) != 1 {
		return fmt.Errorf("usage: sim86 asm <file.asm> [-o output] [-listing]")
	}

	inputPath := paths[0]
	outputPath := *output
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
		if outputPath == inputPath {
			outputPath += ".bin"
		}
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	program, err := assembler.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("assembling %s: %w", inputPath, err)
	}
	if err := loader.ValidateProgram(program.Code); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, program.Code, 0644); err != nil {
		return fmt.Errorf("writing program: %w", err)
	}

	if *verbose {
		fmt.Fprintf(a.stdout, "Assembled %d instructions, %d labels\n", len(program.Offsets), len(program.Labels))
		fmt.Fprintf(a.stdout, "Output: %s (%d bytes)\n", outputPath, len(program.Code))
	} else {
		fmt.Fprintf(a.stdout, "Assembled: %s\n", outputPath)
	}
	if *listing {
		_, err = io.WriteString(a.stdout, vm.Disassemble(program.Code))
	}
	return err
}

func (a *app) replCommand(args []string) error {
	fs := a.flagSet("repl")
	asmMode := fs.Bool("asm", false, "start in assembly mode (default: step mode)")

	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	r := repl.New()
	if *asmMode {
		r.SetMode(repl.ModeASM)
	}
	if len(paths) > 0 {
		code, err := loader.LoadProgram(paths[0])
		if err != nil {
			return err
		}
		if err := r.LoadProgram(code, paths[0]); err != nil {
			return err
		}
	}

	r.Start(a.stdin, a.stdout)
	return nil
}

func (a *app) printUsage() error {
	_, err := fmt.Fprintln(a.stdout, `sim86 - Intel 8086 subset decoder, disassembler and simulator

Usage:
  sim86 <command> [arguments]

Commands:
  disasm <file>...      Print the assembly listing of machine code files
  run <file>            Execute a program and print the final registers
  trace <file>          Execute a program and record one row per step
  asm <file.asm>        Assemble source to a binary image
  repl [file]           Start the interactive debugger
  version               Print version information
  help                  Show this help message

Programs are raw machine code loaded at address 0; files ending in .asm
are assembled first.

Disasm Options:
  -o <file>             Output file (default: stdout)

Run Options:
  -trace                Print one line per executed instruction
  -json                 Print the final state as JSON
  -stats                Print execution statistics
  -dump <file>          Write the final memory image (.sz snappy, .zst zstd)
  -max-steps <n>        Stop after n instructions (default: no limit)
  -config <file>        YAML profile with default options
  -log <spec>           Logging spec, e.g. '<root>=INFO;sim86.vm=DEBUG'
  -v                    Verbose output

Trace Options:
  -o <file>             Write the trace (.csv, .jsonl, .parquet; default: CSV to stdout)
  -compare <file>       Compare against a golden trace
  -plot <reg>           Plot a register over the run
  -max-steps, -config, -log, -v as for run

Asm Options:
  -o <file>             Output file (default: input without extension)
  -listing              Print the disassembly of the result
  -v                    Verbose output

REPL Options:
  -asm                  Start in assembly mode (default: step mode)

Examples:
  sim86 disasm listing_0037 listing_0038
  sim86 run -trace listing_0046
  sim86 run -json -dump memory.data.zst listing_0054
  sim86 trace -o trace.parquet listing_0048
  sim86 trace -compare golden.csv -plot cx listing_0048
  sim86 asm -listing countdown.asm
  sim86 repl listing_0048`)
	return err
}
