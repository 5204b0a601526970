// Package embed provides the Go embedding API for sim86.
//
// Pass machine code, get the final machine state.
//
// Basic usage:
//
//	state, err := embed.Run([]byte{0xB9, 0x0C, 0x00}) // mov cx, 12
//	state.WriteReport(os.Stdout)
//
// From assembly source, with a trace:
//
//	state, err := embed.RunSource(`
//	    mov cx, 3
//	top:
//	    loop top
//	`, embed.WithTrace(os.Stdout))
//
// With limits and recording:
//
//	rec := trace.NewRecorder()
//	state, err := embed.RunFile("listing_0048",
//	    embed.WithMaxSteps(10000),
//	    embed.WithTimeout(time.Second),
//	    embed.WithRecorder(rec),
//	    embed.WithMemoryImage(),
//	)
package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/akhildatla/sim86/pkg/assembler"
	"github.com/akhildatla/sim86/pkg/loader"
	"github.com/akhildatla/sim86/pkg/trace"
	"github.com/akhildatla/sim86/pkg/vm"
)

// Common errors
var (
	ErrTimeout   = errors.New("execution timeout exceeded")
	ErrStepLimit = errors.New("step limit exceeded")
)

// Options configures a run.
type Options struct {
	// MaxSteps limits the number of instructions executed.
	// Zero means unlimited.
	MaxSteps int64

	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// Trace receives one line per executed instruction.
	Trace io.Writer

	// Recorder collects the trace as records.
	Recorder *trace.Recorder

	// Observer receives every step, including the final hlt.
	Observer vm.StepObserver

	// MemoryImage copies the final memory into State.Memory.
	MemoryImage bool

	// Stats receives execution statistics when non-nil.
	Stats *vm.ExecutionStats

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithMaxSteps sets the step limit.
func WithMaxSteps(n int64) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithTrace writes the text trace to w.
func WithTrace(w io.Writer) Option {
	return func(o *Options) {
		o.Trace = w
	}
}

// WithRecorder records the trace into rec.
func WithRecorder(rec *trace.Recorder) Option {
	return func(o *Options) {
		o.Recorder = rec
	}
}

// WithObserver installs a raw step observer.
func WithObserver(obs vm.StepObserver) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithMemoryImage includes the final memory in the returned state.
func WithMemoryImage() Option {
	return func(o *Options) {
		o.MemoryImage = true
	}
}

// WithStats collects execution statistics into dst.
func WithStats(dst *vm.ExecutionStats) Option {
	return func(o *Options) {
		o.Stats = dst
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// Run loads program at address 0 and executes it until it halts.
//
// On an error the partial state is returned along with it. A program that
// reaches an unrecognized instruction is not an error: the state reports
// vm.HaltUnrecognized.
func Run(program []byte, opts ...Option) (*vm.State, error) {
	// Apply options
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}

	machine := vm.NewVM()
	machine.SetMaxSteps(options.MaxSteps)
	if options.Stats != nil {
		machine.EnableStats()
	}

	var tw *trace.TextWriter
	var observers []vm.StepObserver
	if options.Trace != nil {
		tw = trace.NewTextWriter(options.Trace)
		observers = append(observers, tw)
	}
	if options.Recorder != nil {
		observers = append(observers, options.Recorder)
	}
	if options.Observer != nil {
		observers = append(observers, options.Observer)
	}
	if len(observers) > 0 {
		machine.SetObserver(trace.Tee(observers...))
	}

	if err := machine.Load(program); err != nil {
		return nil, err
	}

	// Setup timeout context
	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	state, err := machine.ExecuteContext(ctx)
	if options.MemoryImage {
		state.Memory = machine.MemorySnapshot()
	}
	if options.Stats != nil {
		stats := *machine.Stats()
		stats.Coverage = stats.Coverage.Clone()
		*options.Stats = stats
	}
	if err != nil {
		// Map VM errors to embed package errors
		switch {
		case errors.Is(err, vm.ErrStepLimitExceeded):
			return state, fmt.Errorf("%w after %d steps", ErrStepLimit, state.Steps)
		case errors.Is(err, context.DeadlineExceeded):
			return state, ErrTimeout
		}
		return state, err
	}

	if tw != nil && tw.Err() != nil {
		return state, fmt.Errorf("writing trace: %w", tw.Err())
	}
	return state, nil
}

// RunFile loads a program image (or .asm source) and runs it.
func RunFile(path string, opts ...Option) (*vm.State, error) {
	program, err := loader.LoadProgram(path)
	if err != nil {
		return nil, err
	}
	return Run(program, opts...)
}

// RunSource assembles source and runs it.
func RunSource(source string, opts ...Option) (*vm.State, error) {
	program, err := assembler.Assemble(source)
	if err != nil {
		return nil, err
	}
	return Run(program.Code, opts...)
}

// Disassemble returns the listing of a program, one instruction per line
// after the "bits 16" header.
func Disassemble(program []byte) string {
	return vm.Disassemble(program)
}
