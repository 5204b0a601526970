// Package trace records simulator steps and moves them in and out of
// DataFrames.
//
// A Recorder is attached to a VM as its StepObserver:
//
//	rec := trace.NewRecorder()
//	machine.SetObserver(rec)
//	machine.Execute()
//	df := trace.ToDataFrame(rec.Records())
//	trace.ExportFile(ctx, "run.parquet", df)
//
// Recorded traces can be loaded back (see pkg/loader) and compared against
// a fresh run with Compare.
package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/juju/loggo"

	"github.com/akhildatla/sim86/pkg/vm"
)

var logger = loggo.GetLogger("sim86.trace")

// Record is one row of an execution trace.
type Record struct {
	Step        int64
	IP          uint16
	NextIP      uint16
	Instruction string
	Changes     string // "cx:0x0->0xc bx:0x1->0x2"
	FlagsBefore string
	FlagsAfter  string
	Branched    bool
	Registers   [vm.NumRegisters]uint16
}

// NewRecord converts an executed step into a trace record.
func NewRecord(s vm.Step) Record {
	r := Record{
		Step:        s.Number,
		IP:          s.IP,
		NextIP:      s.NextIP,
		FlagsBefore: s.FlagsBefore.String(),
		FlagsAfter:  s.FlagsAfter.String(),
		Branched:    s.Branched,
		Registers:   s.Registers,
	}
	if !s.Decoded {
		r.Instruction = vm.UnrecognizedInstruction
		return r
	}
	r.Instruction = s.Instruction.String()

	changes := make([]string, 0, len(s.Changes))
	for _, c := range s.Changes {
		changes = append(changes, fmt.Sprintf("%s:%#x->%#x", vm.CellName(c.Cell), c.Before, c.After))
	}
	r.Changes = strings.Join(changes, " ")
	return r
}

// String renders the record as a trace line, identical to vm.Step.String.
func (r Record) String() string {
	if r.Instruction == vm.UnrecognizedInstruction {
		return r.Instruction
	}
	var sb strings.Builder
	sb.WriteString(r.Instruction)
	sb.WriteString(" ;")
	if r.Changes != "" {
		sb.WriteByte(' ')
		sb.WriteString(r.Changes)
	}
	fmt.Fprintf(&sb, " ip:%#x->%#x", r.IP, r.NextIP)
	if r.FlagsBefore != r.FlagsAfter {
		fmt.Fprintf(&sb, " flags:%s->%s", r.FlagsBefore, r.FlagsAfter)
	}
	return sb.String()
}

// Register returns the value of a 16-bit register after the step.
func (r Record) Register(name string) (uint16, bool) {
	for i := uint8(0); i < vm.NumRegisters; i++ {
		if vm.CellName(i) == name {
			return r.Registers[i], true
		}
	}
	return 0, false
}

// ===== Observers =====

// Recorder collects steps as Records. The hlt appended by Load is skipped
// so that a trace lists only instructions of the program itself.
type Recorder struct {
	records []Record
	limit   int
	dropped int
}

// NewRecorder creates an unbounded Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetLimit caps the number of records kept. Later steps are counted but
// dropped. Zero means no limit.
func (r *Recorder) SetLimit(n int) {
	r.limit = n
}

// Observe implements vm.StepObserver.
func (r *Recorder) Observe(s vm.Step) {
	if s.Sentinel {
		return
	}
	if r.limit > 0 && len(r.records) >= r.limit {
		if r.dropped == 0 {
			logger.Warningf("trace limit of %d steps reached, dropping the rest", r.limit)
		}
		r.dropped++
		return
	}
	r.records = append(r.records, NewRecord(s))
}

// Records returns the recorded trace.
func (r *Recorder) Records() []Record {
	return r.records
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	return len(r.records)
}

// Dropped returns how many steps were not kept because of the limit.
func (r *Recorder) Dropped() int {
	return r.dropped
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.records = r.records[:0]
	r.dropped = 0
}

// TextWriter writes one trace line per step. The first write error is
// kept and reported by Err; later steps are ignored.
type TextWriter struct {
	w   io.Writer
	err error
}

// NewTextWriter creates a TextWriter writing to w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Observe implements vm.StepObserver.
func (t *TextWriter) Observe(s vm.Step) {
	if t.err != nil || s.Sentinel {
		return
	}
	_, t.err = fmt.Fprintln(t.w, s.String())
}

// Err returns the first write error.
func (t *TextWriter) Err() error {
	return t.err
}

type tee []vm.StepObserver

func (t tee) Observe(s vm.Step) {
	for _, o := range t {
		o.Observe(s)
	}
}

// Tee returns an observer forwarding every step to each non-nil observer.
func Tee(observers ...vm.StepObserver) vm.StepObserver {
	var t tee
	for _, o := range observers {
		if o != nil {
			t = append(t, o)
		}
	}
	if len(t) == 1 {
		return t[0]
	}
	return t
}
