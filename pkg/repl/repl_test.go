package repl

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akhildatla/sim86/internal/testutil"
	"github.com/akhildatla/sim86/pkg/vm"
)

var countdown = testutil.CountdownProgram()

func newLoaded(t *testing.T) *REPL {
	t.Helper()
	r := New()
	if err := r.LoadProgram(countdown, "countdown"); err != nil {
		t.Fatalf("LoadProgram failed: %v", err)
	}
	return r
}

func TestREPL_New(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.mode != ModeStep {
		t.Errorf("expected step mode, got %v", r.mode)
	}
	if r.vm.Stats() == nil {
		t.Error("expected stats to be enabled")
	}
}

func TestREPL_SetMode(t *testing.T) {
	r := New()
	r.SetMode(ModeASM)
	if r.mode != ModeASM {
		t.Errorf("expected ASM mode, got %v", r.mode)
	}
	r.SetMode(ModeStep)
	if r.mode != ModeStep {
		t.Errorf("expected step mode, got %v", r.mode)
	}
}

func TestREPL_HandleCommand_Help(t *testing.T) {
	r := New()
	var out bytes.Buffer

	tests := []string{"help", "h", "?"}
	for _, cmd := range tests {
		out.Reset()
		handled := r.handleCommand(cmd, &out)
		if !handled {
			t.Errorf("expected help command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "sim86 Debugger Commands") {
			t.Errorf("expected help text, got: %s", out.String())
		}
	}
}

func TestREPL_HandleCommand_Quit(t *testing.T) {
	tests := []string{"quit", "exit", "q"}
	for _, cmd := range tests {
		r := New()
		var out bytes.Buffer
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected quit command '%s' to be handled", cmd)
		}
		if !strings.Contains(out.String(), "Goodbye") {
			t.Errorf("expected goodbye message, got: %s", out.String())
		}
		if !r.done {
			t.Errorf("expected '%s' to end the session", cmd)
		}
	}
}

func TestREPL_HandleCommand_Mode(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.handleCommand("mode asm", &out)
	if r.mode != ModeASM {
		t.Errorf("expected ASM mode, got %v", r.mode)
	}
	r.handleCommand("mode step", &out)
	if r.mode != ModeStep {
		t.Errorf("expected step mode, got %v", r.mode)
	}

	out.Reset()
	r.handleCommand("mode", &out)
	if !strings.Contains(out.String(), "Current mode: step") {
		t.Errorf("expected current mode, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("mode dsl", &out)
	if !strings.Contains(out.String(), "Unknown mode") {
		t.Errorf("expected unknown mode message, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Step(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("step", &out)
	if got := strings.TrimSpace(out.String()); got != "mov cx, 3 ; cx:0x0->0x3 ip:0x0->0x3" {
		t.Errorf("unexpected step output %q", got)
	}

	out.Reset()
	r.handleCommand("s 3", &out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[2] != "loop -2 ; cx:0x1->0x0 ip:0x3->0x5" {
		t.Errorf("unexpected step output %q", lines)
	}

	out.Reset()
	r.handleCommand("step x", &out)
	if !strings.Contains(out.String(), "Usage: step") {
		t.Errorf("expected usage, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_StepPastHalt(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("step 10", &out)
	if !strings.Contains(out.String(), "Machine halted (hlt) at ip 0x0007") {
		t.Errorf("expected halt message, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Run(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("run", &out)
	if !strings.Contains(out.String(), "Halted (hlt) at ip 0x0007 after 6 steps") {
		t.Errorf("unexpected run output: %s", out.String())
	}

	out.Reset()
	r.handleCommand("run", &out)
	if !strings.Contains(out.String(), "Machine halted") {
		t.Errorf("expected halted message, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("reset", &out)
	if r.vm.IP() != 0 || r.vm.Halted() || r.rec.Len() != 0 {
		t.Error("expected reset machine")
	}
}

func TestREPL_HandleCommand_Regs(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("step", &out)
	out.Reset()
	r.handleCommand("regs", &out)
	output := out.String()

	for _, want := range []string{"REGISTER", "cx", "0x0003", "ip"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in registers table:\n%s", want, output)
		}
	}
}

func TestREPL_HandleCommand_Mem(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("mem 0 8", &out)
	if got := strings.TrimSpace(out.String()); got != "0000  b9 03 00 e2 fe 29 c9 f4" {
		t.Errorf("unexpected dump %q", got)
	}

	out.Reset()
	r.handleCommand("mem 0xfff8", &out)
	if got := strings.TrimSpace(out.String()); got != "fff8  00 00 00 00 00 00 00 00" {
		t.Errorf("expected dump clipped at end of memory, got %q", got)
	}

	out.Reset()
	r.handleCommand("mem 0x10000", &out)
	if !strings.Contains(out.String(), "invalid address") {
		t.Errorf("expected invalid address, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("mem", &out)
	if !strings.Contains(out.String(), "Usage: mem") {
		t.Errorf("expected usage, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Disasm(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("step", &out)
	out.Reset()
	r.handleCommand("disasm 2", &out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", lines)
	}
	if !strings.HasPrefix(lines[0], "=> 0003") || !strings.HasSuffix(lines[0], "loop -2") {
		t.Errorf("unexpected current line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "sub cx, cx") {
		t.Errorf("unexpected next line %q", lines[1])
	}
}

func TestREPL_HandleCommand_Asm(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.handleCommand("asm mov cx, 5", &out)
	r.handleCommand("a add cx, 2", &out)
	if cx := r.vm.Registers().Cell(vm.RegCX); cx != 7 {
		t.Errorf("expected cx=7, got %d\n%s", cx, out.String())
	}
	if r.vm.IP() != 6 {
		t.Errorf("expected ip 6, got %d", r.vm.IP())
	}

	out.Reset()
	r.handleCommand("asm xchg ax, bx", &out)
	if !strings.Contains(out.String(), "Error:") {
		t.Errorf("expected assembler error, got: %s", out.String())
	}

	if len(r.history) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(r.history))
	}
}

func TestREPL_HandleCommand_Plot(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("plot cx", &out)
	if !strings.Contains(out.String(), "trace has no steps") {
		t.Errorf("expected empty trace error, got: %s", out.String())
	}

	r.handleCommand("run", &out)
	out.Reset()
	r.handleCommand("plot cx", &out)
	if !strings.Contains(out.String(), "cx over 5 steps") {
		t.Errorf("expected graph, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Stats(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer

	r.handleCommand("run", &out)
	out.Reset()
	r.handleCommand("stats", &out)
	output := out.String()

	if !strings.Contains(output, "Steps: 6  Branches taken: 2  Bytes executed: 8") {
		t.Errorf("unexpected stats summary:\n%s", output)
	}
	if !strings.Contains(output, "loop") || !strings.Contains(output, "MNEMONIC") {
		t.Errorf("expected mnemonic table:\n%s", output)
	}
}

func TestREPL_HandleCommand_Save(t *testing.T) {
	r := newLoaded(t)
	var out bytes.Buffer
	r.handleCommand("run", &out)

	path := filepath.Join(t.TempDir(), "trace.csv")
	out.Reset()
	r.handleCommand("save "+path, &out)
	if !strings.Contains(out.String(), "Saved 5 steps") {
		t.Errorf("unexpected save output: %s", out.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected trace file: %v", err)
	}

	out.Reset()
	r.handleCommand("save trace.txt", &out)
	if !strings.Contains(out.String(), "Error:") {
		t.Errorf("expected format error, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Load(t *testing.T) {
	r := New()
	var out bytes.Buffer

	path := testutil.TempProgram(t, countdown)

	r.handleCommand("load "+path, &out)
	if !strings.Contains(out.String(), "(7 bytes)") {
		t.Errorf("unexpected load output: %s", out.String())
	}
	if r.program != path {
		t.Errorf("expected program %s, got %s", path, r.program)
	}

	out.Reset()
	r.handleCommand("load", &out)
	if !strings.Contains(out.String(), "Usage: load") {
		t.Errorf("expected usage, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("load "+filepath.Join(t.TempDir(), "missing"), &out)
	if !strings.Contains(out.String(), "Error loading") {
		t.Errorf("expected load error, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_History(t *testing.T) {
	r := New()
	r.history = []string{"mov cx, 1", "add cx, 2"}

	var out bytes.Buffer
	r.handleCommand("history", &out)
	output := out.String()

	if !strings.Contains(output, "1: mov cx, 1") || !strings.Contains(output, "2: add cx, 2") {
		t.Errorf("unexpected history: %s", output)
	}
}

func TestREPL_HandleCommand_Empty(t *testing.T) {
	r := New()
	var out bytes.Buffer

	if !r.handleCommand("   ", &out) {
		t.Error("expected empty line to be handled")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got: %s", out.String())
	}
}

func TestREPL_HandleCommand_Unknown(t *testing.T) {
	r := New()
	var out bytes.Buffer

	if !r.handleCommand("mov cx, 1", &out) {
		t.Error("expected unknown command to be handled in step mode")
	}
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("expected unknown command message, got: %s", out.String())
	}

	r.SetMode(ModeASM)
	if r.handleCommand("mov cx, 1", &out) {
		t.Error("expected instruction to fall through in asm mode")
	}
}

func TestREPL_Start_BasicInteraction(t *testing.T) {
	r := newLoaded(t)
	in := strings.NewReader("step\nregs\nquit\nstep\n")
	var out bytes.Buffer

	r.Start(in, &out)
	output := out.String()

	if !strings.Contains(output, "sim86 debugger") {
		t.Error("expected banner")
	}
	if strings.Count(output, "ip:0x") != 1 {
		t.Errorf("expected exactly one step before quit:\n%s", output)
	}
	if !strings.Contains(output, "Goodbye") {
		t.Error("expected goodbye")
	}
}

func TestREPL_Start_AsmMode(t *testing.T) {
	r := New()
	in := strings.NewReader("mode asm\nmov ax, 0x7fff\nadd ax, 1\n")
	var out bytes.Buffer

	r.Start(in, &out)

	if ax := r.vm.Registers().Cell(vm.RegAX); ax != 0x8000 {
		t.Errorf("expected ax=0x8000, got %#x", ax)
	}
	if !strings.Contains(out.String(), "flags:->S") {
		t.Errorf("expected sign flag in trace:\n%s", out.String())
	}
	if !strings.Contains(out.String(), promptASM) {
		t.Error("expected asm prompt")
	}
}

func TestREPL_Start_MultilineInput(t *testing.T) {
	r := New()
	in := strings.NewReader("mode asm\nmov cx, 2 \\\ntop:\nloop top\n\n")
	var out bytes.Buffer

	r.Start(in, &out)

	if cx := r.vm.Registers().Cell(vm.RegCX); cx != 1 {
		t.Errorf("expected cx=1 after one loop step, got %d\n%s", cx, out.String())
	}
	if !strings.Contains(out.String(), promptCont) {
		t.Error("expected continuation prompt")
	}
}
