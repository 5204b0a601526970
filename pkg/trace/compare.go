package trace

import (
	"fmt"

	"github.com/akhildatla/sim86/pkg/vm"
)

// Mismatch is one difference between an expected and an actual trace.
type Mismatch struct {
	Step  int // row index, -1 for a length mismatch
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	if m.Step < 0 {
		return fmt.Sprintf("%s: want %s, got %s", m.Field, m.Want, m.Got)
	}
	return fmt.Sprintf("step %d %s: want %q, got %q", m.Step, m.Field, m.Want, m.Got)
}

// Compare reports every field that differs between want and got, row by
// row. Step numbers are not compared so that a golden trace may be
// renumbered.
func Compare(want, got []Record) []Mismatch {
	var out []Mismatch
	if len(want) != len(got) {
		out = append(out, Mismatch{
			Step:  -1,
			Field: "length",
			Want:  fmt.Sprint(len(want)),
			Got:   fmt.Sprint(len(got)),
		})
	}

	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		w, g := want[i], got[i]
		add := func(field, a, b string) {
			if a != b {
				out = append(out, Mismatch{Step: i, Field: field, Want: a, Got: b})
			}
		}
		add(ColInstruction, w.Instruction, g.Instruction)
		add(ColIP, hex(w.IP), hex(g.IP))
		add(ColNextIP, hex(w.NextIP), hex(g.NextIP))
		add(ColChanges, w.Changes, g.Changes)
		add(ColFlagsAfter, w.FlagsAfter, g.FlagsAfter)
		add(ColBranched, fmt.Sprint(w.Branched), fmt.Sprint(g.Branched))
		for c := uint8(0); c < vm.NumRegisters; c++ {
			add(vm.CellName(c), hex(w.Registers[c]), hex(g.Registers[c]))
		}
	}

	if len(out) > 0 {
		logger.Debugf("trace comparison found %d mismatches", len(out))
	}
	return out
}

func hex(v uint16) string {
	return fmt.Sprintf("%#x", v)
}
