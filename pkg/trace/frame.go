package trace

import (
	"errors"
	"fmt"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/sim86/pkg/vm"
)

// Error definitions
var (
	ErrMissingColumn = errors.New("missing trace column")
	ErrInvalidValue  = errors.New("invalid trace value")
)

// Column names of a trace DataFrame. Register columns follow, named after
// the 16-bit registers in encoding order (ax cx dx bx sp bp si di).
const (
	ColStep        = "step"
	ColIP          = "ip"
	ColNextIP      = "next_ip"
	ColInstruction = "instruction"
	ColChanges     = "changes"
	ColFlagsBefore = "flags_before"
	ColFlagsAfter  = "flags_after"
	ColBranched    = "branched"
)

// Columns returns every column of a trace DataFrame in order.
func Columns() []string {
	cols := []string{ColStep, ColIP, ColNextIP, ColInstruction, ColChanges, ColFlagsBefore, ColFlagsAfter, ColBranched}
	for i := uint8(0); i < vm.NumRegisters; i++ {
		cols = append(cols, vm.CellName(i))
	}
	return cols
}

// ColumnTypes maps each column to the dataframe-go type it is stored as,
// in the form expected by the imports DictateDataType options.
func ColumnTypes() map[string]interface{} {
	types := map[string]interface{}{
		ColStep:        int64(0),
		ColIP:          int64(0),
		ColNextIP:      int64(0),
		ColInstruction: "",
		ColChanges:     "",
		ColFlagsBefore: "",
		ColFlagsAfter:  "",
		ColBranched:    int64(0),
	}
	for i := uint8(0); i < vm.NumRegisters; i++ {
		types[vm.CellName(i)] = int64(0)
	}
	return types
}

// ToDataFrame builds a DataFrame with one row per record. Branched is
// stored as 0/1 so that every export format can carry it.
func ToDataFrame(records []Record) *dataframe.DataFrame {
	n := len(records)
	steps := make([]int64, n)
	ips := make([]int64, n)
	nextIPs := make([]int64, n)
	insts := make([]string, n)
	changes := make([]string, n)
	before := make([]string, n)
	after := make([]string, n)
	branched := make([]int64, n)
	var regs [vm.NumRegisters][]int64
	for i := range regs {
		regs[i] = make([]int64, n)
	}

	for i, r := range records {
		steps[i] = r.Step
		ips[i] = int64(r.IP)
		nextIPs[i] = int64(r.NextIP)
		insts[i] = r.Instruction
		changes[i] = r.Changes
		before[i] = r.FlagsBefore
		after[i] = r.FlagsAfter
		if r.Branched {
			branched[i] = 1
		}
		for c := range regs {
			regs[c][i] = int64(r.Registers[c])
		}
	}

	series := []dataframe.Series{
		newInt64Series(ColStep, steps),
		newInt64Series(ColIP, ips),
		newInt64Series(ColNextIP, nextIPs),
		newStringSeries(ColInstruction, insts),
		newStringSeries(ColChanges, changes),
		newStringSeries(ColFlagsBefore, before),
		newStringSeries(ColFlagsAfter, after),
		newInt64Series(ColBranched, branched),
	}
	for c := range regs {
		series = append(series, newInt64Series(vm.CellName(uint8(c)), regs[c]))
	}
	return dataframe.NewDataFrame(series...)
}

// FromDataFrame reads records back from a trace DataFrame. Every column
// must be present. Missing string values read as empty.
func FromDataFrame(df *dataframe.DataFrame) ([]Record, error) {
	cols := make(map[string]dataframe.Series)
	for _, name := range Columns() {
		s, ok := getDataFrameColumn(df, name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		cols[name] = s
	}

	n := getDataFrameLength(df)
	records := make([]Record, n)
	for i := 0; i < n; i++ {
		r := &records[i]

		step, err := int64Cell(cols, ColStep, i)
		if err != nil {
			return nil, err
		}
		r.Step = step

		ip, err := wordCell(cols, ColIP, i)
		if err != nil {
			return nil, err
		}
		r.IP = ip

		next, err := wordCell(cols, ColNextIP, i)
		if err != nil {
			return nil, err
		}
		r.NextIP = next

		branched, err := int64Cell(cols, ColBranched, i)
		if err != nil {
			return nil, err
		}
		r.Branched = branched != 0

		r.Instruction = getStringValue(cols[ColInstruction], i)
		r.Changes = getStringValue(cols[ColChanges], i)
		r.FlagsBefore = getStringValue(cols[ColFlagsBefore], i)
		r.FlagsAfter = getStringValue(cols[ColFlagsAfter], i)

		for c := uint8(0); c < vm.NumRegisters; c++ {
			v, err := wordCell(cols, vm.CellName(c), i)
			if err != nil {
				return nil, err
			}
			r.Registers[c] = v
		}
	}
	return records, nil
}

func int64Cell(cols map[string]dataframe.Series, name string, row int) (int64, error) {
	v, ok := getInt64Value(cols[name], row)
	if !ok {
		return 0, fmt.Errorf("%w: %s at row %d", ErrInvalidValue, name, row)
	}
	return v, nil
}

func wordCell(cols map[string]dataframe.Series, name string, row int) (uint16, error) {
	v, err := int64Cell(cols, name, row)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("%w: %s=%d at row %d", ErrInvalidValue, name, v, row)
	}
	return uint16(v), nil
}
