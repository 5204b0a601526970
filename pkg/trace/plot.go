package trace

import (
	"errors"
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/akhildatla/sim86/pkg/vm"
)

// Error definitions
var (
	ErrEmptyTrace      = errors.New("trace has no steps")
	ErrUnknownRegister = errors.New("unknown register")
)

// DefaultPlotHeight is the graph height when PlotOptions leaves it unset.
const DefaultPlotHeight = 10

// PlotOptions controls the rendered graph.
type PlotOptions struct {
	Height int
	Width  int // 0 keeps one column per step
}

// RegisterSeries returns the value of a 16-bit register after every step.
func RegisterSeries(records []Record, reg string) ([]float64, error) {
	cell := -1
	for i := uint8(0); i < vm.NumRegisters; i++ {
		if vm.CellName(i) == reg {
			cell = int(i)
		}
	}
	if cell < 0 && reg != "ip" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegister, reg)
	}

	series := make([]float64, len(records))
	for i, r := range records {
		if cell < 0 {
			series[i] = float64(r.NextIP)
		} else {
			series[i] = float64(r.Registers[cell])
		}
	}
	return series, nil
}

// PlotRegister draws an ASCII graph of one register over the trace. The
// pseudo register "ip" plots the instruction pointer after each step.
func PlotRegister(records []Record, reg string, opts PlotOptions) (string, error) {
	if len(records) == 0 {
		return "", ErrEmptyTrace
	}
	series, err := RegisterSeries(records, reg)
	if err != nil {
		return "", err
	}

	height := opts.Height
	if height <= 0 {
		height = DefaultPlotHeight
	}
	options := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.Caption(fmt.Sprintf("%s over %d steps", reg, len(records))),
	}
	if opts.Width > 1 && len(series) > 1 {
		options = append(options, asciigraph.Width(opts.Width))
	}
	return asciigraph.Plot(series, options...), nil
}
