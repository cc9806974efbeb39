// Package compile implements the Flounder compilation pipeline: liveness
// analysis, linear-scan register allocation, spill-aware register assignment,
// a post-allocation peephole pass, and translation to x86-64 machine code.
package compile

import (
	"fmt"

	"github.com/tunadb/flounder/ir"
)

// LiveInterval is the half-open range of instruction timestamps between a
// vreg's declaration and its clear, together with its declared logical type.
type LiveInterval struct {
	Begin  uint64
	End    uint64
	HasEnd bool
	Width  ir.Width
	Sign   ir.Sign
}

// AnalyzeLiveness scans arguments, header and body in order, assigning each
// instruction a monotonically increasing timestamp. RequestVreg opens an
// interval, ClearVreg closes it. Intervals left open are closed at the final
// timestamp.
func AnalyzeLiveness(program *ir.Program) (map[string]*LiveInterval, error) {
	intervals := make(map[string]*LiveInterval, 128)

	timepoint, err := analyzeSet(intervals, program.Arguments(), 0)
	if err != nil {
		return nil, err
	}
	timepoint, err = analyzeSet(intervals, program.Header(), timepoint)
	if err != nil {
		return nil, err
	}
	timepoint, err = analyzeSet(intervals, program.Body(), timepoint)
	if err != nil {
		return nil, err
	}

	for _, interval := range intervals {
		if !interval.HasEnd {
			interval.End = timepoint
			interval.HasEnd = true
		}
	}
	return intervals, nil
}

func analyzeSet(intervals map[string]*LiveInterval, set *ir.InstructionSet, timepoint uint64) (uint64, error) {
	for idx := 0; idx < set.Len(); idx++ {
		instr := set.At(idx)
		switch instr.Op() {
		case ir.OpRequestVreg:
			name := instr.Vreg().Name()
			if interval, ok := intervals[name]; ok {
				if !interval.HasEnd {
					return 0, fmt.Errorf("%w: %s", ir.ErrVirtualRegisterAlreadyInUse, instr.Vreg().String())
				}
				// Re-request after a clear reopens the interval.
				interval.HasEnd = false
			} else {
				intervals[name] = &LiveInterval{
					Begin: timepoint,
					Width: instr.VregWidth(),
					Sign:  instr.VregSign(),
				}
			}
		case ir.OpClearVreg:
			if interval, ok := intervals[instr.Vreg().Name()]; ok {
				interval.End = timepoint
				interval.HasEnd = true
			}
		}
		timepoint++
	}
	return timepoint, nil
}
