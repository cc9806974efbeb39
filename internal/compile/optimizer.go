package compile

import "github.com/tunadb/flounder/ir"

// Optimize runs the post-allocation peephole pass over all three sections.
// Only rewrites with no architectural effect are applied: same-register moves
// at 64, 16 and 8 bits encode nothing at all (32-bit self-moves zero the
// upper half and stay).
func Optimize(program *ir.Program) {
	optimizeSet(program.Arguments())
	optimizeSet(program.Header())
	optimizeSet(program.Body())
}

func optimizeSet(set *ir.InstructionSet) {
	lines := set.Lines()
	kept := lines[:0]
	for idx := range lines {
		if isRemovableSelfMove(&lines[idx]) {
			continue
		}
		kept = append(kept, lines[idx])
	}
	trimmed := ir.NewInstructionSet(set.Name(), len(kept))
	trimmed.Append(kept...)
	set.Replace(trimmed)
}

func isRemovableSelfMove(instr *ir.Instruction) bool {
	if instr.Op() != ir.OpMov {
		return false
	}
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() || !right.IsReg() {
		return false
	}
	lr, rr := left.Register(), right.Register()
	if lr.IsVirtual() || rr.IsVirtual() {
		return false
	}
	return lr.MachineRegisterID() == rr.MachineRegisterID() &&
		lr.Width() == rr.Width() &&
		lr.Width() != ir.Width32
}
