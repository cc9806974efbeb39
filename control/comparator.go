// Package control provides the structured builders that expand into Flounder
// IR: scoped conditionals and loops, function calls, context markers and a
// small code-generation library.
package control

import "github.com/tunadb/flounder/ir"

// Comparator is a comparison together with the jump kind that fires when it
// holds. Builders emit inverted comparators to jump over a scope when the
// condition fails.
type Comparator struct {
	kind   ir.JumpKind
	left   ir.Operand
	right  ir.Operand
	likely bool
}

func newComparator(kind ir.JumpKind, left, right ir.Operand, likely bool) Comparator {
	return Comparator{kind: kind, left: left, right: right, likely: likely}
}

func IsEquals(left, right ir.Operand) Comparator        { return newComparator(ir.JE, left, right, true) }
func IsNotEquals(left, right ir.Operand) Comparator     { return newComparator(ir.JNE, left, right, true) }
func IsLower(left, right ir.Operand) Comparator         { return newComparator(ir.JL, left, right, true) }
func IsLowerEquals(left, right ir.Operand) Comparator   { return newComparator(ir.JLE, left, right, true) }
func IsGreater(left, right ir.Operand) Comparator       { return newComparator(ir.JG, left, right, true) }
func IsGreaterEquals(left, right ir.Operand) Comparator { return newComparator(ir.JGE, left, right, true) }

// Unlikely marks the comparison as unlikely to hold.
func (c Comparator) Unlikely() Comparator {
	c.likely = false
	return c
}

// Invert negates the comparison.
func (c Comparator) Invert() Comparator {
	c.kind = c.kind.Inverse()
	return c
}

// Emit appends the cmp/jump pair targeting the given label.
func (c Comparator) Emit(program *ir.Program, destination ir.Label) {
	cmp := ir.Cmp(c.left, c.right)
	if !c.likely {
		cmp.MarkUnlikely()
	}
	program.Emit(cmp, ir.Jump(c.kind, destination))
}
