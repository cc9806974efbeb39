package control

import (
	"fmt"

	"github.com/tunadb/flounder/ir"
)

// The builders in this file emit the opening half of a construct on creation
// and the closing half in Close. Callers pair construction with a deferred or
// explicit Close so the matching section and labels are released on every
// exit path:
//
//	loop := control.NewForRange(program, 0, ir.Reg(bound))
//	// ... emit the loop body ...
//	loop.Close()

// If emits cmp + inverted jump over the scope; Close binds the end label.
type If struct {
	program *ir.Program
	foot    ir.Label
}

func NewIf(program *ir.Program, comparator Comparator) *If {
	return NewNamedIf(program, comparator, "if")
}

func NewNamedIf(program *ir.Program, comparator Comparator, name string) *If {
	foot := program.Label(fmt.Sprintf("end_%s_%d", name, program.NextID()))
	comparator.Invert().Emit(program, foot)
	return &If{program: program, foot: foot}
}

func (i *If) FootLabel() ir.Label { return i.foot }

func (i *If) Close() {
	i.program.Emit(ir.Section(i.foot))
}

// While guards on entry and re-checks the condition at the foot.
type While struct {
	program    *ir.Program
	comparator Comparator
	head       ir.Label
	foot       ir.Label
}

func NewWhile(program *ir.Program, comparator Comparator) *While {
	return NewNamedWhile(program, comparator, "while_loop")
}

func NewNamedWhile(program *ir.Program, comparator Comparator, name string) *While {
	id := program.NextID()
	w := &While{
		program:    program,
		comparator: comparator,
		head:       program.Label(fmt.Sprintf("begin_%s_%d", name, id)),
		foot:       program.Label(fmt.Sprintf("end_%s_%d", name, id)),
	}
	comparator.Invert().Emit(program, w.foot)
	program.Emit(ir.Section(w.head))
	return w
}

func (w *While) Close() {
	w.comparator.Emit(w.program, w.head)
	w.program.Emit(ir.Section(w.foot))
}

// DoWhile runs the body at least once and re-checks at the foot.
type DoWhile struct {
	program    *ir.Program
	comparator Comparator
	head       ir.Label
	foot       ir.Label
}

func NewDoWhile(program *ir.Program, comparator Comparator) *DoWhile {
	id := program.NextID()
	d := &DoWhile{
		program:    program,
		comparator: comparator,
		head:       program.Label(fmt.Sprintf("begin_while_loop_%d", id)),
		foot:       program.Label(fmt.Sprintf("end_while_loop_%d", id)),
	}
	program.Emit(ir.Section(d.head))
	return d
}

func (d *DoWhile) FootLabel() ir.Label { return d.foot }

func (d *DoWhile) Close() {
	d.comparator.Emit(d.program, d.head)
	d.program.Emit(ir.Section(d.foot))
}

// For emits a head section with an inverted guard; Close emits the step, the
// back edge and the foot section.
type For struct {
	program *ir.Program
	step    ir.Instruction
	head    ir.Label
	stepL   ir.Label
	foot    ir.Label
}

func NewFor(program *ir.Program, comparator Comparator, step ir.Instruction) *For {
	return NewNamedFor(program, comparator, step, "for_loop")
}

func NewNamedFor(program *ir.Program, comparator Comparator, step ir.Instruction, name string) *For {
	id := program.NextID()
	f := &For{
		program: program,
		step:    step,
		head:    program.Label(fmt.Sprintf("begin_%s_%d", name, id)),
		stepL:   program.Label(fmt.Sprintf("step_%s_%d", name, id)),
		foot:    program.Label(fmt.Sprintf("end_%s_%d", name, id)),
	}
	program.Emit(ir.Section(f.head))
	comparator.Invert().Emit(program, f.foot)
	return f
}

func (f *For) StepLabel() ir.Label { return f.stepL }
func (f *For) FootLabel() ir.Label { return f.foot }

func (f *For) Close() {
	f.program.Emit(
		ir.Section(f.stepL),
		f.step,
		ir.Jmp(f.head),
		ir.Section(f.foot),
	)
}

// ForEach is a pointer-bump loop from begin to end in item-size steps.
type ForEach struct {
	program  *ir.Program
	head     ir.Label
	stepL    ir.Label
	foot     ir.Label
	begin    ir.Register
	end      ir.Register
	itemSize uint32
}

func NewForEach(program *ir.Program, begin, end ir.Register, itemSize uint32) *ForEach {
	return NewNamedForEach(program, begin, end, itemSize, "foreach_loop")
}

func NewNamedForEach(program *ir.Program, begin, end ir.Register, itemSize uint32, name string) *ForEach {
	id := program.NextID()
	f := &ForEach{
		program:  program,
		head:     program.Label(fmt.Sprintf("begin_%s_%d", name, id)),
		stepL:    program.Label(fmt.Sprintf("step_%s_%d", name, id)),
		foot:     program.Label(fmt.Sprintf("end_%s_%d", name, id)),
		begin:    begin,
		end:      end,
		itemSize: itemSize,
	}
	program.Emit(
		ir.Cmp(ir.Reg(begin), ir.Reg(end)),
		ir.Jge(f.foot),
		ir.Section(f.head),
	)
	return f
}

func (f *ForEach) StepLabel() ir.Label { return f.stepL }
func (f *ForEach) FootLabel() ir.Label { return f.foot }

func (f *ForEach) Close() {
	f.program.Emit(
		ir.Section(f.stepL),
		ir.Add(ir.Reg(f.begin), ir.Imm(ir.Const32(int32(f.itemSize)))),
		ir.Cmp(ir.Reg(f.begin), ir.Reg(f.end)),
		ir.Jl(f.head),
		ir.Section(f.foot),
	)
}

// ForRange allocates a 64-bit counter, guards entry, and counts from init up
// to (exclusively) end. Close emits the step, the back edge, the foot section
// and the counter clear.
type ForRange struct {
	program *ir.Program
	head    ir.Label
	stepL   ir.Label
	foot    ir.Label
	counter ir.Register
	end     ir.Operand
}

func NewForRange(program *ir.Program, init uint64, end ir.Operand) *ForRange {
	return NewNamedForRange(program, init, end, "for_range")
}

func NewForRangeConst(program *ir.Program, init, end uint64) *ForRange {
	return NewNamedForRange(program, init, ir.Imm(ir.Const64(int64(end))), "for_range")
}

func NewNamedForRange(program *ir.Program, init uint64, end ir.Operand, name string) *ForRange {
	id := program.NextID()
	f := &ForRange{
		program: program,
		head:    program.Label(fmt.Sprintf("begin_%s_%d", name, id)),
		stepL:   program.Label(fmt.Sprintf("step_%s_%d", name, id)),
		foot:    program.Label(fmt.Sprintf("end_%s_%d", name, id)),
		counter: program.Vreg(fmt.Sprintf("%s_counter_%d", name, id)),
		end:     end,
	}

	program.Emit(ir.RequestVreg64(f.counter))
	if init == 0 {
		program.Emit(ir.Xor(ir.Reg(f.counter), ir.Reg(f.counter)))
	} else {
		program.Emit(ir.Mov(ir.Reg(f.counter), ir.Imm(ir.Const64(int64(init)))))
	}

	// When the bound is known at compile time the entry guard is decided
	// here: either the loop is skipped entirely or no guard is needed.
	if end.IsConstant() {
		if int64(init) >= end.Constant().Value() {
			program.Emit(ir.Jmp(f.foot))
		}
	} else {
		program.Emit(
			ir.Cmp(ir.Reg(f.counter), end),
			ir.Jge(f.foot),
		)
	}

	program.Emit(ir.Section(f.head))
	return f
}

func (f *ForRange) CounterVreg() ir.Register { return f.counter }
func (f *ForRange) StepLabel() ir.Label      { return f.stepL }
func (f *ForRange) FootLabel() ir.Label      { return f.foot }

func (f *ForRange) Close() {
	f.program.Emit(
		ir.Section(f.stepL),
		ir.Add(ir.Reg(f.counter), ir.Imm(ir.Const8(1))),
		ir.Cmp(ir.Reg(f.counter), f.end),
		ir.Jl(f.head),
		ir.Section(f.foot),
		ir.Clear(f.counter),
	)
}

// FunctionCall accumulates call arguments and emits a single Fcall in Call.
type FunctionCall struct {
	program  *ir.Program
	fn       uintptr
	ret      ir.Register
	hasRet   bool
	namedRet string
}

func NewFunctionCall(program *ir.Program, fn uintptr) *FunctionCall {
	return &FunctionCall{program: program, fn: fn}
}

// NewFunctionCallNamed requests a fresh 64-bit return vreg with the given
// name when Call runs.
func NewFunctionCallNamed(program *ir.Program, fn uintptr, returnVregName string) *FunctionCall {
	return &FunctionCall{program: program, fn: fn, namedRet: returnVregName}
}

func NewFunctionCallInto(program *ir.Program, fn uintptr, returnVreg ir.Register) *FunctionCall {
	return &FunctionCall{program: program, fn: fn, ret: returnVreg, hasRet: true}
}

// Call emits the accumulated Fcall and returns the return vreg, if any.
func (f *FunctionCall) Call(arguments ...ir.Operand) (ir.Register, bool) {
	if f.namedRet != "" {
		f.ret = f.program.Vreg(f.namedRet)
		f.hasRet = true
		f.program.Emit(ir.RequestVreg64(f.ret))
	}

	if f.hasRet {
		f.program.Emit(ir.FcallRet(f.fn, f.ret, arguments...))
	} else {
		f.program.Emit(ir.Fcall(f.fn, arguments...))
	}
	return f.ret, f.hasRet
}

// ContextGuard brackets emitted code with context markers for the assembly
// listing.
type ContextGuard struct {
	program *ir.Program
	name    string
}

func NewContextGuard(program *ir.Program, name string) *ContextGuard {
	program.Emit(ir.ContextBegin(name))
	return &ContextGuard{program: program, name: name}
}

func (c *ContextGuard) Close() {
	c.program.Emit(ir.ContextEnd(c.name))
}
