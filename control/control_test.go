package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tunadb/flounder/ir"
)

func bodyOps(p *ir.Program) []ir.Opcode {
	ops := make([]ir.Opcode, 0, p.Body().Len())
	for _, line := range p.Body().Lines() {
		ops = append(ops, line.Op())
	}
	return ops
}

func TestIfEmitsInvertedGuardAndFoot(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	branch := NewIf(p, IsEquals(ir.Reg(v), ir.Imm(ir.Const32(1))))
	p.Emit(ir.Nop())
	branch.Close()

	require.Equal(t, []ir.Opcode{ir.OpCmp, ir.OpJump, ir.OpNop, ir.OpSection}, bodyOps(p))
	// The guard jumps over the scope when the condition fails.
	require.Equal(t, ir.JNE, p.Body().At(1).JumpKind())
	require.Equal(t, branch.FootLabel(), p.Body().At(1).Label())
	require.Equal(t, branch.FootLabel(), p.Body().At(3).Label())
}

func TestWhileChecksOnEntryAndAtFoot(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	loop := NewWhile(p, IsLower(ir.Reg(v), ir.Imm(ir.Const32(10))))
	p.Emit(ir.Inc(ir.Reg(v)))
	loop.Close()

	require.Equal(t, []ir.Opcode{
		ir.OpCmp, ir.OpJump, // inverted entry guard
		ir.OpSection,        // head
		ir.OpInc,            // body
		ir.OpCmp, ir.OpJump, // re-entry check
		ir.OpSection, // foot
	}, bodyOps(p))
	require.Equal(t, ir.JGE, p.Body().At(1).JumpKind())
	require.Equal(t, ir.JL, p.Body().At(5).JumpKind())
}

func TestDoWhileRunsBodyFirst(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	loop := NewDoWhile(p, IsGreater(ir.Reg(v), ir.Imm(ir.Const32(0))))
	p.Emit(ir.Dec(ir.Reg(v)))
	loop.Close()

	require.Equal(t, []ir.Opcode{
		ir.OpSection, ir.OpDec, ir.OpCmp, ir.OpJump, ir.OpSection,
	}, bodyOps(p))
}

func TestForRangeZeroInitUsesXor(t *testing.T) {
	p := ir.NewProgram()
	bound := p.Vreg("bound")

	loop := NewForRange(p, 0, ir.Reg(bound))
	p.Emit(ir.Nop())
	loop.Close()

	ops := bodyOps(p)
	require.Equal(t, []ir.Opcode{
		ir.OpRequestVreg, ir.OpXor, // counter = 0
		ir.OpCmp, ir.OpJump, // entry guard
		ir.OpSection, // head
		ir.OpNop,
		ir.OpSection, ir.OpAdd, // step
		ir.OpCmp, ir.OpJump, // back edge
		ir.OpSection, ir.OpClearVreg,
	}, ops)
	require.Equal(t, ir.Width64, p.Body().At(0).VregWidth())
}

func TestForRangeConstantBoundSkipsRuntimeGuard(t *testing.T) {
	p := ir.NewProgram()

	loop := NewForRangeConst(p, 0, 8)
	loop.Close()

	// A loop statically known to run has no entry guard: head follows the
	// initializer directly, and the only cmp is the back edge.
	require.Equal(t, []ir.Opcode{
		ir.OpRequestVreg, ir.OpXor,
		ir.OpSection,
		ir.OpSection, ir.OpAdd, ir.OpCmp, ir.OpJump,
		ir.OpSection, ir.OpClearVreg,
	}, bodyOps(p))
}

func TestForRangeEmptyConstantRangeJumpsOverBody(t *testing.T) {
	p := ir.NewProgram()

	loop := NewForRangeConst(p, 5, 5)
	loop.Close()

	require.Equal(t, ir.OpJump, p.Body().At(2).Op())
	require.Equal(t, ir.JMP, p.Body().At(2).JumpKind())
}

func TestForEachBumpsPointer(t *testing.T) {
	p := ir.NewProgram()
	begin, end := p.Vreg("begin"), p.Vreg("end")

	loop := NewForEach(p, begin, end, 16)
	p.Emit(ir.Nop())
	loop.Close()

	require.Equal(t, []ir.Opcode{
		ir.OpCmp, ir.OpJump,
		ir.OpSection,
		ir.OpNop,
		ir.OpSection, ir.OpAdd, ir.OpCmp, ir.OpJump,
		ir.OpSection,
	}, bodyOps(p))

	step := p.Body().At(5)
	require.Equal(t, int64(16), step.Operand(1).Constant().Value())
}

func TestFunctionCallEmitsFcallWithReturnVreg(t *testing.T) {
	p := ir.NewProgram()

	ret, ok := NewFunctionCallNamed(p, 0x1234, "hash").Call(ir.Reg(p.Vreg("key")))
	require.True(t, ok)
	require.Equal(t, "hash", ret.Name())

	require.Equal(t, []ir.Opcode{ir.OpRequestVreg, ir.OpFcall}, bodyOps(p))
	call := p.Body().At(1)
	require.Equal(t, uintptr(0x1234), call.FunctionPtr())
	require.Len(t, call.Arguments(), 1)
}

func TestContextGuardBrackets(t *testing.T) {
	p := ir.NewProgram()

	guard := NewContextGuard(p, "probe")
	p.Emit(ir.Nop())
	guard.Close()

	require.Equal(t, []ir.Opcode{ir.OpContextBegin, ir.OpNop, ir.OpContextEnd}, bodyOps(p))
	require.Equal(t, "probe", p.Body().At(0).Text())
}

func TestMemcpyUnrollsBlocks(t *testing.T) {
	p := ir.NewProgram()
	dst, src := p.Vreg("dst"), p.Vreg("src")

	Memcpy(p, dst, src, 15)

	// 8 + 4 + 2 + 1 bytes: one vreg and one load/store pair per block size.
	var movs, requests int
	for _, line := range p.Body().Lines() {
		switch line.Op() {
		case ir.OpMov:
			movs++
		case ir.OpRequestVreg:
			requests++
		}
	}
	require.Equal(t, 8, movs)
	require.Equal(t, 4, requests)
}
