package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstantWidths(t *testing.T) {
	for _, tc := range []struct {
		name     string
		constant Constant
		expWidth Width
		expValue int64
	}{
		{name: "int8", constant: Const8(-5), expWidth: Width8, expValue: -5},
		{name: "int16", constant: Const16(300), expWidth: Width16, expValue: 300},
		{name: "int32", constant: Const32(1 << 20), expWidth: Width32, expValue: 1 << 20},
		{name: "narrowed int64", constant: Const64(7), expWidth: Width32, expValue: 7},
		{name: "negative narrowed int64", constant: Const64(math.MinInt32), expWidth: Width32, expValue: math.MinInt32},
		{name: "wide int64", constant: Const64(math.MaxInt32 + 1), expWidth: Width64, expValue: math.MaxInt32 + 1},
		{name: "wide negative int64", constant: Const64(math.MinInt32 - 1), expWidth: Width64, expValue: math.MinInt32 - 1},
		{name: "address", constant: ConstAddress(0x10), expWidth: Width64, expValue: 0x10},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expWidth, tc.constant.Width())
			require.Equal(t, tc.expValue, tc.constant.Value())
		})
	}
}

func TestJumpKindInverse(t *testing.T) {
	for _, tc := range []struct{ kind, inverse JumpKind }{
		{JMP, JMP}, {JE, JNE}, {JNE, JE}, {JZ, JNZ}, {JNZ, JZ},
		{JL, JGE}, {JLE, JG}, {JG, JLE}, {JGE, JL},
		{JB, JAE}, {JBE, JA}, {JA, JBE}, {JAE, JB},
	} {
		require.Equal(t, tc.inverse, tc.kind.Inverse())
		require.Equal(t, tc.kind, tc.kind.Inverse().Inverse())
	}
}

func TestInstructionWriteContracts(t *testing.T) {
	p := NewProgram()
	a, b := p.Vreg("a"), p.Vreg("b")

	mov := Mov(Reg(a), Reg(b))
	require.True(t, mov.IsWriting(0))
	require.False(t, mov.IsWriting(1))

	cmp := Cmp(Reg(a), Reg(b))
	require.False(t, cmp.IsWriting(0))
	require.False(t, cmp.IsWriting(1))

	xadd := Xadd(Reg(a), Reg(b))
	require.True(t, xadd.IsWriting(0))
	require.True(t, xadd.IsWriting(1))

	fmod := Fmod(Reg(a), Reg(b), Imm(Const32(3)))
	require.True(t, fmod.IsWriting(0))
	require.True(t, fmod.IsWriting(1))
	require.False(t, fmod.IsWriting(2))

	getarg := GetArg0(a)
	require.True(t, getarg.IsWriting(0))

	setret := SetReturn(Reg(a))
	require.False(t, setret.IsWriting(0))
}

func TestProgramInternsNames(t *testing.T) {
	p := NewProgram()

	first := p.Vreg("tuple_ptr")
	second := p.Vreg("tuple_ptr")
	require.Equal(t, first, second)
	require.True(t, first.IsVirtual())

	l1 := p.Label("head")
	l2 := p.Label("head")
	require.Equal(t, l1, l2)
}

func TestProgramNextIDIncrements(t *testing.T) {
	p := NewProgram()
	require.Equal(t, uint64(0), p.NextID())
	require.Equal(t, uint64(1), p.NextID())
}

func TestProgramDataAligned(t *testing.T) {
	p := NewProgram()
	buf := p.Data(100)
	require.Len(t, buf, 100)
	require.Zero(t, addrOf(buf)%64)
}

func TestInstructionSetInsertAt(t *testing.T) {
	set := NewInstructionSet("Body", 4)
	set.Append(Ret(), Nop())

	prologue := NewInstructionSet("", 2)
	p := NewProgram()
	prologue.Append(Push(p.Mreg64(3)))

	set.InsertAt(0, prologue)
	require.Equal(t, 3, set.Len())
	require.Equal(t, OpPush, set.At(0).Op())
	require.Equal(t, OpRet, set.At(1).Op())
}

func TestRegisterAssignInPlace(t *testing.T) {
	p := NewProgram()
	v := p.Vreg("v")
	require.True(t, v.IsVirtual())

	v.Assign(p.Mreg(Width32, Unsigned, 9))
	require.False(t, v.IsVirtual())
	require.Equal(t, uint8(9), v.MachineRegisterID())
	require.Equal(t, Width32, v.Width())
	require.Equal(t, Unsigned, v.Sign())
	// The virtual name is kept for diagnostics.
	require.Equal(t, "v", v.Name())
}

func TestMemoryAddressString(t *testing.T) {
	p := NewProgram()
	base := p.Mreg64(4)
	m := MemDispWidth(base, 16, Width32)
	require.Equal(t, "[reg4::64+16]::32", m.String())

	neg := MemDisp(base, -8)
	require.Equal(t, "[reg4::64-8]", neg.String())
}

func TestFcallAccumulatesArguments(t *testing.T) {
	p := NewProgram()
	ret := p.Vreg("ret")
	call := FcallRet(0xdead, ret, Reg(p.Vreg("x")))
	call.AddArgument(Imm(Const32(7)))

	require.True(t, call.HasReturn())
	require.Equal(t, ret, call.ReturnRegister())
	require.Len(t, call.Arguments(), 2)
}
