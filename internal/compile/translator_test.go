package compile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tunadb/flounder/internal/asm"
	"github.com/tunadb/flounder/ir"
)

func translateAll(t *testing.T, p *ir.Program, keepComments bool) ([]byte, *Translator) {
	t.Helper()
	assembler, err := asm.NewAssembler()
	require.NoError(t, err)

	translator := NewTranslator(assembler, keepComments)
	for _, set := range []*ir.InstructionSet{p.Arguments(), p.Header(), p.Body()} {
		require.NoError(t, translator.TranslateSet(set))
	}
	code, err := assembler.Assemble()
	require.NoError(t, err)
	return code, translator
}

// assignAndTranslate runs the full pipeline below the executable layer.
func assignAndTranslate(t *testing.T, p *ir.Program) []byte {
	t.Helper()
	require.NoError(t, NewRegisterAssigner().Process(p, false))
	Optimize(p)
	code, _ := translateAll(t, p, false)
	return code
}

func TestTranslateMachineCodePrograms(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(p *ir.Program)
	}{
		{
			name: "mov widths",
			build: func(p *ir.Program) {
				r64 := p.Mreg64(3)
				r32 := p.Mreg(ir.Width32, ir.Signed, 3)
				r32u := p.Mreg(ir.Width32, ir.Unsigned, 5)
				r8 := p.Mreg(ir.Width8, ir.Signed, 6)
				p.Body().Append(
					ir.Mov(ir.Reg(r64), ir.Reg(p.Mreg64(5))),                      // mov
					ir.Mov(ir.Reg(r64), ir.Reg(r32)),                              // movsxd
					ir.Mov(ir.Reg(p.Mreg64(5)), ir.Reg(r8)),                       // movsx
					ir.Mov(ir.Reg(p.Mreg(ir.Width64, ir.Unsigned, 6)), ir.Reg(r32u)), // 32->64 zero extend
					ir.Mov(ir.Reg(r64), ir.Imm(ir.Const64(1<<40))),                // movabs
					ir.Ret(),
				)
			},
		},
		{
			name: "memory operands",
			build: func(p *ir.Program) {
				base := p.Mreg64(3)
				index := p.Mreg64(5)
				p.Body().Append(
					ir.Mov(ir.Reg(p.Mreg64(6)), ir.Addr(ir.MemIndexWidth(base, index, 8, 16, ir.Width64))),
					ir.Mov(ir.Addr(ir.MemDispWidth(base, -8, ir.Width32)), ir.Imm(ir.Const32(7))),
					ir.Lea(p.Mreg64(6), ir.MemIndex(base, index, 4, 4)),
					ir.Prefetch(ir.MemDisp(base, 64)),
					ir.Ret(),
				)
			},
		},
		{
			name: "flags and conditionals",
			build: func(p *ir.Program) {
				a, b := p.Mreg64(3), p.Mreg64(5)
				label := p.Label("out")
				p.Body().Append(
					ir.Cmp(ir.Reg(a), ir.Reg(b)),
					ir.Jle(label),
					ir.Cmovge(ir.Reg(a), ir.Reg(b)),
					ir.Sete(ir.Reg(p.Mreg(ir.Width8, ir.Unsigned, 6))),
					ir.Test(ir.Reg(a), ir.Imm(ir.Const32(1))),
					ir.Section(label),
					ir.Ret(),
				)
			},
		},
		{
			name: "read-modify-write",
			build: func(p *ir.Program) {
				a, b := p.Mreg64(3), p.Mreg64(5)
				p.Body().Append(
					ir.Add(ir.Reg(a), ir.Imm(ir.Const32(10))),
					ir.Sub(ir.Reg(a), ir.Reg(b)),
					ir.And(ir.Reg(a), ir.Imm(ir.Const32(0xff))),
					ir.Or(ir.Reg(a), ir.Reg(b)),
					ir.Xor(ir.Reg(a), ir.Reg(a)),
					ir.Inc(ir.Reg(a)),
					ir.Dec(ir.Reg(b)),
					ir.Shl(ir.Reg(a), ir.Imm(ir.Const8(3))),
					ir.Shr(ir.Reg(a), ir.Reg(b)),
					ir.Crc32(ir.Reg(a), ir.Reg(b)),
					ir.Xadd(ir.Reg(a), ir.Reg(b)),
					ir.XaddLocked(ir.Addr(ir.MemDispWidth(a, 0, ir.Width64)), ir.Reg(b)),
					ir.Ret(),
				)
			},
		},
		{
			name: "division scaffold",
			build: func(p *ir.Program) {
				p.Body().Append(
					ir.Push(p.Mreg64(3)),
					ir.Cqo(),
					ir.Idiv(ir.Reg(p.Mreg64(3))),
					ir.Pop(p.Mreg64(3)),
					ir.Ret(),
				)
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p := ir.NewProgram()
			tc.build(p)
			code, _ := translateAll(t, p, false)
			require.NotEmpty(t, code)
		})
	}
}

func TestTranslateVirtualRegisterFails(t *testing.T) {
	p := ir.NewProgram()
	p.Body().Append(ir.Inc(ir.Reg(p.Vreg("v"))))

	assembler, err := asm.NewAssembler()
	require.NoError(t, err)
	err = NewTranslator(assembler, false).TranslateSet(p.Body())
	require.ErrorIs(t, err, ir.ErrCanNotTranslateOperand)
}

func TestTranslateUnconsumedPseudoFails(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")
	p.Body().Append(ir.RequestVreg64(v))

	assembler, err := asm.NewAssembler()
	require.NoError(t, err)
	err = NewTranslator(assembler, false).TranslateSet(p.Body())
	require.ErrorIs(t, err, ir.ErrCanNotTranslateInstruction)
}

func TestTranslateUnknownRegisterFails(t *testing.T) {
	p := ir.NewProgram()
	p.Body().Append(ir.Inc(ir.Reg(ir.NewMachineRegister(17, ir.Width64, ir.Signed))))

	assembler, err := asm.NewAssembler()
	require.NoError(t, err)
	err = NewTranslator(assembler, false).TranslateSet(p.Body())
	require.ErrorIs(t, err, ir.ErrUnknownRegister)
}

func TestTranslateRecordsCarrySourceText(t *testing.T) {
	p := ir.NewProgram()
	p.Body().Append(
		ir.ContextBegin("scan"),
		ir.Mov(ir.Reg(p.Mreg64(3)), ir.Imm(ir.Const32(1))),
		ir.ContextEnd("scan"),
		ir.Ret(),
	)

	_, translator := translateAll(t, p, true)

	records := translator.Records()
	require.Len(t, records, 2)
	require.Contains(t, records[0].Source, "mov")
	require.Equal(t, "scan", records[0].Context)
	require.Equal(t, "ret", records[1].Source)
	require.Equal(t, "", records[1].Context)
}

// Idempotent translation: the full pipeline yields byte-identical code for
// identically built programs.
func TestPipelineDeterministic(t *testing.T) {
	build := func() *ir.Program {
		p := ir.NewProgram()
		arg := p.Vreg("arg0")
		p.Arguments().Append(ir.RequestVreg64(arg), ir.GetArg0(arg))
		vregs := requestN(p, 16)
		for i, v := range vregs {
			p.Body().Append(ir.Mov(ir.Reg(v), ir.Imm(ir.Const32(int32(i)))))
		}
		for _, v := range vregs {
			p.Body().Append(ir.Add(ir.Reg(arg), ir.Reg(v)))
		}
		p.Body().Append(ir.SetReturn(ir.Reg(arg)))
		clearAll(p, vregs)
		p.Body().Append(ir.Clear(arg))
		return p
	}

	first := assignAndTranslate(t, build())
	second := assignAndTranslate(t, build())
	require.Equal(t, first, second)
}
