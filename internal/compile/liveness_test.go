package compile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tunadb/flounder/ir"
)

func TestLivenessIntervals(t *testing.T) {
	p := ir.NewProgram()
	a, b := p.Vreg("a"), p.Vreg("b")

	p.Arguments().Append(ir.RequestVreg64(a), ir.GetArg0(a)) // t=0, t=1
	p.Body().Append(
		ir.RequestVreg32(b),           // t=2
		ir.Mov(ir.Reg(b), ir.Reg(a)),  // t=3
		ir.Clear(a),                   // t=4
		ir.SetReturn(ir.Reg(b)),       // t=5
		ir.Clear(b),                   // t=6
	)

	intervals, err := AnalyzeLiveness(p)
	require.NoError(t, err)
	require.Len(t, intervals, 2)

	require.Equal(t, uint64(0), intervals["a"].Begin)
	require.Equal(t, uint64(4), intervals["a"].End)
	require.Equal(t, ir.Width64, intervals["a"].Width)

	require.Equal(t, uint64(2), intervals["b"].Begin)
	require.Equal(t, uint64(6), intervals["b"].End)
	require.Equal(t, ir.Width32, intervals["b"].Width)
	require.Equal(t, ir.Signed, intervals["b"].Sign)
}

func TestLivenessTimestampsSpanSections(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	p.Arguments().Append(ir.Nop())
	p.Header().Append(ir.Nop(), ir.Nop())
	p.Body().Append(ir.RequestVreg64(v), ir.Clear(v))

	intervals, err := AnalyzeLiveness(p)
	require.NoError(t, err)
	require.Equal(t, uint64(3), intervals["v"].Begin)
	require.Equal(t, uint64(4), intervals["v"].End)
}

func TestLivenessRedeclarationFails(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	p.Body().Append(ir.RequestVreg64(v), ir.RequestVreg64(v))

	_, err := AnalyzeLiveness(p)
	require.ErrorIs(t, err, ir.ErrVirtualRegisterAlreadyInUse)
}

func TestLivenessUnclearedIntervalClosedAtEnd(t *testing.T) {
	p := ir.NewProgram()
	v := p.Vreg("v")

	p.Body().Append(ir.RequestVreg64(v), ir.Nop(), ir.Nop())

	intervals, err := AnalyzeLiveness(p)
	require.NoError(t, err)
	require.True(t, intervals["v"].HasEnd)
	require.Equal(t, uint64(3), intervals["v"].End)
}
