package compile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tunadb/flounder/internal/abi"
	"github.com/tunadb/flounder/ir"
)

func requestN(p *ir.Program, n int) []ir.Register {
	vregs := make([]ir.Register, 0, n)
	for i := 0; i < n; i++ {
		v := p.Vreg(fmt.Sprintf("v%d", i))
		p.Body().Append(ir.RequestVreg64(v))
		vregs = append(vregs, v)
	}
	return vregs
}

func clearAll(p *ir.Program, vregs []ir.Register) {
	for _, v := range vregs {
		p.Body().Append(ir.Clear(v))
	}
}

func TestAllocateWithinRegisterBudget(t *testing.T) {
	p := ir.NewProgram()
	vregs := requestN(p, len(abi.AvailableMregIDs))
	clearAll(p, vregs)

	var allocator LinearScanAllocator
	schedule, err := allocator.Allocate(p)
	require.NoError(t, err)

	require.Zero(t, schedule.MaxStackHeight())
	seen := map[uint8]bool{}
	for _, v := range vregs {
		allocation, ok := schedule.Lookup(v)
		require.True(t, ok)
		require.True(t, allocation.IsMreg())
		id := allocation.Mreg().MachineRegisterID()
		require.False(t, seen[id], "machine register %d assigned twice", id)
		seen[id] = true
	}
}

func TestAllocatePressureSpills(t *testing.T) {
	p := ir.NewProgram()
	vregs := requestN(p, 32)
	clearAll(p, vregs)

	var allocator LinearScanAllocator
	schedule, err := allocator.Allocate(p)
	require.NoError(t, err)

	var mregs, spills int
	slotOffsets := map[uint32]bool{}
	for _, v := range vregs {
		allocation, ok := schedule.Lookup(v)
		require.True(t, ok)
		if allocation.IsMreg() {
			mregs++
		} else {
			spills++
			slot := allocation.SpillSlot()
			require.False(t, slotOffsets[slot.Offset], "spill slot %d assigned twice", slot.Offset)
			slotOffsets[slot.Offset] = true
			require.Zero(t, slot.Offset%8)
		}
	}
	require.Equal(t, len(abi.AvailableMregIDs), mregs)
	require.Equal(t, 32-len(abi.AvailableMregIDs), spills)
	require.Equal(t, uint32(spills*8), schedule.MaxStackHeight())
}

// Allocator soundness: no two overlapping intervals share a machine register.
func TestAllocateExclusiveOverLiveInterval(t *testing.T) {
	p := ir.NewProgram()

	// Two overlapping intervals: b is requested while a is still live.
	a, b := p.Vreg("a"), p.Vreg("b")
	p.Body().Append(ir.RequestVreg64(a), ir.RequestVreg64(b), ir.Clear(a), ir.Clear(b))

	var allocator LinearScanAllocator
	schedule, err := allocator.Allocate(p)
	require.NoError(t, err)

	intervals, err := AnalyzeLiveness(p)
	require.NoError(t, err)

	allocA, _ := schedule.Lookup(a)
	allocB, _ := schedule.Lookup(b)
	require.True(t, allocA.IsMreg() && allocB.IsMreg())

	// Disjoint intervals may share; overlapping ones must not.
	overlap := intervals["a"].Begin < intervals["b"].End && intervals["b"].Begin < intervals["a"].End
	if overlap {
		require.NotEqual(t, allocA.Mreg().MachineRegisterID(), allocB.Mreg().MachineRegisterID())
	}
}

func TestAllocateNeverHandsOutReservedRegisters(t *testing.T) {
	p := ir.NewProgram()
	vregs := requestN(p, 32)
	clearAll(p, vregs)

	var allocator LinearScanAllocator
	schedule, err := allocator.Allocate(p)
	require.NoError(t, err)

	for _, v := range vregs {
		allocation, ok := schedule.Lookup(v)
		require.True(t, ok)
		if allocation.IsMreg() {
			id := allocation.Mreg().MachineRegisterID()
			require.NotEqual(t, abi.StackPointerMregID, id)
			for _, spill := range abi.SpillMregIDs {
				require.NotEqual(t, spill, id)
			}
		}
	}
}

func TestScheduleUsedMachineRegisterIDsSorted(t *testing.T) {
	p := ir.NewProgram()
	vregs := requestN(p, 5)
	clearAll(p, vregs)

	var allocator LinearScanAllocator
	schedule, err := allocator.Allocate(p)
	require.NoError(t, err)

	ids := schedule.UsedMachineRegisterIDs()
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		require.Less(t, ids[i-1], ids[i])
	}
}

func TestSpillSetHighWaterAndReuse(t *testing.T) {
	var set spillSet

	s1 := set.allocate(ir.Width64, ir.Signed)
	s2 := set.allocate(ir.Width32, ir.Unsigned)
	require.Equal(t, uint32(0), s1.Offset)
	require.Equal(t, uint32(8), s2.Offset)
	require.Equal(t, uint32(16), set.maxHeight())

	set.free(s1)
	s3 := set.allocate(ir.Width64, ir.Signed)
	require.Equal(t, uint32(0), s3.Offset)
	// Reuse does not raise the high-water mark.
	require.Equal(t, uint32(16), set.maxHeight())
}
