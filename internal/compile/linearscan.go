package compile

import (
	"sort"

	"github.com/tunadb/flounder/internal/abi"
	"github.com/tunadb/flounder/ir"
)

// SpillSlot is an 8-byte region on the reserved stack frame holding a spilled
// vreg. The offset is relative to the stack pointer after the prologue's
// reservation.
type SpillSlot struct {
	Offset uint32
	Width  ir.Width
	Sign   ir.Sign
}

// Allocation maps one vreg to a machine register or a spill slot.
type Allocation struct {
	mreg    ir.Register
	slot    SpillSlot
	spilled bool
}

func mregAllocation(reg ir.Register) Allocation { return Allocation{mreg: reg} }
func slotAllocation(slot SpillSlot) Allocation  { return Allocation{slot: slot, spilled: true} }

func (a Allocation) IsMreg() bool         { return !a.spilled }
func (a Allocation) IsSpill() bool        { return a.spilled }
func (a Allocation) Mreg() ir.Register    { return a.mreg }
func (a Allocation) SpillSlot() SpillSlot { return a.slot }

// Schedule maps every vreg of a program to its allocation and records the
// maximum spill stack height. Schedules live only for the duration of
// register assignment.
type Schedule struct {
	maxStackHeight uint32
	entries        map[string]Allocation
}

func (s *Schedule) MaxStackHeight() uint32 { return s.maxStackHeight }

func (s *Schedule) Lookup(vreg ir.Register) (Allocation, bool) {
	allocation, ok := s.entries[vreg.Name()]
	return allocation, ok
}

func (s *Schedule) assign(name string, allocation Allocation) {
	s.entries[name] = allocation
}

// UsedMachineRegisterIDs returns the ids handed out to vregs, sorted.
func (s *Schedule) UsedMachineRegisterIDs() []uint8 {
	ids := make([]uint8, 0, len(s.entries))
	seen := [16]bool{}
	for _, allocation := range s.entries {
		if allocation.IsMreg() {
			id := allocation.Mreg().MachineRegisterID()
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// spillSet is a monotone high-water slot allocator with a freelist. Every
// slot is 8 bytes; the maximum size ever reached determines the stack
// reservation.
type spillSet struct {
	slots   []bool
	maxSize uint32
}

func (s *spillSet) maxHeight() uint32 { return s.maxSize * 8 }

func (s *spillSet) allocate(w ir.Width, sign ir.Sign) SpillSlot {
	for i := range s.slots {
		if !s.slots[i] {
			s.slots[i] = true
			return SpillSlot{Offset: uint32(i) * 8, Width: w, Sign: sign}
		}
	}
	s.maxSize++
	s.slots = append(s.slots, true)
	return SpillSlot{Offset: uint32(len(s.slots)-1) * 8, Width: w, Sign: sign}
}

func (s *spillSet) free(slot SpillSlot) {
	s.slots[slot.Offset/8] = false
}

type activeEntry struct {
	name     string
	interval *LiveInterval
}

// LinearScanAllocator implements Poletto & Sarkar linear scan over the live
// intervals of a program.
type LinearScanAllocator struct {
	freeMregIDs []uint8
	active      []activeEntry // ordered by increasing interval end
	spills      spillSet
}

// Allocate produces a schedule mapping every vreg to a machine register or a
// spill slot.
func (a *LinearScanAllocator) Allocate(program *ir.Program) (*Schedule, error) {
	intervals, err := AnalyzeLiveness(program)
	if err != nil {
		return nil, err
	}

	sorted := make([]activeEntry, 0, len(intervals))
	for name, interval := range intervals {
		sorted = append(sorted, activeEntry{name: name, interval: interval})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].interval.Begin != sorted[j].interval.Begin {
			return sorted[i].interval.Begin < sorted[j].interval.Begin
		}
		return sorted[i].name < sorted[j].name
	})

	schedule := &Schedule{entries: make(map[string]Allocation, len(intervals)*2)}

	a.freeMregIDs = append(a.freeMregIDs[:0], abi.AvailableMregIDs[:]...)
	a.active = a.active[:0]
	a.spills = spillSet{}

	for _, current := range sorted {
		a.expire(current.interval.Begin, schedule)

		if len(a.active) == len(abi.AvailableMregIDs) {
			// All machine registers busy: spill the active interval that ends
			// last, or the current one if it ends later itself.
			victim := a.active[len(a.active)-1]
			if victim.interval.End > current.interval.End {
				victimAllocation := schedule.entries[victim.name]
				mregID := victimAllocation.Mreg().MachineRegisterID()

				schedule.assign(victim.name, slotAllocation(a.spills.allocate(
					victimAllocation.Mreg().Width(), victimAllocation.Mreg().Sign())))
				a.active = a.active[:len(a.active)-1]

				schedule.assign(current.name, mregAllocation(ir.NewMachineRegister(
					mregID, current.interval.Width, current.interval.Sign)))
				a.insertActive(current)
			} else {
				schedule.assign(current.name, slotAllocation(a.spills.allocate(
					current.interval.Width, current.interval.Sign)))
			}
		} else {
			mregID := a.freeMregIDs[len(a.freeMregIDs)-1]
			a.freeMregIDs = a.freeMregIDs[:len(a.freeMregIDs)-1]

			schedule.assign(current.name, mregAllocation(ir.NewMachineRegister(
				mregID, current.interval.Width, current.interval.Sign)))
			a.insertActive(current)
		}
	}

	schedule.maxStackHeight = a.spills.maxHeight()
	return schedule, nil
}

// expire returns the machine registers of intervals ending before current to
// the free pool. Only register-holding intervals are kept in the active set,
// so spill slots are not returned here and a slot, once handed out, is not
// reused within the same allocation.
func (a *LinearScanAllocator) expire(current uint64, schedule *Schedule) {
	idx := 0
	for ; idx < len(a.active); idx++ {
		entry := a.active[idx]
		if entry.interval.End >= current {
			break
		}
		if allocation, ok := schedule.entries[entry.name]; ok {
			if allocation.IsMreg() {
				a.freeMregIDs = append(a.freeMregIDs, allocation.Mreg().MachineRegisterID())
			} else {
				a.spills.free(allocation.SpillSlot())
			}
		}
	}
	a.active = append(a.active[:0], a.active[idx:]...)
}

func (a *LinearScanAllocator) insertActive(entry activeEntry) {
	pos := sort.Search(len(a.active), func(i int) bool {
		if a.active[i].interval.End != entry.interval.End {
			return a.active[i].interval.End > entry.interval.End
		}
		return a.active[i].name > entry.name
	})
	a.active = append(a.active, activeEntry{})
	copy(a.active[pos+1:], a.active[pos:])
	a.active[pos] = entry
}
