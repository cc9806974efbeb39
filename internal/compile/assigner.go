package compile

import (
	"fmt"

	"github.com/tunadb/flounder/internal/abi"
	"github.com/tunadb/flounder/ir"
)

// spillRegisterState tracks which vreg currently resides in one of the three
// reserved spill registers and whether it was written since it was loaded.
type spillRegisterState struct {
	vreg    ir.Register
	hasVreg bool
	dirty   bool
}

func (s *spillRegisterState) holds(vreg ir.Register) bool {
	return s.hasVreg && s.vreg.Name() == vreg.Name()
}

func (s *spillRegisterState) isDirty() bool { return s.hasVreg && s.dirty }
func (s *spillRegisterState) empty() bool   { return !s.hasVreg }

func (s *spillRegisterState) reset() { *s = spillRegisterState{} }

// spillRegisterAllocation reserves spill registers within the scope of a
// single instruction, so the same instruction never claims one register for
// two different operands.
type spillRegisterAllocation struct {
	used   [3]bool
	name   [3]string // vreg name held per entry, "" for constants
	isLoad [3]bool
}

func (a *spillRegisterAllocation) full() bool {
	return a.used[0] && a.used[1] && a.used[2]
}

func (a *spillRegisterAllocation) slot(mregID uint8) int {
	for i, id := range abi.SpillMregIDs {
		if id == mregID {
			return i
		}
	}
	return -1
}

func (a *spillRegisterAllocation) isFree(mregID uint8) bool {
	idx := a.slot(mregID)
	return idx >= 0 && !a.used[idx]
}

// find returns the spill register already claimed for the vreg within this
// instruction, and whether its value was loaded.
func (a *spillRegisterAllocation) find(vreg ir.Register) (uint8, bool, bool) {
	for i, id := range abi.SpillMregIDs {
		if a.used[i] && a.name[i] != "" && a.name[i] == vreg.Name() {
			return id, a.isLoad[i], true
		}
	}
	return 0, false, false
}

func (a *spillRegisterAllocation) allocateAt(mregID uint8, vregName string, isLoad bool) {
	idx := a.slot(mregID)
	a.used[idx] = true
	a.name[idx] = vregName
	a.isLoad[idx] = a.isLoad[idx] || isLoad
}

func (a *spillRegisterAllocation) allocateAny(vregName string, isLoad bool) (uint8, bool) {
	for i, id := range abi.SpillMregIDs {
		if !a.used[i] {
			a.used[i] = true
			a.name[i] = vregName
			a.isLoad[i] = isLoad
			return id, true
		}
	}
	return 0, false
}

// RegisterAssigner rewrites a program's virtual registers into machine
// registers and stack slots, inserts the prologue/epilogue, and lowers
// Fcall/Fdiv/Fmod into ABI-correct sequences.
type RegisterAssigner struct {
	allocator LinearScanAllocator
	schedule  *Schedule

	// Spill-register cache, indexed in abi.SpillMregIDs order.
	spillState [3]spillRegisterState

	// Machine registers the final code touches; preserved ones are pushed in
	// the prologue.
	touched [16]bool

	// Machine registers currently holding live vreg values, for call
	// save/restore decisions.
	liveMregs [16]bool

	keepComments bool
}

func NewRegisterAssigner() *RegisterAssigner { return &RegisterAssigner{} }

func (r *RegisterAssigner) stateFor(mregID uint8) *spillRegisterState {
	for i, id := range abi.SpillMregIDs {
		if id == mregID {
			return &r.spillState[i]
		}
	}
	return nil
}

// Process allocates registers for the program and rewrites its three
// instruction sets in place. With keepComments, every rewritten instruction
// and spill move carries its IR text as an inline comment.
func (r *RegisterAssigner) Process(program *ir.Program, keepComments bool) error {
	for i := range r.spillState {
		r.spillState[i].reset()
	}
	r.touched = [16]bool{}
	r.liveMregs = [16]bool{}
	r.keepComments = keepComments

	schedule, err := r.allocator.Allocate(program)
	if err != nil {
		return err
	}
	r.schedule = schedule

	for _, id := range schedule.UsedMachineRegisterIDs() {
		r.touched[id] = true
	}
	r.touched[abi.StackPointerMregID] = true

	arguments, err := r.assign(program, program.Arguments())
	if err != nil {
		return err
	}
	header, err := r.assign(program, program.Header())
	if err != nil {
		return err
	}
	body, err := r.assign(program, program.Body())
	if err != nil {
		return err
	}

	prologue := ir.NewInstructionSet("", 16)
	var pushed []uint8
	for id := uint8(0); id < 16; id++ {
		if r.touched[id] && abi.IsPreservedMreg(id) && id != abi.StackPointerMregID {
			prologue.Append(ir.Push(program.Mreg64(id)))
			pushed = append(pushed, id)
		}
	}

	epilogue := ir.NewInstructionSet("", 16)
	if schedule.MaxStackHeight() > 0 {
		// Keep rsp 16-byte aligned at call sites: the return address and the
		// pushes above already moved it by 8 * (1 + len(pushed)) bytes.
		stackSize := (schedule.MaxStackHeight() + 15) &^ 15
		if (1+len(pushed))%2 != 0 {
			stackSize += 8
		}
		prologue.Append(ir.Sub(ir.Reg(program.Mreg64(abi.StackPointerMregID)),
			ir.Imm(ir.Const32(int32(stackSize)))))
		epilogue.Append(ir.Add(ir.Reg(program.Mreg64(abi.StackPointerMregID)),
			ir.Imm(ir.Const32(int32(stackSize)))))
	}
	for idx := len(pushed) - 1; idx >= 0; idx-- {
		epilogue.Append(ir.Pop(program.Mreg64(pushed[idx])))
	}

	arguments.InsertAt(0, prologue)
	program.Arguments().Replace(arguments)
	program.Header().Replace(header)
	body.AppendSet(epilogue)
	body.Append(ir.Ret())
	program.Body().Replace(body)
	return nil
}

func (r *RegisterAssigner) assign(program *ir.Program, code *ir.InstructionSet) (ir.InstructionSet, error) {
	assigned := ir.NewInstructionSet(code.Name(), code.Len())

	for idx := 0; idx < code.Len(); idx++ {
		instr := code.At(idx)
		switch instr.Op() {
		case ir.OpRequestVreg:
			if allocation, ok := r.schedule.Lookup(instr.Vreg()); ok && allocation.IsMreg() {
				r.liveMregs[allocation.Mreg().MachineRegisterID()] = true
			}
		case ir.OpClearVreg:
			if allocation, ok := r.schedule.Lookup(instr.Vreg()); ok && allocation.IsMreg() {
				r.liveMregs[allocation.Mreg().MachineRegisterID()] = false
			}
		case ir.OpFdiv, ir.OpFmod:
			r.flushDirtySpillRegs(program, &assigned, true)
			divCode, err := r.lowerDivision(program, instr)
			if err != nil {
				return assigned, err
			}
			if err := r.conveySet(program, divCode, &assigned); err != nil {
				return assigned, err
			}
		case ir.OpFcall:
			r.flushDirtySpillRegs(program, &assigned, true)
			callCode, err := r.lowerFunctionCall(program, instr)
			if err != nil {
				return assigned, err
			}
			if err := r.conveySet(program, callCode, &assigned); err != nil {
				return assigned, err
			}
		case ir.OpShl, ir.OpShr:
			// A register shift count travels through cl; the vreg cached in
			// rcx is flushed and invalidated, not reloaded.
			if instr.Operand(1).IsReg() {
				if store, ok := r.flushIfDirty(program, abi.RCX, true); ok {
					assigned.Append(store)
				}
			}
			if err := r.convey(program, instr, &assigned); err != nil {
				return assigned, err
			}
		default:
			if err := r.convey(program, instr, &assigned); err != nil {
				return assigned, err
			}
		}
	}
	return assigned, nil
}

func (r *RegisterAssigner) conveySet(program *ir.Program, code ir.InstructionSet, target *ir.InstructionSet) error {
	for idx := 0; idx < code.Len(); idx++ {
		if err := r.convey(program, code.At(idx), target); err != nil {
			return err
		}
	}
	return nil
}

// convey rewrites one instruction's operands and appends it, flushing the
// spill-register cache first at control-flow region starts.
func (r *RegisterAssigner) convey(program *ir.Program, source *ir.Instruction, target *ir.InstructionSet) error {
	instr := *source
	if r.keepComments {
		instr.SetComment(instr.String())
	}

	if clearState, flush := flushDecision(instr.Op()); flush {
		r.flushDirtySpillRegs(program, target, clearState)
	}

	if instr.Operands() > 0 {
		var allocation spillRegisterAllocation
		if err := r.replaceVregsAndConstants(program, &instr, &allocation, target); err != nil {
			return err
		}
	}

	target.Append(instr)
	return nil
}

// flushDecision returns whether an instruction begins a new control-flow
// region and whether the cache state is cleared (Section) or kept for the
// fall-through path (Jump/Cmp/Test).
func flushDecision(op ir.Opcode) (clearState, flush bool) {
	switch op {
	case ir.OpSection:
		return true, true
	case ir.OpJump, ir.OpCmp, ir.OpTest:
		return false, true
	}
	return false, false
}

func (r *RegisterAssigner) replaceVregsAndConstants(program *ir.Program, instr *ir.Instruction,
	allocation *spillRegisterAllocation, code *ir.InstructionSet) error {
	for index := 0; index < instr.Operands(); index++ {
		operand := instr.Operand(index)

		switch {
		case operand.IsReg() && operand.Register().IsVirtual():
			mregOrMem, err := r.unspillOperand(program, instr, index, operand.Register(), allocation, code)
			if err != nil {
				return err
			}
			if mregOrMem.isMem {
				operand.SetMemory(mregOrMem.mem)
			} else {
				operand.RegisterRef().Assign(mregOrMem.reg)
			}

		case operand.IsMem():
			mem := operand.MemoryRef()
			if !mem.HasConstantBase() && mem.Base().IsVirtual() {
				mreg, err := r.unspillVreg(program, mem.Base(), allocation, code)
				if err != nil {
					return err
				}
				mem.BaseRef().Assign(mreg)
			} else if mem.HasConstantBase() && mem.ConstantBase().Width() == ir.Width64 {
				mreg, err := r.unspillConstant(program, mem.ConstantBase(), allocation, code)
				if err != nil {
					return err
				}
				mem.AssignBase(mreg)
			}
			if mem.HasIndex() && mem.Index().IsVirtual() {
				mreg, err := r.unspillVreg(program, mem.Index(), allocation, code)
				if err != nil {
					return err
				}
				mem.IndexRef().Assign(mreg)
			}

		case operand.IsConstant() && operand.Constant().Width() == ir.Width64:
			mreg, err := r.unspillConstant(program, operand.Constant(), allocation, code)
			if err != nil {
				return err
			}
			operand.SetRegister(mreg)
		}
	}
	return nil
}

type registerOrMemory struct {
	reg   ir.Register
	mem   ir.MemoryAddress
	isMem bool
}

// unspillOperand resolves a vreg operand to a machine register, a spill
// register holding its value, or — when the instruction accepts one — its
// stack address.
func (r *RegisterAssigner) unspillOperand(program *ir.Program, instr *ir.Instruction, index int,
	vreg ir.Register, allocation *spillRegisterAllocation, code *ir.InstructionSet) (registerOrMemory, error) {
	scheduled, ok := r.schedule.Lookup(vreg)
	if !ok {
		return registerOrMemory{}, fmt.Errorf("%w: %s", ir.ErrCanNotFindVirtualRegister, vreg.String())
	}
	if scheduled.IsMreg() {
		return registerOrMemory{reg: scheduled.Mreg()}, nil
	}

	slot := scheduled.SpillSlot()
	overwriting := isOverwritingValue(instr.Op(), index)
	stackAddress := r.accessStack(program, slot, 0)

	// The vreg may already occupy a spill register within this instruction.
	if mregID, loaded, found := allocation.find(vreg); found {
		spillRegister := program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)
		if !overwriting && !loaded {
			code.Append(r.loadFromStack(vreg, stackAddress, spillRegister))
		}
		return registerOrMemory{reg: spillRegister}, nil
	}

	writing := instr.IsWriting(index)

	// The vreg may still sit in a spill register from an earlier instruction.
	if mregID, found := r.reuseSpillMreg(allocation, vreg, writing); found {
		return registerOrMemory{reg: program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)}, nil
	}

	// The instruction may address the stack slot directly.
	if canUseSpilledValue(instr, index) {
		return registerOrMemory{mem: stackAddress, isMem: true}, nil
	}

	load := !overwriting

	mregID, err := r.claimSpillMreg(allocation, instr.Op(), vreg.Name(), load)
	if err != nil {
		return registerOrMemory{}, err
	}
	spillRegister := program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)

	if store, ok := r.flushIfDirty(program, mregID, false); ok {
		code.Append(store)
	}
	if load {
		code.Append(r.loadFromStack(vreg, stackAddress, spillRegister))
	}

	*r.stateFor(mregID) = spillRegisterState{vreg: vreg, hasVreg: true, dirty: writing}
	return registerOrMemory{reg: spillRegister}, nil
}

// unspillVreg resolves a vreg used inside a memory operand; the value always
// ends up in a register.
func (r *RegisterAssigner) unspillVreg(program *ir.Program, vreg ir.Register,
	allocation *spillRegisterAllocation, code *ir.InstructionSet) (ir.Register, error) {
	scheduled, ok := r.schedule.Lookup(vreg)
	if !ok {
		return ir.Register{}, fmt.Errorf("%w: %s", ir.ErrCanNotFindVirtualRegister, vreg.String())
	}
	if scheduled.IsMreg() {
		return scheduled.Mreg(), nil
	}

	slot := scheduled.SpillSlot()
	stackAddress := r.accessStack(program, slot, 0)

	if mregID, loaded, found := allocation.find(vreg); found {
		spillRegister := program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)
		if !loaded {
			code.Append(r.loadFromStack(vreg, stackAddress, spillRegister))
		}
		return spillRegister, nil
	}

	if mregID, found := r.reuseSpillMreg(allocation, vreg, false); found {
		return program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID), nil
	}

	mregID, err := r.claimSpillMreg(allocation, ir.OpMov, vreg.Name(), true)
	if err != nil {
		return ir.Register{}, err
	}
	spillRegister := program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)
	r.touched[mregID] = true

	if store, ok := r.flushIfDirty(program, mregID, false); ok {
		code.Append(store)
	}
	code.Append(r.loadFromStack(vreg, stackAddress, spillRegister))

	*r.stateFor(mregID) = spillRegisterState{vreg: vreg, hasVreg: true}
	return spillRegister, nil
}

// unspillConstant materializes a 64-bit constant in a spill register.
func (r *RegisterAssigner) unspillConstant(program *ir.Program, constant ir.Constant,
	allocation *spillRegisterAllocation, code *ir.InstructionSet) (ir.Register, error) {
	mregID, err := r.claimSpillMreg(allocation, ir.OpMov, "", true)
	if err != nil {
		return ir.Register{}, err
	}
	spillRegister := program.Mreg(constant.Width(), ir.Signed, mregID)
	r.touched[mregID] = true

	if store, ok := r.flushIfDirty(program, mregID, true); ok {
		code.Append(store)
	}
	code.Append(ir.Mov(ir.Reg(spillRegister), ir.Imm(constant)))

	return spillRegister, nil
}

// claimSpillMreg picks a spill register for the current instruction:
// preferably an empty one, else a non-dirty one, else any register the
// instruction has not claimed yet — honoring opcode register dependencies.
func (r *RegisterAssigner) claimSpillMreg(allocation *spillRegisterAllocation, op ir.Opcode,
	vregName string, isLoad bool) (uint8, error) {
	if !allocation.full() && !abi.HasMregDependency(op) {
		for i, id := range abi.SpillMregIDs {
			if r.spillState[i].empty() && allocation.isFree(id) {
				allocation.allocateAt(id, vregName, isLoad)
				return id, nil
			}
		}
		for i, id := range abi.SpillMregIDs {
			if !r.spillState[i].isDirty() && allocation.isFree(id) {
				allocation.allocateAt(id, vregName, isLoad)
				return id, nil
			}
		}
		if id, ok := allocation.allocateAny(vregName, isLoad); ok {
			return id, nil
		}
	}

	if dependencies := abi.MregDependencies(op); dependencies != nil {
		for _, id := range abi.SpillMregIDs {
			if allocation.isFree(id) && !containsID(dependencies, id) {
				allocation.allocateAt(id, vregName, isLoad)
				return id, nil
			}
		}
	}

	return 0, ir.ErrNotEnoughTemporaryRegisters
}

func containsID(ids []uint8, id uint8) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// reuseSpillMreg returns the spill register still holding the vreg's value
// from an earlier instruction, claiming it for the current one.
func (r *RegisterAssigner) reuseSpillMreg(allocation *spillRegisterAllocation,
	vreg ir.Register, writing bool) (uint8, bool) {
	for i, id := range abi.SpillMregIDs {
		state := &r.spillState[i]
		if state.holds(vreg) && allocation.isFree(id) {
			allocation.allocateAt(id, vreg.Name(), true)
			state.dirty = state.dirty || writing
			return id, true
		}
	}
	return 0, false
}

// isLive reports whether a machine register currently holds a meaningful
// value: an allocated vreg, or a dirty spill-register entry.
func (r *RegisterAssigner) isLive(mregID uint8) bool {
	if r.liveMregs[mregID] {
		return true
	}
	if state := r.stateFor(mregID); state != nil {
		return state.isDirty()
	}
	return false
}

// flushDirtySpillRegs writes all dirty spill registers back to their slots.
func (r *RegisterAssigner) flushDirtySpillRegs(program *ir.Program, code *ir.InstructionSet, clearState bool) {
	for i, id := range abi.SpillMregIDs {
		state := &r.spillState[i]
		if state.isDirty() {
			if store, ok := r.flush(program, id, state, clearState); ok {
				code.Append(store)
			}
		} else if clearState {
			state.reset()
		}
	}
}

func (r *RegisterAssigner) flushIfDirty(program *ir.Program, mregID uint8, clearState bool) (ir.Instruction, bool) {
	state := r.stateFor(mregID)
	if state == nil {
		return ir.Instruction{}, false
	}
	if state.isDirty() {
		return r.flush(program, mregID, state, clearState)
	}
	if clearState {
		state.reset()
	}
	return ir.Instruction{}, false
}

func (r *RegisterAssigner) flush(program *ir.Program, mregID uint8, state *spillRegisterState,
	clearState bool) (ir.Instruction, bool) {
	scheduled, ok := r.schedule.Lookup(state.vreg)
	if !ok || !scheduled.IsSpill() {
		return ir.Instruction{}, false
	}
	slot := scheduled.SpillSlot()

	spillRegister := program.Mreg(slot.Width, signOr(slot.Sign, ir.Unsigned), mregID)
	store := ir.Mov(ir.Addr(r.accessStack(program, slot, 0)), ir.Reg(spillRegister))
	if r.keepComments {
		store.SetComment(fmt.Sprintf("RegSpill: Flush %s", state.vreg.String()))
	}

	if clearState {
		state.reset()
	} else {
		state.dirty = false
	}
	return store, true
}

func (r *RegisterAssigner) loadFromStack(vreg ir.Register, stackAddress ir.MemoryAddress,
	spillRegister ir.Register) ir.Instruction {
	load := ir.Mov(ir.Reg(spillRegister), ir.Addr(stackAddress))
	if r.keepComments {
		load.SetComment(fmt.Sprintf("RegSpill: Load %s", vreg.String()))
	}
	return load
}

// accessStack addresses the given spill slot, optionally adjusted while the
// rewriter has temporarily grown the stack.
func (r *RegisterAssigner) accessStack(program *ir.Program, slot SpillSlot, offset uint32) ir.MemoryAddress {
	return ir.MemDispWidth(program.Mreg64(abi.StackPointerMregID),
		int32(slot.Offset+offset), slot.Width)
}

func signOr(sign, fallback ir.Sign) ir.Sign {
	if sign == ir.SignUnset {
		return fallback
	}
	return sign
}

// canUseSpilledValue reports whether the instruction may take the spill
// slot's memory address directly at the given operand, provided the other
// operand is a register or immediate.
func canUseSpilledValue(instr *ir.Instruction, index int) bool {
	op := instr.Op()

	binaryAllowed := false
	switch op {
	case ir.OpMov, ir.OpCmovle, ir.OpCmovge, ir.OpImul:
		binaryAllowed = index > 0
	case ir.OpOr, ir.OpAnd, ir.OpCmp, ir.OpAdd, ir.OpSub:
		binaryAllowed = true
	case ir.OpTest:
		binaryAllowed = index == 0
	case ir.OpGetArgument:
		return true
	case ir.OpIdiv:
		return true
	}

	if binaryAllowed {
		other := instr.Operand(1 - index)
		return other.IsReg() || other.IsConstant()
	}
	return false
}

// isOverwritingValue reports whether the instruction's operand is pure
// destination, making a pre-load unnecessary.
func isOverwritingValue(op ir.Opcode, index int) bool {
	switch op {
	case ir.OpGetArgument, ir.OpSete, ir.OpSetne:
		return true
	case ir.OpMov, ir.OpLea:
		return index == 0
	}
	return false
}
