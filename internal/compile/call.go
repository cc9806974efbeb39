package compile

import (
	"fmt"

	"github.com/tunadb/flounder/internal/abi"
	"github.com/tunadb/flounder/ir"
)

// lowerFunctionCall replaces one Fcall by the full caller-save sequence:
// save live scratch registers below rsp, materialize arguments into the ABI
// argument registers, call, restore, and move the return value.
func (r *RegisterAssigner) lowerFunctionCall(program *ir.Program, instr *ir.Instruction) (ir.InstructionSet, error) {
	// The callee may clobber anything not preserved; make sure the prologue
	// protects every preserved register the allocator handed out.
	for _, id := range abi.AvailableMregIDs {
		if abi.IsPreservedMreg(id) {
			r.touched[id] = true
		}
	}

	code := ir.NewInstructionSet("", 64)

	// Caller-save set: live scratch registers, minus the return target.
	var save []uint8
	for _, id := range abi.AvailableMregIDs {
		if abi.IsScratchMreg(id) && r.isLive(id) {
			save = append(save, id)
		}
	}
	if instr.HasReturn() {
		returnVreg := instr.ReturnRegister()
		if returnVreg.IsVirtual() {
			if allocation, ok := r.schedule.Lookup(returnVreg); ok && allocation.IsMreg() {
				save = removeID(save, allocation.Mreg().MachineRegisterID())
			}
		}
	}

	stackOffset := saveRegistersOnStack(program, &code, save)

	// Registers already loaded with earlier arguments; a later argument whose
	// source sits in one of these must read the saved copy instead.
	var argumentRegistersInUse []uint8

	arguments := instr.Arguments()
	if len(arguments) > len(abi.CallArgumentRegisterIDs) {
		return code, fmt.Errorf("%w: call with %d arguments", ir.ErrNotImplemented, len(arguments))
	}

	for argumentIndex, argument := range arguments {
		callArgumentMregID := abi.CallArgumentRegisterIDs[argumentIndex]
		callArgumentMreg := program.Mreg64(callArgumentMregID)

		switch {
		case argument.IsReg() && argument.Register().IsVirtual():
			r.touched[callArgumentMregID] = true
			argumentVreg := argument.Register()

			allocation, ok := r.schedule.Lookup(argumentVreg)
			if !ok {
				return code, fmt.Errorf("%w: %s", ir.ErrCanNotFindVirtualRegister, argumentVreg.String())
			}

			if allocation.IsMreg() {
				if allocation.Mreg() == callArgumentMreg {
					continue
				}

				source := ir.Reg(allocation.Mreg())
				if containsID(argumentRegistersInUse, allocation.Mreg().MachineRegisterID()) {
					// The natural location was overwritten by an earlier
					// argument move; redirect the read into the save region.
					savedIndex := indexOfID(save, allocation.Mreg().MachineRegisterID())
					if savedIndex < 0 {
						return code, fmt.Errorf("%w: %s", ir.ErrCanNotFindSpilledValue, argumentVreg.String())
					}
					savedOffset := int32(savedIndex+1) * 8
					source = ir.Addr(ir.MemDisp(program.Mreg64(abi.StackPointerMregID),
						-savedOffset+int32(stackOffset)))
					if allocation.Mreg().Width() != ir.Width64 {
						code.Append(ir.Xor(ir.Reg(callArgumentMreg), ir.Reg(callArgumentMreg)))
					}
				}
				code.Append(ir.Mov(ir.Reg(callArgumentMreg), source))
			} else {
				slot := allocation.SpillSlot()
				if slot.Width != ir.Width64 {
					// The 64-bit argument register receives a narrower value;
					// zero it first.
					code.Append(ir.Xor(ir.Reg(callArgumentMreg), ir.Reg(callArgumentMreg)))
				}
				code.Append(ir.Mov(ir.Reg(callArgumentMreg),
					ir.Addr(r.accessStack(program, slot, uint32(stackOffset)))))
			}

		case argument.IsReg():
			r.touched[callArgumentMregID] = true
			if argument.Register().MachineRegisterID() != callArgumentMregID {
				code.Append(ir.Mov(ir.Reg(callArgumentMreg), argument))
			}

		case argument.IsConstant():
			r.touched[callArgumentMregID] = true
			code.Append(ir.Mov(ir.Reg(callArgumentMreg), argument))

		default:
			return code, fmt.Errorf("%w: memory operand as call argument", ir.ErrNotImplemented)
		}

		argumentRegistersInUse = append(argumentRegistersInUse, callArgumentMregID)
	}

	code.Append(ir.Call(instr.FunctionPtr()))

	restoreRegistersFromStack(program, &code, save, stackOffset)

	if instr.HasReturn() {
		returnVreg := instr.ReturnRegister()
		if returnVreg.IsVirtual() {
			r.touched[abi.CallReturnRegisterID] = true

			allocation, ok := r.schedule.Lookup(returnVreg)
			if !ok {
				return code, fmt.Errorf("%w: %s", ir.ErrCanNotFindVirtualRegister, returnVreg.String())
			}
			returnMreg := program.Mreg64(abi.CallReturnRegisterID)
			if allocation.IsMreg() {
				code.Append(ir.Mov(ir.Reg(allocation.Mreg()), ir.Reg(returnMreg)))
			} else {
				code.Append(ir.Mov(ir.Addr(r.accessStack(program, allocation.SpillSlot(), 0)),
					ir.Reg(returnMreg)))
			}
		}
	}

	return code, nil
}

// lowerDivision expands Fdiv/Fmod into the rax/rdx sequence around idiv.
func (r *RegisterAssigner) lowerDivision(program *ir.Program, instr *ir.Instruction) (ir.InstructionSet, error) {
	target := *instr.Operand(0)
	dividend := *instr.Operand(1)
	divisor := *instr.Operand(2)

	code := ir.NewInstructionSet("", 16)

	var save []uint8
	if r.isLive(abi.RAX) {
		save = append(save, abi.RAX)
	}
	if r.isLive(abi.RDX) {
		save = append(save, abi.RDX)
	}
	stackOffset := saveRegistersOnStack(program, &code, save)

	// idiv takes no immediate divisor; materialize it in a spill register.
	if divisor.IsConstant() {
		divisorReg := program.Mreg(divisor.Constant().Width(), ir.Signed, abi.SpillMregIDs[0])
		code.Append(ir.Mov(ir.Reg(divisorReg), divisor))
		divisor = ir.Reg(divisorReg)
	}

	r.touched[abi.RAX] = true
	r.touched[abi.RDX] = true

	returnReg := program.Mreg64(abi.RAX)
	if instr.Op() == ir.OpFmod {
		returnReg = program.Mreg64(abi.RDX)
	}

	code.Append(
		ir.Xor(ir.Reg(program.Mreg64(abi.RDX)), ir.Reg(program.Mreg64(abi.RDX))),
		ir.Mov(ir.Reg(program.Mreg64(abi.RAX)), dividend),
		ir.Cqo(),
		ir.Idiv(divisor),
		ir.Mov(target, ir.Reg(returnReg)),
	)

	restoreRegistersFromStack(program, &code, save, stackOffset)
	return code, nil
}

// saveRegistersOnStack emits one store per register into the region below
// rsp, then moves rsp past it, 16-byte aligned. Returns the adjustment.
func saveRegistersOnStack(program *ir.Program, code *ir.InstructionSet, save []uint8) uint16 {
	if len(save) == 0 {
		return 0
	}

	stackOffset := uint16(8)
	for _, id := range save {
		code.Append(ir.Mov(
			ir.Addr(ir.MemDisp(program.Mreg64(abi.StackPointerMregID), -int32(stackOffset))),
			ir.Reg(program.Mreg64(id))))
		stackOffset += 8
	}
	stackOffset += stackOffset % 16
	code.Append(ir.Sub(ir.Reg(program.Mreg64(abi.StackPointerMregID)),
		ir.Imm(ir.Const16(int16(stackOffset)))))
	return stackOffset
}

// restoreRegistersFromStack undoes saveRegistersOnStack by moving rsp back
// and reading the saved copies.
func restoreRegistersFromStack(program *ir.Program, code *ir.InstructionSet, save []uint8, stackOffset uint16) {
	if len(save) == 0 {
		return
	}

	code.Append(ir.Add(ir.Reg(program.Mreg64(abi.StackPointerMregID)),
		ir.Imm(ir.Const16(int16(stackOffset)))))
	restoreOffset := int32(8)
	for _, id := range save {
		code.Append(ir.Mov(ir.Reg(program.Mreg64(id)),
			ir.Addr(ir.MemDisp(program.Mreg64(abi.StackPointerMregID), -restoreOffset))))
		restoreOffset += 8
	}
}

func removeID(ids []uint8, id uint8) []uint8 {
	filtered := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			filtered = append(filtered, candidate)
		}
	}
	return filtered
}

func indexOfID(ids []uint8, id uint8) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}
