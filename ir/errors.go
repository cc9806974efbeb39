package ir

import "errors"

// Error kinds surfaced from compilation. Every register-assignment,
// translation and assembly failure from Compiler.Compile wraps one of these
// sentinels; failures to map executable memory or to write the perf map wrap
// the underlying system error instead. No partial executable is published on
// failure.
var (
	// ErrNotImplemented marks an opcode/operand combination the backend can
	// not encode.
	ErrNotImplemented = errors.New("not implemented")

	// ErrVirtualRegisterAlreadyInUse marks a RequestVreg for a name whose
	// interval has not been cleared.
	ErrVirtualRegisterAlreadyInUse = errors.New("virtual register already in use")

	// ErrCanNotFindVirtualRegister marks an operand referencing a virtual
	// register unknown to the schedule.
	ErrCanNotFindVirtualRegister = errors.New("can not find virtual register")

	// ErrCanNotFindSpilledValue marks a call lowering that could not locate a
	// saved copy of a register it is overwriting.
	ErrCanNotFindSpilledValue = errors.New("can not find spilled value")

	// ErrUnknownRegister marks a physical register id outside [0,15].
	ErrUnknownRegister = errors.New("unknown machine register")

	// ErrNotEnoughTemporaryRegisters marks a single instruction reserving all
	// spill registers at once.
	ErrNotEnoughTemporaryRegisters = errors.New("not enough temporary registers for spilling")

	// ErrCanNotTranslateOperand marks an operand the backend fell through all
	// encoding cases for.
	ErrCanNotTranslateOperand = errors.New("can not translate operand")

	// ErrCanNotTranslateInstruction marks an instruction the backend fell
	// through all encoding cases for.
	ErrCanNotTranslateInstruction = errors.New("can not translate instruction")

	// ErrCompilation marks a byte stream the assembler library rejected.
	ErrCompilation = errors.New("could not translate flounder into asm")
)
