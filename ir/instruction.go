package ir

import (
	"fmt"
	"strings"
)

// Opcode enumerates the closed instruction set.
type Opcode uint16

const (
	// Pseudo instructions, consumed before emission.
	OpRequestVreg Opcode = iota
	OpClearVreg
	OpGetArgument
	OpSetReturn
	OpComment
	OpContextBegin
	OpContextEnd
	OpBranchBegin
	OpBranchEnd

	OpRet
	OpNop
	OpCqo
	OpPop
	OpPush
	OpJump
	OpSection
	OpInc
	OpDec
	OpSete
	OpSetne
	OpLea
	OpPrefetch
	OpIdiv
	OpCmp
	OpTest
	OpMov
	OpCmovle
	OpCmovge
	OpAdd
	OpXadd
	OpSub
	OpImul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCrc32
	OpFdiv
	OpFmod
	OpFcall
	OpCall
	OpAlign
)

// JumpKind selects the condition of a Jump instruction.
type JumpKind uint8

const (
	JMP JumpKind = iota
	JE
	JNE
	JZ
	JNZ
	JLE
	JL
	JB
	JBE
	JGE
	JG
	JA
	JAE
)

var jumpMnemonics = [...]string{
	JMP: "jmp", JE: "je", JNE: "jne", JZ: "jz", JNZ: "jnz", JLE: "jle",
	JL: "jl", JB: "jb", JBE: "jbe", JGE: "jge", JG: "jg", JA: "ja", JAE: "jae",
}

// Inverse returns the negated condition. JMP inverts to itself.
func (k JumpKind) Inverse() JumpKind {
	switch k {
	case JE:
		return JNE
	case JNE:
		return JE
	case JZ:
		return JNZ
	case JNZ:
		return JZ
	case JLE:
		return JG
	case JL:
		return JGE
	case JB:
		return JAE
	case JBE:
		return JA
	case JGE:
		return JL
	case JG:
		return JLE
	case JA:
		return JBE
	case JAE:
		return JB
	}
	return JMP
}

func (k JumpKind) String() string { return jumpMnemonics[k] }

// Instruction is one IR line: an opcode, up to three operands and the
// opcode-specific payload. A single flat struct with a kind tag keeps the
// rewrite loop free of allocation and dispatch.
type Instruction struct {
	op       Opcode
	operands [3]Operand
	arity    uint8
	comment  string

	vreg     Register // RequestVreg, ClearVreg, Push, Pop
	w        Width    // RequestVreg
	sign     Sign     // RequestVreg
	argIndex uint8    // GetArgument
	text     string   // Comment, ContextBegin, ContextEnd
	branchID uint64   // BranchBegin
	jump     JumpKind // Jump
	label    Label    // Jump, Section
	locked   bool     // Xadd
	unlikely bool     // Cmp
	unroll   uint8    // Cmp, 0 = no hint
	fn       uintptr  // Fcall, Call
	ret      Register // Fcall
	hasRet   bool     // Fcall
	args     []Operand
	align    uint8 // Align
}

func (i *Instruction) Op() Opcode    { return i.op }
func (i *Instruction) Operands() int { return int(i.arity) }

// Operand returns the operand at the given index for in-place rewriting.
func (i *Instruction) Operand(index int) *Operand { return &i.operands[index] }

// IsWriting reports whether the operand at the given index is written by the
// instruction.
func (i *Instruction) IsWriting(index int) bool {
	switch i.op {
	case OpGetArgument, OpInc, OpDec, OpSete, OpSetne, OpXadd:
		return true
	case OpMov, OpCmovle, OpCmovge, OpLea, OpAdd, OpSub, OpImul,
		OpAnd, OpOr, OpXor, OpShl, OpShr, OpCrc32:
		return index == 0
	case OpFdiv, OpFmod:
		return index < 2
	}
	return false
}

func (i *Instruction) Comment() string           { return i.comment }
func (i *Instruction) SetComment(comment string) { i.comment = comment }

// Payload accessors.

func (i *Instruction) Vreg() Register      { return i.vreg }
func (i *Instruction) VregWidth() Width    { return i.w }
func (i *Instruction) VregSign() Sign      { return i.sign }
func (i *Instruction) ArgumentIndex() int  { return int(i.argIndex) }
func (i *Instruction) Text() string        { return i.text }
func (i *Instruction) JumpKind() JumpKind  { return i.jump }
func (i *Instruction) Label() Label        { return i.label }
func (i *Instruction) IsLocked() bool      { return i.locked }
func (i *Instruction) IsLikely() bool      { return !i.unlikely }
func (i *Instruction) FunctionPtr() uintptr { return i.fn }
func (i *Instruction) HasReturn() bool     { return i.hasRet }
func (i *Instruction) ReturnRegister() Register { return i.ret }
func (i *Instruction) Arguments() []Operand     { return i.args }
func (i *Instruction) Alignment() uint8         { return i.align }

// MarkUnlikely records the comparison as unlikely to be taken.
func (i *Instruction) MarkUnlikely() { i.unlikely = true }

// SetUnrollableIterations records an unroll hint on a comparison. The current
// emitter carries the hint without acting on it.
func (i *Instruction) SetUnrollableIterations(n uint8) { i.unroll = n }

func (i *Instruction) UnrollableIterations() (uint8, bool) { return i.unroll, i.unroll > 0 }

// AddArgument appends a call argument to an Fcall instruction.
func (i *Instruction) AddArgument(op Operand) { i.args = append(i.args, op) }

func (i *Instruction) String() string {
	switch i.op {
	case OpRequestVreg:
		suffix := ""
		if i.sign == Unsigned {
			suffix = "u"
		}
		return fmt.Sprintf("vreg%d%s %s", i.w, suffix, i.vreg.String())
	case OpClearVreg:
		return "clear " + i.vreg.String()
	case OpGetArgument:
		return fmt.Sprintf("getarg %d,%s", i.argIndex, i.operands[0].String())
	case OpSetReturn:
		return "return " + i.operands[0].String()
	case OpComment:
		return "; " + i.text
	case OpContextBegin:
		return "@begin-context " + i.text
	case OpContextEnd:
		return "@end-context " + i.text
	case OpBranchBegin:
		return fmt.Sprintf("@begin-branch #%d", i.branchID)
	case OpBranchEnd:
		return "@end-branch"
	case OpRet:
		return "ret"
	case OpNop:
		return "nop"
	case OpCqo:
		return "cqo"
	case OpPop:
		return "pop " + i.vreg.String()
	case OpPush:
		return "push " + i.vreg.String()
	case OpJump:
		return i.jump.String() + " " + i.label.Name()
	case OpSection:
		return i.label.Name() + ":"
	case OpInc:
		return "inc " + i.operands[0].String()
	case OpDec:
		return "dec " + i.operands[0].String()
	case OpSete:
		return "sete " + i.operands[0].String()
	case OpSetne:
		return "setne " + i.operands[0].String()
	case OpPrefetch:
		return "prefetch " + i.operands[0].String()
	case OpIdiv:
		return "idiv " + i.operands[0].String()
	case OpCmp:
		s := fmt.Sprintf("cmp %s, %s", i.operands[0].String(), i.operands[1].String())
		if i.unlikely {
			return s + " [[unlikely]]"
		}
		if i.unroll > 0 {
			return fmt.Sprintf("%s [[unroll=%d]]", s, i.unroll)
		}
		return s
	case OpXadd:
		if i.locked {
			return fmt.Sprintf("lock xadd %s, %s", i.operands[0].String(), i.operands[1].String())
		}
		return fmt.Sprintf("xadd %s, %s", i.operands[0].String(), i.operands[1].String())
	case OpFdiv, OpFmod:
		name := "fdiv"
		if i.op == OpFmod {
			name = "fmod"
		}
		return fmt.Sprintf("%s %s, %s, %s", name,
			i.operands[0].String(), i.operands[1].String(), i.operands[2].String())
	case OpFcall:
		var b strings.Builder
		if i.hasRet {
			fmt.Fprintf(&b, "call %s,%d", i.ret.String(), i.fn)
		} else {
			fmt.Fprintf(&b, "call %d", i.fn)
		}
		for _, arg := range i.args {
			b.WriteString("," + arg.String())
		}
		return b.String()
	case OpCall:
		return fmt.Sprintf("call %d", i.fn)
	case OpAlign:
		return fmt.Sprintf("align %d", i.align)
	}
	return fmt.Sprintf("%s %s", i.mnemonic(), i.operandList())
}

func (i *Instruction) mnemonic() string {
	switch i.op {
	case OpTest:
		return "test"
	case OpMov:
		return "mov"
	case OpCmovle:
		return "cmovle"
	case OpCmovge:
		return "cmovge"
	case OpLea:
		return "lea"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpImul:
		return "imul"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpCrc32:
		return "crc32"
	}
	return fmt.Sprintf("op%d", i.op)
}

func (i *Instruction) operandList() string {
	parts := make([]string, 0, i.arity)
	for idx := 0; idx < int(i.arity); idx++ {
		parts = append(parts, i.operands[idx].String())
	}
	return strings.Join(parts, ", ")
}

// Factories. Structured payload constructors; operand validation happens at
// translation time.

func RequestVreg(vreg Register, w Width, sign Sign) Instruction {
	return Instruction{op: OpRequestVreg, vreg: vreg, w: w, sign: sign}
}

func RequestVreg8(vreg Register) Instruction  { return RequestVreg(vreg, Width8, Signed) }
func RequestVreg16(vreg Register) Instruction { return RequestVreg(vreg, Width16, Signed) }
func RequestVreg32(vreg Register) Instruction { return RequestVreg(vreg, Width32, Signed) }
func RequestVreg64(vreg Register) Instruction { return RequestVreg(vreg, Width64, Signed) }

func RequestVreg8U(vreg Register) Instruction  { return RequestVreg(vreg, Width8, Unsigned) }
func RequestVreg16U(vreg Register) Instruction { return RequestVreg(vreg, Width16, Unsigned) }
func RequestVreg32U(vreg Register) Instruction { return RequestVreg(vreg, Width32, Unsigned) }
func RequestVreg64U(vreg Register) Instruction { return RequestVreg(vreg, Width64, Unsigned) }

func Clear(vreg Register) Instruction { return Instruction{op: OpClearVreg, vreg: vreg} }

func GetArgument(index int, vreg Register) Instruction {
	return Instruction{op: OpGetArgument, argIndex: uint8(index), operands: [3]Operand{Reg(vreg)}, arity: 1}
}

func GetArg0(vreg Register) Instruction { return GetArgument(0, vreg) }
func GetArg1(vreg Register) Instruction { return GetArgument(1, vreg) }
func GetArg2(vreg Register) Instruction { return GetArgument(2, vreg) }
func GetArg3(vreg Register) Instruction { return GetArgument(3, vreg) }
func GetArg4(vreg Register) Instruction { return GetArgument(4, vreg) }

func SetReturn(op Operand) Instruction {
	return Instruction{op: OpSetReturn, operands: [3]Operand{op}, arity: 1}
}

func Comment(text string) Instruction { return Instruction{op: OpComment, text: text} }

func ContextBegin(name string) Instruction { return Instruction{op: OpContextBegin, text: name} }
func ContextEnd(name string) Instruction   { return Instruction{op: OpContextEnd, text: name} }

func BranchBegin(id uint64) Instruction { return Instruction{op: OpBranchBegin, branchID: id} }
func BranchEnd() Instruction            { return Instruction{op: OpBranchEnd} }

func Ret() Instruction { return Instruction{op: OpRet} }
func Nop() Instruction { return Instruction{op: OpNop} }
func Cqo() Instruction { return Instruction{op: OpCqo} }

func Push(mreg Register) Instruction { return Instruction{op: OpPush, vreg: mreg} }
func Pop(mreg Register) Instruction  { return Instruction{op: OpPop, vreg: mreg} }

func Jump(kind JumpKind, label Label) Instruction {
	return Instruction{op: OpJump, jump: kind, label: label}
}

func Jmp(label Label) Instruction { return Jump(JMP, label) }
func Je(label Label) Instruction  { return Jump(JE, label) }
func Jne(label Label) Instruction { return Jump(JNE, label) }
func Jz(label Label) Instruction  { return Jump(JZ, label) }
func Jnz(label Label) Instruction { return Jump(JNZ, label) }
func Jl(label Label) Instruction  { return Jump(JL, label) }
func Jle(label Label) Instruction { return Jump(JLE, label) }
func Jg(label Label) Instruction  { return Jump(JG, label) }
func Jge(label Label) Instruction { return Jump(JGE, label) }
func Ja(label Label) Instruction  { return Jump(JA, label) }
func Jae(label Label) Instruction { return Jump(JAE, label) }
func Jb(label Label) Instruction  { return Jump(JB, label) }
func Jbe(label Label) Instruction { return Jump(JBE, label) }

func Section(label Label) Instruction { return Instruction{op: OpSection, label: label} }

func unary(op Opcode, operand Operand) Instruction {
	return Instruction{op: op, operands: [3]Operand{operand}, arity: 1}
}

func binary(op Opcode, left, right Operand) Instruction {
	return Instruction{op: op, operands: [3]Operand{left, right}, arity: 2}
}

func Inc(op Operand) Instruction      { return unary(OpInc, op) }
func Dec(op Operand) Instruction      { return unary(OpDec, op) }
func Sete(op Operand) Instruction     { return unary(OpSete, op) }
func Setne(op Operand) Instruction    { return unary(OpSetne, op) }
func Prefetch(m MemoryAddress) Instruction { return unary(OpPrefetch, Addr(m)) }
func Idiv(op Operand) Instruction     { return unary(OpIdiv, op) }

func Cmp(left, right Operand) Instruction  { return binary(OpCmp, left, right) }
func Test(left, right Operand) Instruction { return binary(OpTest, left, right) }
func Mov(left, right Operand) Instruction  { return binary(OpMov, left, right) }
func Cmovle(left, right Operand) Instruction { return binary(OpCmovle, left, right) }
func Cmovge(left, right Operand) Instruction { return binary(OpCmovge, left, right) }

func Lea(dst Register, src MemoryAddress) Instruction {
	return binary(OpLea, Reg(dst), Addr(src))
}

func Add(left, right Operand) Instruction  { return binary(OpAdd, left, right) }
func Sub(left, right Operand) Instruction  { return binary(OpSub, left, right) }
func Imul(left, right Operand) Instruction { return binary(OpImul, left, right) }
func And(left, right Operand) Instruction  { return binary(OpAnd, left, right) }
func Or(left, right Operand) Instruction   { return binary(OpOr, left, right) }
func Xor(left, right Operand) Instruction  { return binary(OpXor, left, right) }
func Shl(left, right Operand) Instruction  { return binary(OpShl, left, right) }
func Shr(left, right Operand) Instruction  { return binary(OpShr, left, right) }
func Crc32(left, right Operand) Instruction { return binary(OpCrc32, left, right) }

func Xadd(left, right Operand) Instruction { return binary(OpXadd, left, right) }

func XaddLocked(left, right Operand) Instruction {
	instr := binary(OpXadd, left, right)
	instr.locked = true
	return instr
}

func Fdiv(quotient, dividend, divisor Operand) Instruction {
	return Instruction{op: OpFdiv, operands: [3]Operand{quotient, dividend, divisor}, arity: 3}
}

func Fmod(remainder, dividend, divisor Operand) Instruction {
	return Instruction{op: OpFmod, operands: [3]Operand{remainder, dividend, divisor}, arity: 3}
}

func Fcall(fn uintptr, args ...Operand) Instruction {
	return Instruction{op: OpFcall, fn: fn, args: args}
}

func FcallRet(fn uintptr, ret Register, args ...Operand) Instruction {
	return Instruction{op: OpFcall, fn: fn, ret: ret, hasRet: true, args: args}
}

// Call is a raw call without caller-save handling or argument setup.
func Call(fn uintptr) Instruction { return Instruction{op: OpCall, fn: fn} }

func Align(alignment uint8) Instruction { return Instruction{op: OpAlign, align: alignment} }
