package ir

// OperandKind discriminates the Operand sum.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandMemory
	OperandConstant
)

// Operand is the sum of Register, MemoryAddress and Constant.
type Operand struct {
	kind OperandKind
	reg  Register
	mem  MemoryAddress
	con  Constant
}

// Reg wraps a register as an operand.
func Reg(r Register) Operand { return Operand{kind: OperandRegister, reg: r} }

// Addr wraps a memory address as an operand.
func Addr(m MemoryAddress) Operand { return Operand{kind: OperandMemory, mem: m} }

// Imm wraps a constant as an operand.
func Imm(c Constant) Operand { return Operand{kind: OperandConstant, con: c} }

func (o Operand) Kind() OperandKind { return o.kind }
func (o Operand) IsReg() bool       { return o.kind == OperandRegister }
func (o Operand) IsMem() bool       { return o.kind == OperandMemory }
func (o Operand) IsConstant() bool  { return o.kind == OperandConstant }

func (o Operand) Register() Register    { return o.reg }
func (o Operand) Memory() MemoryAddress { return o.mem }
func (o Operand) Constant() Constant    { return o.con }

// RegisterRef returns the contained register for in-place rewriting.
func (o *Operand) RegisterRef() *Register { return &o.reg }

// MemoryRef returns the contained memory address for in-place rewriting.
func (o *Operand) MemoryRef() *MemoryAddress { return &o.mem }

// SetRegister replaces the operand with a register.
func (o *Operand) SetRegister(r Register) { *o = Reg(r) }

// SetMemory replaces the operand with a memory address.
func (o *Operand) SetMemory(m MemoryAddress) { *o = Addr(m) }

func (o Operand) String() string {
	switch o.kind {
	case OperandRegister:
		return o.reg.String()
	case OperandMemory:
		return o.mem.String()
	case OperandConstant:
		return o.con.String()
	}
	return "<none>"
}
