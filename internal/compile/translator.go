package compile

import (
	"fmt"
	"math/bits"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tunadb/flounder/internal/abi"
	"github.com/tunadb/flounder/internal/asm"
	"github.com/tunadb/flounder/ir"
)

// machineRegisters maps Flounder machine register ids (hardware encoding
// order) to golang-asm register numbers. Width is carried by the mnemonic.
var machineRegisters = [16]int16{
	x86.REG_AX, x86.REG_CX, x86.REG_DX, x86.REG_BX,
	x86.REG_SP, x86.REG_BP, x86.REG_SI, x86.REG_DI,
	x86.REG_R8, x86.REG_R9, x86.REG_R10, x86.REG_R11,
	x86.REG_R12, x86.REG_R13, x86.REG_R14, x86.REG_R15,
}

// Record ties one emitted node to the IR instruction it came from, for the
// source→native offset table, the perf map, and the assembly listing.
type Record struct {
	Node    *obj.Prog
	Source  string
	Comment string
	Context string
}

// Translator lowers rewritten IR — machine registers only — to x86-64, one
// instruction per IR line, except that a register-count shift first moves the
// count into cl, a call first moves its target into r10, and a locked xadd
// carries a separate lock prefix.
type Translator struct {
	asm          *asm.Assembler
	keepComments bool
	contexts     []string
	records      []Record
}

func NewTranslator(assembler *asm.Assembler, keepComments bool) *Translator {
	return &Translator{asm: assembler, keepComments: keepComments}
}

func (t *Translator) Records() []Record { return t.records }

// TranslateSet lowers one instruction set in order.
func (t *Translator) TranslateSet(set *ir.InstructionSet) error {
	for idx := 0; idx < set.Len(); idx++ {
		if err := t.translate(set.At(idx)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) context() string {
	if len(t.contexts) == 0 {
		return ""
	}
	return t.contexts[len(t.contexts)-1]
}

func (t *Translator) record(instr *ir.Instruction, p *obj.Prog) {
	if !t.keepComments {
		return
	}
	t.records = append(t.records, Record{
		Node:    p,
		Source:  instr.String(),
		Comment: instr.Comment(),
		Context: t.context(),
	})
}

func (t *Translator) emit(instr *ir.Instruction, p *obj.Prog) {
	t.asm.Add(p)
	t.record(instr, p)
}

func (t *Translator) translate(instr *ir.Instruction) error {
	switch instr.Op() {
	case ir.OpRequestVreg, ir.OpClearVreg, ir.OpFdiv, ir.OpFmod, ir.OpFcall:
		// Consumed by the register assigner; reaching here is a pipeline bug.
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())

	case ir.OpComment:
		t.record(instr, nil)
		return nil

	case ir.OpContextBegin:
		t.contexts = append(t.contexts, instr.Text())
		return nil

	case ir.OpContextEnd:
		if len(t.contexts) > 0 {
			t.contexts = t.contexts[:len(t.contexts)-1]
		}
		return nil

	case ir.OpBranchBegin, ir.OpBranchEnd:
		return nil

	case ir.OpGetArgument:
		argRegister := ir.NewMachineRegister(
			abi.CallArgumentRegisterIDs[instr.ArgumentIndex()], ir.Width64, ir.SignUnset)
		mov := ir.Mov(*instr.Operand(0), ir.Reg(argRegister))
		mov.SetComment(instr.Comment())
		return t.translateMov(&mov)

	case ir.OpSetReturn:
		returnRegister := ir.NewMachineRegister(abi.CallReturnRegisterID, ir.Width64, ir.Signed)
		mov := ir.Mov(ir.Reg(returnRegister), *instr.Operand(0))
		mov.SetComment(instr.Comment())
		return t.translateMov(&mov)

	case ir.OpRet:
		return t.standalone(instr, obj.ARET)
	case ir.OpNop:
		return t.standalone(instr, obj.ANOP)
	case ir.OpCqo:
		return t.standalone(instr, x86.ACQO)

	case ir.OpPush:
		reg, err := t.register(instr.Vreg())
		if err != nil {
			return err
		}
		p := t.asm.NewProg()
		p.As = x86.APUSHQ
		p.From = regAddr(reg)
		t.emit(instr, p)
		return nil

	case ir.OpPop:
		reg, err := t.register(instr.Vreg())
		if err != nil {
			return err
		}
		p := t.asm.NewProg()
		p.As = x86.APOPQ
		p.To = regAddr(reg)
		t.emit(instr, p)
		return nil

	case ir.OpJump:
		as, ok := jumpAs(instr.JumpKind())
		if !ok {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		t.record(instr, t.asm.Jump(as, instr.Label().Name()))
		return nil

	case ir.OpSection:
		return t.asm.Bind(instr.Label().Name())

	case ir.OpInc:
		return t.unaryWrite(instr, incAs)
	case ir.OpDec:
		return t.unaryWrite(instr, decAs)

	case ir.OpSete:
		return t.setcc(instr, x86.ASETEQ)
	case ir.OpSetne:
		return t.setcc(instr, x86.ASETNE)

	case ir.OpPrefetch:
		operand := instr.Operand(0)
		if !operand.IsMem() {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		mem, err := t.memory(operand.Memory())
		if err != nil {
			return err
		}
		p := t.asm.NewProg()
		p.As = x86.APREFETCHT1
		p.From = mem
		t.emit(instr, p)
		return nil

	case ir.OpIdiv:
		return t.translateIdiv(instr)

	case ir.OpCmp:
		return t.flagBinary(instr, cmpAs, false)
	case ir.OpTest:
		return t.flagBinary(instr, testAs, true)

	case ir.OpMov:
		return t.translateMov(instr)

	case ir.OpCmovle:
		return t.translateCmov(instr, cmovleAs)
	case ir.OpCmovge:
		return t.translateCmov(instr, cmovgeAs)

	case ir.OpLea:
		return t.translateLea(instr)

	case ir.OpAdd:
		return t.arithBinary(instr, addAs)
	case ir.OpSub:
		return t.arithBinary(instr, subAs)
	case ir.OpAnd:
		return t.arithBinary(instr, andAs)
	case ir.OpOr:
		return t.arithBinary(instr, orAs)
	case ir.OpXor:
		return t.arithBinary(instr, xorAs)

	case ir.OpXadd:
		return t.translateXadd(instr)

	case ir.OpImul:
		return t.translateImul(instr)

	case ir.OpShl:
		return t.translateShift(instr, shlAs)
	case ir.OpShr:
		return t.translateShift(instr, shrAs)

	case ir.OpCrc32:
		return t.translateCrc32(instr)

	case ir.OpCall:
		return t.translateCall(instr)

	case ir.OpAlign:
		p := t.asm.NewProg()
		p.As = obj.APCALIGN
		p.From = constAddr(int64(instr.Alignment()))
		t.emit(instr, p)
		return nil
	}

	return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
}

func (t *Translator) standalone(instr *ir.Instruction, as obj.As) error {
	p := t.asm.NewProg()
	p.As = as
	t.emit(instr, p)
	return nil
}

func (t *Translator) register(r ir.Register) (int16, error) {
	if r.IsVirtual() {
		return 0, fmt.Errorf("%w: %s", ir.ErrCanNotTranslateOperand, r.String())
	}
	id := r.MachineRegisterID()
	if int(id) >= len(machineRegisters) {
		return 0, fmt.Errorf("%w: id %d, width %d", ir.ErrUnknownRegister, id, r.Width())
	}
	return machineRegisters[id], nil
}

func (t *Translator) memory(m ir.MemoryAddress) (obj.Addr, error) {
	addr := obj.Addr{Type: obj.TYPE_MEM, Offset: int64(m.Displacement())}

	if m.HasConstantBase() {
		// 64-bit absolute bases are materialized into a register by the
		// assigner; anything left fits the 32-bit displacement form.
		base := m.ConstantBase()
		if base.Width() == ir.Width64 {
			return obj.Addr{}, fmt.Errorf("%w: %s", ir.ErrCanNotTranslateOperand, m.String())
		}
		addr.Reg = obj.REG_NONE
		addr.Offset += base.Value()
	} else {
		base, err := t.register(m.Base())
		if err != nil {
			return obj.Addr{}, err
		}
		addr.Reg = base
	}

	if m.HasIndex() {
		index, err := t.register(m.Index())
		if err != nil {
			return obj.Addr{}, err
		}
		addr.Index = index
		scale := m.Scale()
		if scale == 0 {
			scale = 1
		}
		addr.Scale = int16(scale)
	}

	return addr, nil
}

func regAddr(reg int16) obj.Addr  { return obj.Addr{Type: obj.TYPE_REG, Reg: reg} }
func constAddr(v int64) obj.Addr  { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }

type widthAs func(ir.Width) (obj.As, bool)

func (t *Translator) unaryWrite(instr *ir.Instruction, as widthAs) error {
	operand := instr.Operand(0)
	var target obj.Addr
	var w ir.Width

	switch {
	case operand.IsReg():
		reg, err := t.register(operand.Register())
		if err != nil {
			return err
		}
		target = regAddr(reg)
		w = operand.Register().Width()
	case operand.IsMem():
		mem, err := t.memory(operand.Memory())
		if err != nil {
			return err
		}
		target = mem
		w = operand.Memory().WidthOr(ir.Width64)
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	mnemonic, ok := as(w)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.To = target
	t.emit(instr, p)
	return nil
}

func (t *Translator) setcc(instr *ir.Instruction, as obj.As) error {
	operand := instr.Operand(0)
	p := t.asm.NewProg()
	p.As = as
	switch {
	case operand.IsReg():
		reg, err := t.register(operand.Register())
		if err != nil {
			return err
		}
		p.To = regAddr(reg)
	case operand.IsMem():
		mem, err := t.memory(operand.Memory())
		if err != nil {
			return err
		}
		p.To = mem
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateIdiv(instr *ir.Instruction) error {
	operand := instr.Operand(0)
	p := t.asm.NewProg()
	switch {
	case operand.IsReg():
		reg, err := t.register(operand.Register())
		if err != nil {
			return err
		}
		mnemonic, ok := idivAs(operand.Register().Width())
		if !ok {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		p.As = mnemonic
		p.From = regAddr(reg)
	case operand.IsMem():
		mem, err := t.memory(operand.Memory())
		if err != nil {
			return err
		}
		mnemonic, ok := idivAs(operand.Memory().WidthOr(ir.Width64))
		if !ok {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		p.As = mnemonic
		p.From = mem
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	t.emit(instr, p)
	return nil
}

// flagBinary covers cmp and test: no operand is written, all reg/mem/imm
// combinations are accepted.
func (t *Translator) flagBinary(instr *ir.Instruction, as widthAs, constInFrom bool) error {
	left, right := instr.Operand(0), instr.Operand(1)

	var w ir.Width
	var from, to obj.Addr

	switch {
	case left.IsReg() && right.IsReg():
		lr, err := t.register(left.Register())
		if err != nil {
			return err
		}
		rr, err := t.register(right.Register())
		if err != nil {
			return err
		}
		w = left.Register().Width()
		from, to = regAddr(lr), regAddr(rr)
	case left.IsReg() && right.IsMem():
		lr, err := t.register(left.Register())
		if err != nil {
			return err
		}
		mem, err := t.memory(right.Memory())
		if err != nil {
			return err
		}
		w = right.Memory().WidthOr(left.Register().Width())
		from, to = regAddr(lr), mem
	case left.IsReg() && right.IsConstant():
		lr, err := t.register(left.Register())
		if err != nil {
			return err
		}
		w = left.Register().Width()
		from, to = regAddr(lr), constAddr(right.Constant().Value())
	case left.IsMem() && right.IsReg():
		mem, err := t.memory(left.Memory())
		if err != nil {
			return err
		}
		rr, err := t.register(right.Register())
		if err != nil {
			return err
		}
		w = left.Memory().WidthOr(right.Register().Width())
		from, to = mem, regAddr(rr)
	case left.IsMem() && right.IsConstant():
		mem, err := t.memory(left.Memory())
		if err != nil {
			return err
		}
		w = left.Memory().WidthOr(right.Constant().Width())
		from, to = mem, constAddr(right.Constant().Value())
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	if constInFrom {
		// test wants its immediate — or register, against a memory operand —
		// in the source slot.
		if to.Type == obj.TYPE_CONST || (from.Type == obj.TYPE_MEM && to.Type == obj.TYPE_REG) {
			from, to = to, from
		}
	}

	mnemonic, ok := as(w)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = from
	p.To = to
	t.emit(instr, p)
	return nil
}

// arithBinary covers add/sub/and/or/xor: destination first, golang-asm wants
// the source in From.
func (t *Translator) arithBinary(instr *ir.Instruction, as widthAs) error {
	left, right := instr.Operand(0), instr.Operand(1)

	var w ir.Width
	var from, to obj.Addr

	switch {
	case left.IsReg():
		lr, err := t.register(left.Register())
		if err != nil {
			return err
		}
		to = regAddr(lr)
		w = left.Register().Width()
		switch {
		case right.IsReg():
			rr, err := t.register(right.Register())
			if err != nil {
				return err
			}
			from = regAddr(rr)
		case right.IsConstant():
			from = constAddr(right.Constant().Value())
		case right.IsMem():
			mem, err := t.memory(right.Memory())
			if err != nil {
				return err
			}
			from = mem
		}
	case left.IsMem():
		mem, err := t.memory(left.Memory())
		if err != nil {
			return err
		}
		to = mem
		switch {
		case right.IsReg():
			rr, err := t.register(right.Register())
			if err != nil {
				return err
			}
			from = regAddr(rr)
			w = left.Memory().WidthOr(right.Register().Width())
		case right.IsConstant():
			from = constAddr(right.Constant().Value())
			w = left.Memory().WidthOr(right.Constant().Width())
		default:
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	mnemonic, ok := as(w)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = from
	p.To = to
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateMov(instr *ir.Instruction) error {
	left, right := instr.Operand(0), instr.Operand(1)

	if left.IsReg() {
		leftReg, err := t.register(left.Register())
		if err != nil {
			return err
		}
		leftWidth := left.Register().Width()
		leftSign := left.Register().Sign()

		switch {
		case right.IsReg():
			rightReg, err := t.register(right.Register())
			if err != nil {
				return err
			}
			rightWidth := right.Register().Width()

			mnemonic, ok := movRegAs(leftWidth, rightWidth, leftSign)
			if !ok {
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = regAddr(rightReg)
			p.To = regAddr(leftReg)
			t.emit(instr, p)
			return nil

		case right.IsConstant():
			// A 64-bit immediate into a 64-bit register becomes movabs.
			mnemonic, ok := movAs(leftWidth)
			if !ok {
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = constAddr(right.Constant().Value())
			p.To = regAddr(leftReg)
			t.emit(instr, p)
			return nil

		case right.IsMem():
			rightWidth := right.Memory().WidthOr(leftWidth)
			mem, err := t.memory(right.Memory())
			if err != nil {
				return err
			}

			var mnemonic obj.As
			var ok bool
			if leftWidth <= rightWidth {
				mnemonic, ok = movAs(leftWidth)
			} else {
				mnemonic, ok = movExtendAs(leftWidth, rightWidth, leftSign)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = mem
			p.To = regAddr(leftReg)
			t.emit(instr, p)
			return nil
		}
	}

	if left.IsMem() {
		mem, err := t.memory(left.Memory())
		if err != nil {
			return err
		}

		switch {
		case right.IsReg():
			rightReg, err := t.register(right.Register())
			if err != nil {
				return err
			}
			memWidth := left.Memory().WidthOr(right.Register().Width())
			mnemonic, ok := movAs(memWidth)
			if !ok {
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = regAddr(rightReg)
			p.To = mem
			t.emit(instr, p)
			return nil

		case right.IsConstant():
			if right.Constant().Width() == ir.Width64 {
				// No imm64-to-memory form; the assigner materializes wide
				// constants first.
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			memWidth := left.Memory().WidthOr(right.Constant().Width())
			mnemonic, ok := movAs(memWidth)
			if !ok {
				return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
			}
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = constAddr(right.Constant().Value())
			p.To = mem
			t.emit(instr, p)
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
}

func (t *Translator) translateCmov(instr *ir.Instruction, as widthAs) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	leftReg, err := t.register(left.Register())
	if err != nil {
		return err
	}
	mnemonic, ok := as(left.Register().Width())
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	p := t.asm.NewProg()
	p.As = mnemonic
	p.To = regAddr(leftReg)
	switch {
	case right.IsReg():
		rightReg, err := t.register(right.Register())
		if err != nil {
			return err
		}
		p.From = regAddr(rightReg)
	case right.IsMem():
		mem, err := t.memory(right.Memory())
		if err != nil {
			return err
		}
		p.From = mem
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateLea(instr *ir.Instruction) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() || !right.IsMem() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	leftReg, err := t.register(left.Register())
	if err != nil {
		return err
	}
	mem, err := t.memory(right.Memory())
	if err != nil {
		return err
	}
	mnemonic, ok := leaAs(left.Register().Width())
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = mem
	p.To = regAddr(leftReg)
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateXadd(instr *ir.Instruction) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !right.IsReg() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	rightReg, err := t.register(right.Register())
	if err != nil {
		return err
	}

	if instr.IsLocked() {
		lock := t.asm.NewProg()
		lock.As = x86.ALOCK
		t.emit(instr, lock)
	}

	var w ir.Width
	var to obj.Addr
	switch {
	case left.IsReg():
		leftReg, err := t.register(left.Register())
		if err != nil {
			return err
		}
		w = left.Register().Width()
		to = regAddr(leftReg)
	case left.IsMem():
		mem, err := t.memory(left.Memory())
		if err != nil {
			return err
		}
		w = left.Memory().WidthOr(right.Register().Width())
		to = mem
	default:
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	mnemonic, ok := xaddAs(w)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = regAddr(rightReg)
	p.To = to
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateImul(instr *ir.Instruction) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	leftReg, err := t.register(left.Register())
	if err != nil {
		return err
	}
	leftWidth := left.Register().Width()
	mnemonic, ok := imulAs(leftWidth)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	switch {
	case right.IsReg():
		rightReg, err := t.register(right.Register())
		if err != nil {
			return err
		}
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = regAddr(rightReg)
		p.To = regAddr(leftReg)
		t.emit(instr, p)
		return nil

	case right.IsConstant():
		return t.translateImulConst(instr, leftReg, leftWidth, right.Constant().Value())

	case right.IsMem():
		mem, err := t.memory(right.Memory())
		if err != nil {
			return err
		}
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = mem
		p.To = regAddr(leftReg)
		t.emit(instr, p)
		return nil
	}

	return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
}

// translateImulConst strength-reduces multiplications: powers of two become
// shifts, 2 becomes add, 3/5/9 become lea with a scaled index.
func (t *Translator) translateImulConst(instr *ir.Instruction, reg int16, w ir.Width, constant int64) error {
	if constant == 2 {
		mnemonic, ok := addAs(w)
		if !ok {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = regAddr(reg)
		p.To = regAddr(reg)
		t.emit(instr, p)
		return nil
	}

	if constant > 2 && constant&(constant-1) == 0 {
		mnemonic, ok := shlAs(w)
		if !ok {
			return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
		}
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = constAddr(int64(bits.TrailingZeros64(uint64(constant))))
		p.To = regAddr(reg)
		t.emit(instr, p)
		return nil
	}

	if constant == 3 || constant == 5 || constant == 9 {
		mnemonic, ok := leaAs(w)
		if ok {
			p := t.asm.NewProg()
			p.As = mnemonic
			p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: reg, Index: reg, Scale: int16(constant - 1)}
			p.To = regAddr(reg)
			t.emit(instr, p)
			return nil
		}
	}

	mnemonic, ok := imulAs(w)
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = constAddr(constant)
	p.To = regAddr(reg)
	t.emit(instr, p)
	return nil
}

func (t *Translator) translateShift(instr *ir.Instruction, as widthAs) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	leftReg, err := t.register(left.Register())
	if err != nil {
		return err
	}
	mnemonic, ok := as(left.Register().Width())
	if !ok {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}

	switch {
	case right.IsConstant():
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = constAddr(right.Constant().Value())
		p.To = regAddr(leftReg)
		t.emit(instr, p)
		return nil

	case right.IsReg():
		rightReg, err := t.register(right.Register())
		if err != nil {
			return err
		}
		// The count travels through cl.
		if rightReg != x86.REG_CX {
			count := t.asm.NewProg()
			count.As = x86.AMOVB
			count.From = regAddr(rightReg)
			count.To = regAddr(x86.REG_CX)
			t.emit(instr, count)
		}
		p := t.asm.NewProg()
		p.As = mnemonic
		p.From = regAddr(x86.REG_CX)
		p.To = regAddr(leftReg)
		t.emit(instr, p)
		return nil
	}

	return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
}

func (t *Translator) translateCrc32(instr *ir.Instruction) error {
	left, right := instr.Operand(0), instr.Operand(1)
	if !left.IsReg() || !right.IsReg() {
		return fmt.Errorf("%w: %s", ir.ErrCanNotTranslateInstruction, instr.String())
	}
	leftReg, err := t.register(left.Register())
	if err != nil {
		return err
	}
	rightReg, err := t.register(right.Register())
	if err != nil {
		return err
	}

	var mnemonic obj.As
	if left.Register().Width() == ir.Width64 {
		mnemonic = x86.ACRC32Q
	} else {
		switch right.Register().Width() {
		case ir.Width8:
			mnemonic = x86.ACRC32B
		case ir.Width16:
			mnemonic = x86.ACRC32W
		default:
			mnemonic = x86.ACRC32L
		}
	}

	p := t.asm.NewProg()
	p.As = mnemonic
	p.From = regAddr(rightReg)
	p.To = regAddr(leftReg)
	t.emit(instr, p)
	return nil
}

// translateCall materializes the target in r10 — caller-saved, not an
// argument register, and al stays untouched for varargs callees — and calls
// through it; golang-asm has no call-to-absolute-immediate form.
func (t *Translator) translateCall(instr *ir.Instruction) error {
	load := t.asm.NewProg()
	load.As = x86.AMOVQ
	load.From = constAddr(int64(instr.FunctionPtr()))
	load.To = regAddr(x86.REG_R10)
	t.emit(instr, load)

	call := t.asm.NewProg()
	call.As = obj.ACALL
	call.To = regAddr(x86.REG_R10)
	t.emit(instr, call)
	return nil
}

func jumpAs(kind ir.JumpKind) (obj.As, bool) {
	switch kind {
	case ir.JMP:
		return obj.AJMP, true
	case ir.JE, ir.JZ:
		return x86.AJEQ, true
	case ir.JNE, ir.JNZ:
		return x86.AJNE, true
	case ir.JL:
		return x86.AJLT, true
	case ir.JLE:
		return x86.AJLE, true
	case ir.JG:
		return x86.AJGT, true
	case ir.JGE:
		return x86.AJGE, true
	case ir.JB:
		return x86.AJCS, true
	case ir.JBE:
		return x86.AJLS, true
	case ir.JA:
		return x86.AJHI, true
	case ir.JAE:
		return x86.AJCC, true
	}
	return 0, false
}

func pick(w ir.Width, b, word, l, q obj.As) (obj.As, bool) {
	switch w {
	case ir.Width8:
		return b, true
	case ir.Width16:
		return word, true
	case ir.Width32:
		return l, true
	case ir.Width64:
		return q, true
	}
	return 0, false
}

func movAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AMOVB, x86.AMOVW, x86.AMOVL, x86.AMOVQ)
}

func addAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AADDB, x86.AADDW, x86.AADDL, x86.AADDQ)
}

func subAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ASUBB, x86.ASUBW, x86.ASUBL, x86.ASUBQ)
}

func andAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AANDB, x86.AANDW, x86.AANDL, x86.AANDQ)
}

func orAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AORB, x86.AORW, x86.AORL, x86.AORQ)
}

func xorAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AXORB, x86.AXORW, x86.AXORL, x86.AXORQ)
}

func cmpAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ACMPB, x86.ACMPW, x86.ACMPL, x86.ACMPQ)
}

func testAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ATESTB, x86.ATESTW, x86.ATESTL, x86.ATESTQ)
}

func incAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AINCB, x86.AINCW, x86.AINCL, x86.AINCQ)
}

func decAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ADECB, x86.ADECW, x86.ADECL, x86.ADECQ)
}

func shlAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ASHLB, x86.ASHLW, x86.ASHLL, x86.ASHLQ)
}

func shrAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.ASHRB, x86.ASHRW, x86.ASHRL, x86.ASHRQ)
}

func idivAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AIDIVB, x86.AIDIVW, x86.AIDIVL, x86.AIDIVQ)
}

func xaddAs(w ir.Width) (obj.As, bool) {
	return pick(w, x86.AXADDB, x86.AXADDW, x86.AXADDL, x86.AXADDQ)
}

func imulAs(w ir.Width) (obj.As, bool) {
	switch w {
	case ir.Width16:
		return x86.AIMULW, true
	case ir.Width32:
		return x86.AIMULL, true
	case ir.Width64:
		return x86.AIMULQ, true
	}
	return 0, false
}

func cmovleAs(w ir.Width) (obj.As, bool) {
	switch w {
	case ir.Width16:
		return x86.ACMOVWLE, true
	case ir.Width32:
		return x86.ACMOVLLE, true
	case ir.Width64:
		return x86.ACMOVQLE, true
	}
	return 0, false
}

func cmovgeAs(w ir.Width) (obj.As, bool) {
	switch w {
	case ir.Width16:
		return x86.ACMOVWGE, true
	case ir.Width32:
		return x86.ACMOVLGE, true
	case ir.Width64:
		return x86.ACMOVQGE, true
	}
	return 0, false
}

func leaAs(w ir.Width) (obj.As, bool) {
	switch w {
	case ir.Width32:
		return x86.ALEAL, true
	case ir.Width64:
		return x86.ALEAQ, true
	}
	return 0, false
}

// movRegAs picks the move for a register-to-register transfer: equal widths
// and narrowing use a plain move at the destination width; widening extends
// per the destination's sign, with a plain 32-bit move standing in for the
// implicit zero-extension.
func movRegAs(dst, src ir.Width, dstSign ir.Sign) (obj.As, bool) {
	if dst <= src {
		return movAs(dst)
	}
	return movExtendAs(dst, src, dstSign)
}

func movExtendAs(dst, src ir.Width, dstSign ir.Sign) (obj.As, bool) {
	if dstSign == ir.Signed {
		switch {
		case src == ir.Width8 && dst == ir.Width16:
			return x86.AMOVBWSX, true
		case src == ir.Width8 && dst == ir.Width32:
			return x86.AMOVBLSX, true
		case src == ir.Width8 && dst == ir.Width64:
			return x86.AMOVBQSX, true
		case src == ir.Width16 && dst == ir.Width32:
			return x86.AMOVWLSX, true
		case src == ir.Width16 && dst == ir.Width64:
			return x86.AMOVWQSX, true
		case src == ir.Width32 && dst == ir.Width64:
			return x86.AMOVLQSX, true
		}
		return 0, false
	}

	switch {
	case src == ir.Width8 && dst == ir.Width16:
		return x86.AMOVBWZX, true
	case src == ir.Width8 && dst == ir.Width32:
		return x86.AMOVBLZX, true
	case src == ir.Width8 && dst == ir.Width64:
		return x86.AMOVBQZX, true
	case src == ir.Width16 && dst == ir.Width32:
		return x86.AMOVWLZX, true
	case src == ir.Width16 && dst == ir.Width64:
		return x86.AMOVWQZX, true
	case src == ir.Width32 && dst == ir.Width64:
		// mov r32, r32 zero-extends on x86-64.
		return x86.AMOVL, true
	}
	return 0, false
}
