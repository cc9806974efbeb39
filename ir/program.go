package ir

// Program is a unit of compilation: three instruction sets in dependency
// order plus the interned name arenas and program-lifetime data buffers.
// A Program is built once, compiled into an Executable once, and may be
// dropped afterwards. Programs are not safe for concurrent mutation; distinct
// Programs share no state and may be compiled in parallel.
type Program struct {
	nextID uint64

	arguments InstructionSet
	header    InstructionSet
	body      InstructionSet

	vregNames  map[string]string
	labelNames map[string]string

	data [][]byte
}

func NewProgram() *Program {
	return &Program{
		arguments:  NewInstructionSet("Arguments", 32),
		header:     NewInstructionSet("Header", 64),
		body:       NewInstructionSet("Body", 4096),
		vregNames:  make(map[string]string),
		labelNames: make(map[string]string),
	}
}

// NextID returns a fresh identifier for generated names.
func (p *Program) NextID() uint64 {
	id := p.nextID
	p.nextID++
	return id
}

func (p *Program) Arguments() *InstructionSet { return &p.arguments }
func (p *Program) Header() *InstructionSet    { return &p.header }
func (p *Program) Body() *InstructionSet      { return &p.body }

func (p *Program) Size() int {
	return p.arguments.Len() + p.header.Len() + p.body.Len()
}

// Emit appends instructions to the body.
func (p *Program) Emit(instructions ...Instruction) *Program {
	p.body.Append(instructions...)
	return p
}

// EmitSet appends a whole instruction set to the body.
func (p *Program) EmitSet(set InstructionSet) *Program {
	p.body.AppendSet(set)
	return p
}

// Data allocates a 64-byte-aligned buffer whose lifetime equals the
// Program's, for runtime-visible constants and state referenced by emitted
// code.
func (p *Program) Data(size int) []byte {
	raw := make([]byte, size+63)
	buf := raw
	// Align the visible window; the raw slice keeps the allocation alive.
	for i := 0; i < 64; i++ {
		if addrOf(buf)%64 == 0 {
			break
		}
		buf = buf[1:]
	}
	buf = buf[:size:size]
	p.data = append(p.data, raw)
	return buf
}

// Vreg returns a virtual register with the name interned in this Program.
func (p *Program) Vreg(name string) Register {
	return NewVirtualRegister(p.intern(p.vregNames, name), true)
}

// VregWithHint is Vreg with an explicit access-frequency hint.
func (p *Program) VregWithHint(name string, accessedFrequently bool) Register {
	return NewVirtualRegister(p.intern(p.vregNames, name), accessedFrequently)
}

// Mreg returns a physical register value.
func (p *Program) Mreg(w Width, sign Sign, id uint8) Register {
	return NewMachineRegister(id, w, sign)
}

// Mreg64 returns a 64-bit signed physical register value.
func (p *Program) Mreg64(id uint8) Register {
	return NewMachineRegister(id, Width64, Signed)
}

// Label returns a label with the name interned in this Program.
func (p *Program) Label(name string) Label {
	return NewLabel(p.intern(p.labelNames, name))
}

func (p *Program) intern(arena map[string]string, name string) string {
	if interned, ok := arena[name]; ok {
		return interned
	}
	arena[name] = name
	return name
}

// Code renders the whole program as IR text.
func (p *Program) Code() []string {
	code := make([]string, 0, p.Size())
	code = append(code, p.arguments.Code()...)
	code = append(code, p.header.Code()...)
	code = append(code, p.body.Code()...)
	return code
}
