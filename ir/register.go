package ir

import "fmt"

// Width is the logical width of a register, constant or memory access in bits.
type Width uint8

const (
	// WidthUnset marks registers whose logical type is not bound yet.
	WidthUnset Width = 0
	Width8     Width = 8
	Width16    Width = 16
	Width32    Width = 32
	Width64    Width = 64
)

// Sign is the logical signedness of a value. Widening moves consult it to
// choose between sign- and zero-extension.
type Sign uint8

const (
	SignUnset Sign = iota
	Signed
	Unsigned
)

// Register is either a virtual register, identified by an interned name, or a
// physical machine register identified by its id in [0,15]. Virtual registers
// carry no width or sign until a RequestVreg instruction binds them; physical
// registers always carry both.
//
// Registers are cheap copyable values. The name is interned by the owning
// Program, so comparing registers compares interned references.
type Register struct {
	name string
	hot  bool
	id   int16
	w    Width
	sign Sign
}

// NewVirtualRegister returns a virtual register handle. Use Program.Vreg to
// obtain registers with interned names.
func NewVirtualRegister(name string, accessedFrequently bool) Register {
	return Register{name: name, hot: accessedFrequently, id: -1}
}

// NewMachineRegister returns a physical register value.
func NewMachineRegister(id uint8, w Width, sign Sign) Register {
	return Register{id: int16(id), w: w, sign: sign}
}

func (r Register) IsVirtual() bool { return r.id < 0 }

// Name returns the interned virtual name, or "" for physical registers.
func (r Register) Name() string { return r.name }

// AccessedFrequently reports the client's access hint for this vreg.
func (r Register) AccessedFrequently() bool { return r.hot }

// MachineRegisterID returns the physical register id. Only valid when
// IsVirtual reports false.
func (r Register) MachineRegisterID() uint8 { return uint8(r.id) }

func (r Register) Width() Width { return r.w }
func (r Register) Sign() Sign   { return r.sign }

// SignOrUnsigned returns the sign type, defaulting to Unsigned when unset.
func (r Register) SignOrUnsigned() Sign {
	if r.sign == SignUnset {
		return Unsigned
	}
	return r.sign
}

// Assign rewrites this register in place to the given machine register,
// keeping the virtual name for diagnostics.
func (r *Register) Assign(m Register) {
	r.id = m.id
	r.w = m.w
	r.sign = m.sign
}

func (r Register) String() string {
	if !r.IsVirtual() {
		if r.sign == Unsigned {
			return fmt.Sprintf("reg%d::%du", r.id, r.w)
		}
		return fmt.Sprintf("reg%d::%d", r.id, r.w)
	}
	if r.name != "" {
		return "%" + r.name
	}
	return "unknown reg"
}
