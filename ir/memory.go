package ir

import (
	"fmt"
	"strings"
)

// MemoryAddress is base + [index (* scale)] + displacement with an optional
// access-width annotation. The base is either a register or a 64-bit constant
// (absolute address). Scale is one of 0, 1, 2, 4, 8.
type MemoryAddress struct {
	base      Register
	baseConst Constant
	constBase bool
	index     Register
	hasIndex  bool
	scale     uint8
	disp      int32
	w         Width
}

// Mem addresses [base].
func Mem(base Register) MemoryAddress { return MemoryAddress{base: base} }

// MemDisp addresses [base + disp].
func MemDisp(base Register, disp int32) MemoryAddress {
	return MemoryAddress{base: base, disp: disp}
}

// MemDispWidth addresses [base + disp] with a declared access width.
func MemDispWidth(base Register, disp int32, w Width) MemoryAddress {
	return MemoryAddress{base: base, disp: disp, w: w}
}

// MemIndex addresses [base + index*scale + disp]. A scale of zero means the
// index is added unscaled.
func MemIndex(base, index Register, scale uint8, disp int32) MemoryAddress {
	return MemoryAddress{base: base, index: index, hasIndex: true, scale: scale, disp: disp}
}

// MemIndexWidth is MemIndex with a declared access width.
func MemIndexWidth(base, index Register, scale uint8, disp int32, w Width) MemoryAddress {
	return MemoryAddress{base: base, index: index, hasIndex: true, scale: scale, disp: disp, w: w}
}

// MemAbs addresses an absolute location.
func MemAbs(base Constant) MemoryAddress {
	return MemoryAddress{baseConst: base, constBase: true}
}

// MemAbsDispWidth addresses [base + disp] at an absolute base with a declared
// access width.
func MemAbsDispWidth(base Constant, disp int32, w Width) MemoryAddress {
	return MemoryAddress{baseConst: base, constBase: true, disp: disp, w: w}
}

func (m MemoryAddress) HasConstantBase() bool  { return m.constBase }
func (m MemoryAddress) Base() Register         { return m.base }
func (m MemoryAddress) ConstantBase() Constant { return m.baseConst }
func (m MemoryAddress) HasIndex() bool         { return m.hasIndex }
func (m MemoryAddress) Index() Register        { return m.index }
func (m MemoryAddress) HasScale() bool         { return m.scale > 0 }
func (m MemoryAddress) Scale() uint8           { return m.scale }
func (m MemoryAddress) Displacement() int32    { return m.disp }
func (m MemoryAddress) Width() Width           { return m.w }

// WidthOr returns the declared access width, or the fallback when absent.
func (m MemoryAddress) WidthOr(fallback Width) Width {
	if m.w != WidthUnset {
		return m.w
	}
	return fallback
}

// AssignBase rewrites the base register in place.
func (m *MemoryAddress) AssignBase(r Register) {
	m.base = r
	m.constBase = false
}

// AssignIndex rewrites the index register in place.
func (m *MemoryAddress) AssignIndex(r Register) { m.index = r }

// BaseRef returns the base register for in-place assignment.
func (m *MemoryAddress) BaseRef() *Register { return &m.base }

// IndexRef returns the index register for in-place assignment.
func (m *MemoryAddress) IndexRef() *Register { return &m.index }

func (m MemoryAddress) String() string {
	var b strings.Builder
	if m.constBase {
		b.WriteString(m.baseConst.String())
	} else {
		b.WriteString(m.base.String())
	}
	if m.hasIndex {
		if m.scale > 0 {
			fmt.Fprintf(&b, "+%s*%d", m.index.String(), m.scale)
		} else {
			fmt.Fprintf(&b, "+%s", m.index.String())
		}
	}
	if m.disp > 0 {
		fmt.Fprintf(&b, "+%d", m.disp)
	} else if m.disp < 0 {
		fmt.Fprintf(&b, "%d", m.disp)
	}
	if m.w != WidthUnset {
		return fmt.Sprintf("[%s]::%d", b.String(), m.w)
	}
	return fmt.Sprintf("[%s]", b.String())
}
