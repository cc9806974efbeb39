package ir

import (
	"math"
	"strconv"
)

// Constant is a signed integer immediate in one of the four widths, or a
// pointer-sized unsigned address. Its width is the smallest width that
// faithfully represents the value; 64-bit constants cannot appear as
// immediates to most instructions and are materialized through a spill
// register by the register assigner.
type Constant struct {
	value int64
	w     Width
	ptr   bool
}

func Const8(v int8) Constant   { return Constant{value: int64(v), w: Width8} }
func Const16(v int16) Constant { return Constant{value: int64(v), w: Width16} }
func Const32(v int32) Constant { return Constant{value: int64(v), w: Width32} }

// Const64 narrows to 32 bits when the value is faithfully representable.
func Const64(v int64) Constant {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return Const32(int32(v))
	}
	return Constant{value: v, w: Width64}
}

// ConstAddress is a pointer-sized unsigned constant, always 64 bits wide.
func ConstAddress(addr uintptr) Constant {
	return Constant{value: int64(addr), w: Width64, ptr: true}
}

func (c Constant) Value() int64    { return c.value }
func (c Constant) Width() Width    { return c.w }
func (c Constant) IsAddress() bool { return c.ptr }

func (c Constant) String() string {
	if c.ptr {
		return strconv.FormatUint(uint64(c.value), 10)
	}
	return strconv.FormatInt(c.value, 10)
}
