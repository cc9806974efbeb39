//go:build amd64

package flounder

import "unsafe"

func addrOf(b []byte) uintptr { return uintptr(unsafe.Pointer(&b[0])) }

// entrypoint invokes code with the System V AMD64 calling convention:
// arguments in rdi, rsi, rdx, rcx, r8, r9 and the result in rax.
// Implemented in executable_amd64.s.
func entrypoint(code, a0, a1, a2, a3, a4, a5 uintptr) uintptr

// Call invokes the compiled function with up to six pointer-sized arguments
// and returns the pointer-sized result.
func (e *Executable) Call(args ...uintptr) uintptr {
	if len(args) > 6 {
		panic("flounder: a compiled function takes at most six arguments")
	}
	var padded [6]uintptr
	copy(padded[:], args)
	return entrypoint(e.Entry(), padded[0], padded[1], padded[2], padded[3], padded[4], padded[5])
}
