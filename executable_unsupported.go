//go:build !amd64

package flounder

import "unsafe"

func addrOf(b []byte) uintptr { return uintptr(unsafe.Pointer(&b[0])) }

// Call is only available on amd64; the generated code is x86-64.
func (e *Executable) Call(args ...uintptr) uintptr {
	panic("flounder: compiled code can only run on amd64")
}
