package control

import (
	"fmt"

	"github.com/tunadb/flounder/ir"
)

// Memcpy emits an unrolled copy of size bytes from the address in source to
// the address in destination, in 8/4/2/1-byte blocks.
func Memcpy(program *ir.Program, destination, source ir.Register, size uint32) {
	MemcpyOffset(program, destination, 0, source, 0, size)
}

// MemcpyOffset is Memcpy with fixed displacements on both addresses.
func MemcpyOffset(program *ir.Program, destination ir.Register, destinationOffset uint32,
	source ir.Register, sourceOffset uint32, size uint32) {
	remaining := size
	offset := uint32(0)
	for _, block := range []uint32{8, 4, 2, 1} {
		blockMemcpy(program, destination, destinationOffset, source, sourceOffset, block, &remaining, &offset)
	}
}

func blockMemcpy(program *ir.Program, destination ir.Register, destinationOffset uint32,
	source ir.Register, sourceOffset uint32, block uint32, remaining, offset *uint32) {
	if *remaining < block {
		return
	}

	copyVreg := program.Vreg(fmt.Sprintf("memcpy%d", block))
	program.Emit(ir.RequestVreg(copyVreg, ir.Width(block*8), ir.Signed))

	for *remaining >= block {
		sourceAddress := ir.MemDisp(source, int32(*offset+sourceOffset))
		destinationAddress := ir.MemDisp(destination, int32(*offset+destinationOffset))
		program.Emit(
			ir.Mov(ir.Reg(copyVreg), ir.Addr(sourceAddress)),
			ir.Mov(ir.Addr(destinationAddress), ir.Reg(copyVreg)),
		)
		*offset += block
		*remaining -= block
	}

	program.Emit(ir.Clear(copyVreg))
}
