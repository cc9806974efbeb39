package flounder

import (
	"fmt"

	"github.com/tunadb/flounder/internal/platform"
)

// Executable owns one finalized region of executable memory. The region is
// acquired read-write, filled, and flipped to read-execute before the entry
// pointer is exposed; a writable-and-executable mapping is never published.
// A finalized Executable is self-contained and may be shared by reference
// across threads.
type Executable struct {
	name      string
	segment   []byte
	size      int
	compilate *Compilate
}

func NewExecutable(name string) *Executable { return &Executable{name: name} }

func (e *Executable) Name() string { return e.name }

// Size is the number of code bytes in the region.
func (e *Executable) Size() int { return e.size }

// Entry returns the entry-point address of the compiled function. Zero until
// compilation succeeds.
func (e *Executable) Entry() uintptr {
	if e.segment == nil {
		return 0
	}
	return addrOf(e.segment)
}

// Compilate returns the retained assembly listing, or nil unless the
// compiler was configured with WithKeepCompiledCode.
func (e *Executable) Compilate() *Compilate { return e.compilate }

// Close releases the executable pages. The entry pointer is invalid
// afterwards.
func (e *Executable) Close() error {
	if e.segment == nil {
		return nil
	}
	segment := e.segment
	e.segment = nil
	e.size = 0
	return platform.MunmapCodeSegment(segment)
}

// publish copies the assembled code into a fresh region and flips it to
// read-execute.
func (e *Executable) publish(code []byte) error {
	segment, err := platform.MmapCodeSegment(len(code))
	if err != nil {
		return fmt.Errorf("could not map executable memory: %w", err)
	}
	copy(segment, code)
	if err := platform.MprotectRX(segment); err != nil {
		_ = platform.MunmapCodeSegment(segment)
		return fmt.Errorf("could not finalize executable memory: %w", err)
	}
	e.segment = segment
	e.size = len(code)
	return nil
}
