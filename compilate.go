package flounder

import (
	"fmt"
	"strings"
)

// CompilateLine is one emitted line of the assembly listing, tagged with its
// byte offset in the final code and the innermost context active when it was
// emitted.
type CompilateLine struct {
	Offset  uint32
	Text    string
	Comment string
	Context string
}

// Compilate is the retained textual form of a compiled program: the emitted
// assembly, each line tagged with its byte offset, grouped by the
// ContextBegin/End scopes the client emitted.
type Compilate struct {
	lines []CompilateLine
	base  uintptr
}

func (c *Compilate) Lines() []CompilateLine { return c.lines }

// Base is the address the offsets are relative to.
func (c *Compilate) Base() uintptr { return c.base }

func (c *Compilate) add(line CompilateLine) { c.lines = append(c.lines, line) }

func (c *Compilate) String() string {
	var b strings.Builder
	context := ""
	for _, line := range c.lines {
		if line.Context != context {
			context = line.Context
			if context != "" {
				fmt.Fprintf(&b, "; <%s>\n", context)
			}
		}
		if line.Comment != "" {
			fmt.Fprintf(&b, "%6x  %s ; %s\n", line.Offset, line.Text, line.Comment)
		} else {
			fmt.Fprintf(&b, "%6x  %s\n", line.Offset, line.Text)
		}
	}
	return b.String()
}
