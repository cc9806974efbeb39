// Package asm wraps the golang-asm x86-64 encoder behind a small assembler
// with named labels. Instructions are obj.Prog nodes appended in order; jumps
// reference labels by name and are fixed up when the label is bound to a
// zero-size anchor. Byte offsets become available after Assemble.
package asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/tunadb/flounder/ir"
)

type label struct {
	target  *obj.Prog
	pending []*obj.Prog
}

// Assembler accumulates obj.Prog instructions for one program.
type Assembler struct {
	builder *goasm.Builder
	labels  map[string]*label
	nodes   []*obj.Prog
}

func NewAssembler() (*Assembler, error) {
	builder, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ir.ErrCompilation, err)
	}
	return &Assembler{builder: builder, labels: make(map[string]*label)}, nil
}

// NewProg returns a fresh instruction node; pass it to Add once populated.
func (a *Assembler) NewProg() *obj.Prog { return a.builder.NewProg() }

// Add appends the instruction to the stream.
func (a *Assembler) Add(p *obj.Prog) *obj.Prog {
	a.builder.AddInstruction(p)
	a.nodes = append(a.nodes, p)
	return p
}

// Jump appends a branch to the named label; the target is fixed up when the
// label is bound.
func (a *Assembler) Jump(as obj.As, labelName string) *obj.Prog {
	p := a.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	entry := a.label(labelName)
	if entry.target != nil {
		p.To.SetTarget(entry.target)
	} else {
		entry.pending = append(entry.pending, p)
	}
	return a.Add(p)
}

// Bind binds the named label to the current position through a zero-size
// anchor instruction. A label binds at most once.
func (a *Assembler) Bind(labelName string) error {
	entry := a.label(labelName)
	if entry.target != nil {
		return fmt.Errorf("%w: label %q bound twice", ir.ErrCompilation, labelName)
	}

	anchor := a.NewProg()
	anchor.As = obj.ANOP
	a.Add(anchor)

	entry.target = anchor
	for _, p := range entry.pending {
		p.To.SetTarget(anchor)
	}
	entry.pending = nil
	return nil
}

func (a *Assembler) label(name string) *label {
	if entry, ok := a.labels[name]; ok {
		return entry
	}
	entry := &label{}
	a.labels[name] = entry
	return entry
}

// Nodes returns every appended instruction in stream order. Offsets (Pc) are
// valid after Assemble.
func (a *Assembler) Nodes() []*obj.Prog { return a.nodes }

// Assemble encodes the stream. Every referenced label must be bound.
func (a *Assembler) Assemble() (code []byte, err error) {
	for name, entry := range a.labels {
		if entry.target == nil && len(entry.pending) > 0 {
			return nil, fmt.Errorf("%w: unresolved label %q", ir.ErrCompilation, name)
		}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			code = nil
			err = fmt.Errorf("%w: %v", ir.ErrCompilation, recovered)
		}
	}()
	code = a.builder.Assemble()
	return code, nil
}
