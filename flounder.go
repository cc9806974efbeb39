// Package flounder is an x86-64 just-in-time code generator for a compiling
// query engine. Clients build a Program of virtual-register IR, and the
// Compiler lowers it through liveness analysis, linear-scan register
// allocation, spill-aware register assignment and translation into an
// Executable whose entry point follows the System V AMD64 convention.
//
// A Compiler instance serves one compilation at a time; independent
// Compilers may run in parallel and share no state.
package flounder

import (
	"fmt"

	"github.com/tunadb/flounder/internal/asm"
	"github.com/tunadb/flounder/internal/compile"
	"github.com/tunadb/flounder/internal/perfmap"
	"github.com/tunadb/flounder/ir"
)

// Compiler drives the compilation pipeline.
type Compiler struct {
	config   CompilerConfig
	assigner *compile.RegisterAssigner
}

func NewCompiler(config CompilerConfig) *Compiler {
	return &Compiler{config: config, assigner: compile.NewRegisterAssigner()}
}

// Compile lowers the program into the executable. The program's IR is
// rewritten in place; on failure no executable region is published.
func (c *Compiler) Compile(program *ir.Program, executable *Executable) error {
	if err := c.assigner.Process(program, c.config.keepCode); err != nil {
		return err
	}

	compile.Optimize(program)

	return c.translate(program, executable)
}

// Translate lowers an already register-assigned program. Translation is one
// step within Compile but is exposed for clients that drive the pipeline
// themselves.
func (c *Compiler) Translate(program *ir.Program, executable *Executable) error {
	return c.translate(program, executable)
}

func (c *Compiler) translate(program *ir.Program, executable *Executable) error {
	assembler, err := asm.NewAssembler()
	if err != nil {
		return err
	}

	translator := compile.NewTranslator(assembler, c.config.keepCode)
	for _, section := range []*ir.InstructionSet{program.Arguments(), program.Header(), program.Body()} {
		if err := translator.TranslateSet(section); err != nil {
			return err
		}
	}

	code, err := assembler.Assemble()
	if err != nil {
		return err
	}

	if err := executable.publish(code); err != nil {
		return err
	}

	if c.config.keepCode {
		executable.compilate = buildCompilate(executable, translator.Records())
	}

	if c.config.profiling {
		if err := c.writePerfMap(executable); err != nil {
			_ = executable.Close()
			return fmt.Errorf("could not write perf map: %w", err)
		}
	}
	for _, notifier := range c.config.notifiers {
		notifier.Published(executable.Name(), executable.Entry(), executable.Size())
	}

	return nil
}

func buildCompilate(executable *Executable, records []compile.Record) *Compilate {
	compilate := &Compilate{base: executable.Entry()}
	for _, record := range records {
		line := CompilateLine{
			Text:    record.Source,
			Comment: record.Comment,
			Context: record.Context,
		}
		if record.Node != nil {
			line.Offset = uint32(record.Node.Pc)
		}
		compilate.add(line)
	}
	return compilate
}

func (c *Compiler) writePerfMap(executable *Executable) error {
	pm, err := perfmap.Open()
	if err != nil {
		return err
	}
	defer pm.Close()
	return pm.AddEntry(executable.Entry(), uint64(executable.Size()), executable.Name())
}

// PerfMapNotifier mirrors published regions into the perf map sidecar; the
// same effect as WithProfiling, usable alongside other notifiers.
type PerfMapNotifier struct{}

func (PerfMapNotifier) Published(name string, addr uintptr, size int) {
	pm, err := perfmap.Open()
	if err != nil {
		return
	}
	defer pm.Close()
	_ = pm.AddEntry(addr, uint64(size), name)
}
