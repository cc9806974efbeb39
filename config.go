package flounder

// CompilerConfig controls the optional behavior of a Compiler. Configs are
// immutable values; the With* setters return an updated copy:
//
//	c := flounder.NewCompiler(flounder.NewCompilerConfig().
//		WithKeepCompiledCode(true).
//		WithProfiling(true))
type CompilerConfig struct {
	profiling bool
	keepCode  bool
	notifiers []Notifier
}

func NewCompilerConfig() CompilerConfig { return CompilerConfig{} }

// WithProfiling writes every published region to the per-process perf map
// sidecar so Linux perf can symbolize JIT code.
func (c CompilerConfig) WithProfiling(enabled bool) CompilerConfig {
	c.profiling = enabled
	return c
}

// WithKeepCompiledCode retains the emitted assembly text with byte offsets
// on the Executable, grouped by context markers.
func (c CompilerConfig) WithKeepCompiledCode(enabled bool) CompilerConfig {
	c.keepCode = enabled
	return c
}

// WithNotifier registers a callback invoked for every published region, e.g.
// a VTune/ittapi bridge supplied by the host.
func (c CompilerConfig) WithNotifier(notifier Notifier) CompilerConfig {
	notifiers := make([]Notifier, 0, len(c.notifiers)+1)
	notifiers = append(notifiers, c.notifiers...)
	notifiers = append(notifiers, notifier)
	c.notifiers = notifiers
	return c
}

// Notifier observes published executable regions.
type Notifier interface {
	Published(name string, addr uintptr, size int)
}
