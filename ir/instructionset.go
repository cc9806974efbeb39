package ir

// InstructionSet is an ordered sequence of instructions with an optional
// section name. Instruction order equals emission order.
type InstructionSet struct {
	name  string
	lines []Instruction
}

func NewInstructionSet(name string, capacity int) InstructionSet {
	return InstructionSet{name: name, lines: make([]Instruction, 0, capacity)}
}

func (s *InstructionSet) Name() string { return s.name }
func (s *InstructionSet) Len() int     { return len(s.lines) }
func (s *InstructionSet) Empty() bool  { return len(s.lines) == 0 }

// Lines exposes the backing slice; the register assigner rewrites it in place.
func (s *InstructionSet) Lines() []Instruction { return s.lines }

// At returns the instruction at the given index for in-place modification.
func (s *InstructionSet) At(index int) *Instruction { return &s.lines[index] }

// Append adds instructions at the end.
func (s *InstructionSet) Append(instructions ...Instruction) *InstructionSet {
	s.lines = append(s.lines, instructions...)
	return s
}

// AppendSet adds all lines of another set at the end.
func (s *InstructionSet) AppendSet(other InstructionSet) *InstructionSet {
	s.lines = append(s.lines, other.lines...)
	return s
}

// InsertAt places the lines of another set at the given index.
func (s *InstructionSet) InsertAt(index int, other InstructionSet) *InstructionSet {
	s.lines = append(s.lines[:index], append(other.lines, s.lines[index:]...)...)
	return s
}

// Replace swaps the backing lines, keeping the section name.
func (s *InstructionSet) Replace(other InstructionSet) {
	s.lines = other.lines
}

// Code renders the set as IR text, one line per instruction.
func (s *InstructionSet) Code() []string {
	code := make([]string, 0, len(s.lines))
	for idx := range s.lines {
		code = append(code, s.lines[idx].String())
	}
	return code
}
