package oactree

import "sync"

// Base implements the bookkeeping shared by every concrete instruction kind:
// name, type tag, attribute table, and the status state machine (§4.5
// "Status state machine"). Concrete kinds embed Base and implement
// ExecuteSingle (routing their kind-specific step through Tick), Setup,
// Halt, Reset, and Children.
type Base struct {
	mu        sync.Mutex
	kind      string
	name      string
	attrs     *AttributeTable
	status    ExecutionStatus
	haltFlag  bool
	observer  func(old, new ExecutionStatus)
}

// NewBase constructs the shared state for an instruction of the given
// registered type tag.
func NewBase(kind string) Base {
	return Base{kind: kind, attrs: NewAttributeTable(), status: NotStarted}
}

func (b *Base) Type() string { return b.kind }

func (b *Base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

func (b *Base) Attributes() *AttributeTable { return b.attrs }

func (b *Base) Status() ExecutionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// setStatus transitions the state machine, invoking the UI observer iff the
// status actually changed (§4.5).
func (b *Base) setStatus(ui UserInterface, self Instruction, next ExecutionStatus) ExecutionStatus {
	b.mu.Lock()
	old := b.status
	b.status = next
	b.mu.Unlock()
	if old != next && ui != nil {
		ui.UpdateInstructionStatus(self, old, next)
	}
	return next
}

// RequestHalt sets the sticky halt flag this instruction's blocking leaves
// poll from their wait quanta.
func (b *Base) RequestHalt() {
	b.mu.Lock()
	b.haltFlag = true
	b.mu.Unlock()
}

// Halted reports whether RequestHalt was called since the last ResetState.
func (b *Base) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.haltFlag
}

// ResetState returns the state machine to NotStarted and clears the halt
// flag, ready for another procedure activation.
func (b *Base) ResetState() {
	b.mu.Lock()
	b.status = NotStarted
	b.haltFlag = false
	b.mu.Unlock()
}

// Tick runs impl once, applies the post-halt-observation override from
// §4.5 ("if Halt was observed, state -> Failure"), and records the
// transition.
func Tick(b *Base, ui UserInterface, self Instruction, impl func() ExecutionStatus) ExecutionStatus {
	next := impl()
	if b.Halted() && next != Success {
		next = Failure
	}
	return b.setStatus(ui, self, next)
}

// haltChildren recursively requests halt on every live descendant: each
// child's own Halt carries the request on to that child's descendants.
func haltChildren(instr Instruction) {
	for _, c := range instr.Children() {
		c.Halt()
	}
}

// resetChildren recursively resets every descendant after instr's own
// kind-specific reset has released its resources.
func resetChildren(children []Instruction) {
	for _, c := range children {
		c.Reset()
	}
}

// ChildAppender is implemented by decorators (single child, overwritten on
// repeat calls) and compounds (ordered append) so CloneInstruction can
// reattach cloned children without a per-kind switch.
type ChildAppender interface {
	AppendChild(Instruction)
}

// CloneInstruction builds a fresh instance of instr's registered kind via
// reg, copies its declared attribute strings (not yet resolved), and
// recursively clones its children onto it via ChildAppender. Used by
// Include/IncludeProcedure to materialise a referenced subtree as their
// own child (§4.5 "Include").
func CloneInstruction(reg *InstructionRegistry, instr Instruction) (Instruction, error) {
	clone, err := reg.New(instr.Type())
	if err != nil {
		return nil, err
	}
	clone.SetName(instr.Name())
	for _, name := range instr.Attributes().Names() {
		if !instr.Attributes().HasAttribute(name) {
			continue
		}
		raw, err := instr.Attributes().GetAttributeString(name)
		if err != nil {
			return nil, err
		}
		clone.Attributes().SetRaw(name, raw)
	}
	children := instr.Children()
	if len(children) == 0 {
		return clone, nil
	}
	appender, ok := clone.(ChildAppender)
	if !ok {
		return clone, nil
	}
	for _, child := range children {
		clonedChild, err := CloneInstruction(reg, child)
		if err != nil {
			return nil, err
		}
		appender.AppendChild(clonedChild)
	}
	return clone, nil
}
