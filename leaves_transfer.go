package oactree

import (
	"strconv"
	"time"

	"github.com/sup-oac/oactree/value"
)

func init() {
	RegisterInstructionKind("Copy", func() Instruction { return NewCopy(nil) })
	RegisterInstructionKind("Increment", func() Instruction { return NewIncrement(nil) })
	RegisterInstructionKind("Decrement", func() Instruction { return NewDecrement(nil) })
	RegisterInstructionKind("ResetVariable", func() Instruction { return NewResetVariable(nil) })
	RegisterInstructionKind("AddMember", func() Instruction { return NewAddMember(nil) })
	RegisterInstructionKind("AddElement", func() Instruction { return NewAddElement(nil) })
	RegisterInstructionKind("Input", func() Instruction { return NewInput(nil) })
	RegisterInstructionKind("Output", func() Instruction { return NewOutput(nil) })
	RegisterInstructionKind("UserConfirmation", func() Instruction { return NewUserConfirmation(nil) })
	RegisterInstructionKind("WaitForVariable", func() Instruction { return NewWaitForVariable(nil) })
}

// Copy resolves "input" and writes it to the "output" workspace path.
type Copy struct{ Base }

func NewCopy(raw map[string]string) *Copy {
	c := &Copy{Base: NewBase("Copy")}
	declareAttrs(&c.Base, []attributeSpec{
		{Name: "input", Category: CategoryBoth, Mandatory: true},
		{Name: "output", Category: CategoryVariableName, Mandatory: true},
	}, raw)
	return c
}

func (c *Copy) Setup(ctx *SetupContext) error { return c.Attributes().Resolve(ctx.Types) }
func (c *Copy) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus {
		v, err := c.Attributes().GetAttributeValue("input", ws)
		if err != nil {
			return Failure
		}
		if err := c.Attributes().SetValueFromAttributeName(ws, "output", v); err != nil {
			return Failure
		}
		return Success
	})
}
func (c *Copy) Halt()             {}
func (c *Copy) Reset()            { c.ResetState() }
func (c *Copy) Children() []Instruction { return nil }

// stepVariable is the shared implementation behind Increment/Decrement.
type stepVariable struct {
	Base
	delta int64
}

func newStepVariable(kind string, delta int64, raw map[string]string) *stepVariable {
	s := &stepVariable{Base: NewBase(kind), delta: delta}
	declareAttrs(&s.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
	}, raw)
	return s
}

func (s *stepVariable) Setup(ctx *SetupContext) error { return s.Attributes().Resolve(ctx.Types) }
func (s *stepVariable) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&s.Base, ui, s, func() ExecutionStatus {
		name, err := s.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		current, err := ws.GetValue(name)
		if err != nil {
			return Failure
		}
		var next value.Value
		if s.delta > 0 {
			next, err = current.Increment()
		} else {
			next, err = current.Decrement()
		}
		if err != nil {
			return Failure
		}
		if err := ws.SetValue(name, next); err != nil {
			return Failure
		}
		return Success
	})
}
func (s *stepVariable) Halt()             {}
func (s *stepVariable) Reset()            { s.ResetState() }
func (s *stepVariable) Children() []Instruction { return nil }

// Increment reads a workspace scalar, adds one, and writes it back.
type Increment struct{ stepVariable }

func NewIncrement(raw map[string]string) *Increment {
	return &Increment{stepVariable: *newStepVariable("Increment", 1, raw)}
}

// Decrement reads a workspace scalar, subtracts one, and writes it back.
type Decrement struct{ stepVariable }

func NewDecrement(raw map[string]string) *Decrement {
	return &Decrement{stepVariable: *newStepVariable("Decrement", -1, raw)}
}

// ResetVariable overwrites a variable with its zero value.
type ResetVariable struct{ Base }

func NewResetVariable(raw map[string]string) *ResetVariable {
	r := &ResetVariable{Base: NewBase("ResetVariable")}
	declareAttrs(&r.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
	}, raw)
	return r
}

func (r *ResetVariable) Setup(ctx *SetupContext) error { return r.Attributes().Resolve(ctx.Types) }
func (r *ResetVariable) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&r.Base, ui, r, func() ExecutionStatus {
		name, err := r.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		current, err := ws.GetValue(name)
		if err != nil {
			return Failure
		}
		zero, err := value.Zero(current.Kind())
		if err != nil {
			return Failure
		}
		if err := ws.SetValue(name, zero); err != nil {
			return Failure
		}
		return Success
	})
}
func (r *ResetVariable) Halt()             {}
func (r *ResetVariable) Reset()            { r.ResetState() }
func (r *ResetVariable) Children() []Instruction { return nil }

// AddMember inserts a new named field into a struct-shaped workspace
// variable; fails on shape violation or duplicate member name.
type AddMember struct{ Base }

func NewAddMember(raw map[string]string) *AddMember {
	a := &AddMember{Base: NewBase("AddMember")}
	declareAttrs(&a.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
		{Name: "member", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "value", Category: CategoryBoth, Mandatory: true},
	}, raw)
	return a
}

func (a *AddMember) Setup(ctx *SetupContext) error { return a.Attributes().Resolve(ctx.Types) }
func (a *AddMember) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&a.Base, ui, a, func() ExecutionStatus {
		name, err := a.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		current, err := ws.GetValue(name)
		if err != nil {
			return Failure
		}
		if current.Kind() != value.KindStruct {
			return Failure
		}
		memberVal, err := a.Attributes().GetAttributeValue("member", ws)
		if err != nil {
			return Failure
		}
		memberName, err := memberVal.AsString()
		if err != nil {
			return Failure
		}
		for _, existing := range current.MemberNames() {
			if existing == memberName {
				return Failure
			}
		}
		newVal, err := a.Attributes().GetAttributeValue("value", ws)
		if err != nil {
			return Failure
		}
		members := append([]value.Member(nil), current.Type().Members...)
		members = append(members, value.Member{Name: memberName, Type: newVal.Type()})
		values := make([]value.Value, 0, len(members))
		for _, m := range current.Type().Members {
			v, _ := current.GetAt(m.Name)
			values = append(values, v)
		}
		values = append(values, newVal)
		rebuilt, err := value.NewStruct(current.Type().Name, members, values)
		if err != nil {
			return Failure
		}
		if err := ws.SetValue(name, rebuilt); err != nil {
			return Failure
		}
		return Success
	})
}
func (a *AddMember) Halt()             {}
func (a *AddMember) Reset()            { a.ResetState() }
func (a *AddMember) Children() []Instruction { return nil }

// AddElement appends a value to an array-shaped workspace variable.
type AddElement struct{ Base }

func NewAddElement(raw map[string]string) *AddElement {
	a := &AddElement{Base: NewBase("AddElement")}
	declareAttrs(&a.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
		{Name: "value", Category: CategoryBoth, Mandatory: true},
	}, raw)
	return a
}

func (a *AddElement) Setup(ctx *SetupContext) error { return a.Attributes().Resolve(ctx.Types) }
func (a *AddElement) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&a.Base, ui, a, func() ExecutionStatus {
		name, err := a.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		current, err := ws.GetValue(name)
		if err != nil {
			return Failure
		}
		if current.Kind() != value.KindArray {
			return Failure
		}
		newVal, err := a.Attributes().GetAttributeValue("value", ws)
		if err != nil {
			return Failure
		}
		elemType := *current.Type().Elem
		if !newVal.Type().Equal(elemType) {
			return Failure
		}
		count := current.Type().Count
		elements := make([]value.Value, 0, count+1)
		for i := 0; i < count; i++ {
			v, _ := current.GetAt(indexPath(i))
			elements = append(elements, v)
		}
		elements = append(elements, newVal)
		rebuilt, err := value.NewArray(current.Type().Name, elemType, elements)
		if err != nil {
			return Failure
		}
		if err := ws.SetValue(name, rebuilt); err != nil {
			return Failure
		}
		return Success
	})
}
func (a *AddElement) Halt()             {}
func (a *AddElement) Reset()            { a.ResetState() }
func (a *AddElement) Children() []Instruction { return nil }

func indexPath(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// Input transfers a user-supplied value into a workspace variable,
// interruptible via Halt while blocked on the UI.
type Input struct{ Base }

func NewInput(raw map[string]string) *Input {
	i := &Input{Base: NewBase("Input")}
	declareAttrs(&i.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
		{Name: "description", Category: CategoryValue, Type: value.Type{Kind: value.KindString}},
	}, raw)
	return i
}

func (i *Input) Setup(ctx *SetupContext) error { return i.Attributes().Resolve(ctx.Types) }
func (i *Input) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&i.Base, ui, i, func() ExecutionStatus {
		name, err := i.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		prototype, err := ws.GetValue(name)
		if err != nil {
			return Failure
		}
		desc := ""
		if i.Attributes().HasAttribute("description") {
			if v, err := i.Attributes().GetAttributeValue("description", ws); err == nil {
				desc, _ = v.AsString()
			}
		}
		if ui == nil {
			return Failure
		}
		ok, v := ui.GetInterruptableUserValue(i, prototype, desc)
		if !ok {
			return Failure
		}
		if err := ws.SetValue(name, v); err != nil {
			return Failure
		}
		return Success
	})
}
func (i *Input) Halt()             { i.RequestHalt() }
func (i *Input) Reset()            { i.ResetState() }
func (i *Input) Children() []Instruction { return nil }

// Output transfers a workspace value to the UI.
type Output struct{ Base }

func NewOutput(raw map[string]string) *Output {
	o := &Output{Base: NewBase("Output")}
	declareAttrs(&o.Base, []attributeSpec{
		{Name: "variable", Category: CategoryBoth, Mandatory: true},
		{Name: "description", Category: CategoryValue, Type: value.Type{Kind: value.KindString}},
	}, raw)
	return o
}

func (o *Output) Setup(ctx *SetupContext) error { return o.Attributes().Resolve(ctx.Types) }
func (o *Output) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&o.Base, ui, o, func() ExecutionStatus {
		v, err := o.Attributes().GetAttributeValue("variable", ws)
		if err != nil {
			return Failure
		}
		desc := ""
		if o.Attributes().HasAttribute("description") {
			if dv, err := o.Attributes().GetAttributeValue("description", ws); err == nil {
				desc, _ = dv.AsString()
			}
		}
		if ui == nil || !ui.PutValue(v, desc) {
			return Failure
		}
		return Success
	})
}
func (o *Output) Halt()             {}
func (o *Output) Reset()            { o.ResetState() }
func (o *Output) Children() []Instruction { return nil }

// UserConfirmation opens an interactive yes/no dialog via the UI.
type UserConfirmation struct{ Base }

func NewUserConfirmation(raw map[string]string) *UserConfirmation {
	u := &UserConfirmation{Base: NewBase("UserConfirmation")}
	declareAttrs(&u.Base, []attributeSpec{
		{Name: "description", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
	}, raw)
	return u
}

func (u *UserConfirmation) Setup(ctx *SetupContext) error { return u.Attributes().Resolve(ctx.Types) }
func (u *UserConfirmation) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&u.Base, ui, u, func() ExecutionStatus {
		desc, err := u.Attributes().GetAttributeValue("description", ws)
		if err != nil {
			return Failure
		}
		text, err := desc.AsString()
		if err != nil {
			return Failure
		}
		if ui == nil {
			return Failure
		}
		future := ui.CreateUserChoiceFuture(u, []string{"no", "yes"}, nil)
		_ = text
		for !future.IsReady() {
			if u.Halted() {
				return Failure
			}
			time.Sleep(20 * time.Millisecond)
		}
		if future.GetValue() == 1 {
			return Success
		}
		return Failure
	})
}
func (u *UserConfirmation) Halt()             { u.RequestHalt() }
func (u *UserConfirmation) Reset()            { u.ResetState() }
func (u *UserConfirmation) Children() []Instruction { return nil }

// WaitForVariable blocks until variable equals an optional target, or the
// declared timeout expires.
type WaitForVariable struct {
	Base
	quantum time.Duration
}

func NewWaitForVariable(raw map[string]string) *WaitForVariable {
	w := &WaitForVariable{Base: NewBase("WaitForVariable"), quantum: 10 * time.Millisecond}
	declareAttrs(&w.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
		{Name: "equalsTo", Category: CategoryBoth},
		{Name: "timeout", Category: CategoryValue, Type: value.Type{Kind: value.KindFloat64}},
	}, raw)
	return w
}

func (w *WaitForVariable) Setup(ctx *SetupContext) error {
	if ctx != nil && ctx.Procedure != nil {
		w.quantum = ctx.Procedure.TimingAccuracy()
	}
	return w.Attributes().Resolve(ctx.Types)
}

func (w *WaitForVariable) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&w.Base, ui, w, func() ExecutionStatus {
		name, err := w.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		var timeout time.Duration
		if w.Attributes().HasAttribute("timeout") {
			if tv, err := w.Attributes().GetAttributeValue("timeout", ws); err == nil {
				if secs, err := tv.AsFloat64(); err == nil {
					timeout = time.Duration(secs * float64(time.Second))
				}
			}
		}
		deadline := time.Now().Add(timeout)
		for {
			current, err := ws.GetValue(name)
			if err == nil {
				satisfied := true
				if w.Attributes().HasAttribute("equalsTo") {
					target, terr := w.Attributes().GetAttributeValue("equalsTo", ws)
					satisfied = terr == nil && current.Equal(target)
				}
				if satisfied {
					return Success
				}
			}
			if w.Halted() {
				return Failure
			}
			if timeout > 0 && time.Now().After(deadline) {
				return Failure
			}
			time.Sleep(w.quantum)
		}
	})
}
func (w *WaitForVariable) Halt()             { w.RequestHalt() }
func (w *WaitForVariable) Reset()            { w.ResetState() }
func (w *WaitForVariable) Children() []Instruction { return nil }
