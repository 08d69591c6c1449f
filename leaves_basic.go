package oactree

import (
	"time"

	"github.com/sup-oac/oactree/value"
)

func init() {
	RegisterInstructionKind("Wait", func() Instruction { return NewWait(nil) })
	RegisterInstructionKind("Fail", func() Instruction { return NewFail(nil) })
	RegisterInstructionKind("Succeed", func() Instruction { return NewSucceed(nil) })
	RegisterInstructionKind("Message", func() Instruction { return NewMessage(nil) })
	RegisterInstructionKind("LogInstruction", func() Instruction { return NewLogInstruction(nil) })
	RegisterInstructionKind("VarExists", func() Instruction { return NewVarExists(nil) })
	RegisterInstructionKind("Condition", func() Instruction { return NewCondition(nil) })
}

func declareAttrs(b *Base, specs []attributeSpec, raw map[string]string) {
	for _, spec := range specs {
		v, present := raw[spec.Name]
		b.Attributes().Declare(spec, v, present)
	}
}

// Wait sleeps until its "timeout" attribute elapses or Halt is requested,
// polling at the procedure's timingAccuracy quantum.
type Wait struct {
	Base
	quantum time.Duration
}

// NewWait constructs a Wait leaf; raw supplies its declared attributes
// ("timeout" seconds, default 0).
func NewWait(raw map[string]string) *Wait {
	w := &Wait{Base: NewBase("Wait"), quantum: 10 * time.Millisecond}
	declareAttrs(&w.Base, []attributeSpec{
		{Name: "timeout", Category: CategoryValue, Type: value.Type{Kind: value.KindFloat64}},
	}, raw)
	return w
}

// WithQuantum overrides the default polling quantum (normally the owning
// procedure's timingAccuracy, wired in at Setup).
func (w *Wait) WithQuantum(d time.Duration) *Wait {
	if d > 0 {
		w.quantum = d
	}
	return w
}

func (w *Wait) Setup(ctx *SetupContext) error {
	if ctx != nil && ctx.Procedure != nil {
		w.quantum = ctx.Procedure.TimingAccuracy()
	}
	return w.Attributes().Resolve(ctx.Types)
}

func (w *Wait) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&w.Base, ui, w, func() ExecutionStatus {
		timeout := 0 * time.Second
		if w.Attributes().HasAttribute("timeout") {
			v, err := w.Attributes().GetAttributeValue("timeout", ws)
			if err == nil {
				if secs, err := v.AsFloat64(); err == nil {
					timeout = time.Duration(secs * float64(time.Second))
				}
			}
		}
		if timeout <= 0 {
			return Success
		}
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if w.Halted() {
				return Failure
			}
			time.Sleep(w.quantum)
		}
		return Success
	})
}

func (w *Wait) Halt()             { w.RequestHalt() }
func (w *Wait) Reset()            { w.ResetState() }
func (w *Wait) Children() []Instruction { return nil }

// Fail is immediately terminal Failure.
type Fail struct{ Base }

func NewFail(raw map[string]string) *Fail { return &Fail{Base: NewBase("Fail")} }

func (f *Fail) Setup(ctx *SetupContext) error { return f.Attributes().Resolve(ctx.Types) }
func (f *Fail) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&f.Base, ui, f, func() ExecutionStatus { return Failure })
}
func (f *Fail) Halt()             {}
func (f *Fail) Reset()            { f.ResetState() }
func (f *Fail) Children() []Instruction { return nil }

// Succeed is immediately terminal Success.
type Succeed struct{ Base }

func NewSucceed(raw map[string]string) *Succeed { return &Succeed{Base: NewBase("Succeed")} }

func (s *Succeed) Setup(ctx *SetupContext) error { return s.Attributes().Resolve(ctx.Types) }
func (s *Succeed) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&s.Base, ui, s, func() ExecutionStatus { return Success })
}
func (s *Succeed) Halt()             {}
func (s *Succeed) Reset()            { s.ResetState() }
func (s *Succeed) Children() []Instruction { return nil }

// Message forwards literal or workspace-resolved text to the UI.
type Message struct{ Base }

func NewMessage(raw map[string]string) *Message {
	m := &Message{Base: NewBase("Message")}
	declareAttrs(&m.Base, []attributeSpec{
		{Name: "text", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
	}, raw)
	return m
}

func (m *Message) Setup(ctx *SetupContext) error { return m.Attributes().Resolve(ctx.Types) }
func (m *Message) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&m.Base, ui, m, func() ExecutionStatus {
		v, err := m.Attributes().GetAttributeValue("text", ws)
		if err != nil {
			return Failure
		}
		text, err := v.AsString()
		if err != nil {
			return Failure
		}
		if ui != nil {
			ui.Message(text)
		}
		return Success
	})
}
func (m *Message) Halt()             {}
func (m *Message) Reset()            { m.ResetState() }
func (m *Message) Children() []Instruction { return nil }

// LogInstruction forwards text to the UI's log sink at a declared severity.
type LogInstruction struct{ Base }

func NewLogInstruction(raw map[string]string) *LogInstruction {
	l := &LogInstruction{Base: NewBase("LogInstruction")}
	declareAttrs(&l.Base, []attributeSpec{
		{Name: "text", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "severity", Category: CategoryValue, Type: value.Type{Kind: value.KindString}},
	}, raw)
	return l
}

func (l *LogInstruction) Setup(ctx *SetupContext) error { return l.Attributes().Resolve(ctx.Types) }
func (l *LogInstruction) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&l.Base, ui, l, func() ExecutionStatus {
		v, err := l.Attributes().GetAttributeValue("text", ws)
		if err != nil {
			return Failure
		}
		text, err := v.AsString()
		if err != nil {
			return Failure
		}
		severity := SeverityInfo
		if l.Attributes().HasAttribute("severity") {
			if sv, err := l.Attributes().GetAttributeValue("severity", ws); err == nil {
				if s, err := sv.AsString(); err == nil {
					severity = parseSeverity(s)
				}
			}
		}
		if ui != nil {
			ui.Log(severity, text)
		}
		return Success
	})
}
func (l *LogInstruction) Halt()             {}
func (l *LogInstruction) Reset()            { l.ResetState() }
func (l *LogInstruction) Children() []Instruction { return nil }

func parseSeverity(s string) LogSeverity {
	switch s {
	case "DEBUG":
		return SeverityDebug
	case "WARNING":
		return SeverityWarning
	case "ERROR":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// VarExists succeeds iff a named workspace variable exists.
type VarExists struct{ Base }

func NewVarExists(raw map[string]string) *VarExists {
	v := &VarExists{Base: NewBase("VarExists")}
	declareAttrs(&v.Base, []attributeSpec{
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
	}, raw)
	return v
}

func (v *VarExists) Setup(ctx *SetupContext) error { return v.Attributes().Resolve(ctx.Types) }
func (v *VarExists) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&v.Base, ui, v, func() ExecutionStatus {
		name, err := v.Attributes().GetAttributeString("variable")
		if err != nil {
			return Failure
		}
		if ws.HasVariable(name) {
			return Success
		}
		return Failure
	})
}
func (v *VarExists) Halt()             {}
func (v *VarExists) Reset()            { v.ResetState() }
func (v *VarExists) Children() []Instruction { return nil }

// Condition evaluates a workspace-resolved boolean; nonzero succeeds.
type Condition struct{ Base }

func NewCondition(raw map[string]string) *Condition {
	c := &Condition{Base: NewBase("Condition")}
	declareAttrs(&c.Base, []attributeSpec{
		{Name: "variable", Category: CategoryBoth, Mandatory: true},
	}, raw)
	return c
}

func (c *Condition) Setup(ctx *SetupContext) error { return c.Attributes().Resolve(ctx.Types) }
func (c *Condition) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus {
		v, err := c.Attributes().GetAttributeValue("variable", ws)
		if err != nil {
			return Failure
		}
		b, err := v.AsBool()
		if err != nil {
			return Failure
		}
		if b {
			return Success
		}
		return Failure
	})
}
func (c *Condition) Halt()             {}
func (c *Condition) Reset()            { c.ResetState() }
func (c *Condition) Children() []Instruction { return nil }
