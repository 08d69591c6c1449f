package oactree

import (
	"time"

	"github.com/sup-oac/oactree/value"
)

func init() {
	RegisterInstructionKind("WaitForVariables", func() Instruction { return NewWaitForVariables(nil) })
	RegisterInstructionKind("CopyFromProcedure", func() Instruction { return NewCopyFromProcedure(nil) })
	RegisterInstructionKind("CopyToProcedure", func() Instruction { return NewCopyToProcedure(nil) })
}

// WaitForVariables blocks until every variable of a declared kind reports
// IsAvailable, or the optional timeout expires.
type WaitForVariables struct {
	Base
	quantum time.Duration
}

func NewWaitForVariables(raw map[string]string) *WaitForVariables {
	w := &WaitForVariables{Base: NewBase("WaitForVariables"), quantum: 10 * time.Millisecond}
	declareAttrs(&w.Base, []attributeSpec{
		{Name: "kind", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "timeout", Category: CategoryValue, Type: value.Type{Kind: value.KindFloat64}},
	}, raw)
	return w
}

func (w *WaitForVariables) Setup(ctx *SetupContext) error {
	if ctx != nil && ctx.Procedure != nil {
		w.quantum = ctx.Procedure.TimingAccuracy()
	}
	return w.Attributes().Resolve(ctx.Types)
}

func (w *WaitForVariables) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&w.Base, ui, w, func() ExecutionStatus {
		kindVal, err := w.Attributes().GetAttributeValue("kind", ws)
		if err != nil {
			return Failure
		}
		kind, err := kindVal.AsString()
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
			names := ws.NamesOfKind(kind)
			allAvailable := true
			for _, name := range names {
				v, ok := ws.Variable(name)
				if !ok || !v.IsAvailable() {
					allAvailable = false
					break
				}
			}
			if allAvailable {
				return Success
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
func (w *WaitForVariables) Halt()             { w.RequestHalt() }
func (w *WaitForVariables) Reset()            { w.ResetState() }
func (w *WaitForVariables) Children() []Instruction { return nil }

// procedureTransfer is the shared implementation behind CopyFromProcedure
// and CopyToProcedure: both resolve an included sub-procedure by path and
// move a value between its workspace and the including procedure's own.
type procedureTransfer struct {
	Base
	fromIncluded bool
	sub          *Procedure
}

func newProcedureTransfer(kind string, fromIncluded bool, raw map[string]string) *procedureTransfer {
	p := &procedureTransfer{Base: NewBase(kind), fromIncluded: fromIncluded}
	declareAttrs(&p.Base, []attributeSpec{
		{Name: "file", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "variable", Category: CategoryVariableName, Mandatory: true},
		{Name: "remoteVariable", Category: CategoryVariableName},
	}, raw)
	return p
}

func (p *procedureTransfer) Setup(ctx *SetupContext) error {
	if err := p.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if ctx.Procedure == nil {
		return nil
	}
	filename, err := p.Attributes().GetAttributeString("file")
	if err != nil {
		return err
	}
	absPath := ResolveRelativePath(ctx.Procedure, filename)
	sub, err := ctx.Procedure.SubProcedure(absPath, loadSubProcedure(ctx))
	if err != nil {
		return err
	}
	p.sub = sub
	return sub.Setup()
}

// loadSubProcedureFunc is overridden by hosting applications (e.g. a
// document loader), via SetSubProcedureLoader, to actually parse the
// referenced file; the zero value fails closed so Include*/
// CopyFromProcedure/CopyToProcedure never silently no-op.
var loadSubProcedureFunc func(absPath string, reg *InstructionRegistry) (*Procedure, error)

// SetSubProcedureLoader installs the hook Include, IncludeProcedure,
// CopyFromProcedure, and CopyToProcedure use to materialise a sub-procedure
// from an absolute file path the first time it's referenced (the core
// itself has no document parser; §1 "Out of scope"). Passing nil restores
// the fail-closed default.
func SetSubProcedureLoader(load func(absPath string, reg *InstructionRegistry) (*Procedure, error)) {
	loadSubProcedureFunc = load
}

func loadSubProcedure(ctx *SetupContext) func(string) (*Procedure, error) {
	return func(absPath string) (*Procedure, error) {
		if loadSubProcedureFunc == nil {
			return nil, ErrIncludeNotFound
		}
		return loadSubProcedureFunc(absPath, ctx.Instrs)
	}
}

func (p *procedureTransfer) remoteName() string {
	if p.Attributes().HasAttribute("remoteVariable") {
		name, _ := p.Attributes().GetAttributeString("remoteVariable")
		return name
	}
	name, _ := p.Attributes().GetAttributeString("variable")
	return name
}

func (p *procedureTransfer) run(ws *Workspace) ExecutionStatus {
	if p.sub == nil {
		return Failure
	}
	localName, err := p.Attributes().GetAttributeString("variable")
	if err != nil {
		return Failure
	}
	remoteName := p.remoteName()
	if p.fromIncluded {
		v, err := p.sub.Workspace().GetValue(remoteName)
		if err != nil {
			return Failure
		}
		if err := ws.SetValue(localName, v); err != nil {
			return Failure
		}
		return Success
	}
	v, err := ws.GetValue(localName)
	if err != nil {
		return Failure
	}
	if err := p.sub.Workspace().SetValue(remoteName, v); err != nil {
		return Failure
	}
	return Success
}

func (p *procedureTransfer) Halt()             {}
func (p *procedureTransfer) Reset()            { p.ResetState() }
func (p *procedureTransfer) Children() []Instruction { return nil }

// CopyFromProcedure reads a value from an included sub-procedure's
// workspace into this procedure's workspace.
type CopyFromProcedure struct{ procedureTransfer }

func NewCopyFromProcedure(raw map[string]string) *CopyFromProcedure {
	return &CopyFromProcedure{procedureTransfer: *newProcedureTransfer("CopyFromProcedure", true, raw)}
}

func (c *CopyFromProcedure) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus { return c.run(ws) })
}

// CopyToProcedure writes a value from this procedure's workspace into an
// included sub-procedure's workspace.
type CopyToProcedure struct{ procedureTransfer }

func NewCopyToProcedure(raw map[string]string) *CopyToProcedure {
	return &CopyToProcedure{procedureTransfer: *newProcedureTransfer("CopyToProcedure", false, raw)}
}

func (c *CopyToProcedure) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus { return c.run(ws) })
}
