package oactree

import (
	"fmt"
	"sync"
	"time"

	"github.com/sup-oac/oactree/value"
)

func init() {
	RegisterInstructionKind("ForceSuccess", func() Instruction { return NewForceSuccess(nil, nil) })
	RegisterInstructionKind("Inverter", func() Instruction { return NewInverter(nil, nil) })
	RegisterInstructionKind("NoMatter", func() Instruction { return NewNoMatter(nil, nil) })
	RegisterInstructionKind("Repeat", func() Instruction { return NewRepeat(nil, nil) })
	RegisterInstructionKind("For", func() Instruction { return NewFor(nil, nil) })
	RegisterInstructionKind("Async", func() Instruction { return NewAsync(nil, nil) })
	RegisterInstructionKind("Listen", func() Instruction { return NewListen(nil, nil) })
	RegisterInstructionKind("Include", func() Instruction { return NewInclude(nil) })
	RegisterInstructionKind("IncludeProcedure", func() Instruction { return NewIncludeProcedure(nil) })
}

// decoratorBase holds the single child every decorator wraps. Concrete
// decorators embed it alongside Base.
type decoratorBase struct {
	child Instruction
}

// AppendChild satisfies ChildAppender; a decorator has room for exactly one
// child, so a second call overwrites the first (used only by
// CloneInstruction, which visits children in order once).
func (d *decoratorBase) AppendChild(c Instruction) { d.child = c }

func (d *decoratorBase) Children() []Instruction {
	if d.child == nil {
		return nil
	}
	return []Instruction{d.child}
}

// ForceSuccess ticks its child and maps Failure to Success; Running and
// Success pass through unchanged (§4.5).
type ForceSuccess struct {
	Base
	decoratorBase
}

func NewForceSuccess(child Instruction, raw map[string]string) *ForceSuccess {
	return &ForceSuccess{Base: NewBase("ForceSuccess"), decoratorBase: decoratorBase{child: child}}
}

func (f *ForceSuccess) Setup(ctx *SetupContext) error {
	if err := f.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if f.child == nil {
		return nil
	}
	return f.child.Setup(ctx)
}

func (f *ForceSuccess) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&f.Base, ui, f, func() ExecutionStatus {
		if f.child == nil {
			return Success
		}
		s := f.child.ExecuteSingle(ui, ws)
		if s == Failure {
			return Success
		}
		return s
	})
}

func (f *ForceSuccess) Halt() {
	f.RequestHalt()
	if f.child != nil {
		f.child.Halt()
	}
}
func (f *ForceSuccess) Reset() {
	f.ResetState()
	if f.child != nil {
		f.child.Reset()
	}
}

// Inverter swaps its child's Success/Failure; Running passes through.
type Inverter struct {
	Base
	decoratorBase
}

func NewInverter(child Instruction, raw map[string]string) *Inverter {
	return &Inverter{Base: NewBase("Inverter"), decoratorBase: decoratorBase{child: child}}
}

func (n *Inverter) Setup(ctx *SetupContext) error {
	if err := n.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if n.child == nil {
		return nil
	}
	return n.child.Setup(ctx)
}

func (n *Inverter) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&n.Base, ui, n, func() ExecutionStatus {
		if n.child == nil {
			return Failure
		}
		switch s := n.child.ExecuteSingle(ui, ws); s {
		case Success:
			return Failure
		case Failure:
			return Success
		default:
			return s
		}
	})
}

func (n *Inverter) Halt() {
	n.RequestHalt()
	if n.child != nil {
		n.child.Halt()
	}
}
func (n *Inverter) Reset() {
	n.ResetState()
	if n.child != nil {
		n.child.Reset()
	}
}

// NoMatter ticks its child to a terminal status and always reports Success,
// regardless of outcome; unlike ForceSuccess it keeps ticking through
// Running rather than forcing success prematurely (§9 supplemented
// features, legacy SequenceRunner tree).
type NoMatter struct {
	Base
	decoratorBase
}

func NewNoMatter(child Instruction, raw map[string]string) *NoMatter {
	return &NoMatter{Base: NewBase("NoMatter"), decoratorBase: decoratorBase{child: child}}
}

func (n *NoMatter) Setup(ctx *SetupContext) error {
	if err := n.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if n.child == nil {
		return nil
	}
	return n.child.Setup(ctx)
}

func (n *NoMatter) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&n.Base, ui, n, func() ExecutionStatus {
		if n.child == nil {
			return Success
		}
		if s := n.child.ExecuteSingle(ui, ws); !s.IsTerminal() {
			return Running
		}
		return Success
	})
}

func (n *NoMatter) Halt() {
	n.RequestHalt()
	if n.child != nil {
		n.child.Halt()
	}
}
func (n *NoMatter) Reset() {
	n.ResetState()
	if n.child != nil {
		n.child.Reset()
	}
}

// Repeat re-runs its child up to maxCount times (negative = unbounded).
// Each child Success bumps the counter; a child Failure terminates the
// decorator with Failure; reaching maxCount reports Success (§4.5, S1).
type Repeat struct {
	Base
	decoratorBase
	maxCount int
	count    int
}

func NewRepeat(child Instruction, raw map[string]string) *Repeat {
	r := &Repeat{Base: NewBase("Repeat"), decoratorBase: decoratorBase{child: child}}
	declareAttrs(&r.Base, []attributeSpec{
		{Name: "maxCount", Category: CategoryValue, Type: value.Type{Kind: value.KindInt64}, Mandatory: true},
	}, raw)
	return r
}

func (r *Repeat) Setup(ctx *SetupContext) error {
	if err := r.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	v, err := r.Attributes().GetAttributeValue("maxCount", ctx.Workspace)
	if err != nil {
		return err
	}
	n, err := v.AsInt64()
	if err != nil {
		return err
	}
	r.maxCount = int(n)
	r.count = 0
	if r.child == nil {
		return nil
	}
	return r.child.Setup(ctx)
}

func (r *Repeat) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&r.Base, ui, r, func() ExecutionStatus {
		if r.child == nil {
			return Failure
		}
		if r.maxCount >= 0 && r.count >= r.maxCount {
			return Success
		}
		switch s := r.child.ExecuteSingle(ui, ws); s {
		case Success:
			r.count++
			r.child.Reset()
			if r.maxCount >= 0 && r.count >= r.maxCount {
				return Success
			}
			return Running
		case Failure:
			return Failure
		default:
			return Running
		}
	})
}

func (r *Repeat) Halt() {
	r.RequestHalt()
	if r.child != nil {
		r.child.Halt()
	}
}
func (r *Repeat) Reset() {
	r.ResetState()
	r.count = 0
	if r.child != nil {
		r.child.Reset()
	}
}

// For iterates its child once per element of an array variable, binding
// each element in turn into a second workspace variable before ticking the
// child; it stops on the first child Failure and reports Success once the
// array is exhausted (§4.5).
type For struct {
	Base
	decoratorBase
	arrayName   string
	elementName string
	index       int
}

func NewFor(child Instruction, raw map[string]string) *For {
	f := &For{Base: NewBase("For"), decoratorBase: decoratorBase{child: child}}
	declareAttrs(&f.Base, []attributeSpec{
		{Name: "array", Category: CategoryVariableName, Mandatory: true},
		{Name: "element", Category: CategoryVariableName, Mandatory: true},
	}, raw)
	return f
}

func (f *For) Setup(ctx *SetupContext) error {
	if err := f.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	arrayName, err := f.Attributes().GetAttributeString("array")
	if err != nil {
		return err
	}
	elementName, err := f.Attributes().GetAttributeString("element")
	if err != nil {
		return err
	}
	f.arrayName = arrayName
	f.elementName = elementName
	f.index = 0
	if f.child == nil {
		return nil
	}
	return f.child.Setup(ctx)
}

func (f *For) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&f.Base, ui, f, func() ExecutionStatus {
		if f.child == nil {
			return Failure
		}
		arr, err := ws.GetValue(f.arrayName)
		if err != nil {
			return Failure
		}
		if arr.Kind() != value.KindArray {
			return Failure
		}
		elem, err := arr.GetAt(fmt.Sprintf("[%d]", f.index))
		if err != nil {
			// index out of range: every element has been visited.
			return Success
		}
		if err := ws.SetValue(f.elementName, elem); err != nil {
			return Failure
		}
		switch s := f.child.ExecuteSingle(ui, ws); s {
		case Success:
			f.index++
			f.child.Reset()
			return Running
		case Failure:
			return Failure
		default:
			return Running
		}
	})
}

func (f *For) Halt() {
	f.RequestHalt()
	if f.child != nil {
		f.child.Halt()
	}
}
func (f *For) Reset() {
	f.ResetState()
	f.index = 0
	if f.child != nil {
		f.child.Reset()
	}
}

// Async launches its child inside an AsyncWrapper and reports Running
// until the wrapper reaches a terminal status (§4.5, §4.6).
type Async struct {
	Base
	decoratorBase
	wrapper *AsyncWrapper
	quantum time.Duration
}

func NewAsync(child Instruction, raw map[string]string) *Async {
	return &Async{Base: NewBase("Async"), decoratorBase: decoratorBase{child: child}, quantum: 10 * time.Millisecond}
}

func (a *Async) Setup(ctx *SetupContext) error {
	if err := a.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if ctx != nil && ctx.Procedure != nil {
		a.quantum = ctx.Procedure.TimingAccuracy()
	}
	if a.child == nil {
		return nil
	}
	if err := a.child.Setup(ctx); err != nil {
		return err
	}
	a.wrapper = NewAsyncWrapper(a.child, a.quantum)
	return nil
}

func (a *Async) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&a.Base, ui, a, func() ExecutionStatus {
		if a.wrapper == nil {
			return Failure
		}
		return a.wrapper.Tick(ui, ws)
	})
}

func (a *Async) Halt() {
	a.RequestHalt()
	if a.wrapper != nil {
		a.wrapper.Halt()
	}
}
func (a *Async) Reset() {
	a.ResetState()
	if a.wrapper != nil {
		a.wrapper.Reset()
	}
}

// Listen observes one or more workspace variables by value snapshot,
// restarting its child whenever any of them changes. Child Failure
// propagates unless forceSuccess is set; child Success resets the child
// and resumes watching. The decorator never terminates on its own; it ends
// only on Halt or an unmasked child Failure (§4.5).
type Listen struct {
	Base
	decoratorBase
	quantum      time.Duration
	forceSuccess bool
	variables    []string
	last         map[string]value.Value

	mu      sync.Mutex
	started bool
	halted  bool
	done    chan struct{}
	status  ExecutionStatus
}

func NewListen(child Instruction, raw map[string]string) *Listen {
	l := &Listen{Base: NewBase("Listen"), decoratorBase: decoratorBase{child: child}, quantum: 10 * time.Millisecond}
	declareAttrs(&l.Base, []attributeSpec{
		{Name: "variables", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "forceSuccess", Category: CategoryValue, Type: value.Type{Kind: value.KindBool}},
	}, raw)
	return l
}

func (l *Listen) Setup(ctx *SetupContext) error {
	if err := l.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if ctx != nil && ctx.Procedure != nil {
		l.quantum = ctx.Procedure.TimingAccuracy()
	}
	namesRaw, err := l.Attributes().GetAttributeString("variables")
	if err != nil {
		return err
	}
	l.variables = splitCommaList(namesRaw)
	l.forceSuccess = false
	if l.Attributes().HasAttribute("forceSuccess") {
		v, err := l.Attributes().GetAttributeValue("forceSuccess", ctx.Workspace)
		if err == nil {
			if b, err := v.AsBool(); err == nil {
				l.forceSuccess = b
			}
		}
	}
	if l.child == nil {
		return nil
	}
	return l.child.Setup(ctx)
}

func splitCommaList(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (l *Listen) snapshot(ws *Workspace) map[string]value.Value {
	snap := make(map[string]value.Value, len(l.variables))
	for _, name := range l.variables {
		if v, err := ws.GetValue(name); err == nil {
			snap[name] = v
		}
	}
	return snap
}

func (l *Listen) changed(ws *Workspace) bool {
	current := l.snapshot(ws)
	changed := false
	if l.last == nil {
		changed = true
	} else {
		for name, v := range current {
			prev, ok := l.last[name]
			if !ok || !prev.Equal(v) {
				changed = true
				break
			}
		}
	}
	l.last = current
	return changed
}

// ExecuteSingle starts the watch loop on its own worker goroutine the first
// time it's ticked (mirroring AsyncWrapper.Tick, asyncwrapper.go:31-41) and
// returns the worker's current status without blocking on every call after.
// Like Async and ParallelSequence (§5), Listen owns a background worker so a
// scheduler ticking it directly — as the root, or nested under Sequence/
// Fallback without an explicit Async wrapper — is never blocked for the
// decorator's lifetime.
func (l *Listen) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&l.Base, ui, l, func() ExecutionStatus {
		if l.child == nil {
			return Failure
		}
		l.mu.Lock()
		if !l.started {
			l.started = true
			l.halted = false
			l.status = Running
			l.done = make(chan struct{})
			go l.run(ui, ws, l.done)
		}
		status := l.status
		l.mu.Unlock()
		return status
	})
}

func (l *Listen) run(ui UserInterface, ws *Workspace, done chan struct{}) {
	defer close(done)
	waiting := false
	for {
		l.mu.Lock()
		halted := l.halted
		l.mu.Unlock()
		if halted {
			l.setStatus(Failure)
			return
		}
		if changed := l.changed(ws); waiting && !changed {
			time.Sleep(l.quantum)
			continue
		}
		waiting = false
		switch s := l.child.ExecuteSingle(ui, ws); s {
		case Failure:
			if l.forceSuccess {
				l.child.Reset()
				waiting = true
			} else {
				l.setStatus(Failure)
				return
			}
		case Success:
			l.child.Reset()
			waiting = true
		default:
		}
		time.Sleep(l.quantum)
	}
}

func (l *Listen) setStatus(s ExecutionStatus) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Halt signals the worker goroutine (if one is running) to stop on its next
// iteration and propagates to the child so a blocking child unblocks too.
func (l *Listen) Halt() {
	l.RequestHalt()
	l.mu.Lock()
	l.halted = true
	l.mu.Unlock()
	if l.child != nil {
		l.child.Halt()
	}
}

// Reset joins the worker (if one is running) before clearing state and
// re-arming the decorator for another activation.
func (l *Listen) Reset() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
	l.ResetState()
	l.last = nil
	l.mu.Lock()
	l.started = false
	l.halted = false
	l.done = nil
	l.mu.Unlock()
	if l.child != nil {
		l.child.Reset()
	}
}

// Include loads a referenced instruction subtree (same procedure's named
// template, or an external procedure's root), clones it, and inserts the
// clone as its child. Unknown attributes on the Include node are forwarded
// to the clone via placeholder substitution (§4.4, §4.5).
type Include struct {
	Base
	decoratorBase
	params map[string]string
}

func NewInclude(raw map[string]string) *Include {
	i := &Include{Base: NewBase("Include"), params: raw}
	declareAttrs(&i.Base, []attributeSpec{
		{Name: "path", Category: CategoryValue, Type: value.Type{Kind: value.KindString}, Mandatory: true},
		{Name: "file", Category: CategoryValue, Type: value.Type{Kind: value.KindString}},
	}, raw)
	return i
}

func (i *Include) Setup(ctx *SetupContext) error {
	if err := i.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	template, err := resolveIncludeTemplate(ctx, i.Attributes())
	if err != nil {
		return err
	}
	clone, err := CloneInstruction(ctx.Instrs, template)
	if err != nil {
		return err
	}
	InitialisePlaceholderAttributes(clone, i.params)
	i.child = clone
	return clone.Setup(ctx)
}

// resolveIncludeTemplate looks up the subtree an Include/IncludeProcedure
// node refers to: a named root template in the current procedure, or (when
// "file" is set) the root of an included sub-procedure.
func resolveIncludeTemplate(ctx *SetupContext, attrs *AttributeTable) (Instruction, error) {
	path, err := attrs.GetAttributeString("path")
	if err != nil {
		return nil, err
	}
	if ctx.Procedure == nil {
		return nil, ErrIncludeNotFound
	}
	if attrs.HasAttribute("file") {
		filename, err := attrs.GetAttributeString("file")
		if err != nil {
			return nil, err
		}
		absPath := ResolveRelativePath(ctx.Procedure, filename)
		sub, err := ctx.Procedure.SubProcedure(absPath, loadSubProcedure(ctx))
		if err != nil {
			return nil, err
		}
		return sub.Template(path)
	}
	return ctx.Procedure.Template(path)
}

func (i *Include) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&i.Base, ui, i, func() ExecutionStatus {
		if i.child == nil {
			return Failure
		}
		return i.child.ExecuteSingle(ui, ws)
	})
}

func (i *Include) Halt() {
	i.RequestHalt()
	if i.child != nil {
		i.child.Halt()
	}
}
func (i *Include) Reset() {
	i.ResetState()
	if i.child != nil {
		i.child.Reset()
	}
}

// IncludeProcedure behaves like Include but binds the cloned child to the
// external procedure's own workspace rather than the including procedure's
// (§4.5).
type IncludeProcedure struct {
	Include
	remoteWorkspace *Workspace
}

func NewIncludeProcedure(raw map[string]string) *IncludeProcedure {
	ip := &IncludeProcedure{Include: *NewInclude(raw)}
	ip.Base = NewBase("IncludeProcedure")
	return ip
}

func (ip *IncludeProcedure) Setup(ctx *SetupContext) error {
	if err := ip.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	filename, err := ip.Attributes().GetAttributeString("file")
	if err != nil {
		return err
	}
	absPath := ResolveRelativePath(ctx.Procedure, filename)
	sub, err := ctx.Procedure.SubProcedure(absPath, loadSubProcedure(ctx))
	if err != nil {
		return err
	}
	path, err := ip.Attributes().GetAttributeString("path")
	if err != nil {
		return err
	}
	template, err := sub.Template(path)
	if err != nil {
		return err
	}
	clone, err := CloneInstruction(ctx.Instrs, template)
	if err != nil {
		return err
	}
	InitialisePlaceholderAttributes(clone, ip.params)
	ip.child = clone
	ip.remoteWorkspace = sub.Workspace()
	remoteCtx := &SetupContext{Workspace: sub.Workspace(), Types: sub.Types(), Instrs: ctx.Instrs, Procedure: sub}
	return clone.Setup(remoteCtx)
}

func (ip *IncludeProcedure) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&ip.Base, ui, ip, func() ExecutionStatus {
		if ip.child == nil {
			return Failure
		}
		return ip.child.ExecuteSingle(ui, ip.remoteWorkspace)
	})
}
