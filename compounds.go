package oactree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sup-oac/oactree/value"
)

func init() {
	RegisterInstructionKind("Sequence", func() Instruction { return NewSequence(nil) })
	RegisterInstructionKind("Fallback", func() Instruction { return NewFallback(nil) })
	RegisterInstructionKind("ReactiveSequence", func() Instruction { return NewReactiveSequence(nil) })
	RegisterInstructionKind("ReactiveFallback", func() Instruction { return NewReactiveFallback(nil) })
	RegisterInstructionKind("ParallelSequence", func() Instruction { return NewParallelSequence(nil, nil) })
	RegisterInstructionKind("Choice", func() Instruction { return NewChoice(nil, nil) })
	RegisterInstructionKind("UserChoice", func() Instruction { return NewUserChoice(nil, nil) })
}

// compoundBase holds the ordered child list every compound ticks over.
// Concrete compounds embed it alongside Base.
type compoundBase struct {
	children []Instruction
}

// AppendChild satisfies ChildAppender, adding to the end of the ordered
// child list (used by CloneInstruction and direct construction alike).
func (c *compoundBase) AppendChild(child Instruction) {
	c.children = append(c.children, child)
}

func (c *compoundBase) Children() []Instruction {
	out := make([]Instruction, len(c.children))
	copy(out, c.children)
	return out
}

func setupChildren(ctx *SetupContext, children []Instruction) error {
	for _, c := range children {
		if err := c.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Sequence ticks its first non-Success child; on Failure or Running,
// propagates that status; on Success advances to the next child;
// terminates Success once every child has succeeded. Children past a
// failing one are left NotStarted (§4.5, I2).
type Sequence struct {
	Base
	compoundBase
	index int
}

func NewSequence(children []Instruction) *Sequence {
	return &Sequence{Base: NewBase("Sequence"), compoundBase: compoundBase{children: children}}
}

func (s *Sequence) Setup(ctx *SetupContext) error {
	if err := s.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	return setupChildren(ctx, s.children)
}

func (s *Sequence) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&s.Base, ui, s, func() ExecutionStatus {
		for s.index < len(s.children) {
			switch status := s.children[s.index].ExecuteSingle(ui, ws); status {
			case Success:
				s.index++
			case Failure:
				return Failure
			default:
				return status
			}
		}
		return Success
	})
}

func (s *Sequence) Halt() {
	s.RequestHalt()
	haltChildren(s)
}
func (s *Sequence) Reset() {
	s.ResetState()
	s.index = 0
	resetChildren(s.children)
}

// Fallback is the dual of Sequence: it tries children in order until one
// succeeds (§4.5, I3).
type Fallback struct {
	Base
	compoundBase
	index int
}

func NewFallback(children []Instruction) *Fallback {
	return &Fallback{Base: NewBase("Fallback"), compoundBase: compoundBase{children: children}}
}

func (f *Fallback) Setup(ctx *SetupContext) error {
	if err := f.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	return setupChildren(ctx, f.children)
}

func (f *Fallback) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&f.Base, ui, f, func() ExecutionStatus {
		for f.index < len(f.children) {
			switch status := f.children[f.index].ExecuteSingle(ui, ws); status {
			case Failure:
				f.index++
			case Success:
				return Success
			default:
				return status
			}
		}
		return Failure
	})
}

func (f *Fallback) Halt() {
	f.RequestHalt()
	haltChildren(f)
}
func (f *Fallback) Reset() {
	f.ResetState()
	f.index = 0
	resetChildren(f.children)
}

// ReactiveSequence behaves like Sequence but re-evaluates from its first
// child every tick; whichever child first returns something other than
// Success short-circuits the pass, and every child after it is reset so it
// re-evaluates from scratch on the next tick — supporting guard-style
// patterns where an earlier condition can invalidate later progress
// (§4.5, S2).
type ReactiveSequence struct {
	Base
	compoundBase
}

func NewReactiveSequence(children []Instruction) *ReactiveSequence {
	return &ReactiveSequence{Base: NewBase("ReactiveSequence"), compoundBase: compoundBase{children: children}}
}

func (r *ReactiveSequence) Setup(ctx *SetupContext) error {
	if err := r.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	return setupChildren(ctx, r.children)
}

func (r *ReactiveSequence) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&r.Base, ui, r, func() ExecutionStatus {
		for i, child := range r.children {
			switch status := child.ExecuteSingle(ui, ws); status {
			case Success:
				continue
			case Failure:
				resetChildren(r.children)
				return Failure
			default:
				resetChildren(r.children[i+1:])
				return Running
			}
		}
		return Success
	})
}

func (r *ReactiveSequence) Halt() {
	r.RequestHalt()
	haltChildren(r)
}
func (r *ReactiveSequence) Reset() {
	r.ResetState()
	resetChildren(r.children)
}

// ReactiveFallback is ReactiveSequence's Fallback dual.
type ReactiveFallback struct {
	Base
	compoundBase
}

func NewReactiveFallback(children []Instruction) *ReactiveFallback {
	return &ReactiveFallback{Base: NewBase("ReactiveFallback"), compoundBase: compoundBase{children: children}}
}

func (r *ReactiveFallback) Setup(ctx *SetupContext) error {
	if err := r.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	return setupChildren(ctx, r.children)
}

func (r *ReactiveFallback) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&r.Base, ui, r, func() ExecutionStatus {
		for i, child := range r.children {
			switch status := child.ExecuteSingle(ui, ws); status {
			case Failure:
				continue
			case Success:
				resetChildren(r.children)
				return Success
			default:
				resetChildren(r.children[i+1:])
				return Running
			}
		}
		return Failure
	})
}

func (r *ReactiveFallback) Halt() {
	r.RequestHalt()
	haltChildren(r)
}
func (r *ReactiveFallback) Reset() {
	r.ResetState()
	resetChildren(r.children)
}

// ParallelSequence starts every child concurrently, fanning the fixed child
// set out via errgroup.WithContext (DOMAIN STACK: golang.org/x/sync/errgroup
// is the idiomatic vehicle for a bounded fan-out-then-join, closer to this
// node's shape than the persistent one-thread-per-node model AsyncWrapper
// uses). It terminates Success once successThreshold children have
// succeeded, and Failure once failureThreshold children have failed or
// success can no longer be reached; the remaining branches are then halted
// cooperatively (§4.5, S6).
type ParallelSequence struct {
	Base
	compoundBase
	group            *errgroup.Group
	waitDone         chan struct{}
	resultsMu        sync.Mutex
	results          []ExecutionStatus
	resultsSet       []bool
	cancel           context.CancelFunc
	quantum          time.Duration
	successThreshold int
	failureThreshold int
}

func NewParallelSequence(children []Instruction, raw map[string]string) *ParallelSequence {
	p := &ParallelSequence{Base: NewBase("ParallelSequence"), compoundBase: compoundBase{children: children}}
	declareAttrs(&p.Base, []attributeSpec{
		{Name: "successThreshold", Category: CategoryValue, Type: value.Type{Kind: value.KindInt64}},
		{Name: "failureThreshold", Category: CategoryValue, Type: value.Type{Kind: value.KindInt64}},
	}, raw)
	return p
}

func (p *ParallelSequence) Setup(ctx *SetupContext) error {
	if err := p.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	if err := setupChildren(ctx, p.children); err != nil {
		return err
	}
	p.successThreshold = len(p.children)
	if p.Attributes().HasAttribute("successThreshold") {
		v, err := p.Attributes().GetAttributeValue("successThreshold", ctx.Workspace)
		if err == nil {
			if n, err := v.AsInt64(); err == nil {
				p.successThreshold = int(n)
			}
		}
	}
	p.failureThreshold = 1
	if p.Attributes().HasAttribute("failureThreshold") {
		v, err := p.Attributes().GetAttributeValue("failureThreshold", ctx.Workspace)
		if err == nil {
			if n, err := v.AsInt64(); err == nil {
				p.failureThreshold = int(n)
			}
		}
	}
	p.quantum = defaultTimingAccuracy
	if ctx != nil && ctx.Procedure != nil {
		p.quantum = ctx.Procedure.TimingAccuracy()
	}
	return nil
}

// setResult records branch idx's terminal status, safe for concurrent
// callers (each branch goroutine writes its own index exactly once).
func (p *ParallelSequence) setResult(idx int, status ExecutionStatus) {
	p.resultsMu.Lock()
	p.results[idx] = status
	p.resultsSet[idx] = true
	p.resultsMu.Unlock()
}

func (p *ParallelSequence) snapshotResults() ([]ExecutionStatus, []bool) {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return append([]ExecutionStatus(nil), p.results...), append([]bool(nil), p.resultsSet...)
}

// start fans every branch out via errgroup.WithContext, each ticking its
// child to a terminal status (or cooperative cancellation via gctx) before
// resolving. A detached goroutine joins the group and closes waitDone so
// Reset/Halt can block until every branch goroutine has actually exited.
func (p *ParallelSequence) start(ui UserInterface, ws *Workspace) {
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	p.group = g
	p.results = make([]ExecutionStatus, len(p.children))
	p.resultsSet = make([]bool, len(p.children))
	for idx, child := range p.children {
		child, idx := child, idx
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					child.Halt()
					p.setResult(idx, Failure)
					return nil
				}
				if status := child.ExecuteSingle(ui, ws); status.IsTerminal() {
					p.setResult(idx, status)
					return nil
				}
				time.Sleep(p.quantum)
			}
		})
	}
	p.waitDone = make(chan struct{})
	go func(done chan struct{}) {
		_ = g.Wait()
		close(done)
	}(p.waitDone)
}

func (p *ParallelSequence) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&p.Base, ui, p, func() ExecutionStatus {
		if p.group == nil {
			p.start(ui, ws)
		}
		results, set := p.snapshotResults()
		successes, failures, remaining := 0, 0, 0
		for i := range results {
			if !set[i] {
				remaining++
				continue
			}
			switch results[i] {
			case Success:
				successes++
			default:
				failures++
			}
		}
		switch {
		case successes >= p.successThreshold:
			p.cancelBranches()
			return Success
		case failures >= p.failureThreshold:
			p.cancelBranches()
			return Failure
		case successes+remaining < p.successThreshold:
			p.cancelBranches()
			return Failure
		default:
			return Running
		}
	})
}

func (p *ParallelSequence) cancelBranches() {
	if p.cancel != nil {
		p.cancel()
	}
	for _, c := range p.children {
		c.Halt()
	}
}

func (p *ParallelSequence) Halt() {
	p.RequestHalt()
	p.cancelBranches()
}
func (p *ParallelSequence) Reset() {
	p.ResetState()
	p.cancelBranches()
	if p.waitDone != nil {
		<-p.waitDone
	}
	p.group = nil
	p.waitDone = nil
	p.results = nil
	p.resultsSet = nil
	resetChildren(p.children)
}

// Choice consults an integer (or integer-array) selector variable and
// executes the child(ren) at the selected index(es) in order, reporting
// Failure if any index is out of range (§4.5).
type Choice struct {
	Base
	compoundBase
}

func NewChoice(children []Instruction, raw map[string]string) *Choice {
	c := &Choice{Base: NewBase("Choice"), compoundBase: compoundBase{children: children}}
	declareAttrs(&c.Base, []attributeSpec{
		{Name: "selector", Category: CategoryBoth, Mandatory: true},
	}, raw)
	return c
}

func (c *Choice) Setup(ctx *SetupContext) error {
	if err := c.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	return setupChildren(ctx, c.children)
}

func (c *Choice) selectedIndexes(ws *Workspace) ([]int, error) {
	v, err := c.Attributes().GetAttributeValue("selector", ws)
	if err != nil {
		return nil, err
	}
	if v.Kind() == value.KindArray {
		var out []int
		for i := 0; ; i++ {
			elem, err := v.GetAt(fmt.Sprintf("[%d]", i))
			if err != nil {
				break
			}
			n, err := elem.AsInt64()
			if err != nil {
				return nil, err
			}
			out = append(out, int(n))
		}
		return out, nil
	}
	n, err := v.AsInt64()
	if err != nil {
		return nil, err
	}
	return []int{int(n)}, nil
}

func (c *Choice) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus {
		indexes, err := c.selectedIndexes(ws)
		if err != nil {
			return Failure
		}
		status := Success
		for _, idx := range indexes {
			if idx < 0 || idx >= len(c.children) {
				return Failure
			}
			status = c.children[idx].ExecuteSingle(ui, ws)
			if status != Success {
				return status
			}
		}
		return status
	})
}

func (c *Choice) Halt() {
	c.RequestHalt()
	haltChildren(c)
}
func (c *Choice) Reset() {
	c.ResetState()
	resetChildren(c.children)
}

// UserChoice behaves like Choice, but the selection is obtained once,
// asynchronously, from the UserInterface rather than a workspace selector
// (§4.5, S4).
type UserChoice struct {
	Base
	compoundBase
	options  []string
	metadata map[string]string
	future   ChoiceFuture
}

func NewUserChoice(children []Instruction, raw map[string]string) *UserChoice {
	u := &UserChoice{Base: NewBase("UserChoice"), compoundBase: compoundBase{children: children}}
	declareAttrs(&u.Base, []attributeSpec{
		{Name: "options", Category: CategoryValue, Type: value.Type{Kind: value.KindString}},
	}, raw)
	return u
}

func (u *UserChoice) Setup(ctx *SetupContext) error {
	if err := u.Attributes().Resolve(ctx.Types); err != nil {
		return err
	}
	u.options = make([]string, len(u.children))
	for i := range u.children {
		u.options[i] = fmt.Sprintf("%d", i)
	}
	if u.Attributes().HasAttribute("options") {
		raw, err := u.Attributes().GetAttributeString("options")
		if err == nil {
			if names := splitCommaList(raw); len(names) == len(u.children) {
				u.options = names
			}
		}
	}
	return setupChildren(ctx, u.children)
}

func (u *UserChoice) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&u.Base, ui, u, func() ExecutionStatus {
		if u.future == nil {
			if ui == nil {
				return Failure
			}
			u.future = ui.CreateUserChoiceFuture(u, u.options, u.metadata)
		}
		if !u.future.IsReady() {
			if u.Halted() {
				return Failure
			}
			return Running
		}
		idx := u.future.GetValue()
		if idx < 0 || idx >= len(u.children) {
			return Failure
		}
		return u.children[idx].ExecuteSingle(ui, ws)
	})
}

func (u *UserChoice) Halt() {
	u.RequestHalt()
	haltChildren(u)
}
func (u *UserChoice) Reset() {
	u.ResetState()
	u.future = nil
	resetChildren(u.children)
}
