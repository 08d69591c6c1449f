package oactree_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sup-oac/oactree"
	"github.com/sup-oac/oactree/value"
	"github.com/sup-oac/oactree/variables"
)

// countingLeaf is a minimal Instruction test double: it reports a fixed
// status (or, with remaining > 0, Running for that many calls first) and
// counts how often it was ticked.
type countingLeaf struct {
	oactree.Base
	mu        sync.Mutex
	remaining int
	final     oactree.ExecutionStatus
	calls     int
}

func newLeaf(status oactree.ExecutionStatus) *countingLeaf {
	return &countingLeaf{Base: oactree.NewBase("TestLeaf"), final: status}
}

func newDelayedLeaf(runningTicks int, final oactree.ExecutionStatus) *countingLeaf {
	return &countingLeaf{Base: oactree.NewBase("TestLeaf"), remaining: runningTicks, final: final}
}

func (l *countingLeaf) Setup(ctx *oactree.SetupContext) error { return nil }

func (l *countingLeaf) ExecuteSingle(ui oactree.UserInterface, ws *oactree.Workspace) oactree.ExecutionStatus {
	return oactree.Tick(&l.Base, ui, l, func() oactree.ExecutionStatus {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls++
		if l.remaining > 0 {
			l.remaining--
			return oactree.Running
		}
		return l.final
	})
}

func (l *countingLeaf) Halt() { l.RequestHalt() }
func (l *countingLeaf) Reset() {
	l.ResetState()
}
func (l *countingLeaf) Children() []oactree.Instruction { return nil }

func (l *countingLeaf) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// stubUI is a no-frills UserInterface test double: it records nothing by
// default but can be configured to resolve UserChoice futures to a fixed
// index immediately.
type stubUI struct {
	choiceIndex int
}

func (s *stubUI) UpdateInstructionStatus(oactree.Instruction, oactree.ExecutionStatus, oactree.ExecutionStatus) {
}
func (s *stubUI) StartSingleStep() {}
func (s *stubUI) EndSingleStep()   {}
func (s *stubUI) Message(string)   {}
func (s *stubUI) Log(oactree.LogSeverity, string) {
}
func (s *stubUI) PutValue(value.Value, string) bool { return true }
func (s *stubUI) GetInterruptableUserValue(oactree.Instruction, value.Value, string) (bool, value.Value) {
	return false, value.Value{}
}
func (s *stubUI) CreateUserChoiceFuture(owner oactree.Instruction, options []string, metadata map[string]string) oactree.ChoiceFuture {
	return &fixedChoiceFuture{ready: true, idx: s.choiceIndex}
}

type fixedChoiceFuture struct {
	ready bool
	idx   int
}

func (f *fixedChoiceFuture) IsReady() bool { return f.ready }
func (f *fixedChoiceFuture) GetValue() int { return f.idx }

func newLocal(t *testing.T, typeJSON, valueJSON string) oactree.Variable {
	t.Helper()
	v, err := variables.NewLocal(map[string]string{"type": typeJSON, "value": valueJSON})
	require.NoError(t, err)
	return v
}

func tickUntilTerminal(t *testing.T, root oactree.Instruction, ui oactree.UserInterface, ws *oactree.Workspace, maxTicks int, sleep time.Duration) oactree.ExecutionStatus {
	t.Helper()
	var status oactree.ExecutionStatus
	for i := 0; i < maxTicks; i++ {
		status = root.ExecuteSingle(ui, ws)
		if status.IsTerminal() {
			return status
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
	return status
}

// Property: a Sequence succeeds iff every child succeeds, in order, and
// short-circuits (never ticks later children) on the first Failure.
func TestSequenceShortCircuitsOnFailure(t *testing.T) {
	first := newLeaf(oactree.Success)
	second := newLeaf(oactree.Failure)
	third := newLeaf(oactree.Success)
	seq := oactree.NewSequence([]oactree.Instruction{first, second, third})

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(seq))
	require.NoError(t, proc.Setup())

	ui := &stubUI{}
	status := tickUntilTerminal(t, seq, ui, ws, 10, 0)
	require.Equal(t, oactree.Failure, status)
	require.Equal(t, 1, first.callCount())
	require.Equal(t, 1, second.callCount())
	require.Equal(t, 0, third.callCount())
}

func TestSequenceRequiresAllSuccess(t *testing.T) {
	a := newLeaf(oactree.Success)
	b := newLeaf(oactree.Success)
	seq := oactree.NewSequence([]oactree.Instruction{a, b})

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(seq))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, seq, &stubUI{}, ws, 10, 0)
	require.Equal(t, oactree.Success, status)
}

// Property: a Fallback succeeds on the first child that succeeds and
// short-circuits the rest; Failure only when every child fails.
func TestFallbackShortCircuitsOnSuccess(t *testing.T) {
	first := newLeaf(oactree.Failure)
	second := newLeaf(oactree.Success)
	third := newLeaf(oactree.Success)
	fb := oactree.NewFallback([]oactree.Instruction{first, second, third})

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(fb))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, fb, &stubUI{}, ws, 10, 0)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, 1, first.callCount())
	require.Equal(t, 1, second.callCount())
	require.Equal(t, 0, third.callCount())
}

func TestFallbackFailsWhenAllChildrenFail(t *testing.T) {
	a := newLeaf(oactree.Failure)
	b := newLeaf(oactree.Failure)
	fb := oactree.NewFallback([]oactree.Instruction{a, b})

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(fb))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, fb, &stubUI{}, ws, 10, 0)
	require.Equal(t, oactree.Failure, status)
}

// Property: Inverter swaps Success<->Failure and passes Running through
// unchanged (involution on the terminal outcomes).
func TestInverterSwapsTerminalOutcomes(t *testing.T) {
	ws := oactree.NewWorkspace()

	succeeding := oactree.NewInverter(newLeaf(oactree.Success), nil)
	proc1 := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(succeeding))
	require.NoError(t, proc1.Setup())
	require.Equal(t, oactree.Failure, tickUntilTerminal(t, succeeding, &stubUI{}, ws, 5, 0))

	ws2 := oactree.NewWorkspace()
	failing := oactree.NewInverter(newLeaf(oactree.Failure), nil)
	proc2 := oactree.NewProcedure(oactree.WithWorkspace(ws2), oactree.WithRoots(failing))
	require.NoError(t, proc2.Setup())
	require.Equal(t, oactree.Success, tickUntilTerminal(t, failing, &stubUI{}, ws2, 5, 0))
}

// Property: Copy(source -> dest) followed by Copy(dest -> source) leaves
// both variables holding the original source value.
func TestCopyRoundTrip(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("source", newLocal(t, `"int64"`, "77")))
	require.NoError(t, ws.Add("dest", newLocal(t, `"int64"`, "0")))

	copyLeaf := oactree.NewCopy(map[string]string{"input": "@source", "output": "dest"})
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(copyLeaf))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, copyLeaf, &stubUI{}, ws, 5, 0)
	require.Equal(t, oactree.Success, status)

	got, err := ws.GetValue("dest")
	require.NoError(t, err)
	n, err := got.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(77), n)

	copyBack := oactree.NewCopy(map[string]string{"input": "@dest", "output": "source"})
	require.NoError(t, copyBack.Setup(&oactree.SetupContext{Workspace: ws, Types: proc.Types(), Instrs: proc.Instructions(), Procedure: proc}))
	require.Equal(t, oactree.Success, tickUntilTerminal(t, copyBack, &stubUI{}, ws, 5, 0))

	back, err := ws.GetValue("source")
	require.NoError(t, err)
	n, err = back.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(77), n)
}

// S1: Repeat(maxCount=10) around a counting Increment leaf drives the
// counter workspace variable to exactly 10 and reports Success.
func TestScenarioCountingRepeat(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("counter", newLocal(t, `"int64"`, "0")))

	child := oactree.NewIncrement(map[string]string{"variable": "counter"})
	repeat := oactree.NewRepeat(child, map[string]string{"maxCount": "10"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(repeat))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, repeat, &stubUI{}, ws, 50, 0)
	require.Equal(t, oactree.Success, status)

	v, err := ws.GetValue("counter")
	require.NoError(t, err)
	n, err := v.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
}

// S2: a ReactiveSequence guarding an Async(Wait) re-evaluates its Condition
// every external tick; once the guard flag flips false mid-wait, the first
// tick that sees it terminates the whole sequence with Failure (that tick's
// reset of the Async child still joins its worker, so it lasts until the
// Wait's own short timeout has elapsed).
func TestScenarioReactiveGuard(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("flag", newLocal(t, `"bool"`, "true")))

	cond := oactree.NewCondition(map[string]string{"variable": "@flag"})
	// A short timeout: once the guard flips, ReactiveSequence resets this
	// child without halting it first, so the reset blocks until the wait's
	// own internal deadline elapses (§4.5 — a documented quirk, not fixed).
	wait := oactree.NewAsync(oactree.NewWait(map[string]string{"timeout": "0.3"}), nil)
	seq := oactree.NewReactiveSequence([]oactree.Instruction{cond, wait})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(seq))
	proc.SetCadence(10*time.Millisecond, 5*time.Millisecond, nil)
	require.NoError(t, proc.Setup())

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = ws.SetValue("flag", value.NewBool(false))
	}()

	ui := &stubUI{}
	deadline := time.Now().Add(2 * time.Second)
	var status oactree.ExecutionStatus
	for !status.IsTerminal() && time.Now().Before(deadline) {
		status = seq.ExecuteSingle(ui, ws)
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, oactree.Failure, status)
}

// S3: a Listen decorator restarts its child whenever the watched variable's
// value changes, converging once the child observes the update.
func TestScenarioListener(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("monitor", newLocal(t, `"int64"`, "0")))
	require.NoError(t, ws.Add("update", newLocal(t, `"int64"`, "1729")))

	copyLeaf := oactree.NewCopy(map[string]string{"input": "@update", "output": "monitor"})
	condition := &matchLeaf{}
	listen := oactree.NewListen(condition, map[string]string{"variables": "update"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(oactree.NewAsync(listen, nil)))
	proc.SetCadence(10*time.Millisecond, 5*time.Millisecond, nil)
	require.NoError(t, proc.Setup())

	root, err := proc.Root()
	require.NoError(t, err)

	ui := &stubUI{}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = copyLeaf.Setup(&oactree.SetupContext{Workspace: ws, Types: proc.Types(), Instrs: proc.Instructions(), Procedure: proc})
		_ = copyLeaf.ExecuteSingle(ui, ws)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for condition.matchCount() == 0 && time.Now().Before(deadline) {
		root.ExecuteSingle(ui, ws)
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, condition.matchCount(), 0)

	got, err := ws.GetValue("monitor")
	require.NoError(t, err)
	n, err := got.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(1729), n)
}

// TestListenUnwrappedDoesNotBlockScheduler ticks a bare Listen node (no
// enclosing Async) directly as the root, the way §5 describes Listen as
// owning its own worker rather than blocking the caller: every
// root.ExecuteSingle call must return promptly so the driving loop can
// observe the condition converging instead of hanging on the first tick.
func TestListenUnwrappedDoesNotBlockScheduler(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("monitor", newLocal(t, `"int64"`, "0")))
	require.NoError(t, ws.Add("update", newLocal(t, `"int64"`, "99")))

	condition := &matchLeaf{}
	listen := oactree.NewListen(condition, map[string]string{"variables": "update"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(listen))
	proc.SetCadence(10*time.Millisecond, 5*time.Millisecond, nil)
	require.NoError(t, proc.Setup())

	ui := &stubUI{}
	copyLeaf := oactree.NewCopy(map[string]string{"input": "@update", "output": "monitor"})
	require.NoError(t, copyLeaf.Setup(&oactree.SetupContext{Workspace: ws, Types: proc.Types(), Instrs: proc.Instructions(), Procedure: proc}))

	deadline := time.Now().Add(3 * time.Second)
	for condition.matchCount() == 0 && time.Now().Before(deadline) {
		start := time.Now()
		listen.ExecuteSingle(ui, ws)
		require.Less(t, time.Since(start), 50*time.Millisecond, "Listen.ExecuteSingle must return without blocking on its watch loop")
		if condition.matchCount() == 0 {
			copyLeaf.ExecuteSingle(ui, ws)
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Greater(t, condition.matchCount(), 0)
	listen.Halt()
	listen.Reset()
}

// matchLeaf reports Success once "update" and "monitor" hold equal values,
// Running otherwise; it stands in for the Equals leaf under Listen so the
// test can count how many times the guard actually matched.
type matchLeaf struct {
	oactree.Base
	matches int
	mu      sync.Mutex
}

func (m *matchLeaf) Setup(ctx *oactree.SetupContext) error { return nil }
func (m *matchLeaf) ExecuteSingle(ui oactree.UserInterface, ws *oactree.Workspace) oactree.ExecutionStatus {
	return oactree.Tick(&m.Base, ui, m, func() oactree.ExecutionStatus {
		a, err1 := ws.GetValue("monitor")
		b, err2 := ws.GetValue("update")
		if err1 != nil || err2 != nil {
			return oactree.Running
		}
		if a.Equal(b) {
			m.mu.Lock()
			m.matches++
			m.mu.Unlock()
			return oactree.Success
		}
		return oactree.Running
	})
}
func (m *matchLeaf) Halt()                       {}
func (m *matchLeaf) Reset()                      { m.ResetState() }
func (m *matchLeaf) Children() []oactree.Instruction { return nil }
func (m *matchLeaf) matchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matches
}

// S4: UserChoice resolves its future once and executes the selected branch.
func TestScenarioUserChoice(t *testing.T) {
	branch0 := newLeaf(oactree.Failure)
	branch1 := newLeaf(oactree.Success)
	uc := oactree.NewUserChoice([]oactree.Instruction{branch0, branch1}, nil)

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(uc))
	require.NoError(t, proc.Setup())

	ui := &stubUI{choiceIndex: 1}
	status := tickUntilTerminal(t, uc, ui, ws, 10, time.Millisecond)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, 0, branch0.callCount())
	require.Equal(t, 1, branch1.callCount())
}

// S5: Include clones a named template and forwards the including node's
// own attributes to the clone's placeholder ("@name") attributes.
func TestScenarioIncludeWithParameter(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("target", newLocal(t, `"int64"`, "0")))

	template := oactree.NewCopy(map[string]string{"input": "@amount", "output": "target"})

	include := oactree.NewInclude(map[string]string{"path": "setAmount", "amount": "@literalAmount"})
	require.NoError(t, ws.Add("literalAmount", newLocal(t, `"int64"`, "42")))

	proc := oactree.NewProcedure(
		oactree.WithWorkspace(ws),
		oactree.WithRoots(include),
		oactree.WithTemplates(map[string]oactree.Instruction{"setAmount": template}),
	)
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, include, &stubUI{}, ws, 5, 0)
	require.Equal(t, oactree.Success, status)

	got, err := ws.GetValue("target")
	require.NoError(t, err)
	n, err := got.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

// S6: ParallelSequence reports Success once successThreshold branches
// finish successfully, cancelling the branches still in flight.
func TestScenarioParallelThresholds(t *testing.T) {
	fast := newLeaf(oactree.Success)
	slowSuccess := newDelayedLeaf(3, oactree.Success)
	neverDone := newDelayedLeaf(1000, oactree.Success)

	ps := oactree.NewParallelSequence(
		[]oactree.Instruction{fast, slowSuccess, neverDone},
		map[string]string{"successThreshold": "2", "failureThreshold": "2"},
	)

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(ps))
	proc.SetCadence(10*time.Millisecond, 5*time.Millisecond, nil)
	require.NoError(t, proc.Setup())

	ui := &stubUI{}
	deadline := time.Now().Add(3 * time.Second)
	var status oactree.ExecutionStatus
	for !status.IsTerminal() && time.Now().Before(deadline) {
		status = ps.ExecuteSingle(ui, ws)
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, oactree.Success, status)

	ps.Reset()
}

// Property: Halt is cooperative but prompt — an AsyncWrapper running a
// never-terminating child reports Failure shortly after Halt, it does not
// block for the child's full (effectively unbounded) duration.
func TestHaltIsPrompt(t *testing.T) {
	child := newDelayedLeaf(100000, oactree.Success)
	wrapper := oactree.NewAsyncWrapper(child, 2*time.Millisecond)

	ui := &stubUI{}
	ws := oactree.NewWorkspace()
	require.NoError(t, child.Setup(&oactree.SetupContext{Workspace: ws}))

	status := wrapper.Tick(ui, ws)
	require.False(t, status.IsTerminal())

	start := time.Now()
	wrapper.Halt()
	for {
		status = wrapper.GetStatus()
		if status.IsTerminal() || time.Since(start) > time.Second {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, oactree.Failure, status)

	wrapper.Reset()
}

// Property: Reset joins every background worker before returning, so a
// second Setup/Tick cycle never races with a goroutine left over from the
// previous activation.
func TestResetJoinsWorkers(t *testing.T) {
	child := newDelayedLeaf(3, oactree.Success)
	wrapper := oactree.NewAsyncWrapper(child, 2*time.Millisecond)

	ui := &stubUI{}
	ws := oactree.NewWorkspace()
	require.NoError(t, child.Setup(&oactree.SetupContext{Workspace: ws}))

	wrapper.Tick(ui, ws)
	time.Sleep(20 * time.Millisecond)
	wrapper.Reset()
	require.Equal(t, oactree.NotStarted, child.Status())
}
