package oactree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sup-oac/oactree"
)

func TestChoiceSelectsSingleBranch(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("idx", newLocal(t, `"int64"`, "1")))

	branch0 := newLeaf(oactree.Success)
	branch1 := newLeaf(oactree.Success)
	choice := oactree.NewChoice([]oactree.Instruction{branch0, branch1}, map[string]string{"selector": "@idx"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(choice))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, choice, &stubUI{}, ws, 5, 0)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, 0, branch0.callCount())
	require.Equal(t, 1, branch1.callCount())
}

func TestChoiceOutOfRangeIndexFails(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("idx", newLocal(t, `"int64"`, "5")))

	choice := oactree.NewChoice([]oactree.Instruction{newLeaf(oactree.Success)}, map[string]string{"selector": "@idx"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(choice))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, choice, &stubUI{}, ws, 5, 0)
	require.Equal(t, oactree.Failure, status)
}

func TestForceSuccessAlwaysReportsSuccess(t *testing.T) {
	child := newLeaf(oactree.Failure)
	wrapper := oactree.NewForceSuccess(child, nil)

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(wrapper))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, wrapper, &stubUI{}, ws, 5, 0)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, 1, child.callCount())
}

func TestNoMatterTicksToTerminalThenReportsSuccess(t *testing.T) {
	child := newDelayedLeaf(2, oactree.Failure)
	wrapper := oactree.NewNoMatter(child, nil)

	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(wrapper))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, wrapper, &stubUI{}, ws, 10, 0)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, 3, child.callCount())
}

func TestForIteratesEveryArrayElementAndBindsEach(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("items", newLocal(t, `{"type":"arr","multiplicity":3,"element":"int64"}`, "[10,20,30]")))
	require.NoError(t, ws.Add("current", newLocal(t, `"int64"`, "0")))

	var seen []int64
	child := &recordingLeaf{Base: oactree.NewBase("RecordingLeaf"), out: &seen}
	loop := oactree.NewFor(child, map[string]string{"array": "items", "element": "current"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(loop))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, loop, &stubUI{}, ws, 20, 0)
	require.Equal(t, oactree.Success, status)
	require.Equal(t, []int64{10, 20, 30}, seen)
}

func TestForStopsOnFirstChildFailure(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("items", newLocal(t, `{"type":"arr","multiplicity":2,"element":"int64"}`, "[1,2]")))
	require.NoError(t, ws.Add("current", newLocal(t, `"int64"`, "0")))

	child := newLeaf(oactree.Failure)
	loop := oactree.NewFor(child, map[string]string{"array": "items", "element": "current"})

	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(loop))
	require.NoError(t, proc.Setup())

	status := tickUntilTerminal(t, loop, &stubUI{}, ws, 20, 0)
	require.Equal(t, oactree.Failure, status)
	require.Equal(t, 1, child.callCount())
}

// recordingLeaf reads the bound "current" variable on every tick and
// reports Success, letting TestForIteratesEveryArrayElementAndBindsEach
// observe what For bound before each iteration.
type recordingLeaf struct {
	oactree.Base
	out *[]int64
}

func (l *recordingLeaf) Setup(ctx *oactree.SetupContext) error { return nil }

func (l *recordingLeaf) ExecuteSingle(ui oactree.UserInterface, ws *oactree.Workspace) oactree.ExecutionStatus {
	return oactree.Tick(&l.Base, ui, l, func() oactree.ExecutionStatus {
		v, err := ws.GetValue("current")
		if err != nil {
			return oactree.Failure
		}
		n, err := v.AsInt64()
		if err != nil {
			return oactree.Failure
		}
		*l.out = append(*l.out, n)
		return oactree.Success
	})
}

func (l *recordingLeaf) Halt()                          { l.RequestHalt() }
func (l *recordingLeaf) Reset()                         { l.ResetState() }
func (l *recordingLeaf) Children() []oactree.Instruction { return nil }

func TestInstructionRegistryConflictSemantics(t *testing.T) {
	reg := oactree.NewInstructionRegistry()
	factory := func() oactree.Instruction { return oactree.NewInverter(nil, nil) }

	require.NoError(t, reg.Register("Inverter", factory))
	// Re-registering the identical factory is idempotent.
	require.NoError(t, reg.Register("Inverter", factory))

	other := func() oactree.Instruction { return oactree.NewInverter(nil, nil) }
	require.ErrorIs(t, reg.Register("Inverter", other), oactree.ErrInstructionKindConflict)

	require.True(t, reg.Has("Inverter"))
	_, err := reg.New("NoSuchKind")
	require.ErrorIs(t, err, oactree.ErrUnknownInstructionKind)

	instr, err := reg.New("Inverter")
	require.NoError(t, err)
	require.NotNil(t, instr)
}
