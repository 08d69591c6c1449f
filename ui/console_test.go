package ui_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sup-oac/oactree"
	"github.com/sup-oac/oactree/ui"
	"github.com/sup-oac/oactree/value"
)

// noopHaltable satisfies the unexported interface{ Halted() bool }
// ConsoleUserInterface checks for while polling stdin, standing in for a
// real Instruction owner without pulling in the oactree test doubles.
type noopHaltable struct{ halted bool }

func (n *noopHaltable) Type() string                              { return "Test" }
func (n *noopHaltable) Name() string                               { return "" }
func (n *noopHaltable) SetName(string)                             {}
func (n *noopHaltable) Attributes() *oactree.AttributeTable        { return oactree.NewAttributeTable() }
func (n *noopHaltable) Setup(*oactree.SetupContext) error          { return nil }
func (n *noopHaltable) ExecuteSingle(oactree.UserInterface, *oactree.Workspace) oactree.ExecutionStatus {
	return oactree.Success
}
func (n *noopHaltable) Status() oactree.ExecutionStatus   { return oactree.Success }
func (n *noopHaltable) Halt()                             { n.halted = true }
func (n *noopHaltable) Reset()                            {}
func (n *noopHaltable) Children() []oactree.Instruction   { return nil }
func (n *noopHaltable) Halted() bool                      { return n.halted }

// withStdin temporarily replaces os.Stdin with a pipe fed by content,
// restoring the original on cleanup, so ConsoleUserInterface's
// bufio.Scanner (bound to os.Stdin at construction) reads it.
func withStdin(t *testing.T, content string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	original := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = original
		r.Close()
	})
}

func TestConsoleUserInterfacePutValueRendersScalarsAndStructured(t *testing.T) {
	withStdin(t, "")
	c := ui.NewConsoleUserInterface("proc", ui.InstrumentationConfig{})

	require.True(t, c.PutValue(value.NewString("hello"), "greeting"))
	require.True(t, c.PutValue(value.NewBool(true), ""))
	require.True(t, c.PutValue(value.NewInt64(42), "answer"))
}

func TestConsoleUserInterfaceGetInterruptableUserValueParsesStdinLine(t *testing.T) {
	withStdin(t, "123\n")
	c := ui.NewConsoleUserInterface("proc", ui.InstrumentationConfig{})

	owner := &noopHaltable{}
	ok, v := c.GetInterruptableUserValue(owner, value.NewInt64(0), "enter a number")
	require.True(t, ok)
	n, err := v.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(123), n)
}

func TestConsoleUserInterfaceCreateUserChoiceFutureResolvesFromStdin(t *testing.T) {
	withStdin(t, "2\n")
	c := ui.NewConsoleUserInterface("proc", ui.InstrumentationConfig{})

	owner := &noopHaltable{}
	future := c.CreateUserChoiceFuture(owner, []string{"a", "b", "c"}, nil)
	require.Eventually(t, future.IsReady, time.Second, 5*time.Millisecond, "future never became ready")
	require.Equal(t, 2, future.GetValue())
}

func TestConsoleUserInterfaceLogAndMessageDoNotPanic(t *testing.T) {
	withStdin(t, "")
	c := ui.NewConsoleUserInterface("proc", ui.InstrumentationConfig{})

	c.Message("hello")
	c.Log(oactree.SeverityInfo, "info line")
	c.Log(oactree.SeverityError, "error line")
	c.UpdateInstructionStatus(&noopHaltable{}, oactree.NotStarted, oactree.Running)
	c.StartSingleStep()
	c.EndSingleStep()
}
