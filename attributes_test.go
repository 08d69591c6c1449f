package oactree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sup-oac/oactree"
)

// These tests exercise AttributeTable's public surface (Resolve,
// GetAttributeValue, SetValueFromAttributeName, GetAttributeString,
// HasAttribute) through real instruction kinds that declare each
// attribute category, rather than poking at the unexported attributeSpec
// shape directly.

func TestRepeatRejectsMissingMandatoryAttribute(t *testing.T) {
	r := oactree.NewRepeat(newLeaf(oactree.Success), nil)
	ws := oactree.NewWorkspace()
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(r))

	err := proc.Setup()
	require.ErrorIs(t, err, oactree.ErrMandatoryAttributeMissing)
}

func TestCopyOutputVariableNameResolvesAsPlainWorkspacePath(t *testing.T) {
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("source", newLocal(t, `"int64"`, "3")))
	require.NoError(t, ws.Add("target", newLocal(t, `"int64"`, "0")))

	// "output" is CategoryVariableName: a plain name, not an "@"-prefixed
	// indirection, resolves straight to the workspace path it names.
	cp := oactree.NewCopy(map[string]string{"input": "@source", "output": "target"})
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(cp))
	require.NoError(t, proc.Setup())

	status := cp.ExecuteSingle(&stubUI{}, ws)
	require.Equal(t, oactree.Success, status)

	got, err := ws.GetValue("target")
	require.NoError(t, err)
	n, err := got.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestCompareResolvesBothOperandsThroughWorkspaceIndirection(t *testing.T) {
	// Compare's "lhs"/"rhs" are declared without a fixed Type (see
	// DESIGN.md's open-question note): they only resolve a value when given
	// as "@variableName" workspace indirection, never as a bare literal.
	ws := oactree.NewWorkspace()
	require.NoError(t, ws.Add("a", newLocal(t, `"int64"`, "7")))
	require.NoError(t, ws.Add("b", newLocal(t, `"int64"`, "7")))

	eq := oactree.NewCompare("Equals", nil, map[string]string{"lhs": "@a", "rhs": "@b"})
	proc := oactree.NewProcedure(oactree.WithWorkspace(ws), oactree.WithRoots(eq))
	require.NoError(t, proc.Setup())

	status := eq.ExecuteSingle(&stubUI{}, ws)
	require.Equal(t, oactree.Success, status)
}

func TestAttributeTableGetAttributeStringAndHasAttribute(t *testing.T) {
	i := oactree.NewInclude(map[string]string{"path": "SomeTemplate"})
	table := i.Attributes()

	require.True(t, table.HasAttribute("path"))
	require.False(t, table.HasAttribute("file"))

	s, err := table.GetAttributeString("path")
	require.NoError(t, err)
	require.Equal(t, "SomeTemplate", s)

	_, err = table.GetAttributeString("nonexistent")
	require.ErrorIs(t, err, oactree.ErrUnknownAttribute)
}

func TestIncludeAttributesSurviveInitialisePlaceholderAttributes(t *testing.T) {
	child := oactree.NewRepeat(newLeaf(oactree.Success), map[string]string{"maxCount": "@incr"})
	oactree.InitialisePlaceholderAttributes(child, map[string]string{"incr": "4"})

	s, err := child.Attributes().GetAttributeString("maxCount")
	require.NoError(t, err)
	require.Equal(t, "4", s)
}
