package oactree

import "errors"

var (
	// ErrMandatoryAttributeMissing signals an empty/absent required attribute.
	ErrMandatoryAttributeMissing = errors.New("oactree: mandatory attribute missing")
	// ErrUnknownAttribute signals a lookup for an attribute the instruction never declared.
	ErrUnknownAttribute = errors.New("oactree: unknown attribute")
	// ErrAttributeCategoryViolation signals a placeholder sigil used where VariableName is required.
	ErrAttributeCategoryViolation = errors.New("oactree: attribute category violation")
	// ErrAttributeParse signals a literal that failed to parse into its declared type.
	ErrAttributeParse = errors.New("oactree: attribute parse failure")

	// ErrDuplicateVariable signals Workspace.Add called with an already-used name.
	ErrDuplicateVariable = errors.New("oactree: duplicate workspace variable name")
	ErrDuplicateVariableRef = errors.New("oactree: duplicate workspace variable pointer")
	// ErrUnknownVariable signals a workspace lookup for a name that was never added.
	ErrUnknownVariable = errors.New("oactree: unknown workspace variable")
	// ErrVariableSetup signals a Variable's Setup call failing.
	ErrVariableSetup = errors.New("oactree: variable setup failed")
	// ErrVariableRejectedValue signals Variable.SetValue returning false (shape mismatch).
	ErrVariableRejectedValue = errors.New("oactree: variable rejected value")

	// ErrUnknownInstructionKind signals a registry lookup miss during tree construction.
	ErrUnknownInstructionKind = errors.New("oactree: unknown instruction kind")
	// ErrInstructionKindConflict signals re-registering a kind name with a different constructor.
	ErrInstructionKindConflict = errors.New("oactree: instruction kind already registered with a different constructor")
	// ErrUnknownVariableKind signals a registry lookup miss for a variable kind.
	ErrUnknownVariableKind = errors.New("oactree: unknown variable kind")
	// ErrVariableKindConflict signals re-registering a variable kind with a different factory.
	ErrVariableKindConflict = errors.New("oactree: variable kind already registered with a different factory")

	// ErrIncludeNotFound signals an Include*/CopyFromProcedure path that does not resolve.
	ErrIncludeNotFound = errors.New("oactree: include path not found")
	// ErrDuplicateMember signals AddMember targeting an already-present field.
	ErrDuplicateMember = errors.New("oactree: duplicate member")
	// ErrShapeViolation signals AddMember/AddElement against an incompatible target shape.
	ErrShapeViolation = errors.New("oactree: shape violation")
	// ErrIndexOutOfRange signals Choice/array access outside bounds.
	ErrIndexOutOfRange = errors.New("oactree: index out of range")

	// ErrHalted signals a blocking leaf aborting because Halt was observed.
	ErrHalted = errors.New("oactree: halted")
	// ErrDoubleSetup signals Setup called twice without an intervening Reset — an
	// internal invariant violation (§7), never used for ordinary control flow.
	ErrDoubleSetup = errors.New("oactree: instruction already set up; Reset required first")
)
