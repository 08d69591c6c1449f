// Package oactree implements the behavior-tree execution engine for
// operational procedures: instruction hierarchy, status state machine,
// tick/halt/reset control protocol, workspace, and the concurrency
// substrate for async children, listeners, parallel branches, timed
// waits, and cross-procedure inclusion.
package oactree

import (
	"context"
	"time"

	"github.com/sup-oac/oactree/value"
)

// ExecutionStatus is the sum type every Instruction reports.
type ExecutionStatus uint8

const (
	NotStarted ExecutionStatus = iota
	NotFinished
	Running
	Success
	Failure
)

// String renders the status for diagnostics and log lines.
func (s ExecutionStatus) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case NotFinished:
		return "NotFinished"
	case Running:
		return "Running"
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is Success or Failure.
func (s ExecutionStatus) IsTerminal() bool { return s == Success || s == Failure }

// NeedsExecute reports whether s requires another ExecuteSingle call.
func NeedsExecute(s ExecutionStatus) bool { return !s.IsTerminal() }

// Instruction is the uniform polymorphic contract every tree node
// implements: leaves, decorators, and compounds alike (§9 "Polymorphic
// instructions").
type Instruction interface {
	Type() string
	Name() string
	SetName(name string)
	Attributes() *AttributeTable

	// Setup validates attributes, resolves paths, acquires resources, and
	// recursively sets up children. Called once per procedure activation.
	Setup(ctx *SetupContext) error

	// ExecuteSingle drives the node's state machine forward by one step
	// and returns the resulting status.
	ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus

	// Status returns the last-computed status without re-executing.
	Status() ExecutionStatus

	// Halt cooperatively interrupts the node and any live descendants.
	Halt()

	// Reset releases resources and returns the node (and descendants) to
	// NotStarted, joining any background workers first.
	Reset()

	// Children exposes child instructions for traversal; leaves return nil.
	Children() []Instruction
}

// SetupContext carries what Setup needs to resolve cross-references:
// the owning workspace, the instruction/type registries, and the
// procedure used to resolve Include* references.
type SetupContext struct {
	Workspace *Workspace
	Types     *value.TypeRegistry
	Instrs    *InstructionRegistry
	Procedure *Procedure
}

// UserInterface is the capability the core uses to report status, deliver
// messages, and request interactive input/choices (§4.9).
type UserInterface interface {
	UpdateInstructionStatus(instr Instruction, oldStatus, newStatus ExecutionStatus)
	StartSingleStep()
	EndSingleStep()
	Message(text string)
	Log(severity LogSeverity, text string)
	PutValue(v value.Value, description string) bool
	GetInterruptableUserValue(owner Instruction, prototype value.Value, description string) (bool, value.Value)
	CreateUserChoiceFuture(owner Instruction, options []string, metadata map[string]string) ChoiceFuture
}

// ChoiceFuture is an opaque, pollable handle to an asynchronous user choice.
type ChoiceFuture interface {
	IsReady() bool
	GetValue() int
}

// LogSeverity classifies LogInstruction / Log calls.
type LogSeverity uint8

const (
	SeverityDebug LogSeverity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s LogSeverity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Variable is a named handle to a Value owned by the Workspace (§3, §4.3).
type Variable interface {
	Setup(types *value.TypeRegistry) error
	Teardown()
	GetValue() (value.Value, error)
	SetValue(v value.Value) bool
	IsAvailable() bool
	NotifyListeners()
}

// VariableFactory constructs a Variable of a registered kind from its raw
// attribute map. Concrete kinds (Local, File, ...) register a factory with
// the process-wide VariableRegistry.
type VariableFactory func(attributes map[string]string) (Variable, error)

// Runner drives a Procedure's root instruction via repeated ticks until it
// reports a terminal status (§4.7).
type Runner interface {
	Run(ctx context.Context, proc *Procedure, ui UserInterface) (ExecutionStatus, error)
	Halt()
}

// clampCadence enforces the (0, 60] range from §6, logging a warning via ui
// when a value is out of range.
func clampCadence(d time.Duration, fallback time.Duration, name string, ui UserInterface) time.Duration {
	if d <= 0 || d > 60*time.Second {
		if ui != nil {
			ui.Log(SeverityWarning, "clamping out-of-range "+name+" to default")
		}
		return fallback
	}
	return d
}
