// Package variables implements the built-in Variable kinds consumed by a
// Workspace: Local (in-process) and File (JSON-on-disk), registered with
// the process-wide VariableRegistry at init (§4.3).
package variables

import (
	"fmt"
	"sync"

	"github.com/sup-oac/oactree"
	"github.com/sup-oac/oactree/value"
)

func init() {
	oactree.RegisterVariableKind("Local", NewLocal)
}

// Local stores a Value entirely in process memory. Attributes:
// "type" (JSON type spec, mandatory), "value" (JSON literal, optional).
type Local struct {
	mu        sync.RWMutex
	typeJSON  string
	valueJSON string
	typ       value.Type
	current   value.Value
	available bool
}

// NewLocal builds a Local variable factory from its raw attribute map.
func NewLocal(attributes map[string]string) (oactree.Variable, error) {
	typeJSON, ok := attributes["type"]
	if !ok || typeJSON == "" {
		return nil, fmt.Errorf("oactree/variables: Local requires a non-empty \"type\" attribute")
	}
	return &Local{typeJSON: typeJSON, valueJSON: attributes["value"]}, nil
}

// Setup parses the declared type and, if present, the initial value.
func (l *Local) Setup(types *value.TypeRegistry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope := []byte(fmt.Sprintf(`{"type":%s}`, l.typeJSON))
	zero, err := value.FromJSON(types, envelope)
	if err != nil {
		return fmt.Errorf("oactree/variables: Local type: %w", err)
	}
	l.typ = zero.Type()
	l.current = zero

	if l.valueJSON != "" {
		doc := []byte(fmt.Sprintf(`{"type":%s,"value":%s}`, l.typeJSON, l.valueJSON))
		v, err := value.FromJSON(types, doc)
		if err != nil {
			return fmt.Errorf("oactree/variables: Local initial value: %w", err)
		}
		l.current = v
	}
	l.available = true
	return nil
}

// Teardown marks the variable unavailable; idempotent.
func (l *Local) Teardown() {
	l.mu.Lock()
	l.available = false
	l.mu.Unlock()
}

// GetValue returns the current in-memory value.
func (l *Local) GetValue() (value.Value, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.available {
		return value.Value{}, fmt.Errorf("oactree/variables: Local variable not set up")
	}
	return l.current, nil
}

// SetValue replaces the current value iff v's shape matches the declared
// type.
func (l *Local) SetValue(v value.Value) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !v.Type().Equal(l.typ) {
		return false
	}
	l.current = v
	return true
}

// IsAvailable is true once Setup has succeeded.
func (l *Local) IsAvailable() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available
}

// NotifyListeners is a no-op for Local: the Workspace's own callback
// registry (not the Variable) drives fan-out on every accepted SetValue.
func (l *Local) NotifyListeners() {}
