package oactree

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sup-oac/oactree/value"
)

// ChangeCallback is invoked once per accepted SetValue, carrying the
// variable name that changed and its new top-level Value (§4.2).
type ChangeCallback func(name string, v value.Value)

// ScopeGuard releases a single callback registration. Calling it more than
// once is a no-op.
type ScopeGuard struct {
	once sync.Once
	ws   *Workspace
	id   uuid.UUID
}

// Close withdraws the registration. Safe to call from any goroutine,
// including from inside the callback it guards.
func (g *ScopeGuard) Close() {
	g.once.Do(func() {
		g.ws.unregister(g.id)
	})
}

type callbackEntry struct {
	id       uuid.UUID
	listener uintptr
	fn       ChangeCallback
}

// Workspace owns the named Variable set of a single Procedure activation.
// Variable names preserve insertion order (§3) so iteration and diagnostics
// are deterministic; callback fan-out is serialised with respect to writes
// so listeners always observe a post-write snapshot (§4.2).
type Workspace struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]Variable
	kindOf  map[string]string
	ptrSeen map[Variable]struct{}

	cbMu      sync.Mutex
	callbacks []callbackEntry
}

// NewWorkspace constructs an empty Workspace.
func NewWorkspace() *Workspace {
	return &Workspace{
		byName:  make(map[string]Variable),
		kindOf:  make(map[string]string),
		ptrSeen: make(map[Variable]struct{}),
	}
}

// Add registers a new named variable. Rejects duplicate names and duplicate
// variable pointers (the same Variable instance bound under two names).
func (w *Workspace) Add(name string, v Variable) error {
	return w.AddWithKind(name, v, "")
}

// AddWithKind registers a new named variable tagged with its registered
// variable kind (e.g. "Local", "File"), enabling WaitForVariables to query
// by kind.
func (w *Workspace) AddWithKind(name string, v Variable, kind string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, name)
	}
	if _, exists := w.ptrSeen[v]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariableRef, name)
	}
	w.order = append(w.order, name)
	w.byName[name] = v
	w.kindOf[name] = kind
	w.ptrSeen[v] = struct{}{}
	return nil
}

// NamesOfKind returns, in insertion order, the names of every variable
// registered with AddWithKind(kind).
func (w *Workspace) NamesOfKind(kind string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []string
	for _, name := range w.order {
		if w.kindOf[name] == kind {
			out = append(out, name)
		}
	}
	return out
}

// HasVariable reports whether name was added to the workspace.
func (w *Workspace) HasVariable(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.byName[name]
	return ok
}

// Names returns variable names in insertion order.
func (w *Workspace) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Setup propagates Setup to every variable in insertion order.
func (w *Workspace) Setup(types *value.TypeRegistry) error {
	w.mu.RLock()
	names := append([]string(nil), w.order...)
	w.mu.RUnlock()
	for _, name := range names {
		w.mu.RLock()
		v := w.byName[name]
		w.mu.RUnlock()
		if err := v.Setup(types); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrVariableSetup, name, err)
		}
	}
	return nil
}

// Teardown propagates Teardown to every variable. Idempotent: variables are
// expected to tolerate repeated Teardown calls.
func (w *Workspace) Teardown() {
	w.mu.RLock()
	vars := make([]Variable, 0, len(w.order))
	for _, name := range w.order {
		vars = append(vars, w.byName[name])
	}
	w.mu.RUnlock()
	for _, v := range vars {
		v.Teardown()
	}
}

// Variable returns the named Variable directly, bypassing path resolution;
// used by instructions that need IsAvailable rather than GetValue (e.g.
// WaitForVariables).
func (w *Workspace) Variable(name string) (Variable, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.byName[name]
	return v, ok
}

func splitVariablePath(path string) (name, suffix string) {
	if idx := strings.IndexAny(path, ".["); idx >= 0 {
		return path[:idx], path[idx:]
	}
	return path, ""
}

// GetValue resolves a (possibly dotted) path against the named variable's
// current Value.
func (w *Workspace) GetValue(path string) (value.Value, error) {
	name, suffix := splitVariablePath(path)
	w.mu.RLock()
	v, ok := w.byName[name]
	w.mu.RUnlock()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	current, err := v.GetValue()
	if err != nil {
		return value.Value{}, err
	}
	if suffix == "" {
		return current, nil
	}
	return current.GetAt(strings.TrimPrefix(suffix, "."))
}

// SetValue resolves path's leading variable name, applies any dotted suffix
// against its current Value, delegates to the Variable's SetValue, and on
// success fans the change out to registered callbacks in registration
// order (§4.2).
func (w *Workspace) SetValue(path string, v value.Value) error {
	name, suffix := splitVariablePath(path)
	w.mu.RLock()
	target, ok := w.byName[name]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}

	next := v
	if suffix != "" {
		current, err := target.GetValue()
		if err != nil {
			return err
		}
		next, err = current.SetAt(strings.TrimPrefix(suffix, "."), v)
		if err != nil {
			return err
		}
	}

	if !target.SetValue(next) {
		return fmt.Errorf("%w: %s", ErrVariableRejectedValue, name)
	}
	target.NotifyListeners()
	w.dispatch(name, next)
	return nil
}

// RegisterGenericCallback subscribes fn to every future accepted SetValue,
// tagged with listener for scoped bulk unregistration. Returns a ScopeGuard
// that withdraws this single registration.
func (w *Workspace) RegisterGenericCallback(fn ChangeCallback, listener uintptr) *ScopeGuard {
	id := uuid.New()
	w.cbMu.Lock()
	w.callbacks = append(w.callbacks, callbackEntry{id: id, listener: listener, fn: fn})
	w.cbMu.Unlock()
	return &ScopeGuard{ws: w, id: id}
}

// UnregisterListener withdraws every callback registered under listener.
// Safe to call while a fan-out round is in progress; entries removed before
// they are dispatched are skipped (§4.2).
func (w *Workspace) UnregisterListener(listener uintptr) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	kept := w.callbacks[:0]
	for _, e := range w.callbacks {
		if e.listener != listener {
			kept = append(kept, e)
		}
	}
	w.callbacks = kept
}

func (w *Workspace) unregister(id uuid.UUID) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	for i, e := range w.callbacks {
		if e.id == id {
			w.callbacks = append(w.callbacks[:i], w.callbacks[i+1:]...)
			return
		}
	}
}

// dispatch fans (name, v) out to a snapshot of the callback list taken
// under lock, so registrations made mid-round are excluded and
// unregistrations completed before a given entry is reached are honoured.
func (w *Workspace) dispatch(name string, v value.Value) {
	w.cbMu.Lock()
	snapshot := append([]callbackEntry(nil), w.callbacks...)
	w.cbMu.Unlock()
	for _, e := range snapshot {
		w.cbMu.Lock()
		_, stillLive := w.findCallback(e.id)
		w.cbMu.Unlock()
		if !stillLive {
			continue
		}
		e.fn(name, v)
	}
}

func (w *Workspace) findCallback(id uuid.UUID) (callbackEntry, bool) {
	for _, e := range w.callbacks {
		if e.id == id {
			return e, true
		}
	}
	return callbackEntry{}, false
}

// WaitForVariable blocks until name reports IsAvailable or timeout elapses
// (a zero timeout waits without a deadline), polling at a fine grain so
// Halt-driven cancellation (via the halted callback) stays responsive.
func (w *Workspace) WaitForVariable(name string, timeout time.Duration, halted func() bool) bool {
	w.mu.RLock()
	v, ok := w.byName[name]
	w.mu.RUnlock()
	if !ok {
		return false
	}
	deadline := time.Now().Add(timeout)
	const quantum = 10 * time.Millisecond
	for {
		if v.IsAvailable() {
			return true
		}
		if halted != nil && halted() {
			return false
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		time.Sleep(quantum)
	}
}
