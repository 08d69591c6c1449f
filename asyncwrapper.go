package oactree

import (
	"sync"
	"time"
)

// AsyncWrapper runs a single, unowned child instruction to completion on
// its own worker goroutine (§4.6). The first Tick call starts the worker;
// subsequent Tick calls are idempotent. Destruction and Reset join the
// worker before returning, and Halt propagates to the child so the worker
// exits promptly. At most one worker goroutine is ever live per wrapper.
type AsyncWrapper struct {
	child   Instruction
	quantum time.Duration

	mu      sync.Mutex
	started bool
	halted  bool
	done    chan struct{}
}

// NewAsyncWrapper wraps child, polling its ExecuteSingle loop at the given
// quantum (the procedure's timingAccuracy) when the child itself blocks.
func NewAsyncWrapper(child Instruction, quantum time.Duration) *AsyncWrapper {
	return &AsyncWrapper{child: child, quantum: quantum}
}

// Tick starts the worker on first call; every call returns the child's
// current status without blocking.
func (a *AsyncWrapper) Tick(ui UserInterface, ws *Workspace) ExecutionStatus {
	a.mu.Lock()
	if !a.started {
		a.started = true
		a.halted = false
		a.done = make(chan struct{})
		go a.run(ui, ws, a.done)
	}
	a.mu.Unlock()
	return a.child.Status()
}

func (a *AsyncWrapper) run(ui UserInterface, ws *Workspace, done chan struct{}) {
	defer close(done)
	for {
		status := a.child.ExecuteSingle(ui, ws)
		if status.IsTerminal() {
			return
		}
		a.mu.Lock()
		halted := a.halted
		a.mu.Unlock()
		if halted {
			return
		}
		time.Sleep(a.quantum)
	}
}

// GetStatus returns the child's current status.
func (a *AsyncWrapper) GetStatus() ExecutionStatus {
	return a.child.Status()
}

// Halt propagates a cooperative interrupt to the child; the worker observes
// it on its next quantum and exits.
func (a *AsyncWrapper) Halt() {
	a.mu.Lock()
	a.halted = true
	a.mu.Unlock()
	a.child.Halt()
}

// Reset joins the worker (if one is running) before resetting the child and
// re-arming the wrapper for another activation.
func (a *AsyncWrapper) Reset() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
	a.mu.Lock()
	a.started = false
	a.halted = false
	a.done = nil
	a.mu.Unlock()
	a.child.Reset()
}
