package oactree

import (
	"context"
	"sync"
	"time"
)

// TreeRunner implements Runner by repeatedly ticking a Procedure's root
// instruction until it reaches a terminal status, sleeping between ticks
// for the procedure's tickTimeout (§4.7). Each tick is bracketed by
// StartSingleStep/EndSingleStep so status updates reported by concurrently
// running AsyncWrapper workers cannot interleave within a step.
type TreeRunner struct {
	mu      sync.Mutex
	running bool
	halted  bool
}

// NewTreeRunner constructs a Runner ready for a single Run call. Runners
// are not reusable across concurrent Run invocations.
func NewTreeRunner() *TreeRunner {
	return &TreeRunner{}
}

// Run ticks proc's root until Success, Failure, ctx cancellation, or Halt.
func (r *TreeRunner) Run(ctx context.Context, proc *Procedure, ui UserInterface) (ExecutionStatus, error) {
	root, err := proc.Root()
	if err != nil {
		return Failure, err
	}

	r.mu.Lock()
	r.running = true
	r.halted = false
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	tickTimeout := proc.TickTimeout()
	ws := proc.Workspace()

	for {
		r.mu.Lock()
		halted := r.halted
		r.mu.Unlock()
		if halted {
			root.Halt()
		}

		if ui != nil {
			ui.StartSingleStep()
		}
		status := root.ExecuteSingle(ui, ws)
		if ui != nil {
			ui.EndSingleStep()
		}

		if status.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			r.Halt()
			root.Halt()
			root.ExecuteSingle(ui, ws)
			return Failure, ctx.Err()
		case <-time.After(tickTimeout):
		}
	}
}

// Halt sets the sticky flag observed at the top of the next tick loop
// iteration and recursively on the tree via Run's own root.Halt call.
func (r *TreeRunner) Halt() {
	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
}
