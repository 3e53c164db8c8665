// Package engine provides the step orchestrator: the Simulation that sequences
// decisions, movement, field updates and population commits, the two model
// rule sets, and the loop that drives them.
package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Engine drives a simulation forward one step at a time.
type Engine struct {
	Step     int           // Last completed step
	MaxSteps int           // Run stops after this step; 0 runs until Stop
	Interval time.Duration // Minimum wall time per step; 0 runs flat out

	// OnStep advances the simulation to the given step. An error stops the run.
	OnStep func(step int) error
	// Halted reports a terminal state after a step, such as extinction.
	Halted func() bool

	running atomic.Bool
}

// NewEngine creates an engine that runs maxSteps steps with no pacing.
func NewEngine(maxSteps int) *Engine {
	return &Engine{MaxSteps: maxSteps}
}

// Run steps the simulation until MaxSteps is reached, Halted reports true,
// OnStep fails, or Stop is called. Blocks until then.
func (e *Engine) Run() error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "step", e.Step, "max_steps", e.MaxSteps)

	for e.running.Load() {
		if e.MaxSteps > 0 && e.Step >= e.MaxSteps {
			break
		}
		start := time.Now()

		next := e.Step + 1
		if e.OnStep != nil {
			if err := e.OnStep(next); err != nil {
				slog.Info("simulation engine stopped", "step", e.Step, "reason", "error")
				return fmt.Errorf("step %d: %w", next, err)
			}
		}
		e.Step = next

		if e.Halted != nil && e.Halted() {
			slog.Info("simulation halted", "step", e.Step)
			break
		}

		// Sleep for the remainder of the interval.
		if elapsed := time.Since(start); elapsed < e.Interval {
			time.Sleep(e.Interval - elapsed)
		}
	}

	slog.Info("simulation engine stopped", "step", e.Step)
	return nil
}

// Stop halts the loop after the current step completes.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}
