package engine

import (
	"errors"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/field"
	"github.com/talgya/morphosim/internal/space"
)

// Frame is everything recorded about one completed step. Slices are copies
// owned by the frame.
type Frame struct {
	Step           int
	Model          string
	Count          int
	Hatched        int
	Removed        int
	MoveIterations int
	MaxPressure    float64

	Locations []space.Vec3
	Radii     []float64
	States    []agents.State

	// Field is nil for models without a field grid.
	Field *field.Snapshot
}

// Recorder receives one frame per step, including step 0 after setup.
type Recorder interface {
	Record(f Frame) error
	Close() error
}

// MultiRecorder fans frames out to several recorders.
type MultiRecorder []Recorder

// Record passes f to every recorder and joins their errors.
func (m MultiRecorder) Record(f Frame) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every recorder and joins their errors.
func (m MultiRecorder) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a recorder that drops every frame.
type Discard struct{}

func (Discard) Record(Frame) error { return nil }
func (Discard) Close() error       { return nil }
