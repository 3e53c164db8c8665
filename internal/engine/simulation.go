// Simulation ties the population, the field and a model's rules together and
// runs them each step.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/config"
	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/field"
	"github.com/talgya/morphosim/internal/population"
	"github.com/talgya/morphosim/internal/space"
)

// Model is one set of step rules.
type Model interface {
	Name() string

	// Setup creates the initial population and any field state.
	Setup(s *Simulation) error

	// Advance runs the decision and movement phases of a step, leaving hatch
	// and removal marks for the commit. Returns the number of movement
	// iterations performed.
	Advance(s *Simulation, step int) (int, error)

	// HatchPolicy shapes the children of the commit that follows Advance.
	HatchPolicy(s *Simulation) population.HatchPolicy
}

// Simulation holds the complete state of a run. Step holds the write lock for
// the whole step so readers never observe a half-applied commit.
type Simulation struct {
	mu sync.RWMutex

	Params   *config.Params
	RNG      *entropy.Source
	Pop      *population.Population
	Grid     *field.Grid   // Nil for models without a field
	Solver   *field.Solver // Nil for models without a field
	Model    Model
	Recorder Recorder

	Current int // Most recently completed step; 0 after setup
	Stats   SimStats
}

// SimStats tracks per-step and cumulative population statistics.
type SimStats struct {
	Population     int     `json:"population"`
	Hatched        int     `json:"hatched"`
	Removed        int     `json:"removed"`
	MoveIterations int     `json:"move_iterations"`
	MaxPressure    float64 `json:"max_pressure"`
	TotalHatched   int     `json:"total_hatched"`
	TotalRemoved   int     `json:"total_removed"`
}

// NewModel returns the rules named by params.Model.
func NewModel(params *config.Params) (Model, error) {
	switch params.Model {
	case config.ModelGoL:
		return &GoLModel{Params: params.GoL}, nil
	case config.ModelRib:
		return &RibModel{Params: params.Rib}, nil
	default:
		return nil, fmt.Errorf("%w: unknown model %q", config.ErrInvalid, params.Model)
	}
}

// Setup validates params, builds the initial state and records step 0.
// A nil recorder discards frames.
func Setup(params *config.Params, rng *entropy.Source, rec Recorder) (*Simulation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	model, err := NewModel(params)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Discard{}
	}

	s := &Simulation{
		Params:   params,
		RNG:      rng,
		Pop:      population.New(),
		Model:    model,
		Recorder: rec,
	}
	if err := model.Setup(s); err != nil {
		return nil, fmt.Errorf("setup %s: %w", model.Name(), err)
	}
	s.Stats.Population = s.Pop.Len()

	slog.Info("simulation ready",
		"model", model.Name(),
		"seed", rng.Seed(),
		"agents", s.Pop.Len(),
	)
	if err := s.record(); err != nil {
		return nil, err
	}
	return s, nil
}

// Step advances the simulation by one step: model decisions and movement,
// then the population commit, then recording. A misalignment error aborts
// the step.
func (s *Simulation) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.Current + 1
	if err := s.Pop.Verify(); err != nil {
		return fmt.Errorf("step %d: %w", step, err)
	}
	moves, err := s.Model.Advance(s, step)
	if err != nil {
		return fmt.Errorf("advance step %d: %w", step, err)
	}

	delta, err := s.Pop.Commit(s.Model.HatchPolicy(s))
	if err != nil {
		return fmt.Errorf("commit step %d: %w", step, err)
	}

	s.Current = step
	s.Stats.Population = s.Pop.Len()
	s.Stats.Hatched = len(delta.Hatched)
	s.Stats.Removed = len(delta.Removed)
	s.Stats.MoveIterations = moves
	s.Stats.TotalHatched += len(delta.Hatched)
	s.Stats.TotalRemoved += len(delta.Removed)
	if s.Grid != nil {
		s.Stats.MaxPressure = s.Grid.MaxPressure()
	}

	slog.Info("step report",
		"step", step,
		"alive", s.Stats.Population,
		"hatched", s.Stats.Hatched,
		"removed", s.Stats.Removed,
		"move_iterations", moves,
		"max_pressure", fmt.Sprintf("%.3f", s.Stats.MaxPressure),
	)
	return s.record()
}

// Extinct reports whether the population has died out.
func (s *Simulation) Extinct() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Pop.Extinct()
}

// CurrentStep returns the most recently completed step.
func (s *Simulation) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Current
}

// Snapshot is a consistent copy of the simulation state for readers.
type Snapshot struct {
	Model     string          `json:"model"`
	Step      int             `json:"step"`
	Seed      int64           `json:"seed"`
	Extinct   bool            `json:"extinct"`
	Stats     SimStats        `json:"stats"`
	Locations []space.Vec3    `json:"locations"`
	Radii     []float64       `json:"radii"`
	States    []agents.State  `json:"states"`
	Field     *field.Snapshot `json:"field,omitempty"`
}

// Snapshot copies the current state under the read lock.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locs, radii, states := s.Pop.Store().Snapshot()
	snap := Snapshot{
		Model:     s.Model.Name(),
		Step:      s.Current,
		Seed:      s.RNG.Seed(),
		Extinct:   s.Pop.Extinct(),
		Stats:     s.Stats,
		Locations: locs,
		Radii:     radii,
		States:    states,
	}
	if s.Grid != nil {
		snap.Field = s.Grid.Snapshot()
	}
	return snap
}

// record hands the current state to the recorder.
func (s *Simulation) record() error {
	locs, radii, states := s.Pop.Store().Snapshot()
	f := Frame{
		Step:           s.Current,
		Model:          s.Model.Name(),
		Count:          s.Pop.Len(),
		Hatched:        s.Stats.Hatched,
		Removed:        s.Stats.Removed,
		MoveIterations: s.Stats.MoveIterations,
		MaxPressure:    s.Stats.MaxPressure,
		Locations:      locs,
		Radii:          radii,
		States:         states,
	}
	if s.Grid != nil {
		f.Field = s.Grid.Snapshot()
	}
	if err := s.Recorder.Record(f); err != nil {
		return fmt.Errorf("record step %d: %w", s.Current, err)
	}
	return nil
}
