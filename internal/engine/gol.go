package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/config"
	"github.com/talgya/morphosim/internal/population"
	"github.com/talgya/morphosim/internal/space"
)

// GoLModel applies neighbor-count rules in continuous space: agents with too
// few or too many neighbors die, agents with a moderate count hatch a child,
// and every agent takes a random step.
type GoLModel struct {
	Params config.GoLParams
}

// Name returns "gol".
func (m *GoLModel) Name() string { return config.ModelGoL }

func (m *GoLModel) bounds() space.Bounds {
	return space.Extent(m.Params.Size)
}

// Setup spawns the initial agents inside the extent.
func (m *GoLModel) Setup(s *Simulation) error {
	layout, err := agents.ParseLayout(m.Params.Layout)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	sp := agents.NewSpawner(s.RNG)
	return s.Pop.Spawn(sp, agents.SpawnConfig{
		Count:  m.Params.NumToStart,
		Bounds: m.bounds(),
		Radius: m.Params.Radius,
		State:  agents.StateNeutral,
		Layout: layout,
	})
}

// Advance rebuilds the proximity graph, marks deaths and births from the
// fresh neighbor counts, then moves every agent.
func (m *GoLModel) Advance(s *Simulation, step int) (int, error) {
	if err := s.Pop.RebuildNeighbors(m.Params.SearchRadius); err != nil {
		return 0, fmt.Errorf("rebuild neighbors: %w", err)
	}
	m.decide(s)
	m.move(s)
	return 0, nil
}

// HatchPolicy displaces children by hatch_offset in a random direction.
func (m *GoLModel) HatchPolicy(s *Simulation) population.HatchPolicy {
	return hatchPolicy(s.RNG, m.Params.HatchOffset, m.bounds())
}

// decide marks agents from the graph snapshot only, so no decision can see
// another agent's decision.
func (m *GoLModel) decide(s *Simulation) {
	g := s.Pop.Graph()
	store := s.Pop.Store()
	p := m.Params

	dying, hatching := 0, 0
	for i := 0; i < s.Pop.Len(); i++ {
		count := g.Degree(i)
		if count < p.KillBelow || count > p.KillAbove {
			store.MarkRemove(i)
			dying++
		}
		if p.HatchLower < count && count < p.HatchUpper {
			store.MarkHatch(i)
			hatching++
		}
	}
	slog.Debug("gol decisions", "step", s.Current+1, "dying", dying, "hatching", hatching)
}

// move displaces every agent by move_value in a random direction, clamped to
// the extent.
func (m *GoLModel) move(s *Simulation) {
	if m.Params.MoveValue == 0 {
		return
	}
	b := m.bounds()
	planar := b.Planar()
	locs := s.Pop.Store().Locations.Data
	for i := range locs {
		step := s.RNG.UnitVector(planar).Scale(m.Params.MoveValue)
		locs[i] = b.Clamp(locs[i].Add(step))
	}
}
