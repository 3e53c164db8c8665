package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/config"
	"github.com/talgya/morphosim/internal/field"
	"github.com/talgya/morphosim/internal/logging"
	"github.com/talgya/morphosim/internal/population"
	"github.com/talgya/morphosim/internal/space"
)

// RibModel couples agents to a field grid. Agents divide and pick a fate from
// a fixed morphogen gradient, feed pressure and state channels on their patch,
// and are pushed down the pressure gradient until the grid decompresses.
type RibModel struct {
	Params config.RibParams

	morphogen field.Morphogen
	states    []agents.State // Decision-phase scratch
}

// Name returns "rib".
func (m *RibModel) Name() string { return config.ModelRib }

// Setup creates the grid, the morphogen gradient and the initial neutral
// agents in a block near the low-column edge.
func (m *RibModel) Setup(s *Simulation) error {
	p := m.Params
	grid, err := field.NewGrid(p.Rows, p.Cols)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	s.Grid = grid
	s.Solver = &field.Solver{
		Baseline: p.Baseline,
		Pressure: p.Pressure,
		Channels: p.Channels,
		Workers:  s.Params.Workers,
	}
	m.morphogen = field.NewMorphogen(p.Cols, p.ShhTransport, p.ShhIntensityLog)

	n := p.NumToStart()
	scale := math.Sqrt(p.InitSizeMult)
	list := make([]agents.Agent, n)
	for i := range list {
		x := 14*scale*s.RNG.Float() + 2
		y := scale*(14*s.RNG.Float()-7) + 8
		list[i] = agents.Agent{
			Location: space.Vec3{x, y, 0},
			Radius:   p.Radius,
			State:    agents.StateNeutral,
		}
	}
	return s.Pop.Add(list...)
}

// Advance decides fates, updates the field, then runs the movement loop.
func (m *RibModel) Advance(s *Simulation, step int) (int, error) {
	m.decide(s, step)

	locs := s.Pop.Store().Locations.Data
	states := s.Pop.Store().States.Data
	if err := s.Solver.Update(s.Grid, locs, states); err != nil {
		return 0, fmt.Errorf("update field: %w", err)
	}
	return m.settle(s)
}

// HatchPolicy keeps children inside the jiggle clamp box.
func (m *RibModel) HatchPolicy(s *Simulation) population.HatchPolicy {
	return hatchPolicy(s.RNG, m.Params.HatchOffset, m.bounds())
}

// bounds is the box the jiggle clamps agents into.
func (m *RibModel) bounds() space.Bounds {
	rows, cols := float64(m.Params.Rows), float64(m.Params.Cols)
	return space.Bounds{
		Min: space.Vec3{1.5, 0.5, 0},
		Max: space.Vec3{cols - 1.5, rows - 1.5, 0},
	}
}

// decide draws division, fate, death and local fate flips for every agent.
// It reads states and channels from the pre-step snapshot; new states are
// buffered and applied after the whole pass.
func (m *RibModel) decide(s *Simulation, step int) {
	p := m.Params
	g := s.Grid
	store := s.Pop.Store()
	n := s.Pop.Len()

	if cap(m.states) < n {
		m.states = make([]agents.State, n)
	}
	next := m.states[:n]
	copy(next, store.States.Data)

	divide := p.ProlifMult * p.DivideRate
	death := deathChance(p.DeathRate, p.DeathMult, step, s.Params.EndStep)

	dividing, dying, flipped := 0, 0, 0
	for i := 0; i < n; i++ {
		r, c := g.PatchOf(store.Locations.Data[i])
		k := g.Index(r, c)
		state := next[i]

		if s.RNG.Chance(divide) {
			if state == agents.StateNeutral {
				shh := m.morphogen.At(c)
				if s.RNG.Chance(p.PRed * shh) {
					state = agents.StateA
				} else if s.RNG.Chance(p.PBlue * (1 - shh)) {
					state = agents.StateB
				}
			}
			store.MarkHatch(i)
			dividing++
		}

		if s.RNG.Chance(death) {
			store.MarkRemove(i)
			dying++
		}

		if p.LocalFate {
			a, b := g.ChannelA[k], g.ChannelB[k]
			if sum := a + b; sum != 0 {
				if state == agents.StateA && b/sum > p.FateRatio {
					state = agents.StateB
					flipped++
				}
				if state == agents.StateB && a/sum > p.FateRatio {
					state = agents.StateA
					flipped++
				}
			}
		}
		next[i] = state
	}
	copy(store.States.Data, next)

	slog.Debug("rib decisions",
		"step", step,
		"dividing", dividing,
		"dying", dying,
		"flipped", flipped,
		"death_chance", fmt.Sprintf("%.3f", death),
	)
}

// settle repeats movement and field update while the peak pressure exceeds
// the move threshold, up to the iteration cap. Returns the iterations run.
func (m *RibModel) settle(s *Simulation) (int, error) {
	p := m.Params
	iterations := 0
	for s.Grid.MaxPressure() > p.MoveThreshold && iterations < p.MaxMoveIterations {
		m.move(s)
		locs := s.Pop.Store().Locations.Data
		states := s.Pop.Store().States.Data
		if err := s.Solver.Update(s.Grid, locs, states); err != nil {
			return iterations, fmt.Errorf("update field: %w", err)
		}
		iterations++
		slog.Log(context.Background(), logging.LevelTrace, "movement iteration",
			"iteration", iterations,
			"max_pressure", fmt.Sprintf("%.3f", s.Grid.MaxPressure()),
		)
	}
	if iterations == p.MaxMoveIterations && iterations > 0 {
		slog.Debug("movement loop hit its cap",
			"iterations", iterations,
			"max_pressure", fmt.Sprintf("%.3f", s.Grid.MaxPressure()),
		)
	}
	return iterations, nil
}

// move pushes agents on crowded patches away from the pressure peak, then
// jiggles every agent.
func (m *RibModel) move(s *Simulation) {
	g := s.Grid
	locs := s.Pop.Store().Locations.Data
	for i, loc := range locs {
		r, c := g.PatchOf(loc)
		k := g.Index(r, c)
		if g.Pressure[k] <= m.Params.PushThreshold {
			continue
		}
		vx, vy := g.VX[k], g.VY[k]
		dir := space.Vec3{-vy, 0.1 - vx, 0}.Normalize()
		speed := math.Hypot(vx, vy)
		locs[i] = loc.Add(dir.Scale((0.5*s.RNG.Float() + 0.5) * speed))
	}
	m.jiggle(s)
}

// jiggle adds Gaussian noise to every agent, clamps it to the box and
// redraws coordinates that land in the soft edge band from an exponential
// anchored at the band's inner edge.
func (m *RibModel) jiggle(s *Simulation) {
	p := m.Params
	rows, cols := float64(p.Rows), float64(p.Cols)
	locs := s.Pop.Store().Locations.Data
	for i := range locs {
		x := clamp(locs[i][0]+s.RNG.Gauss(0, p.Jiggle), 1.5, cols-1.5)
		y := clamp(locs[i][1]+s.RNG.Gauss(0, p.Jiggle), 0.5, rows-1.5)

		if y > rows-2 {
			y = rows - 2 - s.RNG.Exp(p.BounceY)
		}
		if y < 1 {
			y = 1 + s.RNG.Exp(p.BounceY)
		}
		if x < 2 {
			x = 2 + s.RNG.Exp(p.BounceX)
		}
		if x > cols-2 {
			x = cols - 2 - s.RNG.Exp(p.BounceX)
		}
		locs[i][0], locs[i][1] = x, y
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
