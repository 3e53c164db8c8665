package field

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/space"
)

// VelocityEdgeBand is the number of low rows whose X velocity is forced to
// zero. The last row is always excluded as well.
const VelocityEdgeBand = 2

// Relaxation is one diffusion schedule: each sub-iteration applies
// cell ← cell + Gain·avg8(cell) − Decay·cell.
type Relaxation struct {
	Iterations int     `json:"iterations" yaml:"iterations"`
	Gain       float64 `json:"gain" yaml:"gain"`
	Decay      float64 `json:"decay" yaml:"decay"`
}

// Solver runs seed → relax → differentiate over a grid.
type Solver struct {
	Baseline float64    // Channel value before agent sources are added
	Pressure Relaxation // Schedule for the pressure field
	Channels Relaxation // Schedule for both channels
	Workers  int        // Row bands relaxed concurrently; ≤ 1 is serial

	work    []float64 // Padded copy of the field being relaxed
	scratch []float64 // Padded stencil output
}

// DefaultSolver returns the source model's schedule: ten pressure passes with
// matched gain and decay, two channel passes of pure gain, baseline 3.
func DefaultSolver() *Solver {
	return &Solver{
		Baseline: 3,
		Pressure: Relaxation{Iterations: 10, Gain: 0.5, Decay: 0.5},
		Channels: Relaxation{Iterations: 2, Gain: 0.2, Decay: 0},
		Workers:  1,
	}
}

// Update re-seeds the grid from the agents, relaxes it and derives velocity.
func (s *Solver) Update(g *Grid, locations []space.Vec3, states []agents.State) error {
	s.Seed(g, locations, states)
	if err := s.Relax(g); err != nil {
		return fmt.Errorf("relax: %w", err)
	}
	s.Differentiate(g)
	return nil
}

// Seed resets pressure to zero and both channels to the baseline, then adds
// one unit of pressure per agent on its patch and one unit of the channel
// matching its state. Neutral agents feed no channel.
func (s *Solver) Seed(g *Grid, locations []space.Vec3, states []agents.State) {
	clear(g.Pressure)
	for i := range g.ChannelA {
		g.ChannelA[i] = s.Baseline
		g.ChannelB[i] = s.Baseline
	}
	for i, loc := range locations {
		r, c := g.PatchOf(loc)
		k := g.Index(r, c)
		g.Pressure[k]++
		switch states[i] {
		case agents.StateA:
			g.ChannelA[k]++
		case agents.StateB:
			g.ChannelB[k]++
		}
	}
}

// Relax applies the pressure and channel schedules. No clamping is applied
// afterwards.
func (s *Solver) Relax(g *Grid) error {
	if err := s.relax(g, g.Pressure, s.Pressure); err != nil {
		return err
	}
	if err := s.relax(g, g.ChannelA, s.Channels); err != nil {
		return err
	}
	return s.relax(g, g.ChannelB, s.Channels)
}

// Differentiate sets VX and VY to centered differences of pressure. VX is zero
// on the low edge band and the last row; VY is zero on the first and last
// columns.
func (s *Solver) Differentiate(g *Grid) {
	p := g.Pressure
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			k := g.Index(r, c)
			if r < VelocityEdgeBand || r == g.Rows-1 {
				g.VX[k] = 0
			} else {
				g.VX[k] = (p[g.Index(r+1, c)] - p[g.Index(r-1, c)]) / 2
			}
			if c == 0 || c == g.Cols-1 {
				g.VY[k] = 0
			} else {
				g.VY[k] = (p[g.Index(r, c+1)] - p[g.Index(r, c-1)]) / 2
			}
		}
	}
}

// relax runs one schedule on a single field through a padded work buffer
// whose ghost border is re-mirrored before every sub-iteration.
func (s *Solver) relax(g *Grid, field []float64, sched Relaxation) error {
	if sched.Iterations <= 0 {
		return nil
	}
	pr, pc := g.Rows+2, g.Cols+2
	if len(s.work) != pr*pc {
		s.work = make([]float64, pr*pc)
		s.scratch = make([]float64, pr*pc)
	}
	clear(s.work)
	for r := 0; r < g.Rows; r++ {
		copy(s.work[(r+1)*pc+1:(r+1)*pc+1+g.Cols], field[r*g.Cols:(r+1)*g.Cols])
	}

	for it := 0; it < sched.Iterations; it++ {
		mirror(s.work, pr, pc)
		if err := s.forBands(g.Rows, func(lo, hi int) {
			stencil(s.work, s.scratch, pc, lo, hi)
		}); err != nil {
			return err
		}
		if err := s.forBands(g.Rows, func(lo, hi int) {
			for r := lo; r < hi; r++ {
				for c := 1; c <= g.Cols; c++ {
					k := r*pc + c
					s.work[k] += sched.Gain*s.scratch[k] - sched.Decay*s.work[k]
				}
			}
		}); err != nil {
			return err
		}
	}

	for r := 0; r < g.Rows; r++ {
		copy(field[r*g.Cols:(r+1)*g.Cols], s.work[(r+1)*pc+1:(r+1)*pc+1+g.Cols])
	}
	return nil
}

// forBands calls fn over padded interior rows [1, rows] split into bands, one
// goroutine per band, and waits for all of them.
func (s *Solver) forBands(rows int, fn func(lo, hi int)) error {
	workers := s.Workers
	if workers <= 1 || rows < 2*workers {
		fn(1, rows+1)
		return nil
	}
	var eg errgroup.Group
	band := (rows + workers - 1) / workers
	for lo := 1; lo <= rows; lo += band {
		lo, hi := lo, min(lo+band, rows+1)
		eg.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	return eg.Wait()
}

// mirror copies the first and last interior rows onto the ghost rows, then
// the first and last interior columns (ghost rows included) onto the ghost
// columns.
func mirror(buf []float64, pr, pc int) {
	copy(buf[0:pc], buf[pc:2*pc])
	copy(buf[(pr-1)*pc:pr*pc], buf[(pr-2)*pc:(pr-1)*pc])
	for r := 0; r < pr; r++ {
		buf[r*pc] = buf[r*pc+1]
		buf[r*pc+pc-1] = buf[r*pc+pc-2]
	}
}

// stencil writes the mean of the 8 neighbors of every interior cell in padded
// rows [lo, hi) into out. It only reads in.
func stencil(in, out []float64, pc, lo, hi int) {
	for r := lo; r < hi; r++ {
		up, mid, down := (r-1)*pc, r*pc, (r+1)*pc
		for c := 1; c < pc-1; c++ {
			out[mid+c] = 0.125 * (in[up+c-1] + in[up+c] + in[up+c+1] +
				in[mid+c-1] + in[mid+c+1] +
				in[down+c-1] + in[down+c] + in[down+c+1])
		}
	}
}
