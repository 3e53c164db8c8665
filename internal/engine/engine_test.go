package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/config"
	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/population"
	"github.com/talgya/morphosim/internal/space"
)

// memRecorder keeps every frame in memory.
type memRecorder struct {
	frames []Frame
	err    error
	closed bool
}

func (r *memRecorder) Record(f Frame) error {
	r.frames = append(r.frames, f)
	return r.err
}

func (r *memRecorder) Close() error {
	r.closed = true
	return nil
}

func golParams() *config.Params {
	p := config.Default()
	p.Model = config.ModelGoL
	p.Seed = 11
	p.EndStep = 10
	p.GoL.NumToStart = 0
	p.GoL.Size = space.Vec3{50, 50, 0}
	p.GoL.SearchRadius = 2
	p.GoL.KillBelow = 1
	p.GoL.KillAbove = 4
	p.GoL.HatchLower = 1
	p.GoL.HatchUpper = 3
	p.GoL.MoveValue = 0
	return p
}

func ribParams() *config.Params {
	p := config.Default()
	p.Model = config.ModelRib
	p.Seed = 5
	p.EndStep = 20
	return p
}

func mustSetup(t *testing.T, p *config.Params, rec Recorder) *Simulation {
	t.Helper()
	s, err := Setup(p, entropy.NewSource(p.Seed), rec)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return s
}

func assertAligned(t *testing.T, s *Simulation) {
	t.Helper()
	if err := s.Pop.Verify(); err != nil {
		t.Fatalf("population misaligned: %v", err)
	}
}

func TestGoLIsolatedAgentsDie(t *testing.T) {
	s := mustSetup(t, golParams(), nil)

	at := func(x, y float64) agents.Agent {
		return agents.Agent{Location: space.Vec3{x, y, 0}, Radius: 0.5}
	}
	list := []agents.Agent{
		// Cluster: every member sees the other four.
		at(10, 10), at(11, 10), at(10, 11), at(11, 11), at(10.5, 10.5),
		// Pair: one neighbor each.
		at(20, 20), at(21, 20),
		// Isolated.
		at(30, 30), at(40, 40), at(5, 40),
	}
	if err := s.Pop.Add(list...); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	assertAligned(t, s)

	if s.Pop.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", s.Pop.Len())
	}
	if s.Stats.Removed != 3 || s.Stats.Hatched != 0 {
		t.Errorf("removed=%d hatched=%d, want 3 and 0", s.Stats.Removed, s.Stats.Hatched)
	}
	for i, loc := range s.Pop.Store().Locations.Data {
		if loc[0] >= 30 || (loc[0] == 5 && loc[1] == 40) {
			t.Errorf("isolated agent survived at row %d: %v", i, loc)
		}
	}
}

func TestGoLHatchBand(t *testing.T) {
	p := golParams()
	p.GoL.KillBelow = 0
	p.GoL.KillAbove = 10
	p.GoL.HatchLower = 0
	p.GoL.HatchUpper = 2
	s := mustSetup(t, p, nil)

	// Two agents one unit apart: each has exactly one neighbor.
	if err := s.Pop.Add(
		agents.Agent{Location: space.Vec3{25, 25, 0}, Radius: 0.5},
		agents.Agent{Location: space.Vec3{26, 25, 0}, Radius: 0.5},
		agents.Agent{Location: space.Vec3{1, 1, 0}, Radius: 0.5},
	); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	assertAligned(t, s)

	if s.Pop.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", s.Pop.Len())
	}
	bounds := space.Extent(p.GoL.Size)
	for i := 3; i < 5; i++ {
		child := s.Pop.Store().Locations.Data[i]
		parent := s.Pop.Store().Locations.Data[i-3]
		if d := space.DistSq(child, parent); d > 1+1e-9 {
			t.Errorf("child %d is %f from its parent, want at most 1", i, d)
		}
		if !bounds.Contains(child) {
			t.Errorf("child %d at %v outside %v", i, child, bounds)
		}
	}
}

func TestRibMovementLoopSkippedBelowThreshold(t *testing.T) {
	p := ribParams()
	p.Rib.InitSizeMult = 0
	p.Rib.DivideRate = 0
	p.Rib.DeathMult = 0
	p.Rib.LocalFate = false
	p.Rib.Pressure.Iterations = 0
	p.Rib.Channels.Iterations = 0
	s := mustSetup(t, p, nil)

	// Five agents on one patch: peak pressure 5 against a threshold of 6.
	for i := 0; i < 5; i++ {
		if err := s.Pop.Add(agents.Agent{Location: space.Vec3{10, 8, 0}, Radius: 0.25}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	before := append([]space.Vec3(nil), s.Pop.Store().Locations.Data...)

	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if got := s.Grid.MaxPressure(); got != 5 {
		t.Fatalf("MaxPressure() = %f, want 5", got)
	}
	if s.Stats.MoveIterations != 0 {
		t.Errorf("MoveIterations = %d, want 0", s.Stats.MoveIterations)
	}
	if !reflect.DeepEqual(before, s.Pop.Store().Locations.Data) {
		t.Error("agents moved although the loop should not have run")
	}
}

func TestRibMovementLoopRelievesPressure(t *testing.T) {
	p := ribParams()
	p.Rib.InitSizeMult = 0
	p.Rib.DivideRate = 0
	p.Rib.DeathMult = 0
	s := mustSetup(t, p, nil)

	for i := 0; i < 200; i++ {
		if err := s.Pop.Add(agents.Agent{Location: space.Vec3{30, 8, 0}, Radius: 0.25}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	moves := s.Stats.MoveIterations
	if moves < 1 || moves > p.Rib.MaxMoveIterations {
		t.Fatalf("MoveIterations = %d, want within [1, %d]", moves, p.Rib.MaxMoveIterations)
	}
	if moves < p.Rib.MaxMoveIterations && s.Grid.MaxPressure() > p.Rib.MoveThreshold {
		t.Errorf("loop stopped early with max pressure %f", s.Grid.MaxPressure())
	}
	rows, cols := float64(p.Rib.Rows), float64(p.Rib.Cols)
	for i, loc := range s.Pop.Store().Locations.Data {
		if loc[0] < 0 || loc[0] > cols || loc[1] < 0 || loc[1] > rows {
			t.Fatalf("agent %d left the grid: %v", i, loc)
		}
	}
}

func TestRibFateFromMorphogen(t *testing.T) {
	p := ribParams()
	p.Rib.DivideRate = 1
	p.Rib.LocalFate = false
	s := mustSetup(t, p, nil)
	n := s.Pop.Len()

	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	assertAligned(t, s)

	// Every agent divided once and the children copy their parent's new state.
	if s.Pop.Len() != 2*n {
		t.Fatalf("Len() = %d, want %d", s.Pop.Len(), 2*n)
	}
	states := s.Pop.Store().States.Data
	decided := 0
	for i := 0; i < n; i++ {
		if states[n+i] != states[i] {
			t.Fatalf("child %d state %v differs from parent %v", n+i, states[n+i], states[i])
		}
		if states[i] != agents.StateNeutral {
			decided++
		}
	}
	if decided == 0 {
		t.Error("no agent acquired a fate")
	}
}

func TestExtinctionIsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		params func() *config.Params
	}{
		{"gol", func() *config.Params {
			p := golParams()
			p.GoL.NumToStart = 30
			p.GoL.KillBelow = 100
			p.GoL.KillAbove = 200
			p.GoL.HatchLower = 100
			p.GoL.HatchUpper = 200
			return p
		}},
		{"rib", func() *config.Params {
			p := ribParams()
			p.Rib.DivideRate = 0
			p.Rib.DeathRate = 1
			p.Rib.DeathMult = 1
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSetup(t, tt.params(), nil)
			if s.Extinct() {
				t.Fatal("population extinct before the first step")
			}
			for i := 0; i < 3; i++ {
				if err := s.Step(); err != nil {
					t.Fatalf("Step() error = %v", err)
				}
				if !s.Extinct() || s.Pop.Len() != 0 {
					t.Fatalf("step %d: Len() = %d, want 0", i+1, s.Pop.Len())
				}
				assertAligned(t, s)
			}
			if s.Grid == nil {
				return
			}
			for k := range s.Grid.Pressure {
				if s.Grid.Pressure[k] != 0 {
					t.Fatalf("pressure[%d] = %f after extinction", k, s.Grid.Pressure[k])
				}
				if s.Grid.ChannelA[k] != s.Grid.ChannelA[0] || s.Grid.ChannelB[k] != s.Grid.ChannelA[0] {
					t.Fatalf("channels not uniform at %d after extinction", k)
				}
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	tests := []struct {
		name   string
		params func() *config.Params
	}{
		{"gol uniform", func() *config.Params {
			p := golParams()
			p.GoL.NumToStart = 120
			p.GoL.SearchRadius = 6
			p.GoL.KillAbove = 6
			p.GoL.HatchUpper = 4
			p.GoL.MoveValue = 1
			return p
		}},
		{"gol clustered 3d", func() *config.Params {
			p := golParams()
			p.GoL.NumToStart = 80
			p.GoL.Size = space.Vec3{20, 20, 20}
			p.GoL.Layout = "clustered"
			p.GoL.MoveValue = 0.5
			return p
		}},
		{"rib", ribParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustSetup(t, tt.params(), nil)
			b := mustSetup(t, tt.params(), nil)
			for i := 0; i < 5; i++ {
				if err := a.Step(); err != nil {
					t.Fatalf("run a step %d: %v", i+1, err)
				}
				if err := b.Step(); err != nil {
					t.Fatalf("run b step %d: %v", i+1, err)
				}
				sa, sb := a.Snapshot(), b.Snapshot()
				if sa.Stats.Population != sb.Stats.Population {
					t.Fatalf("step %d: populations %d vs %d", i+1, sa.Stats.Population, sb.Stats.Population)
				}
				if !reflect.DeepEqual(sa.Locations, sb.Locations) || !reflect.DeepEqual(sa.States, sb.States) {
					t.Fatalf("step %d: runs diverged", i+1)
				}
				assertAligned(t, a)
			}
		})
	}
}

func TestRibParallelRelaxMatchesSerial(t *testing.T) {
	serial := ribParams()
	parallel := ribParams()
	parallel.Workers = 4

	a := mustSetup(t, serial, nil)
	b := mustSetup(t, parallel, nil)
	for i := 0; i < 3; i++ {
		if err := a.Step(); err != nil {
			t.Fatalf("serial step: %v", err)
		}
		if err := b.Step(); err != nil {
			t.Fatalf("parallel step: %v", err)
		}
	}
	if !reflect.DeepEqual(a.Snapshot().Locations, b.Snapshot().Locations) {
		t.Error("parallel relaxation changed the trajectory")
	}
	if !reflect.DeepEqual(a.Grid.Pressure, b.Grid.Pressure) {
		t.Error("parallel relaxation changed the pressure field")
	}
}

func TestRecorderReceivesEveryStep(t *testing.T) {
	rec := &memRecorder{}
	p := ribParams()
	s := mustSetup(t, p, rec)
	for i := 0; i < 3; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	if len(rec.frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(rec.frames))
	}
	for i, f := range rec.frames {
		if f.Step != i {
			t.Errorf("frame %d has step %d", i, f.Step)
		}
		if f.Count != len(f.Locations) || f.Count != len(f.States) || f.Count != len(f.Radii) {
			t.Errorf("frame %d: count %d with %d/%d/%d columns", i, f.Count,
				len(f.Locations), len(f.States), len(f.Radii))
		}
		if f.Field == nil || f.Field.Rows != p.Rib.Rows {
			t.Errorf("frame %d: missing field snapshot", i)
		}
		if f.Model != config.ModelRib {
			t.Errorf("frame %d: model %q", i, f.Model)
		}
	}
	// Frames are detached from the live store.
	rec.frames[0].Locations[0] = space.Vec3{-1, -1, -1}
	if s.Pop.Store().Locations.Data[0] == (space.Vec3{-1, -1, -1}) {
		t.Error("frame aliases the store")
	}
}

func TestRecorderErrorFailsStep(t *testing.T) {
	rec := &memRecorder{}
	s := mustSetup(t, ribParams(), rec)
	rec.err = errors.New("disk full")
	if err := s.Step(); err == nil {
		t.Fatal("Step() should surface the recorder error")
	}
}

func TestMultiRecorder(t *testing.T) {
	a, b := &memRecorder{}, &memRecorder{err: errors.New("boom")}
	m := MultiRecorder{a, b}
	err := m.Record(Frame{Step: 1})
	if err == nil || err.Error() != "boom" {
		t.Errorf("Record() error = %v, want boom", err)
	}
	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Error("every recorder should see the frame")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("every recorder should be closed")
	}
}

func TestSetupRejectsInvalidParams(t *testing.T) {
	p := config.Default()
	p.Model = "boids"
	_, err := Setup(p, entropy.NewSource(1), nil)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("Setup() error = %v, want ErrInvalid", err)
	}
}

func TestStepAbortsOnMisalignment(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(s *Simulation)
	}{
		{"store grew", func(s *Simulation) {
			s.Pop.Store().Add(agents.Agent{Location: space.Vec3{5, 5, 0}})
		}},
		{"store shrank", func(s *Simulation) {
			if err := s.Pop.Store().Remove([]int{0}); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSetup(t, ribParams(), nil)
			if err := s.Step(); err != nil {
				t.Fatalf("Step() error = %v", err)
			}
			tt.mangle(s)

			locs, _, states := s.Pop.Store().Snapshot()
			grid := s.Grid.Snapshot()

			err := s.Step()
			if !errors.Is(err, population.ErrMisaligned) {
				t.Fatalf("Step() error = %v, want ErrMisaligned", err)
			}
			if s.CurrentStep() != 1 {
				t.Errorf("CurrentStep() = %d, want 1 after an aborted step", s.CurrentStep())
			}

			gotLocs, _, gotStates := s.Pop.Store().Snapshot()
			if !reflect.DeepEqual(gotLocs, locs) || !reflect.DeepEqual(gotStates, states) {
				t.Error("aborted step changed agent columns")
			}
			if hatch, remove := s.Pop.Store().Marked(); len(hatch) != 0 || len(remove) != 0 {
				t.Errorf("aborted step left %d hatch and %d remove marks", len(hatch), len(remove))
			}
			if !reflect.DeepEqual(s.Grid.Snapshot(), grid) {
				t.Error("aborted step changed the field grid")
			}
		})
	}
}

func TestDeathChance(t *testing.T) {
	if got := deathChance(0.05, 0, 10, 10); got != 0 {
		t.Errorf("deathChance with zero multiplier = %f, want 0", got)
	}
	early := deathChance(0.05, 1, 1, 100)
	late := deathChance(0.05, 1, 100, 100)
	if early >= late {
		t.Errorf("death chance should grow over the run: %f >= %f", early, late)
	}
}

func TestEngineRun(t *testing.T) {
	tests := []struct {
		name     string
		maxSteps int
		haltAt   int
		failAt   int
		wantStep int
		wantErr  bool
	}{
		{"runs to max steps", 5, 0, 0, 5, false},
		{"halts early", 10, 3, 0, 3, false},
		{"stops on error", 10, 0, 4, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.maxSteps)
			var seen []int
			e.OnStep = func(step int) error {
				if step == tt.failAt {
					return errors.New("step failed")
				}
				seen = append(seen, step)
				return nil
			}
			e.Halted = func() bool { return tt.haltAt > 0 && e.Step >= tt.haltAt }

			err := e.Run()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if e.Step != tt.wantStep {
				t.Errorf("Step = %d, want %d", e.Step, tt.wantStep)
			}
			for i, s := range seen {
				if s != i+1 {
					t.Fatalf("steps out of order: %v", seen)
				}
			}
			if e.Running() {
				t.Error("engine still reports running")
			}
		})
	}
}

func TestEngineStop(t *testing.T) {
	e := NewEngine(0)
	e.OnStep = func(step int) error {
		if step == 2 {
			e.Stop()
		}
		return nil
	}
	if err := e.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if e.Step != 2 {
		t.Errorf("Step = %d, want 2", e.Step)
	}
}
