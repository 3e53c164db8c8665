// Agent spawning: initial populations inside a spatial extent.
package agents

import (
	"fmt"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/space"
)

// Layout selects how initial positions are distributed.
type Layout string

const (
	LayoutUniform   Layout = "uniform"   // Independent uniform draws over the box
	LayoutClustered Layout = "clustered" // Rejection-sampled against simplex noise density
)

// ParseLayout validates a layout name. Empty means uniform.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutUniform:
		return LayoutUniform, nil
	case LayoutClustered:
		return LayoutClustered, nil
	default:
		return "", fmt.Errorf("unknown layout %q (valid: uniform, clustered)", s)
	}
}

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Count  int
	Bounds space.Bounds
	Radius float64
	State  State
	Layout Layout

	// Clustered layout only: base noise frequency in cells per unit length.
	Frequency float64
}

// Spawner creates agents for a simulation.
type Spawner struct {
	rng   *entropy.Source
	noise opensimplex.Noise
}

// NewSpawner creates a spawner drawing from rng. The noise field is seeded
// from the same stream so layouts are reproducible.
func NewSpawner(rng *entropy.Source) *Spawner {
	return &Spawner{
		rng:   rng,
		noise: opensimplex.NewNormalized(rng.Int63()),
	}
}

// Spawn appends cfg.Count agents to the store and returns the first new index.
func (s *Spawner) Spawn(store *Store, cfg SpawnConfig) int {
	return store.AddN(cfg.Count, func(int) Agent {
		return Agent{
			Location: s.position(cfg),
			Radius:   cfg.Radius,
			State:    cfg.State,
		}
	})
}

func (s *Spawner) position(cfg SpawnConfig) space.Vec3 {
	if cfg.Layout != LayoutClustered {
		return s.uniform(cfg.Bounds)
	}
	freq := cfg.Frequency
	if freq <= 0 {
		freq = 0.15
	}
	// Accept a candidate with probability equal to the local noise density.
	// Bounded so a pathological field cannot stall setup.
	for attempt := 0; attempt < 64; attempt++ {
		p := s.uniform(cfg.Bounds)
		density := octaveNoise(s.noise, p[0], p[1], p[2], 3, freq, 0.5)
		if s.rng.Float() < density*density {
			return p
		}
	}
	return s.uniform(cfg.Bounds)
}

func (s *Spawner) uniform(b space.Bounds) space.Vec3 {
	var p space.Vec3
	for i := 0; i < 3; i++ {
		p[i] = b.Min[i] + s.rng.Float()*(b.Max[i]-b.Min[i])
	}
	return p
}

// octaveNoise sums several octaves of normalized simplex noise into [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y, z float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval3(x*frequency, y*frequency, z*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
