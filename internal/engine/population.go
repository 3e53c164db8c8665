// Population dynamics shared by the models: birth displacement and
// time-dependent death.
package engine

import (
	"math"

	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/population"
	"github.com/talgya/morphosim/internal/space"
)

// hatchPolicy places children offset·unit-vector away from their parent and
// clamps them into bounds. A zero offset copies the parent's location.
func hatchPolicy(rng *entropy.Source, offset float64, bounds space.Bounds) population.HatchPolicy {
	policy := population.HatchPolicy{Bounds: bounds}
	if offset > 0 {
		planar := bounds.Planar()
		policy.Offset = func() space.Vec3 {
			return rng.UnitVector(planar).Scale(offset)
		}
	}
	return policy
}

// deathChance returns rate·mult·e^((step/end)²). The hazard grows as the run
// approaches its last step.
func deathChance(rate, mult float64, step, end int) float64 {
	t := float64(step) / float64(end)
	return rate * mult * math.Exp(t*t)
}
