// Package entropy provides the seedable random source behind every stochastic
// decision in a run: uniform, Gaussian and exponential deviates plus random
// unit vectors. A fixed seed reproduces a run exactly.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"math"
	mrand "math/rand"

	"github.com/talgya/morphosim/internal/space"
)

// Source is a deterministic pseudo-random stream. Not safe for concurrent use.
type Source struct {
	seed int64
	rng  *mrand.Rand
}

// NewSource creates a stream from seed. A zero seed draws one from crypto/rand
// so that unseeded runs still differ from each other; Seed() reports it.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
		slog.Debug("random seed drawn from crypto/rand", "seed", seed)
	}
	return &Source{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was created from.
func (s *Source) Seed() int64 {
	return s.seed
}

// Float returns a uniform deviate in [0, 1).
func (s *Source) Float() float64 {
	return s.rng.Float64()
}

// Uniform returns a uniform deviate in [lo, hi).
func (s *Source) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// Chance returns true with probability p.
func (s *Source) Chance(p float64) bool {
	return s.rng.Float64() < p
}

// Gauss returns a normal deviate with mean mu and standard deviation sigma.
func (s *Source) Gauss(mu, sigma float64) float64 {
	return mu + sigma*s.rng.NormFloat64()
}

// Exp returns an exponential deviate with the given rate (mean 1/rate).
func (s *Source) Exp(rate float64) float64 {
	return s.rng.ExpFloat64() / rate
}

// Int63 returns a non-negative pseudo-random 63-bit integer, used to derive
// seeds for secondary generators.
func (s *Source) Int63() int64 {
	return s.rng.Int63()
}

// UnitVector returns a random direction of length 1. When planar is true the
// direction lies in the XY plane.
func (s *Source) UnitVector(planar bool) space.Vec3 {
	theta := 2 * math.Pi * s.rng.Float64()
	if planar {
		return space.Vec3{math.Cos(theta), math.Sin(theta), 0}
	}
	// Uniform on the sphere: z uniform in [-1, 1].
	z := 2*s.rng.Float64() - 1
	r := math.Sqrt(1 - z*z)
	return space.Vec3{r * math.Cos(theta), r * math.Sin(theta), z}
}

// CryptoSeed returns a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen but fall back to a fixed seed.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
