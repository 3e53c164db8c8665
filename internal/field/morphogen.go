package field

import "math"

// Column offsets of the source gradient: column i is evaluated at i+8 and the
// curve is normalized to its value at 10.
const (
	gradientOffset    = 8.0
	gradientReference = 10.0
)

// Morphogen is a fixed per-column concentration profile that decays with
// distance from the low-column edge of the grid.
type Morphogen struct {
	Peak   float64   // e^intensityLog
	Values []float64 // One value per column
}

// NewMorphogen computes Peak·e^(−((i+8)/transport)²) / e^(−(10/transport)²)
// for every column i.
func NewMorphogen(cols int, transport, intensityLog float64) Morphogen {
	peak := math.Exp(intensityLog)
	norm := math.Exp(-math.Pow(gradientReference/transport, 2))
	values := make([]float64, cols)
	for i := range values {
		values[i] = peak * math.Exp(-math.Pow((float64(i)+gradientOffset)/transport, 2)) / norm
	}
	return Morphogen{Peak: peak, Values: values}
}

// At returns the concentration at column c.
func (m Morphogen) At(c int) float64 {
	return m.Values[c]
}
