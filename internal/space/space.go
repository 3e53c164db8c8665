// Package space provides continuous coordinates and the axis-aligned
// spatial extent that agents live in.
package space

import (
	"fmt"
	"math"
)

// Vec3 is a point or displacement in continuous space.
// Planar simulations keep Z at zero.
type Vec3 [3]float64

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{v[0] * k, v[1] * k, v[2] * k}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Normalize returns v scaled to unit length. The zero vector is returned unchanged.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// DistSq returns the squared Euclidean distance between a and b.
func DistSq(a, b Vec3) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}

// Bounds is an axis-aligned box [Min, Max] on every axis.
type Bounds struct {
	Min Vec3 `json:"min" yaml:"min"`
	Max Vec3 `json:"max" yaml:"max"`
}

// Extent returns the box [0, size] used by models whose space starts at the origin.
func Extent(size Vec3) Bounds {
	return Bounds{Max: size}
}

// Size returns the edge lengths of the box.
func (b Bounds) Size() Vec3 {
	return Vec3{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Planar reports whether the box is flat along Z.
func (b Bounds) Planar() bool {
	return b.Max[2] == b.Min[2]
}

// Contains returns true if p lies inside the box, edges included.
func (b Bounds) Contains(p Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Clamp moves each coordinate of p onto the nearest boundary if it lies outside.
func (b Bounds) Clamp(p Vec3) Vec3 {
	for i := 0; i < 3; i++ {
		if p[i] > b.Max[i] {
			p[i] = b.Max[i]
		} else if p[i] < b.Min[i] {
			p[i] = b.Min[i]
		}
	}
	return p
}

// String returns a summary of the box.
func (b Bounds) String() string {
	return fmt.Sprintf("Bounds(min=%v, max=%v)", b.Min, b.Max)
}

// Round maps a continuous coordinate to the nearest integer cell index.
func Round(x float64) int {
	return int(math.Floor(x + 0.5))
}
