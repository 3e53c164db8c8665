// Package field provides the patch lattice that agents are coupled to:
// pressure, two morphogen-like channels and the velocity derived from
// pressure, plus the relaxation solver that updates them each step.
package field

import (
	"fmt"

	"github.com/talgya/morphosim/internal/space"
)

// Grid is a rows × cols lattice of scalar fields stored row-major.
// Row index follows the Y coordinate, column index the X coordinate.
type Grid struct {
	Rows int
	Cols int

	Pressure []float64 // ≥ 0; source is agent occupancy
	ChannelA []float64 // ≥ 0; source is occupancy by StateA agents
	ChannelB []float64 // ≥ 0; source is occupancy by StateB agents
	VX       []float64 // Centered pressure difference along rows
	VY       []float64 // Centered pressure difference along columns
}

// NewGrid allocates a zeroed grid.
func NewGrid(rows, cols int) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("grid size %dx%d must be positive", rows, cols)
	}
	n := rows * cols
	return &Grid{
		Rows:     rows,
		Cols:     cols,
		Pressure: make([]float64, n),
		ChannelA: make([]float64, n),
		ChannelB: make([]float64, n),
		VX:       make([]float64, n),
		VY:       make([]float64, n),
	}, nil
}

// Index returns the flat offset of cell (r, c).
func (g *Grid) Index(r, c int) int {
	return r*g.Cols + c
}

// PatchOf maps a continuous location to the nearest cell, clamped to the grid.
func (g *Grid) PatchOf(loc space.Vec3) (r, c int) {
	r = clampInt(space.Round(loc[1]), 0, g.Rows-1)
	c = clampInt(space.Round(loc[0]), 0, g.Cols-1)
	return r, c
}

// MaxPressure returns the largest pressure value on the grid.
func (g *Grid) MaxPressure() float64 {
	max := g.Pressure[0]
	for _, p := range g.Pressure[1:] {
		if p > max {
			max = p
		}
	}
	return max
}

// Snapshot is a detached copy of the grid's scalar fields.
type Snapshot struct {
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	Pressure []float64 `json:"pressure"`
	ChannelA []float64 `json:"channel_a"`
	ChannelB []float64 `json:"channel_b"`
	VX       []float64 `json:"vx"`
	VY       []float64 `json:"vy"`
}

// Snapshot copies the current field values.
func (g *Grid) Snapshot() *Snapshot {
	return &Snapshot{
		Rows:     g.Rows,
		Cols:     g.Cols,
		Pressure: append([]float64(nil), g.Pressure...),
		ChannelA: append([]float64(nil), g.ChannelA...),
		ChannelB: append([]float64(nil), g.ChannelB...),
		VX:       append([]float64(nil), g.VX...),
		VY:       append([]float64(nil), g.VY...),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
