package graph

import (
	"testing"

	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/space"
)

func randomPositions(seed int64, n int, size float64, planar bool) []space.Vec3 {
	rng := entropy.NewSource(seed)
	out := make([]space.Vec3, n)
	for i := range out {
		out[i] = space.Vec3{rng.Float() * size, rng.Float() * size, 0}
		if !planar {
			out[i][2] = rng.Float() * size
		}
	}
	return out
}

func TestBuildMatchesBruteForce(t *testing.T) {
	tests := []struct {
		name   string
		seed   int64
		n      int
		radius float64
		planar bool
	}{
		{"planar small radius", 1, 80, 1.5, true},
		{"spatial", 2, 120, 2, false},
		{"radius larger than extent", 3, 30, 50, false},
		{"zero radius", 4, 20, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := randomPositions(tt.seed, tt.n, 10, tt.planar)
			g := New(tt.n)
			if err := g.Build(pos, tt.radius); err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			for i := 0; i < tt.n; i++ {
				want := 0
				for j := 0; j < tt.n; j++ {
					if i == j {
						continue
					}
					adjacent := space.DistSq(pos[i], pos[j]) <= tt.radius*tt.radius
					if adjacent {
						want++
					}
					if g.HasEdge(i, j) != adjacent {
						t.Fatalf("HasEdge(%d, %d) = %v, want %v", i, j, !adjacent, adjacent)
					}
				}
				if g.Degree(i) != want {
					t.Errorf("Degree(%d) = %d, want %d", i, g.Degree(i), want)
				}
			}
		})
	}
}

func TestBuildSymmetricAndLoopFree(t *testing.T) {
	pos := randomPositions(9, 200, 8, false)
	g := New(len(pos))
	if err := g.Build(pos, 1.2); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := 0; i < g.VertexCount(); i++ {
		for _, j := range g.Neighbors(i) {
			if j == i {
				t.Fatalf("self-loop at %d", i)
			}
			if !g.HasEdge(j, i) {
				t.Fatalf("edge %d-%d not symmetric", i, j)
			}
		}
	}
}

func TestBuildInclusiveRadius(t *testing.T) {
	pos := []space.Vec3{{0, 0, 0}, {2, 0, 0}, {4.0001, 0, 0}}
	g := New(3)
	if err := g.Build(pos, 2); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !g.HasEdge(0, 1) {
		t.Error("expected edge at exactly the search radius")
	}
	if g.HasEdge(1, 2) {
		t.Error("unexpected edge beyond the search radius")
	}
}

func TestBuildReplacesEdges(t *testing.T) {
	g := New(2)
	if err := g.Build([]space.Vec3{{0, 0, 0}, {1, 0, 0}}, 2); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.EdgeCount() != 1 {
		t.Fatalf("EdgeCount() = %d, want 1", g.EdgeCount())
	}
	if err := g.Build([]space.Vec3{{0, 0, 0}, {5, 0, 0}}, 2); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.EdgeCount() != 0 {
		t.Errorf("EdgeCount() = %d after rebuild, want 0", g.EdgeCount())
	}
}

func TestBuildVertexMismatch(t *testing.T) {
	g := New(3)
	if err := g.Build([]space.Vec3{{0, 0, 0}}, 1); err == nil {
		t.Error("expected error when position count differs from vertex count")
	}
}

func TestAddDeleteVertices(t *testing.T) {
	// Path 0-1-2-3-4.
	pos := []space.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}
	g := New(5)
	if err := g.Build(pos, 1); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	g.AddVertices(2)
	if g.VertexCount() != 7 {
		t.Fatalf("VertexCount() = %d, want 7", g.VertexCount())
	}

	if err := g.DeleteVertices([]int{1, 5}); err != nil {
		t.Fatalf("DeleteVertices() error = %v", err)
	}
	if g.VertexCount() != 5 {
		t.Fatalf("VertexCount() = %d, want 5", g.VertexCount())
	}
	// Old 2-3 and 3-4 become 1-2 and 2-3; old 0 is now isolated.
	if g.Degree(0) != 0 {
		t.Errorf("Degree(0) = %d, want 0", g.Degree(0))
	}
	if !g.HasEdge(1, 2) || !g.HasEdge(2, 3) {
		t.Error("expected renumbered edges 1-2 and 2-3")
	}
	if g.EdgeCount() != 2 {
		t.Errorf("EdgeCount() = %d, want 2", g.EdgeCount())
	}
}

func TestDeleteVerticesRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rows []int
	}{
		{"out of range", []int{3}},
		{"negative", []int{-1}},
		{"unsorted", []int{2, 1}},
		{"duplicate", []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(3)
			if err := g.DeleteVertices(tt.rows); err == nil {
				t.Errorf("DeleteVertices(%v) expected error", tt.rows)
			}
		})
	}
}
