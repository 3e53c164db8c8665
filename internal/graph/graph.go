// Package graph provides the proximity graph: an undirected adjacency
// structure whose vertices are agent indices, rebuilt from positions every step.
package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/morphosim/internal/space"
)

// Graph is an undirected simple graph over vertices 0..n-1.
type Graph struct {
	adj [][]int
}

// New creates a graph with n vertices and no edges.
func New(n int) *Graph {
	return &Graph{adj: make([][]int, n)}
}

// VertexCount returns the number of vertices.
func (g *Graph) VertexCount() int {
	return len(g.adj)
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, nb := range g.adj {
		total += len(nb)
	}
	return total / 2
}

// Degree returns the number of neighbors of vertex i.
func (g *Graph) Degree(i int) int {
	return len(g.adj[i])
}

// Neighbors returns the neighbors of vertex i in ascending order.
// The slice is owned by the graph.
func (g *Graph) Neighbors(i int) []int {
	return g.adj[i]
}

// HasEdge returns true if i and j are adjacent.
func (g *Graph) HasEdge(i, j int) bool {
	nb := g.adj[i]
	k := sort.SearchInts(nb, j)
	return k < len(nb) && nb[k] == j
}

// Clear removes every edge, keeping the vertex set.
func (g *Graph) Clear() {
	for i := range g.adj {
		g.adj[i] = g.adj[i][:0]
	}
}

// AddVertices appends n isolated vertices.
func (g *Graph) AddVertices(n int) {
	for i := 0; i < n; i++ {
		g.adj = append(g.adj, nil)
	}
}

// DeleteVertices removes the given vertices (sorted, unique) along with their
// edges. Remaining vertices are renumbered so that their relative order is
// preserved, matching the agent store's compaction.
func (g *Graph) DeleteVertices(rows []int) error {
	if len(rows) == 0 {
		return nil
	}
	n := len(g.adj)
	remap := make([]int, n)
	next := 0
	for i := 0; i < n; i++ {
		remap[i] = i
	}
	for k, r := range rows {
		if r < 0 || r >= n {
			return fmt.Errorf("delete vertex %d: out of range [0, %d)", r, n)
		}
		if k > 0 && r <= rows[k-1] {
			return fmt.Errorf("delete vertices: indices not sorted and unique at %d", r)
		}
		remap[r] = -1
	}
	for i := 0; i < n; i++ {
		if remap[i] < 0 {
			continue
		}
		remap[i] = next
		next++
	}

	out := make([][]int, 0, next)
	for i, nb := range g.adj {
		if remap[i] < 0 {
			continue
		}
		kept := nb[:0]
		for _, j := range nb {
			if remap[j] >= 0 {
				kept = append(kept, remap[j])
			}
		}
		out = append(out, kept)
	}
	g.adj = out
	return nil
}

// Build discards every edge and connects each pair of distinct positions whose
// Euclidean distance is at most radius. The graph must already have exactly
// one vertex per position.
func (g *Graph) Build(positions []space.Vec3, radius float64) error {
	if len(positions) != len(g.adj) {
		return fmt.Errorf("build: %d positions for %d vertices", len(positions), len(g.adj))
	}
	g.Clear()
	if radius < 0 || len(positions) < 2 {
		return nil
	}

	r2 := radius * radius
	if radius == 0 {
		g.buildNaive(positions, r2)
		return nil
	}

	buckets := bucketize(positions, radius)
	for i, p := range positions {
		c := cellOf(p, radius)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					for _, j := range buckets[cell{c[0] + dx, c[1] + dy, c[2] + dz}] {
						if j <= i {
							continue
						}
						if space.DistSq(p, positions[j]) <= r2 {
							g.adj[i] = append(g.adj[i], j)
							g.adj[j] = append(g.adj[j], i)
						}
					}
				}
			}
		}
	}
	for i := range g.adj {
		sort.Ints(g.adj[i])
	}
	return nil
}

func (g *Graph) buildNaive(positions []space.Vec3, r2 float64) {
	for i := range positions {
		for j := i + 1; j < len(positions); j++ {
			if space.DistSq(positions[i], positions[j]) <= r2 {
				g.adj[i] = append(g.adj[i], j)
				g.adj[j] = append(g.adj[j], i)
			}
		}
	}
}

// cell is a bucket coordinate; bucket edge length equals the search radius so
// every candidate lies in the 27 surrounding buckets.
type cell [3]int

func cellOf(p space.Vec3, size float64) cell {
	return cell{
		int(math.Floor(p[0] / size)),
		int(math.Floor(p[1] / size)),
		int(math.Floor(p[2] / size)),
	}
}

func bucketize(positions []space.Vec3, size float64) map[cell][]int {
	buckets := make(map[cell][]int)
	for i, p := range positions {
		c := cellOf(p, size)
		buckets[c] = append(buckets[c], i)
	}
	return buckets
}
