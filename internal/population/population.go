// Package population owns the agent store and the proximity graph together
// and is the only place either container changes size, so that array row i
// and graph vertex i always name the same agent.
package population

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/graph"
	"github.com/talgya/morphosim/internal/space"
)

// ErrMisaligned reports that an attribute array, the graph, and the agent
// count disagree. It is a programming fault; the current step must abort.
var ErrMisaligned = errors.New("population index misalignment")

// HatchPolicy shapes the children produced by a commit.
type HatchPolicy struct {
	// Offset returns the displacement applied to one child. Nil places the
	// child exactly on its parent.
	Offset func() space.Vec3
	// Bounds is the valid extent; displaced children are clamped into it.
	Bounds space.Bounds
}

// Delta records what one commit did. Indices are in the numbering that was
// current when the marks were set.
type Delta struct {
	Hatched []int
	Removed []int
	Before  int
	After   int
}

// Net returns the change in population size.
func (d Delta) Net() int {
	return len(d.Hatched) - len(d.Removed)
}

// Population is the agent store plus its proximity graph.
// Not safe for concurrent use; the simulation serializes access.
type Population struct {
	store *agents.Store
	graph *graph.Graph
	count int
}

// New creates an empty population.
func New() *Population {
	return &Population{
		store: agents.NewStore(),
		graph: graph.New(0),
	}
}

// Len returns the number of agents.
func (p *Population) Len() int {
	return p.count
}

// Extinct returns true when no agents remain.
func (p *Population) Extinct() bool {
	return p.count == 0
}

// Store returns the attribute arrays. Callers may read and update attribute
// values in place but must not change the store's size directly.
func (p *Population) Store() *agents.Store {
	return p.store
}

// Graph returns the proximity graph.
func (p *Population) Graph() *graph.Graph {
	return p.graph
}

// Add appends agents to the store and matching vertices to the graph.
func (p *Population) Add(list ...agents.Agent) error {
	p.store.Add(list...)
	p.graph.AddVertices(len(list))
	p.count += len(list)
	return p.Verify()
}

// Spawn creates cfg.Count agents through the spawner.
func (p *Population) Spawn(sp *agents.Spawner, cfg agents.SpawnConfig) error {
	sp.Spawn(p.store, cfg)
	p.graph.AddVertices(cfg.Count)
	p.count += cfg.Count
	return p.Verify()
}

// RebuildNeighbors discards every edge and reconnects agents within radius.
func (p *Population) RebuildNeighbors(radius float64) error {
	if err := p.graph.Build(p.store.Locations.Data, radius); err != nil {
		return fmt.Errorf("%w: %v", ErrMisaligned, err)
	}
	return nil
}

// Verify checks that every column and the graph hold exactly Len() rows.
func (p *Population) Verify() error {
	if err := p.store.Aligned(p.count); err != nil {
		return fmt.Errorf("%w: %v", ErrMisaligned, err)
	}
	if v := p.graph.VertexCount(); v != p.count {
		return fmt.Errorf("%w: graph has %d vertices, want %d", ErrMisaligned, v, p.count)
	}
	return nil
}

// Commit applies the hatch and removal marks captured during decisions.
// Children are appended first; since appending never renumbers existing rows,
// removal then uses the pre-removal indices for both the arrays and the graph.
// Marks are cleared afterwards.
func (p *Population) Commit(policy HatchPolicy) (Delta, error) {
	if err := p.Verify(); err != nil {
		return Delta{}, fmt.Errorf("commit: %w", err)
	}

	hatch, remove := p.store.Marked()
	delta := Delta{Hatched: hatch, Removed: remove, Before: p.count}

	displace := func(parent space.Vec3) space.Vec3 {
		child := parent
		if policy.Offset != nil {
			child = child.Add(policy.Offset())
		}
		return policy.Bounds.Clamp(child)
	}

	if _, err := p.store.Hatch(hatch, displace); err != nil {
		return delta, fmt.Errorf("commit: %w: %v", ErrMisaligned, err)
	}
	p.graph.AddVertices(len(hatch))

	if err := p.store.Remove(remove); err != nil {
		return delta, fmt.Errorf("commit: %w: %v", ErrMisaligned, err)
	}
	if err := p.graph.DeleteVertices(remove); err != nil {
		return delta, fmt.Errorf("commit: %w: %v", ErrMisaligned, err)
	}

	p.count += len(hatch) - len(remove)
	p.store.ClearMarks()
	delta.After = p.count

	if err := p.Verify(); err != nil {
		return delta, fmt.Errorf("commit: %w", err)
	}

	slog.Debug("population committed",
		"added", len(hatch),
		"removed", len(remove),
		"alive", p.count,
	)
	return delta, nil
}
