package agents

import (
	"fmt"
	"sort"

	"github.com/talgya/morphosim/internal/space"
)

// column is one named per-agent array. All columns of a store are mutated
// together so that row i always describes the same agent.
type column interface {
	columnName() string
	length() int
	appendCopies(rows []int)
	deleteRows(rows []int)
}

// Column is a typed per-agent attribute array.
type Column[T any] struct {
	Name string
	Data []T
}

func (c *Column[T]) columnName() string { return c.Name }
func (c *Column[T]) length() int        { return len(c.Data) }

// appendCopies appends a copy of each listed row, in list order.
func (c *Column[T]) appendCopies(rows []int) {
	for _, i := range rows {
		c.Data = append(c.Data, c.Data[i])
	}
}

// deleteRows removes the given rows (sorted, unique) and shifts the survivors
// down, preserving their relative order.
func (c *Column[T]) deleteRows(rows []int) {
	if len(rows) == 0 {
		return
	}
	w := rows[0]
	next := 0
	for i := rows[0]; i < len(c.Data); i++ {
		if next < len(rows) && rows[next] == i {
			next++
			continue
		}
		c.Data[w] = c.Data[i]
		w++
	}
	clear(c.Data[w:])
	c.Data = c.Data[:w]
}

// Store holds every agent attribute as a parallel array.
type Store struct {
	Locations Column[space.Vec3]
	Radii     Column[float64]
	States    Column[State]

	// Transient flags set during decisions, cleared by the commit.
	hatching Column[bool]
	removing Column[bool]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		Locations: Column[space.Vec3]{Name: "locations"},
		Radii:     Column[float64]{Name: "radii"},
		States:    Column[State]{Name: "states"},
		hatching:  Column[bool]{Name: "hatching"},
		removing:  Column[bool]{Name: "removing"},
	}
}

func (s *Store) columns() []column {
	return []column{&s.Locations, &s.Radii, &s.States, &s.hatching, &s.removing}
}

// Len returns the number of agents.
func (s *Store) Len() int {
	return len(s.Locations.Data)
}

// Lengths returns the length of every column keyed by name.
func (s *Store) Lengths() map[string]int {
	out := make(map[string]int, 5)
	for _, c := range s.columns() {
		out[c.columnName()] = c.length()
	}
	return out
}

// Aligned returns an error naming the first column whose length differs from n.
func (s *Store) Aligned(n int) error {
	for _, c := range s.columns() {
		if c.length() != n {
			return fmt.Errorf("column %s has %d rows, want %d", c.columnName(), c.length(), n)
		}
	}
	return nil
}

// Add appends the given agents in order and returns the index of the first one.
func (s *Store) Add(agents ...Agent) int {
	first := s.Len()
	for _, a := range agents {
		s.Locations.Data = append(s.Locations.Data, a.Location)
		s.Radii.Data = append(s.Radii.Data, a.Radius)
		s.States.Data = append(s.States.Data, a.State)
		s.hatching.Data = append(s.hatching.Data, false)
		s.removing.Data = append(s.removing.Data, false)
	}
	return first
}

// AddN appends n agents built by init, which receives the new agent's ordinal
// within the batch.
func (s *Store) AddN(n int, init func(i int) Agent) int {
	first := s.Len()
	for i := 0; i < n; i++ {
		s.Add(init(i))
	}
	return first
}

// Get returns a boxed copy of agent i.
func (s *Store) Get(i int) Agent {
	return Agent{
		Location: s.Locations.Data[i],
		Radius:   s.Radii.Data[i],
		State:    s.States.Data[i],
	}
}

// Hatch appends one copy of each listed agent. When displace is non-nil it
// maps the parent's location to the child's. Children start unmarked.
// Returns the index of the first child.
func (s *Store) Hatch(rows []int, displace func(space.Vec3) space.Vec3) (int, error) {
	if err := s.checkRows(rows); err != nil {
		return 0, fmt.Errorf("hatch: %w", err)
	}
	first := s.Len()
	for _, c := range s.columns() {
		c.appendCopies(rows)
	}
	for i := first; i < s.Len(); i++ {
		s.hatching.Data[i] = false
		s.removing.Data[i] = false
		if displace != nil {
			s.Locations.Data[i] = displace(s.Locations.Data[i])
		}
	}
	return first, nil
}

// Remove deletes the listed agents. Survivors keep their relative order, so
// every index after a removed row shifts down. Duplicates are ignored.
func (s *Store) Remove(rows []int) error {
	sorted, err := normalizeRows(rows, s.Len())
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	for _, c := range s.columns() {
		c.deleteRows(sorted)
	}
	return nil
}

// MarkHatch flags agent i to produce a copy at the next commit.
func (s *Store) MarkHatch(i int) {
	s.hatching.Data[i] = true
}

// MarkRemove flags agent i for removal at the next commit.
func (s *Store) MarkRemove(i int) {
	s.removing.Data[i] = true
}

// Marked returns the hatch and removal index sets in ascending order.
func (s *Store) Marked() (hatch, remove []int) {
	for i, h := range s.hatching.Data {
		if h {
			hatch = append(hatch, i)
		}
	}
	for i, r := range s.removing.Data {
		if r {
			remove = append(remove, i)
		}
	}
	return hatch, remove
}

// ClearMarks resets every hatch and removal flag.
func (s *Store) ClearMarks() {
	clear(s.hatching.Data)
	clear(s.removing.Data)
}

// Snapshot returns copies of the attribute columns.
func (s *Store) Snapshot() (locations []space.Vec3, radii []float64, states []State) {
	locations = append([]space.Vec3(nil), s.Locations.Data...)
	radii = append([]float64(nil), s.Radii.Data...)
	states = append([]State(nil), s.States.Data...)
	return locations, radii, states
}

func (s *Store) checkRows(rows []int) error {
	n := s.Len()
	for _, i := range rows {
		if i < 0 || i >= n {
			return fmt.Errorf("index %d out of range [0, %d)", i, n)
		}
	}
	return nil
}

// normalizeRows returns a sorted, de-duplicated copy of rows after checking
// every index against n.
func normalizeRows(rows []int, n int) ([]int, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	sorted := append([]int(nil), rows...)
	sort.Ints(sorted)
	out := sorted[:0]
	for _, r := range sorted {
		if r < 0 || r >= n {
			return nil, fmt.Errorf("index %d out of range [0, %d)", r, n)
		}
		if len(out) > 0 && out[len(out)-1] == r {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
