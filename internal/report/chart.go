// Package report renders run summaries: a PNG line chart of the population
// and its per-state counts over time.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/engine"
)

// ErrNotEnoughData is returned when fewer than two steps have been recorded.
var ErrNotEnoughData = errors.New("not enough data to render the chart")

// PopulationChart is a recorder that accumulates per-step counts and renders
// them as a line chart. When Path is set, Close writes the PNG there.
type PopulationChart struct {
	Path   string
	Width  int
	Height int

	steps   []float64
	total   []float64
	byState map[agents.State][]float64
}

// NewPopulationChart creates a chart that Close saves to path. An empty path
// only accumulates.
func NewPopulationChart(path string) *PopulationChart {
	return &PopulationChart{
		Path:   path,
		Width:  900,
		Height: 400,
		byState: map[agents.State][]float64{
			agents.StateNeutral: nil,
			agents.StateA:       nil,
			agents.StateB:       nil,
		},
	}
}

// Record appends one frame's counts.
func (c *PopulationChart) Record(f engine.Frame) error {
	counts := make(map[agents.State]int, 3)
	for _, s := range f.States {
		counts[s]++
	}
	c.steps = append(c.steps, float64(f.Step))
	c.total = append(c.total, float64(f.Count))
	for s := range c.byState {
		c.byState[s] = append(c.byState[s], float64(counts[s]))
	}
	return nil
}

// Len returns the number of recorded steps.
func (c *PopulationChart) Len() int {
	return len(c.steps)
}

// Render writes the chart as PNG to w.
func (c *PopulationChart) Render(w io.Writer) error {
	if len(c.steps) < 2 {
		return fmt.Errorf("%w: %d steps", ErrNotEnoughData, len(c.steps))
	}
	if slices.Max(c.total) == 0 {
		return fmt.Errorf("%w: population was empty throughout", ErrNotEnoughData)
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "total",
			XValues: c.steps,
			YValues: c.total,
			Style:   chart.Style{StrokeColor: drawing.ColorBlack, StrokeWidth: 3.0},
		},
	}
	for _, s := range []agents.State{agents.StateNeutral, agents.StateA, agents.StateB} {
		rgb := s.Color()
		series = append(series, chart.ContinuousSeries{
			Name:    "state " + s.String(),
			XValues: c.steps,
			YValues: c.byState[s],
			Style: chart.Style{
				StrokeColor: drawing.Color{R: rgb[0], G: rgb[1], B: rgb[2], A: 255},
				StrokeWidth: 2.0,
			},
		})
	}

	graph := chart.Chart{
		Width:  c.Width,
		Height: c.Height,
		XAxis: chart.XAxis{
			Name:  "step",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "agents",
			Style: chart.Style{FontSize: 10.0},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// Save renders the chart to a PNG file at path.
func (c *PopulationChart) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := c.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close saves the chart to Path when one is set.
func (c *PopulationChart) Close() error {
	if c.Path == "" {
		return nil
	}
	if err := c.Save(c.Path); err != nil {
		return err
	}
	slog.Info("population chart saved", "path", c.Path, "steps", len(c.steps))
	return nil
}
