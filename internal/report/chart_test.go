package report

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/engine"
)

func frame(step int, states ...agents.State) engine.Frame {
	return engine.Frame{Step: step, Count: len(states), States: states}
}

func TestRecordCountsStates(t *testing.T) {
	c := NewPopulationChart("")
	if err := c.Record(frame(0, agents.StateNeutral, agents.StateA, agents.StateA, agents.StateB)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	tests := []struct {
		state agents.State
		want  float64
	}{
		{agents.StateNeutral, 1},
		{agents.StateA, 2},
		{agents.StateB, 1},
	}
	for _, tt := range tests {
		if got := c.byState[tt.state][0]; got != tt.want {
			t.Errorf("count of %v = %f, want %f", tt.state, got, tt.want)
		}
	}
	if c.total[0] != 4 {
		t.Errorf("total = %f, want 4", c.total[0])
	}
}

func TestRenderNotEnoughData(t *testing.T) {
	tests := []struct {
		name   string
		frames []engine.Frame
	}{
		{"one step", []engine.Frame{frame(0, agents.StateNeutral)}},
		{"empty population", []engine.Frame{frame(0), frame(1), frame(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPopulationChart("")
			for _, f := range tt.frames {
				c.Record(f)
			}
			var buf bytes.Buffer
			if err := c.Render(&buf); !errors.Is(err, ErrNotEnoughData) {
				t.Fatalf("Render() error = %v, want ErrNotEnoughData", err)
			}
		})
	}
}

func TestRenderPNG(t *testing.T) {
	c := NewPopulationChart("")
	c.Record(frame(0, agents.StateNeutral, agents.StateNeutral))
	c.Record(frame(1, agents.StateNeutral, agents.StateA, agents.StateB))
	c.Record(frame(2, agents.StateA, agents.StateB, agents.StateB, agents.StateB))

	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	cfg, err := png.DecodeConfig(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if cfg.Width != c.Width || cfg.Height != c.Height {
		t.Errorf("image is %dx%d, want %dx%d", cfg.Width, cfg.Height, c.Width, c.Height)
	}
}

func TestCloseSavesToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "population.png")
	c := NewPopulationChart(path)
	c.Record(frame(0, agents.StateNeutral))
	c.Record(frame(1, agents.StateNeutral, agents.StateA))

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}
}

func TestCloseWithoutPath(t *testing.T) {
	if err := NewPopulationChart("").Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
