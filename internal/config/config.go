// Package config provides the run parameters for morphosim.
// Values come from built-in defaults, an optional YAML file and a few
// environment variables, and are validated once before setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/morphosim/internal/field"
	"github.com/talgya/morphosim/internal/space"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Model names.
const (
	ModelGoL = "gol"
	ModelRib = "rib"
)

// Params contains every setting of one run.
type Params struct {
	// Model selects the step rules: "gol" or "rib".
	Model string `json:"model" yaml:"model"`

	// Seed fixes the random stream. Zero draws a seed at startup.
	Seed int64 `json:"seed" yaml:"seed"`

	// EndStep is the number of steps to run.
	EndStep int `json:"end_step" yaml:"end_step"`

	// Interval paces the engine between steps. Zero runs flat out.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Workers is the number of goroutines used for field relaxation.
	Workers int `json:"workers" yaml:"workers"`

	GoL     GoLParams     `json:"gol" yaml:"gol"`
	Rib     RibParams     `json:"rib" yaml:"rib"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Output  OutputConfig  `json:"output" yaml:"output"`
}

// GoLParams configures the neighbor-count rule model.
type GoLParams struct {
	NumToStart   int        `json:"num_to_start" yaml:"num_to_start"`
	Size         space.Vec3 `json:"size" yaml:"size"`
	SearchRadius float64    `json:"search_radius" yaml:"search_radius"`

	// An agent dies when its neighbor count is below KillBelow or above KillAbove.
	KillBelow int `json:"kill_below" yaml:"kill_below"`
	KillAbove int `json:"kill_above" yaml:"kill_above"`

	// An agent hatches when HatchLower < count < HatchUpper.
	HatchLower int `json:"hatch_lower" yaml:"hatch_lower"`
	HatchUpper int `json:"hatch_upper" yaml:"hatch_upper"`

	MoveValue   float64 `json:"move_value" yaml:"move_value"`
	HatchOffset float64 `json:"hatch_offset" yaml:"hatch_offset"`
	Radius      float64 `json:"radius" yaml:"radius"`
	Layout      string  `json:"layout" yaml:"layout"`
}

// RibParams configures the field-coupled model.
type RibParams struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`

	InitSizeMult    float64 `json:"init_size_mult" yaml:"init_size_mult"`
	ShhTransport    float64 `json:"shh_xport" yaml:"shh_xport"`
	ShhIntensityLog float64 `json:"shh_intensity_log" yaml:"shh_intensity_log"`

	PRed       float64 `json:"p_red" yaml:"p_red"`
	PBlue      float64 `json:"p_blue" yaml:"p_blue"`
	DeathMult  float64 `json:"death_mult" yaml:"death_mult"`
	ProlifMult float64 `json:"prolif_mult" yaml:"prolif_mult"`
	DivideRate float64 `json:"divide_rate" yaml:"divide_rate"`
	DeathRate  float64 `json:"death_rate" yaml:"death_rate"`
	LocalFate  bool    `json:"local_fate" yaml:"local_fate"`
	FateRatio  float64 `json:"fate_ratio" yaml:"fate_ratio"`

	Baseline float64          `json:"baseline" yaml:"baseline"`
	Pressure field.Relaxation `json:"pressure" yaml:"pressure"`
	Channels field.Relaxation `json:"channels" yaml:"channels"`

	// The movement loop runs while max pressure exceeds MoveThreshold, at
	// most MaxMoveIterations times. Agents on patches above PushThreshold
	// are pushed along the pressure gradient.
	MoveThreshold     float64 `json:"move_threshold" yaml:"move_threshold"`
	PushThreshold     float64 `json:"push_threshold" yaml:"push_threshold"`
	MaxMoveIterations int     `json:"max_move_iterations" yaml:"max_move_iterations"`

	Jiggle  float64 `json:"jiggle" yaml:"jiggle"`
	BounceX float64 `json:"bounce_x" yaml:"bounce_x"`
	BounceY float64 `json:"bounce_y" yaml:"bounce_y"`

	Radius      float64 `json:"radius" yaml:"radius"`
	HatchOffset float64 `json:"hatch_offset" yaml:"hatch_offset"`
}

// LoggingConfig configures log verbosity.
type LoggingConfig struct {
	// Level is "info" (default), "debug" or "trace".
	Level string `json:"level" yaml:"level"`
}

// OutputConfig configures the per-step recorders. Empty paths disable them.
type OutputConfig struct {
	DBPath        string `json:"db_path" yaml:"db_path"`
	ChartPath     string `json:"chart_path" yaml:"chart_path"`
	SnapshotEvery int    `json:"snapshot_every" yaml:"snapshot_every"`
}

// NumToStart returns the initial agent count of the rib model.
func (r RibParams) NumToStart() int {
	return int(r.InitSizeMult * 1200)
}

// Default returns Params with the constants of the reference models.
func Default() *Params {
	return &Params{
		Model:   ModelRib,
		EndStep: 100,
		Workers: 1,
		GoL: GoLParams{
			NumToStart:   500,
			Size:         space.Vec3{60, 60, 0},
			SearchRadius: 5,
			KillBelow:    1,
			KillAbove:    6,
			HatchLower:   1,
			HatchUpper:   4,
			MoveValue:    1,
			HatchOffset:  1,
			Radius:       0.5,
			Layout:       "uniform",
		},
		Rib: RibParams{
			Rows:              17,
			Cols:              68,
			InitSizeMult:      0.55,
			ShhTransport:      12,
			ShhIntensityLog:   0.63,
			PRed:              0.4,
			PBlue:             0.4,
			DeathMult:         0,
			ProlifMult:        1,
			DivideRate:        0.05,
			DeathRate:         0.05,
			LocalFate:         true,
			FateRatio:         0.6,
			Baseline:          3,
			Pressure:          field.Relaxation{Iterations: 10, Gain: 0.5, Decay: 0.5},
			Channels:          field.Relaxation{Iterations: 2, Gain: 0.2, Decay: 0},
			MoveThreshold:     6,
			PushThreshold:     4,
			MaxMoveIterations: 100,
			Jiggle:            0.5,
			BounceX:           3,
			BounceY:           1,
			Radius:            0.25,
			HatchOffset:       0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			SnapshotEvery: 10,
		},
	}
}

// Load returns the defaults, overlaid with the YAML file at path when path is
// non-empty, then with environment overrides.
func Load(path string) (*Params, error) {
	params := Default()
	if path != "" {
		fileParams, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		params = fileParams
	}
	applyEnvOverrides(params)
	return params, nil
}

// LoadFromFile loads parameters from a YAML file. Keys missing from the file
// keep their default values.
func LoadFromFile(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	params := Default()
	if err := yaml.Unmarshal(data, params); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return params, nil
}

// Marshal renders the parameters as YAML.
func (p *Params) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Validate checks that the parameters describe a runnable simulation.
func (p *Params) Validate() error {
	if p.EndStep < 1 {
		return fmt.Errorf("%w: end_step must be at least 1, got %d", ErrInvalid, p.EndStep)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval must be non-negative, got %v", ErrInvalid, p.Interval)
	}
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalid, p.Workers)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if p.Logging.Level != "" && !validLevels[p.Logging.Level] {
		return fmt.Errorf("%w: invalid log level: %s (valid: info, debug, trace, or empty for default)", ErrInvalid, p.Logging.Level)
	}
	if p.Output.SnapshotEvery < 0 {
		return fmt.Errorf("%w: snapshot_every must be non-negative, got %d", ErrInvalid, p.Output.SnapshotEvery)
	}

	switch p.Model {
	case ModelGoL:
		return p.GoL.validate()
	case ModelRib:
		return p.Rib.validate()
	default:
		return fmt.Errorf("%w: unknown model %q (valid: gol, rib)", ErrInvalid, p.Model)
	}
}

func (g GoLParams) validate() error {
	if g.NumToStart < 0 {
		return fmt.Errorf("%w: gol.num_to_start must be non-negative, got %d", ErrInvalid, g.NumToStart)
	}
	if g.Size[0] <= 0 || g.Size[1] <= 0 || g.Size[2] < 0 {
		return fmt.Errorf("%w: gol.size must be positive in x and y, got %v", ErrInvalid, g.Size)
	}
	if g.SearchRadius < 0 {
		return fmt.Errorf("%w: gol.search_radius must be non-negative, got %f", ErrInvalid, g.SearchRadius)
	}
	if g.KillBelow > g.KillAbove {
		return fmt.Errorf("%w: gol kill band [%d, %d] is inverted", ErrInvalid, g.KillBelow, g.KillAbove)
	}
	if g.HatchLower > g.HatchUpper {
		return fmt.Errorf("%w: gol hatch band (%d, %d) is inverted", ErrInvalid, g.HatchLower, g.HatchUpper)
	}
	if g.MoveValue < 0 || g.HatchOffset < 0 {
		return fmt.Errorf("%w: gol move_value and hatch_offset must be non-negative", ErrInvalid)
	}
	if g.Radius <= 0 {
		return fmt.Errorf("%w: gol.radius must be positive, got %f", ErrInvalid, g.Radius)
	}
	switch g.Layout {
	case "", "uniform", "clustered":
	default:
		return fmt.Errorf("%w: unknown gol.layout %q (valid: uniform, clustered)", ErrInvalid, g.Layout)
	}
	return nil
}

func (r RibParams) validate() error {
	// The movement clamps need at least a 4×4 interior.
	if r.Rows < 4 || r.Cols < 4 {
		return fmt.Errorf("%w: rib grid must be at least 4x4, got %dx%d", ErrInvalid, r.Rows, r.Cols)
	}
	if r.InitSizeMult < 0 {
		return fmt.Errorf("%w: rib.init_size_mult must be non-negative, got %f", ErrInvalid, r.InitSizeMult)
	}
	if r.ShhTransport <= 0 {
		return fmt.Errorf("%w: rib.shh_xport must be positive, got %f", ErrInvalid, r.ShhTransport)
	}

	probs := []struct {
		name string
		v    float64
	}{
		{"p_red", r.PRed},
		{"p_blue", r.PBlue},
		{"divide_rate", r.DivideRate},
		{"death_rate", r.DeathRate},
		{"fate_ratio", r.FateRatio},
	}
	for _, pr := range probs {
		if pr.v < 0 || pr.v > 1 {
			return fmt.Errorf("%w: rib.%s must be between 0 and 1, got %f", ErrInvalid, pr.name, pr.v)
		}
	}
	if r.DeathMult < 0 || r.ProlifMult < 0 {
		return fmt.Errorf("%w: rib death_mult and prolif_mult must be non-negative", ErrInvalid)
	}
	if r.Pressure.Iterations < 0 || r.Channels.Iterations < 0 {
		return fmt.Errorf("%w: rib relaxation iterations must be non-negative", ErrInvalid)
	}
	if r.MaxMoveIterations < 0 {
		return fmt.Errorf("%w: rib.max_move_iterations must be non-negative, got %d", ErrInvalid, r.MaxMoveIterations)
	}
	if r.Jiggle < 0 {
		return fmt.Errorf("%w: rib.jiggle must be non-negative, got %f", ErrInvalid, r.Jiggle)
	}
	if r.BounceX <= 0 || r.BounceY <= 0 {
		return fmt.Errorf("%w: rib bounce rates must be positive", ErrInvalid)
	}
	if r.Radius <= 0 {
		return fmt.Errorf("%w: rib.radius must be positive, got %f", ErrInvalid, r.Radius)
	}
	if r.HatchOffset < 0 {
		return fmt.Errorf("%w: rib.hatch_offset must be non-negative, got %f", ErrInvalid, r.HatchOffset)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the params.
func applyEnvOverrides(p *Params) {
	if v := os.Getenv("MORPHOSIM_MODEL"); v != "" {
		p.Model = v
	}

	if v := os.Getenv("MORPHOSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.Seed = n
		}
	}

	if v := os.Getenv("MORPHOSIM_DB"); v != "" {
		p.Output.DBPath = v
	}

	if v := os.Getenv("MORPHOSIM_LOG_LEVEL"); v != "" {
		p.Logging.Level = v
	}
}
