package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/morphosim/internal/api"
	"github.com/talgya/morphosim/internal/config"
	"github.com/talgya/morphosim/internal/engine"
	"github.com/talgya/morphosim/internal/entropy"
	"github.com/talgya/morphosim/internal/logging"
	"github.com/talgya/morphosim/internal/persistence"
	"github.com/talgya/morphosim/internal/report"
)

// runOptions are the run flags that override the parameter file.
type runOptions struct {
	ConfigPath string
	Model      string
	Steps      int
	Seed       int64
	SeedSet    bool // Seed was given explicitly; zero draws one
	Workers    int
	DBPath     string
	ChartPath  string
	LogLevel   string
	Serve      string
	Interval   time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run a simulation to its end step or until the population dies out.

Parameters come from the defaults, then --config, then MORPHOSIM_*
environment variables, then the flags below. A seed of 0 draws a
random seed and logs it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts.SeedSet = flags.Changed("seed")
			if !flags.Changed("workers") {
				opts.Workers = 0
			}
			return runSimulation(opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML parameter file")
	flags.StringVar(&opts.Model, "model", "", "Model rules: gol or rib")
	flags.IntVar(&opts.Steps, "steps", 0, "End step (overrides end_step)")
	flags.Int64Var(&opts.Seed, "seed", 0, "Random seed; 0 picks one")
	flags.IntVar(&opts.Workers, "workers", 1, "Goroutines for the field solver")
	flags.StringVar(&opts.DBPath, "db", "", "SQLite output path")
	flags.StringVar(&opts.ChartPath, "chart", "", "PNG population chart path")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: info, debug, trace")
	flags.StringVar(&opts.Serve, "serve", "", "Serve the HTTP status API on this address, e.g. :8080")
	flags.DurationVar(&opts.Interval, "interval", 0, "Minimum wall time per step")
	return cmd
}

// resolveParams layers the flags over the loaded parameters.
func resolveParams(opts runOptions) (*config.Params, error) {
	p, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		p.Model = opts.Model
	}
	if opts.Steps > 0 {
		p.EndStep = opts.Steps
	}
	if opts.SeedSet {
		p.Seed = opts.Seed
	}
	if opts.Workers > 0 {
		p.Workers = opts.Workers
	}
	if opts.DBPath != "" {
		p.Output.DBPath = opts.DBPath
	}
	if opts.ChartPath != "" {
		p.Output.ChartPath = opts.ChartPath
	}
	if opts.LogLevel != "" {
		p.Logging.Level = opts.LogLevel
	}
	if opts.Interval > 0 {
		p.Interval = opts.Interval
	}
	if p.Seed == 0 {
		p.Seed = entropy.CryptoSeed()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func runSimulation(opts runOptions, out io.Writer) error {
	p, err := resolveParams(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(p.Logging.Level, os.Stderr))
	slog.Info("morphosim starting", "model", p.Model, "seed", p.Seed, "end_step", p.EndStep, "workers", p.Workers)

	// ── Recorders ─────────────────────────────────────────────────────
	var recorders engine.MultiRecorder
	var db *persistence.DB
	if p.Output.DBPath != "" {
		if dir := filepath.Dir(p.Output.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err = persistence.Open(p.Output.DBPath, p.Output.SnapshotEvery)
		if err != nil {
			return err
		}
		raw, err := p.Marshal()
		if err != nil {
			db.Close()
			return fmt.Errorf("marshal config: %w", err)
		}
		if _, err := db.StartRun(p.Model, p.Seed, raw); err != nil {
			db.Close()
			return err
		}
		slog.Info("database opened", "path", p.Output.DBPath)
		recorders = append(recorders, db)
	}
	if p.Output.ChartPath != "" {
		recorders = append(recorders, skipShortChart{report.NewPopulationChart(p.Output.ChartPath)})
	}

	sim, err := engine.Setup(p, entropy.NewSource(p.Seed), recorders)
	if err != nil {
		recorders.Close()
		return err
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(p.EndStep)
	eng.Interval = p.Interval
	eng.OnStep = func(int) error { return sim.Step() }
	eng.Halted = sim.Extinct

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if sig, ok := <-sigCh; ok {
			slog.Info("received signal, shutting down", "signal", sig)
			eng.Stop()
		}
	}()

	var srv *api.Server
	if opts.Serve != "" {
		srv = &api.Server{
			Sim:      sim,
			Eng:      eng,
			DB:       db,
			Addr:     opts.Serve,
			AdminKey: os.Getenv("MORPHOSIM_ADMIN_KEY"),
		}
		srv.Start()
	}

	start := time.Now()
	runErr := eng.Run()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		cancel()
	}

	if err := errors.Join(runErr, recorders.Close()); err != nil {
		return err
	}

	printSummary(out, sim.Snapshot(), time.Since(start))
	return nil
}

// skipShortChart closes a population chart, logging instead of failing when
// the run was too short or empty to plot.
type skipShortChart struct {
	*report.PopulationChart
}

func (c skipShortChart) Close() error {
	err := c.PopulationChart.Close()
	if errors.Is(err, report.ErrNotEnoughData) {
		slog.Info("population chart skipped", "reason", err)
		return nil
	}
	return err
}

func printSummary(out io.Writer, snap engine.Snapshot, elapsed time.Duration) {
	status := "completed"
	if snap.Extinct {
		status = "extinct"
	}
	fmt.Fprintf(out, "model %s, seed %d: %s at step %s\n", snap.Model, snap.Seed, status, humanize.Comma(int64(snap.Step)))
	fmt.Fprintf(out, "  population  %s\n", humanize.Comma(int64(snap.Stats.Population)))
	fmt.Fprintf(out, "  hatched     %s\n", humanize.Comma(int64(snap.Stats.TotalHatched)))
	fmt.Fprintf(out, "  removed     %s\n", humanize.Comma(int64(snap.Stats.TotalRemoved)))
	fmt.Fprintf(out, "  wall time   %s\n", elapsed.Round(time.Millisecond))
}
