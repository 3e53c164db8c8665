// Package persistence provides the SQLite output sink: one row per run, one
// row per step, and periodic agent and field snapshots.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/engine"
	"github.com/talgya/morphosim/internal/space"
)

// ErrNoRun is returned by Record before StartRun.
var ErrNoRun = errors.New("no active run")

// DB wraps a SQLite connection and records frames of one run at a time.
type DB struct {
	conn *sqlx.DB

	runID         string
	snapshotEvery int
}

// Open opens or creates a SQLite database at the given path. Agent and field
// snapshots are written every snapshotEvery steps; 0 disables them.
func Open(path string, snapshotEvery int) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, snapshotEvery: snapshotEvery}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		seed INTEGER NOT NULL,
		params_yaml TEXT NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		population INTEGER NOT NULL,
		hatched INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		move_iterations INTEGER NOT NULL,
		max_pressure REAL NOT NULL,
		PRIMARY KEY (run_id, step)
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		z REAL NOT NULL,
		radius REAL NOT NULL,
		state INTEGER NOT NULL,
		PRIMARY KEY (run_id, step, idx)
	);

	CREATE TABLE IF NOT EXISTS fields (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		grid_rows INTEGER NOT NULL,
		grid_cols INTEGER NOT NULL,
		pressure_json TEXT NOT NULL,
		channel_a_json TEXT NOT NULL,
		channel_b_json TEXT NOT NULL,
		PRIMARY KEY (run_id, step)
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartRun registers a new run and makes it the target of Record.
func (db *DB) StartRun(model string, seed int64, paramsYAML []byte) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, model, seed, params_yaml, started_at) VALUES (?, ?, ?, ?, ?)",
		id, model, seed, string(paramsYAML), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	db.runID = id
	if err := db.SaveMeta("last_run", id); err != nil {
		return "", fmt.Errorf("save meta: %w", err)
	}
	slog.Info("run registered", "run_id", id, "model", model, "seed", seed)
	return id, nil
}

// RunID returns the active run, or "" before StartRun.
func (db *DB) RunID() string {
	return db.runID
}

// Record writes the step row and, on snapshot steps, the agent and field
// snapshots, in one transaction.
func (db *DB) Record(f engine.Frame) error {
	if db.runID == "" {
		return ErrNoRun
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO steps
		(run_id, step, population, hatched, removed, move_iterations, max_pressure)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		db.runID, f.Step, f.Count, f.Hatched, f.Removed, f.MoveIterations, f.MaxPressure,
	)
	if err != nil {
		return fmt.Errorf("insert step %d: %w", f.Step, err)
	}

	if db.snapshotEvery > 0 && f.Step%db.snapshotEvery == 0 {
		if err := db.saveAgents(tx, f); err != nil {
			return err
		}
		if f.Field != nil {
			if err := db.saveField(tx, f); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		"last_step", strconv.Itoa(f.Step),
	); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	return tx.Commit()
}

func (db *DB) saveAgents(tx *sqlx.Tx, f engine.Frame) error {
	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO agents
		(run_id, step, idx, x, y, z, radius, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, loc := range f.Locations {
		_, err := stmt.Exec(db.runID, f.Step, i, loc[0], loc[1], loc[2], f.Radii[i], int(f.States[i]))
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", i, err)
		}
	}
	return nil
}

func (db *DB) saveField(tx *sqlx.Tx, f engine.Frame) error {
	pressureJSON, err := json.Marshal(f.Field.Pressure)
	if err != nil {
		return fmt.Errorf("encode pressure %d: %w", f.Step, err)
	}
	aJSON, err := json.Marshal(f.Field.ChannelA)
	if err != nil {
		return fmt.Errorf("encode channel a %d: %w", f.Step, err)
	}
	bJSON, err := json.Marshal(f.Field.ChannelB)
	if err != nil {
		return fmt.Errorf("encode channel b %d: %w", f.Step, err)
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO fields
		(run_id, step, grid_rows, grid_cols, pressure_json, channel_a_json, channel_b_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		db.runID, f.Step, f.Field.Rows, f.Field.Cols,
		string(pressureJSON), string(aJSON), string(bJSON),
	)
	if err != nil {
		return fmt.Errorf("insert field %d: %w", f.Step, err)
	}
	return nil
}

// SaveMeta stores a key-value pair in metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// Run is one row of the runs table.
type Run struct {
	ID         string `db:"id" json:"id"`
	Model      string `db:"model" json:"model"`
	Seed       int64  `db:"seed" json:"seed"`
	ParamsYAML string `db:"params_yaml" json:"params_yaml"`
	StartedAt  string `db:"started_at" json:"started_at"`
}

// Runs returns every registered run, oldest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT id, model, seed, params_yaml, started_at FROM runs ORDER BY started_at, id",
	)
	return runs, err
}

// StepRow is one row of the steps table.
type StepRow struct {
	Step           int     `db:"step" json:"step"`
	Population     int     `db:"population" json:"population"`
	Hatched        int     `db:"hatched" json:"hatched"`
	Removed        int     `db:"removed" json:"removed"`
	MoveIterations int     `db:"move_iterations" json:"move_iterations"`
	MaxPressure    float64 `db:"max_pressure" json:"max_pressure"`
}

// PopulationHistory returns the per-step counts of a run in step order.
func (db *DB) PopulationHistory(runID string) ([]StepRow, error) {
	var rows []StepRow
	err := db.conn.Select(&rows,
		`SELECT step, population, hatched, removed, move_iterations, max_pressure
		 FROM steps WHERE run_id = ? ORDER BY step`,
		runID,
	)
	return rows, err
}

type agentRow struct {
	X      float64 `db:"x"`
	Y      float64 `db:"y"`
	Z      float64 `db:"z"`
	Radius float64 `db:"radius"`
	State  int     `db:"state"`
}

// AgentsAt loads the agent snapshot of a run at step, in index order.
func (db *DB) AgentsAt(runID string, step int) ([]agents.Agent, error) {
	var rows []agentRow
	err := db.conn.Select(&rows,
		"SELECT x, y, z, radius, state FROM agents WHERE run_id = ? AND step = ? ORDER BY idx",
		runID, step,
	)
	if err != nil {
		return nil, err
	}
	out := make([]agents.Agent, len(rows))
	for i, r := range rows {
		out[i] = agents.Agent{
			Location: space.Vec3{r.X, r.Y, r.Z},
			Radius:   r.Radius,
			State:    agents.State(r.State),
		}
	}
	return out, nil
}

// PressureAt loads the pressure snapshot of a run at step.
func (db *DB) PressureAt(runID string, step int) (rows, cols int, pressure []float64, err error) {
	var row struct {
		Rows     int    `db:"grid_rows"`
		Cols     int    `db:"grid_cols"`
		Pressure string `db:"pressure_json"`
	}
	err = db.conn.Get(&row,
		"SELECT grid_rows, grid_cols, pressure_json FROM fields WHERE run_id = ? AND step = ?",
		runID, step,
	)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := json.Unmarshal([]byte(row.Pressure), &pressure); err != nil {
		return 0, 0, nil, fmt.Errorf("decode pressure: %w", err)
	}
	return row.Rows, row.Cols, pressure, nil
}
