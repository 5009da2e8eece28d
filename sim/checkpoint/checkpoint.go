// Package checkpoint persists paused simulations so that they can be
// resumed later, possibly by a different process. Checkpoints are stored as
// JSON payloads in a single SQLite table.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/inference-sim/coalescence-sim/sim"
)

// timeLayout sorts lexicographically for UTC times.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no checkpoint matches a lookup.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is everything needed to resume a paused run: the scenario it
// was built from and the state of its simulation.
type Checkpoint struct {
	ID          string              `json:"id"`
	RunID       string              `json:"run_id"`
	Scenario    json.RawMessage     `json:"scenario"`
	PauseBefore float64             `json:"pause_before"`
	State       sim.SimulationState `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Remaining counts the lineages still to be simulated.
func (c *Checkpoint) Remaining() int {
	return len(c.State.Sampler.Lineages) + len(c.State.Immigrants)
}

// Summary describes a stored checkpoint without its payload.
type Summary struct {
	ID          string
	RunID       string
	PauseBefore float64
	Remaining   int
	CreatedAt   time.Time
}

// NewRunID returns a fresh, time-ordered run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Store is a SQLite-backed checkpoint store.
//
// Thread-safety: safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the checkpoint database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "checkpoints.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		pause_before REAL NOT NULL,
		remaining INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Save stores a checkpoint, assigning its ID and creation time when unset,
// and returns the ID.
func (s *Store) Save(ctx context.Context, c *Checkpoint) (retID string, retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.RunID == "" {
		return "", errors.New("checkpoint has no run id")
	}
	if c.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate checkpoint id: %w", err)
		}
		c.ID = id.String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO checkpoints(id,run_id,pause_before,remaining,created_at,payload)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET pause_before=excluded.pause_before, remaining=excluded.remaining, payload=excluded.payload`,
		c.ID, c.RunID, c.PauseBefore, c.Remaining(), c.CreatedAt.UTC().Format(timeLayout), payload); err != nil {
		return "", fmt.Errorf("upsert checkpoint %s: %w", c.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	return c.ID, nil
}

// Load returns the checkpoint with the given ID.
func (s *Store) Load(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE id = ?`, id)
	return decode(row, id)
}

// Latest returns the most recent checkpoint of a run.
func (s *Store) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, runID)
	return decode(row, runID)
}

func decode(row *sql.Row, key string) (*Checkpoint, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", key, err)
	}
	return &c, nil
}

// List returns summaries of all checkpoints, oldest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pause_before, remaining, created_at FROM checkpoints ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var summaries []Summary
	for rows.Next() {
		var (
			sm      Summary
			created string
		)
		if err := rows.Scan(&sm.ID, &sm.RunID, &sm.PauseBefore, &sm.Remaining, &created); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if sm.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", sm.ID, err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
