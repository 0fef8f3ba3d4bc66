// Package store persists run outcomes to SQLite so that several runs can be
// compared after the fact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/rumor-routing-sim/kb"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// ErrUnknownRun is returned when a run id has never been registered.
var ErrUnknownRun = errors.New("store: unknown run")

// Run describes one simulation run.
type Run struct {
	ID        string
	Topology  string
	Seed      int64
	StartedAt time.Time
}

// Store wraps a SQLite database in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		topology   TEXT NOT NULL,
		seed       INTEGER NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL REFERENCES runs(id),
		kind       TEXT NOT NULL,
		message_id TEXT NOT NULL,
		node_x     INTEGER NOT NULL,
		node_y     INTEGER NOT NULL,
		tick       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_outcomes_kind ON outcomes(run_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BeginRun registers a run. Registering the same id twice is a no-op.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return retryOp(defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, topology, seed, started_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			run.ID, run.Topology, run.Seed, run.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// GetRun loads a registered run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		run     Run
		started string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topology, seed, started_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Topology, &run.Seed, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return Run{}, err
	}
	run.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	return run, nil
}

// Save appends records to a run inside a single transaction.
func (s *Store) Save(ctx context.Context, runID string, records ...kb.Record) error {
	if len(records) == 0 {
		return nil
	}
	return retryOp(defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO outcomes (run_id, kind, message_id, node_x, node_y, tick)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, runID, r.Kind.String(), r.ID, r.Node.X, r.Node.Y, r.Tick); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Outcomes returns a run's records ordered by tick, then by insertion.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]kb.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, message_id, node_x, node_y, tick FROM outcomes
		 WHERE run_id = ? ORDER BY tick, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kb.Record
	for rows.Next() {
		var (
			kind string
			r    kb.Record
			x, y int
		)
		if err := rows.Scan(&kind, &r.ID, &x, &y, &r.Tick); err != nil {
			return nil, err
		}
		r.Kind, err = kb.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		r.Node = model.Position{X: x, Y: y}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts tallies a run's outcomes by kind.
func (s *Store) Counts(ctx context.Context, runID string) (map[kb.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[kb.Kind]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		k, err := kb.ParseKind(name)
		if err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, rows.Err()
}
