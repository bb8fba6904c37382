// Package checkpoint persists global model states to SQLite so the best
// round of a run can be recovered after the process exits. States travel as
// Arrow IPC blobs produced by the wire package.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    run_id TEXT NOT NULL,
    round INTEGER NOT NULL,
    mean_accuracy REAL NOT NULL,
    state BLOB NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (run_id, round)
);
`

// ErrNotFound is returned when a run has no stored checkpoints.
var ErrNotFound = errors.New("checkpoint: not found")

// Store is a SQLite-backed checkpoint archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens the checkpoint database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing database: %w", err)
	}
	return nil
}

// Put stores (or overwrites) the global state for a round of a run.
func (s *Store) Put(ctx context.Context, runID string, round int, meanAccuracy float64, state *nn.State) error {
	blob, err := wire.Encode(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (run_id, round, mean_accuracy, state, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, round, meanAccuracy, blob, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("checkpoint: storing round %d: %w", round, err)
	}
	return nil
}

// Checkpoint is one stored global state.
type Checkpoint struct {
	RunID        string
	Round        int
	MeanAccuracy float64
	State        *nn.State
}

// Best returns the run's highest-accuracy checkpoint, breaking ties toward
// the later round.
func (s *Store) Best(ctx context.Context, runID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT round, mean_accuracy, state FROM checkpoints
		 WHERE run_id = ?
		 ORDER BY mean_accuracy DESC, round DESC
		 LIMIT 1`, runID)

	cp := Checkpoint{RunID: runID}
	var blob []byte
	if err := row.Scan(&cp.Round, &cp.MeanAccuracy, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return cp, fmt.Errorf("checkpoint: querying best for run %s: %w", runID, err)
	}

	state, err := wire.Decode(blob)
	if err != nil {
		return cp, fmt.Errorf("checkpoint: decoding round %d: %w", cp.Round, err)
	}
	cp.State = state
	return cp, nil
}

// Rounds lists the stored rounds for a run in ascending order.
func (s *Store) Rounds(ctx context.Context, runID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round FROM checkpoints WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing rounds for run %s: %w", runID, err)
	}
	defer rows.Close()

	var rounds []int
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: iterating rounds: %w", err)
	}
	return rounds, nil
}
