// Package simulation provides an end-to-end test harness for federated
// runs: a Runner executes a Scenario against the real coordinator, recorder
// and checkpoint store, and assertion helpers validate the outcome.
package simulation

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/checkpoint"
	"github.com/YunHaaaa/fedPrune/internal/config"
	"github.com/YunHaaaa/fedPrune/internal/federation"
	"github.com/YunHaaaa/fedPrune/internal/metrics"
)

// Runner executes scenarios against real components with temporary storage.
type Runner struct {
	t *testing.T
}

// NewRunner creates a scenario runner bound to the test.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{t: t}
}

// Run executes the scenario to completion and collects the results.
func (r *Runner) Run(scenario Scenario) Result {
	r.t.Helper()
	ctx := context.Background()

	cfg := scenario.Config
	if cfg == (config.Config{}) {
		cfg = SmallConfig()
	}
	src := scenario.Source
	if src == nil {
		src = SmallSource()
	}

	var buf bytes.Buffer
	rec := metrics.NewRecorder(&buf)

	var store *checkpoint.Store
	if scenario.Checkpoints {
		s, err := checkpoint.Open(ctx, filepath.Join(r.t.TempDir(), "checkpoints.db"))
		if err != nil {
			r.t.Fatalf("%s: opening checkpoint store: %v", scenario.Name, err)
		}
		r.t.Cleanup(func() { s.Close() })
		store = s
	}

	coord, err := federation.New(cfg, src, nil, rec, store)
	if err != nil {
		r.t.Fatalf("%s: creating coordinator: %v", scenario.Name, err)
	}
	if err := coord.Run(ctx); err != nil {
		r.t.Fatalf("%s: running federation: %v", scenario.Name, err)
	}

	rows, err := metrics.ReadRows(&buf)
	if err != nil {
		r.t.Fatalf("%s: reading metric rows: %v", scenario.Name, err)
	}

	res := Result{
		RunID:               coord.RunID(),
		Global:              coord.Global(),
		Rows:                rows,
		BestAccuracy:        coord.BestAccuracy(),
		BestCheckpointRound: -1,
	}
	if store != nil {
		best, err := store.Best(ctx, coord.RunID())
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
		case err != nil:
			r.t.Fatalf("%s: loading best checkpoint: %v", scenario.Name, err)
		default:
			res.BestCheckpointRound = best.Round
			res.BestCheckpointState = best.State
		}
	}
	return res
}
