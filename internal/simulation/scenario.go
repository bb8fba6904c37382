package simulation

import (
	"github.com/YunHaaaa/fedPrune/internal/config"
	"github.com/YunHaaaa/fedPrune/internal/data"
	"github.com/YunHaaaa/fedPrune/internal/metrics"
	"github.com/YunHaaaa/fedPrune/internal/nn"
)

// Scenario defines a complete end-to-end federated run.
type Scenario struct {
	Name string

	// Config drives the run. Leave zero to use SmallConfig.
	Config config.Config

	// Source supplies the dataset. Leave nil for the default synthetic
	// clusters.
	Source *data.Source

	// Checkpoints enables a temporary SQLite checkpoint store for the run.
	Checkpoints bool
}

// Result captures everything a run produced.
type Result struct {
	RunID        string
	Global       *nn.State
	Rows         []metrics.Row
	BestAccuracy float64

	// BestCheckpointRound is -1 when checkpoints were disabled or none was
	// stored.
	BestCheckpointRound int
	// BestCheckpointState is nil unless Checkpoints was set.
	BestCheckpointState *nn.State
}

// SmallConfig is a fast configuration suitable for scenario tests: few
// rounds, small model, synthetic-friendly shapes.
func SmallConfig() config.Config {
	cfg := config.Default()
	cfg.Rounds = 6
	cfg.ClientsPerRound = 4
	cfg.TotalClients = 8
	cfg.Epochs = 2
	cfg.EvalEvery = 3
	cfg.BatchSize = 8
	cfg.Sparsity = 0.3
	cfg.SparsityDistribution = "uniform"
	cfg.ReadjustmentRatio = 0.3
	cfg.PruningBegin = 2
	cfg.PruningInterval = 2
	cfg.RoundsBetweenReadjustments = 1
	cfg.Dataset = "synthetic"
	cfg.Distribution = "iid"
	cfg.SamplesPerClient = 25
	cfg.MinSamples = 0
	cfg.HiddenSize = 8
	return cfg.WithDerived()
}

// SmallSource returns the default synthetic dataset matching SmallConfig.
func SmallSource() *data.Source {
	return data.Synthetic(3, 4, 300, 80, 42)
}
