// Package config provides the immutable experiment configuration for a
// federated sparse-training run. It supports loading from YAML files over a
// set of sensible experiment defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config contains all run settings. A single value is constructed up front
// and passed to each component; nothing mutates it after validation.
type Config struct {
	// Federation shape.
	Rounds          int   `yaml:"rounds"`
	ClientsPerRound int   `yaml:"clients"`
	TotalClients    int   `yaml:"total_clients"`
	Epochs          int   `yaml:"epochs"`
	EvalEvery       int   `yaml:"eval_every"`
	Seed            int64 `yaml:"seed"`

	// Local optimization.
	Eta         float64 `yaml:"eta"`
	Momentum    float64 `yaml:"momentum"`
	L2          float64 `yaml:"l2"`
	BatchSize   int     `yaml:"batch_size"`
	Prox        float64 `yaml:"prox"`
	Ensemble    bool    `yaml:"ensemble"`
	LossScaling float64 `yaml:"loss_scaling"`

	// Sparsity lifecycle.
	Sparsity                   float64 `yaml:"sparsity"`
	FinalSparsity              float64 `yaml:"final_sparsity"`
	SparsityDistribution       string  `yaml:"sparsity_distribution"`
	PruningType                string  `yaml:"pruning_type"`
	RateDecayMethod            string  `yaml:"rate_decay_method"`
	RateDecayEnd               int     `yaml:"rate_decay_end"`
	ReadjustmentRatio          float64 `yaml:"readjustment_ratio"`
	PruningBegin               int     `yaml:"pruning_begin"`
	PruningInterval            int     `yaml:"pruning_interval"`
	RoundsBetweenReadjustments int     `yaml:"rounds_between_readjustments"`

	// Aggregation policy.
	RememberOld bool `yaml:"remember_old"`
	MinVotes    int  `yaml:"min_votes"`
	FP16        bool `yaml:"fp16"`

	// Data.
	Dataset          string  `yaml:"dataset"`      // "synthetic" or "mnist"
	DataDir          string  `yaml:"data_dir"`     // mnist raw directory
	Distribution     string  `yaml:"distribution"` // "iid" or "dirichlet"
	Beta             float64 `yaml:"beta"`
	MinSamples       int     `yaml:"min_samples"`
	SamplesPerClient int     `yaml:"samples_per_client"`

	// Model shape (the drivers train a two-layer MLP).
	HiddenSize int `yaml:"hidden_size"`

	// Outputs.
	Outfile        string `yaml:"outfile"`
	CheckpointPath string `yaml:"checkpoint_path"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the baseline experiment configuration.
func Default() Config {
	return Config{
		Rounds:          400,
		ClientsPerRound: 20,
		TotalClients:    400,
		Epochs:          10,
		EvalEvery:       10,
		Seed:            42,

		Eta:         0.01,
		Momentum:    0.9,
		L2:          0.001,
		BatchSize:   32,
		Prox:        0,
		LossScaling: 1.0,

		Sparsity:                   0.1,
		FinalSparsity:              -1, // derived: defaults to Sparsity
		SparsityDistribution:       "erk",
		PruningType:                "hard",
		RateDecayMethod:            "cosine",
		RateDecayEnd:               -1, // derived: defaults to Rounds/2
		ReadjustmentRatio:          0.5,
		PruningBegin:               9,
		PruningInterval:            10,
		RoundsBetweenReadjustments: 10,

		MinVotes: 0,

		Dataset:          "synthetic",
		Distribution:     "dirichlet",
		Beta:             0.1,
		SamplesPerClient: 20,

		HiddenSize: 32,

		Outfile:  "output.csv",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged. The -1 derivation sentinels are preserved so that
// callers can still override the fields they derive from; call WithDerived
// once all overrides are in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// WithDerived fills the values whose defaults depend on other fields:
// rate_decay_end defaults to rounds/2 and final_sparsity to sparsity.
func (c Config) WithDerived() Config {
	if c.RateDecayEnd < 0 {
		c.RateDecayEnd = c.Rounds / 2
	}
	if c.FinalSparsity < 0 {
		c.FinalSparsity = c.Sparsity
	}
	return c
}

// Validate rejects configurations the run cannot proceed with. These are
// operator mistakes; there is no recovery.
func (c Config) Validate() error {
	if c.Sparsity < 0 || c.Sparsity > 1 {
		return fmt.Errorf("config: sparsity %v outside [0, 1]", c.Sparsity)
	}
	if c.FinalSparsity < 0 || c.FinalSparsity > 1 {
		return fmt.Errorf("config: final_sparsity %v outside [0, 1]", c.FinalSparsity)
	}
	if c.ReadjustmentRatio < 0 || c.ReadjustmentRatio > 1 {
		return fmt.Errorf("config: readjustment_ratio %v outside [0, 1]", c.ReadjustmentRatio)
	}
	switch c.SparsityDistribution {
	case "uniform", "er", "erk":
	default:
		return fmt.Errorf("config: unsupported sparsity_distribution %q", c.SparsityDistribution)
	}
	switch c.PruningType {
	case "hard", "soft":
	default:
		return fmt.Errorf("config: unsupported pruning_type %q", c.PruningType)
	}
	switch c.RateDecayMethod {
	case "constant", "cosine":
	default:
		return fmt.Errorf("config: unsupported rate_decay_method %q", c.RateDecayMethod)
	}
	switch c.Dataset {
	case "synthetic", "mnist":
	default:
		return fmt.Errorf("config: unsupported dataset %q", c.Dataset)
	}
	switch c.Distribution {
	case "iid", "dirichlet":
	default:
		return fmt.Errorf("config: unsupported distribution %q", c.Distribution)
	}
	if c.Rounds <= 0 || c.ClientsPerRound <= 0 || c.TotalClients <= 0 {
		return fmt.Errorf("config: rounds, clients and total_clients must be positive")
	}
	if c.Epochs <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("config: epochs and batch_size must be positive")
	}
	if c.MinVotes < 0 {
		return fmt.Errorf("config: min_votes must not be negative")
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("config: hidden_size must be positive")
	}
	return nil
}
