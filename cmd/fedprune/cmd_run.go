package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YunHaaaa/fedPrune/internal/checkpoint"
	"github.com/YunHaaaa/fedPrune/internal/config"
	"github.com/YunHaaaa/fedPrune/internal/data"
	"github.com/YunHaaaa/fedPrune/internal/federation"
	"github.com/YunHaaaa/fedPrune/internal/logging"
	"github.com/YunHaaaa/fedPrune/internal/metrics"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a federated sparse-training simulation",
		Long: `Run a full simulation: partition the dataset across simulated clients,
train the configured rounds, and write per-client evaluation rows to CSV.

Flags override the corresponding config file fields.

Example:
  fedprune run --config experiment.yaml --rounds 200 --sparsity 0.8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyOverrides(cmd, &cfg)
			cfg = cfg.WithDerived()

			logger := logging.NewLogger(cfg.LogLevel, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var src *data.Source
			switch cfg.Dataset {
			case "mnist":
				src, err = data.MNIST(cfg.DataDir)
				if err != nil {
					return err
				}
			default:
				src = data.Synthetic(10, 32, 4000, 1000, cfg.Seed)
			}

			out, err := os.Create(cfg.Outfile)
			if err != nil {
				return fmt.Errorf("creating outfile %s: %w", cfg.Outfile, err)
			}
			defer out.Close()
			rec := metrics.NewRecorder(out)

			var store *checkpoint.Store
			if cfg.CheckpointPath != "" {
				store, err = checkpoint.Open(ctx, cfg.CheckpointPath)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			coord, err := federation.New(cfg, src, logger, rec, store)
			if err != nil {
				return err
			}
			if err := coord.Run(ctx); err != nil {
				return err
			}

			logger.Info("run complete",
				"run_id", coord.RunID(),
				"rounds", cfg.Rounds,
				"best_mean_accuracy", coord.BestAccuracy(),
				"outfile", cfg.Outfile)
			return nil
		},
	}

	cmd.Flags().String("config", "", "YAML configuration file")
	cmd.Flags().Int("rounds", 0, "Number of federated rounds")
	cmd.Flags().Int("clients", 0, "Clients sampled per round")
	cmd.Flags().Int("total-clients", 0, "Total simulated clients")
	cmd.Flags().Int("epochs", 0, "Local epochs per round")
	cmd.Flags().Int64("seed", 0, "Random seed")
	cmd.Flags().Float64("sparsity", -1, "Initial global sparsity")
	cmd.Flags().Float64("final-sparsity", -1, "Final global sparsity")
	cmd.Flags().Float64("readjustment-ratio", -1, "Prune/grow readjustment ratio")
	cmd.Flags().Float64("prox", -1, "FedProx proximal coefficient")
	cmd.Flags().Int("min-votes", -1, "Minimum weighted votes to keep a mask slot")
	cmd.Flags().Bool("remember-old", false, "Let old global values vote for abandoned slots")
	cmd.Flags().Bool("fp16", false, "Account uploads at 16-bit width")
	cmd.Flags().Bool("ensemble", false, "Train a local co-learner per client")
	cmd.Flags().String("dataset", "", "Dataset: synthetic or mnist")
	cmd.Flags().String("data-dir", "", "Directory with raw MNIST files")
	cmd.Flags().String("distribution", "", "Client partition: iid or dirichlet")
	cmd.Flags().Float64("beta", -1, "Dirichlet concentration")
	cmd.Flags().String("outfile", "", "CSV output path")
	cmd.Flags().String("checkpoint", "", "SQLite checkpoint database path")
	cmd.Flags().String("log-level", "", "Log level: info, debug, trace")
	return cmd
}

// applyOverrides copies the flags the operator actually set over the file
// configuration.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("rounds") {
		cfg.Rounds, _ = f.GetInt("rounds")
	}
	if f.Changed("clients") {
		cfg.ClientsPerRound, _ = f.GetInt("clients")
	}
	if f.Changed("total-clients") {
		cfg.TotalClients, _ = f.GetInt("total-clients")
	}
	if f.Changed("epochs") {
		cfg.Epochs, _ = f.GetInt("epochs")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("sparsity") {
		cfg.Sparsity, _ = f.GetFloat64("sparsity")
	}
	if f.Changed("final-sparsity") {
		cfg.FinalSparsity, _ = f.GetFloat64("final-sparsity")
	}
	if f.Changed("readjustment-ratio") {
		cfg.ReadjustmentRatio, _ = f.GetFloat64("readjustment-ratio")
	}
	if f.Changed("prox") {
		cfg.Prox, _ = f.GetFloat64("prox")
	}
	if f.Changed("min-votes") {
		cfg.MinVotes, _ = f.GetInt("min-votes")
	}
	if f.Changed("remember-old") {
		cfg.RememberOld, _ = f.GetBool("remember-old")
	}
	if f.Changed("fp16") {
		cfg.FP16, _ = f.GetBool("fp16")
	}
	if f.Changed("ensemble") {
		cfg.Ensemble, _ = f.GetBool("ensemble")
	}
	if f.Changed("dataset") {
		cfg.Dataset, _ = f.GetString("dataset")
	}
	if f.Changed("data-dir") {
		cfg.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("distribution") {
		cfg.Distribution, _ = f.GetString("distribution")
	}
	if f.Changed("beta") {
		cfg.Beta, _ = f.GetFloat64("beta")
	}
	if f.Changed("outfile") {
		cfg.Outfile, _ = f.GetString("outfile")
	}
	if f.Changed("checkpoint") {
		cfg.CheckpointPath, _ = f.GetString("checkpoint")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
}
