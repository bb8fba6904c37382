// Package federation runs the server side of the simulation: it samples
// clients each round, fans their local training out across goroutines,
// reduces the reports into the next global state, enforces the round's
// sparsity target, and records evaluation metrics and checkpoints.
package federation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/YunHaaaa/fedPrune/internal/aggregate"
	"github.com/YunHaaaa/fedPrune/internal/checkpoint"
	"github.com/YunHaaaa/fedPrune/internal/client"
	"github.com/YunHaaaa/fedPrune/internal/config"
	"github.com/YunHaaaa/fedPrune/internal/data"
	"github.com/YunHaaaa/fedPrune/internal/logging"
	"github.com/YunHaaaa/fedPrune/internal/metrics"
	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/prune"
	"github.com/YunHaaaa/fedPrune/internal/schedule"
)

// costAccount tracks a client's communication and compute since the last
// evaluation round.
type costAccount struct {
	download float64
	upload   float64
	compute  float64
}

// Coordinator owns the global model and drives the federated rounds.
type Coordinator struct {
	cfg   config.Config
	sched *schedule.Scheduler
	agg   *aggregate.Aggregator

	runID   string
	global  *nn.MLP
	clients []*client.Client
	account []costAccount

	rng *rand.Rand
	log *slog.Logger

	rec  *metrics.Recorder
	ckpt *checkpoint.Store

	bestAccuracy float64
}

// New partitions the source across simulated clients, prunes the initial
// global model to the starting sparsity, and distributes the initial
// parameters. The recorder and checkpoint store may be nil.
func New(cfg config.Config, src *data.Source, log *slog.Logger, rec *metrics.Recorder, ckpt *checkpoint.Store) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sched := &schedule.Scheduler{
		Sparsity:          cfg.Sparsity,
		FinalSparsity:     cfg.FinalSparsity,
		Distribution:      schedule.Distribution(cfg.SparsityDistribution),
		DecayMethod:       schedule.DecayMethod(cfg.RateDecayMethod),
		RateDecayEnd:      cfg.RateDecayEnd,
		ReadjustmentRatio: cfg.ReadjustmentRatio,
	}

	c := &Coordinator{
		cfg:   cfg,
		sched: sched,
		agg: &aggregate.Aggregator{
			MinVotes:    cfg.MinVotes,
			RememberOld: cfg.RememberOld,
			FP16:        cfg.FP16,
		},
		runID: uuid.NewString(),
		rng:   rng,
		log:   log,
		rec:   rec,
		ckpt:  ckpt,
	}

	c.global = nn.NewMLP(src.Dim, cfg.HiddenSize, src.Classes, rng)
	targets, err := sched.TargetCounts(c.global.Net.Layers, cfg.Sparsity)
	if err != nil {
		return nil, fmt.Errorf("federation: initial sparsity targets: %w", err)
	}
	prune.Prune(c.global.Net, targets, prune.Type(cfg.PruningType))

	if err := c.buildClients(src); err != nil {
		return nil, err
	}
	if err := c.distributeInitial(); err != nil {
		return nil, err
	}

	log.Info("federation initialized",
		"run_id", c.runID,
		"clients", len(c.clients),
		"global_sparsity", c.global.Net.Sparsity())
	return c, nil
}

// buildClients partitions the source and constructs a client per shard,
// dropping shards below the minimum sample count.
func (c *Coordinator) buildClients(src *data.Source) error {
	var shards [][]data.Sample
	switch c.cfg.Distribution {
	case "iid":
		shards = data.PartitionIID(src.Train, c.cfg.TotalClients, c.cfg.SamplesPerClient, c.rng)
	case "dirichlet":
		shards = data.PartitionDirichlet(src.Train, c.cfg.TotalClients, src.Classes, c.cfg.Beta, uint64(c.cfg.Seed), c.rng)
	default:
		return fmt.Errorf("federation: unsupported distribution %q", c.cfg.Distribution)
	}

	perClientTest := len(src.Test) / c.cfg.TotalClients
	if perClientTest == 0 {
		perClientTest = len(src.Test)
	}
	testShards := data.PartitionIID(src.Test, c.cfg.TotalClients, perClientTest, c.rng)

	opts := client.Options{
		Epochs:          c.cfg.Epochs,
		BatchSize:       c.cfg.BatchSize,
		LR:              c.cfg.Eta,
		Momentum:        c.cfg.Momentum,
		L2:              c.cfg.L2,
		Prox:            c.cfg.Prox,
		PruningType:     prune.Type(c.cfg.PruningType),
		PruningBegin:    c.cfg.PruningBegin,
		PruningInterval: c.cfg.PruningInterval,
		Ensemble:        c.cfg.Ensemble,
		LossScaling:     c.cfg.LossScaling,
		FP16:            c.cfg.FP16,
	}

	dropped := 0
	for i, shard := range shards {
		if len(shard) == 0 || len(shard) < c.cfg.MinSamples {
			dropped++
			continue
		}
		clientRNG := rand.New(rand.NewSource(c.cfg.Seed + int64(i) + 1))
		model := nn.NewMLP(c.global.In, c.global.Hidden, c.global.Out, clientRNG)
		var co *nn.CoLearner
		if c.cfg.Ensemble {
			co = nn.NewCoLearner(c.global.Hidden, c.global.Out, clientRNG)
		}
		id := fmt.Sprintf("c-%03d", i)
		c.clients = append(c.clients, client.New(id, model, co, shard, testShards[i], c.sched, opts, clientRNG, c.log))
	}
	if dropped > 0 {
		c.log.Debug("dropped undersized client shards", "dropped", dropped, "min_samples", c.cfg.MinSamples)
	}
	if len(c.clients) == 0 {
		return fmt.Errorf("federation: no client shard holds at least %d samples", c.cfg.MinSamples)
	}
	c.account = make([]costAccount, len(c.clients))
	return nil
}

// distributeInitial installs the run's starting parameters on every client.
// The initial distribution is free; cost accounting starts with sampled
// rounds.
func (c *Coordinator) distributeInitial() error {
	global := c.global.Net.StateDict()
	for _, cl := range c.clients {
		if err := cl.ReceiveInitial(global); err != nil {
			return fmt.Errorf("federation: distributing initial state: %w", err)
		}
	}
	return nil
}

// RunID identifies this run in metrics rows and checkpoints.
func (c *Coordinator) RunID() string { return c.runID }

// Global returns a snapshot of the current global state.
func (c *Coordinator) Global() *nn.State { return c.global.Net.StateDict() }

// BestAccuracy returns the best mean evaluation accuracy observed so far.
func (c *Coordinator) BestAccuracy() float64 { return c.bestAccuracy }

// Run drives all configured rounds.
func (c *Coordinator) Run(ctx context.Context) error {
	for round := 1; round <= c.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runRound(ctx, round); err != nil {
			return fmt.Errorf("federation: round %d: %w", round, err)
		}
	}
	if c.rec != nil {
		if err := c.rec.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// runRound executes one federated round: sample, train, reduce, enforce the
// sparsity schedule, and evaluate when due.
func (c *Coordinator) runRound(ctx context.Context, round int) error {
	ratio := c.sched.RoundReadjustmentRatio(round)
	readjust := schedule.IsReadjustmentRound(round, c.cfg.RoundsBetweenReadjustments, ratio)
	roundSparsity := c.sched.RoundSparsity(round)

	rc := client.RoundContext{
		Round:             round,
		Sparsity:          roundSparsity,
		ReadjustmentRatio: ratio,
		Readjust:          readjust,
		Global:            c.global.Net.StateDict(),
	}

	reports, err := c.trainSampled(ctx, rc)
	if err != nil {
		return err
	}

	published, forMask, err := c.agg.Reduce(rc.Global, reports)
	if err != nil {
		return err
	}

	// The remember-old view decides the mask; its values are never
	// published.
	if err := c.global.Net.LoadState(forMask); err != nil {
		return err
	}
	if c.global.Net.Sparsity() < roundSparsity {
		// Aggregation densified the union of client masks; reprune on the
		// server to get back to the schedule.
		targets, err := c.sched.TargetCounts(c.global.Net.Layers, roundSparsity)
		if err != nil {
			return err
		}
		prune.Prune(c.global.Net, targets, prune.Type(c.cfg.PruningType))
	}

	// Publish the averaged values under the repruned mask.
	for _, l := range c.global.Net.Layers {
		published.SetMask(l.WeightName(), l.Mask.Clone())
	}
	if err := c.global.Net.LoadState(published); err != nil {
		return err
	}
	c.global.Net.ApplyMasks()

	c.log.Debug("round reduced",
		"round", round,
		"reports", len(reports),
		"sparsity", c.global.Net.Sparsity(),
		"target_sparsity", roundSparsity,
		"readjust", readjust)

	if c.cfg.EvalEvery > 0 && round%c.cfg.EvalEvery == 0 {
		if err := c.evaluate(ctx, round); err != nil {
			return err
		}
	}
	return nil
}

// trainSampled draws clients with replacement and trains them concurrently.
// A client drawn more than once trains sequentially within its goroutine,
// contributing one report per draw. Reports land in fixed slots keyed by draw
// order, so the aggregation's float summation order is identical on every run
// of the same seed.
func (c *Coordinator) trainSampled(ctx context.Context, rc client.RoundContext) ([]aggregate.Report, error) {
	draws := make(map[int]int, c.cfg.ClientsPerRound)
	order := make([]int, 0, c.cfg.ClientsPerRound)
	for i := 0; i < c.cfg.ClientsPerRound; i++ {
		idx := c.rng.Intn(len(c.clients))
		if draws[idx] == 0 {
			order = append(order, idx)
		}
		draws[idx]++
	}

	offsets := make(map[int]int, len(order))
	total := 0
	for _, idx := range order {
		offsets[idx] = total
		total += draws[idx]
	}
	reports := make([]aggregate.Report, total)

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range order {
		idx := idx
		g.Go(func() error {
			// Each goroutine owns a distinct client, its report slots, and
			// its cost account; no other synchronization is needed.
			cl := c.clients[idx]
			for n := 0; n < draws[idx]; n++ {
				res, err := cl.Train(gctx, client.RoundContext{
					Round:             rc.Round,
					Sparsity:          rc.Sparsity,
					ReadjustmentRatio: rc.ReadjustmentRatio,
					Readjust:          rc.Readjust,
					Global:            rc.Global.Clone(),
				})
				if err != nil {
					return err
				}
				reports[offsets[idx]+n] = aggregate.Report{
					ClientID:       cl.ID,
					TrainSize:      cl.TrainSize(),
					State:          res.State,
					DownloadCost:   res.DownloadCost,
					UploadCost:     res.UploadCost,
					ComputeSeconds: res.ComputeSeconds,
				}
				c.account[idx].download += res.DownloadCost
				c.account[idx].upload += res.UploadCost
				c.account[idx].compute += res.ComputeSeconds
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// evaluate tests the global model on every client's shard, records the rows,
// resets the cost accounts, and checkpoints the state when the mean accuracy
// improves.
func (c *Coordinator) evaluate(ctx context.Context, round int) error {
	global := c.global.Net.StateDict()
	accs := make([]float64, 0, len(c.clients))

	for i, cl := range c.clients {
		acc, coAcc, err := cl.Test(global)
		if err != nil {
			return err
		}
		accs = append(accs, acc)

		if c.rec != nil {
			row := metrics.Row{
				RunID:          c.runID,
				Round:          round,
				ClientID:       cl.ID,
				Accuracy:       acc,
				CoAccuracy:     coAcc,
				Sparsity:       cl.Sparsity(),
				ComputeSeconds: c.account[i].compute,
				DownloadBits:   c.account[i].download,
				UploadBits:     c.account[i].upload,
			}
			if err := c.rec.Record(row); err != nil {
				return err
			}
		}
		c.account[i] = costAccount{}
	}

	sum := metrics.Summarize(accs)
	c.log.Info("evaluation",
		"round", round,
		"mean_accuracy", sum.Mean,
		"std_accuracy", sum.Std,
		"min_accuracy", sum.Min,
		"max_accuracy", sum.Max,
		"global_sparsity", c.global.Net.Sparsity())

	if sum.Mean > c.bestAccuracy {
		c.bestAccuracy = sum.Mean
		if c.ckpt != nil {
			if err := c.ckpt.Put(ctx, c.runID, round, sum.Mean, global); err != nil {
				return err
			}
			c.log.Debug("checkpoint stored", "round", round, "mean_accuracy", sum.Mean)
		}
	}
	return nil
}
