// Package client simulates one federated participant: it holds the
// participant's private data shard and model replica, reconciles incoming
// global states against its local mask, runs local epochs with optional
// proximal regularization, readjusts its mask on the configured cadence, and
// accounts every bit it would have sent or received on a real network.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/YunHaaaa/fedPrune/internal/commcost"
	"github.com/YunHaaaa/fedPrune/internal/data"
	"github.com/YunHaaaa/fedPrune/internal/logging"
	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/prune"
	"github.com/YunHaaaa/fedPrune/internal/reconcile"
	"github.com/YunHaaaa/fedPrune/internal/schedule"
)

// Options are the per-client training knobs, fixed for the whole run.
type Options struct {
	Epochs    int
	BatchSize int

	LR       float64
	Momentum float64
	L2       float64

	// Prox is the FedProx proximal coefficient; 0 disables the term.
	Prox float64

	PruningType     prune.Type
	PruningBegin    int
	PruningInterval int

	// Ensemble attaches a local co-learner head whose loss flows back into
	// the shared hidden features. The co-learner itself never leaves the
	// client.
	Ensemble    bool
	LossScaling float64

	// FP16 halves the accounted width of uploaded parameters.
	FP16 bool
}

// RoundContext is what the coordinator hands a sampled client for one round.
type RoundContext struct {
	Round             int
	Sparsity          float64
	ReadjustmentRatio float64
	// Readjust enables mask readjustment this round; the epoch cadence is
	// still checked locally.
	Readjust bool
	// Global is the current aggregated state, or nil when the client should
	// train from its local state as-is.
	Global *nn.State
}

// TrainResult is the client's report back to the coordinator.
type TrainResult struct {
	State          *nn.State
	DownloadCost   float64
	UploadCost     float64
	ComputeSeconds float64
}

// Client is one simulated participant. Not safe for concurrent use; the
// coordinator runs each client's work sequentially.
type Client struct {
	ID string

	model *nn.MLP
	co    *nn.CoLearner

	train []data.Sample
	test  []data.Sample

	sched *schedule.Scheduler
	opts  Options

	rng *rand.Rand
	log *slog.Logger

	// curEpoch counts completed local epochs cumulatively across rounds; the
	// readjustment cadence is phrased in these.
	curEpoch int

	// participated is set once the client has received a global state in a
	// sampled round; the first reception is treated as seed material and
	// charges no parameter download.
	participated bool

	initialGlobal *nn.State
}

// New constructs a client around its private shard and model replica. The
// co-learner may be nil when Options.Ensemble is false.
func New(id string, model *nn.MLP, co *nn.CoLearner, train, test []data.Sample, sched *schedule.Scheduler, opts Options, rng *rand.Rand, log *slog.Logger) *Client {
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		ID:    id,
		model: model,
		co:    co,
		train: train,
		test:  test,
		sched: sched,
		opts:  opts,
		rng:   rng,
		log:   log,
	}
}

// TrainSize returns the number of training samples, the client's aggregation
// weight.
func (c *Client) TrainSize() int { return len(c.train) }

// Sparsity returns the model's current mask sparsity.
func (c *Client) Sparsity() float64 { return c.model.Net.Sparsity() }

// ReceiveInitial installs the run's initial global parameters. Called once
// before the first round; the initial distribution is free, costs start with
// the first sampled round.
func (c *Client) ReceiveInitial(global *nn.State) error {
	if err := c.model.Net.LoadState(global); err != nil {
		return fmt.Errorf("client %s: installing initial state: %w", c.ID, err)
	}
	c.model.Net.ApplyMasks()
	c.initialGlobal = global.Clone()
	return nil
}

// Train runs one round of local work: receive the global state, train the
// configured epochs, readjust the mask when the cadence lands, and report
// the resulting state with its communication costs.
func (c *Client) Train(ctx context.Context, rc RoundContext) (TrainResult, error) {
	start := time.Now()
	var res TrainResult

	if rc.Global != nil {
		dl, err := c.receiveGlobal(rc.Global)
		if err != nil {
			return res, err
		}
		res.DownloadCost += dl
	}

	proxRef := rc.Global
	if proxRef == nil {
		proxRef = c.initialGlobal
	}

	opt := nn.NewSGD(c.opts.LR, c.opts.Momentum, c.opts.L2)
	var coOpt *nn.SGD
	if c.opts.Ensemble && c.co != nil {
		coOpt = nn.NewSGD(c.opts.LR, c.opts.Momentum, c.opts.L2)
	}

	for epoch := 0; epoch < c.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batches := data.Batches(c.train, c.opts.BatchSize, c.rng)
		var last data.Batch
		for _, b := range batches {
			c.step(b, proxRef, opt, coOpt)
			last = b
		}

		// The cadence is checked against the count of epochs completed
		// before this one; the counter advances afterwards.
		if rc.Readjust && c.readjustDue() && last.Size > 0 {
			ul, err := c.readjust(rc, last)
			if err != nil {
				return res, err
			}
			res.UploadCost += ul
		}
		c.curEpoch++
	}

	maskBits, paramBits := c.model.Net.MaskBits(), c.model.Net.ParamBits()
	res.UploadCost += commcost.UploadParams(c.model.Net.Sparsity(), maskBits, paramBits, commcost.Width(c.opts.FP16))
	res.State = c.model.Net.StateDict()
	res.ComputeSeconds = time.Since(start).Seconds()

	c.log.Debug("client trained",
		"client", c.ID,
		"round", rc.Round,
		"sparsity", c.model.Net.Sparsity(),
		"download_bits", res.DownloadCost,
		"upload_bits", res.UploadCost)
	return res, nil
}

// receiveGlobal reconciles the incoming global state against the local one
// and charges the download.
func (c *Client) receiveGlobal(global *nn.State) (float64, error) {
	local := c.model.Net.StateDict()
	paramSrc, applySrc, copySrc := reconcile.Sources(local, global, true, false)
	next, maskChanged := reconcile.Reconcile(local, paramSrc, applySrc, copySrc, c.opts.PruningType)
	if err := c.model.Net.LoadState(next); err != nil {
		return 0, fmt.Errorf("client %s: installing global state: %w", c.ID, err)
	}
	c.model.Net.ApplyMasks()

	maskBits, paramBits := c.model.Net.MaskBits(), c.model.Net.ParamBits()
	var dl float64
	if maskChanged {
		dl += commcost.DownloadMask(maskBits)
	}
	// The first received global counts as seed material and is free; every
	// later round pays for the masked weights plus the unmasked parameters.
	if c.participated {
		dl += commcost.DownloadParams(global.Sparsity(), maskBits, paramBits)
	}
	c.participated = true
	return dl, nil
}

// step trains one minibatch: forward, backward (with the co-learner's
// gradient folded into the hidden features when ensembling), proximal term,
// optimizer step, and mask re-application so updates never leave the sparse
// support.
func (c *Client) step(b data.Batch, proxRef *nn.State, opt, coOpt *nn.SGD) {
	c.model.Net.ZeroGrads()
	if coOpt != nil {
		c.co.Net.ZeroGrads()
	}

	hidden, logits := c.model.Forward(b.X, b.Size)

	var extra []float32
	if coOpt != nil {
		coLogits := c.co.Forward(hidden, b.Size)
		_, extra = c.co.Backward(hidden, coLogits, b.Labels, b.Size, float32(c.opts.LossScaling))
	}

	c.model.Backward(b.X, hidden, logits, b.Labels, b.Size, extra)

	if c.opts.Prox > 0 && proxRef != nil {
		addProximal(c.model.Net, proxRef, float32(c.opts.Prox))
	}

	opt.Step(c.model.Net)
	if coOpt != nil {
		coOpt.Step(c.co.Net)
	}
	c.model.Net.ApplyMasks()
}

// addProximal adds prox * (w - w_global) to every parameter gradient.
func addProximal(net *nn.Network, ref *nn.State, prox float32) {
	add := func(name string, data, grad []float32) {
		r := ref.Param(name)
		if r == nil || grad == nil {
			return
		}
		for i := range grad {
			grad[i] += prox * (data[i] - r.Data[i])
		}
	}
	for _, l := range net.Layers {
		add(l.WeightName(), l.Weight.Data, l.Weight.Grad)
		if l.Bias != nil {
			add(l.BiasName(), l.Bias.Data, l.Bias.Grad)
		}
	}
}

// readjustDue reports whether the cumulative epoch counter lands on the
// readjustment cadence: (curEpoch - begin) mod interval == 0 with a
// sign-positive modulus, so the cadence can also land before the begin epoch
// when the interval divides in.
func (c *Client) readjustDue() bool {
	return schedule.PositiveMod(c.curEpoch-c.opts.PruningBegin, c.opts.PruningInterval) == 0
}

// readjust prunes past the round target by the readjustment ratio, then
// regrows back to the target using gradients from one extra backward pass.
// The changed mask is charged as an upload.
func (c *Client) readjust(rc RoundContext, b data.Batch) (float64, error) {
	net := c.model.Net

	net.ZeroGrads()
	hidden, logits := c.model.Forward(b.X, b.Size)
	c.model.Backward(b.X, hidden, logits, b.Labels, b.Size, nil)

	overshoot := rc.Sparsity + (1-rc.Sparsity)*rc.ReadjustmentRatio
	pruneTargets, err := c.sched.TargetCounts(net.Layers, overshoot)
	if err != nil {
		return 0, fmt.Errorf("client %s: prune targets: %w", c.ID, err)
	}
	growTargets, err := c.sched.TargetCounts(net.Layers, rc.Sparsity)
	if err != nil {
		return 0, fmt.Errorf("client %s: grow targets: %w", c.ID, err)
	}

	prune.Prune(net, pruneTargets, c.opts.PruningType)
	if err := prune.Grow(net, growTargets); err != nil {
		return 0, fmt.Errorf("client %s: regrowing mask: %w", c.ID, err)
	}
	net.ApplyMasks()

	c.log.Log(context.Background(), logging.LevelTrace, "mask readjusted",
		"client", c.ID,
		"epoch", c.curEpoch,
		"round", rc.Round,
		"overshoot", overshoot,
		"sparsity", net.Sparsity())
	return commcost.UploadMask(net.Sparsity(), net.MaskBits()), nil
}

// Test evaluates a candidate global state on the client's private test
// shard, returning the main accuracy and, when ensembling, the local
// co-learner's accuracy over the shared hidden features.
func (c *Client) Test(global *nn.State) (acc, coAcc float64, err error) {
	if len(c.test) == 0 {
		return 0, 0, nil
	}
	eval := nn.NewMLP(c.model.In, c.model.Hidden, c.model.Out, c.rng)
	if err := eval.Net.LoadState(global); err != nil {
		return 0, 0, fmt.Errorf("client %s: installing eval state: %w", c.ID, err)
	}
	eval.Net.ApplyMasks()

	const evalBatch = 64
	correct, coCorrect := 0, 0
	for start := 0; start < len(c.test); start += evalBatch {
		end := start + evalBatch
		if end > len(c.test) {
			end = len(c.test)
		}
		size := end - start
		x := make([]float32, 0, size*c.model.In)
		labels := make([]int, 0, size)
		for _, s := range c.test[start:end] {
			x = append(x, s.X...)
			labels = append(labels, s.Label)
		}

		hidden, logits := eval.Forward(x, size)
		for i, p := range nn.Argmax(logits, size, c.model.Out) {
			if p == labels[i] {
				correct++
			}
		}
		if c.opts.Ensemble && c.co != nil {
			coLogits := c.co.Forward(hidden, size)
			for i, p := range nn.Argmax(coLogits, size, c.co.Out) {
				if p == labels[i] {
					coCorrect++
				}
			}
		}
	}

	n := float64(len(c.test))
	return float64(correct) / n, float64(coCorrect) / n, nil
}
