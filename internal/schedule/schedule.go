// Package schedule computes per-layer sparsity targets from a global target
// and a distribution policy, and anneals the global target and readjustment
// ratio across federated rounds.
package schedule

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YunHaaaa/fedPrune/internal/nn"
)

// Distribution selects how the global sparsity target is spread over layers.
type Distribution string

const (
	// Uniform gives every layer the global sparsity.
	Uniform Distribution = "uniform"
	// ER is the Erdős–Rényi fan-in/fan-out heuristic.
	ER Distribution = "er"
	// ERK is Erdős–Rényi-Kernel: ER with kernel volume folded in for
	// convolutional layers.
	ERK Distribution = "erk"
)

// DecayMethod selects how the readjustment ratio anneals across rounds.
type DecayMethod string

const (
	// DecayConstant keeps the configured ratio for the whole run.
	DecayConstant DecayMethod = "constant"
	// DecayCosine anneals the ratio with a half-cosine reaching zero at
	// RateDecayEnd.
	DecayCosine DecayMethod = "cosine"
)

// Scheduler carries the annealing parameters of one run. It is immutable.
type Scheduler struct {
	Sparsity          float64
	FinalSparsity     float64
	Distribution      Distribution
	DecayMethod       DecayMethod
	RateDecayEnd      int
	ReadjustmentRatio float64
}

// TargetCounts returns, per layer name, the number of parameters that should
// remain active at the given global sparsity. Raw per-layer sparsities are
// renormalized so the parameter-count-weighted global sparsity matches the
// request exactly; the per-layer active count is floor((1-s_i) * n_i).
func (s *Scheduler) TargetCounts(layers []*nn.Layer, sparsity float64) (map[string]int, error) {
	sparsities := make([]float64, len(layers))
	weights := make([]float64, len(layers))

	for i, l := range layers {
		weights[i] = float64(l.ParamCount())

		switch s.Distribution {
		case Uniform:
			sparsities[i] = sparsity
		case ER, ERK:
			fanIn, fanOut := float64(l.Spec.FanIn), float64(l.Spec.FanOut)
			switch l.Spec.Kind {
			case nn.KindDense:
				sparsities[i] = 1 - (fanIn+fanOut)/(fanIn*fanOut)
			case nn.KindConv:
				if s.Distribution == ERK {
					kSum, kProd := 0.0, 1.0
					for _, k := range l.Spec.Kernel {
						kSum += float64(k)
						kProd *= float64(k)
					}
					sparsities[i] = 1 - (fanIn+fanOut+kSum)/(fanIn*fanOut*kProd)
				} else {
					sparsities[i] = 1 - (fanIn+fanOut)/(fanIn*fanOut)
				}
			default:
				return nil, fmt.Errorf("schedule: unsupported layer kind %v for layer %q", l.Spec.Kind, l.Name)
			}
		default:
			return nil, fmt.Errorf("schedule: unsupported sparsity distribution %q", s.Distribution)
		}
	}

	// Renormalize so that sum(s_i * n_i) / sum(n_i) == sparsity.
	weighted := floats.Dot(sparsities, weights)
	if weighted != 0 {
		floats.Scale(sparsity*floats.Sum(weights)/weighted, sparsities)
	}

	targets := make(map[string]int, len(layers))
	for i, l := range layers {
		targets[l.Name] = int(math.Floor((1 - sparsities[i]) * weights[i]))
	}
	return targets, nil
}

// CosineDecay is the annealing curve alpha/2 * (1 + cos(t*pi/tEnd)) for
// t < tEnd, and 0 afterwards.
func CosineDecay(t int, alpha float64, tEnd int) float64 {
	if t >= tEnd {
		return 0
	}
	return alpha / 2 * (1 + math.Cos(float64(t)*math.Pi/float64(tEnd)))
}

// RoundReadjustmentRatio returns the effective readjustment ratio for a
// round: the configured ratio scaled by the cosine decay under DecayCosine,
// or the constant ratio otherwise.
func (s *Scheduler) RoundReadjustmentRatio(round int) float64 {
	if s.DecayMethod == DecayCosine {
		return s.ReadjustmentRatio * CosineDecay(round, s.ReadjustmentRatio, s.RateDecayEnd)
	}
	return s.ReadjustmentRatio
}

// RoundSparsity linearly interpolates the round's target sparsity from the
// initial to the final sparsity over [0, RateDecayEnd], clamping to the
// final sparsity afterwards.
func (s *Scheduler) RoundSparsity(round int) float64 {
	if round > s.RateDecayEnd {
		return s.FinalSparsity
	}
	end := float64(s.RateDecayEnd)
	t := float64(round)
	return s.Sparsity*(end-t)/end + s.FinalSparsity*t/end
}

// IsReadjustmentRound reports whether prune/grow readjustment may run this
// round. The cadence evaluates (round-1) mod roundsBetween with a
// sign-positive modulus, so round 1 is the first readjustment round.
func IsReadjustmentRound(round, roundsBetween int, ratio float64) bool {
	return PositiveMod(round-1, roundsBetween) == 0 && ratio > 0
}

// PositiveMod returns a mod b with the sign of b, matching Python's %.
func PositiveMod(a, b int) int {
	return ((a % b) + b) % b
}
