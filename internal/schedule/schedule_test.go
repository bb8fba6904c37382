package schedule

import (
	"math"
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

func denseLayer(name string, in, out int) *nn.Layer {
	return &nn.Layer{
		Name:   name,
		Spec:   nn.LayerSpec{Kind: nn.KindDense, FanIn: in, FanOut: out},
		Weight: tensor.NewDense(out, in),
	}
}

func convLayer(name string, in, out int, kernel ...int) *nn.Layer {
	shape := append([]int{out, in}, kernel...)
	return &nn.Layer{
		Name:   name,
		Spec:   nn.LayerSpec{Kind: nn.KindConv, FanIn: in, FanOut: out, Kernel: kernel},
		Weight: tensor.NewDense(shape...),
	}
}

func TestUniformTargets(t *testing.T) {
	// Two bias-free layers with 100 and 300 weights at s=0.5: uniform
	// renormalization is a no-op, so targets are exactly 50 and 150.
	layers := []*nn.Layer{denseLayer("a", 10, 10), denseLayer("b", 20, 15)}
	s := &Scheduler{Distribution: Uniform}
	targets, err := s.TargetCounts(layers, 0.5)
	if err != nil {
		t.Fatalf("TargetCounts: %v", err)
	}
	if targets["a"] != 50 || targets["b"] != 150 {
		t.Errorf("targets = %v, want a:50 b:150", targets)
	}
}

func TestRenormalizedGlobalSparsity(t *testing.T) {
	for _, dist := range []Distribution{ER, ERK} {
		t.Run(string(dist), func(t *testing.T) {
			layers := []*nn.Layer{
				convLayer("conv1", 3, 16, 5, 5),
				convLayer("conv2", 16, 32, 3, 3),
				denseLayer("fc1", 128, 64),
				denseLayer("fc2", 64, 10),
			}
			s := &Scheduler{Distribution: dist}
			const want = 0.3
			targets, err := s.TargetCounts(layers, want)
			if err != nil {
				t.Fatalf("TargetCounts: %v", err)
			}

			totalParams, totalActive := 0.0, 0.0
			for _, l := range layers {
				n := float64(l.ParamCount())
				totalParams += n
				totalActive += float64(targets[l.Name])
				// Per-layer sparsity stays in [0, 1].
				sp := 1 - float64(targets[l.Name])/n
				if sp < 0 || sp > 1 {
					t.Errorf("layer %s sparsity %v outside [0,1]", l.Name, sp)
				}
			}
			got := 1 - totalActive/totalParams
			// Flooring each layer loses at most one weight per layer.
			tol := float64(len(layers)) / totalParams
			if math.Abs(got-want) > tol {
				t.Errorf("global sparsity = %v, want %v within %v", got, want, tol)
			}
		})
	}
}

func TestUnsupportedDistribution(t *testing.T) {
	s := &Scheduler{Distribution: "lottery"}
	if _, err := s.TargetCounts([]*nn.Layer{denseLayer("a", 2, 2)}, 0.5); err == nil {
		t.Error("unknown distribution accepted")
	}
}

func TestCosineDecay(t *testing.T) {
	tests := []struct {
		name  string
		t     int
		alpha float64
		tEnd  int
		want  float64
	}{
		{"start of run", 0, 0.5, 100, 0.5},
		{"midpoint", 50, 0.5, 100, 0.25},
		{"at end", 100, 0.5, 100, 0},
		{"past end", 150, 0.5, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineDecay(tt.t, tt.alpha, tt.tEnd); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("CosineDecay(%d) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestRoundSparsityInterpolation(t *testing.T) {
	s := &Scheduler{Sparsity: 0.1, FinalSparsity: 0.5, RateDecayEnd: 100}
	tests := []struct {
		round int
		want  float64
	}{
		{0, 0.1},
		{50, 0.3},
		{100, 0.5},
		{200, 0.5},
	}
	for _, tt := range tests {
		if got := s.RoundSparsity(tt.round); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("RoundSparsity(%d) = %v, want %v", tt.round, got, tt.want)
		}
	}
}

func TestIsReadjustmentRound(t *testing.T) {
	// Python modulo: round 0 gives (0-1) % 10 == 9, so no readjustment;
	// round 1 gives 0 and readjusts.
	if IsReadjustmentRound(0, 10, 0.5) {
		t.Error("round 0 should not readjust")
	}
	if !IsReadjustmentRound(1, 10, 0.5) {
		t.Error("round 1 should readjust")
	}
	if !IsReadjustmentRound(11, 10, 0.5) {
		t.Error("round 11 should readjust")
	}
	if IsReadjustmentRound(1, 10, 0) {
		t.Error("zero ratio should disable readjustment")
	}
}
