package nn

import (
	"math"
	"math/rand"

	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// MLP is a two-layer fully connected classifier with manual backprop. It is
// the opaque model the simulation trains; the federated core only sees its
// Net view. Weights use the [out][in] row-major layout.
type MLP struct {
	Net *Network

	In, Hidden, Out int

	fc1, fc2 *Layer
}

// NewMLP constructs an MLP with uniformly initialized weights and all-ones
// masks.
func NewMLP(in, hidden, out int, rng *rand.Rand) *MLP {
	fc1 := denseLayer("fc1", in, hidden, rng)
	fc2 := denseLayer("fc2", hidden, out, rng)
	net := &Network{Layers: []*Layer{fc1, fc2}}
	net.InitMasks()
	return &MLP{Net: net, In: in, Hidden: hidden, Out: out, fc1: fc1, fc2: fc2}
}

func denseLayer(name string, in, out int, rng *rand.Rand) *Layer {
	l := &Layer{
		Name:   name,
		Spec:   LayerSpec{Kind: KindDense, FanIn: in, FanOut: out},
		Weight: tensor.NewDense(out, in),
		Bias:   tensor.NewDense(out),
	}
	l.Weight.RandomizeUniform(rng, math.Sqrt(1/float64(in)))
	l.Bias.RandomizeUniform(rng, math.Sqrt(1/float64(in)))
	return l
}

// Forward runs a minibatch of `batch` rows of length In through the network,
// returning the ReLU hidden activations (batch x Hidden) and the raw logits
// (batch x Out).
func (m *MLP) Forward(x []float32, batch int) (hidden, logits []float32) {
	hidden = affineReLU(x, batch, m.In, m.Hidden, m.fc1, true)
	logits = affineReLU(hidden, batch, m.Hidden, m.Out, m.fc2, false)
	return hidden, logits
}

func affineReLU(x []float32, batch, in, out int, l *Layer, relu bool) []float32 {
	y := make([]float32, batch*out)
	w, b := l.Weight.Data, l.Bias.Data
	for r := 0; r < batch; r++ {
		xr := x[r*in : (r+1)*in]
		yr := y[r*out : (r+1)*out]
		for o := 0; o < out; o++ {
			sum := b[o]
			row := w[o*in : (o+1)*in]
			for i, xv := range xr {
				sum += row[i] * xv
			}
			if relu && sum < 0 {
				sum = 0
			}
			yr[o] = sum
		}
	}
	return y
}

// Backward accumulates softmax cross-entropy gradients into the network and
// returns the mean loss. extraHiddenGrad, when non-nil, is added to the
// hidden-activation gradient before it propagates into fc1 (this is how a
// co-learner's loss flows back into the main model). Gradient buffers must
// have been prepared with ZeroGrads.
func (m *MLP) Backward(x, hidden, logits []float32, labels []int, batch int, extraHiddenGrad []float32) float32 {
	dLogits, loss := SoftmaxCrossEntropyGrad(logits, labels, batch, m.Out)

	dHidden := backAffine(m.fc2, hidden, dLogits, batch, m.Hidden, m.Out)
	if extraHiddenGrad != nil {
		for i := range dHidden {
			dHidden[i] += extraHiddenGrad[i]
		}
	}
	// ReLU gate.
	for i, h := range hidden {
		if h <= 0 {
			dHidden[i] = 0
		}
	}
	backAffine(m.fc1, x, dHidden, batch, m.In, m.Hidden)
	return loss
}

// backAffine accumulates dW and db for layer l given its input activations
// and the gradient at its output, and returns the gradient at its input.
func backAffine(l *Layer, input, dOut []float32, batch, in, out int) []float32 {
	dIn := make([]float32, batch*in)
	dw, db := l.Weight.Grad, l.Bias.Grad
	w := l.Weight.Data
	for r := 0; r < batch; r++ {
		xr := input[r*in : (r+1)*in]
		dor := dOut[r*out : (r+1)*out]
		dir := dIn[r*in : (r+1)*in]
		for o := 0; o < out; o++ {
			g := dor[o]
			if g == 0 {
				continue
			}
			db[o] += g
			dwRow := dw[o*in : (o+1)*in]
			wRow := w[o*in : (o+1)*in]
			for i, xv := range xr {
				dwRow[i] += g * xv
				dir[i] += g * wRow[i]
			}
		}
	}
	return dIn
}

// SoftmaxCrossEntropyGrad computes the mean cross-entropy loss over the
// minibatch and the gradient of that loss with respect to the logits.
func SoftmaxCrossEntropyGrad(logits []float32, labels []int, batch, out int) (dLogits []float32, loss float32) {
	dLogits = make([]float32, len(logits))
	inv := 1 / float32(batch)
	for r := 0; r < batch; r++ {
		row := logits[r*out : (r+1)*out]
		drow := dLogits[r*out : (r+1)*out]

		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxv))
		}
		logSum := float32(math.Log(sum)) + maxv

		label := labels[r]
		loss += (logSum - row[label]) * inv
		for o := range drow {
			p := float32(math.Exp(float64(row[o] - logSum)))
			drow[o] = p * inv
		}
		drow[label] -= inv
	}
	return dLogits, loss
}

// Argmax returns the predicted class per row.
func Argmax(logits []float32, batch, out int) []int {
	preds := make([]int, batch)
	for r := 0; r < batch; r++ {
		row := logits[r*out : (r+1)*out]
		best := 0
		for o, v := range row {
			if v > row[best] {
				best = o
			}
		}
		preds[r] = best
	}
	return preds
}

// CoLearner is the ensemble variant's auxiliary head: a single dense layer
// classifying the main model's hidden features. Only the main model's state
// is ever transmitted; the co-learner stays local.
type CoLearner struct {
	Net *Network

	Hidden, Out int

	fc *Layer
}

// NewCoLearner constructs a co-learner over a Hidden-wide feature vector.
func NewCoLearner(hidden, out int, rng *rand.Rand) *CoLearner {
	fc := denseLayer("co_fc1", hidden, out, rng)
	net := &Network{Layers: []*Layer{fc}}
	net.InitMasks()
	return &CoLearner{Net: net, Hidden: hidden, Out: out, fc: fc}
}

// Forward classifies a minibatch of hidden features.
func (c *CoLearner) Forward(hidden []float32, batch int) []float32 {
	return affineReLU(hidden, batch, c.Hidden, c.Out, c.fc, false)
}

// Backward accumulates the co-learner's gradients, scaled by scale, and
// returns its mean loss together with the scaled gradient at the shared
// hidden features.
func (c *CoLearner) Backward(hidden, logits []float32, labels []int, batch int, scale float32) (loss float32, dHidden []float32) {
	dLogits, loss := SoftmaxCrossEntropyGrad(logits, labels, batch, c.Out)
	for i := range dLogits {
		dLogits[i] *= scale
	}
	dHidden = backAffine(c.fc, hidden, dLogits, batch, c.Hidden, c.Out)
	return loss, dHidden
}
