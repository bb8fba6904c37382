// Package nn provides the prunable-network abstraction the federated core
// trains and aggregates: tagged layer specs, named parameters with their
// binary masks, an ordered transmissible state, and a small manually
// differentiated MLP used by the simulation drivers.
package nn

import (
	"strings"

	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// LayerKind tags the structural family of a layer. The sparsity scheduler
// dispatches on this tag to pick a fan-in/fan-out formula.
type LayerKind int

const (
	// KindDense is a fully connected layer.
	KindDense LayerKind = iota
	// KindConv is a convolutional layer with an explicit kernel shape.
	KindConv
)

// String returns the configuration-facing name of the kind.
func (k LayerKind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindConv:
		return "conv"
	default:
		return "unknown"
	}
}

// LayerSpec declares a layer's structure at construction time.
// Kernel is only meaningful for KindConv.
type LayerSpec struct {
	Kind   LayerKind
	FanIn  int
	FanOut int
	Kernel []int
}

// Layer is one named prunable layer: a weight tensor with its mask, and an
// optional unmasked bias.
type Layer struct {
	Name   string
	Spec   LayerSpec
	Weight *tensor.Dense
	Bias   *tensor.Dense // nil when the layer has no bias
	Mask   *tensor.Bool  // weight mask; nil until InitMasks
}

// ParamCount returns the total number of parameters in the layer,
// weights and bias together. This is the count the sparsity scheduler
// distributes over.
func (l *Layer) ParamCount() int {
	n := l.Weight.Numel()
	if l.Bias != nil {
		n += l.Bias.Numel()
	}
	return n
}

// MaskSlots returns the number of maskable weight elements.
func (l *Layer) MaskSlots() int { return l.Weight.Numel() }

// WeightName returns the qualified parameter name of the layer's weight.
func (l *Layer) WeightName() string { return l.Name + ".weight" }

// BiasName returns the qualified parameter name of the layer's bias.
func (l *Layer) BiasName() string { return l.Name + ".bias" }

// MaskSuffix marks mask entries in a transmitted state.
const MaskSuffix = "_mask"

// NeedsMask reports whether a parameter name is weight-like and therefore
// carries a mask. Biases never do.
func NeedsMask(name string) bool {
	return strings.HasSuffix(name, "weight")
}
