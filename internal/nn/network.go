package nn

import (
	"fmt"

	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// Network is the prunable view of a model: its ordered layers with named
// parameters and per-weight masks. Forward computation lives with concrete
// model types (MLP below); the federated core only needs this view.
type Network struct {
	Layers []*Layer
}

// InitMasks creates an all-ones mask for every weight tensor. Existing
// masks are reinitialized.
func (n *Network) InitMasks() {
	for _, l := range n.Layers {
		l.Mask = tensor.OnesBool(l.Weight.Shape...)
	}
}

// Layer returns the layer with the given name, or nil.
func (n *Network) Layer(name string) *Layer {
	for _, l := range n.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Sparsity returns the fraction of mask slots currently inactive.
func (n *Network) Sparsity() float64 {
	ones, total := 0, 0
	for _, l := range n.Layers {
		if l.Mask == nil {
			continue
		}
		ones += l.Mask.CountTrue()
		total += l.Mask.Numel()
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(ones)/float64(total)
}

// MaskBits returns the total number of mask slots: the bits required to
// transmit every mask at one bit per element.
func (n *Network) MaskBits() int {
	bits := 0
	for _, l := range n.Layers {
		bits += l.MaskSlots()
	}
	return bits
}

// ParamBits returns the bits required to transmit every parameter at full
// 32-bit width, biases included.
func (n *Network) ParamBits() int {
	bits := 0
	for _, l := range n.Layers {
		bits += l.ParamCount() * 32
	}
	return bits
}

// StateDict captures a deep copy of all parameters and masks in layer order.
func (n *Network) StateDict() *State {
	s := NewState()
	for _, l := range n.Layers {
		s.SetParam(l.WeightName(), l.Weight.Clone())
		if l.Mask != nil {
			s.SetMask(l.WeightName(), l.Mask.Clone())
		}
		if l.Bias != nil {
			s.SetParam(l.BiasName(), l.Bias.Clone())
		}
	}
	return s
}

// LoadState copies parameters and masks from the state into the network.
// Every network parameter must be present with a matching shape.
func (n *Network) LoadState(s *State) error {
	for _, l := range n.Layers {
		w := s.Param(l.WeightName())
		if w == nil {
			return fmt.Errorf("nn: state is missing parameter %q", l.WeightName())
		}
		if len(w.Data) != l.Weight.Numel() {
			return fmt.Errorf("nn: parameter %q has %d elements, want %d", l.WeightName(), len(w.Data), l.Weight.Numel())
		}
		copy(l.Weight.Data, w.Data)

		if m := s.Mask(l.WeightName()); m != nil {
			m.MustMatch(l.Weight)
			l.Mask = m.Clone()
		}

		if l.Bias != nil {
			b := s.Param(l.BiasName())
			if b == nil {
				return fmt.Errorf("nn: state is missing parameter %q", l.BiasName())
			}
			if len(b.Data) != l.Bias.Numel() {
				return fmt.Errorf("nn: parameter %q has %d elements, want %d", l.BiasName(), len(b.Data), l.Bias.Numel())
			}
			copy(l.Bias.Data, b.Data)
		}
	}
	return nil
}

// ApplyMasks hard-zeroes every weight whose mask bit is clear, so optimizer
// steps never leave the sparse support.
func (n *Network) ApplyMasks() {
	for _, l := range n.Layers {
		if l.Mask == nil {
			continue
		}
		l.Mask.MustMatch(l.Weight)
		for i, on := range l.Mask.Bits {
			if !on {
				l.Weight.Data[i] = 0
			}
		}
	}
}

// ZeroGrads allocates or clears gradient buffers for all parameters.
func (n *Network) ZeroGrads() {
	for _, l := range n.Layers {
		l.Weight.ZeroGrad()
		if l.Bias != nil {
			l.Bias.ZeroGrad()
		}
	}
}

// ClearGrads drops gradient buffers entirely.
func (n *Network) ClearGrads() {
	for _, l := range n.Layers {
		l.Weight.Grad = nil
		if l.Bias != nil {
			l.Bias.Grad = nil
		}
	}
}
