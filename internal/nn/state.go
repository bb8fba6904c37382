package nn

import (
	"fmt"

	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// State is the transmissible snapshot of a model: an ordered mapping from
// qualified parameter name to tensor, with weight masks carried alongside
// under "<name>_mask". It is the unit of exchange between clients and the
// aggregator.
type State struct {
	names  []string
	params map[string]*tensor.Dense
	masks  map[string]*tensor.Bool
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		params: make(map[string]*tensor.Dense),
		masks:  make(map[string]*tensor.Bool),
	}
}

// SetParam stores a parameter tensor, preserving first-insertion order.
func (s *State) SetParam(name string, t *tensor.Dense) {
	if _, ok := s.params[name]; !ok {
		s.names = append(s.names, name)
	}
	s.params[name] = t
}

// SetMask stores the mask for the named parameter. The parameter does not
// need to be present yet; order is tracked by parameter name only.
func (s *State) SetMask(name string, m *tensor.Bool) {
	s.masks[name] = m
}

// Param returns the named parameter tensor, or nil.
func (s *State) Param(name string) *tensor.Dense { return s.params[name] }

// Mask returns the mask stored for the named parameter, or nil.
func (s *State) Mask(name string) *tensor.Bool { return s.masks[name] }

// Names returns the parameter names in insertion order.
func (s *State) Names() []string { return s.names }

// Clone deep-copies the state.
func (s *State) Clone() *State {
	c := NewState()
	for _, name := range s.names {
		c.SetParam(name, s.params[name].Clone())
	}
	for name, m := range s.masks {
		c.SetMask(name, m.Clone())
	}
	return c
}

// Equal reports whether two states carry identical names, bit-identical
// parameters, and identical masks.
func (s *State) Equal(o *State) bool {
	if len(s.names) != len(o.names) || len(s.masks) != len(o.masks) {
		return false
	}
	for i, name := range s.names {
		if o.names[i] != name {
			return false
		}
		if !s.params[name].Equal(o.params[name]) {
			return false
		}
	}
	for name, m := range s.masks {
		om := o.masks[name]
		if om == nil || !m.Equal(om) {
			return false
		}
	}
	return true
}

// Sparsity returns the fraction of mask slots that are inactive across all
// masks in the state. A state with no masks has sparsity 0.
func (s *State) Sparsity() float64 {
	ones, total := 0, 0
	for _, m := range s.masks {
		ones += m.CountTrue()
		total += m.Numel()
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(ones)/float64(total)
}

// Validate checks the mask/parameter shape invariant for every entry.
func (s *State) Validate() error {
	for name, m := range s.masks {
		p := s.params[name]
		if p == nil {
			return fmt.Errorf("nn: mask for unknown parameter %q", name)
		}
		if !tensor.ShapeEqual(m.Shape, p.Shape) {
			return fmt.Errorf("nn: mask shape %v does not match parameter %q shape %v", m.Shape, name, p.Shape)
		}
	}
	return nil
}
