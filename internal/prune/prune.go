// Package prune removes the smallest-magnitude active weights and regrows
// the largest-gradient inactive ones, driving each layer toward a target
// active-parameter count.
package prune

import (
	"errors"
	"fmt"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// Type selects what pruning does to the weight values.
type Type string

const (
	// Hard pruning zeroes the pruned weight values as well as their mask
	// bits.
	Hard Type = "hard"
	// Soft pruning clears only the mask bits, leaving values in place for
	// potential regrowth.
	Soft Type = "soft"
)

// ErrNoGradients is returned by Grow when a weight tensor has no gradient
// buffer. Growth requires a backward pass since the last optimizer step;
// calling it without one is a usage error the caller must treat as fatal.
var ErrNoGradients = errors.New("prune: gradients not populated; run a backward pass before growing")

// Prune reduces each layer to its target active count by clearing the mask
// bits of the smallest-|weight| slots. Layers whose computed prune count is
// negative or would remove every slot are left untouched.
func Prune(net *nn.Network, targets map[string]int, pt Type) {
	for _, l := range net.Layers {
		target, ok := targets[l.Name]
		if !ok || l.Mask == nil {
			continue
		}
		l.Mask.MustMatch(l.Weight)

		slots := l.MaskSlots()
		nPrune := slots - target
		if nPrune < 0 || nPrune >= slots {
			continue
		}

		for _, i := range tensor.SmallestAbs(l.Weight.Data, nPrune) {
			if pt == Hard {
				l.Weight.Data[i] = 0
			}
			l.Mask.Bits[i] = false
		}
	}
}

// Grow raises each layer back toward its target active count by setting the
// mask bits of the currently-inactive slots with the largest gradient
// magnitude. Regrown weights start from zero. Layers already at or above
// their target are skipped.
func Grow(net *nn.Network, targets map[string]int) error {
	for _, l := range net.Layers {
		target, ok := targets[l.Name]
		if !ok || l.Mask == nil {
			continue
		}
		l.Mask.MustMatch(l.Weight)

		nGrow := target - l.Mask.CountTrue()
		if nGrow <= 0 {
			continue
		}
		if l.Weight.Grad == nil {
			return fmt.Errorf("%w (layer %q)", ErrNoGradients, l.Name)
		}

		inactive := make([]int, 0, nGrow)
		for i, on := range l.Mask.Bits {
			if !on {
				inactive = append(inactive, i)
			}
		}
		for _, i := range tensor.LargestAbsWithin(l.Weight.Grad, inactive, nGrow) {
			l.Mask.Bits[i] = true
			l.Weight.Data[i] = 0
		}
	}
	return nil
}
