// Package reconcile implements the weight-reset protocol: merging a model's
// live parameters with a chosen parameter source and chosen mask sources as
// a pure three-source transform, instead of the in-place aliased update the
// protocol is usually described with.
package reconcile

import (
	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/prune"
)

// Sources selects the reconcile inputs the way the federated drivers
// combine them.
//
//   - global == nil: apply the local mask only (post-step mask application).
//   - useGlobalMask: the applied mask comes from the parameter source
//     instead of the local state (FedAvg-with-mask).
//   - globalCommunicationMask: apply the source's mask but keep remembering
//     the local mask for next round's diffing (personalization).
func Sources(local, global *nn.State, useGlobalMask, globalCommunicationMask bool) (paramSrc, applySrc, copySrc *nn.State) {
	paramSrc = global
	if paramSrc == nil {
		paramSrc = local
	}
	applySrc = local
	if useGlobalMask {
		applySrc = paramSrc
	}
	copySrc = applySrc
	if globalCommunicationMask {
		copySrc = local
	}
	return paramSrc, applySrc, copySrc
}

// Reconcile produces the model's next state from up to three sources.
// For every parameter in paramSrc order:
//
//  1. masked parameters take paramSrc values where the apply mask is set;
//  2. outside the apply mask, hard pruning zeroes the element while soft
//     pruning keeps the prior local value;
//  3. the stored mask becomes a copy of copySrc's mask;
//  4. unmasked parameters (biases) are copied unconditionally.
//
// maskChanged reports whether any stored mask differs from the local state's
// prior mask; callers use it to decide whether a mask transmission must be
// charged. No input state is mutated.
func Reconcile(local, paramSrc, applySrc, copySrc *nn.State, pt prune.Type) (*nn.State, bool) {
	next := nn.NewState()
	maskChanged := false

	for _, name := range paramSrc.Names() {
		param := paramSrc.Param(name)
		applyMask := applySrc.Mask(name)

		if !nn.NeedsMask(name) || applyMask == nil {
			next.SetParam(name, param.Clone())
			continue
		}
		applyMask.MustMatch(param)

		out := param.Clone()
		localParam := local.Param(name)
		for i, on := range applyMask.Bits {
			if on {
				continue
			}
			if pt == prune.Hard || localParam == nil {
				out.Data[i] = 0
			} else {
				out.Data[i] = localParam.Data[i]
			}
		}
		next.SetParam(name, out)

		copyMask := copySrc.Mask(name)
		if copyMask == nil {
			copyMask = applyMask
		}
		next.SetMask(name, copyMask.Clone())

		prior := local.Mask(name)
		if prior == nil || !prior.Equal(copyMask) {
			maskChanged = true
		}
	}

	return next, maskChanged
}
