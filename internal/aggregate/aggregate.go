// Package aggregate reduces client reports into the next global state using
// sample-weighted averaging with mask voting. Every mask slot accumulates
// votes weighted by the reporting client's training-set size; slots that do
// not clear the vote threshold are dropped from the next global mask.
//
// The reduction produces two views: the published state, averaged over the
// values clients actually reported, and a remember-old view that additionally
// folds the previous global values into slots a client abandoned. The
// remember-old view only ever decides the next mask; its values are never
// published.
package aggregate

import (
	"fmt"
	"math"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// Report is one client's round contribution.
type Report struct {
	ClientID       string
	TrainSize      int
	State          *nn.State
	DownloadCost   float64
	UploadCost     float64
	ComputeSeconds float64
}

// Aggregator holds the reduction policy for a run.
type Aggregator struct {
	// MinVotes drops mask slots whose weighted vote total is not strictly
	// greater than this value.
	MinVotes int
	// RememberOld folds previous global values into abandoned slots when
	// deciding the next mask.
	RememberOld bool
	// FP16 rounds reported parameter values through bfloat16 before
	// accumulation, modeling half-precision uploads.
	FP16 bool
}

// origSuffix marks parameters renamed by reparameterization wrappers;
// lookups fall back to it so such checkpoints aggregate transparently.
const origSuffix = "_orig"

func clientParam(s *nn.State, name string) *tensor.Dense {
	if p := s.Param(name); p != nil {
		return p
	}
	return s.Param(name + origSuffix)
}

func clientMask(s *nn.State, name string) *tensor.Bool {
	if m := s.Mask(name); m != nil {
		return m
	}
	return s.Mask(name + origSuffix)
}

// Reduce averages the reports into the next global state. It returns the
// published state and the remember-old mask view; without RememberOld the
// two share values and the caller may use either for mask decisions.
// Accumulation runs in float64 regardless of the transmission width.
func (a *Aggregator) Reduce(global *nn.State, reports []Report) (published, forMask *nn.State, err error) {
	if len(reports) == 0 {
		return nil, nil, fmt.Errorf("aggregate: no reports to reduce")
	}

	totalTrain := 0.0
	for _, r := range reports {
		totalTrain += float64(r.TrainSize)
	}
	if totalTrain == 0 {
		return nil, nil, fmt.Errorf("aggregate: reports carry no training samples")
	}

	sumParams := make(map[string][]float64)
	sumForMask := make(map[string][]float64)
	votes := make(map[string][]float64)
	for _, name := range global.Names() {
		n := global.Param(name).Numel()
		sumParams[name] = make([]float64, n)
		if nn.NeedsMask(name) {
			sumForMask[name] = make([]float64, n)
			votes[name] = make([]float64, n)
		}
	}

	for _, r := range reports {
		ts := float64(r.TrainSize)
		for _, name := range global.Names() {
			p := clientParam(r.State, name)
			if p == nil {
				return nil, nil, fmt.Errorf("aggregate: client %s report is missing parameter %q", r.ClientID, name)
			}
			if p.Numel() != len(sumParams[name]) {
				return nil, nil, fmt.Errorf("aggregate: client %s parameter %q has %d elements, want %d",
					r.ClientID, name, p.Numel(), len(sumParams[name]))
			}

			value := func(i int) float64 {
				v := p.Data[i]
				if a.FP16 {
					v = tensor.BFloat16Round(v)
				}
				return float64(v)
			}

			m := clientMask(r.State, name)
			if !nn.NeedsMask(name) || m == nil {
				for i := range sumParams[name] {
					sumParams[name][i] += ts * value(i)
				}
				continue
			}

			for i, on := range m.Bits {
				if !on {
					continue
				}
				v := ts * value(i)
				sumParams[name][i] += v
				sumForMask[name][i] += v
				votes[name][i] += ts
			}

			if a.RememberOld {
				svMask := global.Mask(name)
				svParam := global.Param(name)
				if svMask == nil {
					return nil, nil, fmt.Errorf("aggregate: global state is missing mask for %q", name)
				}
				for i, on := range svMask.Bits {
					if !on || m.Bits[i] {
						continue
					}
					sumForMask[name][i] += ts * float64(svParam.Data[i])
					votes[name][i] += ts
				}
			}
		}
	}

	published = nn.NewState()
	forMask = nn.NewState()
	minVotes := float64(a.MinVotes)

	for _, name := range global.Names() {
		shape := global.Param(name).Shape
		pub := tensor.NewDense(shape...)
		fm := tensor.NewDense(shape...)

		if v, masked := votes[name]; masked {
			mask := tensor.NewBool(shape...)
			for i := range v {
				if v[i] <= minVotes {
					v[i] = 0
				}
				pub.Data[i] = finiteQuotient(sumParams[name][i], v[i])
				fm.Data[i] = finiteQuotient(sumForMask[name][i], v[i])
				mask.Bits[i] = v[i] > 0
			}
			published.SetParam(name, pub)
			published.SetMask(name, mask)
			forMask.SetParam(name, fm)
			forMask.SetMask(name, mask.Clone())
			continue
		}

		for i := range pub.Data {
			pub.Data[i] = finiteQuotient(sumParams[name][i], totalTrain)
			fm.Data[i] = pub.Data[i]
		}
		published.SetParam(name, pub)
		forMask.SetParam(name, fm)
	}

	return published, forMask, nil
}

// finiteQuotient divides and coerces NaN and infinities to zero; slots every
// client pruned divide by zero votes and hold no information.
func finiteQuotient(num, den float64) float32 {
	q := num / den
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return float32(q)
}
