package aggregate

import (
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

// testState builds a one-layer state with a masked 3-element weight and a
// single bias.
func testState(t *testing.T, weights []float32, mask []bool, bias float32) *nn.State {
	t.Helper()
	s := nn.NewState()

	w := tensor.NewDense(len(weights))
	copy(w.Data, weights)
	s.SetParam("fc.weight", w)

	m := tensor.NewBool(len(mask))
	copy(m.Bits, mask)
	s.SetMask("fc.weight", m)

	b := tensor.NewDense(1)
	b.Data[0] = bias
	s.SetParam("fc.bias", b)
	return s
}

func report(id string, ts int, s *nn.State) Report {
	return Report{ClientID: id, TrainSize: ts, State: s}
}

func TestReduceSingleClientIdentity(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)
	cl := testState(t, []float32{1.5, -2, 3}, []bool{true, true, true}, 0.25)

	a := &Aggregator{}
	pub, fm, err := a.Reduce(global, []Report{report("c-0", 10, cl)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !pub.Equal(cl) {
		t.Error("single-client reduction does not reproduce the client state")
	}
	if !fm.Param("fc.weight").Equal(pub.Param("fc.weight")) {
		t.Error("mask view differs from published view without remember-old")
	}
}

func TestReduceVoteWeightedAverage(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)
	a := testState(t, []float32{2, 0, 4}, []bool{true, false, true}, 1)
	b := testState(t, []float32{3, 5, 0}, []bool{true, true, false}, 3)

	agg := &Aggregator{}
	pub, _, err := agg.Reduce(global, []Report{report("a", 1, a), report("b", 1, b)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	w := pub.Param("fc.weight")
	want := []float32{2.5, 5, 4}
	for i, v := range want {
		if w.Data[i] != v {
			t.Errorf("weight[%d] = %v, want %v", i, w.Data[i], v)
		}
	}
	m := pub.Mask("fc.weight")
	for i := range m.Bits {
		if !m.Bits[i] {
			t.Errorf("mask[%d] cleared, want every slot with a vote kept", i)
		}
	}
	if got := pub.Param("fc.bias").Data[0]; got != 2 {
		t.Errorf("bias = %v, want sample-weighted mean 2", got)
	}
}

func TestReduceMinVotesDropsSlots(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)
	a := testState(t, []float32{2, 0, 4}, []bool{true, false, true}, 0)
	b := testState(t, []float32{3, 5, 0}, []bool{true, true, false}, 0)

	agg := &Aggregator{MinVotes: 1}
	pub, _, err := agg.Reduce(global, []Report{report("a", 1, a), report("b", 1, b)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	m := pub.Mask("fc.weight")
	w := pub.Param("fc.weight")
	if !m.Bits[0] || w.Data[0] != 2.5 {
		t.Errorf("slot 0 (2 votes) = %v on=%v, want 2.5 kept", w.Data[0], m.Bits[0])
	}
	for _, i := range []int{1, 2} {
		if m.Bits[i] || w.Data[i] != 0 {
			t.Errorf("slot %d (1 vote) = %v on=%v, want dropped to zero", i, w.Data[i], m.Bits[i])
		}
	}
}

func TestReduceAllPrunedSlotIsZero(t *testing.T) {
	global := testState(t, []float32{9, 9, 9}, []bool{true, true, true}, 0)
	a := testState(t, []float32{2, 7, 4}, []bool{true, false, true}, 0)
	b := testState(t, []float32{3, 7, 2}, []bool{true, false, true}, 0)

	agg := &Aggregator{}
	pub, _, err := agg.Reduce(global, []Report{report("a", 1, a), report("b", 1, b)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got := pub.Param("fc.weight").Data[1]; got != 0 {
		t.Errorf("unanimously pruned slot = %v, want 0 (division by zero votes coerced)", got)
	}
	if pub.Mask("fc.weight").Bits[1] {
		t.Error("unanimously pruned slot kept in the mask")
	}
}

func TestReduceRememberOld(t *testing.T) {
	global := testState(t, []float32{10, 10, 10}, []bool{true, true, true}, 0)
	cl := testState(t, []float32{2, 9, 4}, []bool{true, false, true}, 0)

	agg := &Aggregator{RememberOld: true}
	pub, fm, err := agg.Reduce(global, []Report{report("c-0", 1, cl)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	// The abandoned slot keeps its vote through the old global value, so the
	// mask survives, but the published value carries no client contribution.
	if !pub.Mask("fc.weight").Bits[1] {
		t.Error("remember-old did not preserve the abandoned slot's mask bit")
	}
	if got := pub.Param("fc.weight").Data[1]; got != 0 {
		t.Errorf("published abandoned slot = %v, want 0", got)
	}
	if got := fm.Param("fc.weight").Data[1]; got != 10 {
		t.Errorf("mask-view abandoned slot = %v, want old global value 10", got)
	}
	for _, i := range []int{0, 2} {
		if fm.Param("fc.weight").Data[i] != pub.Param("fc.weight").Data[i] {
			t.Errorf("slot %d: mask view diverges from published on a client-held slot", i)
		}
	}
}

func TestReduceFP16RoundsValues(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)
	v := float32(1.00390625) // 1 + 2^-8, below bfloat16 resolution at 1.0
	cl := testState(t, []float32{v, 0, 0}, []bool{true, true, true}, 0)

	agg := &Aggregator{FP16: true}
	pub, _, err := agg.Reduce(global, []Report{report("c-0", 1, cl)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	got := pub.Param("fc.weight").Data[0]
	if got != tensor.BFloat16Round(v) {
		t.Errorf("fp16 value = %v, want bfloat16-rounded %v", got, tensor.BFloat16Round(v))
	}
	if got == v {
		t.Error("fp16 aggregation kept full precision")
	}
}

func TestReduceOrigSuffixFallback(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)

	cl := nn.NewState()
	w := tensor.NewDense(3)
	copy(w.Data, []float32{1, 2, 3})
	cl.SetParam("fc.weight_orig", w)
	cl.SetMask("fc.weight_orig", tensor.OnesBool(3))
	b := tensor.NewDense(1)
	cl.SetParam("fc.bias", b)

	agg := &Aggregator{}
	pub, _, err := agg.Reduce(global, []Report{report("c-0", 1, cl)})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got := pub.Param("fc.weight").Data[2]; got != 3 {
		t.Errorf("reparameterized weight[2] = %v, want 3", got)
	}
}

func TestReduceErrors(t *testing.T) {
	global := testState(t, []float32{0, 0, 0}, []bool{true, true, true}, 0)

	if _, _, err := (&Aggregator{}).Reduce(global, nil); err == nil {
		t.Error("Reduce accepted an empty report set")
	}

	missing := nn.NewState()
	missing.SetParam("other.weight", tensor.NewDense(3))
	if _, _, err := (&Aggregator{}).Reduce(global, []Report{report("c-0", 1, missing)}); err == nil {
		t.Error("Reduce accepted a report missing a global parameter")
	}
}
