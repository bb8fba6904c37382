package wire

import (
	"math"
	"math/rand"
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

func TestRoundTripBitIdentical(t *testing.T) {
	m := nn.NewMLP(6, 5, 3, rand.New(rand.NewSource(11)))
	l := m.Net.Layers[0]
	l.Mask.Bits[2] = false
	l.Mask.Bits[7] = false
	// Exercise values that stress bit-level fidelity.
	l.Weight.Data[0] = float32(math.Pi)
	l.Weight.Data[1] = float32(math.Copysign(0, -1)) // negative zero survives
	l.Weight.Data[3] = 1e-38

	s := m.Net.StateDict()
	raw, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(s) {
		t.Error("decoded state differs from original")
	}
}

func TestRoundTripPreservesOrder(t *testing.T) {
	s := nn.NewState()
	s.SetParam("z.weight", tensor.NewDense(2))
	s.SetMask("z.weight", tensor.OnesBool(2))
	s.SetParam("a.bias", tensor.NewDense(1))

	raw, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	names := got.Names()
	if len(names) != 2 || names[0] != "z.weight" || names[1] != "a.bias" {
		t.Errorf("decoded order = %v, want [z.weight a.bias]", names)
	}
	if got.Mask("z.weight") == nil {
		t.Error("mask entry lost in transit")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an arrow stream")); err == nil {
		t.Error("Decode accepted garbage input")
	}
}

func TestModelFromDecodedState(t *testing.T) {
	src := nn.NewMLP(4, 3, 2, rand.New(rand.NewSource(5)))
	raw, err := Encode(src.Net.StateDict())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	dst := nn.NewMLP(4, 3, 2, rand.New(rand.NewSource(77)))
	if err := dst.Net.LoadState(decoded); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !dst.Net.StateDict().Equal(src.Net.StateDict()) {
		t.Error("reconstructed model does not reproduce parameters and masks")
	}
}
