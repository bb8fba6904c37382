// Package tensor provides the dense float32 tensors and boolean masks the
// sparse-training core operates on, together with the index-selection
// primitives used for magnitude pruning and gradient-based regrowth.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Dense is a named-shape float32 tensor. Data is stored flat in row-major
// order. Grad is nil until a backward pass populates it.
type Dense struct {
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewDense allocates a zero tensor with the given shape.
func NewDense(shape ...int) *Dense {
	return &Dense{Shape: append([]int(nil), shape...), Data: make([]float32, Numel(shape))}
}

// Numel returns the number of elements implied by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Numel returns the number of elements in the tensor.
func (t *Dense) Numel() int { return len(t.Data) }

// Clone deep-copies the tensor. Gradients are not carried over.
func (t *Dense) Clone() *Dense {
	c := &Dense{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
	return c
}

// Equal reports whether two tensors have identical shape and bit-identical
// data.
func (t *Dense) Equal(o *Dense) bool {
	if !ShapeEqual(t.Shape, o.Shape) {
		return false
	}
	for i, v := range t.Data {
		if math.Float32bits(v) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// ZeroGrad allocates (or clears) the gradient buffer.
func (t *Dense) ZeroGrad() {
	if t.Grad == nil {
		t.Grad = make([]float32, len(t.Data))
		return
	}
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// RandomizeUniform fills the tensor with values drawn uniformly from
// [-scale, scale].
func (t *Dense) RandomizeUniform(rng *rand.Rand, scale float64) {
	for i := range t.Data {
		t.Data[i] = float32((rng.Float64()*2 - 1) * scale)
	}
}

// Bool is a boolean tensor. Its shape must always equal the shape of the
// parameter it masks; MustMatch enforces that invariant.
type Bool struct {
	Shape []int
	Bits  []bool
}

// NewBool allocates an all-false boolean tensor.
func NewBool(shape ...int) *Bool {
	return &Bool{Shape: append([]int(nil), shape...), Bits: make([]bool, Numel(shape))}
}

// OnesBool allocates an all-true boolean tensor.
func OnesBool(shape ...int) *Bool {
	b := NewBool(shape...)
	for i := range b.Bits {
		b.Bits[i] = true
	}
	return b
}

// Numel returns the number of mask slots.
func (b *Bool) Numel() int { return len(b.Bits) }

// CountTrue returns the number of set bits.
func (b *Bool) CountTrue() int {
	n := 0
	for _, v := range b.Bits {
		if v {
			n++
		}
	}
	return n
}

// Clone deep-copies the mask.
func (b *Bool) Clone() *Bool {
	return &Bool{Shape: append([]int(nil), b.Shape...), Bits: append([]bool(nil), b.Bits...)}
}

// Equal reports whether two masks have identical shape and bits.
func (b *Bool) Equal(o *Bool) bool {
	if o == nil || !ShapeEqual(b.Shape, o.Shape) {
		return false
	}
	for i, v := range b.Bits {
		if v != o.Bits[i] {
			return false
		}
	}
	return true
}

// MustMatch panics when the mask shape diverges from the parameter shape.
// A divergence can only arise from a programming error and is never
// recoverable.
func (b *Bool) MustMatch(t *Dense) {
	if !ShapeEqual(b.Shape, t.Shape) {
		panic(fmt.Sprintf("tensor: mask shape %v does not match parameter shape %v", b.Shape, t.Shape))
	}
}

// ShapeEqual reports whether two shapes are identical.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SmallestAbs returns the indices of the n elements of data with the
// smallest absolute value. The order among ties follows the underlying
// sort and is not specified.
func SmallestAbs(data []float32, n int) []int {
	if n <= 0 {
		return nil
	}
	if n > len(data) {
		n = len(data)
	}
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return abs32(data[idx[a]]) < abs32(data[idx[b]])
	})
	return idx[:n]
}

// LargestAbsWithin returns, among the candidate indices, the n indices whose
// data values have the largest absolute value.
func LargestAbsWithin(data []float32, candidates []int, n int) []int {
	if n <= 0 {
		return nil
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	idx := append([]int(nil), candidates...)
	sort.Slice(idx, func(a, b int) bool {
		return abs32(data[idx[a]]) > abs32(data[idx[b]])
	})
	return idx[:n]
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

// BFloat16Round rounds a float32 to the nearest bfloat16-representable value
// (round half to even) and widens it back, emulating a half-precision upload.
// NaN and infinities pass through unchanged.
func BFloat16Round(x float32) float32 {
	bits := math.Float32bits(x)
	if bits&0x7F800000 == 0x7F800000 {
		return x
	}
	rounded := bits + 0x7FFF + (bits>>16)&1
	return math.Float32frombits(rounded &^ 0xFFFF)
}
