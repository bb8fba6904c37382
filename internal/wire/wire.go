// Package wire encodes model states for transmission and persistence using
// the Arrow IPC stream format. Each state entry becomes one record row:
// a qualified name, its shape, a mask flag, and the flat element data.
// Masks travel as 0/1 values flagged is_mask; decoding restores them as
// boolean tensors. Round-tripping a state is bit-identical.
package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/YunHaaaa/fedPrune/internal/nn"
	"github.com/YunHaaaa/fedPrune/internal/tensor"
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "is_mask", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "data", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
}, nil)

// Encode serializes a state to an Arrow IPC stream. Entry order is the
// state's insertion order, with each parameter's mask row directly after
// its parameter row under "<name>_mask".
func Encode(s *nn.State) ([]byte, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	nameB := b.Field(0).(*array.StringBuilder)
	maskB := b.Field(1).(*array.BooleanBuilder)
	shapeB := b.Field(2).(*array.ListBuilder)
	shapeVals := shapeB.ValueBuilder().(*array.Int64Builder)
	dataB := b.Field(3).(*array.ListBuilder)
	dataVals := dataB.ValueBuilder().(*array.Float32Builder)

	appendRow := func(name string, isMask bool, shape []int, data []float32) {
		nameB.Append(name)
		maskB.Append(isMask)
		shapeB.Append(true)
		for _, d := range shape {
			shapeVals.Append(int64(d))
		}
		dataB.Append(true)
		dataVals.AppendValues(data, nil)
	}

	for _, name := range s.Names() {
		p := s.Param(name)
		appendRow(name, false, p.Shape, p.Data)
		if m := s.Mask(name); m != nil {
			bits := make([]float32, len(m.Bits))
			for i, on := range m.Bits {
				if on {
					bits[i] = 1
				}
			}
			appendRow(name+nn.MaskSuffix, true, m.Shape, bits)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("wire: writing record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("wire: closing stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a state from an Arrow IPC stream produced by Encode.
func Decode(data []byte) (*nn.State, error) {
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("wire: opening stream: %w", err)
	}
	defer r.Release()

	s := nn.NewState()
	for r.Next() {
		rec := r.Record()
		names := rec.Column(0).(*array.String)
		isMask := rec.Column(1).(*array.Boolean)
		shapes := rec.Column(2).(*array.List)
		shapeVals := shapes.ListValues().(*array.Int64)
		datas := rec.Column(3).(*array.List)
		dataVals := datas.ListValues().(*array.Float32)

		for i := 0; i < int(rec.NumRows()); i++ {
			name := names.Value(i)

			ss, se := shapes.ValueOffsets(i)
			shape := make([]int, 0, se-ss)
			for j := ss; j < se; j++ {
				shape = append(shape, int(shapeVals.Value(int(j))))
			}

			ds, de := datas.ValueOffsets(i)
			if want := tensor.Numel(shape); int(de-ds) != want {
				return nil, fmt.Errorf("wire: entry %q has %d elements for shape %v", name, de-ds, shape)
			}

			if isMask.Value(i) {
				base := strings.TrimSuffix(name, nn.MaskSuffix)
				m := tensor.NewBool(shape...)
				for j := ds; j < de; j++ {
					m.Bits[j-ds] = dataVals.Value(int(j)) != 0
				}
				s.SetMask(base, m)
				continue
			}

			t := tensor.NewDense(shape...)
			for j := ds; j < de; j++ {
				t.Data[j-ds] = dataVals.Value(int(j))
			}
			s.SetParam(name, t)
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("wire: reading stream: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("wire: decoded state invalid: %w", err)
	}
	return s, nil
}
