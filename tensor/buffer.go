// Package tensor - Flat float32 tensor buffers and the populators that fill them.
package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	gt "gorgonia.org/tensor"
)

// ErrShape is returned when a shape or source does not fit the requested buffer.
var ErrShape = errors.New("tensor shape error")

// Buffer is a contiguous row-major float32 buffer with an explicit shape.
type Buffer struct {
	shape []int64
	data  []float32
}

// Named pairs a buffer with the graph value it feeds or came from.
type Named struct {
	Name   string
	Buffer *Buffer
}

// New wraps data with shape. The data length must equal the product of the shape.
func New(shape []int64, data []float32) (*Buffer, error) {
	size, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, errors.Wrapf(ErrShape, "shape %v needs %d values, got %d", shape, size, len(data))
	}
	return &Buffer{shape: append([]int64(nil), shape...), data: data}, nil
}

// Zeros allocates a zeroed buffer of the given shape.
func Zeros(shape ...int64) (*Buffer, error) {
	size, err := numel(shape)
	if err != nil {
		return nil, err
	}
	return &Buffer{shape: append([]int64(nil), shape...), data: make([]float32, size)}, nil
}

func numel(shape []int64) (int64, error) {
	if len(shape) == 0 {
		return 0, errors.Wrap(ErrShape, "empty shape")
	}
	size := int64(1)
	for i, d := range shape {
		if d <= 0 {
			return 0, errors.Wrapf(ErrShape, "dimension %d of %v is not positive", i, shape)
		}
		size *= d
	}
	return size, nil
}

// Shape returns a copy of the buffer shape.
func (b *Buffer) Shape() []int64 {
	return append([]int64(nil), b.shape...)
}

// Data returns the flat backing slice.
func (b *Buffer) Data() []float32 {
	return b.data
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Rank returns the number of dimensions.
func (b *Buffer) Rank() int {
	return len(b.shape)
}

// offset maps a multi-dimensional index to its flat row-major offset.
func (b *Buffer) offset(idx []int) (int, error) {
	if len(idx) != len(b.shape) {
		return 0, errors.Wrapf(ErrShape, "index %v has rank %d, buffer rank is %d", idx, len(idx), len(b.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || int64(v) >= b.shape[i] {
			return 0, errors.Wrapf(ErrShape, "index %v out of range for shape %v", idx, b.shape)
		}
		off = off*int(b.shape[i]) + v
	}
	return off, nil
}

// At returns the element at idx.
func (b *Buffer) At(idx ...int) (float32, error) {
	off, err := b.offset(idx)
	if err != nil {
		return 0, err
	}
	return b.data[off], nil
}

// Set stores v at idx.
func (b *Buffer) Set(v float32, idx ...int) error {
	off, err := b.offset(idx)
	if err != nil {
		return err
	}
	b.data[off] = v
	return nil
}

// Rows returns the buffer as leading-dimension rows, each a slice of the backing data.
func (b *Buffer) Rows() [][]float32 {
	n := int(b.shape[0])
	width := len(b.data) / n
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = b.data[i*width : (i+1)*width : (i+1)*width]
	}
	return rows
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{shape: b.Shape(), data: append([]float32(nil), b.data...)}
}

// Dense returns a gorgonia dense tensor sharing the buffer's backing data.
func (b *Buffer) Dense() *gt.Dense {
	shape := make([]int, len(b.shape))
	for i, d := range b.shape {
		shape[i] = int(d)
	}
	return gt.New(gt.WithShape(shape...), gt.WithBacking(b.data))
}

// String renders the shape and element count.
func (b *Buffer) String() string {
	return fmt.Sprintf("tensor%v(%d values)", b.shape, len(b.data))
}

// SameShape reports whether two buffers have identical shapes.
func (b *Buffer) SameShape(other *Buffer) bool {
	if len(b.shape) != len(other.shape) {
		return false
	}
	for i := range b.shape {
		if b.shape[i] != other.shape[i] {
			return false
		}
	}
	return true
}

// AlmostEqual reports whether both buffers have the same shape and every pair of elements differs by
// at most tol. NaN never equals anything.
func (b *Buffer) AlmostEqual(other *Buffer, tol float32) bool {
	if !b.SameShape(other) {
		return false
	}
	for i, v := range b.data {
		w := other.data[i]
		if math32.IsNaN(v) || math32.IsNaN(w) {
			return false
		}
		if math32.Abs(v-w) > tol {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest absolute element difference between same-shaped buffers.
func (b *Buffer) MaxAbsDiff(other *Buffer) (float32, error) {
	if !b.SameShape(other) {
		return 0, errors.Wrapf(ErrShape, "shapes %v and %v differ", b.shape, other.shape)
	}
	var worst float32
	for i, v := range b.data {
		worst = math32.Max(worst, math32.Abs(v-other.data[i]))
	}
	return worst, nil
}
