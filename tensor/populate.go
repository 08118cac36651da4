package tensor

import (
	"github.com/pkg/errors"
)

// FromVectors builds an [n, width, 1] buffer where element (b, i, 0) equals rows[b][i].
func FromVectors(n, width int, rows [][]float32) (*Buffer, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrShape, "batch size must be positive, got %d", n)
	}
	if width <= 0 {
		return nil, errors.Wrapf(ErrShape, "vector width must be positive, got %d", width)
	}
	if len(rows) != n {
		return nil, errors.Wrapf(ErrShape, "batch size %d but %d rows supplied", n, len(rows))
	}
	data := make([]float32, 0, n*width)
	for b, row := range rows {
		if len(row) != width {
			return nil, errors.Wrapf(ErrShape, "row %d has %d values, want %d", b, len(row), width)
		}
		data = append(data, row...)
	}
	return &Buffer{shape: []int64{int64(n), int64(width), 1}, data: data}, nil
}

// FromMatrix builds a [rows, cols] buffer from an explicit 2D source.
func FromMatrix(m [][]float32) (*Buffer, error) {
	if len(m) == 0 {
		return nil, errors.Wrap(ErrShape, "matrix has no rows")
	}
	cols := len(m[0])
	if cols == 0 {
		return nil, errors.Wrap(ErrShape, "matrix has no columns")
	}
	data := make([]float32, 0, len(m)*cols)
	for r, row := range m {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrShape, "matrix row %d has %d values, want %d", r, len(row), cols)
		}
		data = append(data, row...)
	}
	return &Buffer{shape: []int64{int64(len(m)), int64(cols)}, data: data}, nil
}

// FromFlat builds a [rows, cols] buffer from row-major values.
func FromFlat(rows, cols int, values []float32) (*Buffer, error) {
	if len(values) != rows*cols {
		return nil, errors.Wrapf(ErrShape, "%dx%d matrix needs %d values, got %d", rows, cols, rows*cols, len(values))
	}
	return New([]int64{int64(rows), int64(cols)}, append([]float32(nil), values...))
}

// Identity returns the n x n identity matrix.
func Identity(n int) [][]float32 {
	return ScaledIdentity(n, 1)
}

// ScaledIdentity returns k times the n x n identity matrix.
func ScaledIdentity(n int, k float32) [][]float32 {
	m := make([][]float32, n)
	for i := range m {
		m[i] = make([]float32, n)
		m[i][i] = k
	}
	return m
}

// Flatten returns the row-major values of a 2D source.
func Flatten(m [][]float32) []float32 {
	var out []float32
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
