package inference

import (
	"context"
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleRows = [][]float32{
	{1, 2, 3, 4},
	{5, 6, 7, 8},
	{9, 10, 11, 12},
	{13, 14, 15, 16},
	{17, 18, 19, 20},
}

// descriptor serializes the batched MatMul graph in the given weight mode.
func descriptor(t *testing.T, weights graph.WeightSource, matrix [][]float32) []byte {
	t.Helper()
	m, err := graph.BatchedMatMul(graph.MatMulOptions{Weights: weights, Matrix: tensor.Flatten(matrix)})
	require.NoError(t, err)
	data, err := m.Binary()
	require.NoError(t, err)
	return data
}

// runMatMul runs Y = W x X for every engine under test and returns Y.
func runMatMul(t *testing.T, e Engine, weights graph.WeightSource, w [][]float32, rows [][]float32) *tensor.Buffer {
	t.Helper()
	x, err := tensor.FromVectors(len(rows), graph.Width, rows)
	require.NoError(t, err)
	inputs := []tensor.Named{{Name: graph.InputName, Buffer: x}}
	if weights == graph.WeightInput {
		wb, err := tensor.FromMatrix(w)
		require.NoError(t, err)
		inputs = append(inputs, tensor.Named{Name: graph.WeightName, Buffer: wb})
	}

	out, err := e.Run(context.Background(), descriptor(t, weights, w), inputs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, graph.OutputName, out[0].Name)
	return out[0].Buffer
}

// reference computes W x X[b] directly.
func reference(w, rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for b, x := range rows {
		out[b] = make([]float32, len(w))
		for i := range w {
			for k := range x {
				out[b][i] += w[i][k] * x[k]
			}
		}
	}
	return out
}

func TestGorgoniaConcreteScenario(t *testing.T) {
	e := NewGorgoniaEngine()
	defer e.Close()

	for _, weights := range []graph.WeightSource{graph.WeightInput, graph.WeightConstant} {
		t.Run(weights.String(), func(t *testing.T) {
			y := runMatMul(t, e, weights, tensor.Identity(4), sampleRows)
			assert.Equal(t, []int64{5, 4, 1}, y.Shape())
			assert.Equal(t, sampleRows, y.Rows())
		})
	}
}

func TestGorgoniaMatVec(t *testing.T) {
	e := NewGorgoniaEngine()
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{1, 2, 3, 8} {
		w := make([][]float32, 4)
		for i := range w {
			w[i] = make([]float32, 4)
			for j := range w[i] {
				w[i][j] = float32(rng.Intn(11) - 5)
			}
		}
		rows := make([][]float32, n)
		for b := range rows {
			rows[b] = make([]float32, 4)
			for i := range rows[b] {
				rows[b][i] = float32(rng.Intn(21) - 10)
			}
		}

		y := runMatMul(t, e, graph.WeightInput, w, rows)
		assert.Equal(t, []int64{int64(n), 4, 1}, y.Shape())
		assert.Equal(t, reference(w, rows), y.Rows(), "batch %d", n)
	}
}

func TestGorgoniaScaling(t *testing.T) {
	y := runMatMul(t, NewGorgoniaEngine(), graph.WeightConstant, tensor.ScaledIdentity(4, 2), sampleRows)
	for b, row := range y.Rows() {
		for i, v := range row {
			assert.Equal(t, 2*sampleRows[b][i], v)
		}
	}
}

func TestGorgoniaBatchIndependence(t *testing.T) {
	e := NewGorgoniaEngine()
	w := [][]float32{
		{1, 2, 0, 0},
		{0, 1, 3, 0},
		{0, 0, 1, 4},
		{5, 0, 0, 1},
	}
	perm := []int{3, 0, 4, 1, 2}
	permuted := make([][]float32, len(perm))
	for i, p := range perm {
		permuted[i] = sampleRows[p]
	}

	y := runMatMul(t, e, graph.WeightInput, w, sampleRows).Rows()
	yp := runMatMul(t, e, graph.WeightInput, w, permuted).Rows()
	for i, p := range perm {
		assert.Equal(t, y[p], yp[i])
	}
}

func TestGorgoniaRejects(t *testing.T) {
	e := NewGorgoniaEngine()
	x, err := tensor.FromVectors(5, 4, sampleRows)
	require.NoError(t, err)
	w, err := tensor.FromMatrix(tensor.Identity(4))
	require.NoError(t, err)

	t.Run("NarrowWeight", func(t *testing.T) {
		m, err := graph.BatchedMatMul(graph.MatMulOptions{Weights: graph.WeightInput})
		require.NoError(t, err)
		m.Graph.Input[1] = graph.FloatTensor(graph.WeightName, graph.Fixed(4), graph.Fixed(3))
		data, err := m.Binary()
		require.NoError(t, err)

		_, err = e.Run(context.Background(), data, []tensor.Named{{Name: "X", Buffer: x}, {Name: "W", Buffer: w}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRunFailed))
		assert.True(t, errors.Is(err, graph.ErrInvalid))
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := e.Run(context.Background(), []byte{0xff, 0x01, 0x02}, nil)
		assert.True(t, errors.Is(err, ErrRunFailed))
	})

	t.Run("MissingWeight", func(t *testing.T) {
		_, err := e.Run(context.Background(), descriptor(t, graph.WeightInput, nil), []tensor.Named{{Name: "X", Buffer: x}})
		assert.True(t, errors.Is(err, ErrRunFailed))
		assert.True(t, errors.Is(err, ErrInputMismatch))
	})

	t.Run("WrongShape", func(t *testing.T) {
		bad, err := tensor.Zeros(5, 4)
		require.NoError(t, err)
		_, err = e.Run(context.Background(), descriptor(t, graph.WeightInput, nil),
			[]tensor.Named{{Name: "X", Buffer: bad}, {Name: "W", Buffer: w}})
		assert.True(t, errors.Is(err, ErrShapeMismatch))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Run(ctx, descriptor(t, graph.WeightInput, nil), nil)
		assert.True(t, errors.Is(err, ErrRunFailed))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestGorgoniaDoesNotMutateInputs(t *testing.T) {
	x, err := tensor.FromVectors(5, 4, sampleRows)
	require.NoError(t, err)
	before := x.Clone()
	w, err := tensor.FromMatrix(tensor.ScaledIdentity(4, 3))
	require.NoError(t, err)

	_, err = NewGorgoniaEngine().Run(context.Background(), descriptor(t, graph.WeightInput, nil),
		[]tensor.Named{{Name: "W", Buffer: w}, {Name: "X", Buffer: x}})
	require.NoError(t, err)
	assert.True(t, before.AlmostEqual(x, 0))
}

func TestMatMulBroadcast(t *testing.T) {
	// [2,1,2,3] x [3,3,2] broadcasts to [2,3,2,2].
	a, err := tensor.New([]int64{2, 1, 2, 3}, seq(12))
	require.NoError(t, err)
	b, err := tensor.New([]int64{3, 3, 2}, seq(18))
	require.NoError(t, err)

	y, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 2, 2}, y.Shape())

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for r := 0; r < 2; r++ {
				for c := 0; c < 2; c++ {
					var want float32
					for k := 0; k < 3; k++ {
						av, _ := a.At(i, 0, r, k)
						bv, _ := b.At(j, k, c)
						want += av * bv
					}
					got, err := y.At(i, j, r, c)
					require.NoError(t, err)
					assert.Equal(t, want, got, "(%d,%d,%d,%d)", i, j, r, c)
				}
			}
		}
	}

	t.Run("Errors", func(t *testing.T) {
		v, err := tensor.Zeros(4)
		require.NoError(t, err)
		_, err = MatMul(v, b)
		assert.True(t, errors.Is(err, ErrUnsupported))

		c, err := tensor.Zeros(2, 4)
		require.NoError(t, err)
		_, err = MatMul(a, c)
		assert.True(t, errors.Is(err, ErrShapeMismatch))

		d, err := tensor.Zeros(4, 3, 2)
		require.NoError(t, err)
		e, err := tensor.Zeros(3, 2, 3)
		require.NoError(t, err)
		_, err = MatMul(d, e)
		assert.True(t, errors.Is(err, ErrShapeMismatch))
	})
}

func TestMatMulUnitDimensions(t *testing.T) {
	a, err := tensor.New([]int64{1, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	b, err := tensor.New([]int64{3, 1}, []float32{4, 5, 6})
	require.NoError(t, err)
	y, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, y.Shape())
	assert.Equal(t, []float32{32}, y.Data())
}

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}
