package inference

import (
	"context"
	"os"
	"testing"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference/providers"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func ortAvailable() bool {
	return ort.IsInitialized()
}

// newTestORTEngine skips unless the native library is reachable through the environment.
func newTestORTEngine(t *testing.T) *ORTEngine {
	t.Helper()
	path := os.Getenv(providers.LibraryPathEnv)
	if path == "" {
		t.Skipf("%s not set", providers.LibraryPathEnv)
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("ONNX Runtime library unavailable: %v", err)
	}
	e, err := NewORTEngine(context.Background(), ORTOptions{
		LibraryPath: path,
		Providers:   []providers.Preference{{Backend: providers.CPUBackend, Priority: 1}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e
}

func TestORTMatchesGorgonia(t *testing.T) {
	e := newTestORTEngine(t)
	sw := NewGorgoniaEngine()

	w := [][]float32{
		{2, 0, 1, 0},
		{0, 1, 0, 3},
		{1, 1, 1, 1},
		{0, 0, 0, 5},
	}
	for _, weights := range []graph.WeightSource{graph.WeightInput, graph.WeightConstant} {
		t.Run(weights.String(), func(t *testing.T) {
			native := runMatMul(t, e, weights, w, sampleRows)
			soft := runMatMul(t, sw, weights, w, sampleRows)
			assert.Equal(t, []int64{5, 4, 1}, native.Shape())
			assert.True(t, native.AlmostEqual(soft, 0))
		})
	}
}

func TestORTConcreteScenario(t *testing.T) {
	y := runMatMul(t, newTestORTEngine(t), graph.WeightInput, tensor.Identity(4), sampleRows)
	assert.Equal(t, sampleRows, y.Rows())
}

func TestORTRejectsNarrowWeight(t *testing.T) {
	e := newTestORTEngine(t)
	m, err := graph.BatchedMatMul(graph.MatMulOptions{Weights: graph.WeightInput})
	require.NoError(t, err)
	m.Graph.Input[1] = graph.FloatTensor(graph.WeightName, graph.Fixed(4), graph.Fixed(3))
	data, err := m.Binary()
	require.NoError(t, err)

	x, err := tensor.FromVectors(5, 4, sampleRows)
	require.NoError(t, err)
	w, err := tensor.Zeros(4, 3)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), data, []tensor.Named{{Name: "X", Buffer: x}, {Name: "W", Buffer: w}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunFailed))
}

func TestSignaturesFromInfo(t *testing.T) {
	sigs := signaturesFromInfo([]ort.InputOutputInfo{
		{Name: "X", Dimensions: ort.NewShape(-1, 4, 1)},
		{Name: "W", Dimensions: ort.NewShape(4, 4)},
	})
	require.Len(t, sigs, 2)
	assert.True(t, sigs[0].Dims[0].IsSymbolic())
	assert.Equal(t, graph.Fixed(4), sigs[0].Dims[1])
	assert.Equal(t, []graph.Dimension{graph.Fixed(4), graph.Fixed(4)}, sigs[1].Dims)
}
