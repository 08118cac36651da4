package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/config"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/profiler"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = "Result 1: 1 2 3 4 \n" +
	"Result 2: 5 6 7 8 \n" +
	"Result 3: 9 10 11 12 \n" +
	"Result 4: 13 14 15 16 \n" +
	"Result 5: 17 18 19 20 \n"

func build(t *testing.T, cfg config.Config, out *bytes.Buffer) *Pipeline {
	t.Helper()
	p, err := NewBuilder().
		WithConfig(cfg).
		WithEngine(inference.NewGorgoniaEngine()).
		WithAdapterOpener(func() (adapters.Factory, error) { return nil, errors.New("no dxcore") }).
		WithOutput(out).
		Build()
	require.NoError(t, err)
	return p
}

func TestRunSample(t *testing.T) {
	for _, weights := range []graph.WeightSource{graph.WeightInput, graph.WeightConstant} {
		t.Run(weights.String(), func(t *testing.T) {
			cfg := config.Default()
			cfg.Graph.Weights = weights

			var out bytes.Buffer
			res, err := build(t, cfg, &out).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, sampleOutput, out.String())
			assert.Nil(t, res.Adapters)
			assert.Equal(t, []int64{5, 4, 1}, res.Output.Shape())
		})
	}
}

func TestRunScaled(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Rows = [][]float32{{1, 2, 3, 4}, {0.5, 0, -1, 8}}
	cfg.Data.Matrix = tensor.ScaledIdentity(4, 2)

	var out bytes.Buffer
	_, err := build(t, cfg, &out).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Result 1: 2 4 6 8 \nResult 2: 1 0 -2 16 \n", out.String())
}

func TestRunAdapterFailureStillCompletes(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters.Enumerate = true

	var out bytes.Buffer
	res, err := build(t, cfg, &out).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Adapters)
	assert.Error(t, res.Adapters.Err)
	assert.Zero(t, res.Adapters.Count)
	assert.Equal(t, "Found 0 compute-capable adapters:\n"+sampleOutput, out.String())
}

func TestRunEngineFailure(t *testing.T) {
	cfg := config.Default()
	m, err := graph.BatchedMatMul(graph.MatMulOptions{Weights: graph.WeightInput})
	require.NoError(t, err)
	m.Graph.Input[1] = graph.FloatTensor(graph.WeightName, graph.Fixed(4), graph.Fixed(3))

	var out bytes.Buffer
	p, err := NewBuilder().
		WithConfig(cfg).
		WithModel(m).
		WithEngine(inference.NewGorgoniaEngine()).
		WithOutput(&out).
		Build()
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, inference.ErrRunFailed))
	assert.Empty(t, out.String())
}

func TestRunModelFile(t *testing.T) {
	m, err := graph.BatchedMatMul(graph.MatMulOptions{Weights: graph.WeightConstant, Matrix: tensor.Flatten(tensor.Identity(4))})
	require.NoError(t, err)
	text, err := m.IndentedJSON()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "matmul.json")
	require.NoError(t, os.WriteFile(path, text, 0o600))

	cfg := config.Default()
	cfg.Graph.Model = path

	var out bytes.Buffer
	p := build(t, cfg, &out)
	got, err := p.Descriptor()
	require.NoError(t, err)
	assert.Len(t, got.Graph.Initializer, 1)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, out.String())
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewBuilder().WithData([][]float32{{1, 2, 3, 4}}, tensor.Identity(4)).Build()
	assert.EqualError(t, err, "engine not configured")

	_, err = NewBuilder().WithEngine(inference.NewGorgoniaEngine()).Build()
	assert.EqualError(t, err, "input rows not configured")

	cfg := config.Default()
	cfg.Graph.Model = filepath.Join(t.TempDir(), "missing.onnx")
	b := NewBuilder().WithConfig(cfg).WithEngine(inference.NewGorgoniaEngine())
	assert.True(t, b.HasError())
	_, err = b.Build()
	assert.Error(t, err)

	assert.Panics(t, func() { NewBuilder().WithModel(nil).MustBuild() })
}

func TestRunTimesFailedStages(t *testing.T) {
	operations := func(prof *profiler.Profiler) []string {
		var names []string
		for _, op := range prof.Operations() {
			names = append(names, op.Name)
		}
		return names
	}

	prof := profiler.New()
	var out bytes.Buffer
	p, err := NewBuilder().
		WithConfig(config.Default()).
		WithData([][]float32{{1, 2, 3}}, tensor.Identity(4)).
		WithEngine(inference.NewGorgoniaEngine()).
		WithOutput(&out).
		WithProfiler(prof).
		Build()
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"build", "populate"}, operations(prof))
}
