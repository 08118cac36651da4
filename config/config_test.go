package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/inference/providers"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Data.Rows, 5)
	assert.Equal(t, []float32{17, 18, 19, 20}, cfg.Data.Rows[4])
	assert.Equal(t, tensor.Identity(4), cfg.Data.Matrix)
	assert.Equal(t, graph.WeightInput, cfg.Graph.Weights)
	assert.False(t, cfg.Adapters.Enumerate)
	assert.Equal(t, adapters.FilterCoreCompute, cfg.Adapters.Filter)
	assert.Equal(t, inference.EngineONNXRuntime, cfg.Engine.Type)
	assert.True(t, cfg.Engine.Fallback)
	require.Len(t, cfg.Engine.Providers, 2)
	assert.Equal(t, providers.DirectMLBackend, cfg.Engine.Providers[0].Backend)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
data:
  batchSize: 2
  rows:
    - [1, 0, 0, 1]
    - [2, 2, 2, 2]
  matrix:
    - [2, 0, 0, 0]
    - [0, 2, 0, 0]
    - [0, 0, 2, 0]
    - [0, 0, 0, 2]
graph:
  weights: embedded_constant
adapters:
  enumerate: true
  filter: generic-ml
engine:
  type: gorgonia
  providers:
    - backend: openvino
      priority: 10
      options:
        device_type: NPU
`))
	require.NoError(t, err)
	assert.Len(t, cfg.Data.Rows, 2)
	assert.Equal(t, tensor.ScaledIdentity(4, 2), cfg.Data.Matrix)
	assert.Equal(t, graph.WeightConstant, cfg.Graph.Weights)
	assert.True(t, cfg.Adapters.Enumerate)
	assert.Equal(t, adapters.FilterGenericML, cfg.Adapters.Filter)
	assert.Equal(t, inference.EngineGorgonia, cfg.Engine.Type)
	assert.True(t, cfg.Engine.Fallback, "keys absent from the file keep defaults")
	require.Len(t, cfg.Engine.Providers, 1)
	assert.Equal(t, "NPU", cfg.Engine.Providers[0].Options["device_type"])

	opts := cfg.EngineOptions()
	assert.Equal(t, inference.EngineGorgonia, opts.Type)
	assert.Equal(t, cfg.Engine.Providers, opts.ORT.Providers)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"UnknownWeights": "graph: {weights: sometimes}",
		"UnknownFilter":  "adapters: {enumerate: true, filter: graphics}",
		"UnknownEngine":  "engine: {type: tflite}",
		"UnknownBackend": "engine: {providers: [{backend: tpu}]}",
		"Malformed":      "data: [",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"NoRows", func(c *Config) { c.Data.Rows = nil }},
		{"NarrowRow", func(c *Config) { c.Data.Rows[1] = []float32{1, 2, 3} }},
		{"BatchSize", func(c *Config) { c.Data.BatchSize = 4 }},
		{"MatrixRows", func(c *Config) { c.Data.Matrix = c.Data.Matrix[:3] }},
		{"MatrixCols", func(c *Config) { c.Data.Matrix[2] = []float32{1} }},
		{"Weights", func(c *Config) { c.Graph.Weights = graph.WeightSource(7) }},
		{"Filter", func(c *Config) { c.Adapters.Enumerate = true; c.Adapters.Filter = "x" }},
		{"Engine", func(c *Config) { c.Engine.Type = "x" }},
		{"Optimization", func(c *Config) { c.Engine.Session.Optimization = "max" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}

	cfg := Default()
	cfg.Data.BatchSize = 5
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("graph:\n  weights: constant\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, graph.WeightConstant, cfg.Graph.Weights)
	assert.Len(t, cfg.Data.Rows, 5)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
