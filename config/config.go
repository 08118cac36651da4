// Package config - Run configuration loaded from YAML with compiled-in defaults.
package config

import (
	"os"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/inference"
	"github.com/nvr-ai/go-npu/inference/providers"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete run configuration.
type Config struct {
	// Data is the numeric input of the run.
	Data Data `yaml:"data"`
	// Graph selects how the descriptor is produced.
	Graph Graph `yaml:"graph"`
	// Adapters controls hardware adapter discovery.
	Adapters Adapters `yaml:"adapters"`
	// Engine selects and configures the inference engine.
	Engine Engine `yaml:"engine"`
}

// Data holds the batch of input vectors and the weight matrix.
type Data struct {
	// BatchSize must equal len(Rows) when non-zero.
	BatchSize int         `yaml:"batchSize,omitempty"`
	Rows      [][]float32 `yaml:"rows"`
	Matrix    [][]float32 `yaml:"matrix"`
}

// Graph configures the descriptor.
type Graph struct {
	// Weights is "input" to feed W at run time or "constant" to embed it.
	Weights graph.WeightSource `yaml:"weights"`
	// Model loads a descriptor file (.json or .onnx) instead of building one.
	Model string `yaml:"model,omitempty"`
}

// Adapters configures adapter discovery.
type Adapters struct {
	Enumerate bool            `yaml:"enumerate"`
	Filter    adapters.Filter `yaml:"filter"`
}

// Engine configures inference.
type Engine struct {
	Type        inference.EngineType    `yaml:"type"`
	LibraryPath string                  `yaml:"libraryPath,omitempty"`
	Fallback    bool                    `yaml:"fallback"`
	Providers   []providers.Preference  `yaml:"providers"`
	Session     providers.SessionConfig `yaml:"session,omitempty"`
}

// Default returns the sample run: five vectors, the identity matrix, W as a run-time input,
// discovery off, and ONNX Runtime preferring DirectML with gorgonia as fallback.
func Default() Config {
	return Config{
		Data: Data{
			Rows: [][]float32{
				{1, 2, 3, 4},
				{5, 6, 7, 8},
				{9, 10, 11, 12},
				{13, 14, 15, 16},
				{17, 18, 19, 20},
			},
			Matrix: tensor.Identity(graph.Width),
		},
		Graph: Graph{Weights: graph.WeightInput},
		Adapters: Adapters{
			Enumerate: false,
			Filter:    adapters.FilterCoreCompute,
		},
		Engine: Engine{
			Type:      inference.EngineONNXRuntime,
			Fallback:  true,
			Providers: providers.DefaultPreferences(),
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their default values; lists
// present in the file replace the default lists.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged, validated configuration.
//   - error: An error if the file cannot be read or parsed, or ErrInvalid.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration is runnable.
func (c Config) Validate() error {
	d := c.Data
	if len(d.Rows) == 0 {
		return errors.Wrap(ErrInvalid, "data.rows is empty")
	}
	for i, row := range d.Rows {
		if len(row) != graph.Width {
			return errors.Wrapf(ErrInvalid, "data.rows[%d] has %d values, want %d", i, len(row), graph.Width)
		}
	}
	if d.BatchSize != 0 && d.BatchSize != len(d.Rows) {
		return errors.Wrapf(ErrInvalid, "data.batchSize is %d but %d rows are given", d.BatchSize, len(d.Rows))
	}
	if len(d.Matrix) != graph.Width {
		return errors.Wrapf(ErrInvalid, "data.matrix has %d rows, want %d", len(d.Matrix), graph.Width)
	}
	for i, row := range d.Matrix {
		if len(row) != graph.Width {
			return errors.Wrapf(ErrInvalid, "data.matrix[%d] has %d values, want %d", i, len(row), graph.Width)
		}
	}

	switch c.Graph.Weights {
	case graph.WeightInput, graph.WeightConstant:
	default:
		return errors.Wrapf(ErrInvalid, "graph.weights %d is unknown", c.Graph.Weights)
	}
	if c.Adapters.Enumerate {
		if _, err := adapters.ParseFilter(string(c.Adapters.Filter)); err != nil {
			return errors.Wrapf(ErrInvalid, "adapters.filter: %v", err)
		}
	}
	if _, err := inference.ParseEngineType(string(c.Engine.Type)); err != nil {
		return errors.Wrapf(ErrInvalid, "engine.type: %v", err)
	}
	for i, p := range c.Engine.Providers {
		if _, err := providers.ParseBackend(string(p.Backend)); err != nil {
			return errors.Wrapf(ErrInvalid, "engine.providers[%d]: %v", i, err)
		}
	}
	if _, err := c.Engine.Session.GraphOptimizationLevel(); err != nil {
		return errors.Wrapf(ErrInvalid, "engine.session: %v", err)
	}
	return nil
}

// EngineOptions converts the engine section for inference.New.
func (c Config) EngineOptions() inference.Options {
	return inference.Options{
		Type:     c.Engine.Type,
		Fallback: c.Engine.Fallback,
		ORT: inference.ORTOptions{
			LibraryPath: c.Engine.LibraryPath,
			Providers:   c.Engine.Providers,
			Session:     c.Engine.Session,
		},
	}
}
