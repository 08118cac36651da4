package graph

import (
	"strings"

	"github.com/pkg/errors"
)

// Names and versions of the batched matrix-multiply descriptor.
const (
	InputName    = "X"
	WeightName   = "W"
	OutputName   = "Y"
	NodeName     = "MatMulNode"
	GraphName    = "BatchedMatMul"
	ProducerName = "go-npu"
	BatchParam   = "batch"
	IRVersion    = 7
	OpsetVersion = 13
	// Width is the size of each batched vector and of the square weight matrix.
	Width = 4
)

// WeightSource selects how W reaches the graph.
type WeightSource int

const (
	// WeightInput declares W as a second graph input supplied at run time.
	WeightInput WeightSource = iota
	// WeightConstant embeds W as an initializer with explicit float data.
	WeightConstant
)

// String returns the configuration name of the weight source.
func (w WeightSource) String() string {
	switch w {
	case WeightInput:
		return "input"
	case WeightConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// ParseWeightSource parses "input" or "constant".
func ParseWeightSource(s string) (WeightSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "provided", "provided_input":
		return WeightInput, nil
	case "constant", "embedded", "embedded_constant":
		return WeightConstant, nil
	default:
		return 0, errors.Errorf("unknown weight source %q (want input or constant)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (w WeightSource) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WeightSource) UnmarshalText(text []byte) error {
	v, err := ParseWeightSource(string(text))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// MatMulOptions configures BatchedMatMul.
type MatMulOptions struct {
	// Weights selects a runtime input or an embedded constant for W.
	Weights WeightSource
	// Matrix holds the Width x Width row-major weight values. Required for WeightConstant.
	Matrix []float32
	// BatchParam names the symbolic batch dimension. Defaults to "batch".
	BatchParam string
}

// BatchedMatMul builds the descriptor for Y = W x X with X, Y shaped [batch, 4, 1] and W shaped [4, 4].
func BatchedMatMul(opts MatMulOptions) (*Model, error) {
	batch := opts.BatchParam
	if batch == "" {
		batch = BatchParam
	}

	vector := []Dimension{Symbolic(batch), Fixed(Width), Fixed(1)}
	g := Graph{
		Name:   GraphName,
		Input:  []ValueInfo{FloatTensor(InputName, vector...)},
		Output: []ValueInfo{FloatTensor(OutputName, vector...)},
		Node: []Node{{
			Input:  []string{WeightName, InputName},
			Output: []string{OutputName},
			Name:   NodeName,
			OpType: OpMatMul,
		}},
	}

	switch opts.Weights {
	case WeightInput:
		g.Input = append(g.Input, FloatTensor(WeightName, Fixed(Width), Fixed(Width)))
	case WeightConstant:
		if len(opts.Matrix) != Width*Width {
			return nil, errors.Errorf("embedded weight needs %d values, got %d", Width*Width, len(opts.Matrix))
		}
		data := make([]float32, len(opts.Matrix))
		copy(data, opts.Matrix)
		g.Initializer = []Initializer{{
			Name:      WeightName,
			Dims:      []int64{Width, Width},
			DataType:  DataTypeFloat,
			FloatData: data,
		}}
	default:
		return nil, errors.Errorf("unknown weight source %d", opts.Weights)
	}

	return &Model{
		IRVersion:    IRVersion,
		ProducerName: ProducerName,
		OpsetImport:  []OperatorSetID{{Domain: "", Version: OpsetVersion}},
		Graph:        g,
	}, nil
}
