// Package graph - Typed ONNX graph descriptors and their interchange serialization.
package graph

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/nvr-ai/go-npu/graph/onnxpb"
	"github.com/pkg/errors"
)

var (
	// ErrFormat is returned when descriptor text does not parse as an ONNX model.
	ErrFormat = onnxpb.ErrFormat
	// ErrInvalid is returned when a descriptor parses but does not type-check.
	ErrInvalid = errors.New("invalid graph descriptor")
)

// DataType is an ONNX TensorProto element type.
type DataType int32

// ONNX data types (TensorProto.DataType) used by float graphs.
const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeDouble    DataType = 11
)

// String returns the ONNX name of the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeUndefined:
		return "undefined"
	case DataTypeFloat:
		return "float"
	case DataTypeDouble:
		return "double"
	default:
		return "type(" + strconv.Itoa(int(d)) + ")"
	}
}

// Model is the root of a descriptor (ModelProto).
type Model struct {
	IRVersion    int64           `json:"irVersion"`
	ProducerName string          `json:"producerName,omitempty"`
	OpsetImport  []OperatorSetID `json:"opsetImport"`
	Graph        Graph           `json:"graph"`
}

// OperatorSetID declares conformance to a versioned operator set.
type OperatorSetID struct {
	Domain  string `json:"domain"`
	Version int64  `json:"version"`
}

// Graph is a named set of inputs, outputs, constants and compute nodes.
type Graph struct {
	Name        string        `json:"name"`
	Input       []ValueInfo   `json:"input"`
	Output      []ValueInfo   `json:"output"`
	Initializer []Initializer `json:"initializer,omitempty"`
	Node        []Node        `json:"node"`
}

// ValueInfo declares a named tensor slot.
type ValueInfo struct {
	Name string   `json:"name"`
	Type TypeInfo `json:"type"`
}

// TypeInfo wraps the tensor type of a value.
type TypeInfo struct {
	TensorType TensorType `json:"tensorType"`
}

// TensorType is an element type plus a shape.
type TensorType struct {
	ElemType DataType `json:"elemType"`
	Shape    Shape    `json:"shape"`
}

// Shape is an ordered list of dimensions.
type Shape struct {
	Dim []Dimension `json:"dim"`
}

// Dimension is either a fixed size or a named symbolic size.
type Dimension struct {
	Value int64  `json:"dimValue,omitempty"`
	Param string `json:"dimParam,omitempty"`
}

// Initializer is a constant tensor embedded in the graph.
type Initializer struct {
	Name      string    `json:"name"`
	Dims      []int64   `json:"dims"`
	DataType  DataType  `json:"dataType"`
	FloatData []float32 `json:"floatData"`
}

// MarshalJSON writes NaN and infinities in floatData as the strings "NaN", "Infinity" and
// "-Infinity", which Parse reads back.
func (i Initializer) MarshalJSON() ([]byte, error) {
	type plain Initializer
	if allFinite(i.FloatData) {
		return json.Marshal(plain(i))
	}
	data := make([]jsonFloat, len(i.FloatData))
	for j, v := range i.FloatData {
		data[j] = jsonFloat(v)
	}
	return json.Marshal(struct {
		Name      string      `json:"name"`
		Dims      []int64     `json:"dims"`
		DataType  DataType    `json:"dataType"`
		FloatData []jsonFloat `json:"floatData"`
	}{i.Name, i.Dims, i.DataType, data})
}

type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

func allFinite(data []float32) bool {
	for _, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// Node is a single operation.
type Node struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
	Name   string   `json:"name,omitempty"`
	OpType string   `json:"opType"`
}

// Fixed returns a fixed dimension.
func Fixed(v int64) Dimension {
	return Dimension{Value: v}
}

// Symbolic returns a named symbolic dimension.
func Symbolic(name string) Dimension {
	return Dimension{Param: name}
}

// IsSymbolic reports whether the dimension is bound at run time.
func (d Dimension) IsSymbolic() bool {
	return d.Param != ""
}

// String renders the dimension as its size or its parameter name.
func (d Dimension) String() string {
	if d.IsSymbolic() {
		return d.Param
	}
	return strconv.FormatInt(d.Value, 10)
}

// FloatTensor declares a float32 value with the given dimensions.
func FloatTensor(name string, dims ...Dimension) ValueInfo {
	return ValueInfo{
		Name: name,
		Type: TypeInfo{TensorType: TensorType{
			ElemType: DataTypeFloat,
			Shape:    Shape{Dim: append([]Dimension(nil), dims...)},
		}},
	}
}

// Dims returns the declared dimensions of the value.
func (v ValueInfo) Dims() []Dimension {
	return v.Type.TensorType.Shape.Dim
}

// FormatDims renders dimensions as [batch,4,1].
func FormatDims(dims []Dimension) string {
	s := "["
	for i, d := range dims {
		if i > 0 {
			s += ","
		}
		s += d.String()
	}
	return s + "]"
}

// JSON serializes the model to interchange JSON.
func (m *Model) JSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding graph descriptor")
	}
	return data, nil
}

// IndentedJSON serializes the model to human readable interchange JSON.
func (m *Model) IndentedJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding graph descriptor")
	}
	return data, nil
}

// Binary serializes the model to ONNX protobuf bytes.
func (m *Model) Binary() ([]byte, error) {
	msg, err := ToMessage(m)
	if err != nil {
		return nil, err
	}
	data, err := onnxpb.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling graph %q", m.Graph.Name)
	}
	return data, nil
}
