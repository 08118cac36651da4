package graph

import (
	"encoding/binary"
	"math"

	"github.com/nvr-ai/go-npu/graph/onnxpb"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Parse decodes interchange JSON into a typed model.
//
// Parsing is as lenient as the protobuf JSON mapping: proto or camelCase field names and quoted
// integers are accepted. Unknown fields and malformed JSON return ErrFormat.
func Parse(text []byte) (*Model, error) {
	msg, err := onnxpb.ParseJSON(text)
	if err != nil {
		return nil, err
	}
	return FromMessage(msg)
}

// Decode decodes ONNX protobuf bytes into a typed model.
func Decode(data []byte) (*Model, error) {
	msg, err := onnxpb.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return FromMessage(msg)
}

// FromMessage copies a ModelProto message into a typed model. Initializer values stored as raw_data
// are decoded into FloatData.
func FromMessage(m protoreflect.Message) (*Model, error) {
	model := &Model{
		IRVersion:    getInt(m, "ir_version"),
		ProducerName: getString(m, "producer_name"),
	}
	for _, opset := range getMessages(m, "opset_import") {
		model.OpsetImport = append(model.OpsetImport, OperatorSetID{
			Domain:  getString(opset, "domain"),
			Version: getInt(opset, "version"),
		})
	}

	g, ok := getMessage(m, "graph")
	if !ok {
		return model, nil
	}
	model.Graph.Name = getString(g, "name")
	for _, vi := range getMessages(g, "input") {
		model.Graph.Input = append(model.Graph.Input, valueInfoFromMessage(vi))
	}
	for _, vi := range getMessages(g, "output") {
		model.Graph.Output = append(model.Graph.Output, valueInfoFromMessage(vi))
	}
	for _, t := range getMessages(g, "initializer") {
		init := Initializer{
			Name:     getString(t, "name"),
			Dims:     getInts(t, "dims"),
			DataType: DataType(getInt(t, "data_type")),
		}
		list := t.Get(fieldByName(t, "float_data")).List()
		for i := 0; i < list.Len(); i++ {
			init.FloatData = append(init.FloatData, float32(list.Get(i).Float()))
		}
		if raw := t.Get(fieldByName(t, "raw_data")).Bytes(); list.Len() == 0 && len(raw) > 0 {
			data, err := rawFloats(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "initializer %q", init.Name)
			}
			init.FloatData = data
		}
		model.Graph.Initializer = append(model.Graph.Initializer, init)
	}
	for _, n := range getMessages(g, "node") {
		model.Graph.Node = append(model.Graph.Node, Node{
			Input:  getStrings(n, "input"),
			Output: getStrings(n, "output"),
			Name:   getString(n, "name"),
			OpType: getString(n, "op_type"),
		})
	}
	return model, nil
}

// rawFloats decodes little-endian float32 raw_data.
func rawFloats(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.Wrapf(ErrFormat, "raw_data holds %d bytes, not a whole number of float32 values", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func valueInfoFromMessage(m protoreflect.Message) ValueInfo {
	vi := ValueInfo{Name: getString(m, "name")}
	typ, ok := getMessage(m, "type")
	if !ok {
		return vi
	}
	tt, ok := getMessage(typ, "tensor_type")
	if !ok {
		return vi
	}
	vi.Type.TensorType.ElemType = DataType(getInt(tt, "elem_type"))
	shape, ok := getMessage(tt, "shape")
	if !ok {
		return vi
	}
	for _, d := range getMessages(shape, "dim") {
		var dim Dimension
		if v := fieldByName(d, "dim_value"); d.Has(v) {
			dim.Value = d.Get(v).Int()
		}
		if p := fieldByName(d, "dim_param"); d.Has(p) {
			dim.Param = d.Get(p).String()
		}
		vi.Type.TensorType.Shape.Dim = append(vi.Type.TensorType.Shape.Dim, dim)
	}
	return vi
}

func fieldByName(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(protoreflect.Name(name))
}

func getString(m protoreflect.Message, name string) string {
	return m.Get(fieldByName(m, name)).String()
}

func getInt(m protoreflect.Message, name string) int64 {
	return m.Get(fieldByName(m, name)).Int()
}

func getMessage(m protoreflect.Message, name string) (protoreflect.Message, bool) {
	fd := fieldByName(m, name)
	if !m.Has(fd) {
		return nil, false
	}
	return m.Get(fd).Message(), true
}

func getMessages(m protoreflect.Message, name string) []protoreflect.Message {
	list := m.Get(fieldByName(m, name)).List()
	out := make([]protoreflect.Message, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).Message())
	}
	return out
}

func getStrings(m protoreflect.Message, name string) []string {
	list := m.Get(fieldByName(m, name)).List()
	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).String())
	}
	return out
}

func getInts(m protoreflect.Message, name string) []int64 {
	list := m.Get(fieldByName(m, name)).List()
	out := make([]int64, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).Int())
	}
	return out
}
