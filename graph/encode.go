package graph

import (
	"github.com/nvr-ai/go-npu/graph/onnxpb"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ToMessage copies a typed model into a dynamic ModelProto message. Float data is carried as
// float_data, so NaN and infinities survive unchanged.
func ToMessage(m *Model) (*dynamicpb.Message, error) {
	msg, err := onnxpb.NewModel()
	if err != nil {
		return nil, err
	}
	setInt(msg, "ir_version", m.IRVersion)
	setString(msg, "producer_name", m.ProducerName)
	opsets := mutableList(msg, "opset_import")
	for _, o := range m.OpsetImport {
		e := opsets.NewElement().Message()
		setString(e, "domain", o.Domain)
		setInt(e, "version", o.Version)
		opsets.Append(protoreflect.ValueOfMessage(e))
	}

	g := msg.Mutable(fieldByName(msg, "graph")).Message()
	setString(g, "name", m.Graph.Name)
	appendValueInfos(mutableList(g, "input"), m.Graph.Input)
	appendValueInfos(mutableList(g, "output"), m.Graph.Output)

	inits := mutableList(g, "initializer")
	for _, init := range m.Graph.Initializer {
		e := inits.NewElement().Message()
		setString(e, "name", init.Name)
		setInt32(e, "data_type", int32(init.DataType))
		dims := mutableList(e, "dims")
		for _, d := range init.Dims {
			dims.Append(protoreflect.ValueOfInt64(d))
		}
		data := mutableList(e, "float_data")
		for _, v := range init.FloatData {
			data.Append(protoreflect.ValueOfFloat32(v))
		}
		inits.Append(protoreflect.ValueOfMessage(e))
	}

	nodes := mutableList(g, "node")
	for _, n := range m.Graph.Node {
		e := nodes.NewElement().Message()
		appendStrings(mutableList(e, "input"), n.Input)
		appendStrings(mutableList(e, "output"), n.Output)
		setString(e, "name", n.Name)
		setString(e, "op_type", n.OpType)
		nodes.Append(protoreflect.ValueOfMessage(e))
	}
	return msg, nil
}

func appendValueInfos(list protoreflect.List, values []ValueInfo) {
	for _, v := range values {
		e := list.NewElement().Message()
		setString(e, "name", v.Name)
		typ := e.Mutable(fieldByName(e, "type")).Message()
		tt := typ.Mutable(fieldByName(typ, "tensor_type")).Message()
		setInt32(tt, "elem_type", int32(v.Type.TensorType.ElemType))
		shape := tt.Mutable(fieldByName(tt, "shape")).Message()
		dims := mutableList(shape, "dim")
		for _, d := range v.Dims() {
			de := dims.NewElement().Message()
			if d.IsSymbolic() {
				de.Set(fieldByName(de, "dim_param"), protoreflect.ValueOfString(d.Param))
			} else {
				de.Set(fieldByName(de, "dim_value"), protoreflect.ValueOfInt64(d.Value))
			}
			dims.Append(protoreflect.ValueOfMessage(de))
		}
		list.Append(protoreflect.ValueOfMessage(e))
	}
}

func appendStrings(list protoreflect.List, values []string) {
	for _, v := range values {
		list.Append(protoreflect.ValueOfString(v))
	}
}

func mutableList(m protoreflect.Message, name string) protoreflect.List {
	return m.Mutable(fieldByName(m, name)).List()
}

func setString(m protoreflect.Message, name, v string) {
	if v != "" {
		m.Set(fieldByName(m, name), protoreflect.ValueOfString(v))
	}
}

func setInt(m protoreflect.Message, name string, v int64) {
	if v != 0 {
		m.Set(fieldByName(m, name), protoreflect.ValueOfInt64(v))
	}
}

func setInt32(m protoreflect.Message, name string, v int32) {
	if v != 0 {
		m.Set(fieldByName(m, name), protoreflect.ValueOfInt32(v))
	}
}
