// Package onnxpb - ONNX interchange codec built on a runtime protobuf descriptor.
//
// The descriptor covers the subset of onnx.proto used by single-node tensor graphs: model, opset
// imports, graph, nodes, value infos, tensor types and shapes, and float initializers. Field numbers
// follow onnx.proto so the binary output is accepted by any ONNX runtime.
package onnxpb

import (
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrFormat is returned when descriptor text or bytes do not decode as an ONNX model.
var ErrFormat = errors.New("onnx descriptor format error")

const packageName = "onnx"

var (
	fileOnce sync.Once
	file     protoreflect.FileDescriptor
	fileErr  error
)

type (
	fieldType  = descriptorpb.FieldDescriptorProto_Type
	fieldLabel = descriptorpb.FieldDescriptorProto_Label
)

const (
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

// field describes a scalar or repeated scalar field.
func field(name string, number int32, typ fieldType, label fieldLabel) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
}

// message describes a field holding another message, referenced by its fully qualified name.
func message(name string, number int32, typeName string, label fieldLabel) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typeMessage, label)
	f.TypeName = proto.String("." + packageName + "." + typeName)
	return f
}

// inOneof places f into the oneof declared at index.
func inOneof(f *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(index)
	return f
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("onnx/onnx-subset.proto"),
		Package: proto.String(packageName),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ModelProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("ir_version", 1, typeInt64, optional),
					field("producer_name", 2, typeString, optional),
					field("producer_version", 3, typeString, optional),
					field("domain", 4, typeString, optional),
					field("model_version", 5, typeInt64, optional),
					field("doc_string", 6, typeString, optional),
					message("graph", 7, "GraphProto", optional),
					message("opset_import", 8, "OperatorSetIdProto", repeated),
				},
			},
			{
				Name: proto.String("OperatorSetIdProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("domain", 1, typeString, optional),
					field("version", 2, typeInt64, optional),
				},
			},
			{
				Name: proto.String("GraphProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					message("node", 1, "NodeProto", repeated),
					field("name", 2, typeString, optional),
					message("initializer", 5, "TensorProto", repeated),
					field("doc_string", 10, typeString, optional),
					message("input", 11, "ValueInfoProto", repeated),
					message("output", 12, "ValueInfoProto", repeated),
					message("value_info", 13, "ValueInfoProto", repeated),
				},
			},
			{
				Name: proto.String("NodeProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("input", 1, typeString, repeated),
					field("output", 2, typeString, repeated),
					field("name", 3, typeString, optional),
					field("op_type", 4, typeString, optional),
					field("doc_string", 6, typeString, optional),
					field("domain", 7, typeString, optional),
				},
			},
			{
				Name: proto.String("ValueInfoProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("name", 1, typeString, optional),
					message("type", 2, "TypeProto", optional),
					field("doc_string", 3, typeString, optional),
				},
			},
			{
				Name: proto.String("TypeProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					inOneof(message("tensor_type", 1, "TypeProto.Tensor", optional), 0),
					field("denotation", 6, typeString, optional),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Tensor"),
						Field: []*descriptorpb.FieldDescriptorProto{
							field("elem_type", 1, typeInt32, optional),
							message("shape", 2, "TensorShapeProto", optional),
						},
					},
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("value")}},
			},
			{
				Name: proto.String("TensorShapeProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					message("dim", 1, "TensorShapeProto.Dimension", repeated),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Dimension"),
						Field: []*descriptorpb.FieldDescriptorProto{
							inOneof(field("dim_value", 1, typeInt64, optional), 0),
							inOneof(field("dim_param", 2, typeString, optional), 0),
							field("denotation", 3, typeString, optional),
						},
						OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("value")}},
					},
				},
			},
			{
				Name: proto.String("TensorProto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("dims", 1, typeInt64, repeated),
					field("data_type", 2, typeInt32, optional),
					field("float_data", 4, typeFloat, repeated),
					field("int32_data", 5, typeInt32, repeated),
					field("int64_data", 7, typeInt64, repeated),
					field("name", 8, typeString, optional),
					field("raw_data", 9, typeBytes, optional),
					field("doc_string", 12, typeString, optional),
				},
			},
		},
	}
}

// File returns the compiled ONNX subset file descriptor.
func File() (protoreflect.FileDescriptor, error) {
	fileOnce.Do(func() {
		file, fileErr = protodesc.NewFile(fileDescriptorProto(), nil)
		if fileErr != nil {
			fileErr = errors.Wrap(fileErr, "building onnx descriptor")
		}
	})
	return file, fileErr
}

// NewModel returns an empty dynamic ModelProto message.
func NewModel() (*dynamicpb.Message, error) {
	fd, err := File()
	if err != nil {
		return nil, err
	}
	md := fd.Messages().ByName("ModelProto")
	return dynamicpb.NewMessage(md), nil
}

// ParseJSON decodes ONNX interchange JSON into a dynamic ModelProto.
//
// Field names are accepted in lowerCamelCase or their proto names, and integer fields accept quoted
// values. Unknown fields are a format error.
func ParseJSON(text []byte) (*dynamicpb.Message, error) {
	msg, err := NewModel()
	if err != nil {
		return nil, err
	}
	if err := protojson.Unmarshal(text, msg); err != nil {
		return nil, errors.Wrapf(ErrFormat, "parsing json: %v", err)
	}
	return msg, nil
}

// Unmarshal decodes ONNX binary protobuf bytes into a dynamic ModelProto.
func Unmarshal(data []byte) (*dynamicpb.Message, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrFormat, "empty model data")
	}
	msg, err := NewModel()
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(ErrFormat, "parsing protobuf: %v", err)
	}
	return msg, nil
}

// Marshal encodes a ModelProto message to binary protobuf with deterministic field order.
func Marshal(msg proto.Message) ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling onnx model")
	}
	return data, nil
}
