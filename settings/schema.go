// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// PackageName is the protobuf package of the settings messages.
const PackageName = "mlbench.settings"

type (
	fieldLabel = descriptorpb.FieldDescriptorProto_Label
	fieldType  = descriptorpb.FieldDescriptorProto_Type
)

const (
	required = descriptorpb.FieldDescriptorProto_LABEL_REQUIRED
	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED

	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
)

// field describes one field. typeName is only used for message and enum fields.
func field(name string, number int32, label fieldLabel, typ fieldType, typeName ...string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
	if len(typeName) > 0 {
		f.TypeName = proto.String("." + PackageName + "." + typeName[0])
	}
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func enum(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}

// schemaProto returns the description of the settings messages.
//
// Field numbers are part of the binary format exchanged with the application and must not change.
func schemaProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("mlbench/settings.proto"),
		Package: proto.String(PackageName),
		Syntax:  proto.String("proto2"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum("DatasetType", "IMAGENET", "COCO", "SQUAD", "ADE20K", "SNUSR", "SYNTHETIC"),
			enum("ReferenceOp", "IDENTITY", "DENSE"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			// Backend settings.
			message("Value",
				field("value", 1, required, tString),
				field("name", 2, optional, tString)),
			message("Setting",
				field("id", 1, required, tString),
				field("name", 2, optional, tString),
				field("value", 3, optional, tMessage, "Value"),
				field("acceptable_value", 4, repeated, tMessage, "Value")),
			message("CustomSetting",
				field("id", 1, required, tString),
				field("value", 2, required, tString)),
			message("BenchmarkSetting",
				field("benchmark_id", 1, required, tString),
				field("accelerator", 2, required, tString),
				field("accelerator_desc", 3, optional, tString),
				field("framework", 4, optional, tString),
				field("configuration", 5, optional, tString),
				field("delegate_selected", 6, optional, tString),
				field("batch_size", 7, optional, tInt32),
				field("single_stream_expected_latency_ns", 8, optional, tInt64),
				field("custom_setting", 9, repeated, tMessage, "CustomSetting"),
				field("model_path", 10, required, tString),
				field("model_checksum", 11, optional, tString)),
			message("BackendSetting",
				field("common_setting", 1, repeated, tMessage, "Setting"),
				field("benchmark_setting", 2, repeated, tMessage, "BenchmarkSetting")),
			message("SettingList",
				field("setting", 1, repeated, tMessage, "Setting"),
				field("benchmark_setting", 2, optional, tMessage, "BenchmarkSetting")),

			// Tasks configuration.
			message("DataSource",
				field("input_path", 1, required, tString),
				field("groundtruth_path", 2, optional, tString)),
			message("DatasetConfig",
				field("type", 1, required, tEnum, "DatasetType"),
				field("full", 2, optional, tMessage, "DataSource"),
				field("lite", 3, optional, tMessage, "DataSource"),
				field("tiny", 4, optional, tMessage, "DataSource")),
			message("ModelConfig",
				field("id", 1, required, tString),
				field("name", 2, required, tString),
				field("offset", 3, optional, tInt32),
				field("image_width", 4, optional, tInt32),
				field("image_height", 5, optional, tInt32),
				field("num_classes", 6, optional, tInt32)),
			message("RunSettings",
				field("min_query_count", 1, optional, tInt32),
				field("min_duration", 2, optional, tDouble),
				field("max_duration", 3, optional, tDouble)),
			message("RunConfig",
				field("normal", 1, optional, tMessage, "RunSettings"),
				field("quick", 2, optional, tMessage, "RunSettings"),
				field("rapid", 3, optional, tMessage, "RunSettings")),
			message("TaskConfig",
				field("id", 1, required, tString),
				field("name", 2, required, tString),
				field("max_throughput", 3, optional, tFloat),
				field("max_accuracy", 4, optional, tFloat),
				field("datasets", 5, required, tMessage, "DatasetConfig"),
				field("model", 6, required, tMessage, "ModelConfig"),
				field("runs", 7, optional, tMessage, "RunConfig")),
			message("MLPerfConfig",
				field("task", 1, repeated, tMessage, "TaskConfig")),

			// Models of the reference backend.
			message("TensorSpec",
				field("type", 1, required, tString),
				field("size", 2, required, tInt64)),
			message("ReferenceModel",
				field("name", 1, required, tString),
				field("input", 2, required, tMessage, "TensorSpec"),
				field("output", 3, required, tMessage, "TensorSpec"),
				field("op", 4, required, tEnum, "ReferenceOp"),
				field("weights", 5, repeated, tFloat),
				field("bias", 6, repeated, tFloat)),
		},
	}
}

var schema protoreflect.FileDescriptor

func init() {
	var err error
	schema, err = protodesc.NewFile(schemaProto(), new(protoregistry.Files))
	if err != nil {
		exceptions.Panicf("invalid settings schema: %+v", err)
	}
}

// Descriptor returns the descriptor of the settings message with the given name. E.g.: "BackendSetting".
func Descriptor(name string) (protoreflect.MessageDescriptor, error) {
	md := schema.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		return nil, errors.Errorf("unknown settings message %q", name)
	}
	return md, nil
}

func mustDescriptor(name string) protoreflect.MessageDescriptor {
	md, err := Descriptor(name)
	if err != nil {
		panic(err)
	}
	return md
}
