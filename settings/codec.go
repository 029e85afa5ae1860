// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ParseText parses a protobuf text document into a message of the settings schema named messageName.
// Missing required fields and unknown fields are errors.
func ParseText(messageName, text string) (*dynamicpb.Message, error) {
	md, err := Descriptor(messageName)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	if err := prototext.Unmarshal([]byte(text), msg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s text", messageName)
	}
	return msg, nil
}

// ParseBinary parses the binary protobuf encoding of a message of the settings schema named messageName.
func ParseBinary(messageName string, data []byte) (*dynamicpb.Message, error) {
	md, err := Descriptor(messageName)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse binary %s", messageName)
	}
	return msg, nil
}

// TextToBinary converts a protobuf text document of the message messageName to its binary encoding.
func TextToBinary(messageName, text string) ([]byte, error) {
	msg, err := ParseText(messageName, text)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize %s", messageName)
	}
	return data, nil
}

// FormatText formats the message as a multi-line protobuf text document.
func FormatText(msg proto.Message) string {
	return prototext.MarshalOptions{Multiline: true, Indent: "  "}.Format(msg)
}

// Accessors of dynamic messages. Unknown field names are programming errors, and panic.

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		exceptions.Panicf("settings message %s has no field %q", m.Descriptor().FullName(), name)
	}
	return fd
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func getInt(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

func getFloat(m protoreflect.Message, name protoreflect.Name) float64 {
	return m.Get(fieldOf(m, name)).Float()
}

func getEnum(m protoreflect.Message, name protoreflect.Name) int32 {
	return int32(m.Get(fieldOf(m, name)).Enum())
}

// getMessage returns the sub-message, or nil if it is not set.
func getMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil
	}
	return m.Get(fd).Message()
}

func getList(m protoreflect.Message, name protoreflect.Name) protoreflect.List {
	return m.Get(fieldOf(m, name)).List()
}

func eachMessage(m protoreflect.Message, name protoreflect.Name, fn func(elem protoreflect.Message)) {
	list := getList(m, name)
	for i := range list.Len() {
		fn(list.Get(i).Message())
	}
}

// setString sets the field, skipping empty values of non-required fields.
func setString(m protoreflect.Message, name protoreflect.Name, value string) {
	fd := fieldOf(m, name)
	if value == "" && fd.Cardinality() != protoreflect.Required {
		return
	}
	m.Set(fd, protoreflect.ValueOfString(value))
}

func setInt32(m protoreflect.Message, name protoreflect.Name, value int32) {
	if value != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfInt32(value))
	}
}

func setInt64(m protoreflect.Message, name protoreflect.Name, value int64) {
	if value != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(value))
	}
}

// newMessage creates and sets the sub-message, returning it to be filled.
func newMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).Message()
}

// appendMessage appends a new element to the repeated message field, returning it to be filled.
func appendMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).List().AppendMutable().Message()
}
