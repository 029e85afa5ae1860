// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package settings implements the configuration documents of the benchmark: the backend settings (common settings
// and per-benchmark settings of a backend), the setting list given to a benchmark run, the tasks configuration and
// the models of the reference backend.
//
// Documents are written in protobuf text format and exchanged with the application in protobuf binary format.
// The schema is described programmatically (see Descriptor), and documents are parsed into Go structs.
package settings

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gomlx/mlbench/backends"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Value is one value of a Setting, with an optional human-readable name.
type Value struct {
	Value string
	Name  string
}

// Setting is a common setting, shared by all benchmarks of a backend. E.g.: the number of threads.
type Setting struct {
	ID    string
	Name  string
	Value *Value

	// AcceptableValues the user can choose from, if any.
	AcceptableValues []Value
}

// CustomSetting is a backend specific key/value setting of a benchmark.
type CustomSetting struct {
	ID    string
	Value string
}

// BenchmarkSetting configures how a backend runs one benchmark.
type BenchmarkSetting struct {
	BenchmarkID      string
	Accelerator      string
	AcceleratorDesc  string
	Framework        string
	Configuration    string
	DelegateSelected string
	BatchSize        int32

	// SingleStreamExpectedLatencyNs is a hint used to size the SingleStream scenario.
	SingleStreamExpectedLatencyNs int64

	CustomSettings []CustomSetting

	// ModelPath is either a URL, a path, or a "local://" path relative to the models directory.
	ModelPath     string
	ModelChecksum string
}

// BackendSetting holds all the settings of a backend for a device.
type BackendSetting struct {
	CommonSettings    []Setting
	BenchmarkSettings []BenchmarkSetting
}

// SettingList holds the settings for one benchmark run: the common settings and one benchmark setting.
type SettingList struct {
	Settings         []Setting
	BenchmarkSetting *BenchmarkSetting
}

// ParseBackendSetting parses a backend settings document in protobuf text format.
func ParseBackendSetting(text string) (*BackendSetting, error) {
	msg, err := ParseText("BackendSetting", text)
	if err != nil {
		return nil, err
	}
	return backendSettingFromMessage(msg), nil
}

// UnmarshalBackendSetting parses the binary encoding of a BackendSetting, as returned by Marshal.
func UnmarshalBackendSetting(data []byte) (*BackendSetting, error) {
	msg, err := ParseBinary("BackendSetting", data)
	if err != nil {
		return nil, err
	}
	return backendSettingFromMessage(msg), nil
}

// ParseSettingList parses the binary encoding of a SettingList.
func ParseSettingList(data []byte) (*SettingList, error) {
	msg, err := ParseBinary("SettingList", data)
	if err != nil {
		return nil, err
	}
	return settingListFromMessage(msg), nil
}

// Marshal returns the binary encoding of the backend settings.
func (bs *BackendSetting) Marshal() ([]byte, error) {
	data, err := proto.Marshal(bs.message())
	return data, errors.Wrap(err, "failed to serialize BackendSetting")
}

// Text returns the backend settings as a protobuf text document.
func (bs *BackendSetting) Text() string {
	return FormatText(bs.message())
}

// Benchmark returns the settings for the benchmarkID, or nil if there are none.
func (bs *BackendSetting) Benchmark(benchmarkID string) *BenchmarkSetting {
	for i := range bs.BenchmarkSettings {
		if bs.BenchmarkSettings[i].BenchmarkID == benchmarkID {
			return &bs.BenchmarkSettings[i]
		}
	}
	return nil
}

// Validate checks the consistency of the settings, beyond what parsing already checks.
func (bs *BackendSetting) Validate() error {
	seen := make(map[string]bool, len(bs.BenchmarkSettings))
	for _, b := range bs.BenchmarkSettings {
		if seen[b.BenchmarkID] {
			return errors.Errorf("benchmark_setting %q defined more than once", b.BenchmarkID)
		}
		seen[b.BenchmarkID] = true
		if b.BatchSize < 0 {
			return errors.Errorf("benchmark_setting %q has negative batch_size %d", b.BenchmarkID, b.BatchSize)
		}
		if err := validateModelPath(b.ModelPath); err != nil {
			return errors.WithMessagef(err, "benchmark_setting %q", b.BenchmarkID)
		}
	}
	seen = make(map[string]bool, len(bs.CommonSettings))
	for _, s := range bs.CommonSettings {
		if seen[s.ID] {
			return errors.Errorf("common_setting %q defined more than once", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// LocalScheme is the prefix of model paths relative to the models directory.
const LocalScheme = "local://"

func validateModelPath(modelPath string) error {
	if modelPath == "" {
		return errors.New("empty model_path")
	}
	if strings.HasPrefix(modelPath, LocalScheme) {
		if strings.TrimPrefix(modelPath, LocalScheme) == "" {
			return errors.Errorf("model_path %q has no path after %q", modelPath, LocalScheme)
		}
		return nil
	}
	if strings.Contains(modelPath, "://") {
		u, err := url.Parse(modelPath)
		if err != nil {
			return errors.Wrapf(err, "invalid model_path URL %q", modelPath)
		}
		if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file" {
			return errors.Errorf("model_path %q has unsupported scheme %q", modelPath, u.Scheme)
		}
	}
	return nil
}

// NewSettingList creates the SettingList for one benchmark run, with the common settings and the settings of
// benchmarkID.
func NewSettingList(bs *BackendSetting, benchmarkID string) (*SettingList, error) {
	b := bs.Benchmark(benchmarkID)
	if b == nil {
		return nil, errors.Errorf("no benchmark_setting for benchmark %q", benchmarkID)
	}
	benchmark := *b
	benchmark.CustomSettings = append([]CustomSetting(nil), b.CustomSettings...)
	return &SettingList{
		Settings:         append([]Setting(nil), bs.CommonSettings...),
		BenchmarkSetting: &benchmark,
	}, nil
}

// Marshal returns the binary encoding of the setting list.
func (sl *SettingList) Marshal() ([]byte, error) {
	data, err := proto.Marshal(sl.message())
	return data, errors.Wrap(err, "failed to serialize SettingList")
}

// Configuration flattens the setting list into the backends.Configuration given to backends: first the
// common settings (their selected value), then the custom settings of the benchmark.
func (sl *SettingList) Configuration() (*backends.Configuration, error) {
	config := &backends.Configuration{}
	for _, s := range sl.Settings {
		value := ""
		if s.Value != nil {
			value = s.Value.Value
		}
		if err := config.Add(s.ID, value); err != nil {
			return nil, err
		}
	}
	b := sl.BenchmarkSetting
	if b == nil {
		return config, nil
	}
	config.Accelerator = b.Accelerator
	config.AcceleratorDesc = b.AcceleratorDesc
	config.DelegateSelected = b.DelegateSelected
	config.BatchSize = int(b.BatchSize)
	for _, c := range b.CustomSettings {
		if err := config.Add(c.ID, c.Value); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// String implements fmt.Stringer.
func (b *BenchmarkSetting) String() string {
	return fmt.Sprintf("%s (%s, %s)", b.BenchmarkID, b.Accelerator, b.ModelPath)
}

// CustomSetting returns the value of the custom setting with the given id.
func (b *BenchmarkSetting) CustomSetting(id string) (string, bool) {
	for _, c := range b.CustomSettings {
		if c.ID == id {
			return c.Value, true
		}
	}
	return "", false
}

// Conversions from and to the protobuf messages.

func valueFromMessage(m protoreflect.Message) Value {
	return Value{Value: getString(m, "value"), Name: getString(m, "name")}
}

func (v Value) fill(m protoreflect.Message) {
	setString(m, "value", v.Value)
	setString(m, "name", v.Name)
}

func settingFromMessage(m protoreflect.Message) Setting {
	s := Setting{ID: getString(m, "id"), Name: getString(m, "name")}
	if vm := getMessage(m, "value"); vm != nil {
		v := valueFromMessage(vm)
		s.Value = &v
	}
	eachMessage(m, "acceptable_value", func(elem protoreflect.Message) {
		s.AcceptableValues = append(s.AcceptableValues, valueFromMessage(elem))
	})
	return s
}

func (s *Setting) fill(m protoreflect.Message) {
	setString(m, "id", s.ID)
	setString(m, "name", s.Name)
	if s.Value != nil {
		s.Value.fill(newMessage(m, "value"))
	}
	for _, v := range s.AcceptableValues {
		v.fill(appendMessage(m, "acceptable_value"))
	}
}

func benchmarkSettingFromMessage(m protoreflect.Message) BenchmarkSetting {
	b := BenchmarkSetting{
		BenchmarkID:                   getString(m, "benchmark_id"),
		Accelerator:                   getString(m, "accelerator"),
		AcceleratorDesc:               getString(m, "accelerator_desc"),
		Framework:                     getString(m, "framework"),
		Configuration:                 getString(m, "configuration"),
		DelegateSelected:              getString(m, "delegate_selected"),
		BatchSize:                     int32(getInt(m, "batch_size")),
		SingleStreamExpectedLatencyNs: getInt(m, "single_stream_expected_latency_ns"),
		ModelPath:                     getString(m, "model_path"),
		ModelChecksum:                 getString(m, "model_checksum"),
	}
	eachMessage(m, "custom_setting", func(elem protoreflect.Message) {
		b.CustomSettings = append(b.CustomSettings, CustomSetting{
			ID: getString(elem, "id"), Value: getString(elem, "value")})
	})
	return b
}

func (b *BenchmarkSetting) fill(m protoreflect.Message) {
	setString(m, "benchmark_id", b.BenchmarkID)
	setString(m, "accelerator", b.Accelerator)
	setString(m, "accelerator_desc", b.AcceleratorDesc)
	setString(m, "framework", b.Framework)
	setString(m, "configuration", b.Configuration)
	setString(m, "delegate_selected", b.DelegateSelected)
	setInt32(m, "batch_size", b.BatchSize)
	setInt64(m, "single_stream_expected_latency_ns", b.SingleStreamExpectedLatencyNs)
	for _, c := range b.CustomSettings {
		cm := appendMessage(m, "custom_setting")
		setString(cm, "id", c.ID)
		setString(cm, "value", c.Value)
	}
	setString(m, "model_path", b.ModelPath)
	setString(m, "model_checksum", b.ModelChecksum)
}

func backendSettingFromMessage(m protoreflect.Message) *BackendSetting {
	bs := &BackendSetting{}
	eachMessage(m, "common_setting", func(elem protoreflect.Message) {
		bs.CommonSettings = append(bs.CommonSettings, settingFromMessage(elem))
	})
	eachMessage(m, "benchmark_setting", func(elem protoreflect.Message) {
		bs.BenchmarkSettings = append(bs.BenchmarkSettings, benchmarkSettingFromMessage(elem))
	})
	return bs
}

func (bs *BackendSetting) message() *dynamicpb.Message {
	msg := dynamicpb.NewMessage(mustDescriptor("BackendSetting"))
	for i := range bs.CommonSettings {
		bs.CommonSettings[i].fill(appendMessage(msg, "common_setting"))
	}
	for i := range bs.BenchmarkSettings {
		bs.BenchmarkSettings[i].fill(appendMessage(msg, "benchmark_setting"))
	}
	return msg
}

func settingListFromMessage(m protoreflect.Message) *SettingList {
	sl := &SettingList{}
	eachMessage(m, "setting", func(elem protoreflect.Message) {
		sl.Settings = append(sl.Settings, settingFromMessage(elem))
	})
	if bm := getMessage(m, "benchmark_setting"); bm != nil {
		b := benchmarkSettingFromMessage(bm)
		sl.BenchmarkSetting = &b
	}
	return sl
}

func (sl *SettingList) message() *dynamicpb.Message {
	msg := dynamicpb.NewMessage(mustDescriptor("SettingList"))
	for i := range sl.Settings {
		sl.Settings[i].fill(appendMessage(msg, "setting"))
	}
	if sl.BenchmarkSetting != nil {
		sl.BenchmarkSetting.fill(newMessage(msg, "benchmark_setting"))
	}
	return msg
}
