// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// DatasetType enumerates the datasets a task can use. The values are part of the binary format.
type DatasetType int32

const (
	Imagenet  DatasetType = 0
	Coco      DatasetType = 1
	Squad     DatasetType = 2
	Ade20k    DatasetType = 3
	SnuSR     DatasetType = 4
	Synthetic DatasetType = 5
)

var datasetTypeNames = []string{"IMAGENET", "COCO", "SQUAD", "ADE20K", "SNUSR", "SYNTHETIC"}

// String implements fmt.Stringer.
func (t DatasetType) String() string {
	if t < 0 || int(t) >= len(datasetTypeNames) {
		return "UNKNOWN_DATASET"
	}
	return datasetTypeNames[t]
}

// ParseDatasetType parses the name of a dataset type, case-insensitive.
func ParseDatasetType(name string) (DatasetType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range datasetTypeNames {
		if n == upper {
			return DatasetType(i), nil
		}
	}
	return Imagenet, errors.Errorf("unknown dataset type %q, valid values are %q", name, datasetTypeNames)
}

// MarshalText implements encoding.TextMarshaler.
func (t DatasetType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, with the names accepted by ParseDatasetType.
func (t *DatasetType) UnmarshalText(text []byte) error {
	parsed, err := ParseDatasetType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BenchmarkID returns the conventional benchmark id for a dataset type and scenario.
func (t DatasetType) BenchmarkID(scenario string) string {
	switch t {
	case Imagenet:
		if strings.EqualFold(scenario, "Offline") {
			return "image_classification_offline"
		}
		return "image_classification"
	case Coco:
		return "object_detection"
	case Squad:
		return "natural_language_processing"
	case Ade20k:
		return "image_segmentation_v2"
	case SnuSR:
		return "super_resolution"
	case Synthetic:
		return "synthetic"
	default:
		return ""
	}
}

// DataSource is where to find the inputs (and ground truth) of a dataset.
type DataSource struct {
	InputPath       string
	GroundtruthPath string
}

// DatasetConfig describes the dataset of a task, with sources of different sizes.
type DatasetConfig struct {
	Type             DatasetType
	Full, Lite, Tiny *DataSource
}

// ModelConfig describes the model of a task.
type ModelConfig struct {
	ID, Name                string
	Offset                  int32
	ImageWidth, ImageHeight int32
	NumClasses              int32
}

// RunSettings are the stopping criteria of a run.
type RunSettings struct {
	MinQueryCount int32
	MinDuration   time.Duration
	MaxDuration   time.Duration
}

// RunConfig holds the stopping criteria for each run type.
type RunConfig struct {
	Normal, Quick, Rapid *RunSettings
}

// TaskConfig describes one task of the benchmark.
type TaskConfig struct {
	ID, Name      string
	MaxThroughput float32
	MaxAccuracy   float32
	Datasets      DatasetConfig
	Model         ModelConfig
	Runs          RunConfig
}

// MLPerfConfig holds all the tasks of the benchmark.
type MLPerfConfig struct {
	Tasks []TaskConfig
}

// ParseMLPerfConfig parses a tasks configuration in protobuf text format. It also returns its binary encoding.
func ParseMLPerfConfig(text string) (*MLPerfConfig, []byte, error) {
	msg, err := ParseText("MLPerfConfig", text)
	if err != nil {
		return nil, nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to serialize MLPerfConfig")
	}
	config := &MLPerfConfig{}
	eachMessage(msg, "task", func(tm protoreflect.Message) {
		config.Tasks = append(config.Tasks, taskFromMessage(tm))
	})
	return config, data, nil
}

// Task returns the task with the given id, or nil.
func (c *MLPerfConfig) Task(id string) *TaskConfig {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return &c.Tasks[i]
		}
	}
	return nil
}

func dataSourceFromMessage(m protoreflect.Message) *DataSource {
	if m == nil {
		return nil
	}
	return &DataSource{InputPath: getString(m, "input_path"), GroundtruthPath: getString(m, "groundtruth_path")}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func runSettingsFromMessage(m protoreflect.Message) *RunSettings {
	if m == nil {
		return nil
	}
	return &RunSettings{
		MinQueryCount: int32(getInt(m, "min_query_count")),
		MinDuration:   secondsToDuration(getFloat(m, "min_duration")),
		MaxDuration:   secondsToDuration(getFloat(m, "max_duration")),
	}
}

func taskFromMessage(m protoreflect.Message) TaskConfig {
	task := TaskConfig{
		ID:            getString(m, "id"),
		Name:          getString(m, "name"),
		MaxThroughput: float32(getFloat(m, "max_throughput")),
		MaxAccuracy:   float32(getFloat(m, "max_accuracy")),
	}
	if dm := getMessage(m, "datasets"); dm != nil {
		task.Datasets = DatasetConfig{
			Type: DatasetType(getEnum(dm, "type")),
			Full: dataSourceFromMessage(getMessage(dm, "full")),
			Lite: dataSourceFromMessage(getMessage(dm, "lite")),
			Tiny: dataSourceFromMessage(getMessage(dm, "tiny")),
		}
	}
	if mm := getMessage(m, "model"); mm != nil {
		task.Model = ModelConfig{
			ID:          getString(mm, "id"),
			Name:        getString(mm, "name"),
			Offset:      int32(getInt(mm, "offset")),
			ImageWidth:  int32(getInt(mm, "image_width")),
			ImageHeight: int32(getInt(mm, "image_height")),
			NumClasses:  int32(getInt(mm, "num_classes")),
		}
	}
	if rm := getMessage(m, "runs"); rm != nil {
		task.Runs = RunConfig{
			Normal: runSettingsFromMessage(getMessage(rm, "normal")),
			Quick:  runSettingsFromMessage(getMessage(rm, "quick")),
			Rapid:  runSettingsFromMessage(getMessage(rm, "rapid")),
		}
	}
	return task
}
