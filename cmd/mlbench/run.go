// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gomlx/mlbench/bridge"
	"github.com/gomlx/mlbench/runner"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	flagDescriptor = flag.String("descriptor", "", "TOML file describing the run. "+
		"Flags explicitly set take precedence over its values.")
	flagBenchmark = flag.String("benchmark", "", "Id of the benchmark, used to select the backend settings. "+
		"Defaults to the conventional id of the dataset and scenario.")
	flagTask = flag.String("task", "", "Id of the task of the tasks configuration used to set the dataset "+
		"and the stopping criteria of the run.")
	flagTasksConfig = flag.String("tasks_config", "", "Tasks configuration file used with -task. "+
		"Defaults to the \"tasks\" settings document.")
	flagModel  = flag.String("model", "", "Path of the model. Defaults to the model of the benchmark settings.")
	flagData   = flag.String("data", "", "Path of the dataset inputs.")
	flagTruth  = flag.String("groundtruth", "", "Path of the dataset ground truth.")
	flagOffset = flag.Int("offset", 0, "Dataset offset: first class index for classification datasets, "+
		"number of samples for the synthetic dataset.")
	flagImageSize  = flag.Int("image_size", 0, "Width and height of the images fed to the model.")
	flagScenario   = flag.String("scenario", "SingleStream", "Scenario: SingleStream or Offline.")
	flagMode       = flag.String("mode", "PerformanceOnly", "Mode: PerformanceOnly, AccuracyOnly or SubmissionRun.")
	flagBatchSize  = flag.Int("batch", 0, "Batch size of the Offline scenario. Defaults to the benchmark settings.")
	flagMinQueries = flag.Int("min_queries", 0, "Minimum number of samples of the performance run.")
	flagMinTime    = flag.Duration("min_duration", 0, "Minimum duration of the performance run.")
	flagMaxTime    = flag.Duration("max_duration", 0, "Maximum duration of the performance run, 0 for no limit.")
	flagOutputDir  = flag.String("output", "", "Directory where to write the results of the run.")
	flagMetrics    = flag.String("metrics_addr", "", "If set, address (e.g. \":9090\") where to serve "+
		"Prometheus metrics on /metrics while running.")

	flagDataset = settings.Synthetic
)

func init() {
	flag.TextVar(&flagDataset, "dataset", settings.Synthetic,
		"Dataset type: IMAGENET or SYNTHETIC (other types are not implemented).")
}

// runDescriptor is the contents of the -descriptor file.
type runDescriptor struct {
	BenchmarkID string `toml:"benchmark_id"`
	Task        string `toml:"task"`
	bridge.RunBenchmarkIn
}

// loadDescriptor parses the run descriptor in path. An empty path returns an empty descriptor, except for
// the dataset type, which defaults to the -dataset flag.
func loadDescriptor(path string) (*runDescriptor, error) {
	d := &runDescriptor{}
	d.DatasetType = flagDataset
	if path == "" {
		return d, nil
	}
	meta, err := toml.DecodeFile(path, d)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse run descriptor %q", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown keys %q in run descriptor %q", undecoded, path)
	}
	return d, nil
}

// setFlags returns the names of the flags explicitly set in the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags overwrites the descriptor with the flags set. Flags not set only fill in values missing
// from the descriptor.
func (d *runDescriptor) applyFlags(set map[string]bool) {
	applyString := func(name string, field *string, value string) {
		if set[name] || *field == "" {
			*field = value
		}
	}
	applyInt := func(name string, field *int, value int) {
		if set[name] || *field == 0 {
			*field = value
		}
	}
	applyString("benchmark", &d.BenchmarkID, *flagBenchmark)
	applyString("task", &d.Task, *flagTask)
	applyString("backend", &d.BackendLibName, *flagBackend)
	applyString("native_lib", &d.BackendNativeLibPath, *flagNativeLibPath)
	applyString("model", &d.BackendModelPath, *flagModel)
	applyString("data", &d.DatasetDataPath, *flagData)
	applyString("groundtruth", &d.DatasetGroundtruthPath, *flagTruth)
	applyString("scenario", &d.Scenario, *flagScenario)
	applyString("mode", &d.Mode, *flagMode)
	applyString("output", &d.OutputDir, *flagOutputDir)
	applyInt("offset", &d.DatasetOffset, *flagOffset)
	applyInt("image_size", &d.ImageWidth, *flagImageSize)
	applyInt("image_size", &d.ImageHeight, *flagImageSize)
	applyInt("batch", &d.BatchSize, *flagBatchSize)
	applyInt("min_queries", &d.MinQueryCount, *flagMinQueries)
	if set["min_duration"] || d.MinDuration == 0 {
		d.MinDuration = *flagMinTime
	}
	if set["max_duration"] || d.MaxDuration == 0 {
		d.MaxDuration = *flagMaxTime
	}
	if set["dataset"] {
		d.DatasetType = flagDataset
	}
}

// applyTask fills the dataset and the stopping criteria missing from the descriptor with the ones of the task.
// The largest data source of the task is used.
func (d *runDescriptor) applyTask(config *settings.MLPerfConfig) error {
	task := config.Task(d.Task)
	if task == nil {
		ids := make([]string, 0, len(config.Tasks))
		for _, t := range config.Tasks {
			ids = append(ids, t.ID)
		}
		return errors.Errorf("task %q not found, valid tasks are %q", d.Task, ids)
	}
	d.DatasetType = task.Datasets.Type
	for _, source := range []*settings.DataSource{task.Datasets.Full, task.Datasets.Lite, task.Datasets.Tiny} {
		if source != nil && d.DatasetDataPath == "" {
			d.DatasetDataPath = source.InputPath
			d.DatasetGroundtruthPath = source.GroundtruthPath
		}
	}
	if d.DatasetOffset == 0 {
		d.DatasetOffset = int(task.Model.Offset)
	}
	if d.ImageWidth == 0 && d.ImageHeight == 0 {
		d.ImageWidth, d.ImageHeight = int(task.Model.ImageWidth), int(task.Model.ImageHeight)
	}
	if normal := task.Runs.Normal; normal != nil {
		if d.MinQueryCount == 0 {
			d.MinQueryCount = int(normal.MinQueryCount)
		}
		if d.MinDuration == 0 {
			d.MinDuration = normal.MinDuration
		}
		if d.MaxDuration == 0 {
			d.MaxDuration = normal.MaxDuration
		}
	}
	if d.BenchmarkID == "" {
		d.BenchmarkID = task.ID
	}
	return nil
}

func loadTasks(path string) (*settings.MLPerfConfig, error) {
	var text string
	if path == "" {
		doc, err := settings.LoadDocument("tasks")
		if err != nil {
			return nil, err
		}
		text = doc.Text
	} else {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read tasks configuration")
		}
		text = string(contents)
	}
	config, _, err := settings.ParseMLPerfConfig(text)
	return config, err
}

// runBenchmarkIn matches the backend and returns the description of the run, with the backend settings of
// the benchmark.
func (d *runDescriptor) runBenchmarkIn() (*bridge.RunBenchmarkIn, error) {
	benchmarkID := d.BenchmarkID
	if benchmarkID == "" {
		benchmarkID = d.DatasetType.BenchmarkID(d.Scenario)
	}
	match := bridge.BackendMatch(d.BackendLibName, *flagManufacturer, *flagDeviceModel, d.BackendNativeLibPath)
	defer func() { must.M(match.Free()) }()
	if !match.Matches {
		if match.ErrorMessage == "" {
			return nil, errors.Errorf("backend %q doesn't match the device", d.BackendLibName)
		}
		return nil, errors.New(match.ErrorMessage)
	}
	fromSettings, err := bridge.NewRunBenchmarkIn(d.BackendLibName, match.PBData, benchmarkID)
	if err != nil {
		return nil, err
	}
	in := d.RunBenchmarkIn
	in.BackendSettings = fromSettings.BackendSettings
	if in.BackendModelPath == "" {
		in.BackendModelPath = fromSettings.BackendModelPath
	}
	if in.BatchSize == 0 {
		in.BatchSize = fromSettings.BatchSize
	}
	return &in, nil
}

// serveMetrics serves the Prometheus metrics of the runs on addr, until the program exits.
func serveMetrics(addr string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runner.RegisterMetrics(registry)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		klog.Infof("serving metrics on %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			klog.Errorf("metrics server on %s failed: %v", addr, err)
		}
	}()
}

func cmdRun(args []string) error {
	if len(args) > 0 {
		return errors.Errorf("run takes no arguments, got %q -- use flags or -descriptor", args)
	}
	d, err := loadDescriptor(*flagDescriptor)
	if err != nil {
		return err
	}
	d.applyFlags(setFlags())
	if d.Task != "" {
		config, err := loadTasks(*flagTasksConfig)
		if err != nil {
			return err
		}
		if err = d.applyTask(config); err != nil {
			return err
		}
	}
	in, err := d.runBenchmarkIn()
	if err != nil {
		return err
	}
	if *flagMetrics != "" {
		serveMetrics(*flagMetrics)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	p := startProgress(strings.EqualFold(in.Mode, runner.AccuracyOnly.String()))
	result := bridge.RunBenchmarkContext(ctx, in)
	p.stop()
	defer func() { must.M(result.Free()) }()
	if !result.RunOK {
		return errors.New(result.ErrorMessage)
	}
	printRunResult(result)
	return nil
}
