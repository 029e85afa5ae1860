// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/mlbench/backends"
	_ "github.com/gomlx/mlbench/backends/dummy"
	"github.com/gomlx/mlbench/backends/reference"
	"github.com/gomlx/mlbench/envelope"
	"github.com/gomlx/mlbench/runner"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("k8s.io/klog/v2.(*flushDaemon).run.func1"))
}

// probeLibrary is a backends.Library with a fixed MatchesHardware result, that can't create backends.
type probeLibrary struct {
	name   string
	result backends.MatchResult
	panics bool
}

func (l probeLibrary) Name() string { return l.name }

func (l probeLibrary) MatchesHardware(_ backends.DeviceInfo, _ string) backends.MatchResult {
	if l.panics {
		panic(errors.New("probe exploded"))
	}
	return l.result
}

func (l probeLibrary) Create(string, *backends.Configuration, string) (backends.Backend, error) {
	return nil, backends.ErrNotImplemented
}

func init() {
	backends.Register(probeLibrary{name: "bridge_not_allowed",
		result: backends.MatchResult{Matches: true, NotAllowedMessage: "SoC not supported"}})
	backends.Register(probeLibrary{name: "bridge_no_settings", result: backends.MatchResult{Matches: true}})
	backends.Register(probeLibrary{name: "bridge_bad_settings",
		result: backends.MatchResult{Matches: true, Settings: "benchmark_setting { accelerator: 1 }"}})
	backends.Register(probeLibrary{name: "bridge_panics", panics: true})
}

const denseModel = `
name: "dense"
input { type: "float32" size: 2 }
output { type: "float32" size: 3 }
op: DENSE
weights: [1, 0, 2,
          0, 1, 3]
bias: [0.5, 0, -1]
`

func writeModel(t *testing.T) string {
	modelPath := filepath.Join(t.TempDir(), "dense.pbtxt")
	require.NoError(t, os.WriteFile(modelPath, []byte(denseModel), 0o644))
	return modelPath
}

func TestBackendMatch(t *testing.T) {
	issued := Tracker.Issued()
	result := BackendMatch(reference.LibraryName, "Google", "Pixel 8", "")
	require.True(t, result.Matches, result.ErrorMessage)
	assert.Empty(t, result.ErrorMessage)
	bs, err := settings.UnmarshalBackendSetting(result.PBData)
	require.NoError(t, err)
	assert.NotNil(t, bs.Benchmark("synthetic"))
	assert.Equal(t, issued+1, Tracker.Issued())

	require.NoError(t, result.Free())
	assert.False(t, result.Matches)
	assert.Nil(t, result.PBData)
	doubleReleases := Tracker.DoubleReleases()
	assert.ErrorIs(t, result.Free(), envelope.ErrAlreadyReleased)
	assert.Equal(t, doubleReleases+1, Tracker.DoubleReleases())

	for _, tc := range []struct {
		libName, message string
	}{
		{"dummy", ""},
		{"bridge_not_allowed", "SoC not supported"},
		{"bridge_no_settings", "has no settings"},
		{"bridge_bad_settings", "invalid settings"},
		{"bridge_panics", "probe exploded"},
		{"unknown_backend", "not registered"},
	} {
		t.Run(tc.libName, func(t *testing.T) {
			result := BackendMatch(tc.libName, "", "", "")
			assert.False(t, result.Matches)
			assert.Nil(t, result.PBData)
			assert.Contains(t, result.ErrorMessage, tc.message)
			require.NoError(t, result.Free())
		})
	}
}

func TestMLPerfConfig(t *testing.T) {
	doc := must.M1(settings.LoadDocument("tasks"))
	result := MLPerfConfig(doc.Text)
	require.True(t, result.OK, result.ErrorMessage)
	assert.NotEmpty(t, result.Data)
	require.NoError(t, result.Free())
	assert.Nil(t, result.Data)

	result = MLPerfConfig(`task { id: "missing_required_fields" }`)
	assert.False(t, result.OK)
	assert.Nil(t, result.Data)
	assert.NotEmpty(t, result.ErrorMessage)
	require.NoError(t, result.Free())
}

func TestCPUInfo(t *testing.T) {
	result := CPUInfo()
	assert.NotEmpty(t, result.SoCName)
	assert.Equal(t, SoCName(), result.SoCName)
	require.NoError(t, result.Free())
	assert.Empty(t, result.SoCName)
}

// syntheticRun returns the description of a run of the dense model with the synthetic dataset.
func syntheticRun(t *testing.T) *RunBenchmarkIn {
	match := BackendMatch(reference.LibraryName, "", "", "")
	defer func() { require.NoError(t, match.Free()) }()
	require.True(t, match.Matches, match.ErrorMessage)
	in, err := NewRunBenchmarkIn(reference.LibraryName, match.PBData, "synthetic")
	require.NoError(t, err)
	assert.Equal(t, "local://reference/dense.pbtxt", in.BackendModelPath)
	in.BackendModelPath = writeModel(t)
	in.DatasetType = settings.Synthetic
	in.DatasetOffset = 16
	return in
}

func TestRunBenchmark(t *testing.T) {
	assert.Equal(t, int32(-1), QueryCounter())

	in := syntheticRun(t)
	in.Mode = runner.AccuracyOnly.String()
	in.OutputDir = t.TempDir()
	result := RunBenchmark(in)
	require.True(t, result.RunOK, result.ErrorMessage)
	assert.Empty(t, result.ErrorMessage)
	assert.Equal(t, int32(16), result.NumSamples)
	assert.Equal(t, int32(16), DatasetSize())
	assert.Nil(t, result.Accuracy1, "synthetic dataset has no accuracy")
	assert.Nil(t, result.Accuracy2)
	assert.Equal(t, reference.LibraryName, result.BackendName)
	assert.Equal(t, reference.Vendor, result.BackendVendor)
	assert.Equal(t, "cpu", result.AcceleratorName)
	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.Aborted)
	assert.FileExists(t, filepath.Join(in.OutputDir, result.RunID, runner.SummaryFile))
	assert.Equal(t, int32(-1), QueryCounter())
	assert.Equal(t, 0, table.Len(), "backend should have been deleted")
	require.NoError(t, result.Free())
	assert.Empty(t, result.RunID)
	assert.Nil(t, result.Details)

	in = syntheticRun(t)
	in.MinQueryCount = 40
	result = RunBenchmark(in)
	require.True(t, result.RunOK, result.ErrorMessage)
	assert.GreaterOrEqual(t, result.NumSamples, int32(40))
	require.NotNil(t, result.Details)
	assert.GreaterOrEqual(t, result.Details.NumQueries, 40)
	require.NoError(t, result.Free())
}

func TestRunBenchmarkBatchedSettings(t *testing.T) {
	match := BackendMatch(reference.LibraryName, "", "", "")
	defer func() { require.NoError(t, match.Free()) }()
	require.True(t, match.Matches, match.ErrorMessage)
	in, err := NewRunBenchmarkIn(reference.LibraryName, match.PBData, "image_classification_offline")
	require.NoError(t, err)
	require.Equal(t, 16, in.BatchSize)
	in.BackendModelPath = writeModel(t)
	in.DatasetType = settings.Synthetic
	in.DatasetOffset = 16
	in.MinQueryCount = 4

	// SingleStream issues one sample per query, whatever the batch size of the settings.
	for _, scenario := range []string{"", runner.SingleStream.String(), runner.Offline.String()} {
		in.Scenario = scenario
		result := RunBenchmark(in)
		require.True(t, result.RunOK, "scenario %q: %s", scenario, result.ErrorMessage)
		assert.GreaterOrEqual(t, result.NumSamples, int32(4), "scenario %q", scenario)
		require.NoError(t, result.Free())
	}
}

func TestRunBenchmarkErrors(t *testing.T) {
	result := RunBenchmark(nil)
	assert.False(t, result.RunOK)
	assert.NotEmpty(t, result.ErrorMessage)
	require.NoError(t, result.Free())

	for name, modify := range map[string]func(in *RunBenchmarkIn){
		"missing model":   func(in *RunBenchmarkIn) { in.BackendModelPath = filepath.Join(t.TempDir(), "missing") },
		"unknown mode":    func(in *RunBenchmarkIn) { in.Mode = "Quick" },
		"unknown backend": func(in *RunBenchmarkIn) { in.BackendLibName = "unknown_backend" },
		"bad settings":    func(in *RunBenchmarkIn) { in.BackendSettings = []byte{0xff, 0xff} },
		"no dataset":      func(in *RunBenchmarkIn) { in.DatasetType = settings.Coco },
	} {
		t.Run(name, func(t *testing.T) {
			in := syntheticRun(t)
			modify(in)
			result := RunBenchmark(in)
			assert.False(t, result.RunOK)
			assert.NotEmpty(t, result.ErrorMessage)
			assert.Zero(t, result.NumSamples)
			assert.Empty(t, result.BackendName)
			assert.Nil(t, result.Details)
			require.NoError(t, result.Free())
			assert.Equal(t, 0, table.Len())
		})
	}
}

func TestStopBackend(t *testing.T) {
	// Nothing to stop.
	StopBackend()

	in := syntheticRun(t)
	in.MinQueryCount = 1
	in.MinDuration = time.Hour
	done := make(chan *RunResult)
	go func() { done <- RunBenchmark(in) }()
	require.Eventually(t, func() bool { return QueryCounter() > 0 }, 10*time.Second, time.Millisecond)

	// A second run can't start while the first one is in progress.
	second := RunBenchmark(syntheticRun(t))
	assert.False(t, second.RunOK)
	assert.Contains(t, second.ErrorMessage, "already running")
	require.NoError(t, second.Free())

	StopBackend()
	var result *RunResult
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("StopBackend didn't stop the run")
	}
	require.True(t, result.RunOK, result.ErrorMessage)
	assert.True(t, result.Aborted)
	assert.Positive(t, result.NumSamples)
	assert.Equal(t, int32(-1), QueryCounter())
	require.NoError(t, result.Free())
}
