// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// libmlbench is the C shared library used by the managed runtime of the benchmark application.
//
// Build it with:
//
//	go build -buildmode=c-shared -o libmlbench.so ./cmd/libmlbench
//
// The C interface is declared in mlbench.h. It includes the backends available for the platform, see package
// github.com/gomlx/mlbench/backends/default.
package main

/*
#include <stdlib.h>
#include "mlbench.h"
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	_ "github.com/gomlx/mlbench/backends/default"
	"github.com/gomlx/mlbench/bridge"
	"github.com/gomlx/mlbench/settings"
	"k8s.io/klog/v2"
)

func main() {}

var (
	// live holds the results handed over to C and not yet freed, with the name of the function that returned them.
	liveMu sync.Mutex
	live   = make(map[unsafe.Pointer]string)

	// invalidFrees counts the calls to the _free functions with pointers that are not live results.
	invalidFrees atomic.Int64
)

func track(ptr unsafe.Pointer, kind string) {
	liveMu.Lock()
	defer liveMu.Unlock()
	live[ptr] = kind
}

// untrack removes ptr from the live results. It returns false, and logs the defect, if ptr is not a live result
// returned by the function kind: the caller must then leave ptr untouched.
func untrack(ptr unsafe.Pointer, kind string) bool {
	liveMu.Lock()
	defer liveMu.Unlock()
	if got, found := live[ptr]; !found || got != kind {
		invalidFrees.Add(1)
		klog.Errorf("%s_free(%p): not a live result of %s (already freed, or never allocated), ignored",
			kind, ptr, kind)
		return false
	}
	delete(live, ptr)
	return true
}

func liveCount() int {
	liveMu.Lock()
	defer liveMu.Unlock()
	return len(live)
}

// releaseEnvelope frees the Go result once its contents were copied to C.
func releaseEnvelope(envelope interface{ Free() error }) {
	if err := envelope.Free(); err != nil {
		klog.Errorf("%+v", err)
	}
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// cString returns a malloc'ed copy of s.
func cString(s string) *C.char {
	return C.CString(s)
}

// cStringOrNil is like cString, but returns NULL for empty strings.
func cStringOrNil(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}

// cBytes returns a malloc'ed copy of data, or NULL if it's empty.
func cBytes(data []byte) (*C.char, C.int) {
	if len(data) == 0 {
		return nil, 0
	}
	return (*C.char)(C.CBytes(data)), C.int(len(data))
}

func cFree(ptr unsafe.Pointer) {
	if ptr != nil {
		C.free(ptr)
	}
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func seconds(s C.double) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

//export mlbench_backend_match
func mlbench_backend_match(libName, manufacturer, model, nativeLibPath *C.char) *C.mlbench_backend_match_result {
	match := bridge.BackendMatch(goString(libName), goString(manufacturer), goString(model), goString(nativeLibPath))
	defer releaseEnvelope(match)
	r := (*C.mlbench_backend_match_result)(C.calloc(1, C.sizeof_mlbench_backend_match_result))
	r.matches = cBool(match.Matches)
	r.error_message = cStringOrNil(match.ErrorMessage)
	r.pbdata, r.pbdata_size = cBytes(match.PBData)
	track(unsafe.Pointer(r), "mlbench_backend_match")
	return r
}

//export mlbench_backend_match_free
func mlbench_backend_match_free(r *C.mlbench_backend_match_result) {
	if !untrack(unsafe.Pointer(r), "mlbench_backend_match") {
		return
	}
	cFree(unsafe.Pointer(r.error_message))
	cFree(unsafe.Pointer(r.pbdata))
	cFree(unsafe.Pointer(r))
}

//export mlbench_mlperf_config
func mlbench_mlperf_config(pbContent *C.char) *C.mlbench_mlperf_config_result {
	config := bridge.MLPerfConfig(goString(pbContent))
	defer releaseEnvelope(config)
	r := (*C.mlbench_mlperf_config_result)(C.calloc(1, C.sizeof_mlbench_mlperf_config_result))
	r.ok = cBool(config.OK)
	r.error_message = cStringOrNil(config.ErrorMessage)
	r.data, r.size = cBytes(config.Data)
	track(unsafe.Pointer(r), "mlbench_mlperf_config")
	return r
}

//export mlbench_mlperf_config_free
func mlbench_mlperf_config_free(r *C.mlbench_mlperf_config_result) {
	if !untrack(unsafe.Pointer(r), "mlbench_mlperf_config") {
		return
	}
	cFree(unsafe.Pointer(r.error_message))
	cFree(unsafe.Pointer(r.data))
	cFree(unsafe.Pointer(r))
}

// runBenchmarkIn copies the C description of the run. It returns nil if in is NULL.
func runBenchmarkIn(in *C.mlbench_run_benchmark_in) *bridge.RunBenchmarkIn {
	if in == nil {
		return nil
	}
	var backendSettings []byte
	if in.backend_settings_data != nil && in.backend_settings_len > 0 {
		backendSettings = C.GoBytes(unsafe.Pointer(in.backend_settings_data), in.backend_settings_len)
	}
	return &bridge.RunBenchmarkIn{
		BackendModelPath:            goString(in.backend_model_path),
		BackendLibName:              goString(in.backend_lib_name),
		BackendSettings:             backendSettings,
		BackendNativeLibPath:        goString(in.backend_native_lib_path),
		DatasetType:                 settings.DatasetType(in.dataset_type),
		DatasetDataPath:             goString(in.dataset_data_path),
		DatasetGroundtruthPath:      goString(in.dataset_groundtruth_path),
		DatasetOffset:               int(in.dataset_offset),
		ImageWidth:                  int(in.image_width),
		ImageHeight:                 int(in.image_height),
		Scenario:                    goString(in.scenario),
		Mode:                        goString(in.mode),
		BatchSize:                   int(in.batch_size),
		MinQueryCount:               int(in.min_query_count),
		MinDuration:                 seconds(in.min_duration_s),
		MaxDuration:                 seconds(in.max_duration_s),
		SingleStreamExpectedLatency: time.Duration(in.single_stream_expected_latency_ns),
		OutputDir:                   goString(in.output_dir),
	}
}

func cAccuracy(accuracy *bridge.Accuracy) *C.mlbench_accuracy {
	if accuracy == nil {
		return nil
	}
	a := (*C.mlbench_accuracy)(C.calloc(1, C.sizeof_mlbench_accuracy))
	a.normalized = C.float(accuracy.Normalized)
	a.formatted = cString(accuracy.Formatted)
	return a
}

func freeAccuracy(a *C.mlbench_accuracy) {
	if a == nil {
		return
	}
	cFree(unsafe.Pointer(a.formatted))
	cFree(unsafe.Pointer(a))
}

//export mlbench_run_benchmark
func mlbench_run_benchmark(in *C.mlbench_run_benchmark_in) *C.mlbench_run_benchmark_result {
	run := bridge.RunBenchmark(runBenchmarkIn(in))
	defer releaseEnvelope(run)
	r := (*C.mlbench_run_benchmark_result)(C.calloc(1, C.sizeof_mlbench_run_benchmark_result))
	r.run_ok = cBool(run.RunOK)
	r.error_message = cStringOrNil(run.ErrorMessage)
	if run.RunOK {
		r.accuracy1 = cAccuracy(run.Accuracy1)
		r.accuracy2 = cAccuracy(run.Accuracy2)
		r.num_samples = C.int(run.NumSamples)
		r.duration_s = C.float(run.Duration.Seconds())
		r.backend_name = cString(run.BackendName)
		r.backend_vendor = cString(run.BackendVendor)
		r.accelerator_name = cString(run.AcceleratorName)
		r.run_id = cString(run.RunID)
	}
	track(unsafe.Pointer(r), "mlbench_run_benchmark")
	return r
}

//export mlbench_run_benchmark_free
func mlbench_run_benchmark_free(r *C.mlbench_run_benchmark_result) {
	if !untrack(unsafe.Pointer(r), "mlbench_run_benchmark") {
		return
	}
	cFree(unsafe.Pointer(r.error_message))
	freeAccuracy(r.accuracy1)
	freeAccuracy(r.accuracy2)
	cFree(unsafe.Pointer(r.backend_name))
	cFree(unsafe.Pointer(r.backend_vendor))
	cFree(unsafe.Pointer(r.accelerator_name))
	cFree(unsafe.Pointer(r.run_id))
	cFree(unsafe.Pointer(r))
}

//export mlbench_cpuinfo
func mlbench_cpuinfo() *C.mlbench_cpuinfo_result {
	info := bridge.CPUInfo()
	defer releaseEnvelope(info)
	r := (*C.mlbench_cpuinfo_result)(C.calloc(1, C.sizeof_mlbench_cpuinfo_result))
	r.soc_name = cString(info.SoCName)
	track(unsafe.Pointer(r), "mlbench_cpuinfo")
	return r
}

//export mlbench_cpuinfo_free
func mlbench_cpuinfo_free(r *C.mlbench_cpuinfo_result) {
	if !untrack(unsafe.Pointer(r), "mlbench_cpuinfo") {
		return
	}
	cFree(unsafe.Pointer(r.soc_name))
	cFree(unsafe.Pointer(r))
}

//export mlbench_get_dataset_size
func mlbench_get_dataset_size() C.int32_t {
	return C.int32_t(bridge.DatasetSize())
}

//export mlbench_get_query_counter
func mlbench_get_query_counter() C.int32_t {
	return C.int32_t(bridge.QueryCounter())
}

//export mlbench_stop_backend
func mlbench_stop_backend() {
	bridge.StopBackend()
}
