// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"runtime"
	"strings"
	"sync"

	"github.com/gomlx/mlbench/envelope"
	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"k8s.io/klog/v2"
)

// CPUInfoResult is returned by CPUInfo.
type CPUInfoResult struct {
	envelope.Owner

	// SoCName is the name of the system-on-chip (or CPU model) of the device.
	SoCName string
}

func newCPUInfoResult() *CPUInfoResult {
	r := &CPUInfoResult{}
	envelope.Track(Tracker, "CPUInfoResult", r, &r.Owner)
	return r
}

// Free releases the result. It must be called exactly once.
func (r *CPUInfoResult) Free() error {
	return r.Release(func() { r.SoCName = "" })
}

// CPUInfo returns the name of the system-on-chip of the device.
func CPUInfo() *CPUInfoResult {
	result := newCPUInfoResult()
	result.SoCName = SoCName()
	return result
}

var (
	socNameOnce sync.Once
	socName     string
)

// SoCName returns the name of the system-on-chip, or of the CPU model, of the device.
// It is probed once, and falls back to the architecture name if nothing better is available.
func SoCName() string {
	socNameOnce.Do(func() {
		socName = probeSoCName()
		klog.V(1).Infof("SoC name: %q", socName)
	})
	return socName
}

func probeSoCName() string {
	infos, err := cpu.Info()
	if err != nil {
		klog.V(1).Infof("failed to read cpu info: %v", err)
	}
	for _, info := range infos {
		if name := strings.TrimSpace(info.ModelName); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(cpuid.CPU.BrandName); name != "" {
		return name
	}
	return runtime.GOARCH
}
