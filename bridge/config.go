// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"github.com/gomlx/mlbench/envelope"
	"github.com/gomlx/mlbench/settings"
	"k8s.io/klog/v2"
)

// ConfigResult is returned by MLPerfConfig.
type ConfigResult struct {
	envelope.Owner

	OK           bool
	ErrorMessage string

	// Data is the binary serialized tasks configuration.
	Data []byte
}

func newConfigResult() *ConfigResult {
	r := &ConfigResult{}
	envelope.Track(Tracker, "ConfigResult", r, &r.Owner)
	return r
}

// Free releases the result. It must be called exactly once.
func (r *ConfigResult) Free() error {
	return r.Release(func() {
		r.OK = false
		r.ErrorMessage = ""
		r.Data = nil
	})
}

// MLPerfConfig converts the tasks configuration in protobuf text format to its binary serialization.
func MLPerfConfig(pbContent string) *ConfigResult {
	result := newConfigResult()
	err := catchPanics(func() error {
		config, data, err := settings.ParseMLPerfConfig(pbContent)
		if err != nil {
			return err
		}
		result.OK = true
		result.Data = data
		klog.V(1).Infof("MLPerfConfig: %d tasks converted to %d bytes", len(config.Tasks), len(data))
		return nil
	})
	if err != nil {
		result.OK = false
		result.Data = nil
		result.ErrorMessage = errorMessage("MLPerfConfig", err)
	}
	return result
}
