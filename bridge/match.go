// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/envelope"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
)

// MatchResult is returned by BackendMatch.
type MatchResult struct {
	envelope.Owner

	// Matches is true if the backend can run on the device.
	Matches bool

	// ErrorMessage is set if the backend can't be used on the device, or if matching failed.
	ErrorMessage string

	// PBData is the binary serialized settings.BackendSetting of the backend for the device.
	PBData []byte
}

func newMatchResult() *MatchResult {
	r := &MatchResult{}
	envelope.Track(Tracker, "MatchResult", r, &r.Owner)
	return r
}

// Free releases the result. It must be called exactly once.
func (r *MatchResult) Free() error {
	return r.Release(func() {
		r.Matches = false
		r.ErrorMessage = ""
		r.PBData = nil
	})
}

// BackendMatch probes whether the backend library libName matches the device. If libName is empty, the
// default library (see backends.Default) is probed.
//
// A library that matches the hardware but disallows it (with a message) is reported as not matching, with the
// message. The settings of a matching library must be valid: they are returned serialized in PBData.
func BackendMatch(libName, manufacturer, model, nativeLibPath string) *MatchResult {
	result := newMatchResult()
	err := catchPanics(func() error {
		library, err := lookupLibrary(libName)
		if err != nil {
			return err
		}
		device := backends.DeviceInfo{Model: model, Manufacturer: manufacturer, SoC: SoCName()}
		match := library.MatchesHardware(device, nativeLibPath)
		switch {
		case match.NotAllowedMessage != "":
			result.ErrorMessage = match.NotAllowedMessage
			return nil
		case !match.Matches:
			return nil
		case match.Settings == "":
			return errors.Errorf("backend %q matches the device but has no settings", library.Name())
		}
		backendSetting, err := settings.ParseBackendSetting(match.Settings)
		if err != nil {
			return errors.WithMessagef(err, "invalid settings of backend %q", library.Name())
		}
		if err = backendSetting.Validate(); err != nil {
			return errors.WithMessagef(err, "invalid settings of backend %q", library.Name())
		}
		data, err := backendSetting.Marshal()
		if err != nil {
			return err
		}
		result.Matches = true
		result.PBData = data
		return nil
	})
	if err != nil {
		result.Matches = false
		result.PBData = nil
		result.ErrorMessage = errorMessage("BackendMatch", err)
	}
	return result
}

// lookupLibrary returns the library named libName, or the default one if libName is empty.
func lookupLibrary(libName string) (backends.Library, error) {
	if libName == "" {
		return backends.Default()
	}
	return backends.Lookup(libName)
}
