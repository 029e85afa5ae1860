// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xla implements a backend running StableHLO programs with XLA/PJRT (https://openxla.org/), using
// github.com/gomlx/gopjrt.
//
// The model file is a serialized StableHLO program. Since the program doesn't carry a readable description of its
// parameters, the shapes of the inputs and outputs are given by the custom settings "xla_inputs" and "xla_outputs"
// (see ParseTensorShapes).
//
// Simply import it with import _ "github.com/gomlx/mlbench/backends/xla" to make it available in your program.
// It will register itself as an available backend library during initialization.
package xla

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/mlbench/backends"
	"github.com/gomlx/mlbench/settings"
	"github.com/pkg/errors"
)

const (
	// LibraryName is the name under which the library is registered.
	LibraryName = "xla"

	// Vendor reported by the backend.
	Vendor = "OpenXLA"

	// SettingsDocument is the name of the settings document of the library.
	SettingsDocument = "xla"

	// InputsKey is the configuration key with the shapes of the inputs of one batch item.
	InputsKey = "xla_inputs"

	// OutputsKey is the configuration key with the shapes of the outputs of one batch item.
	OutputsKey = "xla_outputs"
)

// Library is the XLA/PJRT backends.Library.
type Library struct{}

var _ backends.Library = Library{}

// Registers the xla library.
func init() {
	backends.Register(Library{})
}

// Name returns LibraryName.
func (Library) Name() string { return LibraryName }

// MatchesHardware checks that at least one PJRT plugin is available. Plugins are not loaded.
func (Library) MatchesHardware(_ backends.DeviceInfo, _ string) backends.MatchResult {
	if len(AvailablePlugins()) == 0 {
		return backends.MatchResult{NotAllowedMessage: "no PJRT plugins found, set PJRT_PLUGIN_LIBRARY_PATH " +
			"to the directory with the PJRT plugins"}
	}
	doc, err := settings.LoadDocument(SettingsDocument)
	if err != nil {
		return backends.MatchResult{NotAllowedMessage: err.Error()}
	}
	return backends.MatchResult{Matches: true, Settings: doc.Text}
}

var (
	// DefaultPlugins is the list of plugins to use in preference order, if the accelerator is not specified.
	DefaultPlugins = []string{"cuda", "cpu"}

	availablePluginsOnce sync.Once
	availablePluginsList []string
)

// AvailablePlugins lists the names of the PJRT plugins found, DefaultPlugins first. The result is cached.
//
// Plugins are searched in PJRT_PLUGIN_LIBRARY_PATH and in the standard library directories, see
// pjrt.AvailablePlugins for details.
func AvailablePlugins() []string {
	availablePluginsOnce.Do(func() {
		availablePluginsList = sortPlugins(slices.Collect(maps.Keys(pjrt.AvailablePlugins())))
	})
	return availablePluginsList
}

// sortPlugins puts the DefaultPlugins first, followed by the others in alphabetical order.
func sortPlugins(names []string) []string {
	var sorted []string
	for _, name := range DefaultPlugins {
		if idx := slices.Index(names, name); idx >= 0 {
			sorted = append(sorted, name)
			names = slices.Delete(names, idx, idx+1)
		}
	}
	slices.Sort(names)
	return append(sorted, names...)
}

// selectPlugin returns the plugin to use for the accelerator: the accelerator names the plugin. If empty, the
// first available plugin is used.
func selectPlugin(accelerator string, available []string) (string, error) {
	if len(available) == 0 {
		return "", errors.Errorf("backend %q: no PJRT plugins found", LibraryName)
	}
	if accelerator == "" {
		return available[0], nil
	}
	if !slices.Contains(available, accelerator) {
		return "", errors.Errorf("backend %q: PJRT plugin %q for accelerator not found, available plugins are %q",
			LibraryName, accelerator, available)
	}
	return accelerator, nil
}
