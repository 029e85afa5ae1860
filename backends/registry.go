// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	registryMu          sync.RWMutex
	registeredLibraries = make(map[string]Library)
	registrationOrder   []string
)

// Register the library under its name. If a library with the same name was already registered, it is replaced.
//
// To be safe, call Register during initialization of a package.
func Register(library Library) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := library.Name()
	if _, found := registeredLibraries[name]; found {
		klog.Warningf("backend library %q registered more than once, using the last one", name)
	} else {
		registrationOrder = append(registrationOrder, name)
	}
	registeredLibraries[name] = library
}

// Lookup returns the library registered with the given name.
func Lookup(name string) (Library, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	library, found := registeredLibraries[name]
	if !found {
		return nil, errors.Errorf("backend library %q not registered, registered libraries are %q -- "+
			"maybe import the backends with import _ \"github.com/gomlx/mlbench/backends/default\"?",
			name, registrationOrder)
	}
	return library, nil
}

// Names returns the names of the registered libraries, in the order they were registered.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, len(registrationOrder))
	copy(names, registrationOrder)
	return names
}

// Libraries returns the registered libraries, in the order they were registered.
func Libraries() []Library {
	registryMu.RLock()
	defer registryMu.RUnlock()
	libraries := make([]Library, 0, len(registrationOrder))
	for _, name := range registrationOrder {
		libraries = append(libraries, registeredLibraries[name])
	}
	return libraries
}

// DefaultName is the name of the default backend library to use, if set.
var DefaultName string

// MLBENCH_BACKEND is the environment variable with the name of the default backend library to use.
const MLBENCH_BACKEND = "MLBENCH_BACKEND"

// Default returns the default Library.
//
// The default is:
//
// 1. The library named by the environment variable MLBENCH_BACKEND, if defined.
// 2. Next the library named by DefaultName, if defined.
// 3. The first registered library.
//
// It returns an error if no library was registered, or if the selected one is not registered.
func Default() (Library, error) {
	if name, found := os.LookupEnv(MLBENCH_BACKEND); found && name != "" {
		return Lookup(name)
	}
	if DefaultName != "" {
		return Lookup(DefaultName)
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	if len(registrationOrder) == 0 {
		return nil, errors.New("no registered backend libraries -- maybe import the default ones with " +
			"import _ \"github.com/gomlx/mlbench/backends/default\"?")
	}
	return registeredLibraries[registrationOrder[0]], nil
}

// FindMatching returns the first registered library that matches the device, along with its MatchResult.
// It returns an error with the reasons of every library if none matches.
func FindMatching(device DeviceInfo, nativeLibPath string) (Library, MatchResult, error) {
	var reasons []string
	for _, library := range Libraries() {
		result := library.MatchesHardware(device, nativeLibPath)
		if result.Matches && result.NotAllowedMessage == "" {
			return library, result, nil
		}
		reason := result.NotAllowedMessage
		if reason == "" {
			reason = "doesn't match hardware"
		}
		reasons = append(reasons, library.Name()+": "+reason)
	}
	return nil, MatchResult{}, errors.Errorf("no backend library matches device %+v: %q", device, reasons)
}
