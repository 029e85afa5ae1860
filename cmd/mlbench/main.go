// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mlbench is the command line front end of the benchmark.
//
// Usage:
//
//	mlbench [flags] backends          # Lists the backends and whether they match this device.
//	mlbench [flags] match             # Shows the settings of the backend selected with -backend.
//	mlbench [flags] config <file>     # Converts and summarizes a tasks configuration file.
//	mlbench [flags] settings <name>   # Prints a settings document.
//	mlbench [flags] run               # Runs a benchmark.
//
// See mlbench -help for the flags.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/gomlx/mlbench/backends"
	_ "github.com/gomlx/mlbench/backends/default"
	"github.com/gomlx/mlbench/bridge"
	"github.com/gomlx/mlbench/settings"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "", "Name of the backend library to use. If empty, the default "+
		"backend is used, which can be set with the environment variable "+backends.MLBENCH_BACKEND+".")
	flagManufacturer = flag.String("manufacturer", "", "Manufacturer of the device, given to the backends when "+
		"matching the hardware.")
	flagDeviceModel = flag.String("device_model", "", "Model of the device, given to the backends when "+
		"matching the hardware.")
	flagNativeLibPath = flag.String("native_lib", "", "Directory with the native libraries of the backends.")
)

var commands = map[string]func(args []string) error{
	"backends": cmdBackends,
	"match":    cmdMatch,
	"config":   cmdConfig,
	"settings": cmdSettings,
	"run":      cmdRun,
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command> [args]\n\nCommands:\n"+
			"  backends          Lists the backends and whether they match this device.\n"+
			"  match             Shows the settings of the backend selected with -backend.\n"+
			"  config <file>     Converts and summarizes a tasks configuration file.\n"+
			"  settings <name>   Prints the settings document <name>.\n"+
			"  run               Runs a benchmark.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing command. See 'mlbench -help'.")
		os.Exit(1)
	}
	command, found := commands[args[0]]
	if !found {
		klog.Errorf("Unknown command %q, valid commands are %q. See 'mlbench -help'.", args[0],
			slices.Sorted(maps.Keys(commands)))
		os.Exit(1)
	}
	if err := command(args[1:]); err != nil {
		klog.Errorf("%s failed: %+v", args[0], err)
		klog.Flush()
		os.Exit(1)
	}
}

// device returns the description of the device, from the flags.
func device() backends.DeviceInfo {
	return backends.DeviceInfo{Model: *flagDeviceModel, Manufacturer: *flagManufacturer, SoC: bridge.SoCName()}
}

func cmdBackends(args []string) error {
	if len(args) > 0 {
		return errors.Errorf("backends takes no arguments, got %q", args)
	}
	fmt.Println(titleStyle.Render("Device"))
	table := newPlainTable(false)
	dev := device()
	table.Row("SoC", dev.SoC)
	table.Row("manufacturer", dev.Manufacturer)
	table.Row("model", dev.Model)
	defaultName := ""
	if defaultLibrary, err := backends.Default(); err == nil {
		defaultName = defaultLibrary.Name()
	}
	table.Row("default backend", defaultName)
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Backends"))
	table = newPlainTable(true)
	table.Row("Backend", "Matches", "Message")
	for _, name := range backends.Names() {
		match := bridge.BackendMatch(name, *flagManufacturer, *flagDeviceModel, *flagNativeLibPath)
		table.Row(name, fmt.Sprintf("%v", match.Matches), match.ErrorMessage)
		must.M(match.Free())
	}
	fmt.Println(table.Render())
	return nil
}

func cmdMatch(args []string) error {
	if len(args) > 0 {
		return errors.Errorf("match takes no arguments, got %q", args)
	}
	match := bridge.BackendMatch(*flagBackend, *flagManufacturer, *flagDeviceModel, *flagNativeLibPath)
	defer func() { must.M(match.Free()) }()
	if !match.Matches {
		if match.ErrorMessage == "" {
			return errors.Errorf("backend %q doesn't match the device", *flagBackend)
		}
		return errors.New(match.ErrorMessage)
	}
	backendSetting, err := settings.UnmarshalBackendSetting(match.PBData)
	if err != nil {
		return err
	}
	printBackendSetting(backendSetting, len(match.PBData))
	return nil
}

func cmdConfig(args []string) error {
	if len(args) != 1 {
		return errors.Errorf("config takes the path of the tasks configuration file, got %q", args)
	}
	contents, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read tasks configuration")
	}
	result := bridge.MLPerfConfig(string(contents))
	defer func() { must.M(result.Free()) }()
	if !result.OK {
		return errors.New(result.ErrorMessage)
	}
	config, _, err := settings.ParseMLPerfConfig(string(contents))
	if err != nil {
		return err
	}
	printTasks(config, len(result.Data))
	return nil
}

func cmdSettings(args []string) error {
	if len(args) != 1 {
		return errors.Errorf("settings takes the name of the settings document (one of %q), got %q",
			settings.DocumentNames(), args)
	}
	doc, err := settings.LoadDocument(args[0])
	if err != nil {
		return err
	}
	klog.V(1).Infof("settings document %q version %q from %s", doc.Name, doc.Version, doc.Source)
	fmt.Print(doc.Text)
	return nil
}
