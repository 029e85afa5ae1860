// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mlbench/bridge"
	"github.com/gomlx/mlbench/settings"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func printBackendSetting(bs *settings.BackendSetting, numBytes int) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Common settings (%s serialized)", humanize.Bytes(uint64(numBytes)))))
	table := newPlainTable(true)
	table.Row("Id", "Name", "Value", "Acceptable values")
	for _, s := range bs.CommonSettings {
		value := ""
		if s.Value != nil {
			value = s.Value.Value
		}
		acceptable := make([]string, 0, len(s.AcceptableValues))
		for _, v := range s.AcceptableValues {
			acceptable = append(acceptable, v.Value)
		}
		table.Row(s.ID, s.Name, value, strings.Join(acceptable, ", "))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Benchmarks"))
	table = newPlainTable(true)
	table.Row("Benchmark", "Accelerator", "Framework", "Batch", "Custom settings", "Model")
	for _, b := range bs.BenchmarkSettings {
		custom := make([]string, 0, len(b.CustomSettings))
		for _, c := range b.CustomSettings {
			custom = append(custom, c.ID+"="+c.Value)
		}
		table.Row(b.BenchmarkID, b.Accelerator, b.Framework, humanize.Comma(int64(b.BatchSize)),
			strings.Join(custom, ", "), b.ModelPath)
	}
	fmt.Println(table.Render())
}

func printTasks(config *settings.MLPerfConfig, numBytes int) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Tasks (%s serialized)", humanize.Bytes(uint64(numBytes)))))
	table := newPlainTable(true)
	table.Row("Task", "Name", "Dataset", "Model", "Min queries", "Min duration", "Max duration")
	for _, task := range config.Tasks {
		minQueries, minDuration, maxDuration := "", "", ""
		if normal := task.Runs.Normal; normal != nil {
			minQueries = humanize.Comma(int64(normal.MinQueryCount))
			minDuration = normal.MinDuration.String()
			maxDuration = normal.MaxDuration.String()
		}
		table.Row(task.ID, task.Name, task.Datasets.Type.String(), task.Model.Name, minQueries, minDuration,
			maxDuration)
	}
	fmt.Println(table.Render())
}

// formatDuration with a precision adjusted to its magnitude.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	default:
		return d.String()
	}
}

func printRunResult(result *bridge.RunResult) {
	fmt.Println(titleStyle.Render("Results"))
	table := newPlainTable(false)
	table.Row("run id", result.RunID)
	table.Row("backend", fmt.Sprintf("%s (%s)", result.BackendName, result.BackendVendor))
	table.Row("accelerator", result.AcceleratorName)
	details := result.Details
	if details != nil {
		table.Row("dataset", details.Dataset)
		table.Row("scenario", details.Scenario)
		table.Row("mode", details.Mode)
		table.Row("batch size", humanize.Comma(int64(details.BatchSize)))
	}
	table.Row("# samples", humanize.Comma(int64(result.NumSamples)))
	table.Row("duration", formatDuration(result.Duration))
	if details != nil && details.NumQueries > 0 {
		table.Row("# queries", humanize.Comma(int64(details.NumQueries)))
		table.Row("throughput", humanize.FormatFloat("#,###.##", details.QPS)+" samples/s")
	}
	if details != nil && details.Latency != nil {
		latency := details.Latency
		table.Row("latency mean", formatDuration(latency.Mean))
		table.Row("latency p50", formatDuration(latency.P50))
		table.Row("latency p90", formatDuration(latency.P90))
		table.Row("latency p99", formatDuration(latency.P99))
	}
	if result.Accuracy1 != nil {
		table.Row("accuracy", result.Accuracy1.Formatted)
	}
	if result.Aborted {
		table.Row("aborted", "true")
	}
	if details != nil && details.OutputPath != "" {
		table.Row("output", details.OutputPath)
	}
	fmt.Println(table.Render())
}
