// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gomlx/mlbench/bridge"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// RefreshPeriod is the time between updates of the progress bar.
var RefreshPeriod = 200 * time.Millisecond

// progress displays a progress bar following bridge.QueryCounter while a benchmark runs.
type progress struct {
	bar     *progressbar.ProgressBar
	termenv *termenv.Output

	// sized is set once the number of samples of the run is known.
	sized    bool
	reported int

	done    chan struct{}
	stopped sync.WaitGroup
}

// startProgress starts polling the query counter. If withDatasetSize, the progress bar is sized to the dataset
// (e.g.: accuracy runs process every sample once), otherwise it only counts the samples.
func startProgress(withDatasetSize bool) *progress {
	p := &progress{
		termenv: termenv.NewOutput(os.Stdout),
		done:    make(chan struct{}),
		sized:   !withDatasetSize,
	}
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)
	p.termenv.HideCursor()
	p.stopped.Add(1)
	go p.poll()
	return p
}

func (p *progress) poll() {
	defer p.stopped.Done()
	ticker := time.NewTicker(RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		p.update()
	}
}

func (p *progress) update() {
	count := int(bridge.QueryCounter())
	if count < 0 {
		// Not started yet, or already finished.
		return
	}
	if !p.sized {
		if size := int(bridge.DatasetSize()); size > 0 {
			p.bar.ChangeMax(size)
			p.sized = true
		}
	}
	if count > p.reported {
		_ = p.bar.Add(count - p.reported)
		p.reported = count
	}
}

// stop the polling and restores the terminal.
func (p *progress) stop() {
	close(p.done)
	p.stopped.Wait()
	_ = p.bar.Finish()
	p.termenv.ShowCursor()
	fmt.Println()
}
