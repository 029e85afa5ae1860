// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// copyright_header adds the license header to the source files (Go and C headers) missing it.
//
// Usage:
//
//	go run ./internal/cmd/copyright_header [-project GoMLX] [path ...]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProject    = flag.String("project", "GoMLX", "Project name to use in the copyright header.")
	flagExtensions = flag.String("ext", ".go,.h", "Comma-separated list of extensions of the files to process.")
	flagDryRun     = flag.Bool("dry_run", false, "Only list the files missing the header.")
)

// headerSearchLines is the number of lines at the start of a file searched for an existing header.
const headerSearchLines = 50

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path ...]\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "\nAdds the copyright header to the source files missing it.\n")
		_, _ = fmt.Fprintf(os.Stderr, "Default path is the current directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	header := fmt.Sprintf("// Copyright 2023-2026 The %s Authors. SPDX-License-Identifier: Apache-2.0\n", *flagProject)
	extensions := strings.Split(*flagExtensions, ",")
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	for _, root := range roots {
		if err := processTree(root, header, extensions, *flagDryRun); err != nil {
			klog.Fatalf("%+v", err)
		}
	}
}

// skipDir returns whether the directory is ignored: hidden directories, vendor, and the ones ignored by the
// Go tool (starting with "_" or named testdata).
func skipDir(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata"
}

func processTree(root, header string, extensions []string, dryRun bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(extensions, filepath.Ext(path)) || strings.HasPrefix(d.Name(), "gen_") {
			return nil
		}
		return processFile(path, header, dryRun)
	})
}

func processFile(path, header string, dryRun bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %q", path)
	}
	updated, changed := addHeader(content, header)
	if !changed {
		return nil
	}
	if dryRun {
		fmt.Println(path)
		return nil
	}
	klog.Infof("adding header to %s", path)
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return nil
}

// addHeader returns the content with the header, and whether it was changed.
//
// Files with a copyright line in their first lines are left unchanged. The header goes after the build
// constraints, if any, separated by an empty line.
func addHeader(content []byte, header string) ([]byte, bool) {
	lines := bytes.Split(content, []byte("\n"))
	lastBuildTag := -1
	for i, line := range lines[:min(len(lines), headerSearchLines)] {
		trimmed := bytes.TrimSpace(line)
		if bytes.HasPrefix(trimmed, []byte("// Copyright")) {
			return content, false
		}
		if bytes.HasPrefix(trimmed, []byte("//go:build")) || bytes.HasPrefix(trimmed, []byte("// +build")) {
			lastBuildTag = i
		}
	}
	var buf bytes.Buffer
	if lastBuildTag >= 0 {
		buf.Write(bytes.Join(lines[:lastBuildTag+1], []byte("\n")))
		buf.WriteString("\n\n")
		buf.WriteString(header)
		rest := bytes.TrimLeft(bytes.Join(lines[lastBuildTag+1:], []byte("\n")), "\n")
		buf.WriteString("\n")
		buf.Write(rest)
		return buf.Bytes(), true
	}
	buf.WriteString(header)
	buf.WriteString("\n")
	buf.Write(content)
	return buf.Bytes(), true
}
