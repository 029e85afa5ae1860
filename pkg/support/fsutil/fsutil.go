// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil has the file system helpers used to locate models, datasets and settings documents.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether path exists. Errors other than "not found" are returned.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "failed to stat %q", path)
	}
}

// ExpandHome replaces a leading "~" or "~user" in p by the corresponding home directory.
// Other paths are returned unchanged.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	userName, rest, _ := strings.Cut(p[1:], "/")
	var home string
	if userName == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(err, "no home directory to expand %q", p)
		}
	} else {
		usr, err := user.Lookup(userName)
		if err != nil {
			return "", errors.Wrapf(err, "unknown user %q in path %q", userName, p)
		}
		home = usr.HomeDir
	}
	return filepath.Join(home, rest), nil
}

// SortedFileNames lists the regular files of dir in lexicographic order. If extensions are given (e.g. ".jpg"),
// only the files ending with one of them, ignoring case, are listed.
func SortedFileNames(dir string, extensions ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory %q", dir)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		lower := strings.ToLower(entry.Name())
		if len(extensions) == 0 || slices.ContainsFunc(extensions, func(ext string) bool {
			return strings.HasSuffix(lower, strings.ToLower(ext))
		}) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
