// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandHome("~/models")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "models"), got)
	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(home), got)
	_, err = ExpandHome("~no_such_user_mlbench/models")
	assert.Error(t, err)
	got, err = ExpandHome("/tmp/models")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/models", got)
}

func TestSortedFileNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.jpg", "c.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	names, err := SortedFileNames(dir, ".jpg", ".png")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.JPG", "c.png"}, names)

	names, err = SortedFileNames(dir)
	require.NoError(t, err)
	assert.Len(t, names, 4)

	_, err = SortedFileNames(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
