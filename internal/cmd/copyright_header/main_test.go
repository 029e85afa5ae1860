// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0\n"

func TestAddHeader(t *testing.T) {
	updated, changed := addHeader([]byte("package foo\n"), testHeader)
	assert.True(t, changed)
	assert.Equal(t, testHeader+"\npackage foo\n", string(updated))

	_, changed = addHeader(updated, testHeader)
	assert.False(t, changed)

	updated, changed = addHeader([]byte("//go:build cgo\n\npackage foo\n"), testHeader)
	assert.True(t, changed)
	assert.Equal(t, "//go:build cgo\n\n"+testHeader+"\npackage foo\n", string(updated))

	updated, changed = addHeader([]byte("#ifndef FOO_H_\n#define FOO_H_\n#endif\n"), testHeader)
	assert.True(t, changed)
	assert.Equal(t, testHeader+"\n#ifndef FOO_H_\n#define FOO_H_\n#endif\n", string(updated))
}

func TestProcessTree(t *testing.T) {
	root := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	goFile := write("a/a.go", "package a\n")
	cHeader := write("a/a.h", "int a;\n")
	text := write("a/notes.txt", "notes\n")
	ignored := write("_ignored/b.go", "package b\n")
	generated := write("a/gen_a.go", "package a\n")

	require.NoError(t, processTree(root, testHeader, []string{".go", ".h"}, false))
	for path, wantHeader := range map[string]bool{
		goFile: true, cHeader: true, text: false, ignored: false, generated: false,
	} {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		_, changed := addHeader(content, testHeader)
		assert.Equal(t, !wantHeader, changed, "file %s", path)
	}
}
