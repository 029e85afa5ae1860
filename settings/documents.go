// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package settings

import (
	"bufio"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/mlbench/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed documents/*.pbtxt
var embeddedDocuments embed.FS

// MLBENCH_SETTINGS_DIR is the environment variable with a directory of settings documents that take precedence
// over the embedded ones. A document "<name>.pbtxt" found there replaces the embedded document "<name>".
const MLBENCH_SETTINGS_DIR = "MLBENCH_SETTINGS_DIR"

// DocumentExt is the extension of the settings documents files.
const DocumentExt = ".pbtxt"

// versionPrefix starts the comment line that holds the version of a document.
const versionPrefix = "# version:"

// Document is a settings document in protobuf text format.
type Document struct {
	Name    string
	Version string
	Text    string

	// Source is either "embedded" or the path of the file the document was read from.
	Source string
}

// LoadDocument returns the settings document with the given name (without extension), looking first in
// the directory given by MLBENCH_SETTINGS_DIR.
func LoadDocument(name string) (*Document, error) {
	if dir := os.Getenv(MLBENCH_SETTINGS_DIR); dir != "" {
		dir, err := fsutil.ExpandHome(dir)
		if err != nil {
			return nil, err
		}
		filePath := filepath.Join(dir, name+DocumentExt)
		exists, err := fsutil.FileExists(filePath)
		if err != nil {
			return nil, err
		}
		if exists {
			contents, err := os.ReadFile(filePath)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read settings document %q", filePath)
			}
			klog.V(1).Infof("settings document %q loaded from %q", name, filePath)
			return newDocument(name, string(contents), filePath), nil
		}
	}
	contents, err := embeddedDocuments.ReadFile("documents/" + name + DocumentExt)
	if err != nil {
		return nil, errors.Errorf("settings document %q not found, available documents are %q", name, DocumentNames())
	}
	return newDocument(name, string(contents), "embedded"), nil
}

// MustLoadDocument is like LoadDocument but panics on error. Used for the embedded documents of the backends.
func MustLoadDocument(name string) *Document {
	doc, err := LoadDocument(name)
	if err != nil {
		panic(err)
	}
	return doc
}

func newDocument(name, text, source string) *Document {
	doc := &Document{Name: name, Text: text, Source: source}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, versionPrefix) {
			doc.Version = strings.TrimSpace(strings.TrimPrefix(line, versionPrefix))
			break
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			// Version must be in the header comments.
			break
		}
	}
	return doc
}

// DocumentNames returns the sorted names of the available documents, embedded or in MLBENCH_SETTINGS_DIR.
func DocumentNames() []string {
	var names []string
	entries, _ := fs.ReadDir(embeddedDocuments, "documents")
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), DocumentExt))
	}
	if dir := os.Getenv(MLBENCH_SETTINGS_DIR); dir != "" {
		if dir, err := fsutil.ExpandHome(dir); err == nil {
			fileNames, err := fsutil.SortedFileNames(dir, DocumentExt)
			if err != nil {
				klog.Warningf("failed to list settings documents in %q: %+v", dir, err)
			}
			for _, fileName := range fileNames {
				names = append(names, strings.TrimSuffix(fileName, DocumentExt))
			}
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// BackendSetting parses the document as backend settings.
func (d *Document) BackendSetting() (*BackendSetting, error) {
	bs, err := ParseBackendSetting(d.Text)
	if err != nil {
		return nil, errors.WithMessagef(err, "settings document %q (%s)", d.Name, d.Source)
	}
	if err := bs.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "settings document %q (%s)", d.Name, d.Source)
	}
	return bs, nil
}

// MLBENCH_MODELS_DIR is the environment variable with the directory where "local://" paths are resolved.
// It defaults to the current directory.
const MLBENCH_MODELS_DIR = "MLBENCH_MODELS_DIR"

// LocalPath resolves paths using the LocalScheme ("local://") to MLBENCH_MODELS_DIR. Other paths have
// "~" expanded and are otherwise returned unchanged.
func LocalPath(p string) (string, error) {
	if !strings.HasPrefix(p, LocalScheme) {
		return fsutil.ExpandHome(p)
	}
	baseDir := os.Getenv(MLBENCH_MODELS_DIR)
	if baseDir == "" {
		baseDir = "."
	}
	baseDir, err := fsutil.ExpandHome(baseDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, filepath.FromSlash(strings.TrimPrefix(p, LocalScheme))), nil
}
