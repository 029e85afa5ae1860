// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handle is an opaque reference to a Backend created by a Table. The zero value is never a valid handle.
type Handle uint64

// InvalidHandle is the zero Handle, returned when Table.Create fails.
const InvalidHandle Handle = 0

// Table owns the backends created through it, and hands out Handle values to reference them.
//
// It validates handles (detecting use-after-delete) and indices, serializes the bind/execute calls on the
// same handle, and makes Delete wait for calls in-flight on the handle. Metadata accessors can be
// called concurrently.
//
// A Table is safe for concurrent use. The zero value is not usable, use NewTable.
type Table struct {
	mu      sync.RWMutex
	last    Handle
	entries map[Handle]*tableEntry
}

type tableEntry struct {
	backend Backend
	name    string

	// lifecycle is read-locked by every call, and write-locked by Delete.
	lifecycle sync.RWMutex
	deleted   bool

	// callMu serializes SetInput/GetOutput/IssueQuery/FlushQueries.
	callMu sync.Mutex
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]*tableEntry)}
}

// Create creates a backend with the library and returns a handle to it.
// On failure, it returns InvalidHandle and the error.
func (t *Table) Create(library Library, modelPath string, config *Configuration, nativeLibPath string) (Handle, error) {
	if config == nil {
		config = &Configuration{}
	}
	backend, err := library.Create(modelPath, config, nativeLibPath)
	if err != nil {
		return InvalidHandle, errors.WithMessagef(err, "failed to create backend %q for model %q",
			library.Name(), modelPath)
	}
	if backend == nil {
		return InvalidHandle, errors.Errorf("library %q returned a nil backend for model %q",
			library.Name(), modelPath)
	}
	return t.Insert(backend), nil
}

// Insert takes ownership of an already created backend and returns a new handle to it.
func (t *Table) Insert(backend Backend) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	h := t.last
	t.entries[h] = &tableEntry{backend: backend, name: backend.Name()}
	klog.V(1).Infof("backend %q created with handle %d", backend.Name(), h)
	return h
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Delete the backend referenced by the handle, releasing its resources.
// It waits for calls in-flight on the handle to finish.
//
// After Delete, any use of the handle (including a second Delete) returns ErrInvalidHandle.
func (t *Table) Delete(h Handle) error {
	t.mu.Lock()
	entry, found := t.entries[h]
	delete(t.entries, h)
	t.mu.Unlock()
	if !found {
		return errors.Wrapf(ErrInvalidHandle, "Delete(%d)", h)
	}
	entry.lifecycle.Lock()
	defer entry.lifecycle.Unlock()
	entry.deleted = true
	entry.backend.Delete()
	entry.backend = nil
	klog.V(1).Infof("backend %q with handle %d deleted", entry.name, h)
	return nil
}

// acquire returns the live entry for the handle with its lifecycle read-locked: the caller must call
// entry.lifecycle.RUnlock when done.
func (t *Table) acquire(h Handle, op string) (*tableEntry, error) {
	t.mu.RLock()
	entry, found := t.entries[h]
	t.mu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s(%d)", op, h)
	}
	entry.lifecycle.RLock()
	if entry.deleted {
		entry.lifecycle.RUnlock()
		return nil, errors.Wrapf(ErrInvalidHandle, "%s(%d)", op, h)
	}
	return entry, nil
}

// withBackend runs fn with the backend of a live handle.
func (t *Table) withBackend(h Handle, op string, fn func(b Backend) error) error {
	entry, err := t.acquire(h, op)
	if err != nil {
		return err
	}
	defer entry.lifecycle.RUnlock()
	return fn(entry.backend)
}

// withSerializedBackend is like withBackend, but also serializes fn with the other calls on the same handle.
func (t *Table) withSerializedBackend(h Handle, op string, fn func(b Backend) error) error {
	entry, err := t.acquire(h, op)
	if err != nil {
		return err
	}
	defer entry.lifecycle.RUnlock()
	entry.callMu.Lock()
	defer entry.callMu.Unlock()
	return fn(entry.backend)
}

// Name returns the backend name.
func (t *Table) Name(h Handle) (name string, err error) {
	err = t.withBackend(h, "Name", func(b Backend) error {
		name = b.Name()
		return nil
	})
	return
}

// Vendor returns the backend vendor.
func (t *Table) Vendor(h Handle) (vendor string, err error) {
	err = t.withBackend(h, "Vendor", func(b Backend) error {
		vendor = b.Vendor()
		return nil
	})
	return
}

// AcceleratorName returns the name of the accelerator used by the backend.
func (t *Table) AcceleratorName(h Handle) (accelerator string, err error) {
	err = t.withBackend(h, "AcceleratorName", func(b Backend) error {
		accelerator = b.AcceleratorName()
		return nil
	})
	return
}

// InputCount returns the number of inputs of the backend's model.
func (t *Table) InputCount(h Handle) (count int, err error) {
	err = t.withBackend(h, "InputCount", func(b Backend) error {
		count = b.InputCount()
		return nil
	})
	return
}

// OutputCount returns the number of outputs of the backend's model.
func (t *Table) OutputCount(h Handle) (count int, err error) {
	err = t.withBackend(h, "OutputCount", func(b Backend) error {
		count = b.OutputCount()
		return nil
	})
	return
}

// InputType returns the type of the input i. It returns ErrIndexOutOfRange for invalid indices.
func (t *Table) InputType(h Handle, i int) (dtype DataType, err error) {
	err = t.withBackend(h, "InputType", func(b Backend) error {
		if i < 0 || i >= b.InputCount() {
			return errors.Wrapf(ErrIndexOutOfRange, "InputType(%d): input %d, backend %q has %d inputs",
				h, i, b.Name(), b.InputCount())
		}
		dtype = b.InputType(i)
		return nil
	})
	return
}

// OutputType returns the type of the output i. It returns ErrIndexOutOfRange for invalid indices.
func (t *Table) OutputType(h Handle, i int) (dtype DataType, err error) {
	err = t.withBackend(h, "OutputType", func(b Backend) error {
		if i < 0 || i >= b.OutputCount() {
			return errors.Wrapf(ErrIndexOutOfRange, "OutputType(%d): output %d, backend %q has %d outputs",
				h, i, b.Name(), b.OutputCount())
		}
		dtype = b.OutputType(i)
		return nil
	})
	return
}

// SetInput binds the data of input i for the item batchIndex.
func (t *Table) SetInput(h Handle, batchIndex, i int, data []byte) error {
	return t.withSerializedBackend(h, "SetInput", func(b Backend) error {
		if i < 0 || i >= b.InputCount() {
			return errors.Wrapf(ErrIndexOutOfRange, "SetInput(%d): input %d, backend %q has %d inputs",
				h, i, b.Name(), b.InputCount())
		}
		if batchIndex < 0 {
			return errors.Wrapf(ErrIndexOutOfRange, "SetInput(%d): negative batch index %d", h, batchIndex)
		}
		return b.SetInput(batchIndex, i, data).Err("SetInput")
	})
}

// GetOutput returns the data of the output i for the item batchIndex of the last query.
// The returned slice is a copy, owned by the caller.
func (t *Table) GetOutput(h Handle, batchIndex, i int) (data []byte, err error) {
	err = t.withSerializedBackend(h, "GetOutput", func(b Backend) error {
		if i < 0 || i >= b.OutputCount() {
			return errors.Wrapf(ErrIndexOutOfRange, "GetOutput(%d): output %d, backend %q has %d outputs",
				h, i, b.Name(), b.OutputCount())
		}
		if batchIndex < 0 {
			return errors.Wrapf(ErrIndexOutOfRange, "GetOutput(%d): negative batch index %d", h, batchIndex)
		}
		backendData, status := b.GetOutput(batchIndex, i)
		if err := status.Err("GetOutput"); err != nil {
			return err
		}
		data = make([]byte, len(backendData))
		copy(data, backendData)
		return nil
	})
	return
}

// IssueQuery runs the inference on the bound inputs.
func (t *Table) IssueQuery(h Handle) error {
	return t.withSerializedBackend(h, "IssueQuery", func(b Backend) error {
		return b.IssueQuery().Err("IssueQuery")
	})
}

// FlushQueries forces the completion of the pending queries.
func (t *Table) FlushQueries(h Handle) error {
	return t.withSerializedBackend(h, "FlushQueries", func(b Backend) error {
		return b.FlushQueries().Err("FlushQueries")
	})
}

// Backend returns a view of the handle as a Backend, where every call goes through the Table.
// Errors returned by the Table are logged and converted to Failure (or zero values).
func (t *Table) Backend(h Handle) Backend {
	return &tableBackend{table: t, handle: h}
}

type tableBackend struct {
	table  *Table
	handle Handle
}

var _ Backend = (*tableBackend)(nil)

func logged[T any](value T, err error) T {
	if err != nil {
		klog.Errorf("%+v", err)
	}
	return value
}

func (tb *tableBackend) Name() string            { return logged(tb.table.Name(tb.handle)) }
func (tb *tableBackend) Vendor() string          { return logged(tb.table.Vendor(tb.handle)) }
func (tb *tableBackend) AcceleratorName() string { return logged(tb.table.AcceleratorName(tb.handle)) }
func (tb *tableBackend) InputCount() int         { return logged(tb.table.InputCount(tb.handle)) }
func (tb *tableBackend) OutputCount() int        { return logged(tb.table.OutputCount(tb.handle)) }
func (tb *tableBackend) InputType(i int) DataType {
	return logged(tb.table.InputType(tb.handle, i))
}
func (tb *tableBackend) OutputType(i int) DataType {
	return logged(tb.table.OutputType(tb.handle, i))
}

func toStatus(err error) Status {
	if err != nil {
		klog.Errorf("%+v", err)
		return Failure
	}
	return Success
}

func (tb *tableBackend) SetInput(batchIndex, i int, data []byte) Status {
	return toStatus(tb.table.SetInput(tb.handle, batchIndex, i, data))
}

func (tb *tableBackend) GetOutput(batchIndex, i int) ([]byte, Status) {
	data, err := tb.table.GetOutput(tb.handle, batchIndex, i)
	return data, toStatus(err)
}

func (tb *tableBackend) IssueQuery() Status   { return toStatus(tb.table.IssueQuery(tb.handle)) }
func (tb *tableBackend) FlushQueries() Status { return toStatus(tb.table.FlushQueries(tb.handle)) }
func (tb *tableBackend) Delete()              { toStatus(tb.table.Delete(tb.handle)) }

// ConvertInputs implements InputConverter if the underlying backend does, otherwise it returns the data unchanged.
func (tb *tableBackend) ConvertInputs(width, height int, data []byte) (converted []byte, err error) {
	converted = data
	err = tb.table.withSerializedBackend(tb.handle, "ConvertInputs", func(b Backend) error {
		converter, ok := b.(InputConverter)
		if !ok {
			return nil
		}
		var convErr error
		converted, convErr = converter.ConvertInputs(width, height, data)
		return convErr
	})
	return
}
