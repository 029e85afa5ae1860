// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"strconv"

	"github.com/pkg/errors"
)

// MaxConfigurationEntries is the maximum number of key/value entries a Configuration can hold.
const MaxConfigurationEntries = 256

// Configuration is given to Library.Create: it holds the accelerator selection and the free-form key/value
// settings (common and custom settings of the benchmark) interpreted by each backend.
type Configuration struct {
	// DelegateSelected is the name of the delegate (or execution provider) selected by the user, if any.
	DelegateSelected string

	// Accelerator requested. E.g.: "cpu", "gpu", "npu".
	Accelerator string

	// AcceleratorDesc is a human-readable description of the accelerator.
	AcceleratorDesc string

	// BatchSize of the queries. 0 or 1 means no batching.
	BatchSize int

	keys, values []string
}

// Add appends the key/value entry. Keys are not required to be unique: Get returns the first one.
//
// It returns an error if the configuration already has MaxConfigurationEntries entries.
func (c *Configuration) Add(key, value string) error {
	if len(c.keys) >= MaxConfigurationEntries {
		return errors.Errorf("backend configuration can't have more than %d entries, failed to add %q",
			MaxConfigurationEntries, key)
	}
	c.keys = append(c.keys, key)
	c.values = append(c.values, value)
	return nil
}

// Len returns the number of key/value entries.
func (c *Configuration) Len() int {
	return len(c.keys)
}

// Entry returns the i-th key/value entry, in the order they were added.
func (c *Configuration) Entry(i int) (key, value string) {
	return c.keys[i], c.values[i]
}

// Get returns the value of the first entry with the given key.
func (c *Configuration) Get(key string) (value string, found bool) {
	for i, k := range c.keys {
		if k == key {
			return c.values[i], true
		}
	}
	return "", false
}

// GetOr returns the value of the key, or defaultValue if it is not set.
func (c *Configuration) GetOr(key, defaultValue string) string {
	if v, found := c.Get(key); found {
		return v
	}
	return defaultValue
}

// GetInt returns the value of the key parsed as an integer, or defaultValue if it is not set.
func (c *Configuration) GetInt(key string, defaultValue int) (int, error) {
	v, found := c.Get(key)
	if !found || v == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, errors.Wrapf(err, "configuration %q=%q is not an integer", key, v)
	}
	return i, nil
}

// EffectiveBatchSize returns BatchSize, or 1 if it is not set.
func (c *Configuration) EffectiveBatchSize() int {
	if c == nil || c.BatchSize <= 0 {
		return 1
	}
	return c.BatchSize
}
