//go:build pjrt_cpu_dynamic

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Set `pjrt_cpu_dynamic` to pre-link the PJRT CPU plugin dynamically.

package xla

import (
	_ "github.com/gomlx/gopjrt/pjrt/cpu/dynamic"
)
