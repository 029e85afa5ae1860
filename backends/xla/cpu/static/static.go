// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package static links the PJRT CPU plugin statically with your binary, and includes the xla backend.
//
// The binary then only depends on the standard C/C++ libraries, at the cost of a larger binary.
//
// To use it, import it:
//
//	import _ "github.com/gomlx/mlbench/backends/xla/cpu/static"
package static

import (
	_ "github.com/gomlx/mlbench/backends/xla"

	_ "github.com/gomlx/gopjrt/pjrt/cpu/static"
)
