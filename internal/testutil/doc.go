// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include filesystem setup (MustMkdirAll, MustWriteFile), module
// archive fixtures (MustWriteJar, MustWriteBundle) and resource cleanup
// (MustClose, MustStop, DeferClose).
package testutil
