// SPDX-License-Identifier: MPL-2.0

// Package content adapts module archives to the read-only view a module
// runtime uses to serve a module's files and headers.
//
// Two shapes share the Content interface: Archive wraps a zip archive on disk
// and can be closed and re-opened as the runtime's lifecycle demands; System
// carries only headers and backs the runtime's system module.
package content
