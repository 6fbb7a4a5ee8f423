// SPDX-License-Identifier: MPL-2.0

// Package embedded is an in-process module runtime registered as the
// "embedded" provider.
//
// The runtime keeps modules, their resolution state and a service registry in
// memory. Module files are never read directly: every install asks the
// ModuleConnector for the content registered at the location. Importing this
// package for its side effect makes the provider discoverable:
//
//	import _ "github.com/invowk/realmbridge/internal/framework/embedded"
package embedded
