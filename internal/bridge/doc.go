// SPDX-License-Identifier: MPL-2.0

// Package bridge builds module runtimes for realms and serves their
// services to code outside the runtime.
//
// A Registry holds at most one runtime per loader. GetOrCreate discovers the
// runtime factory declared on the loader, installs every module archive the
// loader can see and starts the runtime; the result is a Bridge that logs,
// looks up and registers services, and maps classes back to the modules
// that hold them. Dispose stops every runtime and removes its storage.
package bridge
