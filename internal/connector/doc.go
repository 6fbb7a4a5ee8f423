// SPDX-License-Identifier: MPL-2.0

// Package connector discovers module archives visible from a loader and
// serves their content to a module runtime by install location.
//
// Discover scans the manifests a loader can see, keeps one archive per module
// identifier and asks an installer to install each kept location. The runtime
// later calls Connect for those locations. After discovery the location table
// is only read, so Connect is safe for concurrent use.
package connector
