// SPDX-License-Identifier: MPL-2.0

// Package manifest reads the main section of a JAR manifest (META-INF/MANIFEST.MF)
// and extracts the module headers used for discovery.
package manifest
