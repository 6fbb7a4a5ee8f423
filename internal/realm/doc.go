// SPDX-License-Identifier: MPL-2.0

// Package realm models class-loading domains: named scopes with a classpath,
// an optional parent and an ordered set of imported peers.
//
// A Realm answers resource and class lookups by searching its own classpath
// first, then its parent, then its imports. Each lookup visits every realm at
// most once, so graphs with diamonds or cycles are safe to query. Collect and
// Render walk the same edges for diagnostics.
package realm
