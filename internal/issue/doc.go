// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown guidance
// for the failures users hit most often: missing or ambiguous runtime
// factories, unreadable realm graphs and invalid configuration.
package issue
