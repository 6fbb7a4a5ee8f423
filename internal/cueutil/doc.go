// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes CUE documents against an embedded schema.
//
// Both the configuration file and CUE realm graph files go through the same
// flow: compile the schema, unify the user document with one of its
// definitions, validate, then decode. Errors carry the offending field as a
// dotted path so users can find it in their file.
//
//	//go:embed graph_schema.cue
//	var graphSchema []byte
//
//	result, err := cueutil.ParseAndDecode[GraphFile](graphSchema, data, "#Graph",
//	    cueutil.WithFilename(path))
package cueutil
