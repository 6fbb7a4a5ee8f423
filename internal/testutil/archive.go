// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// MustWriteJar writes a zip archive at path containing the given entries.
// Entries are written in name order so archives are reproducible.
func MustWriteJar(t testing.TB, path string, entries map[string]string) string {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create entry %s in %s: %v", name, path, err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("failed to write entry %s in %s: %v", name, path, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive %s: %v", path, err)
	}

	MustMkdirAll(t, filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write archive %s: %v", path, err)
	}
	return path
}

// MustWriteBundle writes a module archive whose manifest declares symbolicName.
// Extra headers are appended to the manifest and extra entries to the archive.
func MustWriteBundle(t testing.TB, path, symbolicName string, headers, extra map[string]string) string {
	t.Helper()

	var mf strings.Builder
	mf.WriteString("Manifest-Version: 1.0\n")
	if symbolicName != "" {
		fmt.Fprintf(&mf, "Bundle-SymbolicName: %s\n", symbolicName)
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&mf, "%s: %s\n", k, headers[k])
	}

	entries := map[string]string{"META-INF/MANIFEST.MF": mf.String()}
	for name, data := range extra {
		entries[name] = data
	}
	return MustWriteJar(t, path, entries)
}
