// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
)

const classSuffix = ".class"

// Packages returns the sorted names of the packages holding class files on
// the realm's own classpath. Classes in the default package and under
// META-INF are ignored. Unreadable entries are skipped with a warning.
func (r *Realm) Packages() []string {
	seen := make(map[string]bool)
	for _, entry := range r.Classpath() {
		names, err := classFiles(entry)
		if err != nil {
			r.log().Warn("skipping unreadable classpath entry", "realm", r.id, "entry", entry, "error", err)
			continue
		}
		for _, name := range names {
			dir := path.Dir(name)
			if dir == "." || dir == "META-INF" || strings.HasPrefix(dir, "META-INF/") {
				continue
			}
			seen[strings.ReplaceAll(dir, "/", ".")] = true
		}
	}

	pkgs := make([]string, 0, len(seen))
	for pkg := range seen {
		pkgs = append(pkgs, pkg)
	}
	slices.Sort(pkgs)
	return pkgs
}

// classFiles lists the slash-separated class file names in one classpath
// entry. A missing entry holds nothing.
func classFiles(entry string) ([]string, error) {
	info, err := statEntry(entry)
	if err != nil || info == nil {
		return nil, err
	}

	var names []string
	if info.IsDir() {
		err := filepath.WalkDir(entry, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), classSuffix) {
				return nil
			}
			rel, err := filepath.Rel(entry, p)
			if err != nil {
				return err
			}
			names = append(names, filepath.ToSlash(rel))
			return nil
		})
		return names, err
	}

	archive, err := zip.OpenReader(entry)
	if err != nil {
		return nil, err
	}
	defer func() { _ = archive.Close() }()
	for _, f := range archive.File {
		if strings.HasSuffix(f.Name, classSuffix) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}
