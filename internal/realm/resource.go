// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	jarScheme  = "jar:"
	fileScheme = "file:"
	jarSep     = "!"
)

// ErrNotJarURI is returned when a URI does not have the jar:file:<path>!<entry> shape.
var ErrNotJarURI = errors.New("not a jar URI")

type (
	// JarURI is the decomposed form of a jar:file:<path>!<entry> resource URI.
	JarURI struct {
		// Archive is the filesystem path of the archive.
		Archive string
		// Entry is the archive-relative entry name without a leading slash.
		Entry string
	}

	// InvalidJarURIError reports a URI that cannot be decomposed.
	// It wraps ErrNotJarURI for errors.Is() compatibility.
	InvalidJarURIError struct {
		URI string
	}

	readCloser struct {
		io.ReadCloser
		archive *zip.ReadCloser
	}
)

// Error implements the error interface for InvalidJarURIError.
func (e *InvalidJarURIError) Error() string {
	return fmt.Sprintf("not a jar:file: URI: %q", e.URI)
}

// Unwrap returns ErrNotJarURI for errors.Is() compatibility.
func (e *InvalidJarURIError) Unwrap() error { return ErrNotJarURI }

// ParseJarURI splits a jar:file:<path>!<entry> URI. The archive path is taken
// by removing the jar: prefix and splitting on the first '!'.
func ParseJarURI(uri string) (JarURI, error) {
	rest, ok := strings.CutPrefix(uri, jarScheme)
	if !ok {
		return JarURI{}, &InvalidJarURIError{URI: uri}
	}
	archive, entry, ok := strings.Cut(rest, jarSep)
	if !ok {
		return JarURI{}, &InvalidJarURIError{URI: uri}
	}
	archive, ok = strings.CutPrefix(archive, fileScheme)
	if !ok || archive == "" {
		return JarURI{}, &InvalidJarURIError{URI: uri}
	}
	return JarURI{
		Archive: filepath.FromSlash(archive),
		Entry:   strings.TrimPrefix(entry, "/"),
	}, nil
}

// String formats the URI.
func (u JarURI) String() string {
	return jarScheme + fileScheme + filepath.ToSlash(u.Archive) + jarSep + "/" + u.Entry
}

// OpenResource opens a resource URI returned by Resources.
func OpenResource(uri string) (io.ReadCloser, error) {
	if path, ok := strings.CutPrefix(uri, fileScheme); ok {
		f, err := os.Open(filepath.FromSlash(path))
		if err != nil {
			return nil, fmt.Errorf("open resource: %w", err)
		}
		return f, nil
	}

	ju, err := ParseJarURI(uri)
	if err != nil {
		return nil, err
	}
	archive, err := zip.OpenReader(ju.Archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", ju.Archive, err)
	}
	for _, f := range archive.File {
		if f.Name != ju.Entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = archive.Close()
			return nil, fmt.Errorf("open %s in %s: %w", ju.Entry, ju.Archive, err)
		}
		return &readCloser{ReadCloser: rc, archive: archive}, nil
	}
	_ = archive.Close()
	return nil, fmt.Errorf("open %s in %s: %w", ju.Entry, ju.Archive, fs.ErrNotExist)
}

func (r *readCloser) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.archive.Close())
}

// statEntry stats a classpath entry. A missing entry yields a nil info and
// no error.
func statEntry(entry string) (fs.FileInfo, error) {
	info, err := os.Stat(entry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat classpath entry %s: %w", entry, err)
	}
	return info, nil
}

// lookupEntry checks one classpath entry for a resource and returns its URI.
func lookupEntry(entry, name string) (string, bool, error) {
	info, err := statEntry(entry)
	if err != nil || info == nil {
		return "", false, err
	}

	if info.IsDir() {
		target := filepath.Join(entry, filepath.FromSlash(name))
		if fi, statErr := os.Stat(target); statErr == nil && !fi.IsDir() {
			return fileScheme + filepath.ToSlash(target), true, nil
		}
		return "", false, nil
	}

	archive, err := zip.OpenReader(entry)
	if err != nil {
		return "", false, fmt.Errorf("read archive %s: %w", entry, err)
	}
	defer func() { _ = archive.Close() }()

	for _, f := range archive.File {
		if f.Name == name {
			return JarURI{Archive: entry, Entry: name}.String(), true, nil
		}
	}
	return "", false, nil
}
