// SPDX-License-Identifier: MPL-2.0

package content

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"sync"
	"time"

	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/klauspost/compress/zip"
)

// ErrNotOpen is returned when reading an entry of an archive that has been closed.
var ErrNotOpen = errors.New("archive not open")

type (
	// Archive is module content backed by a zip archive on disk.
	Archive struct {
		location string
		headers  map[string]string
		loader   realm.Loader

		mu      sync.Mutex
		zr      *zip.ReadCloser
		entries []string
		index   map[string]*zip.File
	}

	// archiveEntry keeps only the entry's metadata. Reads resolve the name
	// against the handle the archive holds at that moment.
	archiveEntry struct {
		owner    *Archive
		name     string
		size     int64
		modified time.Time
	}
)

// NewArchive creates archive content that is not opened yet. The archive at
// location is opened on the first call to Open.
func NewArchive(location string, headers map[string]string, loader realm.Loader) *Archive {
	return &Archive{
		location: location,
		headers:  maps.Clone(headers),
		loader:   loader,
	}
}

// OpenArchive opens the archive at location and reads its headers from the
// manifest. An archive without a manifest has no headers.
func OpenArchive(location string, loader realm.Loader) (*Archive, error) {
	a := &Archive{location: location, loader: loader}
	if err := a.Open(); err != nil {
		return nil, err
	}

	headers, err := a.readManifest()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.headers = headers
	return a, nil
}

// Location returns the filesystem path of the archive.
func (a *Archive) Location() string {
	return a.location
}

// Headers returns a copy of the module headers.
func (a *Archive) Headers() map[string]string {
	return maps.Clone(a.headers)
}

// Loader returns the loader serving the module's classes.
func (a *Archive) Loader() realm.Loader {
	return a.loader
}

// IsOpen reports whether the archive handle is held.
func (a *Archive) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zr != nil
}

// Open opens the backing archive if it is not already open.
func (a *Archive) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zr != nil {
		return nil
	}
	zr, err := zip.OpenReader(a.location)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", a.location, err)
	}
	a.zr = zr
	return nil
}

// Close releases the archive handle. It is a no-op when already closed.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zr == nil {
		return nil
	}
	err := a.zr.Close()
	a.zr = nil
	a.entries = nil
	a.index = nil
	if err != nil {
		return fmt.Errorf("close archive %s: %w", a.location, err)
	}
	return nil
}

// Entries lists every path in the archive. The listing is built on the
// first call after each Open. A closed archive lists nothing and reports no
// error.
func (a *Archive) Entries() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zr == nil {
		return nil, nil
	}
	a.buildIndex()
	return append([]string(nil), a.entries...), nil
}

// Entry looks up a path in the archive.
func (a *Archive) Entry(path string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zr == nil {
		return nil, false
	}
	a.buildIndex()
	f, ok := a.index[path]
	if !ok {
		return nil, false
	}
	return &archiveEntry{
		owner:    a,
		name:     f.Name,
		size:     int64(f.UncompressedSize64),
		modified: f.Modified,
	}, true
}

// openEntry streams the named entry through the current archive handle.
func (a *Archive) openEntry(name string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zr == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotOpen)
	}
	a.buildIndex()
	f, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("open entry %s in %s: %w", name, a.location, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", name, err)
	}
	return rc, nil
}

func (a *Archive) buildIndex() {
	if a.index != nil {
		return
	}
	a.index = make(map[string]*zip.File, len(a.zr.File))
	a.entries = make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		a.index[f.Name] = f
		a.entries = append(a.entries, f.Name)
	}
}

func (a *Archive) readManifest() (map[string]string, error) {
	e, ok := a.Entry(manifest.Path)
	if !ok {
		return map[string]string{}, nil
	}
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	headers, err := manifest.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("read manifest of %s: %w", a.location, err)
	}
	return headers, nil
}

func (e *archiveEntry) Name() string {
	return e.name
}

func (e *archiveEntry) ContentLength() int64 {
	return e.size
}

func (e *archiveEntry) LastModified() time.Time {
	return e.modified
}

// Open streams the entry. It fails with ErrNotOpen while the owning archive
// is closed and works again once it is reopened.
func (e *archiveEntry) Open() (io.ReadCloser, error) {
	return e.owner.openEntry(e.name)
}
