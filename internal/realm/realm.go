// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrClassNotFound is returned when no realm reachable from the requesting
// realm holds the class file.
var ErrClassNotFound = errors.New("class not found")

type (
	// Loader is the lookup surface shared by realms and test doubles.
	Loader interface {
		// ID returns the loader's identifier.
		ID() string
		// Resources returns the URIs of every resource with the given
		// slash-separated name visible from this loader, in delegation order.
		Resources(name string) ([]string, error)
		// LoadClass resolves a dotted class name to the loader that defines it.
		LoadClass(name string) (Class, error)
	}

	// Class identifies a loaded class and where it came from.
	Class struct {
		// Name is the dotted class name.
		Name string
		// Loader is the loader that defined the class.
		Loader Loader
		// CodeSource is the URI of the classpath entry holding the class file.
		// It is empty for classes with no attributable location.
		CodeSource string
	}

	// ClassNotFoundError reports a failed class lookup.
	// It wraps ErrClassNotFound for errors.Is() compatibility.
	ClassNotFoundError struct {
		Name  string
		Realm string
	}

	// Realm is a named class-loading domain.
	Realm struct {
		id string

		mu        sync.RWMutex
		logger    *log.Logger
		parent    *Realm
		imports   []*Realm
		classpath []string
	}

	// Option configures a Realm.
	Option func(*Realm)

	// visitFunc inspects one realm during delegation. Returning stop=true
	// ends the walk early.
	visitFunc func(r *Realm) (stop bool, err error)
)

// Error implements the error interface for ClassNotFoundError.
func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("class %s not found from realm %s", e.Name, e.Realm)
}

// Unwrap returns ErrClassNotFound for errors.Is() compatibility.
func (e *ClassNotFoundError) Unwrap() error { return ErrClassNotFound }

// WithParent sets the parent realm.
func WithParent(parent *Realm) Option {
	return func(r *Realm) {
		r.parent = parent
	}
}

// WithImports appends imported realms in order.
func WithImports(imports ...*Realm) Option {
	return func(r *Realm) {
		r.imports = append(r.imports, imports...)
	}
}

// WithClasspath appends classpath entries. Entries are archive files or
// directories; relative paths are made absolute.
func WithClasspath(entries ...string) Option {
	return func(r *Realm) {
		r.classpath = append(r.classpath, absolutePaths(entries)...)
	}
}

// WithLogger sets the logger unreadable classpath entries are reported to.
// By default nothing is logged.
func WithLogger(logger *log.Logger) Option {
	return func(r *Realm) {
		r.logger = logger
	}
}

// New creates a realm with the given identifier.
func New(id string, opts ...Option) *Realm {
	r := &Realm{id: id, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the realm identifier.
func (r *Realm) ID() string {
	return r.id
}

// String returns the realm identifier.
func (r *Realm) String() string {
	return r.id
}

// Parent returns the parent realm, or nil.
func (r *Realm) Parent() *Realm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent
}

// Imports returns a copy of the imported realms.
func (r *Realm) Imports() []*Realm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Realm(nil), r.imports...)
}

// Classpath returns a copy of the realm's own classpath entries.
func (r *Realm) Classpath() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.classpath...)
}

// SetParent replaces the parent realm.
func (r *Realm) SetParent(parent *Realm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = parent
}

// Import appends an imported realm. Importing the same realm twice is a no-op.
func (r *Realm) Import(other *Realm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.imports {
		if existing == other {
			return
		}
	}
	r.imports = append(r.imports, other)
}

// SetLogger replaces the logger unreadable classpath entries are reported to.
func (r *Realm) SetLogger(logger *log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

func (r *Realm) log() *log.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// AddClasspath appends classpath entries.
func (r *Realm) AddClasspath(entries ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classpath = append(r.classpath, absolutePaths(entries)...)
}

// Resources returns the URIs of the named resource across the realm, its
// parent and its imports. Duplicate URIs are reported once, first seen wins.
// Unreadable classpath entries are skipped, so the error is always nil.
func (r *Realm) Resources(name string) ([]string, error) {
	var (
		uris []string
		seen = make(map[string]bool)
	)
	_ = r.delegate(func(cur *Realm) (bool, error) {
		for _, uri := range cur.OwnResources(name) {
			if !seen[uri] {
				seen[uri] = true
				uris = append(uris, uri)
			}
		}
		return false, nil
	})
	return uris, nil
}

// OwnResources returns the URIs of the named resource on this realm's own
// classpath only. Missing entries are skipped silently, unreadable ones with
// a warning.
func (r *Realm) OwnResources(name string) []string {
	uris, _ := r.ownResources(name)
	return uris
}

// ownResources is OwnResources that also returns one error per unreadable
// classpath entry.
func (r *Realm) ownResources(name string) ([]string, []error) {
	name = strings.TrimPrefix(name, "/")

	var (
		uris       []string
		unreadable []error
	)
	for _, entry := range r.Classpath() {
		uri, ok, err := lookupEntry(entry, name)
		if err != nil {
			r.log().Warn("skipping unreadable classpath entry", "realm", r.id, "entry", entry, "error", err)
			unreadable = append(unreadable, err)
			continue
		}
		if ok {
			uris = append(uris, uri)
		}
	}
	return uris, unreadable
}

// LoadClass resolves a dotted class name. The defining realm is the first
// realm in delegation order whose classpath holds the class file.
func (r *Realm) LoadClass(name string) (Class, error) {
	resource := strings.ReplaceAll(name, ".", "/") + ".class"

	var found Class
	err := r.delegate(func(cur *Realm) (bool, error) {
		for _, entry := range cur.Classpath() {
			_, ok, err := lookupEntry(entry, resource)
			if err != nil {
				cur.log().Warn("skipping unreadable classpath entry", "realm", cur.id, "entry", entry, "error", err)
				continue
			}
			if ok {
				found = Class{Name: name, Loader: cur, CodeSource: codeSource(entry)}
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return Class{}, err
	}
	if found.Loader == nil {
		return Class{}, &ClassNotFoundError{Name: name, Realm: r.id}
	}
	return found, nil
}

// delegate visits r, then its parent chain, then its imports, depth first,
// each realm at most once.
func (r *Realm) delegate(visit visitFunc) error {
	visited := make(map[*Realm]bool)

	var walk func(cur *Realm) (bool, error)
	walk = func(cur *Realm) (bool, error) {
		if cur == nil || visited[cur] {
			return false, nil
		}
		visited[cur] = true

		if stop, err := visit(cur); stop || err != nil {
			return stop, err
		}
		if stop, err := walk(cur.Parent()); stop || err != nil {
			return stop, err
		}
		for _, imp := range cur.Imports() {
			if stop, err := walk(imp); stop || err != nil {
				return stop, err
			}
		}
		return false, nil
	}

	_, err := walk(r)
	return err
}

// codeSource returns the URI used as the code location of classes loaded
// from a classpath entry.
func codeSource(entry string) string {
	uri := "file:" + filepath.ToSlash(entry)
	if info, err := os.Stat(entry); err == nil && info.IsDir() {
		uri += "/"
	}
	return uri
}

func absolutePaths(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if abs, err := filepath.Abs(entry); err == nil {
			entry = abs
		}
		out = append(out, entry)
	}
	return out
}
