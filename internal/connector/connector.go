// SPDX-License-Identifier: MPL-2.0

package connector

import (
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/charmbracelet/log"
)

type (
	// InstalledModule is an archive kept by discovery and installed into the runtime.
	InstalledModule struct {
		// ID is the module identifier.
		ID string
		// Location is the install location, the archive's absolute path.
		Location string
		// Realm is the id of the realm whose classpath holds the archive,
		// or empty when no scanned realm does.
		Realm string
		// Content serves the archive to the runtime.
		Content content.Content
		// Module is the runtime's handle for the installed module.
		Module framework.Module
	}

	// Stats counts what happened during discovery.
	Stats struct {
		Candidates int
		Installed  int
		Duplicates int
		Rejected   int
		Failures   int
		// Realms counts installed realm modules; they are not candidates.
		Realms int
	}

	// Connector maps install locations to module content.
	Connector struct {
		logger     *log.Logger
		descriptor string
		skip       string
		startList  *StartList

		mu       sync.RWMutex
		contents map[string]content.Content
		modules  map[string]InstalledModule
		realms   map[string]InstalledModule
		stats    Stats

		// singletons maps the location of a skipped singleton duplicate to
		// the identifier of the module installed under that name.
		singletons map[string]string
	}

	// Option configures a Connector.
	Option func(*Connector)
)

// WithLogger sets the logger discovery reports to.
func WithLogger(logger *log.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDescriptor sets the descriptor resource scanned for modules.
// The default is the JAR manifest.
func WithDescriptor(name string) Option {
	return func(c *Connector) {
		if name != "" {
			c.descriptor = name
		}
	}
}

// WithSkipLocation excludes one archive from discovery, typically the archive
// the runtime factory itself was loaded from.
func WithSkipLocation(location string) Option {
	return func(c *Connector) {
		c.skip = location
	}
}

// WithStartList seeds the start list. Lists read during discovery are
// merged on top.
func WithStartList(entries ...StartEntry) Option {
	return func(c *Connector) {
		c.startList.Add(entries...)
	}
}

// WithSystemContent registers the content served for the system module.
func WithSystemContent(sys content.Content) Option {
	return func(c *Connector) {
		if sys != nil {
			c.contents[framework.SystemModuleLocation] = sys
		}
	}
}

// New creates an empty connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "connector",
		}),
		descriptor: manifest.Path,
		startList:  &StartList{},
		contents:   make(map[string]content.Content),
		modules:    make(map[string]InstalledModule),
		realms:     make(map[string]InstalledModule),
		singletons: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover installs one realm module per domain, then scans every
// descriptor resource visible from loader and installs each accepted archive
// through installer. domains are the realms reachable from loader; they
// attribute archives to the realm that holds them.
//
// A candidate that cannot be opened is skipped. A failure to enumerate the
// descriptor resources aborts discovery and installs no archive. The
// returned map holds the archive modules installed by this call keyed by
// identifier.
func (c *Connector) Discover(domains []*realm.Realm, loader realm.Loader, predicate func(id string) bool, installer framework.Installer) map[string]InstalledModule {
	found := make(map[string]InstalledModule)

	c.installRealms(domains, installer)

	uris, err := loader.Resources(c.descriptor)
	if err != nil {
		c.logger.Error("cannot enumerate module descriptors", "loader", loader.ID(), "resource", c.descriptor, "error", err)
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		return found
	}

	list, err := ReadStartList(loader, func(uri string, err error) {
		c.logger.Warn("cannot read start list", "resource", uri, "error", err)
	})
	if err != nil {
		c.logger.Warn("cannot read start list", "loader", loader.ID(), "error", err)
	} else {
		c.mu.Lock()
		c.startList.Add(list.Entries()...)
		c.mu.Unlock()
	}

	owners := realmOwners(domains)
	for _, uri := range uris {
		m, ok := c.admit(uri, loader, owners, predicate)
		if !ok {
			continue
		}

		mod, err := installer.Install(m.Location)
		if err != nil {
			c.logger.Warn("cannot install module", "module", m.ID, "location", m.Location, "error", err)
			c.rollback(m)
			continue
		}
		m.Module = mod

		c.mu.Lock()
		c.modules[m.ID] = m
		c.stats.Installed++
		c.mu.Unlock()
		found[m.ID] = m
	}
	return found
}

// admit opens the candidate behind uri and registers it when it is a new
// module. The returned module is registered but not installed yet.
func (c *Connector) admit(uri string, loader realm.Loader, owners map[string]*realm.Realm, predicate func(string) bool) (InstalledModule, bool) {
	jar, err := realm.ParseJarURI(uri)
	if err != nil {
		c.logger.Debug("skipping descriptor outside an archive", "uri", uri)
		return InstalledModule{}, false
	}
	location := jar.Archive
	if c.skip != "" && sameLocation(c.skip, location) {
		c.logger.Debug("skipping runtime factory archive", "location", location)
		return InstalledModule{}, false
	}

	c.mu.RLock()
	_, known := c.contents[location]
	c.mu.RUnlock()
	if known {
		return InstalledModule{}, false
	}

	c.mu.Lock()
	c.stats.Candidates++
	c.mu.Unlock()

	owner := owners[location]
	var contentLoader realm.Loader = loader
	if owner != nil {
		contentLoader = owner
	}

	archive, err := content.OpenArchive(location, contentLoader)
	if err != nil {
		c.logger.Warn("cannot open module archive", "location", location, "error", err)
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		return InstalledModule{}, false
	}

	id := manifest.SymbolicName(archive.Headers())
	switch {
	case id == "":
		c.logger.Debug("archive is not a module", "location", location)
		c.discard(archive)
		return InstalledModule{}, false
	case predicate != nil && !predicate(id):
		c.logger.Debug("module rejected by filter", "module", id, "location", location)
		c.mu.Lock()
		c.stats.Rejected++
		c.mu.Unlock()
		c.discard(archive)
		return InstalledModule{}, false
	}

	var served content.Content = archive
	if entry, ok := c.startEntry(id); ok && entry.Isolated {
		c.discard(archive)
		served = content.NewArchive(location, archive.Headers(), nil)
	}

	m := InstalledModule{ID: id, Location: location, Content: served}
	if owner != nil {
		m.Realm = owner.ID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, dup := c.findByID(id); dup {
		if manifest.IsSingleton(archive.Headers()) {
			c.logger.Debug("singleton module already installed", "module", id, "location", existing, "duplicate", location)
			c.singletons[filepath.Clean(location)] = id
		} else {
			c.logger.Warn("duplicate module", "module", id, "location", existing, "duplicate", location)
		}
		c.stats.Duplicates++
		c.discard(served)
		return InstalledModule{}, false
	}
	c.contents[location] = served
	c.modules[id] = m
	c.logger.Debug("discovered module", "module", id, "version", manifest.Version(archive.Headers()), "location", location, "realm", m.Realm)
	return m, true
}

// findByID returns the location registered for id. c.mu must be held.
func (c *Connector) findByID(id string) (string, bool) {
	m, ok := c.modules[id]
	if !ok {
		return "", false
	}
	return m.Location, true
}

func (c *Connector) rollback(m InstalledModule) {
	c.mu.Lock()
	if cur, ok := c.modules[m.ID]; ok && cur.Location == m.Location {
		delete(c.modules, m.ID)
	}
	delete(c.contents, m.Location)
	c.stats.Failures++
	c.mu.Unlock()
	c.discard(m.Content)
}

func (c *Connector) discard(cl io.Closer) {
	if err := cl.Close(); err != nil {
		c.logger.Debug("cannot close module archive", "error", err)
	}
}

func (c *Connector) startEntry(id string) (StartEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startList.Lookup(id)
}

// Connect returns the content registered for location.
func (c *Connector) Connect(location string) (content.Content, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.contents[location]
	return v, ok
}

// Module returns the installed module with the given identifier.
func (c *Connector) Module(id string) (InstalledModule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	if !ok || m.Module == nil {
		return InstalledModule{}, false
	}
	return m, true
}

// ModuleAt returns the installed module for an archive location. The
// location of a skipped singleton duplicate maps to the module installed
// under the same identifier.
func (c *Connector) ModuleAt(location string) (InstalledModule, bool) {
	location = filepath.Clean(location)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.singletons[location]; ok {
		m, ok := c.modules[id]
		return m, ok && m.Module != nil
	}
	for _, m := range c.modules {
		if m.Module != nil && sameLocation(m.Location, location) {
			return m, true
		}
	}
	return InstalledModule{}, false
}

// Modules returns the installed modules sorted by identifier.
func (c *Connector) Modules() []InstalledModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]InstalledModule, 0, len(c.modules))
	for _, id := range slices.Sorted(maps.Keys(c.modules)) {
		if m := c.modules[id]; m.Module != nil {
			out = append(out, m)
		}
	}
	return out
}

// StartList returns the merged start list.
func (c *Connector) StartList() []StartEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startList.Entries()
}

// Stats returns the discovery counters accumulated so far.
func (c *Connector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Close closes every registered content.
func (c *Connector) Close() error {
	c.mu.Lock()
	contents := slices.Collect(maps.Values(c.contents))
	c.mu.Unlock()

	var errs []error
	for _, ct := range contents {
		if err := ct.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// realmOwners maps each archive on a realm's own classpath to that realm.
// The first realm listing an archive owns it.
func realmOwners(domains []*realm.Realm) map[string]*realm.Realm {
	owners := make(map[string]*realm.Realm)
	for _, d := range domains {
		for _, entry := range d.Classpath() {
			if _, ok := owners[entry]; !ok {
				owners[entry] = d
			}
		}
	}
	return owners
}

func sameLocation(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

var _ framework.ModuleConnector = (*Connector)(nil)
