// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/invowk/realmbridge/internal/config"
	"github.com/invowk/realmbridge/internal/connector"
	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/issue"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// DefaultName names a registry created without WithName.
	DefaultName = "realmbridge"

	// systemSymbolicName identifies the system module served by the bridge.
	systemSymbolicName = "realmbridge.system"
)

type (
	// Registry creates and caches one runtime per loader. Construction is
	// serialized by a single lock; cached bridges are shared by every caller.
	Registry struct {
		name      string
		logger    *log.Logger
		cfg       *config.Config
		providers *framework.ProviderRegistry
		helpers   *Helpers
		listeners []Listener
		self      realm.Loader
		metrics   *Metrics
		newUUID   func() string

		// mu serializes construction and disposal.
		mu sync.Mutex

		cacheMu sync.RWMutex
		bridges map[realm.Loader]*Bridge
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithName sets the name reported in diagnostics.
func WithName(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.name = name
		}
	}
}

// WithLogger sets the logger. By default a logger at the configured level
// writes to stderr.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithConfig sets the configuration. The default is config.DefaultConfig().
func WithConfig(cfg *config.Config) Option {
	return func(r *Registry) {
		if cfg != nil {
			r.cfg = cfg
		}
	}
}

// WithProviders sets the provider registry factories are discovered in.
// The default is framework.DefaultProviders.
func WithProviders(p *framework.ProviderRegistry) Option {
	return func(r *Registry) {
		if p != nil {
			r.providers = p
		}
	}
}

// WithHelpers sets the set the registry joins on Init.
func WithHelpers(h *Helpers) Option {
	return func(r *Registry) { r.helpers = h }
}

// WithListeners adds listeners notified after each runtime starts.
func WithListeners(l ...Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l...) }
}

// WithSelf sets the loader the bridge itself was loaded by. Classes it
// defines map to the system module.
func WithSelf(loader realm.Loader) Option {
	return func(r *Registry) { r.self = loader }
}

// WithMetrics sets the collectors construction reports to.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		name:      DefaultName,
		cfg:       config.DefaultConfig(),
		providers: framework.DefaultProviders,
		metrics:   NewMetrics(nil),
		newUUID:   uuid.NewString,
		bridges:   make(map[realm.Loader]*Bridge),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: r.name,
			Level:  r.cfg.LogLevel.Level(),
		})
	}
	return r
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// String implements fmt.Stringer.
func (r *Registry) String() string { return r.name }

// Init adds the registry to its Helpers set.
func (r *Registry) Init() {
	r.logger.Debug("init registry", "name", r.name)
	if r.helpers != nil {
		r.helpers.Add(r)
	}
}

// Lookup returns the cached bridge for loader.
func (r *Registry) Lookup(loader realm.Loader) (*Bridge, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	b, ok := r.bridges[loader]
	return b, ok
}

// Bridges returns every cached bridge ordered by realm id.
func (r *Registry) Bridges() []*Bridge {
	r.cacheMu.RLock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	r.cacheMu.RUnlock()

	slices.SortFunc(out, func(a, b *Bridge) int {
		if c := strings.Compare(a.realmID, b.realmID); c != 0 {
			return c
		}
		return strings.Compare(a.uuid, b.uuid)
	})
	return out
}

// Len returns the number of cached bridges.
func (r *Registry) Len() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.bridges)
}

// GetService returns a service from the runtime for loader, creating the
// runtime if needed.
func (r *Registry) GetService(ctx context.Context, loader realm.Loader, typ reflect.Type, filter string) (any, error) {
	b, err := r.GetOrCreate(ctx, loader)
	if err != nil {
		return nil, err
	}
	return b.GetService(typ, filter)
}

// GetOrCreate returns the bridge for loader, building and starting its
// runtime on first use. Concurrent calls for one loader build one runtime.
func (r *Registry) GetOrCreate(ctx context.Context, loader realm.Loader) (*Bridge, error) {
	if loader == nil {
		return nil, errors.New("get runtime: nil loader")
	}

	b, created, err := r.lookupOrStart(ctx, loader)
	if err != nil || !created {
		return b, err
	}
	r.afterStart(b)
	return b, nil
}

// lookupOrStart returns the cached bridge for loader or builds, caches and
// starts a new one. created reports whether this call built it.
func (r *Registry) lookupOrStart(ctx context.Context, loader realm.Loader) (b *Bridge, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.Lookup(loader); ok {
		return b, false, nil
	}

	b, err = r.create(ctx, loader)
	if err != nil {
		r.metrics.runtimesFailed.Inc()
		return nil, false, err
	}
	r.metrics.runtimesCreated.Inc()
	return b, true, nil
}

// afterStart starts the start-list modules, notifies listeners and logs
// diagnostics. It runs without r.mu held so listeners may call back into
// the registry; such calls see the already cached bridge.
func (r *Registry) afterStart(b *Bridge) {
	r.startListed(b)
	notifyStarted(b, r.listeners)
	if b.IsDebugEnabled() {
		b.logDiagnostics()
	}
}

func (r *Registry) create(ctx context.Context, loader realm.Loader) (*Bridge, error) {
	var domains []*realm.Realm
	if start, ok := loader.(*realm.Realm); ok {
		domains = realm.Collect(start)
		if r.logger.GetLevel() <= log.DebugLevel {
			r.logger.Debug("create runtime", "registry", r.name, "loader", loader.ID(),
				"graph", "\n"+realm.Render(start, r.cfg.Descriptor))
		}
	} else {
		r.logger.Debug("create runtime", "registry", r.name, "loader", loader.ID())
	}

	d, err := r.providers.DiscoverPreferred(loader, r.cfg.Provider)
	if err != nil {
		return nil, factoryError(loader, err)
	}

	id := r.newUUID()
	bag, err := readProperties(loader, func(uri string, err error) {
		r.logger.Warn("cannot read runtime properties", "resource", uri, "error", err)
	})
	if err != nil {
		r.logger.Warn("cannot enumerate runtime properties", "loader", loader.ID(), "error", err)
	}
	storageRoot := r.cfg.StorageDir
	if storageRoot == "" {
		storageRoot = os.TempDir()
	}
	fixed := fixedProperties(storageRoot, id, r.cfg.StartLevel)
	props := layerProperties(bag, r.cfg.Properties, fixed)

	conn := connector.New(
		connector.WithLogger(r.logger.WithPrefix(r.name+"/connector")),
		connector.WithDescriptor(r.cfg.Descriptor),
		connector.WithSkipLocation(d.Location),
		connector.WithSystemContent(content.NewSystem(map[string]string{
			manifest.HeaderSymbolicName: systemSymbolicName,
			manifest.HeaderVersion:      "1.0.0",
			manifest.HeaderName:         r.name,
		}, r.self)),
	)

	rt, err := d.Factory.NewRuntime(props, conn)
	if err != nil {
		_ = conn.Close()
		return nil, runtimeError(loader, d.Name, "create runtime", err)
	}

	b := newBridge(id, loader.ID(), r.name, r.logger, rt, conn, fixed[framework.PropStorage], r.self)
	if err := rt.Init(framework.ListenerFunc(b.FrameworkEvent)); err != nil {
		_ = conn.Close()
		return nil, runtimeError(loader, d.Name, "init runtime", err)
	}

	conn.Discover(domains, loader, r.cfg.Accepts, rt.Context())
	r.metrics.observeDiscovery(conn.Stats())

	r.cacheMu.Lock()
	r.bridges[loader] = b
	r.cacheMu.Unlock()
	r.metrics.runtimesActive.Inc()

	if err := rt.Start(ctx); err != nil {
		r.evict(loader)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopTimeout)
		b.dispose(stopCtx)
		cancel()
		return nil, runtimeError(loader, d.Name, "start runtime", err)
	}
	return b, nil
}

// startListed starts the start-list modules flagged for start and warns
// about listed modules the runtime does not have.
func (r *Registry) startListed(b *Bridge) {
	byName := make(map[string][]framework.Module)
	for _, m := range b.runtime.Context().Modules() {
		byName[m.SymbolicName()] = append(byName[m.SymbolicName()], m)
	}

	for _, entry := range b.connector.StartList() {
		modules, ok := byName[entry.ID]
		if !ok {
			b.Warn(fmt.Sprintf("module %s was not found in the runtime", entry.ID), nil)
			continue
		}
		if !entry.Start {
			continue
		}
		for _, m := range modules {
			if err := m.Start(); err != nil {
				b.Warn(fmt.Sprintf("cannot start module %s %s", m.SymbolicName(), m.Version()), err)
			}
		}
	}
}

func (r *Registry) evict(loader realm.Loader) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if _, ok := r.bridges[loader]; ok {
		delete(r.bridges, loader)
		r.metrics.runtimesActive.Dec()
	}
}

// Dispose stops every cached runtime one after the other, waiting up to the
// configured stop timeout for each, and deletes their storage. Failures are
// logged. Afterwards the cache is empty and the registry has left its
// Helpers set.
func (r *Registry) Dispose(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bridges := r.Bridges()
	r.cacheMu.Lock()
	clear(r.bridges)
	r.cacheMu.Unlock()

	for _, b := range bridges {
		waitCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
		b.dispose(waitCtx)
		cancel()
		r.metrics.runtimesActive.Dec()
	}

	if r.helpers != nil {
		r.helpers.Remove(r)
	}
}

func factoryError(loader realm.Loader, err error) error {
	ec := issue.NewErrorContext().
		WithOperation("discover runtime factory").
		WithResource(loader.ID())

	var ambiguous *framework.AmbiguousFactoryError
	if errors.As(err, &ambiguous) {
		ec = ec.WithIssue(issue.AmbiguousFactoryId).
			WithSuggestion("Remove all but one runtime archive from the realm graph").
			WithSuggestion(fmt.Sprintf("Pin one of %s with the 'provider' config key", strings.Join(ambiguous.Providers, ", ")))
	} else {
		ec = ec.WithIssue(issue.NoFactoryId).
			WithSuggestion("Add the archive that ships the runtime to the realm's classpath").
			WithSuggestion("Declare the provider in " + framework.FactoryResource)
	}
	return ec.Wrap(err).BuildError()
}

func runtimeError(loader realm.Loader, provider, op string, err error) error {
	return issue.NewErrorContext().
		WithOperation(op).
		WithResource(loader.ID()).
		WithSuggestion(fmt.Sprintf("Check the %q runtime provider", provider)).
		WithSuggestion("Run with log_level \"debug\" to see the realm graph and discovered modules").
		Wrap(err).
		BuildError()
}
