// SPDX-License-Identifier: MPL-2.0

package framework

import (
	"bufio"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/invowk/realmbridge/internal/realm"
)

// FactoryResource is the service-provider resource naming runtime factories.
// Each non-comment line names a provider registered with RegisterProvider.
const FactoryResource = "META-INF/services/realmbridge.framework.Factory"

var (
	// DefaultProviders is the global provider registry. Runtime packages
	// register themselves during package initialization.
	DefaultProviders = NewProviderRegistry()

	// ErrNoFactory is returned when no registered provider is declared on the loader.
	ErrNoFactory = errors.New("no runtime factory found")
	// ErrAmbiguousFactory is returned when a loader declares more than one provider.
	ErrAmbiguousFactory = errors.New("more than one runtime factory found")
)

type (
	// ProviderRegistry maps provider names to runtime factories.
	// It is safe for concurrent use.
	ProviderRegistry struct {
		mu        sync.RWMutex
		factories map[string]Factory
	}

	// Discovery is the outcome of a successful DiscoverFactory call.
	Discovery struct {
		// Name is the provider name.
		Name string
		// Factory creates runtimes.
		Factory Factory
		// Resource is the URI of the resource that declared the provider.
		Resource string
		// Location is the archive holding that resource, or "" when the
		// resource does not live in an archive.
		Location string
	}

	// NoFactoryError reports that no usable provider was declared.
	// It wraps ErrNoFactory for errors.Is() compatibility.
	NoFactoryError struct {
		Loader string
		// Unknown lists provider names that were declared but not registered.
		Unknown []string
	}

	// AmbiguousFactoryError reports more than one declared provider.
	// It wraps ErrAmbiguousFactory for errors.Is() compatibility.
	AmbiguousFactoryError struct {
		Loader    string
		Providers []string
	}
)

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
// Panics if name is empty or already registered.
func (r *ProviderRegistry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		panic("framework: cannot register provider with empty name")
	}
	if f == nil {
		panic(fmt.Sprintf("framework: provider %q has nil factory", name))
	}
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("framework: provider %q already registered", name))
	}
	r.factories[name] = f
}

// Lookup retrieves a factory by name.
func (r *ProviderRegistry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover finds the single provider declared by FactoryResource resources
// visible from loader. The same provider declared by several resources counts
// once; the first declaring resource wins. Declaring two different providers is
// an error rather than an arbitrary pick.
func (r *ProviderRegistry) Discover(loader realm.Loader) (Discovery, error) {
	return r.DiscoverPreferred(loader, "")
}

// DiscoverPreferred is Discover restricted to the provider named preferred
// when preferred is not empty. Other declared providers are ignored, so a
// pinned name resolves what would otherwise be ambiguous.
func (r *ProviderRegistry) DiscoverPreferred(loader realm.Loader, preferred string) (Discovery, error) {
	uris, err := loader.Resources(FactoryResource)
	if err != nil {
		return Discovery{}, fmt.Errorf("enumerate %s: %w", FactoryResource, err)
	}

	var (
		found   []Discovery
		seen    = make(map[string]bool)
		unknown []string
	)
	for _, uri := range uris {
		names, err := readProviderNames(uri)
		if err != nil {
			return Discovery{}, err
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true

			f, ok := r.Lookup(name)
			if !ok {
				unknown = append(unknown, name)
				continue
			}
			d := Discovery{Name: name, Factory: f, Resource: uri}
			if ju, err := realm.ParseJarURI(uri); err == nil {
				d.Location = ju.Archive
			}
			found = append(found, d)
		}
	}

	if preferred != "" {
		found = slices.DeleteFunc(found, func(d Discovery) bool { return d.Name != preferred })
		if len(found) == 0 {
			unknown = append(unknown, preferred)
		}
	}

	switch len(found) {
	case 0:
		return Discovery{}, &NoFactoryError{Loader: loader.ID(), Unknown: unknown}
	case 1:
		return found[0], nil
	default:
		providers := make([]string, 0, len(found))
		for _, d := range found {
			providers = append(providers, d.Name)
		}
		return Discovery{}, &AmbiguousFactoryError{Loader: loader.ID(), Providers: providers}
	}
}

// RegisterProvider registers a factory in DefaultProviders.
// This is typically called from init() functions in runtime packages.
func RegisterProvider(name string, f Factory) {
	DefaultProviders.Register(name, f)
}

// DiscoverFactory runs Discover against DefaultProviders.
func DiscoverFactory(loader realm.Loader) (Discovery, error) {
	return DefaultProviders.Discover(loader)
}

func readProviderNames(uri string) ([]string, error) {
	rc, err := realm.OpenResource(uri)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var names []string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return names, nil
}

// Error implements the error interface for NoFactoryError.
func (e *NoFactoryError) Error() string {
	if len(e.Unknown) > 0 {
		return fmt.Sprintf("no runtime factory found for loader %s (declared but not registered: %s)",
			e.Loader, strings.Join(e.Unknown, ", "))
	}
	return fmt.Sprintf("no runtime factory found for loader %s", e.Loader)
}

// Unwrap returns ErrNoFactory for errors.Is() compatibility.
func (e *NoFactoryError) Unwrap() error { return ErrNoFactory }

// Error implements the error interface for AmbiguousFactoryError.
func (e *AmbiguousFactoryError) Error() string {
	return fmt.Sprintf("loader %s declares %d runtime factories: %s",
		e.Loader, len(e.Providers), strings.Join(e.Providers, ", "))
}

// Unwrap returns ErrAmbiguousFactory for errors.Is() compatibility.
func (e *AmbiguousFactoryError) Unwrap() error { return ErrAmbiguousFactory }
