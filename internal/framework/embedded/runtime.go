// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"sync"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/manifest"
)

const (
	// ProviderName is the name this runtime is registered under.
	ProviderName = "embedded"

	// systemSymbolicName is used when the connector has no system content.
	systemSymbolicName = "system.bundle"

	defaultStartLevel = 1
)

// ErrMissingSymbolicName is returned when installing content without a module identifier.
var ErrMissingSymbolicName = errors.New("module has no symbolic name")

type (
	// Factory creates embedded runtimes.
	Factory struct{}

	// Runtime is an in-process module runtime. It serves as its own
	// framework.Context.
	Runtime struct {
		props     map[string]string
		connector framework.ModuleConnector
		lc        *lifecycle
		services  *framework.ServiceRegistry

		mu         sync.RWMutex
		system     *module
		modules    []*module
		byLocation map[string]*module
		nextID     int64
		listeners  []framework.Listener
		unresolved map[*module]error
		started    []*module
	}
)

func init() {
	framework.RegisterProvider(ProviderName, Factory{})
}

// NewRuntime creates a runtime that resolves install locations through connector.
func (Factory) NewRuntime(props map[string]string, connector framework.ModuleConnector) (framework.Runtime, error) {
	return New(props, connector)
}

// New creates a runtime. It is exported for callers that need the concrete type.
func New(props map[string]string, connector framework.ModuleConnector) (*Runtime, error) {
	if connector == nil {
		return nil, errors.New("embedded runtime requires a module connector")
	}
	return &Runtime{
		props:      maps.Clone(props),
		connector:  connector,
		lc:         newLifecycle(),
		services:   framework.NewServiceRegistry(),
		byLocation: make(map[string]*module),
		unresolved: make(map[*module]error),
	}, nil
}

// State returns the runtime lifecycle state.
func (r *Runtime) State() State {
	return r.lc.current()
}

// Err returns the error that failed the runtime, or nil.
func (r *Runtime) Err() error {
	return r.lc.lastError()
}

// StartLevel returns the beginning start level property, or 1.
func (r *Runtime) StartLevel() int {
	if n, err := strconv.Atoi(r.props[framework.PropBeginningStartLevel]); err == nil && n > 0 {
		return n
	}
	return defaultStartLevel
}

// Init installs the system module and registers listeners. It may only be
// called before Start.
func (r *Runtime) Init(listeners ...framework.Listener) error {
	if s := r.lc.current(); s != StateCreated {
		return fmt.Errorf("cannot init runtime in state %s", s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listeners...)
	if len(r.modules) > 0 {
		return nil
	}

	sys, ok := r.connector.Connect(framework.SystemModuleLocation)
	if !ok {
		sys = content.NewSystem(map[string]string{
			manifest.HeaderSymbolicName: systemSymbolicName,
			manifest.HeaderVersion:      "0.0.0",
		}, nil)
	}
	m := newModule(r, framework.SystemModuleID, framework.SystemModuleLocation, sys)
	r.system = m
	r.modules = append(r.modules, m)
	r.byLocation[m.location] = m
	r.nextID = framework.SystemModuleID + 1
	return nil
}

// Start creates the storage directory, resolves installed modules and
// activates the system module. Unresolvable modules are reported as error
// events and stay installed.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.ensureInit(); err != nil {
		return err
	}
	if err := r.lc.toStarting(ctx); err != nil {
		return err
	}

	if dir := r.props[framework.PropStorage]; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			err = fmt.Errorf("create runtime storage %s: %w", dir, err)
			r.lc.toFailed(err)
			return err
		}
	}

	r.mu.RLock()
	installed := slices.Clone(r.modules[1:])
	system := r.system
	r.mu.RUnlock()

	candidates := make([]*module, 0, len(installed))
	for _, m := range installed {
		if m.State() == framework.StateInstalled {
			candidates = append(candidates, m)
		}
	}
	res := resolve(candidates, nil)

	r.mu.Lock()
	for m, err := range res.unresolved {
		r.unresolved[m] = err
	}
	r.mu.Unlock()

	for _, m := range res.order {
		m.setState(framework.StateResolved)
	}
	system.setState(framework.StateActive)

	if !r.lc.toRunning() {
		return fmt.Errorf("runtime left starting state early: %s", r.lc.current())
	}

	for _, m := range candidates {
		if err, ok := res.unresolved[m]; ok {
			r.publish(framework.Event{Type: framework.EventError, Module: m, Err: err})
		}
	}
	r.publish(framework.Event{Type: framework.EventStarted, Module: system})
	return nil
}

// Stop begins shutdown in the background: active modules stop in reverse
// start order, services are withdrawn and every module content is closed.
func (r *Runtime) Stop() error {
	if !r.lc.toStopping() {
		return nil
	}

	r.lc.wg.Add(1)
	go func() {
		defer r.lc.wg.Done()
		r.shutdown()
	}()
	return nil
}

// WaitForStop blocks until shutdown completes or ctx is done.
func (r *Runtime) WaitForStop(ctx context.Context) error {
	return r.lc.waitStopped(ctx)
}

// Context returns the runtime itself.
func (r *Runtime) Context() framework.Context {
	return r
}

func (r *Runtime) shutdown() {
	r.mu.RLock()
	started := slices.Clone(r.started)
	modules := slices.Clone(r.modules)
	system := r.system
	r.mu.RUnlock()

	var errs []error
	for _, m := range slices.Backward(started) {
		if err := m.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	r.services.Clear()
	for _, m := range modules {
		if err := m.content.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	system.setState(framework.StateResolved)

	for _, err := range errs {
		r.publish(framework.Event{Type: framework.EventError, Err: err})
	}
	r.lc.toStopped()
	r.publish(framework.Event{Type: framework.EventStopped, Module: system})
}

func (r *Runtime) ensureInit() error {
	r.mu.RLock()
	initialized := len(r.modules) > 0
	r.mu.RUnlock()
	if initialized {
		return nil
	}
	return r.Init()
}

func (r *Runtime) markStarted(m *module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.started, m) {
		r.started = append(r.started, m)
	}
}

func (r *Runtime) unresolvedErr(m *module) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unresolved[m]
}

func (r *Runtime) publish(ev framework.Event) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		l.FrameworkEvent(ev)
	}
}

// Install installs the module the connector holds for location. Installing
// a location twice returns the existing module. Modules installed into a
// running runtime are resolved immediately.
func (r *Runtime) Install(location string) (framework.Module, error) {
	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	if r.lc.current().IsTerminal() {
		return nil, fmt.Errorf("install %s: runtime is %s", location, r.lc.current())
	}

	r.mu.Lock()
	if m, ok := r.byLocation[location]; ok {
		r.mu.Unlock()
		return m, nil
	}
	c, ok := r.connector.Connect(location)
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("install %s: %w", location, framework.ErrUnknownLocation)
	}
	if manifest.SymbolicName(c.Headers()) == "" {
		r.mu.Unlock()
		return nil, fmt.Errorf("install %s: %w", location, ErrMissingSymbolicName)
	}

	m := newModule(r, r.nextID, location, c)
	r.nextID++
	r.modules = append(r.modules, m)
	r.byLocation[location] = m
	r.mu.Unlock()

	if r.lc.current() == StateRunning {
		r.resolveLate(m)
	}
	return m, nil
}

func (r *Runtime) resolveLate(m *module) {
	r.mu.RLock()
	var available []*module
	for _, other := range r.modules[1:] {
		if other != m {
			available = append(available, other)
		}
	}
	r.mu.RUnlock()

	resolved := make([]*module, 0, len(available))
	for _, other := range available {
		if s := other.State(); s != framework.StateInstalled && s != framework.StateUninstalled {
			resolved = append(resolved, other)
		}
	}

	res := resolve([]*module{m}, resolved)
	if err, ok := res.unresolved[m]; ok {
		r.mu.Lock()
		r.unresolved[m] = err
		r.mu.Unlock()
		r.publish(framework.Event{Type: framework.EventError, Module: m, Err: err})
		return
	}
	m.setState(framework.StateResolved)
}

// Property returns a runtime property.
func (r *Runtime) Property(key string) string {
	return r.props[key]
}

// Modules returns every installed module ordered by id.
func (r *Runtime) Modules() []framework.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]framework.Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}

// Module looks up a module by id.
func (r *Runtime) Module(id int64) (framework.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.id == id {
			return m, true
		}
	}
	return nil, false
}

// ModuleByLocation looks up a module by install location.
func (r *Runtime) ModuleByLocation(location string) (framework.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byLocation[location]
	if !ok {
		return nil, false
	}
	return m, true
}

// RegisterService publishes svc on behalf of the system module.
func (r *Runtime) RegisterService(typ reflect.Type, svc any, props map[string]any) (*framework.ServiceRegistration, error) {
	if s := r.lc.current(); s.IsTerminal() || s == StateStopping {
		return nil, fmt.Errorf("register %s: %w", typ, framework.ErrNotRunning)
	}
	if err := r.ensureInit(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	system := r.system
	r.mu.RUnlock()
	return r.services.Register(typ, svc, props, system)
}

// References returns live references for typ that match filter.
func (r *Runtime) References(typ reflect.Type, filter framework.Filter) []*framework.ServiceReference {
	return r.services.References(typ, filter)
}

// Service returns the service behind ref.
func (r *Runtime) Service(ref *framework.ServiceReference) (any, bool) {
	return r.services.Service(ref)
}

// AddServiceListener subscribes l to service events for typ.
func (r *Runtime) AddServiceListener(typ reflect.Type, l framework.ServiceListener) func() {
	return r.services.AddListener(typ, l)
}

// AddListener subscribes l to framework events.
func (r *Runtime) AddListener(l framework.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Services returns every published service reference.
func (r *Runtime) Services() []*framework.ServiceReference {
	return r.services.All()
}

var (
	_ framework.Factory = Factory{}
	_ framework.Runtime = (*Runtime)(nil)
	_ framework.Context = (*Runtime)(nil)
	_ framework.Module  = (*module)(nil)
)
