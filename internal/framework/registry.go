// SPDX-License-Identifier: MPL-2.0

package framework

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Service property keys maintained by the registry.
const (
	PropServiceID      = "service.id"
	PropServiceRanking = "service.ranking"
	PropObjectClass    = "objectClass"
)

// Service event types.
const (
	ServiceRegistered ServiceEventType = iota + 1
	ServiceModified
	ServiceUnregistering
)

var (
	// ErrInvalidService is returned when a service does not implement its declared type.
	ErrInvalidService = errors.New("invalid service")
	// ErrUnregistered is returned when using a registration after Unregister.
	ErrUnregistered = errors.New("service already unregistered")
)

type (
	// ServiceRegistry holds published services. Runtimes embed one and expose
	// it through their Context. It is safe for concurrent use.
	ServiceRegistry struct {
		mu        sync.RWMutex
		nextID    int64
		services  map[int64]*serviceEntry
		listeners map[reflect.Type]map[int64]ServiceListener
		nextLisID int64
	}

	serviceEntry struct {
		ref *ServiceReference
		svc any
	}

	// ServiceReference identifies a published service and carries its properties.
	ServiceReference struct {
		id     int64
		typ    reflect.Type
		module Module

		mu    sync.RWMutex
		props map[string]any
	}

	// ServiceRegistration is the publisher's handle to a service.
	ServiceRegistration struct {
		registry *ServiceRegistry
		ref      *ServiceReference
	}

	// ServiceEventType classifies a service event.
	ServiceEventType int

	// ServiceEvent reports a change to a published service.
	ServiceEvent struct {
		Type ServiceEventType
		Ref  *ServiceReference
	}

	// ServiceListener receives service events.
	ServiceListener interface {
		ServiceChanged(ev ServiceEvent)
	}

	// ServiceListenerFunc adapts a function to ServiceListener.
	ServiceListenerFunc func(ev ServiceEvent)
)

// ServiceChanged calls f(ev).
func (f ServiceListenerFunc) ServiceChanged(ev ServiceEvent) { f(ev) }

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services:  make(map[int64]*serviceEntry),
		listeners: make(map[reflect.Type]map[int64]ServiceListener),
	}
}

// Register publishes svc under typ on behalf of module. The registry assigns
// service.id and objectClass; any caller-supplied values for them are replaced.
func (r *ServiceRegistry) Register(typ reflect.Type, svc any, props map[string]any, module Module) (*ServiceRegistration, error) {
	if typ == nil {
		return nil, fmt.Errorf("%w: nil service type", ErrInvalidService)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: nil %s service", ErrInvalidService, typ)
	}
	if !reflect.TypeOf(svc).AssignableTo(typ) {
		return nil, fmt.Errorf("%w: %T is not assignable to %s", ErrInvalidService, svc, typ)
	}

	r.mu.Lock()
	r.nextID++
	ref := &ServiceReference{
		id:     r.nextID,
		typ:    typ,
		module: module,
		props:  maps.Clone(props),
	}
	if ref.props == nil {
		ref.props = make(map[string]any)
	}
	ref.props[PropServiceID] = ref.id
	ref.props[PropObjectClass] = typ.String()
	r.services[ref.id] = &serviceEntry{ref: ref, svc: svc}
	listeners := r.listenersFor(typ)
	r.mu.Unlock()

	notify(listeners, ServiceEvent{Type: ServiceRegistered, Ref: ref})
	return &ServiceRegistration{registry: r, ref: ref}, nil
}

// References returns live references for typ that match filter, best first.
func (r *ServiceRegistry) References(typ reflect.Type, filter Filter) []*ServiceReference {
	r.mu.RLock()
	var refs []*ServiceReference
	for _, entry := range r.services {
		if entry.ref.typ != typ {
			continue
		}
		if filter != nil && !filter.Match(entry.ref.Properties()) {
			continue
		}
		refs = append(refs, entry.ref)
	}
	r.mu.RUnlock()

	SortReferences(refs)
	return refs
}

// Service returns the service object behind ref, or false once unregistered.
func (r *ServiceRegistry) Service(ref *ServiceReference) (any, bool) {
	if ref == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[ref.id]
	if !ok {
		return nil, false
	}
	return entry.svc, true
}

// AddListener subscribes l to events for typ. The returned function removes
// the subscription and may be called more than once.
func (r *ServiceRegistry) AddListener(typ reflect.Type, l ServiceListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextLisID++
	id := r.nextLisID
	if r.listeners[typ] == nil {
		r.listeners[typ] = make(map[int64]ServiceListener)
	}
	r.listeners[typ][id] = l

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners[typ], id)
	}
}

// Len returns the number of published services.
func (r *ServiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// All returns every live reference, best first within each type.
func (r *ServiceRegistry) All() []*ServiceReference {
	r.mu.RLock()
	refs := make([]*ServiceReference, 0, len(r.services))
	for _, entry := range r.services {
		refs = append(refs, entry.ref)
	}
	r.mu.RUnlock()

	slices.SortFunc(refs, func(a, b *ServiceReference) int {
		if a.typ.String() != b.typ.String() {
			if a.typ.String() < b.typ.String() {
				return -1
			}
			return 1
		}
		return compareReferences(a, b)
	})
	return refs
}

// Clear unregisters every service.
func (r *ServiceRegistry) Clear() {
	for _, ref := range r.All() {
		_ = r.unregister(ref)
	}
}

// UnregisterModule unregisters every service published by module.
func (r *ServiceRegistry) UnregisterModule(module Module) {
	for _, ref := range r.All() {
		if ref.module == module {
			_ = r.unregister(ref)
		}
	}
}

func (r *ServiceRegistry) unregister(ref *ServiceReference) error {
	r.mu.RLock()
	_, ok := r.services[ref.id]
	listeners := r.listenersFor(ref.typ)
	r.mu.RUnlock()
	if !ok {
		return ErrUnregistered
	}

	notify(listeners, ServiceEvent{Type: ServiceUnregistering, Ref: ref})

	r.mu.Lock()
	delete(r.services, ref.id)
	r.mu.Unlock()
	return nil
}

// listenersFor snapshots the listeners for typ. Callers hold r.mu.
func (r *ServiceRegistry) listenersFor(typ reflect.Type) []ServiceListener {
	ids := slices.Sorted(maps.Keys(r.listeners[typ]))
	out := make([]ServiceListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.listeners[typ][id])
	}
	return out
}

func notify(listeners []ServiceListener, ev ServiceEvent) {
	for _, l := range listeners {
		l.ServiceChanged(ev)
	}
}

// Reference returns the registration's service reference.
func (s *ServiceRegistration) Reference() *ServiceReference {
	return s.ref
}

// SetProperties replaces the service properties. service.id and objectClass
// are preserved.
func (s *ServiceRegistration) SetProperties(props map[string]any) error {
	s.registry.mu.RLock()
	_, ok := s.registry.services[s.ref.id]
	listeners := s.registry.listenersFor(s.ref.typ)
	s.registry.mu.RUnlock()
	if !ok {
		return ErrUnregistered
	}

	next := maps.Clone(props)
	if next == nil {
		next = make(map[string]any)
	}
	next[PropServiceID] = s.ref.id
	next[PropObjectClass] = s.ref.typ.String()

	s.ref.mu.Lock()
	s.ref.props = next
	s.ref.mu.Unlock()

	notify(listeners, ServiceEvent{Type: ServiceModified, Ref: s.ref})
	return nil
}

// Unregister withdraws the service.
func (s *ServiceRegistration) Unregister() error {
	return s.registry.unregister(s.ref)
}

// ID returns the service id.
func (ref *ServiceReference) ID() int64 { return ref.id }

// Type returns the type the service was published under.
func (ref *ServiceReference) Type() reflect.Type { return ref.typ }

// Module returns the publishing module, or nil.
func (ref *ServiceReference) Module() Module { return ref.module }

// Properties returns a copy of the service properties.
func (ref *ServiceReference) Properties() map[string]any {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	return maps.Clone(ref.props)
}

// Property returns one service property.
func (ref *ServiceReference) Property(key string) (any, bool) {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	v, ok := ref.props[key]
	return v, ok
}

// Ranking returns service.ranking, or 0 when absent or not an integer.
func (ref *ServiceReference) Ranking() int64 {
	v, ok := ref.Property(PropServiceRanking)
	if !ok || v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	default:
		return 0
	}
}

// SortReferences orders refs best first: highest service.ranking, then
// lowest service.id.
func SortReferences(refs []*ServiceReference) {
	slices.SortFunc(refs, compareReferences)
}

func compareReferences(a, b *ServiceReference) int {
	ra, rb := a.Ranking(), b.Ranking()
	switch {
	case ra > rb:
		return -1
	case ra < rb:
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	default:
		return 0
	}
}
