// SPDX-License-Identifier: MPL-2.0

package framework

import (
	"reflect"
	"sync"
)

type (
	// Tracker follows the services published under one type. It stays
	// current as services come and go until Close is called.
	Tracker struct {
		ctx Context
		typ reflect.Type

		mu      sync.RWMutex
		tracked map[int64]*ServiceReference
		remove  func()
		closed  bool
	}

	// TrackedService pairs a reference with its service object.
	TrackedService struct {
		Ref     *ServiceReference
		Service any
	}
)

// OpenTracker starts tracking typ in ctx.
func OpenTracker(ctx Context, typ reflect.Type) *Tracker {
	t := &Tracker{
		ctx:     ctx,
		typ:     typ,
		tracked: make(map[int64]*ServiceReference),
	}
	t.remove = ctx.AddServiceListener(typ, ServiceListenerFunc(t.serviceChanged))
	for _, ref := range ctx.References(typ, nil) {
		t.add(ref)
	}
	return t
}

// Type returns the tracked type.
func (t *Tracker) Type() reflect.Type {
	return t.typ
}

// Service returns the best tracked service.
func (t *Tracker) Service() (any, bool) {
	tracked := t.Tracked()
	if len(tracked) == 0 {
		return nil, false
	}
	return tracked[0].Service, true
}

// Tracked returns the tracked services, best first. Services withdrawn
// since the last event are omitted.
func (t *Tracker) Tracked() []TrackedService {
	t.mu.RLock()
	refs := make([]*ServiceReference, 0, len(t.tracked))
	for _, ref := range t.tracked {
		refs = append(refs, ref)
	}
	t.mu.RUnlock()

	SortReferences(refs)
	out := make([]TrackedService, 0, len(refs))
	for _, ref := range refs {
		if svc, ok := t.ctx.Service(ref); ok {
			out = append(out, TrackedService{Ref: ref, Service: svc})
		}
	}
	return out
}

// Size returns the number of tracked services.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracked)
}

// Close stops tracking. Closing twice is a no-op.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.tracked = make(map[int64]*ServiceReference)
	remove := t.remove
	t.mu.Unlock()

	if remove != nil {
		remove()
	}
}

func (t *Tracker) serviceChanged(ev ServiceEvent) {
	switch ev.Type {
	case ServiceRegistered, ServiceModified:
		t.add(ev.Ref)
	case ServiceUnregistering:
		t.mu.Lock()
		delete(t.tracked, ev.Ref.ID())
		t.mu.Unlock()
	}
}

func (t *Tracker) add(ref *ServiceReference) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.tracked[ref.ID()] = ref
	}
}
