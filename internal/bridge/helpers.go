// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"slices"
	"sync"

	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/realm"
)

// Helpers is the set of registries consulted for class to module lookups
// made outside any one runtime. Registries join it on Init and leave it on
// Dispose. It is safe for concurrent use.
type Helpers struct {
	mu         sync.RWMutex
	registries []*Registry
}

// NewHelpers creates an empty set.
func NewHelpers() *Helpers {
	return &Helpers{}
}

// Add adds r once.
func (h *Helpers) Add(r *Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !slices.Contains(h.registries, r) {
		h.registries = append(h.registries, r)
	}
}

// Remove removes r if present.
func (h *Helpers) Remove(r *Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registries = slices.DeleteFunc(h.registries, func(x *Registry) bool { return x == r })
}

// Registries returns the members in the order they were added.
func (h *Helpers) Registries() []*Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.registries)
}

// Bundle asks every runtime of every member for the module holding cls and
// returns the first answer.
func (h *Helpers) Bundle(cls realm.Class) (framework.Module, bool) {
	for _, r := range h.Registries() {
		for _, b := range r.Bridges() {
			if m, ok := b.GetBundle(cls); ok {
				return m, true
			}
		}
	}
	return nil, false
}
