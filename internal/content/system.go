// SPDX-License-Identifier: MPL-2.0

package content

import (
	"maps"

	"github.com/invowk/realmbridge/internal/realm"
)

// System is content without an archive. It backs the runtime's system module,
// whose classes come straight from the embedding loader.
type System struct {
	headers map[string]string
	loader  realm.Loader
}

// NewSystem creates archive-less content with fixed headers.
func NewSystem(headers map[string]string, loader realm.Loader) *System {
	return &System{headers: maps.Clone(headers), loader: loader}
}

// Entries always returns an empty listing.
func (s *System) Entries() ([]string, error) { return nil, nil }

// Entry never finds anything.
func (s *System) Entry(string) (Entry, bool) { return nil, false }

// Headers returns a copy of the fixed headers.
func (s *System) Headers() map[string]string { return maps.Clone(s.headers) }

// Open is a no-op.
func (s *System) Open() error { return nil }

// Close is a no-op.
func (s *System) Close() error { return nil }

// Loader returns the embedding loader.
func (s *System) Loader() realm.Loader { return s.loader }

var (
	_ Content = (*Archive)(nil)
	_ Content = (*System)(nil)
)
