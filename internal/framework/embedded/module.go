// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"fmt"
	"maps"
	"sync"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/manifest"
)

// module is an installed module. Its content is opened while the module is
// active and closed again when it stops.
type module struct {
	id       int64
	location string
	headers  manifest.Headers
	content  content.Content
	rt       *Runtime

	mu    sync.Mutex
	state framework.ModuleState
}

func newModule(rt *Runtime, id int64, location string, c content.Content) *module {
	return &module{
		id:       id,
		location: location,
		headers:  c.Headers(),
		content:  c,
		rt:       rt,
		state:    framework.StateInstalled,
	}
}

func (m *module) ID() int64 { return m.id }

func (m *module) SymbolicName() string { return manifest.SymbolicName(m.headers) }

func (m *module) Version() string { return manifest.Version(m.headers) }

func (m *module) Location() string { return m.location }

func (m *module) Headers() map[string]string { return maps.Clone(m.headers) }

func (m *module) State() framework.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *module) String() string {
	return fmt.Sprintf("%s [%d]", m.SymbolicName(), m.id)
}

// Content returns the module content.
func (m *module) Content() content.Content { return m.content }

func (m *module) setState(s framework.ModuleState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// Start activates a resolved module. Starting an active module is a no-op.
func (m *module) Start() error {
	if m.rt.lc.current() != StateRunning {
		return fmt.Errorf("start %s: %w", m, framework.ErrNotRunning)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case framework.StateActive:
		return nil
	case framework.StateInstalled:
		if err := m.rt.unresolvedErr(m); err != nil {
			return fmt.Errorf("start %s: %w", m, err)
		}
		return fmt.Errorf("start %s: %w", m, ErrUnresolved)
	case framework.StateResolved:
	default:
		return fmt.Errorf("cannot start %s in state %s", m, m.state)
	}

	m.state = framework.StateStarting
	if err := m.content.Open(); err != nil {
		m.state = framework.StateResolved
		return fmt.Errorf("start %s: %w", m, err)
	}
	m.state = framework.StateActive
	m.rt.markStarted(m)
	return nil
}

// Stop deactivates an active module and releases its content.
func (m *module) Stop() error {
	m.mu.Lock()
	if m.state != framework.StateActive {
		m.mu.Unlock()
		return nil
	}
	m.state = framework.StateStopping
	m.mu.Unlock()

	m.rt.services.UnregisterModule(m)
	err := m.content.Close()

	m.setState(framework.StateResolved)
	if err != nil {
		return fmt.Errorf("stop %s: %w", m, err)
	}
	return nil
}
