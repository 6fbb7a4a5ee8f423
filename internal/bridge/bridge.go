// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/invowk/realmbridge/internal/connector"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/charmbracelet/log"
)

// Bridge serves one running runtime. It is safe for concurrent use.
type Bridge struct {
	uuid      string
	realmID   string
	owner     string
	logger    *log.Logger
	runtime   framework.Runtime
	connector *connector.Connector
	storage   string
	self      realm.Loader

	mu       sync.Mutex
	trackers map[reflect.Type]*framework.Tracker
}

func newBridge(uuid, realmID, owner string, logger *log.Logger, rt framework.Runtime, conn *connector.Connector, storage string, self realm.Loader) *Bridge {
	return &Bridge{
		uuid:      uuid,
		realmID:   realmID,
		owner:     owner,
		logger:    logger,
		runtime:   rt,
		connector: conn,
		storage:   storage,
		self:      self,
		trackers:  make(map[reflect.Type]*framework.Tracker),
	}
}

// UUID returns the runtime's unique identifier.
func (b *Bridge) UUID() string { return b.uuid }

// RealmID returns the id of the loader the runtime was built for.
func (b *Bridge) RealmID() string { return b.realmID }

// Name describes the bridge for diagnostics.
func (b *Bridge) Name() string {
	return fmt.Sprintf("%s (realm = %s, registry = %s)", b.uuid, b.realmID, b.owner)
}

// String implements fmt.Stringer.
func (b *Bridge) String() string { return b.format("Bridge") }

// Runtime returns the underlying runtime.
func (b *Bridge) Runtime() framework.Runtime { return b.runtime }

// Connector returns the connector that serves module content to the runtime.
func (b *Bridge) Connector() *connector.Connector { return b.connector }

// Storage returns the runtime's storage directory.
func (b *Bridge) Storage() string { return b.storage }

func (b *Bridge) format(msg string) string {
	return fmt.Sprintf("[%s][%s] %s", b.uuid, b.realmID, msg)
}

func (b *Bridge) log(level log.Level, msg string, cause error) {
	if cause != nil {
		b.logger.Log(level, b.format(msg), "error", cause)
		return
	}
	b.logger.Log(level, b.format(msg))
}

// Debug logs msg at debug level with an optional cause.
func (b *Bridge) Debug(msg string, cause error) { b.log(log.DebugLevel, msg, cause) }

// Info logs msg at info level with an optional cause.
func (b *Bridge) Info(msg string, cause error) { b.log(log.InfoLevel, msg, cause) }

// Warn logs msg at warn level with an optional cause.
func (b *Bridge) Warn(msg string, cause error) { b.log(log.WarnLevel, msg, cause) }

// Error logs msg at error level with an optional cause.
func (b *Bridge) Error(msg string, cause error) { b.log(log.ErrorLevel, msg, cause) }

// IsDebugEnabled reports whether debug messages are written.
func (b *Bridge) IsDebugEnabled() bool { return b.logger.GetLevel() <= log.DebugLevel }

// IsInfoEnabled reports whether info messages are written.
func (b *Bridge) IsInfoEnabled() bool { return b.logger.GetLevel() <= log.InfoLevel }

// IsWarnEnabled reports whether warn messages are written.
func (b *Bridge) IsWarnEnabled() bool { return b.logger.GetLevel() <= log.WarnLevel }

// IsErrorEnabled reports whether error messages are written.
func (b *Bridge) IsErrorEnabled() bool { return b.logger.GetLevel() <= log.ErrorLevel }

// FrameworkEvent logs error events with the offending module. Other event
// types are ignored.
func (b *Bridge) FrameworkEvent(ev framework.Event) {
	if ev.Type != framework.EventError {
		return
	}
	msg := ev.Message
	if ev.Module != nil {
		msg = ev.Module.SymbolicName()
	}
	if msg == "" {
		msg = "runtime error"
	}
	b.Error(msg, ev.Err)
}

// tracker returns the cached tracker for typ, opening it on first use.
func (b *Bridge) tracker(typ reflect.Type) *framework.Tracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.trackers[typ]
	if !ok {
		t = framework.OpenTracker(b.runtime.Context(), typ)
		b.trackers[typ] = t
	}
	return t
}

// GetService returns a service published under typ. With an empty filter it
// returns the best ranked service; otherwise the first tracked service whose
// properties match. An unparsable filter returns an error wrapping
// framework.ErrInvalidFilter, a miss one wrapping framework.ErrServiceNotFound.
func (b *Bridge) GetService(typ reflect.Type, filter string) (any, error) {
	t := b.tracker(typ)

	if filter == "" {
		if svc, ok := t.Service(); ok {
			return svc, nil
		}
		return nil, &framework.ServiceNotFoundError{Type: typ}
	}

	f, err := framework.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	for _, ts := range t.Tracked() {
		if f.Match(ts.Ref.Properties()) {
			return ts.Service, nil
		}
	}
	return nil, &framework.ServiceNotFoundError{Type: typ, Filter: filter}
}

// RegisterService publishes svc under typ in the runtime.
func (b *Bridge) RegisterService(typ reflect.Type, svc any, props map[string]any) (*framework.ServiceRegistration, error) {
	return b.runtime.Context().RegisterService(typ, svc, props)
}

// GetBundle returns the module whose install location ends the class's code
// source. A class without a code source has no module. A class from a
// skipped singleton duplicate maps to the module installed under its name.
// A class defined by the bridge's own loader falls back to the system module,
// which may not be the module that really holds it. A class from a plain
// classpath entry of a realm maps to that realm's module.
func (b *Bridge) GetBundle(cls realm.Class) (framework.Module, bool) {
	if cls.CodeSource == "" {
		return nil, false
	}
	b.Debug(fmt.Sprintf("searching module for class %s and location %s", cls.Name, cls.CodeSource), nil)

	ctx := b.runtime.Context()
	for _, m := range ctx.Modules() {
		loc := m.Location()
		if loc != "" && strings.HasSuffix(cls.CodeSource, loc) {
			b.Debug(fmt.Sprintf("return module %s for location %s", m.SymbolicName(), cls.CodeSource), nil)
			return m, true
		}
	}
	path := strings.TrimSuffix(strings.TrimPrefix(cls.CodeSource, "file:"), "/")
	if m, ok := b.connector.ModuleAt(filepath.FromSlash(path)); ok {
		b.Debug(fmt.Sprintf("return module %s for singleton location %s", m.ID, cls.CodeSource), nil)
		return m.Module, true
	}
	if b.self != nil && cls.Loader == b.self {
		return ctx.Module(framework.SystemModuleID)
	}
	if r, ok := cls.Loader.(*realm.Realm); ok && slices.Contains(r.Classpath(), filepath.FromSlash(path)) {
		if m, ok := b.connector.RealmModule(r.ID()); ok {
			b.Debug(fmt.Sprintf("return realm module %s for location %s", m.ID, cls.CodeSource), nil)
			return m.Module, true
		}
	}
	b.Debug("no module matched for "+cls.CodeSource, nil)
	return nil, false
}

// closeTrackers closes and forgets every cached tracker.
func (b *Bridge) closeTrackers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, t := range b.trackers {
		t.Close()
		delete(b.trackers, typ)
	}
}

// dispose stops the runtime, waits up to ctx for it to finish and deletes
// its storage. Failures are logged and never returned.
func (b *Bridge) dispose(ctx context.Context) {
	b.closeTrackers()

	if err := b.runtime.Stop(); err != nil {
		b.Warn("stopping runtime failed", err)
	}
	if err := b.runtime.WaitForStop(ctx); err != nil {
		b.Warn("runtime did not stop in time", err)
	}
	if b.storage != "" {
		if err := os.RemoveAll(b.storage); err != nil {
			b.Warn("removing runtime storage failed", err)
		}
	}
	if err := b.connector.Close(); err != nil {
		b.Warn("closing module content failed", err)
	}
}
