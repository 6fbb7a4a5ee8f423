// SPDX-License-Identifier: MPL-2.0

package framework

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/invowk/realmbridge/internal/content"
)

// Property keys understood by every runtime.
const (
	// PropStorage is the directory the runtime may use for transient state.
	PropStorage = "framework.storage"
	// PropUseSystemProperties controls inheritance of process-level properties.
	PropUseSystemProperties = "framework.useSystemProperties"
	// PropParentLoader pins the parent delegation mode for module class loading.
	PropParentLoader = "framework.parentLoader"
	// PropBeginningStartLevel is the start level the runtime moves to on start.
	PropBeginningStartLevel = "framework.beginning.startlevel"
	// PropUUID is the runtime's unique identifier.
	PropUUID = "framework.uuid"

	// SystemModuleID is the identifier of the system module.
	SystemModuleID int64 = 0
	// SystemModuleLocation is the install location of the system module.
	SystemModuleLocation = "System Bundle"
)

// Module states, ordered by lifecycle.
const (
	StateUninstalled ModuleState = iota
	StateInstalled
	StateResolved
	StateStarting
	StateActive
	StateStopping
)

// Framework event types.
const (
	EventError EventType = iota + 1
	EventWarning
	EventInfo
	EventStarted
	EventStopped
)

var (
	// ErrServiceNotFound is returned when no service matches a lookup.
	ErrServiceNotFound = errors.New("service not found")
	// ErrUnknownLocation is returned when installing a location the connector does not know.
	ErrUnknownLocation = errors.New("unknown module location")
	// ErrNotRunning is returned by operations that need a started runtime.
	ErrNotRunning = errors.New("runtime not running")
	// ErrInvalidModuleState is returned when a ModuleState value is not recognized.
	ErrInvalidModuleState = errors.New("invalid module state")
)

type (
	// Factory creates runtimes. Implementations register themselves with
	// RegisterProvider and are found through DiscoverFactory.
	Factory interface {
		NewRuntime(props map[string]string, connector ModuleConnector) (Runtime, error)
	}

	// ModuleConnector resolves install locations to module content.
	ModuleConnector interface {
		Connect(location string) (content.Content, bool)
	}

	// Installer installs a module by location.
	Installer interface {
		Install(location string) (Module, error)
	}

	// Runtime is a module runtime instance.
	Runtime interface {
		// Init prepares the runtime and registers framework listeners.
		Init(listeners ...Listener) error
		// Start resolves installed modules and starts the runtime.
		Start(ctx context.Context) error
		// Stop begins shutdown. It does not wait for completion.
		Stop() error
		// WaitForStop blocks until shutdown has completed or ctx is done.
		WaitForStop(ctx context.Context) error
		// Context returns the runtime's module context.
		Context() Context
	}

	// Context is the handle to a runtime's modules and services.
	Context interface {
		Installer

		// Property returns a runtime property, or "" when unset.
		Property(key string) string
		// Modules returns every installed module ordered by id. Index 0 is the
		// system module.
		Modules() []Module
		// Module looks up a module by id.
		Module(id int64) (Module, bool)
		// ModuleByLocation looks up a module by install location.
		ModuleByLocation(location string) (Module, bool)

		// RegisterService publishes svc under typ.
		RegisterService(typ reflect.Type, svc any, props map[string]any) (*ServiceRegistration, error)
		// References returns the live references for typ matching filter.
		// A nil filter matches everything.
		References(typ reflect.Type, filter Filter) []*ServiceReference
		// Service returns the service object behind ref.
		Service(ref *ServiceReference) (any, bool)
		// AddServiceListener subscribes to service events for typ.
		AddServiceListener(typ reflect.Type, l ServiceListener) (remove func())

		// AddListener subscribes to framework events.
		AddListener(l Listener)
	}

	// Module is an installed module.
	Module interface {
		ID() int64
		SymbolicName() string
		Version() string
		Location() string
		State() ModuleState
		Headers() map[string]string
		Start() error
		Stop() error
	}

	// ModuleState is a module lifecycle state.
	ModuleState int

	// InvalidModuleStateError is returned when a ModuleState value is not recognized.
	// It wraps ErrInvalidModuleState for errors.Is() compatibility.
	InvalidModuleStateError struct {
		Value ModuleState
	}

	// EventType classifies a framework event.
	EventType int

	// Event is a framework event.
	Event struct {
		Type    EventType
		Module  Module
		Message string
		Err     error
	}

	// Listener receives framework events.
	Listener interface {
		FrameworkEvent(ev Event)
	}

	// ListenerFunc adapts a function to Listener.
	ListenerFunc func(ev Event)

	// ServiceNotFoundError reports a failed service lookup.
	// It wraps ErrServiceNotFound for errors.Is() compatibility.
	ServiceNotFoundError struct {
		Type   reflect.Type
		Filter string
	}
)

// FrameworkEvent calls f(ev).
func (f ListenerFunc) FrameworkEvent(ev Event) { f(ev) }

// String returns a human-readable representation of the module state.
func (s ModuleState) String() string {
	switch s {
	case StateUninstalled:
		return "UNINSTALLED"
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Validate returns nil if the state is one of the defined module states.
func (s ModuleState) Validate() error {
	if s < StateUninstalled || s > StateStopping {
		return &InvalidModuleStateError{Value: s}
	}
	return nil
}

// Error implements the error interface for InvalidModuleStateError.
func (e *InvalidModuleStateError) Error() string {
	return fmt.Sprintf("invalid module state %d", int(e.Value))
}

// Unwrap returns ErrInvalidModuleState for errors.Is() compatibility.
func (e *InvalidModuleStateError) Unwrap() error { return ErrInvalidModuleState }

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventError:
		return "ERROR"
	case EventWarning:
		return "WARNING"
	case EventInfo:
		return "INFO"
	case EventStarted:
		return "STARTED"
	case EventStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Error implements the error interface for ServiceNotFoundError.
func (e *ServiceNotFoundError) Error() string {
	if e.Filter != "" {
		return fmt.Sprintf("no %s service matching %s", e.Type, e.Filter)
	}
	return fmt.Sprintf("no %s service registered", e.Type)
}

// Unwrap returns ErrServiceNotFound for errors.Is() compatibility.
func (e *ServiceNotFoundError) Unwrap() error { return ErrServiceNotFound }
