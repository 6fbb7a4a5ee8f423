// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"errors"

	"github.com/invowk/realmbridge/internal/framework"
)

type (
	// Listener is notified once a runtime has started. A returned error
	// never aborts startup.
	Listener interface {
		AfterFrameworkStarted(b *Bridge) error
	}

	// ListenerFunc adapts a function to Listener.
	ListenerFunc func(b *Bridge) error
)

// AfterFrameworkStarted calls f(b).
func (f ListenerFunc) AfterFrameworkStarted(b *Bridge) error { return f(b) }

// notifyStarted runs every listener. A listener that could not find a
// service is logged at debug level, any other failure at warn level.
func notifyStarted(b *Bridge, listeners []Listener) {
	for _, l := range listeners {
		err := l.AfterFrameworkStarted(b)
		switch {
		case err == nil:
		case errors.Is(err, framework.ErrServiceNotFound):
			b.Debug("post-start listener skipped", err)
		default:
			b.Warn("post-start listener failed", err)
		}
	}
}
