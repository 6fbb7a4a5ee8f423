// SPDX-License-Identifier: MPL-2.0

package content

import (
	"io"
	"time"

	"github.com/invowk/realmbridge/internal/realm"
)

type (
	// Content is the runtime-facing view of one module.
	//
	// Implementations are not safe for Close to run concurrently with
	// Entries or Entry; the runtime serializes access per module.
	Content interface {
		// Entries lists every path inside the module. When the backing
		// archive is not open it returns nil and a nil error, so a closed
		// archive cannot be told apart from an empty one. Reading an entry
		// of a closed archive fails with ErrNotOpen instead.
		Entries() ([]string, error)
		// Entry looks up a single path.
		Entry(path string) (Entry, bool)
		// Headers returns the module headers fixed at construction.
		Headers() map[string]string
		// Open (re-)opens the backing archive. Opening an open content is a no-op.
		Open() error
		// Close releases the backing archive. Closing a closed content is a no-op.
		Close() error
		// Loader returns the loader that serves classes for the module, or nil
		// when the module is isolated.
		Loader() realm.Loader
	}

	// Entry is a single file inside a module.
	Entry interface {
		Name() string
		ContentLength() int64
		LastModified() time.Time
		Open() (io.ReadCloser, error)
	}
)
