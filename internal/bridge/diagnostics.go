// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/realmbridge/internal/framework"
)

// serviceLister is implemented by contexts that can list every service.
type serviceLister interface {
	Services() []*framework.ServiceReference
}

// logDiagnostics writes the runtime's modules and services at info level.
func (b *Bridge) logDiagnostics() {
	ctx := b.runtime.Context()

	modules := ctx.Modules()
	slices.SortStableFunc(modules, func(x, y framework.Module) int {
		if c := cmp.Compare(x.State(), y.State()); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(x.SymbolicName()), strings.ToLower(y.SymbolicName()))
	})
	b.Info("============ Runtime Modules ==================", nil)
	for _, m := range modules {
		b.Info(fmt.Sprintf("%-11s | %s %s", m.State(), m.SymbolicName(), m.Version()), nil)
	}

	lister, ok := ctx.(serviceLister)
	if !ok {
		return
	}
	refs := lister.Services()
	if len(refs) == 0 {
		b.Info("No services registered in this runtime!", nil)
		return
	}
	b.Info("============ Runtime Services ==================", nil)
	for _, ref := range refs {
		owner := "-"
		if m := ref.Module(); m != nil {
			owner = m.SymbolicName()
		}
		b.Info(fmt.Sprintf("%5d | %s | %s", ref.ID(), ref.Type(), owner), nil)
	}
}
