// SPDX-License-Identifier: MPL-2.0

package connector

import (
	"slices"
	"strings"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"
)

// RealmModulePrefix starts the identifier of every realm module.
const RealmModulePrefix = "realmbridge.realm."

var realmIDReplacer = strings.NewReplacer(">", ".", ":", ".")

// RealmModuleID returns the identifier of the module standing in for the
// realm with the given id. It doubles as the module's install location.
func RealmModuleID(realmID string) string {
	return RealmModulePrefix + realmIDReplacer.Replace(realmID)
}

// RealmHeaders returns the headers of the module standing in for r. The
// module exports the packages on the realm's own classpath and requires the
// modules of the realms it imports.
func RealmHeaders(r *realm.Realm) map[string]string {
	headers := map[string]string{
		manifest.HeaderManifestVersion:       "1.0",
		manifest.HeaderBundleManifestVersion: "2",
		manifest.HeaderSymbolicName:          RealmModuleID(r.ID()),
		manifest.HeaderVersion:               "1.0.0",
		manifest.HeaderName:                  "realm " + r.ID(),
	}
	if pkgs := r.Packages(); len(pkgs) > 0 {
		headers[manifest.HeaderExportPackage] = strings.Join(pkgs, ",")
	}
	if imports := r.Imports(); len(imports) > 0 {
		required := make([]string, 0, len(imports))
		for _, imp := range imports {
			required = append(required, RealmModuleID(imp.ID()))
		}
		headers[manifest.HeaderRequireBundle] = strings.Join(required, ",")
	}
	return headers
}

// installRealms installs one realm module per domain, imported and parent
// realms before the realms that reach them. Realms installed by an earlier
// call are skipped.
func (c *Connector) installRealms(domains []*realm.Realm, installer framework.Installer) {
	for _, r := range slices.Backward(domains) {
		c.mu.RLock()
		_, known := c.realms[r.ID()]
		c.mu.RUnlock()
		if known {
			continue
		}

		headers := RealmHeaders(r)
		location := RealmModuleID(r.ID())
		m := InstalledModule{
			ID:       location,
			Location: location,
			Realm:    r.ID(),
			Content:  content.NewSystem(headers, r),
		}

		c.mu.Lock()
		c.contents[location] = m.Content
		c.mu.Unlock()

		c.logger.Debug("installing realm module", "module", m.ID, "realm", r.ID(),
			"exports", headers[manifest.HeaderExportPackage], "requires", headers[manifest.HeaderRequireBundle])
		mod, err := installer.Install(location)
		if err != nil {
			c.logger.Warn("cannot install realm module", "module", m.ID, "realm", r.ID(), "error", err)
			c.mu.Lock()
			delete(c.contents, location)
			c.stats.Failures++
			c.mu.Unlock()
			continue
		}
		m.Module = mod

		c.mu.Lock()
		c.realms[r.ID()] = m
		c.stats.Realms++
		c.mu.Unlock()
	}
}

// RealmModule returns the module standing in for the realm with the given id.
func (c *Connector) RealmModule(realmID string) (InstalledModule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.realms[realmID]
	return m, ok
}

// RealmModules returns the installed realm modules sorted by identifier.
func (c *Connector) RealmModules() []InstalledModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]InstalledModule, 0, len(c.realms))
	for _, m := range c.realms {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b InstalledModule) int { return strings.Compare(a.ID, b.ID) })
	return out
}
