// SPDX-License-Identifier: MPL-2.0

// Package framework defines the contract between the bridge and a pluggable
// module runtime, plus the pieces every runtime shares: the service registry,
// LDAP-style filters, service trackers and the provider registry used to
// discover runtime factories from a loader.
//
// A runtime never reads module files itself. It asks the ModuleConnector it
// was built with for the content registered at a location.
package framework
