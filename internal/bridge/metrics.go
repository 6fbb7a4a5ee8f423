// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"github.com/invowk/realmbridge/internal/connector"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "realmbridge"

// Metrics counts runtime construction and module discovery.
type Metrics struct {
	runtimesCreated prometheus.Counter
	runtimesFailed  prometheus.Counter
	runtimesActive  prometheus.Gauge

	discoveryCandidates prometheus.Counter
	modulesInstalled    prometheus.Counter
	modulesDuplicate    prometheus.Counter
	modulesRejected     prometheus.Counter
	discoveryFailures   prometheus.Counter
	realmModules        prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runtimesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "created_total",
			Help:      "Total number of runtimes constructed and started",
		}),
		runtimesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "failed_total",
			Help:      "Total number of runtime constructions that failed",
		}),
		runtimesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "active",
			Help:      "Number of runtimes currently cached",
		}),
		discoveryCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "candidates_total",
			Help:      "Total number of module archives considered by discovery",
		}),
		modulesInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "installed_total",
			Help:      "Total number of modules installed by discovery",
		}),
		modulesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "duplicates_total",
			Help:      "Total number of archives dropped because their module id was already taken",
		}),
		modulesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "rejected_total",
			Help:      "Total number of modules filtered out by include and exclude patterns",
		}),
		discoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "failures_total",
			Help:      "Total number of unreadable archives, failed installs and failed enumerations",
		}),
		realmModules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "realm_modules_total",
			Help:      "Total number of modules installed to stand in for realms",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.runtimesCreated,
			m.runtimesFailed,
			m.runtimesActive,
			m.discoveryCandidates,
			m.modulesInstalled,
			m.modulesDuplicate,
			m.modulesRejected,
			m.discoveryFailures,
			m.realmModules,
		)
	}
	return m
}

func (m *Metrics) observeDiscovery(s connector.Stats) {
	m.discoveryCandidates.Add(float64(s.Candidates))
	m.modulesInstalled.Add(float64(s.Installed))
	m.modulesDuplicate.Add(float64(s.Duplicates))
	m.modulesRejected.Add(float64(s.Rejected))
	m.discoveryFailures.Add(float64(s.Failures))
	m.realmModules.Add(float64(s.Realms))
}
