// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/realmbridge/internal/manifest"
)

var (
	// ErrUnresolved is the sentinel error wrapped by UnresolvedError.
	ErrUnresolved = errors.New("module not resolved")
	// ErrRequirementCycle is the sentinel error wrapped by CycleError.
	ErrRequirementCycle = errors.New("require-bundle cycle")
)

type (
	// UnresolvedError reports a module whose required modules are missing.
	// It wraps ErrUnresolved for errors.Is() compatibility.
	UnresolvedError struct {
		Module  string
		Missing []string
	}

	// CycleError indicates that Require-Bundle headers form a cycle.
	// It wraps ErrRequirementCycle for errors.Is() compatibility.
	CycleError struct {
		// Cycle contains the modules left over once every acyclic module
		// was ordered.
		Cycle []string
	}

	// requirementGraph orders modules so that required modules come first.
	// An edge from A to B means A must be resolved before B.
	requirementGraph struct {
		adjacency map[int64][]int64
		// nodes tracks all modules in insertion order for deterministic output.
		nodes   []*module
		nodeSet map[int64]bool
	}

	// resolution is the outcome of resolving a set of modules.
	resolution struct {
		order      []*module
		unresolved map[*module]error
	}
)

// Error implements the error interface for UnresolvedError.
func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("module %s is missing required modules: %s", e.Module, strings.Join(e.Missing, ", "))
}

// Unwrap returns ErrUnresolved for errors.Is() compatibility.
func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

func (e *CycleError) Error() string {
	return fmt.Sprintf("require-bundle cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrRequirementCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrRequirementCycle }

func newRequirementGraph() *requirementGraph {
	return &requirementGraph{
		adjacency: make(map[int64][]int64),
		nodeSet:   make(map[int64]bool),
	}
}

func (g *requirementGraph) addNode(m *module) {
	if g.nodeSet[m.id] {
		return
	}
	g.nodeSet[m.id] = true
	g.nodes = append(g.nodes, m)
}

func (g *requirementGraph) addEdge(from, to *module) {
	g.addNode(from)
	g.addNode(to)
	g.adjacency[from.id] = append(g.adjacency[from.id], to.id)
}

// sort returns a valid resolution order using Kahn's algorithm. Modules at
// the same level keep insertion order. Modules on or behind a cycle are
// returned in the CycleError.
func (g *requirementGraph) sort() ([]*module, *CycleError) {
	inDegree := make(map[int64]int, len(g.nodes))
	byID := make(map[int64]*module, len(g.nodes))
	for _, m := range g.nodes {
		inDegree[m.id] = 0
		byID[m.id] = m
	}
	for _, neighbors := range g.adjacency {
		for _, n := range neighbors {
			inDegree[n]++
		}
	}

	queue := make([]int64, 0)
	for _, m := range g.nodes {
		if inDegree[m.id] == 0 {
			queue = append(queue, m.id)
		}
	}

	var result []*module
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, byID[id])

		for _, n := range g.adjacency[id] {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}

	if len(result) == len(g.nodes) {
		return result, nil
	}
	var cycle []string
	for _, m := range g.nodes {
		if inDegree[m.id] > 0 {
			cycle = append(cycle, m.SymbolicName())
		}
	}
	return result, &CycleError{Cycle: cycle}
}

// resolve orders modules by their Require-Bundle headers. available lists
// modules resolved earlier that may satisfy requirements. A module whose
// mandatory requirements are missing, or that depends on such a module, stays
// unresolved; so do modules caught in a requirement cycle.
func resolve(modules, available []*module) resolution {
	res := resolution{unresolved: make(map[*module]error)}

	bySymbolicName := make(map[string]*module, len(modules)+len(available))
	for _, m := range slices.Concat(available, modules) {
		if _, exists := bySymbolicName[m.SymbolicName()]; !exists {
			bySymbolicName[m.SymbolicName()] = m
		}
	}

	// Missing requirements propagate to dependants until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, m := range modules {
			if res.unresolved[m] != nil {
				continue
			}
			var missing []string
			for _, req := range manifest.RequiredBundles(m.headers) {
				dep, ok := bySymbolicName[req]
				if (!ok || res.unresolved[dep] != nil) && !manifest.IsOptional(m.headers, req) {
					missing = append(missing, req)
				}
			}
			if len(missing) > 0 {
				res.unresolved[m] = &UnresolvedError{Module: m.SymbolicName(), Missing: missing}
				changed = true
			}
		}
	}

	g := newRequirementGraph()
	for _, m := range modules {
		if res.unresolved[m] == nil {
			g.addNode(m)
		}
	}
	for _, m := range modules {
		if res.unresolved[m] != nil {
			continue
		}
		for _, req := range manifest.RequiredBundles(m.headers) {
			dep, ok := bySymbolicName[req]
			if ok && dep != m && g.nodeSet[dep.id] {
				g.addEdge(dep, m)
			}
		}
	}

	order, cycleErr := g.sort()
	res.order = order
	if cycleErr != nil {
		ordered := make(map[*module]bool, len(order))
		for _, m := range order {
			ordered[m] = true
		}
		for _, m := range g.nodes {
			if !ordered[m] {
				res.unresolved[m] = cycleErr
			}
		}
	}
	return res
}
