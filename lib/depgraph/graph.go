// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package depgraph maintains the in-memory dependency graph between
// tracked assets. The graph is rebuilt from source records at startup
// and updated edge-by-edge as imports and builds discover new
// references. It answers the two questions the scheduler asks: "whose
// output does this asset consume?" (forward edges, for fingerprint
// assembly) and "who consumes this asset's output?" (reverse edges,
// for invalidation). It also detects dependency cycles so cyclic
// assets can be failed without poisoning the rest of the library.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bfpipe/bfpipe/lib/asset"
)

// Graph is a concurrency-safe dependency graph over asset IDs.
// Edges point from a dependent asset to the assets it consumes.
// The zero value is not usable; call New.
type Graph struct {
	mu sync.RWMutex

	// forward[a] is the set of assets a depends on.
	forward map[asset.ID]map[asset.ID]struct{}
	// reverse[a] is the set of assets that depend on a.
	reverse map[asset.ID]map[asset.ID]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		forward: make(map[asset.ID]map[asset.ID]struct{}),
		reverse: make(map[asset.ID]map[asset.ID]struct{}),
	}
}

// SetDependencies replaces the outgoing edges of id with deps,
// dropping edges no longer present. Dependencies need not be known to
// the graph yet: an edge to a not-yet-imported asset is legal and
// starts resolving once that asset appears. Self-edges are ignored.
func (g *Graph) SetDependencies(id asset.ID, deps []asset.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for dep := range g.forward[id] {
		delete(g.reverse[dep], id)
		if len(g.reverse[dep]) == 0 {
			delete(g.reverse, dep)
		}
	}
	delete(g.forward, id)

	if len(deps) == 0 {
		return
	}
	edges := make(map[asset.ID]struct{}, len(deps))
	for _, dep := range deps {
		if dep == id {
			continue
		}
		edges[dep] = struct{}{}
		if g.reverse[dep] == nil {
			g.reverse[dep] = make(map[asset.ID]struct{})
		}
		g.reverse[dep][id] = struct{}{}
	}
	if len(edges) > 0 {
		g.forward[id] = edges
	}
}

// Remove deletes id and all edges touching it, in both directions.
// Dependents keep their other edges; an asset that depended on id
// simply loses that input.
func (g *Graph) Remove(id asset.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for dep := range g.forward[id] {
		delete(g.reverse[dep], id)
		if len(g.reverse[dep]) == 0 {
			delete(g.reverse, dep)
		}
	}
	delete(g.forward, id)

	for dependent := range g.reverse[id] {
		delete(g.forward[dependent], id)
		if len(g.forward[dependent]) == 0 {
			delete(g.forward, dependent)
		}
	}
	delete(g.reverse, id)
}

// Dependencies returns the assets id directly depends on, sorted for
// deterministic iteration. Returns nil for an asset with no edges.
func (g *Graph) Dependencies(id asset.ID) []asset.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.forward[id])
}

// Dependents returns the assets that directly depend on id, sorted.
func (g *Graph) Dependents(id asset.ID) []asset.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reverse[id])
}

// TransitiveDependents returns every asset whose build transitively
// consumes id's output, excluding id itself. This is the invalidation
// set: when id's output hash changes, every returned asset is stale.
func (g *Graph) TransitiveDependents(id asset.ID) []asset.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[asset.ID]struct{}{id: {}}
	stack := []asset.ID{id}
	var result []asset.ID
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dependent := range g.reverse[current] {
			if _, ok := seen[dependent]; ok {
				continue
			}
			seen[dependent] = struct{}{}
			result = append(result, dependent)
			stack = append(stack, dependent)
		}
	}
	sortIDs(result)
	return result
}

// CycleError reports a dependency cycle, carrying the members in
// path order starting from the smallest ID on the cycle.
type CycleError struct {
	Members []asset.ID
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Members)+1)
	for _, id := range e.Members {
		parts = append(parts, id.String())
	}
	if len(e.Members) > 0 {
		parts = append(parts, e.Members[0].String())
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// CycleMembers returns the set of assets that sit on at least one
// dependency cycle. Assets that merely depend on a cyclic asset are
// not included: they stay buildable and fail only through their
// dependency's error, not through a cycle verdict of their own.
func (g *Graph) CycleMembers() map[asset.ID]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := make(map[asset.ID]struct{})
	for _, component := range g.stronglyConnected() {
		if len(component) > 1 {
			for _, id := range component {
				members[id] = struct{}{}
			}
			continue
		}
		// A single node is on a cycle only via a self-edge, which
		// SetDependencies filters out. Nothing to record.
	}
	return members
}

// CycleOn returns a CycleError if id sits on a dependency cycle, or
// nil if its subgraph is acyclic.
func (g *Graph) CycleOn(id asset.ID) *CycleError {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, component := range g.stronglyConnected() {
		if len(component) < 2 {
			continue
		}
		for _, member := range component {
			if member == id {
				sortIDs(component)
				return &CycleError{Members: component}
			}
		}
	}
	return nil
}

// stronglyConnected computes the strongly connected components of the
// forward graph with Tarjan's algorithm, iteratively to stay safe on
// deep chains. Callers hold at least the read lock.
func (g *Graph) stronglyConnected() [][]asset.ID {
	type nodeState struct {
		index   int
		lowlink int
		onStack bool
	}
	states := make(map[asset.ID]*nodeState, len(g.forward))
	var (
		nextIndex  int
		tarjan     []asset.ID
		components [][]asset.ID
	)

	type frame struct {
		id    asset.ID
		edges []asset.ID
		next  int
	}

	visit := func(root asset.ID) {
		stack := []frame{{id: root, edges: sortedKeys(g.forward[root])}}
		states[root] = &nodeState{index: nextIndex, lowlink: nextIndex, onStack: true}
		nextIndex++
		tarjan = append(tarjan, root)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			state := states[top.id]

			advanced := false
			for top.next < len(top.edges) {
				dep := top.edges[top.next]
				top.next++
				depState, ok := states[dep]
				if !ok {
					states[dep] = &nodeState{index: nextIndex, lowlink: nextIndex, onStack: true}
					nextIndex++
					tarjan = append(tarjan, dep)
					stack = append(stack, frame{id: dep, edges: sortedKeys(g.forward[dep])})
					advanced = true
					break
				}
				if depState.onStack && depState.lowlink < state.lowlink {
					state.lowlink = depState.lowlink
				}
			}
			if advanced {
				continue
			}

			if state.lowlink == state.index {
				var component []asset.ID
				for {
					member := tarjan[len(tarjan)-1]
					tarjan = tarjan[:len(tarjan)-1]
					states[member].onStack = false
					component = append(component, member)
					if member == top.id {
						break
					}
				}
				components = append(components, component)
			}

			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := states[stack[len(stack)-1].id]
				if state.lowlink < parent.lowlink {
					parent.lowlink = state.lowlink
				}
			}
		}
	}

	for id := range g.forward {
		if _, ok := states[id]; !ok {
			visit(id)
		}
	}
	return components
}

func sortedKeys(set map[asset.ID]struct{}) []asset.ID {
	if len(set) == 0 {
		return nil
	}
	keys := make([]asset.ID, 0, len(set))
	for id := range set {
		keys = append(keys, id)
	}
	sortIDs(keys)
	return keys
}

func sortIDs(ids []asset.ID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}
