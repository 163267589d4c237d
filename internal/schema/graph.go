package schema

import (
	"fmt"
	"sort"
	"strings"
)

// CyclicDependencyError reports a true dependency cycle among schema
// objects. Cycles are reported, never broken heuristically.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among schema objects: %s", strings.Join(e.Members, ", "))
}

// depGraph is an explicit directed graph over object identifiers: an arena
// of nodes with adjacency lists by index.
type depGraph struct {
	names []string
	index map[string]int
	adj   [][]int
	indeg []int
}

func newDepGraph() *depGraph {
	return &depGraph{index: make(map[string]int)}
}

// addNode registers a name and returns its index. Idempotent.
func (g *depGraph) addNode(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.names)
	g.names = append(g.names, name)
	g.index[name] = i
	g.adj = append(g.adj, nil)
	g.indeg = append(g.indeg, 0)
	return i
}

// addEdge records that `from` must be created before `to`.
// Edges to unknown nodes (e.g. FKs into another schema) are ignored.
func (g *depGraph) addEdge(from, to string) {
	fi, ok := g.index[from]
	if !ok {
		return
	}
	ti, ok := g.index[to]
	if !ok || fi == ti {
		return
	}
	for _, existing := range g.adj[fi] {
		if existing == ti {
			return
		}
	}
	g.adj[fi] = append(g.adj[fi], ti)
	g.indeg[ti]++
}

// topoSort returns node indices in dependency order (Kahn's algorithm).
// Residual unprocessed nodes are the members of a cycle and produce a
// *CyclicDependencyError.
func (g *depGraph) topoSort() ([]int, error) {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	var queue []int
	for i := range g.names {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	// Deterministic output regardless of insertion order.
	sort.Slice(queue, func(a, b int) bool { return g.names[queue[a]] < g.names[queue[b]] })

	order := make([]int, 0, len(g.names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var released []int
		for _, m := range g.adj[n] {
			indeg[m]--
			if indeg[m] == 0 {
				released = append(released, m)
			}
		}
		sort.Slice(released, func(a, b int) bool { return g.names[released[a]] < g.names[released[b]] })
		queue = append(queue, released...)
	}

	if len(order) != len(g.names) {
		var cycle []string
		for i, name := range g.names {
			if indeg[i] > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, &CyclicDependencyError{Members: cycle}
	}
	return order, nil
}

// levels groups node indices by dependency depth: level 0 has no
// prerequisites, level N+1 depends on something in level N. Used by the
// orchestrator to run independent tables in parallel while honoring
// foreign-key order.
func (g *depGraph) levels() ([][]int, error) {
	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}

	depth := make([]int, len(g.names))
	maxDepth := 0
	for _, n := range order {
		for _, m := range g.adj[n] {
			if depth[n]+1 > depth[m] {
				depth[m] = depth[n] + 1
			}
			if depth[m] > maxDepth {
				maxDepth = depth[m]
			}
		}
	}

	grouped := make([][]int, maxDepth+1)
	for _, n := range order {
		grouped[depth[n]] = append(grouped[depth[n]], n)
	}
	return grouped, nil
}
