// Package dag models a workflow's job dependency graph: nodes are job names,
// edges are requires relations from a job to its prerequisites.
package dag

import (
	"fmt"
	"strings"
)

// Graph is a dependency graph. Nodes keep insertion order so planning output
// is stable across runs.
type Graph struct {
	order []string
	deps  map[string][]string
	rdeps map[string][]string
}

func New() *Graph {
	return &Graph{
		deps:  make(map[string][]string),
		rdeps: make(map[string][]string),
	}
}

// Add registers a node and its prerequisites. Adding the same node twice is
// an error; prerequisites may be added before their own Add call.
func (g *Graph) Add(node string, requires ...string) error {
	if _, ok := g.deps[node]; ok {
		return fmt.Errorf("duplicate node %q", node)
	}
	g.order = append(g.order, node)
	g.deps[node] = append([]string(nil), requires...)
	for _, req := range requires {
		g.rdeps[req] = append(g.rdeps[req], node)
	}
	return nil
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Requires returns the direct prerequisites of a node.
func (g *Graph) Requires(node string) []string {
	return append([]string(nil), g.deps[node]...)
}

// Validate checks that every edge points at a known node and that the graph
// has no cycle. A cycle error names the nodes along the cycle.
func (g *Graph) Validate() error {
	for _, node := range g.order {
		for _, req := range g.deps[node] {
			if _, ok := g.deps[req]; !ok {
				return fmt.Errorf("node %q requires unknown node %q", node, req)
			}
		}
	}

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var stack []string

	var visit func(node string) error
	visit = func(node string) error {
		state[node] = onStack
		stack = append(stack, node)
		for _, req := range g.deps[node] {
			switch state[req] {
			case onStack:
				// Trim the stack down to where the cycle starts.
				i := 0
				for stack[i] != req {
					i++
				}
				cycle := append(append([]string(nil), stack[i:]...), req)
				return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
			case unvisited:
				if err := visit(req); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range g.order {
		if state[node] == unvisited {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}

// Roots returns the nodes with no prerequisites.
func (g *Graph) Roots() []string {
	var roots []string
	for _, node := range g.order {
		if len(g.deps[node]) == 0 {
			roots = append(roots, node)
		}
	}
	return roots
}

// Levels partitions the graph into topological waves: every node of a wave
// depends only on nodes of earlier waves, so nodes within a wave can run
// concurrently. Fails if the graph does not validate.
func (g *Graph) Levels() ([][]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(g.order))
	var depthOf func(node string) int
	depthOf = func(node string) int {
		if d, ok := depth[node]; ok {
			return d
		}
		d := 0
		for _, req := range g.deps[node] {
			if rd := depthOf(req) + 1; rd > d {
				d = rd
			}
		}
		depth[node] = d
		return d
	}

	max := 0
	for _, node := range g.order {
		if d := depthOf(node); d > max {
			max = d
		}
	}
	levels := make([][]string, max+1)
	for _, node := range g.order {
		levels[depth[node]] = append(levels[depth[node]], node)
	}
	return levels, nil
}

// Ready returns the nodes outside done whose prerequisites are all in done,
// in insertion order.
func (g *Graph) Ready(done map[string]bool) []string {
	var ready []string
	for _, node := range g.order {
		if done[node] {
			continue
		}
		ok := true
		for _, req := range g.deps[node] {
			if !done[req] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, node)
		}
	}
	return ready
}

// Dependents returns every node that transitively requires the given node,
// in insertion order.
func (g *Graph) Dependents(node string) []string {
	reached := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for _, d := range g.rdeps[n] {
			if !reached[d] {
				reached[d] = true
				walk(d)
			}
		}
	}
	walk(node)

	var out []string
	for _, n := range g.order {
		if reached[n] {
			out = append(out, n)
		}
	}
	return out
}
