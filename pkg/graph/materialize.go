package graph

import "fmt"

// Materialize builds the effective graph for one execution: the subgraph
// reachable from the chosen entry point. Graph-level metadata is copied
// verbatim - the materialized graph must answer metadata queries exactly as
// the source graph would, or conversation continuity and trigger routing
// break for the execution running it.
func (g *Graph) Materialize(entryID string) (*Graph, error) {
	if _, ok := g.EntryPoint(entryID); !ok {
		return nil, fmt.Errorf("unknown entry point: %q", entryID)
	}
	if _, ok := g.nodes[entryID]; !ok {
		return nil, fmt.Errorf("entry point %q is not a node", entryID)
	}

	reachable := make(map[string]bool)
	stack := []string{entryID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		for _, to := range g.edges[id] {
			if !reachable[to] {
				stack = append(stack, to)
			}
		}
	}

	eff := New()
	for _, id := range g.order {
		if reachable[id] {
			eff.AddNode(g.nodes[id])
		}
	}
	for _, from := range g.order {
		if !reachable[from] {
			continue
		}
		for _, to := range g.edges[from] {
			if reachable[to] {
				eff.AddEdge(from, to)
			}
		}
	}

	eff.primary = g.primary
	eff.metadata = copyMetadata(g.metadata)
	return eff, nil
}
