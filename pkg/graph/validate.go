package graph

import "fmt"

// ValidationError describes why a graph is not runnable.
type ValidationError struct {
	Unreachable []string
	Problems    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed: %d problem(s), %d unreachable node(s)", len(e.Problems), len(e.Unreachable))
}

// Validate checks structural integrity. Reachability is seeded from EVERY
// node with no incoming edges, not only the primary entry: an agent with
// one primary and N async entry points must not report the other N entries
// as unreachable.
func (g *Graph) Validate() error {
	var problems []string

	if g.primary == "" {
		problems = append(problems, "no primary entry point set")
	} else if _, ok := g.nodes[g.primary]; !ok {
		problems = append(problems, fmt.Sprintf("primary entry %q is not a node", g.primary))
	}

	in := g.inDegrees()

	for _, targets := range g.edges {
		for _, to := range targets {
			if _, ok := g.nodes[to]; !ok {
				problems = append(problems, fmt.Sprintf("edge targets unknown node %q", to))
			}
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			problems = append(problems, fmt.Sprintf("edge from unknown node %q", from))
		}
	}

	if g.primary != "" {
		if deg, ok := in[g.primary]; ok && deg > 0 {
			problems = append(problems, fmt.Sprintf("primary entry %q has incoming edges", g.primary))
		}
	}
	for _, ep := range g.metadata.AsyncEntryPoints {
		if _, ok := g.nodes[ep.ID]; !ok {
			problems = append(problems, fmt.Sprintf("async entry %q is not a node", ep.ID))
			continue
		}
		if in[ep.ID] > 0 {
			problems = append(problems, fmt.Sprintf("async entry %q has incoming edges", ep.ID))
		}
	}

	// Seed from every zero-in-degree node: each is a valid entry candidate.
	visited := make(map[string]bool, len(g.nodes))
	var stack []string
	for _, id := range g.order {
		if in[id] == 0 {
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, to := range g.edges[id] {
			if !visited[to] {
				stack = append(stack, to)
			}
		}
	}

	var unreachable []string
	for _, id := range g.order {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}

	if len(problems) > 0 || len(unreachable) > 0 {
		return &ValidationError{Unreachable: unreachable, Problems: problems}
	}
	return nil
}
