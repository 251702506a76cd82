// Package graph models the workflow graph an agent executes: named nodes,
// directed edges, and the entry points external triggers attach to.
package graph

import (
	"fmt"
	"strings"
)

// EntryKind distinguishes the always-present primary entry point from
// event-triggered async entry points.
type EntryKind string

const (
	EntryPrimary EntryKind = "primary"
	EntryAsync   EntryKind = "async"
)

// EntryPoint is a named start node of the graph: a node with no incoming
// edges. Async entry points declare the memory keys they are allowed to
// consume when triggered.
type EntryPoint struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	InputKeys []string  `json:"input_keys,omitempty"`
}

// Metadata is graph-level configuration that must survive any
// rematerialization verbatim: losing it silently breaks conversation
// continuity and trigger routing downstream.
type Metadata struct {
	ConversationMode string       `json:"conversation_mode"`
	IdentityPrompt   string       `json:"identity_prompt"`
	AsyncEntryPoints []EntryPoint `json:"async_entry_points,omitempty"`
}

// Node is one unit of work in the graph.
type Node struct {
	ID              string   `json:"id"`
	Prompt          string   `json:"prompt"`
	RequiredOutputs []string `json:"required_outputs,omitempty"`
	MaxIterations   int      `json:"max_iterations,omitempty"`
}

// Graph is a mutable builder for workflow graphs. Build it from a single
// goroutine, validate, then share.
type Graph struct {
	nodes    map[string]Node
	order    []string
	edges    map[string][]string
	primary  string
	metadata Metadata
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		edges: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Returns the graph for chaining.
// Panics on builder misuse: empty or whitespace IDs and duplicates are
// programming errors, not runtime conditions.
func (g *Graph) AddNode(node Node) *Graph {
	if node.ID == "" {
		panic("graph: node ID cannot be empty")
	}
	if strings.ContainsAny(node.ID, " \t\n\r") {
		panic("graph: node ID cannot contain whitespace")
	}
	if _, exists := g.nodes[node.ID]; exists {
		panic(fmt.Sprintf("graph: duplicate node ID: %s", node.ID))
	}

	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return g
}

// AddEdge adds a directed edge. Edge validation happens in Validate, so
// edges may be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// SetPrimaryEntry designates the primary entry point node.
func (g *Graph) SetPrimaryEntry(id string) *Graph {
	g.primary = id
	return g
}

// AddAsyncEntry declares an async entry point with the memory keys it may
// consume on trigger. The node itself must exist and have no incoming edges
// (checked by Validate).
func (g *Graph) AddAsyncEntry(id string, inputKeys ...string) *Graph {
	g.metadata.AsyncEntryPoints = append(g.metadata.AsyncEntryPoints, EntryPoint{
		ID:        id,
		Kind:      EntryAsync,
		InputKeys: inputKeys,
	})
	return g
}

// SetMetadata replaces the conversation mode and identity prompt. Async
// entry declarations made via AddAsyncEntry are preserved.
func (g *Graph) SetMetadata(conversationMode, identityPrompt string) *Graph {
	g.metadata.ConversationMode = conversationMode
	g.metadata.IdentityPrompt = identityPrompt
	return g
}

// Metadata returns a copy of the graph-level metadata.
func (g *Graph) Metadata() Metadata {
	return copyMetadata(g.metadata)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Successors returns the targets of a node's outgoing edges, in insertion
// order.
func (g *Graph) Successors(id string) []string {
	out := make([]string, len(g.edges[id]))
	copy(out, g.edges[id])
	return out
}

// PrimaryEntry returns the primary entry point.
func (g *Graph) PrimaryEntry() EntryPoint {
	return EntryPoint{ID: g.primary, Kind: EntryPrimary}
}

// EntryPoint resolves an entry point by ID, primary or async.
func (g *Graph) EntryPoint(id string) (EntryPoint, bool) {
	if id == g.primary {
		return EntryPoint{ID: g.primary, Kind: EntryPrimary}, true
	}
	for _, ep := range g.metadata.AsyncEntryPoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// EntryPoints returns the primary entry followed by the declared async
// entries.
func (g *Graph) EntryPoints() []EntryPoint {
	out := []EntryPoint{{ID: g.primary, Kind: EntryPrimary}}
	out = append(out, copyEntryPoints(g.metadata.AsyncEntryPoints)...)
	return out
}

func (g *Graph) inDegrees() map[string]int {
	in := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		in[id] = 0
	}
	for _, targets := range g.edges {
		for _, to := range targets {
			in[to]++
		}
	}
	return in
}

func copyMetadata(m Metadata) Metadata {
	return Metadata{
		ConversationMode: m.ConversationMode,
		IdentityPrompt:   m.IdentityPrompt,
		AsyncEntryPoints: copyEntryPoints(m.AsyncEntryPoints),
	}
}

func copyEntryPoints(eps []EntryPoint) []EntryPoint {
	if eps == nil {
		return nil
	}
	out := make([]EntryPoint, len(eps))
	for i, ep := range eps {
		out[i] = EntryPoint{ID: ep.ID, Kind: ep.Kind, InputKeys: append([]string(nil), ep.InputKeys...)}
	}
	return out
}
