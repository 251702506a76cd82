package daemon

import (
	"github.com/hivehq/hive/internal/config"
	"github.com/hivehq/hive/pkg/graph"
)

// BuildGraph converts the configured agent definition into a validated
// workflow graph.
func BuildGraph(cfg config.AgentConfig) (*graph.Graph, error) {
	g := graph.New()

	for _, node := range cfg.Nodes {
		g.AddNode(graph.Node{
			ID:              node.ID,
			Prompt:          node.Prompt,
			RequiredOutputs: node.RequiredOutputs,
			MaxIterations:   node.MaxIterations,
		})
	}
	for _, edge := range cfg.Edges {
		g.AddEdge(edge.From, edge.To)
	}

	g.SetPrimaryEntry(cfg.PrimaryEntry)
	for _, entry := range cfg.AsyncEntries {
		g.AddAsyncEntry(entry.ID, entry.InputKeys...)
	}
	g.SetMetadata(cfg.ConversationMode, cfg.IdentityPrompt)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
