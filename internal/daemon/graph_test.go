package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivehq/hive/internal/config"
)

func TestBuildGraph(t *testing.T) {
	cfg := config.AgentConfig{
		Nodes: []config.NodeConfig{
			{ID: "intake", Prompt: "Qualify the lead.", RequiredOutputs: []string{"lead"}, MaxIterations: 5},
			{ID: "research", Prompt: "Research the lead."},
			{ID: "on_new_lead", Prompt: "Summarize the new lead."},
		},
		Edges:            []config.EdgeConfig{{From: "intake", To: "research"}},
		PrimaryEntry:     "intake",
		AsyncEntries:     []config.AsyncEntryConfig{{ID: "on_new_lead", InputKeys: []string{"lead"}}},
		ConversationMode: "shared",
		IdentityPrompt:   "You are a diligent assistant.",
	}

	g, err := BuildGraph(cfg)
	require.NoError(t, err)

	node, ok := g.Node("intake")
	require.True(t, ok)
	assert.Equal(t, []string{"lead"}, node.RequiredOutputs)
	assert.Equal(t, 5, node.MaxIterations)

	assert.Equal(t, []string{"research"}, g.Successors("intake"))
	assert.Equal(t, "intake", g.PrimaryEntry().ID)

	entry, ok := g.EntryPoint("on_new_lead")
	require.True(t, ok)
	assert.Equal(t, []string{"lead"}, entry.InputKeys)

	meta := g.Metadata()
	assert.Equal(t, "shared", meta.ConversationMode)
	assert.Equal(t, "You are a diligent assistant.", meta.IdentityPrompt)
}

func TestBuildGraphInvalid(t *testing.T) {
	cfg := config.AgentConfig{
		Nodes:        []config.NodeConfig{{ID: "intake"}, {ID: "orphan"}},
		Edges:        []config.EdgeConfig{{From: "intake", To: "intake"}},
		PrimaryEntry: "intake",
	}

	_, err := BuildGraph(cfg)
	assert.Error(t, err)
}
