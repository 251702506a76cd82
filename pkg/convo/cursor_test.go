package convo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_SaveLoad(t *testing.T) {
	l, _ := setupLog(t)

	cursor := Cursor{
		Iterations: 3,
		Accumulator: Accumulator{
			Content:   "partial answer",
			ToolCalls: []ToolCallRecord{{ID: "t1", Name: "lookup"}},
			Outputs:   map[string]any{"summary": "wip"},
		},
	}
	require.NoError(t, l.SaveCursor("sess-1", cursor))

	loaded, err := l.LoadCursor("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Iterations)
	assert.Equal(t, "partial answer", loaded.Accumulator.Content)
	assert.Len(t, loaded.Accumulator.ToolCalls, 1)
	assert.False(t, loaded.Zero())
}

func TestCursor_MissingIsZero(t *testing.T) {
	l, _ := setupLog(t)

	cursor, err := l.LoadCursor("never-seen")
	require.NoError(t, err)
	assert.True(t, cursor.Zero())
}

func TestCursor_Reset(t *testing.T) {
	l, _ := setupLog(t)

	require.NoError(t, l.SaveCursor("sess-1", Cursor{Iterations: 7, Accumulator: Accumulator{Content: "x"}}))
	require.NoError(t, l.ResetCursor("sess-1"))

	loaded, err := l.LoadCursor("sess-1")
	require.NoError(t, err)
	assert.True(t, loaded.Zero())
}

func TestCursor_ResetDoesNotTouchLog(t *testing.T) {
	l, dir := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "history"}))
	before, err := os.ReadFile(filepath.Join(dir, "sess-1.jsonl"))
	require.NoError(t, err)

	require.NoError(t, l.SaveCursor("sess-1", Cursor{Iterations: 4}))
	require.NoError(t, l.ResetCursor("sess-1"))

	after, err := os.ReadFile(filepath.Join(dir, "sess-1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCursor_CorruptTreatedAsZero(t *testing.T) {
	l, dir := setupLog(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sess-1.cursor.json"), []byte("{broken"), 0600))

	cursor, err := l.LoadCursor("sess-1")
	require.NoError(t, err)
	assert.True(t, cursor.Zero())
}

func TestAccumulator_Empty(t *testing.T) {
	assert.True(t, Accumulator{}.Empty())
	assert.False(t, Accumulator{Content: "x"}.Empty())
	assert.False(t, Accumulator{ToolCalls: []ToolCallRecord{{ID: "1"}}}.Empty())
	assert.False(t, Accumulator{Outputs: map[string]any{"k": "v"}}.Empty())
}
