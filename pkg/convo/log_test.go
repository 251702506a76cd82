package convo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLog(t *testing.T) (*Log, string) {
	tempDir := t.TempDir()
	l, err := NewLog(tempDir)
	require.NoError(t, err)
	return l, tempDir
}

func TestLog_AppendLoad(t *testing.T) {
	l, _ := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "hello"}))
	require.NoError(t, l.Append("sess-1", Message{Role: "assistant", Content: "hi"}))

	entries, err := l.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Message.Role)
	assert.Equal(t, "hi", entries[1].Message.Content)
	assert.False(t, entries[0].Message.Timestamp.IsZero())
}

func TestLog_LoadMissingSession(t *testing.T) {
	l, _ := setupLog(t)

	entries, err := l.Load("missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_AppendValidation(t *testing.T) {
	l, _ := setupLog(t)

	assert.Error(t, l.Append("sess-1", Message{Content: "no role"}))
	assert.Error(t, l.Append("sess-1", Message{Role: "user"}))
	assert.Error(t, l.Append("../evil", Message{Role: "user", Content: "x"}))

	// Tool calls without content are a valid turn
	assert.NoError(t, l.Append("sess-1", Message{
		Role:      "assistant",
		ToolCalls: []ToolCallRecord{{ID: "t1", Name: "search"}},
	}))
}

func TestLog_SkipsCorruptLines(t *testing.T) {
	l, dir := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "one"}))

	path := filepath.Join(dir, "sess-1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, l.Append("sess-1", Message{Role: "assistant", Content: "two"}))

	entries, err := l.Load("sess-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLog_Repair(t *testing.T) {
	l, dir := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "keep"}))

	path := filepath.Join(dir, "sess-1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("garbage\n")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, l.Repair("sess-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "garbage")

	entries, err := l.Load("sess-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLog_Checkpoints(t *testing.T) {
	l, _ := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "before"}))
	require.NoError(t, l.AppendCheckpoint("sess-1", "phase-two"))
	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "after"}))

	all, err := l.LoadFrom("sess-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tail, err := l.LoadFrom("sess-1", "phase-two")
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "after", tail[0].Message.Content)

	// Unknown checkpoint replays from offset zero
	full, err := l.LoadFrom("sess-1", "phase-nine")
	require.NoError(t, err)
	assert.Len(t, full, 3)
}

func TestLog_TransitionMarker(t *testing.T) {
	l, _ := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "history"}))
	require.NoError(t, l.AppendTransitionMarker(nil, "sess-1", "on_new_lead"))

	entries, err := l.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	marker := entries[1].Message
	assert.Equal(t, "system", marker.Role)
	assert.Equal(t, "on_new_lead", marker.Metadata[MetaTransition])
}

func TestLog_Delete(t *testing.T) {
	l, dir := setupLog(t)

	require.NoError(t, l.Append("sess-1", Message{Role: "user", Content: "x"}))
	require.NoError(t, l.SaveCursor("sess-1", Cursor{Iterations: 2}))
	require.NoError(t, l.Delete("sess-1"))

	_, err := os.Stat(filepath.Join(dir, "sess-1.jsonl"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "sess-1.cursor.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLog_List(t *testing.T) {
	l, _ := setupLog(t)

	require.NoError(t, l.Append("a", Message{Role: "user", Content: "x"}))
	require.NoError(t, l.Append("b", Message{Role: "user", Content: "y"}))

	ids, err := l.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
