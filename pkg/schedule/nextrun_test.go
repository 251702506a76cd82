package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunAt(t *testing.T) {
	t.Run("valid RFC 3339 timestamp", func(t *testing.T) {
		nextRun, err := NextRun(Spec{
			Kind: ScheduleKindAt,
			At:   "2026-12-25T14:00:00Z",
		})
		require.NoError(t, err)

		expected := time.Date(2026, 12, 25, 14, 0, 0, 0, time.UTC).UnixMilli()
		assert.Equal(t, expected, nextRun)
	})

	t.Run("missing at field", func(t *testing.T) {
		_, err := NextRun(Spec{Kind: ScheduleKindAt})
		assert.Error(t, err)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		_, err := NextRun(Spec{Kind: ScheduleKindAt, At: "next tuesday"})
		assert.Error(t, err)
	})
}

func TestNextRunEvery(t *testing.T) {
	t.Run("without anchor", func(t *testing.T) {
		before := time.Now().UnixMilli()
		nextRun, err := NextRun(Spec{Kind: ScheduleKindEvery, EveryMs: 5000})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, nextRun, before+5000)
	})

	t.Run("with past anchor aligns to grid", func(t *testing.T) {
		anchor := time.Now().Add(-25 * time.Second).UnixMilli()
		nextRun, err := NextRun(Spec{
			Kind:     ScheduleKindEvery,
			EveryMs:  10_000,
			AnchorMs: &anchor,
		})
		require.NoError(t, err)

		assert.Zero(t, (nextRun-anchor)%10_000)
		assert.Greater(t, nextRun, time.Now().UnixMilli())
	})

	t.Run("future anchor is the next run", func(t *testing.T) {
		anchor := time.Now().Add(time.Minute).UnixMilli()
		nextRun, err := NextRun(Spec{
			Kind:     ScheduleKindEvery,
			EveryMs:  10_000,
			AnchorMs: &anchor,
		})
		require.NoError(t, err)
		assert.Equal(t, anchor, nextRun)
	})

	t.Run("non-positive interval", func(t *testing.T) {
		_, err := NextRun(Spec{Kind: ScheduleKindEvery})
		assert.Error(t, err)
	})
}

func TestNextRunCron(t *testing.T) {
	t.Run("five field expression", func(t *testing.T) {
		nextRun, err := NextRun(Spec{Kind: ScheduleKindCron, Expr: "0 9 * * *"})
		require.NoError(t, err)
		assert.Greater(t, nextRun, time.Now().UnixMilli())
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := NextRun(Spec{Kind: ScheduleKindCron, Expr: "not a cron"})
		assert.Error(t, err)
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := NextRun(Spec{Kind: ScheduleKindCron, Expr: "0 9 * * *", TZ: "Mars/Olympus"})
		assert.Error(t, err)
	})
}

func TestNextRunUnknownKind(t *testing.T) {
	_, err := NextRun(Spec{Kind: "bogus"})
	assert.Error(t, err)
}
