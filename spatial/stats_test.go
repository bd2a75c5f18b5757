package spatial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatsRecordQuery(t *testing.T) {
	stats := NewStats()

	stats.RecordQuery(QueryRadius, 10*time.Microsecond, 5, false)
	stats.RecordQuery(QueryRegion, 20*time.Microsecond, 3, true)

	snap := stats.Snapshot()
	require.Equal(t, uint64(2), snap.TotalQueries)
	require.Equal(t, uint64(8), snap.TotalResults)
	require.Equal(t, 20*time.Microsecond, snap.LastQueryTime)

	t.Run("average follows an exponential moving average", func(t *testing.T) {
		// First sample seeds the average, the second folds in with the
		// smoothing factor: 0.1*20us + 0.9*10us.
		require.InDelta(t, float64(11*time.Microsecond), float64(snap.AverageQueryTime), 1)
	})
}

func TestStatsFrameRollover(t *testing.T) {
	stats := NewStats()

	stats.RecordQuery(QueryRadius, time.Microsecond, 2, false)
	stats.RecordQuery(QueryRadius, time.Microsecond, 1, true)
	stats.RecordSync(SyncResult{Tracked: 7, Relocated: 3})

	snap := stats.Snapshot()
	require.Zero(t, snap.LastFrame.Queries)

	stats.EndFrame()
	snap = stats.Snapshot()
	require.Equal(t, uint64(1), snap.Frame)
	require.Equal(t, 2, snap.LastFrame.Queries)
	require.Equal(t, 3, snap.LastFrame.Results)
	require.Equal(t, 1, snap.LastFrame.CacheHits)
	require.Equal(t, 7, snap.LastFrame.Sync.Tracked)

	t.Run("next frame starts from zero", func(t *testing.T) {
		stats.EndFrame()
		snap := stats.Snapshot()
		require.Equal(t, uint64(2), snap.Frame)
		require.Zero(t, snap.LastFrame.Queries)

		// Cumulative counters survive the rollover.
		require.Equal(t, uint64(2), snap.TotalQueries)
	})
}

func TestStatsCacheView(t *testing.T) {
	stats := NewStats()

	stats.RecordCache(3, 1, 12)
	snap := stats.Snapshot()
	require.Equal(t, uint64(3), snap.CacheHits)
	require.Equal(t, uint64(1), snap.CacheMisses)
	require.Equal(t, 0.75, snap.CacheHitRate)
	require.Equal(t, 12, snap.CacheSize)

	t.Run("no traffic means zero rate", func(t *testing.T) {
		require.Zero(t, NewStats().Snapshot().CacheHitRate)
	})
}

func TestStatsIndexView(t *testing.T) {
	stats := NewStats()

	info := DebugInfo{NodeCount: 9, LeafCount: 8, EntityCount: 40, MaxDepthInUse: 2, Version: 41}
	stats.RecordIndex(info)

	require.Equal(t, info, stats.Snapshot().Index)
}
