package spatial

import (
	"sync"
	"time"
)

// QueryKind labels a query operation in statistics and metrics.
type QueryKind string

const (
	QueryRadius  QueryKind = "radius"
	QueryRegion  QueryKind = "region"
	QueryFrustum QueryKind = "frustum"
	QueryRay     QueryKind = "ray"
	QueryNearest QueryKind = "nearest"
)

// statsAlpha is the exponential moving average factor for query times. Small
// enough to smooth frame noise, large enough to follow load changes within a
// few dozen queries.
const statsAlpha = 0.1

// SyncResult summarizes one synchronizer pass.
type SyncResult struct {
	// Descriptors visited.
	Tracked int

	// First-seen entities inserted into the index.
	Added int

	// Entities whose position was re-resolved.
	Updated int

	// Relocations issued to the index.
	Relocated int

	// Implicit despawns after resolver failures.
	Removed int

	Duration time.Duration
}

// FrameStats is the per-frame rolling view: counters accumulated since the
// previous frame boundary.
type FrameStats struct {
	Queries   int
	Results   int
	CacheHits int
	Sync      SyncResult
}

// StatsSnapshot is a value copy of all collected statistics, safe to hold
// across frames.
type StatsSnapshot struct {
	Frame            uint64
	TotalQueries     uint64
	TotalResults     uint64
	AverageQueryTime time.Duration
	LastQueryTime    time.Duration
	CacheHits        uint64
	CacheMisses      uint64
	CacheHitRate     float64
	CacheSize        int
	Index            DebugInfo
	LastFrame        FrameStats
}

// Stats aggregates measurements from the query engine, the synchronizer, the
// index and the result cache. Producers record on the simulation goroutine;
// snapshots can be taken from any goroutine.
type Stats struct {
	mutex sync.Mutex

	frame        uint64
	totalQueries uint64
	totalResults uint64

	// EMA over nanoseconds.
	avgQueryTime  float64
	lastQueryTime time.Duration

	cacheHits   uint64
	cacheMisses uint64
	cacheSize   int

	index DebugInfo

	current   FrameStats
	lastFrame FrameStats
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) RecordQuery(kind QueryKind, d time.Duration, results int, cacheHit bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.totalQueries++
	s.totalResults += uint64(results)
	s.lastQueryTime = d

	if s.avgQueryTime == 0 {
		s.avgQueryTime = float64(d)
	} else {
		s.avgQueryTime = statsAlpha*float64(d) + (1-statsAlpha)*s.avgQueryTime
	}

	s.current.Queries++
	s.current.Results += results
	if cacheHit {
		s.current.CacheHits++
	}

	instrumentQuery(kind, d, results, cacheHit)
}

func (s *Stats) RecordSync(res SyncResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.current.Sync = res
	instrumentSync(res)
}

func (s *Stats) RecordIndex(info DebugInfo) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.index = info
	instrumentIndex(info)
}

func (s *Stats) RecordCache(hits, misses uint64, size int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cacheHits = hits
	s.cacheMisses = misses
	s.cacheSize = size
	instrumentCache(size)
}

// EndFrame closes the rolling view: the counters accumulated since the last
// boundary become the last-frame view and accumulation restarts.
func (s *Stats) EndFrame() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastFrame = s.current
	s.current = FrameStats{}
	s.frame++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snap := StatsSnapshot{
		Frame:            s.frame,
		TotalQueries:     s.totalQueries,
		TotalResults:     s.totalResults,
		AverageQueryTime: time.Duration(s.avgQueryTime),
		LastQueryTime:    s.lastQueryTime,
		CacheHits:        s.cacheHits,
		CacheMisses:      s.cacheMisses,
		CacheSize:        s.cacheSize,
		Index:            s.index,
		LastFrame:        s.lastFrame,
	}
	if total := s.cacheHits + s.cacheMisses; total != 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(total)
	}
	return snap
}
