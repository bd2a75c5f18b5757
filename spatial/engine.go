package spatial

import (
	"sort"
	"time"
)

// Querier is the read-only query surface handed to simulation consumers.
// Results are ordered nearest first and never alias internal storage.
type Querier interface {
	QueryRadius(center Vector3f, radius float32, mask Layer) []Hit
	QueryRegion(region Box, mask Layer) []Hit
	QueryFrustum(frustum *Frustum, mask Layer) []Hit
	QueryRay(ray Ray, maxDistance float32, mask Layer) (Hit, bool)
	QueryNearest(center Vector3f, count int, maxDistance float32, mask Layer) []Hit
}

// Engine executes queries against the index, consulting the result cache for
// the repeatable shapes and recording every call in the statistics collector.
// Ray and nearest queries bypass the cache: rays rarely repeat exactly and
// nearest-n is already a derived search.
type Engine struct {
	// Bypasses the result cache entirely. Wired to the DISABLE_QUERY_CACHE
	// feature flag.
	DisableCache bool

	index Partition
	cache *ResultCache
	stats *Stats
}

func NewEngine(index Partition, cache *ResultCache, stats *Stats) *Engine {
	return &Engine{
		index: index,
		cache: cache,
		stats: stats,
	}
}

func (e *Engine) QueryRadius(center Vector3f, radius float32, mask Layer) []Hit {
	start := time.Now()
	if radius < 0 {
		radius = 0
	}

	key := sphereKey(center, radius, mask)
	if hits, ok := e.lookup(key); ok {
		e.record(QueryRadius, start, len(hits), true)
		return hits
	}

	hits := e.index.SearchSphere(center, radius, mask)
	sortHits(hits)
	e.store(key, hits)
	e.record(QueryRadius, start, len(hits), false)
	return hits
}

func (e *Engine) QueryRegion(region Box, mask Layer) []Hit {
	start := time.Now()

	key := boxKey(region, mask)
	if hits, ok := e.lookup(key); ok {
		e.record(QueryRegion, start, len(hits), true)
		return hits
	}

	hits := e.index.SearchBox(region, mask)
	sortHits(hits)
	e.store(key, hits)
	e.record(QueryRegion, start, len(hits), false)
	return hits
}

func (e *Engine) QueryFrustum(frustum *Frustum, mask Layer) []Hit {
	start := time.Now()

	key := frustumKey(frustum, mask)
	if hits, ok := e.lookup(key); ok {
		e.record(QueryFrustum, start, len(hits), true)
		return hits
	}

	hits := e.index.SearchFrustum(frustum, mask)
	sortHits(hits)
	e.store(key, hits)
	e.record(QueryFrustum, start, len(hits), false)
	return hits
}

func (e *Engine) QueryRay(ray Ray, maxDistance float32, mask Layer) (Hit, bool) {
	start := time.Now()

	hit, ok := e.index.SearchRay(ray, maxDistance, mask)
	results := 0
	if ok {
		results = 1
	}
	e.record(QueryRay, start, results, false)
	return hit, ok
}

// QueryNearest returns up to count hits ordered by distance, none farther
// than maxDistance. The search expands a probe sphere geometrically instead
// of scanning the whole range, so dense neighborhoods resolve without
// touching distant subtrees.
func (e *Engine) QueryNearest(center Vector3f, count int, maxDistance float32, mask Layer) []Hit {
	start := time.Now()
	if count <= 0 || maxDistance <= 0 {
		e.record(QueryNearest, start, 0, false)
		return nil
	}

	radius := maxDistance / 8
	if radius <= 0 {
		radius = maxDistance
	}

	var hits []Hit
	for {
		hits = e.index.SearchSphere(center, radius, mask)
		if len(hits) >= count || radius >= maxDistance {
			break
		}
		radius *= 2
		if radius > maxDistance {
			radius = maxDistance
		}
	}

	// Sphere overlap includes entity radii, so trim hits whose center
	// distance exceeds the requested range.
	n := 0
	for _, h := range hits {
		if h.Distance <= maxDistance {
			hits[n] = h
			n++
		}
	}
	hits = hits[:n]

	sortHits(hits)
	if len(hits) > count {
		hits = hits[:count]
	}
	e.record(QueryNearest, start, len(hits), false)
	return hits
}

func (e *Engine) lookup(key uint64) ([]Hit, bool) {
	if e.DisableCache || e.cache == nil {
		return nil, false
	}
	return e.cache.Lookup(key, e.index.Version())
}

func (e *Engine) store(key uint64, hits []Hit) {
	if e.DisableCache || e.cache == nil {
		return
	}
	e.cache.Store(key, hits, e.index.Version())
}

func (e *Engine) record(kind QueryKind, start time.Time, results int, cacheHit bool) {
	if e.stats == nil {
		return
	}
	e.stats.RecordQuery(kind, time.Since(start), results, cacheHit)
}

// sortHits orders nearest first, ids breaking ties so equal-distance results
// are deterministic across runs.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}
