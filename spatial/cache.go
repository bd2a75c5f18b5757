package spatial

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultCacheTTL        = 100 * time.Millisecond
	DefaultCacheMaxEntries = 1000

	// Query positions are rounded to this grid when building cache keys, so
	// near-identical repeated queries from behavior systems share an entry.
	cacheGridSize = 0.5
)

// ResultCache memoizes recent query results keyed by shape and layer mask.
// Entries expire after a short TTL, and any structural index change flushes
// the whole cache: coarse invalidation traded for simplicity over tracking
// per-shape/per-node overlap.
//
// The cache lives on the simulation goroutine and is not safe for concurrent
// use; its counters are published through the stats collector.
type ResultCache struct {
	TTL        time.Duration
	MaxEntries int

	// Test seam.
	now func() time.Time

	entries      map[uint64]*cacheEntry
	indexVersion uint64
	hits         uint64
	misses       uint64
}

type cacheEntry struct {
	hits     []Hit
	storedAt time.Time
}

func NewResultCache() *ResultCache {
	return &ResultCache{
		TTL:        DefaultCacheTTL,
		MaxEntries: DefaultCacheMaxEntries,
		now:        time.Now,
		entries:    make(map[uint64]*cacheEntry),
	}
}

// Lookup returns the cached result for the key, provided the index version
// still matches and the entry is younger than the TTL.
func (c *ResultCache) Lookup(key uint64, indexVersion uint64) ([]Hit, bool) {
	c.syncVersion(indexVersion)

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if c.now().Sub(entry.storedAt) > c.TTL {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	out := make([]Hit, len(entry.hits))
	copy(out, entry.hits)
	return out, true
}

func (c *ResultCache) Store(key uint64, hits []Hit, indexVersion uint64) {
	c.syncVersion(indexVersion)

	if len(c.entries) >= c.MaxEntries {
		c.evict()
	}

	stored := make([]Hit, len(hits))
	copy(stored, hits)
	c.entries[key] = &cacheEntry{
		hits:     stored,
		storedAt: c.now(),
	}
}

// InvalidateAll drops every entry. Counters survive.
func (c *ResultCache) InvalidateAll() {
	c.entries = make(map[uint64]*cacheEntry)
}

func (c *ResultCache) syncVersion(indexVersion uint64) {
	if indexVersion == c.indexVersion {
		return
	}
	c.indexVersion = indexVersion
	c.InvalidateAll()
}

// evict drops expired entries first, then the oldest ones until the cache is
// back under its limit.
func (c *ResultCache) evict() {
	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.TTL {
			delete(c.entries, key)
		}
	}

	for len(c.entries) >= c.MaxEntries {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.storedAt.Before(oldest) {
				oldestKey = key
				oldest = entry.storedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}
}

func (c *ResultCache) Len() int {
	return len(c.entries)
}

// Counters returns the cumulative hit and miss counts.
func (c *ResultCache) Counters() (hits, misses uint64) {
	return c.hits, c.misses
}

func (c *ResultCache) HitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return (float64)(c.hits) / (float64)(total)
}

const (
	shapeKindSphere byte = iota + 1
	shapeKindBox
	shapeKindFrustum
)

// keyWriter hashes shape parameters into a cache key. Coordinates are
// quantized to the coarse grid; directional components keep fine precision so
// distinct frustums never share a key.
type keyWriter struct {
	d   xxhash.Digest
	buf [8]byte
}

func newKeyWriter(kind byte, mask Layer) *keyWriter {
	w := &keyWriter{}
	w.d.Reset()
	w.buf[0] = kind
	w.d.Write(w.buf[:1])
	binary.LittleEndian.PutUint32(w.buf[:4], (uint32)(mask))
	w.d.Write(w.buf[:4])
	return w
}

func (w *keyWriter) writeQuantized(v float32, scale float64) {
	q := (int64)(math.Round((float64)(v) * scale))
	binary.LittleEndian.PutUint64(w.buf[:8], (uint64)(q))
	w.d.Write(w.buf[:8])
}

func (w *keyWriter) writeCoarse(v Vector3f) {
	w.writeQuantized(v.X, 1/cacheGridSize)
	w.writeQuantized(v.Y, 1/cacheGridSize)
	w.writeQuantized(v.Z, 1/cacheGridSize)
}

func (w *keyWriter) writeFine(v float32) {
	w.writeQuantized(v, 1024)
}

func (w *keyWriter) sum() uint64 {
	return w.d.Sum64()
}

func sphereKey(center Vector3f, radius float32, mask Layer) uint64 {
	w := newKeyWriter(shapeKindSphere, mask)
	w.writeCoarse(center)
	w.writeQuantized(radius, 1/cacheGridSize)
	return w.sum()
}

func boxKey(box Box, mask Layer) uint64 {
	w := newKeyWriter(shapeKindBox, mask)
	w.writeCoarse(box.Min)
	w.writeCoarse(box.Max)
	return w.sum()
}

func frustumKey(f *Frustum, mask Layer) uint64 {
	w := newKeyWriter(shapeKindFrustum, mask)
	for _, p := range f.Planes {
		w.writeFine(p.Normal.X)
		w.writeFine(p.Normal.Y)
		w.writeFine(p.Normal.Z)
		w.writeQuantized(p.D, 1/cacheGridSize)
	}
	w.writeCoarse(f.Origin)
	return w.sum()
}
