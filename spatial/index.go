package spatial

// Hit is a single query result: an entity and its distance from the query
// origin, measured with the entity's true position even when the entity is
// indexed clamped to world bounds.
type Hit struct {
	ID       EntityID
	Distance float32
}

// Partition is the contract implemented by the spatial index. Search results
// are deduplicated but unordered; ordering, caching and instrumentation are
// the query engine's job.
type Partition interface {
	// Inserts an entity at the given position. Inserting an id that is
	// already indexed is a caller contract violation and fails; use Relocate.
	Insert(id EntityID, position Vector3f, radius float32, layer Layer) error

	// Removes an entity. Removing an unknown id is a no-op; the returned
	// bool reports whether anything was removed.
	Remove(id EntityID) bool

	// Moves an entity. A no-op while the position stays inside the current
	// node bounds. Relocating an unknown id fails.
	Relocate(id EntityID, position Vector3f) error

	// Replaces the entity layer mask used for query filtering.
	SetLayer(id EntityID, layer Layer) bool

	// Tears the tree down and re-inserts every known entity at its current
	// position. Collapses subdivisions left behind by removals.
	Rebuild()

	Contains(id EntityID) bool
	Len() int
	PositionOf(id EntityID) (Vector3f, bool)
	WorldBounds() Box

	// Version increments on every structural mutation. Consumers use it to
	// detect staleness.
	Version() uint64

	SearchSphere(center Vector3f, radius float32, mask Layer) []Hit
	SearchBox(box Box, mask Layer) []Hit
	SearchFrustum(frustum *Frustum, mask Layer) []Hit
	SearchRay(ray Ray, maxDistance float32, mask Layer) (Hit, bool)

	DebugInfo() DebugInfo
	Entries() []EntryInfo
}

// DebugInfo is a point-in-time summary of the index shape.
type DebugInfo struct {
	WorldBounds   Box
	NodeCount     int
	LeafCount     int
	EntityCount   int
	OutOfBounds   int
	MaxDepthInUse int
	Version       uint64
	Rebuilds      uint64
}

// EntryInfo describes one indexed entity, as reported to debugging clients.
type EntryInfo struct {
	ID          EntityID
	Position    Vector3f
	Radius      float32
	Layer       Layer
	Depth       int
	OutOfBounds bool
}
