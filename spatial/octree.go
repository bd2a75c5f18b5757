package spatial

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const (
	// Error types returned on caller contract violations.
	ErrTypeAlreadyIndexed = "already_indexed"
	ErrTypeNotIndexed     = "not_indexed"
)

// Octree is the primary spatial index: a fixed-bounds hierarchical volume
// subdivision holding entity ids at its leaves.
//
// Entities whose position falls outside the world bounds are never silently
// dropped: they are kept in an explicit out-of-bounds set that every search
// scans exactly, so they remain visible to queries at their true position.
//
// All methods must be called from the simulation goroutine. Asynchronous
// actors go through the command queue.
type Octree struct {
	// Panic on invariant violations instead of rebuilding. Wired to the
	// STRICT_INVARIANTS feature flag.
	Strict bool

	cfg    WorldConfig
	bounds Box
	root   *octreeNode

	entries map[EntityID]*octreeEntry
	oob     map[EntityID]*octreeEntry

	version  uint64
	rebuilds uint64

	// Copied callable resolving current entity positions. Lazy subdivision
	// is the only deferred use; the copy keeps it valid past the call that
	// supplied it.
	resolve ResolveFunc
}

type octreeEntry struct {
	id     EntityID
	pos    Vector3f // true position, even when out of bounds
	radius float32
	layer  Layer

	// Last-known node, short-circuits removal. Nil while out of bounds.
	node *octreeNode
}

type octreeNode struct {
	bounds   Box
	depth    int
	parent   *octreeNode
	children *[8]*octreeNode
	entries  []*octreeEntry
}

func (n *octreeNode) isLeaf() bool {
	return n.children == nil
}

func NewOctree(cfg WorldConfig) *Octree {
	bounds := cfg.Bounds()
	return &Octree{
		cfg:     cfg,
		bounds:  bounds,
		root:    &octreeNode{bounds: bounds},
		entries: make(map[EntityID]*octreeEntry),
		oob:     make(map[EntityID]*octreeEntry),
	}
}

// Connect supplies the position resolver. It must be called once after
// construction, before the first insertion; the callable is stored by value.
func (o *Octree) Connect(resolve ResolveFunc) {
	o.resolve = resolve
}

func (o *Octree) WorldBounds() Box {
	return o.bounds
}

// SmallestNodeSize is the edge length of a fully subdivided node, floored by
// the configured minimum. Ray traversal derives its sub-step from it.
func (o *Octree) SmallestNodeSize() float32 {
	size := o.bounds.Size()
	min := size.X
	if size.Y < min {
		min = size.Y
	}
	if size.Z < min {
		min = size.Z
	}
	smallest := min / (float32)(int(1)<<o.cfg.MaxDepth)
	if smallest < o.cfg.MinNodeSize {
		smallest = o.cfg.MinNodeSize
	}
	return smallest
}

func (o *Octree) Insert(id EntityID, position Vector3f, radius float32, layer Layer) error {
	if _, ok := o.entries[id]; ok {
		return errors.New("entity is already indexed").
			WithType(ErrTypeAlreadyIndexed).
			WithTag("entity_id", id)
	}

	entry := &octreeEntry{
		id:     id,
		pos:    position,
		radius: radius,
		layer:  layer,
	}
	o.entries[id] = entry
	o.place(entry)
	o.version++
	return nil
}

func (o *Octree) Remove(id EntityID) bool {
	entry, ok := o.entries[id]
	if !ok {
		return false
	}

	delete(o.entries, id)
	o.detach(entry)
	o.version++
	return true
}

func (o *Octree) Relocate(id EntityID, position Vector3f) error {
	entry, ok := o.entries[id]
	if !ok {
		return errors.New("entity is not indexed").
			WithType(ErrTypeNotIndexed).
			WithTag("entity_id", id)
	}

	entry.pos = position

	if entry.node != nil && entry.node.bounds.Contains(position) {
		// Still inside the current leaf. Not a structural change.
		return nil
	}

	if o.detach(entry) {
		o.place(entry)
	}
	o.version++
	return nil
}

func (o *Octree) SetLayer(id EntityID, layer Layer) bool {
	entry, ok := o.entries[id]
	if !ok {
		return false
	}
	if entry.layer == layer {
		return true
	}
	entry.layer = layer
	// Filtered query results change, so cached ones must not survive.
	o.version++
	return true
}

func (o *Octree) Contains(id EntityID) bool {
	_, ok := o.entries[id]
	return ok
}

func (o *Octree) Len() int {
	return len(o.entries)
}

func (o *Octree) Version() uint64 {
	return o.version
}

// Rebuild tears the tree down and re-inserts every entity at its current
// resolved position. This is also where subdivisions emptied by removals
// collapse; removal itself never collapses to avoid boundary thrashing.
func (o *Octree) Rebuild() {
	o.root = &octreeNode{bounds: o.bounds}
	for id := range o.oob {
		delete(o.oob, id)
	}

	for id, entry := range o.entries {
		if o.resolve != nil {
			pos, ok := o.resolve(id)
			if !ok {
				// Implicit despawn, same as during subdivision.
				delete(o.entries, id)
				logs.WithTag("entity_id", id).
					Debug("dropping unresolvable entity during rebuild")
				continue
			}
			entry.pos = pos
		}
		entry.node = nil
		o.place(entry)
	}
	o.version++
	o.rebuilds++
	instrumentRebuild()
}

// PositionOf returns the position the index currently holds for id. The
// synchronizer diffs it against the resolved position to skip relocations
// below its displacement threshold.
func (o *Octree) PositionOf(id EntityID) (Vector3f, bool) {
	entry, ok := o.entries[id]
	if !ok {
		return Vector3f{}, false
	}
	return entry.pos, true
}

// place routes an entry either into the tree or, when its position is outside
// world bounds, into the explicit out-of-bounds set.
func (o *Octree) place(entry *octreeEntry) {
	if !o.bounds.Contains(entry.pos) {
		entry.node = nil
		o.oob[entry.id] = entry
		return
	}
	o.insertAt(o.root, entry, entry.pos)
}

func (o *Octree) insertAt(node *octreeNode, entry *octreeEntry, pos Vector3f) {
	for {
		if !node.isLeaf() {
			node = node.children[childIndex(node.bounds.Center(), pos)]
			continue
		}

		if len(node.entries) < o.cfg.NodeCapacity || node.depth >= o.cfg.MaxDepth {
			node.entries = append(node.entries, entry)
			entry.node = node
			return
		}

		o.subdivide(node)
	}
}

// subdivide materializes the eight children and redistributes the direct
// entries. Positions are re-resolved through the stored resolver: they may
// have drifted since insertion, and a stale snapshot would route entries into
// the wrong child.
func (o *Octree) subdivide(node *octreeNode) {
	center := node.bounds.Center()

	var children [8]*octreeNode
	for i := range children {
		children[i] = &octreeNode{
			bounds: childBounds(node.bounds, center, i),
			depth:  node.depth + 1,
			parent: node,
		}
	}
	node.children = &children

	pending := node.entries
	node.entries = nil

	if o.resolve == nil {
		// Wiring bug, not index corruption: Connect was skipped. Strict mode
		// is loud about it; otherwise redistribute from stored positions.
		instrumentInvariantViolation("subdivision without resolver")
		if o.Strict {
			panic(errors.New("octree subdivision without a connected resolver"))
		}
		logs.Error(errors.New("octree subdividing without a connected resolver, using stored positions"))
	}

	for _, entry := range pending {
		pos := entry.pos
		if o.resolve != nil {
			current, ok := o.resolve(entry.id)
			if !ok {
				// The store no longer answers for this entity: implicit
				// despawn.
				delete(o.entries, entry.id)
				logs.WithTag("entity_id", entry.id).
					Debug("dropping unresolvable entity during subdivision")
				continue
			}
			entry.pos = current
			pos = current
		}

		if !node.bounds.Contains(pos) {
			// Drifted out of this subtree since insertion.
			entry.node = nil
			o.place(entry)
			continue
		}

		child := children[childIndex(center, pos)]
		child.entries = append(child.entries, entry)
		entry.node = child
	}
}

// childIndex selects the child volume containing pos. Positions exactly on a
// split plane go to the upper child: each child volume includes its lower
// bounds, so repeated insert/remove cycles of a boundary position are
// deterministic.
func childIndex(center, pos Vector3f) int {
	i := 0
	if pos.X >= center.X {
		i |= 1
	}
	if pos.Y >= center.Y {
		i |= 2
	}
	if pos.Z >= center.Z {
		i |= 4
	}
	return i
}

func childBounds(parent Box, center Vector3f, i int) Box {
	min := parent.Min
	max := center
	if i&1 != 0 {
		min.X = center.X
		max.X = parent.Max.X
	}
	if i&2 != 0 {
		min.Y = center.Y
		max.Y = parent.Max.Y
	}
	if i&4 != 0 {
		min.Z = center.Z
		max.Z = parent.Max.Z
	}
	return Box{Min: min, Max: max}
}

// detach unlinks an entry from its current location without touching the
// entries map. It returns false when the unlink failed and recovery already
// re-placed whatever the entries map still holds; callers must then skip
// their own re-placement.
func (o *Octree) detach(entry *octreeEntry) bool {
	if entry.node == nil {
		delete(o.oob, entry.id)
		return true
	}

	node := entry.node
	entry.node = nil

	for i, e := range node.entries {
		if e == entry {
			last := len(node.entries) - 1
			node.entries[i] = node.entries[last]
			node.entries[last] = nil
			node.entries = node.entries[:last]
			return true
		}
	}

	o.failInvariant("entity missing from its cached node")
	return false
}

// failInvariant reports a broken internal invariant. Strict mode makes it
// loud; otherwise the index recovers with a full rebuild and the simulation
// carries on.
func (o *Octree) failInvariant(reason string) {
	instrumentInvariantViolation(reason)

	if o.Strict {
		panic(errors.New("octree invariant violated").WithTag("reason", reason))
	}

	logs.WithTag("reason", reason).
		Error(errors.New("octree invariant violated, rebuilding"))
	o.Rebuild()
}

func (o *Octree) SearchSphere(center Vector3f, radius float32, mask Layer) []Hit {
	test := func(e *octreeEntry) (float32, bool) {
		// Sum-of-radii sphere overlap against the true position.
		reach := radius + e.radius
		if DistanceSq(center, e.pos) > reach*reach {
			return 0, false
		}
		return (float32)(Distance(center, e.pos)), true
	}

	if o.bounds.InSphere(center, radius) {
		return o.linearScan(mask, test)
	}

	var hits []Hit
	seen := make(map[EntityID]struct{})
	o.walk(o.root, func(n *octreeNode) bool {
		return n.bounds.OverlapsSphere(center, radius)
	}, func(e *octreeEntry) {
		collect(&hits, seen, e, mask, test)
	})
	o.scanOutOfBounds(&hits, seen, mask, test)
	return hits
}

func (o *Octree) SearchBox(box Box, mask Layer) []Hit {
	center := box.Center()
	test := func(e *octreeEntry) (float32, bool) {
		if !box.OverlapsSphere(e.pos, e.radius) {
			return 0, false
		}
		return (float32)(Distance(center, e.pos)), true
	}

	if box.ContainsBox(o.bounds) {
		return o.linearScan(mask, test)
	}

	var hits []Hit
	seen := make(map[EntityID]struct{})
	o.walk(o.root, func(n *octreeNode) bool {
		return n.bounds.Overlaps(box)
	}, func(e *octreeEntry) {
		collect(&hits, seen, e, mask, test)
	})
	o.scanOutOfBounds(&hits, seen, mask, test)
	return hits
}

func (o *Octree) SearchFrustum(frustum *Frustum, mask Layer) []Hit {
	test := func(e *octreeEntry) (float32, bool) {
		if !frustum.ContainsSphere(e.pos, e.radius) {
			return 0, false
		}
		return (float32)(Distance(frustum.Origin, e.pos)), true
	}

	if frustum.ContainsBox(o.bounds) {
		return o.linearScan(mask, test)
	}

	var hits []Hit
	seen := make(map[EntityID]struct{})
	o.walk(o.root, func(n *octreeNode) bool {
		return frustum.IntersectsBox(n.bounds)
	}, func(e *octreeEntry) {
		collect(&hits, seen, e, mask, test)
	})
	o.scanOutOfBounds(&hits, seen, mask, test)
	return hits
}

// SearchRay steps along the ray, visiting each leaf the ray passes through
// and testing its entities with an exact ray-sphere intersection. The
// sub-step is half the smallest node size, so no leaf on the path is skipped.
func (o *Octree) SearchRay(ray Ray, maxDistance float32, mask Layer) (Hit, bool) {
	if maxDistance <= 0 {
		return Hit{}, false
	}

	best := Hit{Distance: (float32)(math.Inf(1))}
	found := false

	testEntry := func(e *octreeEntry) {
		if !e.layer.Matches(mask) {
			return
		}
		t, ok := ray.IntersectSphere(e.pos, e.radius)
		if !ok || t > maxDistance {
			return
		}
		if t < best.Distance {
			best = Hit{ID: e.id, Distance: t}
			found = true
		}
	}

	step := o.SmallestNodeSize() / 2
	visited := make(map[*octreeNode]struct{})

	for t := (float32)(0); t <= maxDistance; t += step {
		p := ray.Point(t)
		if !o.bounds.Contains(p) {
			continue
		}

		leaf := o.leafAt(p)
		if leaf == nil {
			continue
		}
		if _, ok := visited[leaf]; ok {
			continue
		}
		visited[leaf] = struct{}{}

		for _, e := range leaf.entries {
			testEntry(e)
		}
	}

	for _, e := range o.oob {
		testEntry(e)
	}

	if !found {
		return Hit{}, false
	}
	return best, true
}

func (o *Octree) leafAt(p Vector3f) *octreeNode {
	node := o.root
	for !node.isLeaf() {
		child := node.children[childIndex(node.bounds.Center(), p)]
		if child == nil {
			o.failInvariant("subdivided node with a missing child")
			return nil
		}
		node = child
	}
	return node
}

func (o *Octree) walk(node *octreeNode, prune func(*octreeNode) bool, visit func(*octreeEntry)) {
	if !prune(node) {
		return
	}
	if node.isLeaf() {
		for _, e := range node.entries {
			visit(e)
		}
		return
	}
	for _, child := range node.children {
		o.walk(child, prune, visit)
	}
}

func collect(hits *[]Hit, seen map[EntityID]struct{}, e *octreeEntry, mask Layer, test func(*octreeEntry) (float32, bool)) {
	if !e.layer.Matches(mask) {
		return
	}
	if _, ok := seen[e.id]; ok {
		return
	}
	dist, ok := test(e)
	if !ok {
		return
	}
	seen[e.id] = struct{}{}
	*hits = append(*hits, Hit{ID: e.id, Distance: dist})
}

func (o *Octree) scanOutOfBounds(hits *[]Hit, seen map[EntityID]struct{}, mask Layer, test func(*octreeEntry) (float32, bool)) {
	for _, e := range o.oob {
		collect(hits, seen, e, mask, test)
	}
}

// linearScan is the fast path for query shapes that fully contain the world
// bounds: enumerating every leaf would visit the whole tree anyway.
func (o *Octree) linearScan(mask Layer, test func(*octreeEntry) (float32, bool)) []Hit {
	hits := make([]Hit, 0, len(o.entries))
	for _, e := range o.entries {
		if !e.layer.Matches(mask) {
			continue
		}
		dist, ok := test(e)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: e.id, Distance: dist})
	}
	return hits
}

func (o *Octree) DebugInfo() DebugInfo {
	info := DebugInfo{
		WorldBounds: o.bounds,
		EntityCount: len(o.entries),
		OutOfBounds: len(o.oob),
		Version:     o.version,
		Rebuilds:    o.rebuilds,
	}

	var count func(n *octreeNode)
	count = func(n *octreeNode) {
		info.NodeCount++
		if n.depth > info.MaxDepthInUse {
			info.MaxDepthInUse = n.depth
		}
		if n.isLeaf() {
			info.LeafCount++
			return
		}
		for _, child := range n.children {
			count(child)
		}
	}
	count(o.root)

	return info
}

func (o *Octree) Entries() []EntryInfo {
	infos := make([]EntryInfo, 0, len(o.entries))
	for _, e := range o.entries {
		info := EntryInfo{
			ID:       e.id,
			Position: e.pos,
			Radius:   e.radius,
			Layer:    e.layer,
			Depth:    -1,
		}
		if e.node != nil {
			info.Depth = e.node.depth
		} else {
			info.OutOfBounds = true
		}
		infos = append(infos, info)
	}
	return infos
}
