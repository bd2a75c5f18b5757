package spatial

import (
	"fmt"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

type posMap map[EntityID]Vector3f

func (m posMap) resolve(id EntityID) (Vector3f, bool) {
	p, ok := m[id]
	return p, ok
}

func newTestOctree() (*Octree, posMap) {
	positions := make(posMap)
	octree := NewOctree(TestWorld())
	octree.Connect(positions.resolve)
	return octree, positions
}

func (m posMap) insert(t *testing.T, o *Octree, id EntityID, pos Vector3f, radius float32, layer Layer) {
	t.Helper()
	m[id] = pos
	require.NoError(t, o.Insert(id, pos, radius, layer))
}

func TestOctreeInsert(t *testing.T) {
	octree, positions := newTestOctree()

	t.Run("insert indexes the entity", func(t *testing.T) {
		positions.insert(t, octree, 1, Vector3f{X: 1, Y: 2, Z: 3}, 0.5, LayerCreatures)
		require.True(t, octree.Contains(1))
		require.Equal(t, 1, octree.Len())

		pos, ok := octree.PositionOf(1)
		require.True(t, ok)
		require.True(t, pos.Equal(Vector3f{X: 1, Y: 2, Z: 3}))
	})

	t.Run("inserting a known id fails", func(t *testing.T) {
		err := octree.Insert(1, Vector3f{}, 0.5, LayerCreatures)
		require.Error(t, err)
		require.Equal(t, ErrTypeAlreadyIndexed, errors.Type(err))
	})

	t.Run("insert bumps the version", func(t *testing.T) {
		before := octree.Version()
		positions.insert(t, octree, 2, Vector3f{X: -1, Y: 0, Z: 0}, 0.5, LayerCreatures)
		require.Equal(t, before+1, octree.Version())
	})
}

func TestOctreeInsertOutOfBounds(t *testing.T) {
	octree, positions := newTestOctree()

	// TestWorld spans -30..30 on every axis.
	positions.insert(t, octree, 1, Vector3f{X: 100, Y: 0, Z: 0}, 1, LayerCreatures)

	require.True(t, octree.Contains(1))
	require.Equal(t, 1, octree.Len())
	require.Equal(t, 1, octree.DebugInfo().OutOfBounds)

	t.Run("queries still see the entity at its true position", func(t *testing.T) {
		hits := octree.SearchSphere(Vector3f{X: 100, Y: 0, Z: 0}, 1, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(1), hits[0].ID)
		require.Zero(t, hits[0].Distance)
	})

	t.Run("reported entry is flagged", func(t *testing.T) {
		entries := octree.Entries()
		require.Len(t, entries, 1)
		require.True(t, entries[0].OutOfBounds)
		require.Equal(t, -1, entries[0].Depth)
	})
}

func TestOctreeRemove(t *testing.T) {
	octree, positions := newTestOctree()
	positions.insert(t, octree, 1, Vector3f{X: 1, Y: 1, Z: 1}, 0.5, LayerCreatures)

	t.Run("remove forgets the entity", func(t *testing.T) {
		require.True(t, octree.Remove(1))
		require.False(t, octree.Contains(1))
		require.Zero(t, octree.Len())
		require.Empty(t, octree.SearchSphere(Vector3f{X: 1, Y: 1, Z: 1}, 5, LayerAll))
	})

	t.Run("removing an unknown id reports false", func(t *testing.T) {
		require.False(t, octree.Remove(404))
	})
}

func TestOctreeRemoveKeepsSubdivisions(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 2

	positions := make(posMap)
	octree := NewOctree(cfg)
	octree.Connect(positions.resolve)

	for i := EntityID(1); i <= 8; i++ {
		positions.insert(t, octree, i, Vector3f{X: float32(i), Y: 0, Z: 0}, 0.5, LayerCreatures)
	}

	subdivided := octree.DebugInfo().NodeCount
	require.Greater(t, subdivided, 1)

	for i := EntityID(1); i <= 8; i++ {
		require.True(t, octree.Remove(i))
	}

	// Empty subdivisions survive removal and only collapse on rebuild.
	require.Equal(t, subdivided, octree.DebugInfo().NodeCount)

	octree.Rebuild()
	require.Equal(t, 1, octree.DebugInfo().NodeCount)
}

func TestOctreeRelocate(t *testing.T) {
	octree, positions := newTestOctree()
	positions.insert(t, octree, 1, Vector3f{X: -20, Y: -20, Z: -20}, 0.5, LayerCreatures)

	t.Run("relocating an unknown id fails", func(t *testing.T) {
		err := octree.Relocate(404, Vector3f{})
		require.Error(t, err)
		require.Equal(t, ErrTypeNotIndexed, errors.Type(err))
	})

	t.Run("move across the world", func(t *testing.T) {
		target := Vector3f{X: 20, Y: 20, Z: 20}
		positions[1] = target
		require.NoError(t, octree.Relocate(1, target))

		hits := octree.SearchSphere(target, 1, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(1), hits[0].ID)
		require.Empty(t, octree.SearchSphere(Vector3f{X: -20, Y: -20, Z: -20}, 1, LayerAll))
	})

	t.Run("move inside the current node bounds keeps the version", func(t *testing.T) {
		// The tree is a single leaf spanning the whole world here, so any
		// in-bounds move stays within node bounds.
		before := octree.Version()
		target := Vector3f{X: 19, Y: 20, Z: 20}
		positions[1] = target
		require.NoError(t, octree.Relocate(1, target))
		require.Equal(t, before, octree.Version())

		hits := octree.SearchSphere(target, 0.1, LayerAll)
		require.Len(t, hits, 1)
	})

	t.Run("move out of bounds and back", func(t *testing.T) {
		out := Vector3f{X: 500, Y: 0, Z: 0}
		positions[1] = out
		require.NoError(t, octree.Relocate(1, out))
		require.Equal(t, 1, octree.DebugInfo().OutOfBounds)

		hits := octree.SearchSphere(out, 1, LayerAll)
		require.Len(t, hits, 1)

		back := Vector3f{X: 0, Y: 0, Z: 0}
		positions[1] = back
		require.NoError(t, octree.Relocate(1, back))
		require.Zero(t, octree.DebugInfo().OutOfBounds)

		hits = octree.SearchSphere(back, 1, LayerAll)
		require.Len(t, hits, 1)
	})
}

func TestOctreeRelocateIdempotent(t *testing.T) {
	octree, positions := newTestOctree()
	pos := Vector3f{X: 5, Y: 5, Z: 5}
	positions.insert(t, octree, 1, pos, 0.5, LayerCreatures)

	info := octree.DebugInfo()
	for i := 0; i < 3; i++ {
		require.NoError(t, octree.Relocate(1, pos))
	}

	require.Equal(t, info, octree.DebugInfo())
	hits := octree.SearchSphere(pos, 1, LayerAll)
	require.Len(t, hits, 1)
}

func TestOctreeSetLayer(t *testing.T) {
	octree, positions := newTestOctree()
	positions.insert(t, octree, 1, Vector3f{X: 1, Y: 1, Z: 1}, 0.5, LayerCreatures)

	require.False(t, octree.SetLayer(404, LayerItems))

	before := octree.Version()
	require.True(t, octree.SetLayer(1, LayerItems))
	require.Equal(t, before+1, octree.Version())

	require.Empty(t, octree.SearchSphere(Vector3f{X: 1, Y: 1, Z: 1}, 5, LayerCreatures))
	require.Len(t, octree.SearchSphere(Vector3f{X: 1, Y: 1, Z: 1}, 5, LayerItems), 1)

	t.Run("same layer keeps the version", func(t *testing.T) {
		before := octree.Version()
		require.True(t, octree.SetLayer(1, LayerItems))
		require.Equal(t, before, octree.Version())
	})
}

func TestOctreeSubdivision(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 4

	positions := make(posMap)
	octree := NewOctree(cfg)
	octree.Connect(positions.resolve)

	for i := EntityID(1); i <= 5; i++ {
		positions.insert(t, octree, i, Vector3f{X: float32(i) * 2, Y: 3, Z: -4}, 0.5, LayerCreatures)
	}

	info := octree.DebugInfo()
	require.Greater(t, info.NodeCount, 1)
	require.Greater(t, info.MaxDepthInUse, 0)
	require.Equal(t, 5, info.EntityCount)

	for i := EntityID(1); i <= 5; i++ {
		hits := octree.SearchSphere(Vector3f{X: float32(i) * 2, Y: 3, Z: -4}, 0.1, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, i, hits[0].ID)
	}
}

func TestOctreeSubdivisionResolvesDrift(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 4

	positions := make(posMap)
	octree := NewOctree(cfg)
	octree.Connect(positions.resolve)

	for i := EntityID(1); i <= 4; i++ {
		positions.insert(t, octree, i, Vector3f{X: -10, Y: -10, Z: -10}, 0.5, LayerCreatures)
	}

	// Drift entity 1 without telling the index, then trigger a subdivision.
	// Redistribution must route it by its resolved position, not the stale
	// snapshot.
	drifted := Vector3f{X: 15, Y: 15, Z: 15}
	positions[1] = drifted
	positions.insert(t, octree, 5, Vector3f{X: -10, Y: -10, Z: -9}, 0.5, LayerCreatures)

	hits := octree.SearchSphere(drifted, 0.1, LayerAll)
	require.Len(t, hits, 1)
	require.Equal(t, EntityID(1), hits[0].ID)
}

func TestOctreeSubdivisionDropsUnresolvable(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 4

	positions := make(posMap)
	octree := NewOctree(cfg)
	octree.Connect(positions.resolve)

	for i := EntityID(1); i <= 4; i++ {
		positions.insert(t, octree, i, Vector3f{X: float32(i), Y: 0, Z: 0}, 0.5, LayerCreatures)
	}

	// Forget entity 2, then overflow the leaf.
	delete(positions, 2)
	positions.insert(t, octree, 5, Vector3f{X: 5, Y: 0, Z: 0}, 0.5, LayerCreatures)

	require.False(t, octree.Contains(2))
	require.Equal(t, 4, octree.Len())
}

func TestOctreeSubdivisionWithoutResolver(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 2

	t.Run("strict mode panics", func(t *testing.T) {
		octree := NewOctree(cfg)
		octree.Strict = true

		require.NoError(t, octree.Insert(1, Vector3f{X: 1, Y: 0, Z: 0}, 0.5, LayerAll))
		require.NoError(t, octree.Insert(2, Vector3f{X: 2, Y: 0, Z: 0}, 0.5, LayerAll))
		require.Panics(t, func() {
			_ = octree.Insert(3, Vector3f{X: 3, Y: 0, Z: 0}, 0.5, LayerAll)
		})
	})

	t.Run("default mode redistributes from stored positions", func(t *testing.T) {
		octree := NewOctree(cfg)

		require.NoError(t, octree.Insert(1, Vector3f{X: 1, Y: 0, Z: 0}, 0.5, LayerAll))
		require.NoError(t, octree.Insert(2, Vector3f{X: 2, Y: 0, Z: 0}, 0.5, LayerAll))
		require.NoError(t, octree.Insert(3, Vector3f{X: 3, Y: 0, Z: 0}, 0.5, LayerAll))

		require.Equal(t, 3, octree.Len())
		require.Len(t, octree.SearchSphere(Vector3f{X: 2, Y: 0, Z: 0}, 2, LayerAll), 3)
	})
}

func TestOctreeBoundaryDeterminism(t *testing.T) {
	cfg := TestWorld()
	cfg.NodeCapacity = 2

	positions := make(posMap)
	octree := NewOctree(cfg)
	octree.Connect(positions.resolve)

	// Subdivide the root so the world center is a real split plane.
	positions.insert(t, octree, 10, Vector3f{X: -10, Y: -10, Z: -10}, 0.5, LayerAll)
	positions.insert(t, octree, 11, Vector3f{X: 10, Y: 10, Z: 10}, 0.5, LayerAll)
	positions.insert(t, octree, 12, Vector3f{X: 10, Y: -10, Z: 10}, 0.5, LayerAll)

	center := octree.WorldBounds().Center()

	var depth int
	for i := 0; i < 5; i++ {
		positions[1] = center
		require.NoError(t, octree.Insert(1, center, 0.5, LayerAll))

		entries := octree.Entries()
		var found *EntryInfo
		for j := range entries {
			if entries[j].ID == 1 {
				found = &entries[j]
			}
		}
		require.NotNil(t, found)
		if i == 0 {
			depth = found.Depth
		} else {
			// A position exactly on a split plane lands in the same child
			// on every insert/remove cycle.
			require.Equal(t, depth, found.Depth)
		}

		hits := octree.SearchSphere(center, 0.1, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(1), hits[0].ID)

		require.True(t, octree.Remove(1))
		delete(positions, 1)
	}
}

func TestOctreeChildIndexOnSplitPlane(t *testing.T) {
	center := Vector3f{X: 0, Y: 0, Z: 0}

	// Exact split plane positions go to the upper child on each axis.
	require.Equal(t, 7, childIndex(center, center))
	require.Equal(t, 1, childIndex(center, Vector3f{X: 0, Y: -1, Z: -1}))
	require.Equal(t, 2, childIndex(center, Vector3f{X: -1, Y: 0, Z: -1}))
	require.Equal(t, 4, childIndex(center, Vector3f{X: -1, Y: -1, Z: 0}))
	require.Equal(t, 0, childIndex(center, Vector3f{X: -1, Y: -1, Z: -1}))
}

func TestOctreeRebuild(t *testing.T) {
	octree, positions := newTestOctree()

	for i := EntityID(1); i <= 20; i++ {
		positions.insert(t, octree, i, Vector3f{X: float32(i) - 10, Y: float32(i % 5), Z: -float32(i % 7)}, 0.5, LayerCreatures)
	}
	positions.insert(t, octree, 21, Vector3f{X: 200, Y: 0, Z: 0}, 1, LayerItems)

	before := octree.SearchSphere(Vector3f{}, 1000, LayerAll)
	sortHits(before)

	octree.Rebuild()

	after := octree.SearchSphere(Vector3f{}, 1000, LayerAll)
	sortHits(after)

	require.Equal(t, before, after)
	require.Equal(t, 1, octree.DebugInfo().OutOfBounds)
	require.Equal(t, uint64(1), octree.DebugInfo().Rebuilds)

	t.Run("rebuild drops unresolvable entities", func(t *testing.T) {
		delete(positions, 7)
		octree.Rebuild()
		require.False(t, octree.Contains(7))
		require.Equal(t, 20, octree.Len())
	})

	t.Run("rebuild picks up drifted positions", func(t *testing.T) {
		positions[3] = Vector3f{X: -25, Y: 25, Z: 25}
		octree.Rebuild()

		hits := octree.SearchSphere(Vector3f{X: -25, Y: 25, Z: 25}, 0.1, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(3), hits[0].ID)
	})
}

func TestOctreeSearchSphere(t *testing.T) {
	octree, positions := newTestOctree()

	positions.insert(t, octree, 1, Vector3f{X: 0, Y: 0, Z: 0}, 1, LayerCreatures)
	positions.insert(t, octree, 2, Vector3f{X: 5, Y: 0, Z: 0}, 1, LayerItems)
	positions.insert(t, octree, 3, Vector3f{X: 20, Y: 0, Z: 0}, 1, LayerCreatures)

	t.Run("an entity at the query center is always a hit", func(t *testing.T) {
		hits := octree.SearchSphere(Vector3f{}, 0, LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(1), hits[0].ID)
		require.Zero(t, hits[0].Distance)
	})

	t.Run("entity radius extends the reach", func(t *testing.T) {
		// Center distance 5, entity radius 1: a radius 4.5 query overlaps.
		hits := octree.SearchSphere(Vector3f{}, 4.5, LayerItems)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(2), hits[0].ID)
	})

	t.Run("mask filters", func(t *testing.T) {
		hits := octree.SearchSphere(Vector3f{}, 100, LayerCreatures)
		require.Len(t, hits, 2)
		for _, h := range hits {
			require.NotEqual(t, EntityID(2), h.ID)
		}
	})

	t.Run("all-layer results contain filtered results", func(t *testing.T) {
		all := octree.SearchSphere(Vector3f{}, 100, LayerAll)
		filtered := octree.SearchSphere(Vector3f{}, 100, LayerItems)

		ids := make(map[EntityID]struct{})
		for _, h := range all {
			ids[h.ID] = struct{}{}
		}
		for _, h := range filtered {
			require.Contains(t, ids, h.ID)
		}
	})

	t.Run("empty mask yields no hits", func(t *testing.T) {
		require.Empty(t, octree.SearchSphere(Vector3f{}, 100, LayerNone))
	})

	t.Run("no overlap yields no hits", func(t *testing.T) {
		require.Empty(t, octree.SearchSphere(Vector3f{X: 0, Y: 25, Z: 0}, 2, LayerAll))
	})
}

func TestOctreeSearchBox(t *testing.T) {
	octree, positions := newTestOctree()

	positions.insert(t, octree, 1, Vector3f{X: 0, Y: 0, Z: 0}, 1, LayerCreatures)
	positions.insert(t, octree, 2, Vector3f{X: 10, Y: 10, Z: 10}, 1, LayerCreatures)
	positions.insert(t, octree, 3, Vector3f{X: 100, Y: 0, Z: 0}, 1, LayerCreatures)

	t.Run("region selects overlapping entities", func(t *testing.T) {
		hits := octree.SearchBox(NewBox(Vector3f{X: -5, Y: -5, Z: -5}, Vector3f{X: 5, Y: 5, Z: 5}), LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(1), hits[0].ID)
	})

	t.Run("a region covering the world sees everything including out of bounds", func(t *testing.T) {
		hits := octree.SearchBox(NewBox(Vector3f{X: -1000, Y: -1000, Z: -1000}, Vector3f{X: 1000, Y: 1000, Z: 1000}), LayerAll)
		require.Len(t, hits, 3)
	})

	t.Run("entity radius overlaps the region edge", func(t *testing.T) {
		hits := octree.SearchBox(NewBox(Vector3f{X: 10.5, Y: 9, Z: 9}, Vector3f{X: 12, Y: 11, Z: 11}), LayerAll)
		require.Len(t, hits, 1)
		require.Equal(t, EntityID(2), hits[0].ID)
	})
}

func TestOctreeSearchFrustum(t *testing.T) {
	octree, positions := newTestOctree()

	positions.insert(t, octree, 1, Vector3f{X: 0, Y: 0, Z: 5}, 1, LayerCreatures)
	positions.insert(t, octree, 2, Vector3f{X: 0, Y: 0, Z: -15}, 1, LayerCreatures)

	frustum := BoxFrustum(
		NewBox(Vector3f{X: -10, Y: -10, Z: 0}, Vector3f{X: 10, Y: 10, Z: 10}),
		Vector3f{X: 0, Y: 0, Z: -1},
	)

	hits := octree.SearchFrustum(frustum, LayerAll)
	require.Len(t, hits, 1)
	require.Equal(t, EntityID(1), hits[0].ID)

	t.Run("world-covering frustum sees everything", func(t *testing.T) {
		wide := BoxFrustum(
			NewBox(Vector3f{X: -1000, Y: -1000, Z: -1000}, Vector3f{X: 1000, Y: 1000, Z: 1000}),
			Vector3f{X: 0, Y: 0, Z: -1001},
		)
		hits := octree.SearchFrustum(wide, LayerAll)
		require.Len(t, hits, 2)
	})
}

func TestOctreeSearchRay(t *testing.T) {
	octree, positions := newTestOctree()

	positions.insert(t, octree, 1, Vector3f{X: 10, Y: 0, Z: 0}, 1, LayerCreatures)
	positions.insert(t, octree, 2, Vector3f{X: 20, Y: 0, Z: 0}, 1, LayerCreatures)
	positions.insert(t, octree, 3, Vector3f{X: 10, Y: 10, Z: 0}, 1, LayerItems)

	t.Run("nearest entity along the ray wins", func(t *testing.T) {
		ray := NewRay(Vector3f{}, Vector3f{X: 1, Y: 0, Z: 0})
		hit, ok := octree.SearchRay(ray, 100, LayerAll)
		require.True(t, ok)
		require.Equal(t, EntityID(1), hit.ID)
		require.InDelta(t, 9, hit.Distance, 1e-3)
	})

	t.Run("max distance bounds the ray", func(t *testing.T) {
		ray := NewRay(Vector3f{}, Vector3f{X: 1, Y: 0, Z: 0})
		_, ok := octree.SearchRay(ray, 5, LayerAll)
		require.False(t, ok)
	})

	t.Run("mask filters the ray", func(t *testing.T) {
		ray := NewRay(Vector3f{}, Vector3f{X: 1, Y: 0, Z: 0})
		_, ok := octree.SearchRay(ray, 100, LayerItems)
		require.False(t, ok)
	})

	t.Run("ray starting outside the world still hits", func(t *testing.T) {
		ray := NewRay(Vector3f{X: -100, Y: 0, Z: 0}, Vector3f{X: 1, Y: 0, Z: 0})
		hit, ok := octree.SearchRay(ray, 300, LayerCreatures)
		require.True(t, ok)
		require.Equal(t, EntityID(1), hit.ID)
	})

	t.Run("ray reaches out of bounds entities", func(t *testing.T) {
		positions.insert(t, octree, 4, Vector3f{X: 0, Y: 100, Z: 0}, 1, LayerCreatures)
		ray := NewRay(Vector3f{}, Vector3f{X: 0, Y: 1, Z: 0})
		hit, ok := octree.SearchRay(ray, 200, LayerCreatures)
		require.True(t, ok)
		require.Equal(t, EntityID(4), hit.ID)
	})

	t.Run("zero max distance finds nothing", func(t *testing.T) {
		ray := NewRay(Vector3f{}, Vector3f{X: 1, Y: 0, Z: 0})
		_, ok := octree.SearchRay(ray, 0, LayerAll)
		require.False(t, ok)
	})
}

func TestOctreeDense(t *testing.T) {
	octree, positions := newTestOctree()

	// A dense deterministic grid, 10x10x10 entities 5 apart, positions folded
	// into the 60-unit world.
	var id EntityID
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			for z := 0; z < 10; z++ {
				id++
				pos := Vector3f{
					X: float32(x)*5 - 25,
					Y: float32(y)*5 - 25,
					Z: float32(z)*5 - 25,
				}
				positions.insert(t, octree, id, pos, 0.25, LayerCreatures)
			}
		}
	}

	info := octree.DebugInfo()
	require.Equal(t, 1000, info.EntityCount)
	require.LessOrEqual(t, info.MaxDepthInUse, DefaultMaxDepth)
	require.Greater(t, info.NodeCount, 8)

	queries := []struct {
		center Vector3f
		radius float32
	}{
		{Vector3f{X: 0, Y: 0, Z: 0}, 6},
		{Vector3f{X: -25, Y: -25, Z: -25}, 3},
		{Vector3f{X: 12, Y: -7, Z: 3}, 10},
		{Vector3f{X: 29, Y: 29, Z: 29}, 8},
	}

	for i, q := range queries {
		t.Run(fmt.Sprintf("query %d matches a linear scan", i), func(t *testing.T) {
			hits := octree.SearchSphere(q.center, q.radius, LayerAll)

			want := make(map[EntityID]struct{})
			for id, pos := range positions {
				reach := q.radius + 0.25
				if DistanceSq(q.center, pos) <= reach*reach {
					want[id] = struct{}{}
				}
			}

			require.Len(t, hits, len(want))
			for _, h := range hits {
				require.Contains(t, want, h.ID)
			}
		})
	}
}
