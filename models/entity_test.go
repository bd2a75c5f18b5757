package models

import (
	"testing"

	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/stretchr/testify/require"
)

func TestEntityTransform(t *testing.T) {
	e := &Entity{
		ID:      1,
		Spatial: spatial.NewDescriptor(DefaultEntityRadius, spatial.BehaviorStatic),
	}

	transform := Transform{
		Position: spatial.NewVector3f(1, 2, 3),
		Rotation: IdentityRotation(),
	}
	e.SetTransform(transform)
	require.Equal(t, transform, e.Transform())
}

func TestEntitySetPosition(t *testing.T) {
	e := &Entity{
		ID:      1,
		Spatial: spatial.NewDescriptor(DefaultEntityRadius, spatial.BehaviorStatic),
	}
	e.SetTransform(Transform{Rotation: IdentityRotation()})

	p := spatial.NewVector3f(4, 5, 6)
	e.SetPosition(p)

	require.Equal(t, p, e.Position())
	require.Equal(t, IdentityRotation(), e.Transform().Rotation)
}

func TestEntityToWire(t *testing.T) {
	d := spatial.NewDescriptor(2, spatial.BehaviorDynamic)
	d.Layer = spatial.LayerCreatures

	e := &Entity{
		ID:      7,
		Persist: true,
		Spatial: d,
	}
	e.SetPosition(spatial.NewVector3f(1, 2, 3))

	info := e.ToWire()
	require.Equal(t, uint32(7), info.EntityID)
	require.Equal(t, wire.Vec3{X: 1, Y: 2, Z: 3}, info.Position)
	require.Equal(t, float32(2), info.Radius)
	require.Equal(t, uint32(spatial.LayerCreatures), info.Layer)
	require.Equal(t, "creatures", info.LayerNames)
	require.Equal(t, "dynamic", info.Behavior)
	require.True(t, info.Persist)
}

func TestEntitiesToWire(t *testing.T) {
	entities := []*Entity{
		{ID: 1, Spatial: spatial.NewDescriptor(1, spatial.BehaviorStatic)},
		{ID: 2, Spatial: spatial.NewDescriptor(1, spatial.BehaviorDynamic)},
	}

	infos := EntitiesToWire(entities)
	require.Len(t, infos, 2)
	require.Equal(t, uint32(1), infos[0].EntityID)
	require.Equal(t, uint32(2), infos[1].EntityID)
}

func TestVecConversions(t *testing.T) {
	v := spatial.NewVector3f(1.5, -2, 42)
	require.Equal(t, v, SpatialVec(WireVec(v)))
}
