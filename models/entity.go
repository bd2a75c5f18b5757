package models

import (
	"sync"

	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/eihwaz/wire"
)

// DefaultEntityRadius is the bounding radius given to entities spawned
// without one.
const DefaultEntityRadius = 0.5

// Entity is a simulated object tracked by the scene. The transform is
// mutex-guarded so serving goroutines can read it while the simulation
// writes; the spatial descriptor is only ever touched on the simulation
// goroutine.
type Entity struct {
	ID       spatial.EntityID
	ClientID string
	Persist  bool

	Spatial *spatial.Descriptor

	mutex     sync.RWMutex
	transform Transform
}

func (e *Entity) SetTransform(v Transform) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.transform = v
}

func (e *Entity) Transform() Transform {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.transform
}

func (e *Entity) SetPosition(p spatial.Vector3f) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.transform.Position = p
}

func (e *Entity) Position() spatial.Vector3f {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.transform.Position
}

// ToWire reports the entity fields the entity knows by itself. Index
// placement (depth, out of bounds) is patched in by the scene.
func (e *Entity) ToWire() wire.EntityInfo {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return wire.EntityInfo{
		EntityID:   uint32(e.ID),
		Position:   WireVec(e.transform.Position),
		Radius:     e.Spatial.BoundingRadius,
		Layer:      uint32(e.Spatial.Layer),
		LayerNames: e.Spatial.Layer.String(),
		Behavior:   e.Spatial.Behavior.String(),
		Persist:    e.Persist,
	}
}

func EntitiesToWire(entities []*Entity) []wire.EntityInfo {
	infos := make([]wire.EntityInfo, len(entities))
	for i, e := range entities {
		infos[i] = e.ToWire()
	}
	return infos
}

// Transform is an entity position and orientation in world space.
type Transform struct {
	Position spatial.Vector3f
	Rotation Quaternion
}

type Quaternion struct {
	X float32
	Y float32
	Z float32
	W float32
}

func IdentityRotation() Quaternion {
	return Quaternion{W: 1}
}

func WireVec(v spatial.Vector3f) wire.Vec3 {
	return wire.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func SpatialVec(v wire.Vec3) spatial.Vector3f {
	return spatial.Vector3f{X: v.X, Y: v.Y, Z: v.Z}
}
